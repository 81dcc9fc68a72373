package schema

import (
	"testing"

	"cloud.google.com/go/bigquery"
)

func cols(pairs ...string) ([]Column, map[string]string) {
	var columns []Column
	types := make(map[string]string)
	for i := 0; i+1 < len(pairs); i += 2 {
		columns = append(columns, Column{Name: pairs[i], SourceType: pairs[i+1]})
		types[pairs[i]] = pairs[i+1]
	}
	return columns, types
}

func TestSelectTimestampFieldPriority(t *testing.T) {
	// updated_at outranks created_at regardless of column order.
	columns, types := cols(
		"id", "int(11)",
		"created_at", "datetime",
		"updated_at", "timestamp",
	)
	if got := selectTimestampField(columns, types); got != "updated_at" {
		t.Errorf("got %q, want updated_at", got)
	}
}

func TestSelectTimestampFieldFallsBackToFirstCandidate(t *testing.T) {
	columns, types := cols(
		"id", "int(11)",
		"shipped_time", "datetime",
		"billed_time", "datetime",
	)
	if got := selectTimestampField(columns, types); got != "shipped_time" {
		t.Errorf("got %q, want shipped_time (first candidate in ordinal order)", got)
	}
}

func TestSelectTimestampFieldIntegerUnixColumn(t *testing.T) {
	columns, types := cols(
		"id", "int(11)",
		"update_time", "int(11)",
	)
	if got := selectTimestampField(columns, types); got != "update_time" {
		t.Errorf("got %q, want update_time", got)
	}
}

func TestSelectTimestampFieldNone(t *testing.T) {
	// A datetime column without a timestamp-like name does not qualify,
	// nor does an integer column with only a weak name hint.
	columns, types := cols(
		"id", "int(11)",
		"name", "varchar(64)",
		"birth", "datetime",
		"date_code", "int(11)",
	)
	if got := selectTimestampField(columns, types); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

func TestIsTimestampCandidate(t *testing.T) {
	cases := []struct {
		name       string
		sourceType string
		want       bool
	}{
		{"updated_at", "timestamp", true},
		{"created_at", "datetime", true},
		{"update_time", "int(11)", true},
		{"order_date", "datetime", true},
		{"amount", "decimal(10,2)", false},
		{"time_zone", "varchar(32)", false}, // right name, wrong type
		{"id", "int(11)", false},
		{"date_code", "int(11)", false}, // "date" is not an integer hint
	}
	for _, c := range cases {
		if got := isTimestampCandidate(c.name, c.sourceType); got != c.want {
			t.Errorf("isTimestampCandidate(%q, %q) = %v, want %v", c.name, c.sourceType, got, c.want)
		}
	}
}

func TestBuildDestinationSchema(t *testing.T) {
	columns, _ := cols(
		"id", "int(11)",
		"name", "varchar(64)",
		"updated_at", "datetime",
	)
	sch := buildDestinationSchema(columns)

	if len(sch) != 6 {
		t.Fatalf("schema has %d fields, want 6", len(sch))
	}
	wantNames := []string{"id", "name", "updated_at", ColTenantID, ColSyncTimestamp, ColSyncMode}
	wantTypes := []bigquery.FieldType{
		bigquery.IntegerFieldType,
		bigquery.StringFieldType,
		bigquery.TimestampFieldType,
		bigquery.StringFieldType,
		bigquery.TimestampFieldType,
		bigquery.StringFieldType,
	}
	for i, field := range sch {
		if field.Name != wantNames[i] {
			t.Errorf("field %d name = %q, want %q", i, field.Name, wantNames[i])
		}
		if field.Type != wantTypes[i] {
			t.Errorf("field %d type = %v, want %v", i, field.Type, wantTypes[i])
		}
		if field.Required {
			t.Errorf("field %q should be nullable", field.Name)
		}
	}
}

func TestCache(t *testing.T) {
	c := NewCache()
	if c.Get("acme", "orders") != nil {
		t.Fatal("empty cache returned an entry")
	}

	info := &TableInfo{Tenant: "acme", Table: "orders"}
	c.Put(info)

	if got := c.Get("acme", "orders"); got != info {
		t.Error("cache miss after Put")
	}
	if c.Get("acme", "users") != nil {
		t.Error("cache returned entry for wrong table")
	}
	if c.Get("globex", "orders") != nil {
		t.Error("cache returned entry for wrong tenant")
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestIsSystemColumn(t *testing.T) {
	for _, name := range []string{ColTenantID, ColSyncTimestamp, ColSyncMode} {
		if !IsSystemColumn(name) {
			t.Errorf("%q should be a system column", name)
		}
	}
	if IsSystemColumn("updated_at") {
		t.Error("updated_at is not a system column")
	}
}
