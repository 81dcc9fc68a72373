package normalize

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/datalift/tenantsync/internal/extract"
	"github.com/datalift/tenantsync/internal/schema"
)

func testNormalizer() *Normalizer {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return New(log)
}

func TestBatchCoercesByColumnType(t *testing.T) {
	n := testNormalizer()
	fieldTypes := map[string]string{
		"id":     "int(11)",
		"amount": "decimal(10,2)",
		"name":   "varchar(64)",
	}
	rows := []extract.Row{
		{"id": "42", "amount": "12.50", "name": []byte("widget")},
	}

	out, stats := n.Batch(rows, fieldTypes)
	if len(out) != 1 {
		t.Fatalf("got %d rows, want 1", len(out))
	}
	row := out[0]
	if row["id"] != int64(42) {
		t.Errorf("id = %v (%T), want int64 42", row["id"], row["id"])
	}
	if row["amount"] != 12.5 {
		t.Errorf("amount = %v, want 12.5", row["amount"])
	}
	if row["name"] != "widget" {
		t.Errorf("name = %v, want widget", row["name"])
	}
	// id and name render identically before and after, amount does not.
	if stats["amount"] != 1 {
		t.Errorf("stats = %v, want amount counted once", stats)
	}
}

func TestBatchDateColumnLandsDateOnly(t *testing.T) {
	n := testNormalizer()
	fieldTypes := map[string]string{"due_date": "date"}

	// The extractor pre-pass delivers DATE columns as date-only strings;
	// a raw time.Time must also end up date-only.
	rows := []extract.Row{
		{"due_date": "2026-03-15"},
		{"due_date": time.Date(2026, 3, 16, 0, 0, 0, 0, time.Local)},
	}

	out, _ := n.Batch(rows, fieldTypes)
	if out[0]["due_date"] != "2026-03-15" {
		t.Errorf("pre-formatted date = %v, want 2026-03-15", out[0]["due_date"])
	}
	if out[1]["due_date"] != "2026-03-16" {
		t.Errorf("time.Time date = %v, want 2026-03-16", out[1]["due_date"])
	}
}

func TestBatchDoesNotMutateInput(t *testing.T) {
	n := testNormalizer()
	rows := []extract.Row{{"id": "42"}}

	n.Batch(rows, map[string]string{"id": "int(11)"})

	if rows[0]["id"] != "42" {
		t.Errorf("input row mutated: %v", rows[0]["id"])
	}
}

func TestBatchSystemColumnsPassThrough(t *testing.T) {
	n := testNormalizer()
	rows := []extract.Row{{
		schema.ColTenantID:      "acme",
		schema.ColSyncTimestamp: "2026-03-15T10:00:00",
		schema.ColSyncMode:      "FULL",
	}}

	out, _ := n.Batch(rows, map[string]string{})
	row := out[0]
	if row[schema.ColTenantID] != "acme" || row[schema.ColSyncMode] != "FULL" {
		t.Errorf("system columns altered: %v", row)
	}
}

func TestBatchNullPassThrough(t *testing.T) {
	n := testNormalizer()
	rows := []extract.Row{{"id": nil}}

	out, stats := n.Batch(rows, map[string]string{"id": "int(11)"})
	if out[0]["id"] != nil {
		t.Errorf("null became %v", out[0]["id"])
	}
	if len(stats) != 0 {
		t.Errorf("null should not count as converted: %v", stats)
	}
}

func TestBatchUnknownColumnStringified(t *testing.T) {
	n := testNormalizer()
	rows := []extract.Row{{"mystery": []byte("x")}}

	out, _ := n.Batch(rows, map[string]string{})
	if out[0]["mystery"] != "x" {
		t.Errorf("unknown column = %v, want string x", out[0]["mystery"])
	}
}

func TestBatchParseFailureFallsBackToString(t *testing.T) {
	n := testNormalizer()
	rows := []extract.Row{{"id": "abc"}}

	out, _ := n.Batch(rows, map[string]string{"id": "int(11)"})
	if out[0]["id"] != "abc" {
		t.Errorf("failed coercion should keep string, got %v", out[0]["id"])
	}
}

func TestBatchEmpty(t *testing.T) {
	n := testNormalizer()
	out, stats := n.Batch(nil, map[string]string{"id": "int(11)"})
	if len(out) != 0 || stats != nil {
		t.Errorf("empty batch should be a no-op, got %v, %v", out, stats)
	}
}
