package schema

import "strings"

// timestampPriority lists timestamp column names in selection order. The
// first candidate whose name exactly matches an entry wins.
var timestampPriority = []string{
	"updated_at", "update_time", "last_updated", "modified_at", "last_modified",
	"created_at", "create_time", "insert_time", "timestamp", "sync_time",
}

// nameHints are substrings that make a column name look timestamp-like.
var nameHints = []string{"time", "date", "created", "updated", "modified"}

// intNameHints are the narrower substrings accepted for integer columns
// holding Unix seconds.
var intNameHints = []string{"time", "created", "updated"}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// isTimestampCandidate reports whether a column can drive incremental
// windows: a datetime/timestamp column with a timestamp-like name, or an
// integer column whose name says it holds a Unix time.
func isTimestampCandidate(name, sourceType string) bool {
	lower := strings.ToLower(name)
	if !containsAny(lower, nameHints) {
		return false
	}
	if strings.HasPrefix(sourceType, "datetime") || strings.HasPrefix(sourceType, "timestamp") {
		return true
	}
	return strings.Contains(sourceType, "int") && containsAny(lower, intNameHints)
}

// selectTimestampField picks the incremental-window column from the ordinal
// column list, preferring exact matches against timestampPriority and falling
// back to the first candidate in ordinal order. Returns "" when no column
// qualifies.
func selectTimestampField(columns []Column, fieldTypes map[string]string) string {
	var candidates []string
	for _, col := range columns {
		if isTimestampCandidate(col.Name, fieldTypes[col.Name]) {
			candidates = append(candidates, col.Name)
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	for _, preferred := range timestampPriority {
		for _, name := range candidates {
			if strings.EqualFold(preferred, name) {
				return name
			}
		}
	}
	return candidates[0]
}
