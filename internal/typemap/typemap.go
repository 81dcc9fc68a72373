// Package typemap projects MySQL column types onto BigQuery field types and
// coerces individual row values to match their destination type.
//
// The projection works on the base type only: "decimal(10,2)" and "decimal"
// both map to NUMERIC. Unknown base types fall through to STRING, which is
// always loadable.
package typemap

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
)

// TimeLayout is the ISO-8601 rendering used for datetime values throughout
// the pipeline. Naive local time, matching what the source driver hands back
// with ParseTime enabled.
const TimeLayout = "2006-01-02T15:04:05"

// DateLayout is the rendering for DATE destination columns.
const DateLayout = "2006-01-02"

// mysqlToBigQuery maps MySQL base types to BigQuery field types.
var mysqlToBigQuery = map[string]bigquery.FieldType{
	"int":        bigquery.IntegerFieldType,
	"bigint":     bigquery.IntegerFieldType,
	"tinyint":    bigquery.IntegerFieldType,
	"smallint":   bigquery.IntegerFieldType,
	"mediumint":  bigquery.IntegerFieldType,
	"decimal":    bigquery.NumericFieldType,
	"numeric":    bigquery.NumericFieldType,
	"float":      bigquery.FloatFieldType,
	"double":     bigquery.FloatFieldType,
	"varchar":    bigquery.StringFieldType,
	"char":       bigquery.StringFieldType,
	"text":       bigquery.StringFieldType,
	"mediumtext": bigquery.StringFieldType,
	"longtext":   bigquery.StringFieldType,
	"date":       bigquery.DateFieldType,
	"datetime":   bigquery.TimestampFieldType,
	"timestamp":  bigquery.TimestampFieldType,
	"time":       bigquery.StringFieldType,
	"json":       bigquery.StringFieldType,
	"blob":       bigquery.BytesFieldType,
	"binary":     bigquery.BytesFieldType,
	"varbinary":  bigquery.BytesFieldType,
	"enum":       bigquery.StringFieldType,
	"set":        bigquery.StringFieldType,
}

// BaseType strips any parenthesised modifier and case-folds the MySQL column
// type: "DECIMAL(10,2)" -> "decimal", "int(11) unsigned" -> "int".
func BaseType(sourceType string) string {
	base := sourceType
	if i := strings.IndexByte(base, '('); i >= 0 {
		base = base[:i]
	}
	if i := strings.IndexByte(base, ' '); i >= 0 {
		base = base[:i]
	}
	return strings.ToLower(base)
}

// MapType returns the BigQuery field type for a MySQL column type string.
func MapType(sourceType string) bigquery.FieldType {
	if t, ok := mysqlToBigQuery[BaseType(sourceType)]; ok {
		return t
	}
	return bigquery.StringFieldType
}

// IsDecimal reports whether the source type is a fixed-decimal column.
func IsDecimal(sourceType string) bool {
	base := BaseType(sourceType)
	return base == "decimal" || base == "numeric"
}

// IsDate reports whether the source type is a plain DATE column, which the
// driver scans as a midnight time.Time but the destination stores date-only.
func IsDate(sourceType string) bool {
	return BaseType(sourceType) == "date"
}

// Coerce converts a single value to its destination field type. NULL passes
// through. When a value cannot be parsed as the destination type, Coerce
// returns the string rendering of the literal together with a non-nil error
// so the caller can count and log the downgrade; the row is never failed.
func Coerce(value any, dst bigquery.FieldType, sourceType string) (any, error) {
	if value == nil {
		return nil, nil
	}

	switch dst {
	case bigquery.StringFieldType:
		return Stringify(value), nil

	case bigquery.IntegerFieldType:
		switch v := value.(type) {
		case int64:
			return v, nil
		case int:
			return int64(v), nil
		case int32:
			return int64(v), nil
		case uint64:
			return int64(v), nil
		case float64:
			return int64(v), nil
		}
		s := strings.TrimSpace(Stringify(value))
		if s == "" {
			return nil, nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Stringify(value), fmt.Errorf("coerce %q to INT64: %w", s, err)
		}
		return n, nil

	case bigquery.FloatFieldType, bigquery.NumericFieldType:
		switch v := value.(type) {
		case float64:
			return v, nil
		case float32:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case int:
			return float64(v), nil
		}
		s := strings.TrimSpace(Stringify(value))
		if s == "" {
			return nil, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Stringify(value), fmt.Errorf("coerce %q to %s: %w", s, dst, err)
		}
		return f, nil

	case bigquery.BooleanFieldType:
		switch v := value.(type) {
		case bool:
			return v, nil
		case int64:
			return v != 0, nil
		case int:
			return v != 0, nil
		case float64:
			return v != 0, nil
		}
		s := Stringify(value)
		if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return n != 0, nil
		}
		return s != "", nil

	case bigquery.TimestampFieldType:
		switch v := value.(type) {
		case time.Time:
			return v.Format(TimeLayout), nil
		case int64:
			if strings.Contains(strings.ToLower(sourceType), "time") {
				// Integer columns named like timestamps hold Unix seconds.
				return time.Unix(v, 0).Format(TimeLayout), nil
			}
		case int:
			if strings.Contains(strings.ToLower(sourceType), "time") {
				return time.Unix(int64(v), 0).Format(TimeLayout), nil
			}
		}
		return Stringify(value), nil

	case bigquery.DateFieldType:
		if v, ok := value.(time.Time); ok {
			return v.Format(DateLayout), nil
		}
		return Stringify(value), nil
	}

	return Stringify(value), nil
}

// Stringify renders a value the way the warehouse load path expects: byte
// slices as text, datetimes as ISO-8601, everything else via %v.
func Stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case time.Time:
		return v.Format(TimeLayout)
	default:
		return fmt.Sprintf("%v", v)
	}
}
