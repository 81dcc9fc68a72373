// Package normalize coerces a batch of extracted rows so every column value
// matches its destination type. It is the table-directed step between
// extraction and the warehouse write: conversions follow the column type
// map, never runtime reflection over individual values.
package normalize

import (
	"github.com/sirupsen/logrus"

	"cloud.google.com/go/bigquery"

	"github.com/datalift/tenantsync/internal/extract"
	"github.com/datalift/tenantsync/internal/schema"
	"github.com/datalift/tenantsync/internal/typemap"
)

// Stats counts, per column, how many values were actually changed by
// normalization.
type Stats map[string]int

// Normalizer batch-coerces rows to destination types.
type Normalizer struct {
	log *logrus.Logger
}

// New returns a normalizer.
func New(log *logrus.Logger) *Normalizer {
	return &Normalizer{log: log}
}

type converter struct {
	dst bigquery.FieldType
	src string
}

// Batch returns a new row slice where every non-system column value matches
// its destination type. Input rows are not modified. Values that fail to
// parse are downgraded to their string rendering with a warning; the row is
// kept.
func (n *Normalizer) Batch(rows []extract.Row, fieldTypes map[string]string) ([]extract.Row, Stats) {
	if len(rows) == 0 {
		return rows, nil
	}

	// Precompute the per-column converters once for the whole batch.
	converters := make(map[string]converter, len(fieldTypes))
	for field, sourceType := range fieldTypes {
		converters[field] = converter{dst: typemap.MapType(sourceType), src: sourceType}
	}

	stats := make(Stats)
	out := make([]extract.Row, 0, len(rows))

	for _, row := range rows {
		normalized := make(extract.Row, len(row))
		for key, value := range row {
			switch {
			case schema.IsSystemColumn(key):
				normalized[key] = value
			case value == nil:
				normalized[key] = nil
			default:
				conv, known := converters[key]
				if !known {
					normalized[key] = typemap.Stringify(value)
					continue
				}
				coerced, err := typemap.Coerce(value, conv.dst, conv.src)
				if err != nil {
					n.log.WithError(err).WithField("column", key).
						Warn("type coercion failed, falling back to string")
				}
				normalized[key] = coerced
				if typemap.Stringify(value) != typemap.Stringify(coerced) {
					stats[key]++
				}
			}
		}
		out = append(out, normalized)
	}

	for field, count := range stats {
		conv := converters[field]
		n.log.WithFields(logrus.Fields{
			"column":    field,
			"from":      conv.src,
			"to":        conv.dst,
			"converted": count,
		}).Debug("normalized column values")
	}

	return out, stats
}
