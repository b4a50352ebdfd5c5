package warehouse

import (
	"context"
	"fmt"
	"strings"
)

// Record is one warehouse row, column name to value.
type Record map[string]any

// Writer merges a single row keyed by keyColumns. A repeated key overwrites every
// non-key column. applied reports whether the backend acknowledged a write.
type Writer interface {
	Upsert(ctx context.Context, table string, keyColumns []string, row Record) (applied bool, err error)
}

const (
	BackendDynamo   = "dynamodb"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// keyValues returns the row's key values as text in keyColumns order.
func keyValues(keyColumns []string, row Record) ([]string, error) {
	if len(keyColumns) == 0 {
		return nil, fmt.Errorf("no key columns")
	}
	vals := make([]string, 0, len(keyColumns))
	for _, k := range keyColumns {
		v, ok := row[k]
		if !ok || v == nil {
			return nil, fmt.Errorf("row missing key column %q", k)
		}
		s := strings.TrimSpace(fmt.Sprint(v))
		if s == "" {
			return nil, fmt.Errorf("row has empty key column %q", k)
		}
		vals = append(vals, s)
	}
	return vals, nil
}
