package warehouse

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryWriter keeps rows in process. It backs tests and the dry-run backend.
type MemoryWriter struct {
	mu     sync.Mutex
	tables map[string]map[string]Record
}

func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{tables: map[string]map[string]Record{}}
}

func (m *MemoryWriter) Upsert(_ context.Context, table string, keyColumns []string, row Record) (bool, error) {
	vals, err := keyValues(keyColumns, row)
	if err != nil {
		return false, err
	}

	cp := make(Record, len(row))
	for k, v := range row {
		cp[k] = v
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[table]
	if !ok {
		t = map[string]Record{}
		m.tables[table] = t
	}
	t[strings.Join(vals, "\x1f")] = cp
	return true, nil
}

// Rows returns a table's rows ordered by key.
func (m *MemoryWriter) Rows(table string) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.tables[table]
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Record, 0, len(keys))
	for _, k := range keys {
		out = append(out, t[k])
	}
	return out
}

func (m *MemoryWriter) Len(table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tables[table])
}
