package warehouse

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Execer is the part of *pgxpool.Pool the writer needs.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

type PostgresWriter struct {
	db Execer
}

func NewPostgresWriter(db Execer) *PostgresWriter {
	return &PostgresWriter{db: db}
}

// OpenPostgres connects a pool and checks it with a ping.
func OpenPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("DATABASE_URL not set")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

func (w *PostgresWriter) Upsert(ctx context.Context, table string, keyColumns []string, row Record) (bool, error) {
	sql, args, err := BuildUpsert(table, keyColumns, row)
	if err != nil {
		return false, err
	}
	tag, err := w.db.Exec(ctx, sql, args...)
	if err != nil {
		return false, fmt.Errorf("upsert %s: %w", table, err)
	}
	return tag.RowsAffected() > 0, nil
}

// BuildUpsert renders INSERT ... ON CONFLICT (keys) DO UPDATE for row. Columns are sorted
// so the statement text is stable across rows of the same shape.
func BuildUpsert(table string, keyColumns []string, row Record) (string, []any, error) {
	if strings.TrimSpace(table) == "" {
		return "", nil, fmt.Errorf("empty table name")
	}
	if _, err := keyValues(keyColumns, row); err != nil {
		return "", nil, err
	}

	isKey := make(map[string]bool, len(keyColumns))
	for _, k := range keyColumns {
		isKey[k] = true
	}

	cols := make([]string, 0, len(row))
	for c := range row {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	quoted := make([]string, len(cols))
	params := make([]string, len(cols))
	args := make([]any, len(cols))
	var updates []string
	for i, c := range cols {
		q := pgx.Identifier{c}.Sanitize()
		quoted[i] = q
		params[i] = fmt.Sprintf("$%d", i+1)
		args[i] = row[c]
		if !isKey[c] {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", q, q))
		}
	}

	conflict := make([]string, len(keyColumns))
	for i, k := range keyColumns {
		conflict[i] = pgx.Identifier{k}.Sanitize()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) ",
		pgx.Identifier(strings.Split(table, ".")).Sanitize(),
		strings.Join(quoted, ", "),
		strings.Join(params, ", "),
		strings.Join(conflict, ", "),
	)
	if len(updates) == 0 {
		b.WriteString("DO NOTHING")
	} else {
		b.WriteString("DO UPDATE SET ")
		b.WriteString(strings.Join(updates, ", "))
	}
	return b.String(), args, nil
}
