package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// InsertConfig describes a multi-row insert.
type InsertConfig struct {
	Table        string   // target table, optionally schema-qualified
	Columns      []string // columns in row order
	ConflictKeys []string // when set, conflicting rows are skipped
}

// BulkInsert inserts rows in one statement and returns how many were
// written. With ConflictKeys set, rows hitting the unique constraint are
// skipped rather than failing the batch.
func BulkInsert(ctx context.Context, tx pgx.Tx, cfg InsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	query, err := BuildInsert(cfg, len(rows))
	if err != nil {
		return 0, err
	}
	args := make([]any, 0, len(rows)*len(cfg.Columns))
	for i, r := range rows {
		if len(r) != len(cfg.Columns) {
			return 0, eris.Errorf("db: insert: row %d has %d values, want %d", i, len(r), len(cfg.Columns))
		}
		args = append(args, r...)
	}
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return 0, eris.Wrapf(err, "db: insert into %s", cfg.Table)
	}
	return tag.RowsAffected(), nil
}

// BuildInsert renders the INSERT statement for n rows.
func BuildInsert(cfg InsertConfig, n int) (string, error) {
	if cfg.Table == "" {
		return "", eris.New("db: insert: no table specified")
	}
	if len(cfg.Columns) == 0 {
		return "", eris.New("db: insert: no columns specified")
	}
	if n <= 0 {
		return "", eris.New("db: insert: no rows")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", sanitizeTable(cfg.Table), quoteAndJoin(cfg.Columns))
	arg := 1
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j := range cfg.Columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", arg)
			arg++
		}
		b.WriteByte(')')
	}
	if len(cfg.ConflictKeys) > 0 {
		fmt.Fprintf(&b, " ON CONFLICT (%s) DO NOTHING", quoteAndJoin(cfg.ConflictKeys))
	}
	return b.String(), nil
}

// sanitizeTable handles schema-qualified table names like "apm.answers".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
