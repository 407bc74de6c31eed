package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// InsertConfig defines a batch insert that skips rows already present.
type InsertConfig struct {
	Table        string   // target table
	Columns      []string // columns being inserted
	ConflictKeys []string // unique-constraint columns; conflicts are ignored
}

// BatchInsert inserts rows inside the given transaction using a pgx batch,
// ignoring conflicts on the natural key. Returns the number of rows actually
// inserted.
func BatchInsert(ctx context.Context, tx pgx.Tx, cfg InsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(cfg.Columns) == 0 {
		return 0, eris.New("db: batch insert: no columns specified")
	}

	placeholders := make([]string, len(cfg.Columns))
	for i := range cfg.Columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	sql := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		cfg.Table,
		strings.Join(cfg.Columns, ", "),
		strings.Join(placeholders, ", "),
	)
	if len(cfg.ConflictKeys) > 0 {
		sql += fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", strings.Join(cfg.ConflictKeys, ", "))
	}

	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(sql, row...)
	}

	results := tx.SendBatch(ctx, batch)
	defer results.Close() //nolint:errcheck

	var inserted int64
	for range rows {
		tag, err := results.Exec()
		if err != nil {
			return inserted, eris.Wrapf(err, "db: batch insert into %s", cfg.Table)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}
