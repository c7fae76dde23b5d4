package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/davidmcclure/history-of-literature/internal/counter"
	holerrors "github.com/davidmcclure/history-of-literature/internal/errors"
)

// FlushOptions controls a single flush.
type FlushOptions struct {
	// Filter, when set, drops leaves whose token column fails it.
	Filter func(token string) bool

	// RunID identifies the run in the runs ledger. Generated when empty.
	RunID string

	// Job is recorded in the runs ledger.
	Job string
}

// FlushResult summarizes a committed flush.
type FlushResult struct {
	RunID   string `json:"run_id"`
	Table   string `json:"table"`
	Rows    int    `json:"rows"`
	Dropped int    `json:"dropped"`
	Total   int64  `json:"total"`
}

// Flush adds every leaf of c to table in one transaction. Existing rows are
// incremented, so flushing the same counter twice doubles the stored counts.
// On any failure nothing is written and a StoreWriteError is returned.
func (s *Store) Flush(ctx context.Context, table Table, c *counter.Counter, opts FlushOptions) (FlushResult, error) {
	result := FlushResult{RunID: opts.RunID, Table: table.Name}
	if result.RunID == "" {
		result.RunID = uuid.NewString()
	}

	if c == nil {
		c = counter.New(table.Depth())
	}
	if c.Depth() != table.Depth() {
		return result, holerrors.New(holerrors.ErrCodeDepthMismatch,
			fmt.Sprintf("counter depth %d does not match table %s depth %d", c.Depth(), table.Name, table.Depth()), nil)
	}

	tokenPos := table.ColumnIndex("token")
	if opts.Filter == nil {
		tokenPos = -1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, holerrors.StoreWriteError(table.Name, fmt.Errorf("begin transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, table.upsertSQL())
	if err != nil {
		return result, holerrors.StoreWriteError(table.Name, fmt.Errorf("prepare statement: %w", err))
	}
	defer func() { _ = stmt.Close() }()

	args := make([]any, table.Depth()+1)
	for _, e := range c.Flatten() {
		if tokenPos >= 0 && !opts.Filter(e.Key[tokenPos]) {
			result.Dropped++
			continue
		}
		if err := bindKey(table, e.Key, args); err != nil {
			return result, holerrors.StoreWriteError(table.Name, err)
		}
		args[len(args)-1] = e.Count

		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return result, holerrors.StoreWriteError(table.Name, fmt.Errorf("upsert %s: %w", e.Key, err))
		}
		result.Rows++
		result.Total += e.Count
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, job, table_name, rows, total, flushed_at) VALUES (?, ?, ?, ?, ?, ?)`,
		result.RunID, opts.Job, table.Name, result.Rows, result.Total, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return result, holerrors.StoreWriteError(table.Name, fmt.Errorf("record run: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return result, holerrors.StoreWriteError(table.Name, fmt.Errorf("commit transaction: %w", err))
	}

	s.cache.Purge()
	return result, nil
}

func bindKey(table Table, key counter.Key, args []any) error {
	for i, col := range table.Columns {
		if col.Type != Integer {
			args[i] = key[i]
			continue
		}
		n, err := strconv.ParseInt(key[i], 10, 64)
		if err != nil {
			return fmt.Errorf("column %s: key %q is not an integer", col.Name, key[i])
		}
		args[i] = n
	}
	return nil
}
