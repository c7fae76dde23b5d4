package store

import (
	"context"
	"fmt"
	"strings"

	holerrors "github.com/davidmcclure/history-of-literature/internal/errors"
)

// Range is an inclusive integer bound. A zero endpoint is open.
type Range struct {
	From int `json:"from,omitempty"`
	To   int `json:"to,omitempty"`
}

func (r Range) validate(name string) error {
	if r.From != 0 && r.To != 0 && r.From > r.To {
		return holerrors.ValidationError(fmt.Sprintf("%s range %d..%d is empty", name, r.From, r.To), nil)
	}
	return nil
}

// where appends the range conditions on column to conds and args.
func (r Range) where(column string, conds []string, args []any) ([]string, []any) {
	if r.From != 0 {
		conds = append(conds, quote(column)+" >= ?")
		args = append(args, r.From)
	}
	if r.To != 0 {
		conds = append(conds, quote(column)+" <= ?")
		args = append(args, r.To)
	}
	return conds, args
}

// TokenQuery selects rows for TokenCountsByYear.
type TokenQuery struct {
	Years  Range `json:"years"`
	Levels Range `json:"levels"`
}

// TokenCount is a token with its summed count.
type TokenCount struct {
	Token string `json:"token"`
	Count int64  `json:"count"`
}

// YearTotal is the summed count of one year.
type YearTotal struct {
	Year  int   `json:"year"`
	Count int64 `json:"count"`
}

// Run is one row of the flush ledger.
type Run struct {
	RunID     string `json:"run_id"`
	Job       string `json:"job"`
	Table     string `json:"table"`
	Rows      int    `json:"rows"`
	Total     int64  `json:"total"`
	FlushedAt string `json:"flushed_at"`
}

// cached returns the value under key, loading and caching it on a miss.
// Cached values are shared; callers must not modify them.
func cached[T any](s *Store, key string, load func() (T, error)) (T, error) {
	if v, ok := s.cache.Get(key); ok {
		return v.(T), nil
	}
	v, err := load()
	if err != nil {
		return v, err
	}
	s.cache.Add(key, v)
	return v, nil
}

// Years returns the distinct years in table, ascending.
func (s *Store) Years(ctx context.Context, table Table) ([]int, error) {
	if table.ColumnIndex("year") < 0 {
		return nil, holerrors.ValidationError("table "+table.Name+" has no year column", nil)
	}

	return cached(s, "years:"+table.Name, func() ([]int, error) {
		rows, err := s.db.QueryContext(ctx,
			fmt.Sprintf(`SELECT DISTINCT year FROM %s ORDER BY year`, quote(table.Name)))
		if err != nil {
			return nil, fmt.Errorf("query years: %w", err)
		}
		defer func() { _ = rows.Close() }()

		years := []int{}
		for rows.Next() {
			var y int
			if err := rows.Scan(&y); err != nil {
				return nil, fmt.Errorf("scan year: %w", err)
			}
			years = append(years, y)
		}
		return years, rows.Err()
	})
}

// YearTotal returns the summed count of year in table.
func (s *Store) YearTotal(ctx context.Context, table Table, year int) (int64, error) {
	if table.ColumnIndex("year") < 0 {
		return 0, holerrors.ValidationError("table "+table.Name+" has no year column", nil)
	}

	return cached(s, fmt.Sprintf("year_total:%s:%d", table.Name, year), func() (int64, error) {
		var total int64
		err := s.db.QueryRowContext(ctx,
			fmt.Sprintf(`SELECT COALESCE(SUM("count"), 0) FROM %s WHERE year = ?`, quote(table.Name)),
			year,
		).Scan(&total)
		if err != nil {
			return 0, fmt.Errorf("query year total: %w", err)
		}
		return total, nil
	})
}

// YearTotals returns the summed count of every year in r, ascending.
func (s *Store) YearTotals(ctx context.Context, table Table, r Range) ([]YearTotal, error) {
	if table.ColumnIndex("year") < 0 {
		return nil, holerrors.ValidationError("table "+table.Name+" has no year column", nil)
	}
	if err := r.validate("year"); err != nil {
		return nil, err
	}

	key := fmt.Sprintf("year_totals:%s:%d:%d", table.Name, r.From, r.To)
	return cached(s, key, func() ([]YearTotal, error) {
		conds, args := r.where("year", nil, nil)
		query := fmt.Sprintf(`SELECT year, SUM("count") FROM %s%s GROUP BY year ORDER BY year`,
			quote(table.Name), whereClause(conds))

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("query year totals: %w", err)
		}
		defer func() { _ = rows.Close() }()

		totals := []YearTotal{}
		for rows.Next() {
			var yt YearTotal
			if err := rows.Scan(&yt.Year, &yt.Count); err != nil {
				return nil, fmt.Errorf("scan year total: %w", err)
			}
			totals = append(totals, yt)
		}
		return totals, rows.Err()
	})
}

// TokenCountsByYear sums counts per token over the year range (and, for
// anchored tables, the level range), largest first with ties by token.
func (s *Store) TokenCountsByYear(ctx context.Context, table Table, q TokenQuery) ([]TokenCount, error) {
	if table.ColumnIndex("token") < 0 {
		return nil, holerrors.ValidationError("table "+table.Name+" has no token column", nil)
	}
	if err := q.Years.validate("year"); err != nil {
		return nil, err
	}
	if err := q.Levels.validate("level"); err != nil {
		return nil, err
	}
	hasLevel := table.ColumnIndex("anchor_count") >= 0
	if !hasLevel && q.Levels != (Range{}) {
		return nil, holerrors.ValidationError("table "+table.Name+" has no level column", nil)
	}

	key := fmt.Sprintf("tokens:%s:%d:%d:%d:%d", table.Name, q.Years.From, q.Years.To, q.Levels.From, q.Levels.To)
	return cached(s, key, func() ([]TokenCount, error) {
		conds, args := q.Years.where("year", nil, nil)
		if hasLevel {
			conds, args = q.Levels.where("anchor_count", conds, args)
		}
		query := fmt.Sprintf(
			`SELECT token, SUM("count") AS total FROM %s%s GROUP BY token ORDER BY total DESC, token`,
			quote(table.Name), whereClause(conds))

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("query token counts: %w", err)
		}
		defer func() { _ = rows.Close() }()

		counts := []TokenCount{}
		for rows.Next() {
			var tc TokenCount
			if err := rows.Scan(&tc.Token, &tc.Count); err != nil {
				return nil, fmt.Errorf("scan token count: %w", err)
			}
			counts = append(counts, tc)
		}
		return counts, rows.Err()
	})
}

// TokenYearCount returns the stored count of token in year.
func (s *Store) TokenYearCount(ctx context.Context, token string, year int) (int64, error) {
	return cached(s, fmt.Sprintf("token_year:%s:%d", token, year), func() (int64, error) {
		return s.lookup(ctx,
			`SELECT COALESCE(SUM("count"), 0) FROM "count" WHERE token = ? AND year = ?`,
			token, year)
	})
}

// TokenYearLevelCount returns the anchored count of token in year at level.
func (s *Store) TokenYearLevelCount(ctx context.Context, token string, year, level int) (int64, error) {
	return cached(s, fmt.Sprintf("token_year_level:%s:%d:%d", token, year, level), func() (int64, error) {
		return s.lookup(ctx,
			`SELECT COALESCE(SUM("count"), 0) FROM anchored_count WHERE token = ? AND year = ? AND anchor_count = ?`,
			token, year, level)
	})
}

func (s *Store) lookup(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("query count: %w", err)
	}
	return n, nil
}

// Runs returns the flush ledger, oldest first. Not cached.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, job, table_name, rows, total, flushed_at FROM runs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	runs := []Run{}
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.RunID, &r.Job, &r.Table, &r.Rows, &r.Total, &r.FlushedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}
