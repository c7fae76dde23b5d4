package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	holerrors "github.com/davidmcclure/history-of-literature/internal/errors"
	"github.com/davidmcclure/history-of-literature/internal/output"
	"github.com/davidmcclure/history-of-literature/internal/store"
)

// queryOptions are the flags shared by every query subcommand.
type queryOptions struct {
	format   string
	database string
	table    string
}

func (o *queryOptions) register(cmd *cobra.Command, defaultTable string) {
	cmd.Flags().StringVarP(&o.format, "format", "f", output.FormatText, "Output format: text or json")
	cmd.Flags().StringVar(&o.database, "db", "", "SQLite store path (default: store.path)")
	if defaultTable != "" {
		cmd.Flags().StringVarP(&o.table, "table", "t", defaultTable, "Counter table: "+tableNames())
	}
}

// open resolves the table and opens an existing store.
func (o *queryOptions) open(cmd *cobra.Command, a *app) (*store.Store, store.Table, *output.Writer, error) {
	out, err := output.New(cmd.OutOrStdout(), o.format)
	if err != nil {
		return nil, store.Table{}, nil, holerrors.ValidationError(err.Error(), nil)
	}

	var table store.Table
	if o.table != "" {
		t, ok := store.TableByName(o.table)
		if !ok {
			return nil, store.Table{}, nil, holerrors.ValidationError("unknown table "+o.table, nil).
				WithSuggestion("Use one of: " + tableNames())
		}
		table = t
	}

	path := a.cfg.Store.Path
	if o.database != "" {
		path = o.database
	}
	if _, err := os.Stat(path); err != nil {
		return nil, store.Table{}, nil, holerrors.New(holerrors.ErrCodeConfigNotFound, "no store at "+path, err).
			WithSuggestion("Run 'hol run' to create it, or pass --db")
	}

	st, err := store.Open(path)
	if err != nil {
		return nil, store.Table{}, nil, err
	}
	return st, table, out, nil
}

func tableNames() string {
	names := make([]string, 0, len(store.Tables))
	for _, t := range store.Tables {
		names = append(names, t.Name)
	}
	return strings.Join(names, ", ")
}

func newQueryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Read counts from the store",
		Long: `Read counts from the store.

Ranges are inclusive; an omitted bound is open.`,
		Example: `  # Years with counts
  hol query years

  # Top 20 tokens of the 1850s
  hol query tokens --from 1850 --to 1859 --limit 20

  # Tokens on pages mentioning the anchor exactly twice, as JSON
  hol query tokens --table anchored_count --level-from 2 --level-to 2 --format json

  # Count of one token in one year
  hol query token whale --year 1851`,
	}

	cmd.AddCommand(newQueryYearsCmd(a))
	cmd.AddCommand(newQueryTotalCmd(a))
	cmd.AddCommand(newQueryTokensCmd(a))
	cmd.AddCommand(newQueryTokenCmd(a))
	cmd.AddCommand(newQueryRunsCmd(a))

	return cmd
}

func newQueryYearsCmd(a *app) *cobra.Command {
	var opts queryOptions

	cmd := &cobra.Command{
		Use:   "years",
		Short: "List the years in a table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, table, out, err := opts.open(cmd, a)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			years, err := st.Years(cmd.Context(), table)
			if err != nil {
				return err
			}
			return out.Result(years, []string{"YEAR"}, func() [][]string {
				rows := make([][]string, 0, len(years))
				for _, y := range years {
					rows = append(rows, []string{strconv.Itoa(y)})
				}
				return rows
			})
		},
	}

	opts.register(cmd, store.CountTable.Name)
	return cmd
}

func newQueryTotalCmd(a *app) *cobra.Command {
	var (
		opts     queryOptions
		year     int
		from, to int
	)

	cmd := &cobra.Command{
		Use:   "total",
		Short: "Sum counts per year",
		Long: `Sum counts per year. With --year, print the single total for that year.

Use --table year_count for every token in the corpus, or count for the
tokens that passed the vocabulary.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, table, out, err := opts.open(cmd, a)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			ctx := cmd.Context()
			if cmd.Flags().Changed("year") {
				return queryYearTotal(ctx, st, table, out, year)
			}

			totals, err := st.YearTotals(ctx, table, store.Range{From: from, To: to})
			if err != nil {
				return err
			}
			return out.Result(totals, []string{"YEAR", "COUNT"}, func() [][]string {
				rows := make([][]string, 0, len(totals))
				for _, t := range totals {
					rows = append(rows, []string{strconv.Itoa(t.Year), strconv.FormatInt(t.Count, 10)})
				}
				return rows
			})
		},
	}

	opts.register(cmd, store.YearCountTable.Name)
	cmd.Flags().IntVar(&year, "year", 0, "Single year")
	cmd.Flags().IntVar(&from, "from", 0, "First year")
	cmd.Flags().IntVar(&to, "to", 0, "Last year")
	cmd.MarkFlagsMutuallyExclusive("year", "from")
	cmd.MarkFlagsMutuallyExclusive("year", "to")

	return cmd
}

func queryYearTotal(ctx context.Context, st *store.Store, table store.Table, out *output.Writer, year int) error {
	total, err := st.YearTotal(ctx, table, year)
	if err != nil {
		return err
	}
	yt := store.YearTotal{Year: year, Count: total}
	return out.Result(yt, []string{"YEAR", "COUNT"}, func() [][]string {
		return [][]string{{strconv.Itoa(year), strconv.FormatInt(total, 10)}}
	})
}

func newQueryTokensCmd(a *app) *cobra.Command {
	var (
		opts  queryOptions
		query store.TokenQuery
		limit int
	)

	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Rank tokens by count over a year range",
		Long: `Sum counts per token over a year range, largest first.

For the anchored_count table, --level-from and --level-to restrict the
pages by how many times the anchor token appeared on them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 0 {
				return holerrors.ValidationError(fmt.Sprintf("--limit must not be negative, got %d", limit), nil)
			}

			st, table, out, err := opts.open(cmd, a)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			counts, err := st.TokenCountsByYear(cmd.Context(), table, query)
			if err != nil {
				return err
			}
			if limit > 0 && len(counts) > limit {
				counts = counts[:limit]
			}

			return out.Result(counts, []string{"TOKEN", "COUNT"}, func() [][]string {
				rows := make([][]string, 0, len(counts))
				for _, c := range counts {
					rows = append(rows, []string{c.Token, strconv.FormatInt(c.Count, 10)})
				}
				return rows
			})
		},
	}

	opts.register(cmd, store.CountTable.Name)
	cmd.Flags().IntVar(&query.Years.From, "from", 0, "First year")
	cmd.Flags().IntVar(&query.Years.To, "to", 0, "Last year")
	cmd.Flags().IntVar(&query.Levels.From, "level-from", 0, "Lowest anchor level (anchored_count only)")
	cmd.Flags().IntVar(&query.Levels.To, "level-to", 0, "Highest anchor level (anchored_count only)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Show at most this many tokens (0 shows all)")

	return cmd
}

// tokenCount is the result of 'hol query token'.
type tokenCount struct {
	Token string `json:"token"`
	Year  int    `json:"year"`
	Level *int   `json:"level,omitempty"`
	Count int64  `json:"count"`
}

func newQueryTokenCmd(a *app) *cobra.Command {
	var (
		opts  queryOptions
		year  int
		level int
	)

	cmd := &cobra.Command{
		Use:   "token <token>",
		Short: "Count one token in one year",
		Long: `Count one token in one year. With --level, read the anchored_count table
at that anchor level instead of the count table.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, out, err := opts.open(cmd, a)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			result := tokenCount{Token: strings.ToLower(args[0]), Year: year}
			if cmd.Flags().Changed("level") {
				result.Level = &level
				result.Count, err = st.TokenYearLevelCount(cmd.Context(), result.Token, year, level)
			} else {
				result.Count, err = st.TokenYearCount(cmd.Context(), result.Token, year)
			}
			if err != nil {
				return err
			}

			headers := []string{"TOKEN", "YEAR", "COUNT"}
			if result.Level != nil {
				headers = []string{"TOKEN", "YEAR", "LEVEL", "COUNT"}
			}
			return out.Result(result, headers, func() [][]string {
				row := []string{result.Token, strconv.Itoa(year)}
				if result.Level != nil {
					row = append(row, strconv.Itoa(level))
				}
				return [][]string{append(row, strconv.FormatInt(result.Count, 10))}
			})
		},
	}

	opts.register(cmd, "")
	cmd.Flags().IntVar(&year, "year", 0, "Year")
	cmd.Flags().IntVar(&level, "level", 0, "Anchor level")
	_ = cmd.MarkFlagRequired("year")

	return cmd
}

func newQueryRunsCmd(a *app) *cobra.Command {
	var opts queryOptions

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List the runs flushed to the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, _, out, err := opts.open(cmd, a)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			runs, err := st.Runs(cmd.Context())
			if err != nil {
				return err
			}
			return out.Result(runs, []string{"RUN", "JOB", "TABLE", "ROWS", "TOTAL", "FLUSHED"}, func() [][]string {
				rows := make([][]string, 0, len(runs))
				for _, r := range runs {
					rows = append(rows, []string{
						r.RunID, r.Job, r.Table,
						strconv.Itoa(r.Rows), strconv.FormatInt(r.Total, 10), r.FlushedAt,
					})
				}
				return rows
			})
		},
	}

	opts.register(cmd, "")
	return cmd
}
