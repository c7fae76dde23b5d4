package job

import (
	"strconv"
	"strings"

	"github.com/davidmcclure/history-of-literature/internal/counter"
	holerrors "github.com/davidmcclure/history-of-literature/internal/errors"
	"github.com/davidmcclure/history-of-literature/internal/record"
	"github.com/davidmcclure/history-of-literature/internal/store"
)

// newCount counts tokens per year: (year, token).
func newCount(opts Options) (extractor, store.Table, error) {
	extract := func(v *record.Volume, keep func(string) bool, add func(counter.Key, int64)) {
		year := v.YearKey()
		for tok, n := range v.TokenCounts(opts.Normalizer) {
			if keep(tok) {
				add(counter.Key{year, tok}, n)
			}
		}
	}
	return extract, store.CountTable, nil
}

// newAnchored counts tokens per year and anchor level: (year, level, token).
func newAnchored(opts Options) (extractor, store.Table, error) {
	anchor, ok := opts.Normalizer.Clean(strings.TrimSpace(opts.Anchor))
	if !ok {
		return nil, store.Table{}, holerrors.ValidationError("anchored_count needs an alphabetic anchor token", nil).
			WithDetail("anchor", opts.Anchor)
	}

	extract := func(v *record.Volume, keep func(string) bool, add func(counter.Key, int64)) {
		year := v.YearKey()
		for level, counts := range v.AnchoredTokenCounts(anchor, opts.Normalizer) {
			lk := strconv.Itoa(level)
			for tok, n := range counts {
				if keep(tok) {
					add(counter.Key{year, lk, tok}, n)
				}
			}
		}
	}
	return extract, store.AnchoredCountTable, nil
}

// newYearCount counts all tokens per year: (year). With a vocabulary the
// total covers allowed tokens only, at either stage, since the table has no
// token column to filter at flush.
func newYearCount(opts Options) (extractor, store.Table, error) {
	extract := func(v *record.Volume, _ func(string) bool, add func(counter.Key, int64)) {
		if opts.Vocabulary == nil {
			add(counter.Key{v.YearKey()}, v.TotalTokenCount())
			return
		}
		var total int64
		for tok, n := range v.TokenCounts(opts.Normalizer) {
			if opts.Vocabulary.Allow(tok) {
				total += n
			}
		}
		add(counter.Key{v.YearKey()}, total)
	}
	return extract, store.YearCountTable, nil
}
