// Package record loads archival volume records: compressed JSON documents
// carrying an identifier, a language tag, a publication year and per-page
// token/part-of-speech frequency tables.
package record

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Volume is one parsed record.
type Volume struct {
	ID       string
	Year     int
	Language string
	Pages    []Page
}

// Page is one sub-unit of a volume.
type Page struct {
	// TokenCount is the page body token total reported by the record,
	// or -1 when the record omits it.
	TokenCount int64
	// TokenPosCount maps raw token -> part of speech -> count.
	TokenPosCount map[string]map[string]int64
}

type rawVolume struct {
	ID       string `json:"id"`
	Metadata struct {
		PubDate  json.RawMessage `json:"pubDate"`
		Language string          `json:"language"`
	} `json:"metadata"`
	Features struct {
		Pages []struct {
			Body struct {
				TokenCount    *int64                      `json:"tokenCount"`
				TokenPosCount map[string]map[string]int64 `json:"tokenPosCount"`
			} `json:"body"`
		} `json:"pages"`
	} `json:"features"`
}

// Decode parses a decompressed volume document.
func Decode(data []byte) (*Volume, error) {
	var raw rawVolume
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode volume: %w", err)
	}

	year, err := parseYear(raw.Metadata.PubDate)
	if err != nil {
		return nil, fmt.Errorf("volume %q: %w", raw.ID, err)
	}

	v := &Volume{
		ID:       raw.ID,
		Year:     year,
		Language: raw.Metadata.Language,
		Pages:    make([]Page, 0, len(raw.Features.Pages)),
	}
	for _, p := range raw.Features.Pages {
		page := Page{TokenCount: -1, TokenPosCount: p.Body.TokenPosCount}
		if p.Body.TokenCount != nil {
			page.TokenCount = *p.Body.TokenCount
		}
		v.Pages = append(v.Pages, page)
	}
	return v, nil
}

// parseYear accepts "1901" or 1901.
func parseYear(raw json.RawMessage) (int, error) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return 0, fmt.Errorf("missing pubDate")
	}
	year, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid pubDate %q", s)
	}
	return year, nil
}

// YearKey returns the year as a counter key component.
func (v *Volume) YearKey() string {
	return strconv.Itoa(v.Year)
}

// HasLanguage reports whether the volume carries the language tag.
// An empty tag matches every volume.
func (v *Volume) HasLanguage(tag string) bool {
	return tag == "" || v.Language == tag
}

// TotalTokenCount sums the page token totals.
func (v *Volume) TotalTokenCount() int64 {
	var total int64
	for i := range v.Pages {
		total += v.Pages[i].Total()
	}
	return total
}

// TokenCounts sums cleaned token counts across every page.
func (v *Volume) TokenCounts(n *Normalizer) map[string]int64 {
	counts := make(map[string]int64)
	for i := range v.Pages {
		for tok, c := range v.Pages[i].TokenCounts(n) {
			counts[tok] += c
		}
	}
	return counts
}

// AnchoredTokenCounts buckets co-occurring token counts by the anchor's count
// on each page. The anchor is removed from its own bucket, and pages without
// the anchor contribute nothing.
func (v *Volume) AnchoredTokenCounts(anchor string, n *Normalizer) map[int]map[string]int64 {
	levels := make(map[int]map[string]int64)
	for i := range v.Pages {
		counts := v.Pages[i].TokenCounts(n)

		level, ok := counts[anchor]
		if !ok || level <= 0 {
			continue
		}
		delete(counts, anchor)

		bucket, ok := levels[int(level)]
		if !ok {
			bucket = make(map[string]int64)
			levels[int(level)] = bucket
		}
		for tok, c := range counts {
			bucket[tok] += c
		}
	}
	return levels
}

// Total returns the page token total, falling back to the sum of every
// part-of-speech count when the record omits it.
func (p *Page) Total() int64 {
	if p.TokenCount >= 0 {
		return p.TokenCount
	}
	var total int64
	for _, pos := range p.TokenPosCount {
		for _, c := range pos {
			total += c
		}
	}
	return total
}

// TokenCounts returns cleaned token -> count for the page. POS counts are
// summed and casing variants are combined. Tokens the normalizer rejects
// are dropped.
func (p *Page) TokenCounts(n *Normalizer) map[string]int64 {
	counts := make(map[string]int64, len(p.TokenPosCount))
	for raw, pos := range p.TokenPosCount {
		tok, ok := n.Clean(raw)
		if !ok {
			continue
		}
		for _, c := range pos {
			counts[tok] += c
		}
	}
	return counts
}
