package record_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidmcclure/history-of-literature/internal/record"
	"github.com/davidmcclure/history-of-literature/internal/record/recordtest"
)

func TestFileLoader_Bzip2Fixture(t *testing.T) {
	vol, err := record.FileLoader{}.Load(filepath.Join("testdata", "volume.json.bz2"))
	require.NoError(t, err)

	assert.Equal(t, "mdp.39015000000001", vol.ID)
	assert.Equal(t, 1901, vol.Year)
	assert.Equal(t, "1901", vol.YearKey())
	assert.True(t, vol.HasLanguage("eng"))
	assert.Len(t, vol.Pages, 2)
	assert.Equal(t, int64(16), vol.TotalTokenCount())

	assert.Equal(t, map[string]int64{
		"literature": 3,
		"novel":      7,
		"the":        5,
	}, vol.TokenCounts(record.NewNormalizer(0)))

	assert.Equal(t, map[int]map[string]int64{
		1: {"novel": 3, "the": 2},
		2: {"novel": 4, "the": 3},
	}, vol.AnchoredTokenCounts("literature", record.NewNormalizer(0)))
}

func TestFileLoader_Gzip(t *testing.T) {
	path := recordtest.Write(t, t.TempDir(), recordtest.Vol{
		ID:    "v1",
		Year:  1850,
		Pages: []map[string]int64{{"whale": 2}},
	})

	vol, err := record.FileLoader{}.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1850, vol.Year)
	assert.Equal(t, map[string]int64{"whale": 2}, vol.TokenCounts(nil))
}

func TestFileLoader_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := record.FileLoader{}.Load(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	bad := recordtest.WriteRaw(t, dir, "bad.json", []byte("{not json"))
	_, err = record.FileLoader{}.Load(bad)
	assert.Error(t, err)

	notGzip := recordtest.WriteRaw(t, dir, "bad.json.gz", []byte("plain"))
	_, err = record.FileLoader{}.Load(notGzip)
	assert.Error(t, err)
}

func TestDecode_PubDate(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		want    int
		wantErr bool
	}{
		{"string", `{"id":"a","metadata":{"pubDate":"1901"}}`, 1901, false},
		{"number", `{"id":"a","metadata":{"pubDate":1902}}`, 1902, false},
		{"missing", `{"id":"a","metadata":{}}`, 0, true},
		{"garbage", `{"id":"a","metadata":{"pubDate":"19th c."}}`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vol, err := record.Decode([]byte(tt.doc))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, vol.Year)
		})
	}
}

func TestPage_TokenCounts(t *testing.T) {
	page := record.Page{
		TokenCount: -1,
		TokenPosCount: map[string]map[string]int64{
			"aaa":    {"POS1": 1, "POS2": 2},
			"Token":  {"POS": 2},
			"token":  {"POS": 1},
			"token1": {"POS": 1},
			"don't":  {"POS": 1},
			"café":   {"POS": 1},
		},
	}

	assert.Equal(t, map[string]int64{"aaa": 3, "token": 3}, page.TokenCounts(record.NewNormalizer(10)))
	assert.Equal(t, int64(9), page.Total(), "falls back to the sum of POS counts")
}

func TestVolume_AnchoredTokenCounts_SkipsPagesWithoutAnchor(t *testing.T) {
	vol := &record.Volume{Pages: []record.Page{
		{TokenPosCount: map[string]map[string]int64{"anchor": {"POS": 1}, "x": {"POS": 3}}},
		{TokenPosCount: map[string]map[string]int64{"x": {"POS": 10}}},
		{TokenPosCount: map[string]map[string]int64{"anchor": {"POS": 2}, "x": {"POS": 4}}},
		{TokenPosCount: map[string]map[string]int64{"Anchor": {"POS": 1}, "y": {"POS": 1}}},
	}}

	assert.Equal(t, map[int]map[string]int64{
		1: {"x": 3, "y": 1},
		2: {"x": 4},
	}, vol.AnchoredTokenCounts("anchor", nil))
}

func TestNormalizer_CachesResults(t *testing.T) {
	n := record.NewNormalizer(2)

	for i := 0; i < 3; i++ {
		tok, ok := n.Clean("Whale")
		assert.True(t, ok)
		assert.Equal(t, "whale", tok)
	}

	_, ok := n.Clean("")
	assert.False(t, ok)
	_, ok = n.Clean("42")
	assert.False(t, ok)
}
