// Package recordtest writes synthetic volumes for tests.
package recordtest

import (
	"compress/gzip"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

// Vol describes a synthetic volume. Each page maps token -> count and is
// written under a single part-of-speech tag.
type Vol struct {
	ID       string
	Year     int
	Language string
	Pages    []map[string]int64
}

// Document renders v in the archive JSON layout.
func (v Vol) Document() map[string]any {
	lang := v.Language
	if lang == "" {
		lang = "eng"
	}

	pages := make([]any, 0, len(v.Pages))
	for _, counts := range v.Pages {
		tpc := make(map[string]any, len(counts))
		var total int64
		for tok, n := range counts {
			tpc[tok] = map[string]int64{"POS": n}
			total += n
		}
		pages = append(pages, map[string]any{
			"body": map[string]any{
				"tokenCount":    total,
				"tokenPosCount": tpc,
			},
		})
	}

	return map[string]any{
		"id": v.ID,
		"metadata": map[string]any{
			"pubDate":  strconv.Itoa(v.Year),
			"language": lang,
		},
		"features": map[string]any{"pages": pages},
	}
}

// Write stores v as dir/<id>.json.gz and returns the path.
func Write(t testing.TB, dir string, v Vol) string {
	t.Helper()

	data, err := json.Marshal(v.Document())
	require.NoError(t, err)

	path := filepath.Join(dir, v.ID+".json.gz")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	gz := gzip.NewWriter(f)
	_, err = gz.Write(data)
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	return path
}

// WriteRaw stores arbitrary bytes as dir/name, for unparseable records.
func WriteRaw(t testing.TB, dir, name string, data []byte) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}
