package record

import (
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strings"
)

// Loader loads one record reference.
type Loader interface {
	Load(path string) (*Volume, error)
}

// FileLoader reads volumes from disk, choosing the decompressor by
// extension: .bz2 (the archive format), .gz, or uncompressed JSON.
type FileLoader struct{}

var _ Loader = FileLoader{}

// Load implements Loader.
func (FileLoader) Load(path string) (*Volume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open record: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	switch {
	case strings.HasSuffix(path, ".bz2"):
		r = bzip2.NewReader(f)
	case strings.HasSuffix(path, ".gz"):
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open gzip record: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read record %s: %w", path, err)
	}
	return Decode(data)
}
