// Package corpus enumerates record references under a corpus root and
// groups them into fixed-size batches for dispatch.
package corpus

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	holerrors "github.com/davidmcclure/history-of-literature/internal/errors"
)

// Options configures a Corpus.
type Options struct {
	// Root is the corpus directory.
	Root string
	// Suffix keeps only files whose name ends with it. Empty keeps all files.
	Suffix string
}

// PathResult is one enumerated reference or a walk error.
type PathResult struct {
	Path string
	Err  error
}

// Corpus is a tree of record files, or a fixed list of them.
type Corpus struct {
	root   string
	suffix string
	// explicit is set by FromPaths; fixed may then be empty.
	explicit bool
	fixed    []string
}

// New validates the root and returns a Corpus over it.
func New(opts Options) (*Corpus, error) {
	if opts.Root == "" {
		return nil, holerrors.New(holerrors.ErrCodeCorpusMissing, "corpus root is not set", nil).
			WithSuggestion("set corpus.root in .hol.yaml or HOL_CORPUS")
	}

	absRoot, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve corpus root: %w", err)
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, holerrors.New(holerrors.ErrCodeCorpusMissing, "corpus root not found", err).
			WithDetail("root", absRoot)
	}
	if !info.IsDir() {
		return nil, holerrors.New(holerrors.ErrCodeCorpusMissing, "corpus root is not a directory", nil).
			WithDetail("root", absRoot)
	}

	return &Corpus{root: absRoot, suffix: opts.Suffix}, nil
}

// FromPaths returns a Corpus over an explicit list of references, in order.
func FromPaths(paths []string) *Corpus {
	fixed := make([]string, len(paths))
	copy(fixed, paths)
	return &Corpus{explicit: true, fixed: fixed}
}

// Root returns the absolute corpus root, or "" for a Corpus from FromPaths.
func (c *Corpus) Root() string {
	return c.root
}

// Paths streams every reference. The channel is closed when the walk ends
// or ctx is cancelled. Hidden entries and symlinks are skipped.
func (c *Corpus) Paths(ctx context.Context) <-chan PathResult {
	results := make(chan PathResult, 256)

	go func() {
		defer close(results)
		if c.explicit {
			for _, p := range c.fixed {
				select {
				case results <- PathResult{Path: p}:
				case <-ctx.Done():
					return
				}
			}
			return
		}
		c.walk(ctx, results)
	}()

	return results
}

func (c *Corpus) walk(ctx context.Context, results chan<- PathResult) {
	err := filepath.WalkDir(c.root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			return err
		}

		name := d.Name()
		if path != c.root && strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || d.Type()&fs.ModeSymlink != 0 || !d.Type().IsRegular() {
			return nil
		}
		if c.suffix != "" && !strings.HasSuffix(name, c.suffix) {
			return nil
		}

		select {
		case results <- PathResult{Path: path}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	if err != nil && ctx.Err() == nil {
		select {
		case results <- PathResult{Err: fmt.Errorf("walk corpus: %w", err)}:
		case <-ctx.Done():
		}
	}
}

// Snapshot walks the corpus once and returns a fixed Corpus over the
// references found. Batching the snapshot dispatches exactly what was
// counted, without a second walk.
func (c *Corpus) Snapshot(ctx context.Context) (*Corpus, error) {
	if c.explicit {
		return c, nil
	}

	var paths []string
	for r := range c.Paths(ctx) {
		if r.Err != nil {
			return nil, r.Err
		}
		paths = append(paths, r.Path)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Corpus{root: c.root, suffix: c.suffix, explicit: true, fixed: paths}, nil
}

// Len returns the number of references in a fixed Corpus, or -1 for a tree
// that has not been walked.
func (c *Corpus) Len() int {
	if !c.explicit {
		return -1
	}
	return len(c.fixed)
}
