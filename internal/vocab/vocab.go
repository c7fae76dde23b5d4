// Package vocab provides the token allow-list used to restrict which tokens
// are counted.
package vocab

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Vocabulary is a fixed set of allowed tokens. A nil *Vocabulary allows
// every token.
type Vocabulary struct {
	words map[string]struct{}
}

// FromWords builds a vocabulary from words, lowercased.
func FromWords(words []string) *Vocabulary {
	v := &Vocabulary{words: make(map[string]struct{}, len(words))}
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			v.words[w] = struct{}{}
		}
	}
	return v
}

// Load reads a frequency-ordered word list, one word per line, keeping the
// first depth words. Blank lines and lines starting with '#' are skipped.
// A depth of zero keeps every word. An empty path returns nil, which allows
// everything.
func Load(path string, depth int) (*Vocabulary, error) {
	if path == "" {
		return nil, nil
	}
	if depth < 0 {
		return nil, fmt.Errorf("vocabulary depth must not be negative, got %d", depth)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vocabulary: %w", err)
	}
	defer f.Close()

	var words []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// Word lists often carry a frequency column after the word.
		if i := strings.IndexAny(line, " \t,"); i > 0 {
			line = line[:i]
		}
		words = append(words, line)
		if depth > 0 && len(words) == depth {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read vocabulary: %w", err)
	}

	return FromWords(words), nil
}

// Allow reports whether token is in the vocabulary.
func (v *Vocabulary) Allow(token string) bool {
	if v == nil {
		return true
	}
	_, ok := v.words[token]
	return ok
}

// Len returns the number of words, or -1 for the allow-all vocabulary.
func (v *Vocabulary) Len() int {
	if v == nil {
		return -1
	}
	return len(v.words)
}
