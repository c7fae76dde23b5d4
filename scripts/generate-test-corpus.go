//go:build ignore

// Package main generates a synthetic corpus of gzipped volumes for
// benchmarking runs.
// Usage: go run scripts/generate-test-corpus.go -volumes 1000 -output testdata/bench
//
// Count it with a config whose corpus.suffix is ".gz".
package main

import (
	"compress/gzip"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
)

var (
	numVolumes = flag.Int("volumes", 1000, "Number of volumes to generate")
	numPages   = flag.Int("pages", 200, "Pages per volume")
	outputDir  = flag.String("output", "testdata/bench", "Output directory")
	firstYear  = flag.Int("from", 1800, "Earliest publication year")
	lastYear   = flag.Int("to", 1920, "Latest publication year")
	seed       = flag.Int64("seed", 42, "Random seed for reproducibility")
)

// Word pool, roughly ordered by frequency so low ranks are drawn more often.
var words = []string{
	"the", "of", "and", "to", "a", "in", "that", "is", "was", "he",
	"for", "it", "with", "as", "his", "on", "be", "at", "by", "had",
	"literature", "poetry", "novel", "author", "reader", "book", "history", "sea", "whale", "ship",
	"letters", "criticism", "drama", "verse", "prose", "style", "genius", "taste", "fiction", "romance",
}

// Parts of speech a token's count is split over.
var tags = []string{"NN", "NNP", "VB", "JJ"}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	if *lastYear < *firstYear {
		fmt.Fprintln(os.Stderr, "Error: -to must not be before -from")
		os.Exit(1)
	}

	// Ten volumes per directory, like a sharded archive.
	for i := 0; i < *numVolumes; i++ {
		dir := filepath.Join(*outputDir, fmt.Sprintf("%03d", i/10))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating output directory: %v\n", err)
			os.Exit(1)
		}

		id := fmt.Sprintf("bench.%06d", i)
		year := *firstYear + rng.Intn(*lastYear-*firstYear+1)
		path := filepath.Join(dir, id+".json.gz")
		if err := writeVolume(path, volume(rng, id, year)); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", path, err)
			os.Exit(1)
		}

		if (i+1)%100 == 0 {
			fmt.Printf("Generated %d/%d volumes\n", i+1, *numVolumes)
		}
	}

	fmt.Printf("\nGenerated %d volumes in %s\n", *numVolumes, *outputDir)
}

func volume(rng *rand.Rand, id string, year int) map[string]any {
	pages := make([]any, 0, *numPages)
	for p := 0; p < *numPages; p++ {
		tpc := map[string]any{}
		var total int
		for n := 0; n < 50+rng.Intn(250); n++ {
			// Squaring a uniform draw skews toward frequent words.
			r := rng.Float64()
			word := words[int(r*r*float64(len(words)))]
			tag := tags[rng.Intn(len(tags))]

			counts, ok := tpc[word].(map[string]int)
			if !ok {
				counts = map[string]int{}
				tpc[word] = counts
			}
			counts[tag]++
			total++
		}
		pages = append(pages, map[string]any{
			"body": map[string]any{
				"tokenCount":    total,
				"tokenPosCount": tpc,
			},
		})
	}

	return map[string]any{
		"id": id,
		"metadata": map[string]any{
			"pubDate":  strconv.Itoa(year),
			"language": "eng",
		},
		"features": map[string]any{"pages": pages},
	}
}

func writeVolume(path string, doc map[string]any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	if err := json.NewEncoder(gz).Encode(doc); err != nil {
		return err
	}
	return gz.Close()
}
