package logging

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// DefaultLogDir returns ~/.hol/logs, falling back to the temp directory.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".hol", "logs")
	}
	return filepath.Join(home, ".hol", "logs")
}

// DefaultLogPath is the coordinator log file.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "hol.log")
}

// WorkerLogPath is the log file for one worker rank.
func WorkerLogPath(rank int) string {
	return filepath.Join(DefaultLogDir(), fmt.Sprintf("worker-%d.log", rank))
}

// LogFiles returns the coordinator log and every worker log in dir, workers
// in rank order. The coordinator log is listed even if it does not exist.
func LogFiles(dir string) ([]string, error) {
	workers, err := filepath.Glob(filepath.Join(dir, "worker-*.log"))
	if err != nil {
		return nil, err
	}
	sort.Slice(workers, func(i, j int) bool {
		return workerRank(workers[i]) < workerRank(workers[j])
	})
	return append([]string{filepath.Join(dir, "hol.log")}, workers...), nil
}

func workerRank(path string) int {
	base := strings.TrimSuffix(filepath.Base(path), ".log")
	n, err := strconv.Atoi(strings.TrimPrefix(base, "worker-"))
	if err != nil {
		return math.MaxInt
	}
	return n
}
