package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Entry is one parsed log line.
type Entry struct {
	Time  time.Time
	Level string
	Msg   string
	// Source names the process that wrote the line: "coordinator" or
	// "worker-N".
	Source string
	Attrs  map[string]any
	Raw    string
	// Valid is false when the line is not JSON; Raw is then shown as is.
	Valid bool
}

// ViewerConfig configures a Viewer.
type ViewerConfig struct {
	// Level hides entries below it.
	Level string
	// Pattern, when set, keeps only raw lines it matches.
	Pattern *regexp.Regexp
	NoColor bool
	// ShowSource prefixes each line with its source.
	ShowSource bool
}

// Viewer reads, filters and formats hol log files. Lines from several
// ranks are merged into one timeline.
type Viewer struct {
	config ViewerConfig
	out    io.Writer

	levelStyles map[string]lipgloss.Style
	sourceStyle lipgloss.Style
}

// NewViewer creates a viewer printing to out.
func NewViewer(cfg ViewerConfig, out io.Writer) *Viewer {
	v := &Viewer{config: cfg, out: out, levelStyles: map[string]lipgloss.Style{}}
	if !cfg.NoColor {
		v.levelStyles = map[string]lipgloss.Style{
			"DEBUG": lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280")),
			"INFO":  lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")),
			"WARN":  lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B")),
			"ERROR": lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")),
		}
		v.sourceStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#22D3EE"))
	}
	return v
}

// SourceFromPath derives the source label from a log file name.
func SourceFromPath(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), ".log")
	if strings.HasPrefix(base, "worker-") {
		if _, err := strconv.Atoi(strings.TrimPrefix(base, "worker-")); err == nil {
			return base
		}
	}
	if base == "hol" {
		return "coordinator"
	}
	return base
}

// Tail returns the matching entries among the last n lines of each file,
// merged by time and cut to the last n. Missing files are skipped.
func (v *Viewer) Tail(paths []string, n int) ([]Entry, error) {
	var all []Entry
	for _, path := range paths {
		lines, err := lastLines(path, n)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		source := SourceFromPath(path)
		for _, line := range lines {
			if e := v.Parse(line, source); v.Matches(e) {
				all = append(all, e)
			}
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Time.Before(all[j].Time)
	})
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

func lastLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if n > 0 && len(lines) > 2*n {
			lines = append(lines[:0], lines[len(lines)-n:]...)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log file %s: %w", path, err)
	}
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

// Follow polls every file for appended lines and sends matching entries
// until ctx is cancelled. Files that do not exist yet are picked up when
// they appear.
func (v *Viewer) Follow(ctx context.Context, paths []string, interval time.Duration, entries chan<- Entry) error {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	type tailed struct {
		path    string
		source  string
		file    *os.File
		reader  *bufio.Reader
		partial string
	}
	files := make([]*tailed, 0, len(paths))
	for _, p := range paths {
		files = append(files, &tailed{path: p, source: SourceFromPath(p)})
	}
	defer func() {
		for _, t := range files {
			if t.file != nil {
				_ = t.file.Close()
			}
		}
	}()

	open := func(t *tailed, atEnd bool) {
		f, err := os.Open(t.path)
		if err != nil {
			return
		}
		if atEnd {
			if _, err := f.Seek(0, io.SeekEnd); err != nil {
				_ = f.Close()
				return
			}
		}
		t.file = f
		t.reader = bufio.NewReader(f)
	}
	for _, t := range files {
		open(t, true)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		for _, t := range files {
			if t.file == nil {
				open(t, false)
				if t.file == nil {
					continue
				}
			}
			for {
				line, err := t.reader.ReadString('\n')
				if err != nil {
					// Keep a partial line for the next tick.
					t.partial += line
					break
				}
				line = t.partial + strings.TrimSuffix(line, "\n")
				t.partial = ""
				if line == "" {
					continue
				}
				if e := v.Parse(line, t.source); v.Matches(e) {
					select {
					case entries <- e:
					case <-ctx.Done():
						return nil
					}
				}
			}
		}
	}
}

// Parse decodes a JSON log line. A "rank" attribute overrides source.
func (v *Viewer) Parse(line, source string) Entry {
	e := Entry{Raw: line, Source: source}

	var data map[string]any
	if err := json.Unmarshal([]byte(line), &data); err != nil {
		return e
	}
	e.Valid = true

	if s, ok := data["time"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			e.Time = t
		}
	}
	e.Level, _ = data["level"].(string)
	e.Msg, _ = data["msg"].(string)
	if rank, ok := data["rank"].(float64); ok && rank > 0 {
		e.Source = fmt.Sprintf("worker-%d", int(rank))
	}

	e.Attrs = make(map[string]any, len(data))
	for k, val := range data {
		switch k {
		case "time", "level", "msg", "rank":
		default:
			e.Attrs[k] = val
		}
	}
	return e
}

// Matches reports whether e passes the level and pattern filters.
func (v *Viewer) Matches(e Entry) bool {
	if v.config.Level != "" && e.Valid && ParseLevel(e.Level) < ParseLevel(v.config.Level) {
		return false
	}
	if v.config.Pattern != nil && !v.config.Pattern.MatchString(e.Raw) {
		return false
	}
	return true
}

// Format renders one entry: time, level, optional source, message, then
// attributes in key order.
func (v *Viewer) Format(e Entry) string {
	if !e.Valid {
		return e.Raw
	}

	var sb strings.Builder
	sb.WriteString(e.Time.Format("15:04:05.000"))
	sb.WriteByte(' ')
	sb.WriteString(v.formatLevel(e.Level))
	sb.WriteByte(' ')
	if v.config.ShowSource && e.Source != "" {
		sb.WriteString(v.sourceStyle.Render("[" + e.Source + "]"))
		sb.WriteByte(' ')
	}
	sb.WriteString(e.Msg)

	keys := make([]string, 0, len(e.Attrs))
	for k := range e.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v", k, e.Attrs[k])
	}
	return sb.String()
}

func (v *Viewer) formatLevel(level string) string {
	label := strings.ToUpper(level)
	if len(label) > 5 {
		label = label[:5]
	}
	label = fmt.Sprintf("%-5s", label)
	if style, ok := v.levelStyles[strings.TrimSpace(label)]; ok {
		return style.Render(label)
	}
	return label
}

// Print writes entries to the viewer's output.
func (v *Viewer) Print(entries []Entry) {
	for _, e := range entries {
		_, _ = fmt.Fprintln(v.out, v.Format(e))
	}
}
