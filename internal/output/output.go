// Package output formats CLI results as aligned text or JSON.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// Formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Writer writes command results.
type Writer struct {
	out    io.Writer
	format string
}

// New creates a Writer. An unknown format is an error.
func New(out io.Writer, format string) (*Writer, error) {
	switch format {
	case "", FormatText:
		format = FormatText
	case FormatJSON:
	default:
		return nil, fmt.Errorf("unknown output format %q (use text or json)", format)
	}
	return &Writer{out: out, format: format}, nil
}

// JSON reports whether results are written as JSON.
func (w *Writer) JSON() bool {
	return w.format == FormatJSON
}

// Status prints a status line with an icon. Suppressed in JSON mode so
// stdout stays parseable.
func (w *Writer) Status(icon, msg string) {
	if w.JSON() {
		return
	}
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

// Statusf prints a formatted status line.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a success line.
func (w *Writer) Success(msg string) {
	w.Status("✓", msg)
}

// Successf prints a formatted success line.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning line.
func (w *Writer) Warning(msg string) {
	w.Status("!", msg)
}

// Warningf prints a formatted warning line.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Result writes v as indented JSON in JSON mode. In text mode it writes
// headers and rows as an aligned table; rows are produced lazily by text so
// that JSON callers never format cells.
func (w *Writer) Result(v any, headers []string, text func() [][]string) error {
	if w.JSON() {
		enc := json.NewEncoder(w.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return w.Table(headers, text())
}

// Table writes an aligned table. A nil or empty headers slice omits the
// header line.
func (w *Writer) Table(headers []string, rows [][]string) error {
	tw := tabwriter.NewWriter(w.out, 0, 4, 2, ' ', 0)
	if len(headers) > 0 {
		_, _ = fmt.Fprintln(tw, strings.Join(headers, "\t"))
	}
	for _, row := range rows {
		_, _ = fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}
