package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// FormatForCLI formats an error for terminal output.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	var he *HolError
	if !stderrors.As(err, &he) {
		he = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Error: %s\n", err.Error()))

	if he.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("  Hint: %s\n", he.Suggestion))
	}

	sb.WriteString(fmt.Sprintf("  Code: %s\n", he.Code))

	return sb.String()
}

// LogAttrs formats an error as key-value pairs for slog.
func LogAttrs(err error) []any {
	if err == nil {
		return nil
	}

	var he *HolError
	if !stderrors.As(err, &he) {
		return []any{"error", err.Error()}
	}

	attrs := []any{
		"error", err.Error(),
		"error_code", he.Code,
		"severity", string(he.Severity),
	}
	for k, v := range he.Details {
		attrs = append(attrs, "detail_"+k, v)
	}
	return attrs
}
