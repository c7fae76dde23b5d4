package output

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Formats(t *testing.T) {
	for _, format := range []string{"", FormatText, FormatJSON} {
		_, err := New(&bytes.Buffer{}, format)
		assert.NoError(t, err, format)
	}

	_, err := New(&bytes.Buffer{}, "yaml")
	assert.Error(t, err)
}

func TestWriter_StatusLines(t *testing.T) {
	// Given: a text writer
	buf := &bytes.Buffer{}
	w, err := New(buf, FormatText)
	require.NoError(t, err)

	// When: printing status lines
	w.Successf("flushed %d rows", 12)
	w.Warning("vocabulary not set")
	w.Status("", "indented")

	// Then: each line carries its icon
	assert.Equal(t, "✓ flushed 12 rows\n! vocabulary not set\n   indented\n", buf.String())
}

func TestWriter_JSONSuppressesStatus(t *testing.T) {
	buf := &bytes.Buffer{}
	w, err := New(buf, FormatJSON)
	require.NoError(t, err)

	w.Success("done")

	assert.Empty(t, buf.String())
}

func TestWriter_ResultText(t *testing.T) {
	buf := &bytes.Buffer{}
	w, err := New(buf, FormatText)
	require.NoError(t, err)

	err = w.Result(nil, []string{"YEAR", "TOTAL"}, func() [][]string {
		return [][]string{{"1901", "5"}, {"1902", "12345"}}
	})
	require.NoError(t, err)

	assert.Equal(t, "YEAR  TOTAL\n1901  5\n1902  12345\n", buf.String())
}

func TestWriter_ResultJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	w, err := New(buf, FormatJSON)
	require.NoError(t, err)

	called := false
	err = w.Result(map[string]int{"1901": 5}, []string{"YEAR"}, func() [][]string {
		called = true
		return nil
	})
	require.NoError(t, err)

	assert.False(t, called)
	var decoded map[string]int
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, 5, decoded["1901"])
}
