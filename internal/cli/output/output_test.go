package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatTable, "TABLE": FormatTable, "json": FormatJSON, " yml ": FormatYAML} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseFormat("xml")
	assert.ErrorContains(t, err, "invalid output format")
}

func TestPrint_Table(t *testing.T) {
	tbl := NewTable("NAME", "DRIVER")
	tbl.AddRow("public", "memory")
	tbl.AddRow("archive", "s3")

	var buf bytes.Buffer
	require.NoError(t, Print(&buf, FormatTable, tbl))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "NAME")
	assert.Contains(t, lines[1], "public")
	assert.Contains(t, lines[2], "s3")
}

func TestPrint_TableFallsBackToJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Print(&buf, FormatTable, map[string]int{"shares": 2}))
	assert.JSONEq(t, `{"shares":2}`, buf.String())
}

func TestPrintJSON_NoHTMLEscaping(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintJSON(&buf, map[string]string{"secret": "<redacted>"}))
	assert.Contains(t, buf.String(), `"<redacted>"`)
	assert.NotContains(t, buf.String(), `\u003c`)
}

func TestPrint_YAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Print(&buf, FormatYAML, map[string]string{"name": "public"}))
	assert.Equal(t, "name: public\n", buf.String())
}

func TestPrint_UnknownFormat(t *testing.T) {
	assert.Error(t, Print(&bytes.Buffer{}, Format("xml"), nil))
}
