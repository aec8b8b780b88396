package xmlattr

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleXML = `<?xml version="1.0"?>
<report>
  <creator version="1.0">
    <program>BULK_EXTRACTOR</program>
    <version>2.1.1</version>
    <execution_environment>
      <command_line>bulk_extractor -o output input.txt</command_line>
      <start_time>2023-10-27T10:00:00</start_time>
    </execution_environment>
  </creator>
  <elapsed_seconds>10</elapsed_seconds>
  <notes></notes>
  <feature_files>
    <feature_file><name>email.txt</name><count>5</count></feature_file>
    <feature_file><name>url.txt</name><count>0</count></feature_file>
  </feature_files>
</report>`

func parseSample(t *testing.T) *Document {
	t.Helper()
	doc, err := Parse(strings.NewReader(sampleXML))
	require.NoError(t, err)
	return doc
}

func TestLookupPresentPaths(t *testing.T) {
	doc := parseSample(t)
	assert.Equal(t, "report", doc.Root)

	cases := map[string]string{
		"creator/program": "BULK_EXTRACTOR",
		"creator/version": "2.1.1",
		"creator/execution_environment/command_line": "bulk_extractor -o output input.txt",
		"creator/execution_environment/start_time":   "2023-10-27T10:00:00",
		"elapsed_seconds": "10",
	}
	for path, want := range cases {
		got, ok := doc.Lookup(path)
		assert.True(t, ok, path)
		assert.Equal(t, want, got, path)
		assert.Equal(t, want, doc.Text(path), path)
	}
}

func TestLookupAbsentPaths(t *testing.T) {
	doc := parseSample(t)
	for _, path := range []string{
		"nonexistent_tag",
		"creator/missing",
		"creator/execution_environment/missing/deeper",
		"notes",
		"feature_files",
		"",
	} {
		_, ok := doc.Lookup(path)
		assert.False(t, ok, path)
		assert.Equal(t, NotAvailable, doc.Text(path), path)
	}
}

func TestChildrenKeepsDocumentOrder(t *testing.T) {
	doc := parseSample(t)
	files := doc.Children("feature_files/feature_file")
	require.Len(t, files, 2)
	assert.Equal(t, "email.txt", files[0].Text("name"))
	assert.Equal(t, "5", files[0].Text("count"))
	assert.Equal(t, "url.txt", files[1].Text("name"))

	assert.Empty(t, doc.Children("missing/feature_file"))
}

func TestChildrenSingleElement(t *testing.T) {
	doc, err := Parse(strings.NewReader(
		`<report><feature_files><feature_file><name>a</name><count>1</count></feature_file></feature_files></report>`))
	require.NoError(t, err)
	files := doc.Children("feature_files/feature_file")
	require.Len(t, files, 1)
	assert.Equal(t, "a", files[0].Text("name"))
}

func TestZeroNode(t *testing.T) {
	var n Node
	assert.Equal(t, NotAvailable, n.Text("anything"))
	assert.Empty(t, n.Children("anything"))
}

func TestParseMalformed(t *testing.T) {
	_, err := Parse(strings.NewReader(`<report><creator><program>x</creator></report>`))
	assert.Error(t, err)
}

func TestParseTrailingJunk(t *testing.T) {
	for name, input := range map[string]string{
		"unclosed tag": `<report><elapsed_seconds>3</elapsed_seconds></report><oops`,
		"second root":  `<report><elapsed_seconds>3</elapsed_seconds></report><report/>`,
		"text":         `<report/>trailing`,
		"empty":        ``,
	} {
		_, err := Parse(strings.NewReader(input))
		assert.Error(t, err, name)
	}
}

func TestParseAllowsTrailingMisc(t *testing.T) {
	doc, err := Parse(strings.NewReader("<report><elapsed_seconds>3</elapsed_seconds></report>\n<!-- end -->\n<?done?>\n"))
	require.NoError(t, err)
	assert.Equal(t, "3", doc.Text("elapsed_seconds"))
}

func TestLookupTrimsWhitespace(t *testing.T) {
	doc, err := Parse(strings.NewReader("<report><a>  x y \n</a><b>   </b></report>"))
	require.NoError(t, err)
	assert.Equal(t, "x y", doc.Text("a"))
	_, ok := doc.Lookup("b")
	assert.False(t, ok)
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.xml")
	require.NoError(t, os.WriteFile(path, []byte(sampleXML), 0o600))

	doc, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "BULK_EXTRACTOR", doc.Text("creator/program"))

	_, err = ParseFile(filepath.Join(t.TempDir(), "missing.xml"))
	assert.Error(t, err)
}
