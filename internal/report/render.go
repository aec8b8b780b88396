package report

import (
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/olekukonko/tablewriter"
	blackfriday "github.com/russross/blackfriday/v2"

	"github.com/yourorg/bulkextractor-worker/internal/xmlattr"
)

// ToMarkdown renders the report. The output depends only on the report
// value.
func (r *Report) ToMarkdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n%s\n", r.Title, r.Summary)
	if !r.Available {
		return b.String()
	}

	b.WriteString("\n## Run Details\n\n")
	for _, d := range [][2]string{
		{"Program", r.Program},
		{"Version", r.Version},
		{"Command line", codeSpan(r.CommandLine)},
		{"Start time", r.StartTime},
		{"Elapsed seconds", r.ElapsedSeconds},
	} {
		fmt.Fprintf(&b, "- **%s:** %s\n", d[0], d[1])
	}

	if len(r.ScannerResults) == 0 {
		fmt.Fprintf(&b, "\n%s\n", NoFindings)
		return b.String()
	}

	b.WriteString("\n## Scanner Results\n\n")
	table := tablewriter.NewWriter(&b)
	table.SetHeader([]string{"Scanner", "Count"})
	table.SetBorders(tablewriter.Border{Left: true, Top: false, Right: true, Bottom: false})
	table.SetCenterSeparator("|")
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	for _, s := range r.ScannerResults {
		table.Append([]string{escapeCell(s.Name), strconv.FormatInt(s.Count, 10)})
	}
	table.Render()
	return b.String()
}

// ToHTML renders the markdown as a sanitized standalone HTML page.
func (r *Report) ToHTML() string {
	body := blackfriday.Run([]byte(r.ToMarkdown()))
	body = bluemonday.UGCPolicy().SanitizeBytes(body)
	return fmt.Sprintf(
		"<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>%s</title>\n</head>\n<body>\n%s</body>\n</html>\n",
		html.EscapeString(r.Title), body)
}

func codeSpan(s string) string {
	if s == xmlattr.NotAvailable || s == "" || strings.Contains(s, "`") {
		return s
	}
	return "`" + s + "`"
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
