// Package report turns the bulk_extractor XML run report into a summary
// with a per-scanner result table.
package report

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/yourorg/bulkextractor-worker/internal/xmlattr"
)

const (
	// FileName is the report bulk_extractor writes at the root of its
	// output directory.
	FileName = "report.xml"

	Title = "Bulk Extractor Results"

	// Unavailable is both the title and the summary of a report built from
	// a directory without report.xml.
	Unavailable = "Execution successful, but the report is not available."

	NoFindings = "There are no findings to report."
)

// ErrMalformedReport marks a report.xml that exists but cannot be parsed.
var ErrMalformedReport = errors.New("malformed report")

type ScannerResult struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// Report is the summary of one extractor run. Unknown run details hold
// xmlattr.NotAvailable.
type Report struct {
	Title          string          `json:"title"`
	Summary        string          `json:"summary"`
	Available      bool            `json:"available"`
	Program        string          `json:"program,omitempty"`
	Version        string          `json:"version,omitempty"`
	CommandLine    string          `json:"command_line,omitempty"`
	StartTime      string          `json:"start_time,omitempty"`
	ElapsedSeconds string          `json:"elapsed_seconds,omitempty"`
	ScannerResults []ScannerResult `json:"scanner_results"`
}

// Fallback is the report of a run that produced no report.xml.
func Fallback() *Report {
	return &Report{
		Title:          Unavailable,
		Summary:        Unavailable,
		ScannerResults: []ScannerResult{},
	}
}

// Build summarises the extractor output in dir. A missing report.xml is
// not an error and yields Fallback(); a present but unparsable one fails
// with ErrMalformedReport.
func Build(dir string) (*Report, error) {
	path := filepath.Join(dir, FileName)
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Fallback(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return Read(f)
}

// Read builds a report from an XML stream.
func Read(r io.Reader) (*Report, error) {
	doc, err := xmlattr.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedReport, err)
	}
	return FromDocument(doc), nil
}

// FromDocument builds a report from an already parsed document.
func FromDocument(doc *xmlattr.Document) *Report {
	r := &Report{
		Title:          Title,
		Available:      true,
		Program:        doc.Text("creator/program"),
		Version:        doc.Text("creator/version"),
		CommandLine:    doc.Text("creator/execution_environment/command_line"),
		StartTime:      doc.Text("creator/execution_environment/start_time"),
		ElapsedSeconds: doc.Text("elapsed_seconds"),
		ScannerResults: []ScannerResult{},
	}

	var total int64
	for _, ff := range doc.Children("feature_files/feature_file") {
		count, ok := parseCount(ff.Text("count"))
		if !ok {
			continue
		}
		r.ScannerResults = append(r.ScannerResults, ScannerResult{
			Name:  ff.Text("name"),
			Count: count,
		})
		total += count
	}

	if len(r.ScannerResults) > 0 {
		r.Summary = fmt.Sprintf("%d artifacts have been extracted. %s", total, elapsedSentence(r.ElapsedSeconds))
	} else {
		r.Summary = "No artifacts have been extracted. " + elapsedSentence(r.ElapsedSeconds)
	}
	return r
}

// TotalArtifacts is the sum of all scanner counts.
func (r *Report) TotalArtifacts() int64 {
	var total int64
	for _, s := range r.ScannerResults {
		total += s.Count
	}
	return total
}

// parseCount accepts strictly positive integers only. Zero counts belong to
// scanners that ran and matched nothing.
func parseCount(raw string) (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func elapsedSentence(elapsed string) string {
	if elapsed == xmlattr.NotAvailable {
		return "Elapsed time: N/A."
	}
	return "Elapsed time: " + elapsed + " seconds."
}
