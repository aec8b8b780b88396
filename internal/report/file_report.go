package report

import "github.com/yourorg/bulkextractor-worker/internal/model"

// FileReport pairs an input file with the report rendered for it.
type FileReport struct {
	InputFileID     string          `json:"input_file_uuid,omitempty"`
	InputFileName   string          `json:"input_file_display_name"`
	ReportFileID    string          `json:"report_file_uuid"`
	ReportFileName  string          `json:"report_file_display_name"`
	Title           string          `json:"title"`
	Summary         string          `json:"summary"`
	ReportAvailable bool            `json:"report_available"`
	ScannerResults  []ScannerResult `json:"scanner_results"`
	Content         string          `json:"content"`
}

func NewFileReport(input model.InputFile, reportFile model.OutputFile, r *Report) FileReport {
	return FileReport{
		InputFileID:     input.ID,
		InputFileName:   input.DisplayName,
		ReportFileID:    reportFile.ID,
		ReportFileName:  reportFile.DisplayName,
		Title:           r.Title,
		Summary:         r.Summary,
		ReportAvailable: r.Available,
		ScannerResults:  r.ScannerResults,
		Content:         r.ToMarkdown(),
	}
}
