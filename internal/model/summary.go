package model

// Summary is the small per-job digest stored next to the job row.
type Summary struct {
	ReportAvailable bool   `json:"report_available"`
	Artifacts       int    `json:"artifacts_extracted"`
	Scanners        int    `json:"scanners_with_findings"`
	OutputFiles     int    `json:"output_files"`
	Elapsed         string `json:"elapsed_seconds"`
}
