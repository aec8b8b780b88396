package model

// InputFile is a file handed to the worker for extraction.
type InputFile struct {
	ID          string `json:"id,omitempty"`
	DisplayName string `json:"display_name"`
	Path        string `json:"path"`
}

// OutputFile is a produced file registered under a fresh identifier. Files
// relocated out of the extractor's output directory are recorded this way,
// as is the rendered report. Source is the path a relocated file came from,
// relative to the directory that was triaged.
type OutputFile struct {
	ID          string `json:"uuid"`
	DisplayName string `json:"display_name"`
	Extension   string `json:"extension"`
	Path        string `json:"path"`
	DataType    string `json:"data_type"`
	Size        int64  `json:"size,omitempty"`
	SHA256      string `json:"sha256,omitempty"`
	Source      string `json:"source,omitempty"`
}
