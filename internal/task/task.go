// Package task runs bulk_extractor over a batch of input files and gathers
// the rendered reports and kept artifacts into one result.
package task

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/bulkextractor-worker/internal/extractor"
	"github.com/yourorg/bulkextractor-worker/internal/model"
	"github.com/yourorg/bulkextractor-worker/internal/outputs"
	"github.com/yourorg/bulkextractor-worker/internal/report"
	"github.com/yourorg/bulkextractor-worker/internal/triage"
)

const (
	Name        = "bulkextractor-worker.tasks.bulkextractor"
	DisplayName = "Bulkextractor"
	Description = "Runs the bulk_extractor command against a file"

	ReportDataType = "bulkextractor:report"
)

// ErrNoOutputFiles is returned when no input of a batch produced a file.
var ErrNoOutputFiles = errors.New("error running bulk extractor, no files returned")

type Failure struct {
	Input string `json:"input"`
	Error string `json:"error"`
}

type Result struct {
	OutputFiles []model.OutputFile  `json:"output_files"`
	WorkflowID  string              `json:"workflow_id,omitempty"`
	Command     string              `json:"command"`
	Meta        map[string]any      `json:"meta"`
	FileReports []report.FileReport `json:"file_reports"`
	Failures    []Failure           `json:"failures,omitempty"`
}

// Encode returns the base64 JSON form handed to the next task in a pipeline.
func (r *Result) Encode() (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func Decode(s string) (*Result, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	var r Result
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Outcome is what one input file produced.
type Outcome struct {
	Input      model.InputFile
	Command    []string
	Report     *report.Report
	ReportFile model.OutputFile
	HTMLFile   model.OutputFile
	Artifacts  []model.OutputFile
	FileReport report.FileReport
}

// OutputFiles lists the report files followed by the artifacts.
func (o *Outcome) OutputFiles() []model.OutputFile {
	out := []model.OutputFile{o.ReportFile, o.HTMLFile}
	return append(out, o.Artifacts...)
}

// ReportXML returns the relocated copy of the extractor's own report.xml.
func (o *Outcome) ReportXML() (model.OutputFile, bool) {
	for _, a := range o.Artifacts {
		if a.Source == report.FileName {
			return a, true
		}
	}
	return model.OutputFile{}, false
}

type Processor struct {
	Runner extractor.Runner
	Log    logrus.FieldLogger
}

func NewProcessor(runner extractor.Runner, log logrus.FieldLogger) *Processor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Processor{Runner: runner, Log: log}
}

// Process handles every input in turn. A failing input is logged and
// recorded in Result.Failures; the rest of the batch still runs. Only a
// batch that produced no files at all is an error.
func (p *Processor) Process(ctx context.Context, inputs []model.InputFile, outputDir, workflowID string) (*Result, error) {
	res := &Result{
		OutputFiles: []model.OutputFile{},
		WorkflowID:  workflowID,
		Meta:        map[string]any{},
		FileReports: []report.FileReport{},
	}
	var errs []error
	for _, in := range inputs {
		out, err := p.ProcessFile(ctx, in, outputDir)
		if err != nil {
			p.Log.WithField("input", in.DisplayName).Errorf("processing failed: %v", err)
			res.Failures = append(res.Failures, Failure{Input: in.DisplayName, Error: err.Error()})
			errs = append(errs, fmt.Errorf("%s: %w", in.DisplayName, err))
			continue
		}
		res.Command = strings.Join(out.Command, " ")
		res.OutputFiles = append(res.OutputFiles, out.OutputFiles()...)
		res.FileReports = append(res.FileReports, out.FileReport)
	}
	if len(res.OutputFiles) == 0 {
		return nil, errors.Join(append([]error{ErrNoOutputFiles}, errs...)...)
	}
	return res, nil
}

// ProcessFile runs the extractor on one input into a scratch directory
// under outputDir, writes the markdown and HTML reports, and relocates the
// non-empty artifacts into outputDir. The scratch directory is always
// removed.
func (p *Processor) ProcessFile(ctx context.Context, in model.InputFile, outputDir string) (*Outcome, error) {
	log := p.Log.WithField("input", in.DisplayName)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	tmp := filepath.Join(outputDir, outputs.NewID())
	defer func() {
		if err := os.RemoveAll(tmp); err != nil {
			log.Warnf("remove %s: %v", tmp, err)
		}
	}()

	out := &Outcome{
		Input:      in,
		Command:    p.Runner.BaseCommand(tmp),
		ReportFile: outputs.NewFile(outputDir, "Report_"+in.DisplayName+".md", ReportDataType),
		HTMLFile:   outputs.NewFile(outputDir, "Report_"+in.DisplayName+".html", ReportDataType),
	}

	if err := p.Runner.Run(ctx, in.Path, tmp); err != nil {
		return nil, err
	}

	rep, err := report.Build(tmp)
	if err != nil {
		return nil, err
	}
	out.Report = rep
	if err := writeFile(&out.ReportFile, rep.ToMarkdown()); err != nil {
		return nil, fmt.Errorf("write report: %w", err)
	}
	if err := writeFile(&out.HTMLFile, rep.ToHTML()); err != nil {
		return nil, fmt.Errorf("write html report: %w", err)
	}

	artifacts, err := triage.New(log).Extract(tmp, outputDir)
	if err != nil {
		return nil, fmt.Errorf("triage: %w", err)
	}
	out.Artifacts = artifacts
	out.FileReport = report.NewFileReport(in, out.ReportFile, rep)

	log.WithFields(logrus.Fields{
		"artifacts": len(artifacts),
		"scanners":  len(rep.ScannerResults),
	}).Info(rep.Summary)
	return out, nil
}

func writeFile(f *model.OutputFile, content string) error {
	if err := os.WriteFile(f.Path, []byte(content), 0o644); err != nil {
		return err
	}
	f.Size = int64(len(content))
	return nil
}
