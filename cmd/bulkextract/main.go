// Command bulkextract runs the extraction pipeline locally, without the
// job queue or object storage.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/alecthomas/kingpin/v2"
	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"

	"github.com/yourorg/bulkextractor-worker/internal/extractor"
	"github.com/yourorg/bulkextractor-worker/internal/logging"
	"github.com/yourorg/bulkextractor-worker/internal/model"
	"github.com/yourorg/bulkextractor-worker/internal/report"
	"github.com/yourorg/bulkextractor-worker/internal/task"
	"github.com/yourorg/bulkextractor-worker/internal/triage"
)

var (
	app = kingpin.New("bulkextract", "Run bulk_extractor and summarise its output.")

	logLevel  = app.Flag("log-level", "Log level.").Envar("LOG_LEVEL").Default("info").String()
	logFormat = app.Flag("log-format", "Log format (text or json).").Envar("LOG_FORMAT").Default("text").String()

	runCmd      = app.Command("run", "Run bulk_extractor on input files and collect the results.")
	runOutput   = runCmd.Flag("output", "Output directory.").Short('o').Required().String()
	runTool     = runCmd.Flag("extractor", "Path to bulk_extractor.").Envar("EXTRACTOR_PATH").Default(extractor.DefaultPath).String()
	runArgs     = runCmd.Flag("arg", "Extra argument passed to bulk_extractor (repeatable).").Strings()
	runWorkflow = runCmd.Flag("workflow", "Workflow id recorded in the result.").String()
	runEncode   = runCmd.Flag("encode", "Print the base64 pipe result instead of JSON.").Bool()
	runInputs   = runCmd.Arg("inputs", "Input files.").Required().ExistingFiles()

	reportCmd    = app.Command("report", "Summarise an existing bulk_extractor output directory.")
	reportFormat = reportCmd.Flag("format", "Output format.").Default("markdown").Enum("markdown", "html", "json")
	reportDir    = reportCmd.Arg("dir", "bulk_extractor output directory.").Required().ExistingDir()

	triageCmd = app.Command("triage", "Copy non-empty artifacts out of an output directory.")
	triageSrc = triageCmd.Arg("src", "bulk_extractor output directory.").Required().ExistingDir()
	triageDst = triageCmd.Arg("dst", "Destination directory.").Required().String()
)

func main() {
	_ = godotenv.Load()
	command := kingpin.MustParse(app.Parse(os.Args[1:]))
	log := logging.Setup(*logLevel, *logFormat)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var err error
	switch command {
	case runCmd.FullCommand():
		err = doRun(ctx, os.Stdout)
	case reportCmd.FullCommand():
		err = doReport(os.Stdout)
	case triageCmd.FullCommand():
		err = doTriage(os.Stdout)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func doRun(ctx context.Context, out io.Writer) error {
	inputs := make([]model.InputFile, 0, len(*runInputs))
	for _, p := range *runInputs {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		inputs = append(inputs, model.InputFile{DisplayName: filepath.Base(p), Path: abs})
	}

	proc := task.NewProcessor(extractor.New(*runTool, *runArgs), nil)
	res, err := proc.Process(ctx, inputs, *runOutput, *runWorkflow)
	if err != nil {
		return err
	}
	if *runEncode {
		encoded, err := res.Encode()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, encoded)
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func doReport(out io.Writer) error {
	rep, err := report.Build(*reportDir)
	if err != nil {
		return err
	}
	switch *reportFormat {
	case "html":
		_, err = io.WriteString(out, rep.ToHTML())
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		err = enc.Encode(rep)
	default:
		_, err = io.WriteString(out, rep.ToMarkdown())
	}
	return err
}

func doTriage(out io.Writer) error {
	records, err := triage.Extract(*triageSrc, *triageDst)
	if err != nil {
		return err
	}
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"ID", "Name", "Source", "Size"})
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	for _, r := range records {
		table.Append([]string{r.ID, r.DisplayName, r.Source, humanize.Bytes(uint64(r.Size))})
	}
	table.SetCaption(true, fmt.Sprintf("%d artifacts copied to %s", len(records), *triageDst))
	table.Render()
	return nil
}
