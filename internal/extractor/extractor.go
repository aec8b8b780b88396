// Package extractor runs the bulk_extractor binary.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"
)

const DefaultPath = "bulk_extractor"

// ErrNoOutput is returned when the tool exits cleanly without creating its
// output directory.
var ErrNoOutput = errors.New("extractor produced no output directory")

// ExitError reports a non-zero exit status.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("extractor exited with status %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// Runner runs the extractor against one input file, writing into outDir.
type Runner interface {
	Run(ctx context.Context, input, outDir string) error
	// BaseCommand is the command line without the input path.
	BaseCommand(outDir string) []string
}

type Command struct {
	Path string
	// Args are passed before "-o <outDir> <input>".
	Args []string
	// Progress, when set, receives every percentage printed by the tool.
	Progress func(pct float64, line string)
	Log      logrus.FieldLogger
}

func New(path string, args []string) *Command {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath
	}
	return &Command{Path: path, Args: args, Log: logrus.StandardLogger()}
}

func (c *Command) BaseCommand(outDir string) []string {
	cmd := append([]string{c.Path}, c.Args...)
	return append(cmd, "-o", outDir)
}

// Run executes the tool and waits for it. A non-zero exit is an *ExitError;
// a clean exit that left no outDir is ErrNoOutput.
func (c *Command) Run(ctx context.Context, input, outDir string) error {
	argv := append(c.BaseCommand(outDir), input)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	log := c.logger().WithField("input", input)
	log.Infof("exec: %s", strings.Join(argv, " "))

	var stdout io.Writer = os.Stdout
	var watcher *progressWriter
	if c.Progress != nil {
		watcher = newProgressWriter(c.Progress)
		stdout = io.MultiWriter(os.Stdout, watcher)
	}
	cmd.Stdout = stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start extractor: %w", err)
	}
	err := cmd.Wait()
	if watcher != nil {
		watcher.Flush()
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ExitError{Code: exitErr.ExitCode(), Err: err}
		}
		return fmt.Errorf("extractor failed: %w", err)
	}

	if info, err := os.Stat(outDir); err != nil || !info.IsDir() {
		log.Errorf("output directory %s missing after clean exit", outDir)
		return fmt.Errorf("%w: %s", ErrNoOutput, outDir)
	}
	return nil
}

// Version returns the tool's self-reported version line.
func (c *Command) Version(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, c.Path, "-V").CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

func (c *Command) logger() logrus.FieldLogger {
	if c.Log == nil {
		return logrus.StandardLogger()
	}
	return c.Log
}
