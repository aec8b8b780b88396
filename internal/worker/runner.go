package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/bulkextractor-worker/internal/config"
	"github.com/yourorg/bulkextractor-worker/internal/db"
	"github.com/yourorg/bulkextractor-worker/internal/extractor"
	"github.com/yourorg/bulkextractor-worker/internal/logging"
	"github.com/yourorg/bulkextractor-worker/internal/model"
	"github.com/yourorg/bulkextractor-worker/internal/report"
	"github.com/yourorg/bulkextractor-worker/internal/s3"
	"github.com/yourorg/bulkextractor-worker/internal/task"
)

// JobStore is the subset of *db.Store the runner needs.
type JobStore interface {
	AcquireNextQueued(ctx context.Context, workerID string) (*db.Job, error)
	UpdateProgress(ctx context.Context, id string, pct int, msg string) error
	InsertEvent(ctx context.Context, jobID string, ts time.Time, stage, detail string, pct *int) error
	MarkFailed(ctx context.Context, id, errMsg string) error
	MarkDone(ctx context.Context, id string, d db.Done) error
	ReplaceJobResults(ctx context.Context, jobID string, results []report.ScannerResult, artifacts []db.StoredArtifact) error
	RequeueStaleRunning(ctx context.Context, idleFor time.Duration) ([]string, error)
	FailStaleRunning(ctx context.Context, idleFor time.Duration) ([]string, error)
}

// ObjectStore is the subset of *s3.Client the runner needs.
type ObjectStore interface {
	DownloadToFile(ctx context.Context, bucket, key, filePath string) error
	UploadFile(ctx context.Context, bucket, key, filePath string, contentType string) error
}

// ExtractorFactory builds the extractor for one job, wired to its progress.
type ExtractorFactory func(progress func(pct float64, line string)) extractor.Runner

type Runner struct {
	cfg          config.Config
	db           JobStore
	s3           ObjectStore
	newExtractor ExtractorFactory
	id           string
	retryDelay   time.Duration
}

func NewRunner(cfg config.Config, store JobStore, s3c ObjectStore) *Runner {
	return &Runner{
		cfg: cfg,
		db:  store,
		s3:  s3c,
		newExtractor: func(progress func(float64, string)) extractor.Runner {
			c := extractor.New(cfg.ExtractorPath, cfg.ExtractorArgs)
			c.Progress = progress
			return c
		},
		id:         workerID(),
		retryDelay: 200 * time.Millisecond,
	}
}

// WithExtractor replaces the extractor factory.
func (r *Runner) WithExtractor(f ExtractorFactory) *Runner {
	r.newExtractor = f
	return r
}

func (r *Runner) WorkerID() string { return r.id }

func workerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return host + "-" + uuid.NewString()[:8]
}

func (r *Runner) processJob(ctx context.Context, j *db.Job) error {
	log := logging.ForJob(j.ID)
	log.Infof("starting (bucket=%s key=%s)", j.Bucket, j.ObjectKey)

	scratch := filepath.Join(r.cfg.ScratchDir, j.ID)
	inputDir := filepath.Join(scratch, "input")
	outputDir := filepath.Join(scratch, "output")
	if err := os.MkdirAll(inputDir, 0o755); err != nil {
		return fmt.Errorf("create scratch: %w", err)
	}
	defer os.RemoveAll(scratch)

	// keep the original filename, bulk_extractor reports it back
	baseName := filepath.Base(j.ObjectKey)
	if baseName == "." || baseName == "/" || baseName == "" {
		baseName = "input"
	}
	displayName := strings.TrimSpace(j.DisplayName)
	if displayName == "" {
		displayName = baseName
	}
	in := model.InputFile{ID: j.ID, DisplayName: displayName, Path: filepath.Join(inputDir, baseName)}

	progress := newProgress(ctx, r.db, j.ID, log)
	progress.Stage("download", "fetching input")
	err := retry(ctx, 3, r.retryDelay, func() error {
		return r.s3.DownloadToFile(ctx, j.Bucket, j.ObjectKey, in.Path)
	})
	if err != nil {
		log.Errorf("download error: %v", err)
		return fmt.Errorf("download from s3: %w", err)
	}
	if st, err := os.Stat(in.Path); err == nil {
		log.Infof("input %s (%s)", in.DisplayName, humanize.Bytes(uint64(st.Size())))
	}

	progress.Stage("scan", "running bulk_extractor")
	proc := task.NewProcessor(r.newExtractor(progress.Scan), log)
	out, err := proc.ProcessFile(ctx, in, outputDir)
	if err != nil {
		log.Errorf("extraction failed: %v", err)
		return err
	}

	progress.Stage("upload", fmt.Sprintf("uploading %d files", len(out.OutputFiles())))
	stored, err := r.upload(ctx, j.ID, out.OutputFiles())
	if err != nil {
		log.Errorf("upload error: %v", err)
		return err
	}

	dbctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := r.db.ReplaceJobResults(dbctx, j.ID, out.Report.ScannerResults, stored); err != nil {
		return fmt.Errorf("store results: %w", err)
	}

	done, err := doneRecord(j, out, stored, r.cfg.OutputsBucket)
	if err != nil {
		return err
	}
	if err := r.db.MarkDone(dbctx, j.ID, done); err != nil {
		log.Errorf("mark done error: %v", err)
		_ = r.db.MarkFailed(dbctx, j.ID, "mark done: "+err.Error())
		return err
	}
	log.Infof("completed and marked done: %s", out.Report.Summary)
	return nil
}

func (r *Runner) upload(ctx context.Context, jobID string, files []model.OutputFile) ([]db.StoredArtifact, error) {
	stored := make([]db.StoredArtifact, 0, len(files))
	for _, f := range files {
		key := s3.ObjectKey(jobID, f.ID+f.Extension)
		err := retry(ctx, 3, r.retryDelay, func() error {
			return r.s3.UploadFile(ctx, r.cfg.OutputsBucket, key, f.Path, s3.ContentType(f.Extension))
		})
		if err != nil {
			return nil, fmt.Errorf("upload %s: %w", f.DisplayName, err)
		}
		stored = append(stored, db.StoredArtifact{OutputFile: f, Bucket: r.cfg.OutputsBucket, ObjectKey: key})
	}
	return stored, nil
}

func doneRecord(j *db.Job, out *task.Outcome, stored []db.StoredArtifact, bucket string) (db.Done, error) {
	rep := out.Report
	summary := model.Summary{
		ReportAvailable: rep.Available,
		Artifacts:       int(rep.TotalArtifacts()),
		Scanners:        len(rep.ScannerResults),
		OutputFiles:     len(stored),
		Elapsed:         rep.ElapsedSeconds,
	}
	sumBytes, err := json.Marshal(summary)
	if err != nil {
		return db.Done{}, err
	}

	result := task.Result{
		OutputFiles: out.OutputFiles(),
		Command:     strings.Join(out.Command, " "),
		Meta:        map[string]any{},
		FileReports: []report.FileReport{out.FileReport},
	}
	if j.WorkflowID != nil {
		result.WorkflowID = *j.WorkflowID
	}
	resBytes, err := json.Marshal(result)
	if err != nil {
		return db.Done{}, err
	}

	d := db.Done{
		ReportTitle: rep.Title,
		SummaryText: rep.Summary,
		SummaryJSON: sumBytes,
		ResultJSON:  resBytes,
	}
	if xml, ok := out.ReportXML(); ok {
		for _, s := range stored {
			if s.ID == xml.ID {
				d.ReportBucket = bucket
				d.ReportKey = s.ObjectKey
			}
		}
	}
	return d, nil
}

// RecoverStaleJobs re-queues jobs left running by a worker that died.
func (r *Runner) RecoverStaleJobs(ctx context.Context) {
	ids, err := r.db.RequeueStaleRunning(ctx, r.cfg.StaleAfter)
	if err != nil {
		logrus.Warnf("requeue stale jobs: %v", err)
		return
	}
	if len(ids) > 0 {
		logrus.Infof("re-queued %d stale jobs: %v", len(ids), ids)
	}
}

func (r *Runner) sweepStale(ctx context.Context) {
	interval := r.cfg.StaleAfter / 2
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			ids, err := r.db.FailStaleRunning(ctx, 2*r.cfg.StaleAfter)
			if err != nil {
				logrus.Warnf("fail stale jobs: %v", err)
				continue
			}
			for _, id := range ids {
				logging.ForJob(id).Warn("failed: no progress heartbeat")
			}
		}
	}
}

func (r *Runner) RunForever(ctx context.Context) error {
	concurrency := r.cfg.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	go r.sweepStale(ctx)

	backoff := time.Millisecond * 500
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		j, err := r.db.AcquireNextQueued(ctx, r.id)
		if err != nil {
			// no queued jobs or transient error; sleep briefly
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			// cap backoff
			if backoff < 5*time.Second {
				backoff *= 2
			} else {
				backoff = 5 * time.Second
			}
			continue
		}
		backoff = 500 * time.Millisecond

		sem <- struct{}{}
		go func(job *db.Job) {
			defer func() { <-sem }()
			if err := r.processJob(ctx, job); err != nil {
				logging.ForJob(job.ID).Errorf("failed: %v", err)
				_ = r.db.MarkFailed(context.Background(), job.ID, err.Error())
			}
		}(j)
	}
}
