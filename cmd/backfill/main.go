package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/bulkextractor-worker/internal/config"
	"github.com/yourorg/bulkextractor-worker/internal/db"
	"github.com/yourorg/bulkextractor-worker/internal/logging"
	"github.com/yourorg/bulkextractor-worker/internal/report"
	"github.com/yourorg/bulkextractor-worker/internal/s3"
)

func main() {
	var (
		batchSize = flag.Int("batch-size", 25, "number of jobs to ingest per batch")
		maxJobs   = flag.Int("max-jobs", 0, "maximum jobs to ingest (0 = unlimited)")
	)
	flag.Parse()

	_ = godotenv.Load(".env")
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatal(err)
	}
	log := logging.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx := context.Background()

	store, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	defer store.Pool.Close()

	s3c, err := s3.New(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3UseSSL, cfg.S3Region)
	if err != nil {
		log.Fatalf("s3 client: %v", err)
	}

	tmpRoot := filepath.Join(cfg.ScratchDir, "backfill")
	if err := os.MkdirAll(tmpRoot, 0o755); err != nil {
		log.Fatalf("mkdir %s: %v", tmpRoot, err)
	}

	var total, okCount, failCount int
	for {
		if *maxJobs > 0 && total >= *maxJobs {
			break
		}
		limit := *batchSize
		if limit <= 0 {
			limit = 25
		}
		if *maxJobs > 0 && total+limit > *maxJobs {
			limit = *maxJobs - total
		}

		listCtx, listCancel := context.WithTimeout(ctx, 20*time.Second)
		candidates, err := store.ListBackfillCandidates(listCtx, limit)
		listCancel()
		if err != nil {
			log.Fatalf("list candidates: %v", err)
		}
		if len(candidates) == 0 {
			break
		}

		progressed := false
		for _, candidate := range candidates {
			total++
			if err := ingestOne(ctx, store, s3c, tmpRoot, &candidate); err != nil {
				failCount++
				logging.ForJob(candidate.ID).Errorf("backfill failed: %v", err)
				continue
			}
			progressed = true
			okCount++
		}
		// failed candidates stay listed; stop instead of spinning on them
		if !progressed {
			break
		}
	}

	log.Infof("backfill complete: processed=%d ok=%d failed=%d", total, okCount, failCount)
}

// ingestOne rebuilds the scanner results of a finished job from its stored
// report.xml.
func ingestOne(ctx context.Context, store *db.Store, s3c *s3.Client, tmpRoot string, candidate *db.BackfillJob) error {
	tmpFile := filepath.Join(tmpRoot, candidate.ID+"."+report.FileName)
	defer os.Remove(tmpFile)

	dlCtx, dlCancel := context.WithTimeout(ctx, 2*time.Minute)
	err := s3c.DownloadToFile(dlCtx, candidate.ReportBucket, candidate.ReportKey, tmpFile)
	dlCancel()
	if err != nil {
		return err
	}

	f, err := os.Open(tmpFile)
	if err != nil {
		return err
	}
	rep, err := report.Read(f)
	f.Close()
	if err != nil {
		return err
	}

	ingestCtx, ingestCancel := context.WithTimeout(ctx, time.Minute)
	err = store.ReplaceJobResults(ingestCtx, candidate.ID, rep.ScannerResults, nil)
	ingestCancel()
	if err != nil {
		return err
	}

	logging.ForJob(candidate.ID).Infof("backfill ingested (scanners=%d artifacts=%d)", len(rep.ScannerResults), rep.TotalArtifacts())
	return nil
}
