package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yourorg/bulkextractor-worker/internal/model"
	"github.com/yourorg/bulkextractor-worker/internal/report"
)

const batchSize = 100

type Store struct{ Pool *pgxpool.Pool }

func Open(ctx context.Context, url string) (*Store, error) {
	p, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: p}, nil
}

type Job struct {
	ID           string
	Status       string
	Bucket       string
	ObjectKey    string
	DisplayName  string
	WorkflowID   *string
	ProgressPct  int
	ProgressMsg  *string
	ReportBucket *string
	ReportKey    *string
	ErrorMsg     *string
	WorkerID     *string
}

type BackfillJob struct {
	ID           string
	ReportBucket string
	ReportKey    string
}

// Done is what a finished job stores on its row.
type Done struct {
	ReportBucket string
	ReportKey    string
	ReportTitle  string
	SummaryText  string
	SummaryJSON  []byte
	ResultJSON   []byte
}

// StoredArtifact is an output file together with its object location.
type StoredArtifact struct {
	model.OutputFile
	Bucket    string
	ObjectKey string
}

func (s *Store) notifyJobChanged(ctx context.Context, id string) {
	_, _ = s.Pool.Exec(ctx, `SELECT pg_notify('extraction_job_events', $1)`, id)
}

func (s *Store) InsertEvent(ctx context.Context, jobID string, ts time.Time, stage, detail string, pct *int) error {
	_, err := s.Pool.Exec(ctx, `
        INSERT INTO extraction_events (job_id, ts, stage, detail, pct)
        VALUES ($1, $2, $3, $4, $5)
    `, jobID, ts, stage, detail, pct)
	return err
}

func (s *Store) AcquireNextQueued(ctx context.Context, workerID string) (*Job, error) {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		SELECT id::text, bucket, object_key, display_name, workflow_id
		FROM extraction_jobs
		WHERE status='queued'
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`)
	var j Job
	if err := row.Scan(&j.ID, &j.Bucket, &j.ObjectKey, &j.DisplayName, &j.WorkflowID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, err
	}
	_, err = tx.Exec(ctx, `
		UPDATE extraction_jobs
		SET status='running', started_at=now(), progress_pct=0, progress_msg='starting',
		    worker_id=$2
		WHERE id=$1
	`, j.ID, workerID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	j.Status = "running"
	j.WorkerID = &workerID
	s.notifyJobChanged(ctx, j.ID)
	return &j, nil
}

func (s *Store) UpdateProgress(ctx context.Context, id string, pct int, msg string) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE extraction_jobs
		SET progress_pct=GREATEST(progress_pct, $2),
		    progress_msg=CASE WHEN $2 >= progress_pct THEN $3 ELSE progress_msg END
		WHERE id=$1
		  AND status='running'
	`, id, pct, msg)
	return err
}

func (s *Store) MarkFailed(ctx context.Context, id, errMsg string) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE extraction_jobs
		SET status='failed',
		    finished_at=now(),
		    error_msg=$2,
		    progress_msg=COALESCE(progress_msg, $2)
		WHERE id=$1
		  AND status IN ('queued','running')
	`, id, errMsg)
	if err == nil {
		s.notifyJobChanged(ctx, id)
	}
	return err
}

func (s *Store) MarkDone(ctx context.Context, id string, d Done) error {
	// Cast to jsonb to ensure proper type instead of bytea
	_, err := s.Pool.Exec(ctx, `
		UPDATE extraction_jobs
		SET status='done', finished_at=now(),
		    progress_pct=100, progress_msg='completed',
		    report_bucket=$2, report_key=$3, report_title=$4, summary_text=$5,
		    summary_json=$6::jsonb, result_json=$7::jsonb
		WHERE id=$1
	`, id, nullableString(d.ReportBucket), nullableString(d.ReportKey),
		d.ReportTitle, d.SummaryText, jsonOrEmpty(d.SummaryJSON), jsonOrEmpty(d.ResultJSON))
	if err == nil {
		s.notifyJobChanged(ctx, id)
	}
	return err
}

// ReplaceJobResults deletes previously stored scanner results and artifacts
// of a job and batch-inserts the given ones in a single transaction.
func (s *Store) ReplaceJobResults(ctx context.Context, jobID string, results []report.ScannerResult, artifacts []StoredArtifact) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM extraction_scanner_results WHERE job_id=$1::uuid`, jobID); err != nil {
		return err
	}
	if err := batchInsertScannerResults(ctx, tx, jobID, results); err != nil {
		return fmt.Errorf("batch insert scanner results: %w", err)
	}

	// A backfill only has the report, so existing artifact rows stay.
	if artifacts != nil {
		if _, err := tx.Exec(ctx, `DELETE FROM extraction_artifacts WHERE job_id=$1::uuid`, jobID); err != nil {
			return err
		}
		if err := batchInsertArtifacts(ctx, tx, jobID, artifacts); err != nil {
			return fmt.Errorf("batch insert artifacts: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE extraction_jobs SET results_ingested=TRUE WHERE id=$1::uuid`, jobID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// valuesRow renders one "($n, $n+1::cast, ...)" tuple of a multi-value
// INSERT for the row at index i. casts has one entry per column.
func valuesRow(i int, casts []string) string {
	var sb strings.Builder
	sb.WriteByte('(')
	base := i*len(casts) + 1
	for c, cast := range casts {
		if c > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "$%d%s", base+c, cast)
	}
	sb.WriteByte(')')
	return sb.String()
}

// chunks calls fn with [start, end) bounds of at most batchSize items.
func chunks(n int, fn func(start, end int) error) error {
	for start := 0; start < n; start += batchSize {
		end := start + batchSize
		if end > n {
			end = n
		}
		if err := fn(start, end); err != nil {
			return err
		}
	}
	return nil
}

func batchInsertScannerResults(ctx context.Context, tx pgx.Tx, jobID string, results []report.ScannerResult) error {
	casts := []string{"::uuid", "", "", ""}
	return chunks(len(results), func(start, end int) error {
		var sb strings.Builder
		sb.WriteString(`
INSERT INTO extraction_scanner_results (job_id, position, scanner, count) VALUES `)
		args := make([]interface{}, 0, (end-start)*len(casts))
		for i, r := range results[start:end] {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(valuesRow(i, casts))
			args = append(args, jobID, start+i, r.Name, r.Count)
		}
		_, err := tx.Exec(ctx, sb.String(), args...)
		return err
	})
}

func batchInsertArtifacts(ctx context.Context, tx pgx.Tx, jobID string, artifacts []StoredArtifact) error {
	casts := []string{"::uuid", "", "", "", "", "", "", "", "", ""}
	return chunks(len(artifacts), func(start, end int) error {
		var sb strings.Builder
		sb.WriteString(`
INSERT INTO extraction_artifacts (
  job_id, artifact_id, display_name, extension, source, size_bytes,
  sha256, data_type, bucket, object_key
) VALUES `)
		args := make([]interface{}, 0, (end-start)*len(casts))
		for i, a := range artifacts[start:end] {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(valuesRow(i, casts))
			args = append(args,
				jobID,
				a.ID,
				a.DisplayName,
				a.Extension,
				nullableString(a.Source),
				a.Size,
				nullableString(a.SHA256),
				coalesceString(a.DataType, "bulkextractor:artifact"),
				a.Bucket,
				a.ObjectKey,
			)
		}
		sb.WriteString(`
ON CONFLICT (job_id, artifact_id) DO UPDATE SET
  bucket = EXCLUDED.bucket,
  object_key = EXCLUDED.object_key`)
		_, err := tx.Exec(ctx, sb.String(), args...)
		return err
	})
}

func coalesceString(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func nullableString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func jsonOrEmpty(b []byte) string {
	if len(b) == 0 {
		return "{}"
	}
	return string(b)
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.Pool.Ping(ctx)
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS extraction_jobs (
  id UUID PRIMARY KEY,
  status TEXT NOT NULL CHECK (status IN ('queued','running','done','failed')),
  bucket TEXT NOT NULL,
  object_key TEXT NOT NULL,
  display_name TEXT NOT NULL,
  workflow_id TEXT,
  worker_id TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  started_at TIMESTAMPTZ,
  finished_at TIMESTAMPTZ,
  progress_pct INTEGER NOT NULL DEFAULT 0 CHECK (progress_pct BETWEEN 0 AND 100),
  progress_msg TEXT,
  report_bucket TEXT,
  report_key TEXT,
  report_title TEXT,
  summary_text TEXT,
  summary_json JSONB,
  result_json JSONB,
  results_ingested BOOLEAN NOT NULL DEFAULT FALSE,
  error_msg TEXT
);

CREATE INDEX IF NOT EXISTS idx_extraction_jobs_status_created ON extraction_jobs (status, created_at);

CREATE TABLE IF NOT EXISTS extraction_events (
  id BIGSERIAL PRIMARY KEY,
  job_id UUID NOT NULL REFERENCES extraction_jobs(id) ON DELETE CASCADE,
  ts TIMESTAMPTZ NOT NULL DEFAULT now(),
  stage TEXT NOT NULL,
  detail TEXT NOT NULL,
  pct SMALLINT
);

CREATE INDEX IF NOT EXISTS idx_extraction_events_job_ts ON extraction_events (job_id, ts);

CREATE TABLE IF NOT EXISTS extraction_scanner_results (
  id BIGSERIAL PRIMARY KEY,
  job_id UUID NOT NULL REFERENCES extraction_jobs(id) ON DELETE CASCADE,
  position INTEGER NOT NULL,
  scanner TEXT NOT NULL,
  count BIGINT NOT NULL CHECK (count > 0),
  UNIQUE(job_id, position)
);

CREATE TABLE IF NOT EXISTS extraction_artifacts (
  id BIGSERIAL PRIMARY KEY,
  job_id UUID NOT NULL REFERENCES extraction_jobs(id) ON DELETE CASCADE,
  artifact_id TEXT NOT NULL,
  display_name TEXT NOT NULL,
  extension TEXT NOT NULL,
  source TEXT,
  size_bytes BIGINT NOT NULL,
  sha256 TEXT,
  data_type TEXT NOT NULL,
  bucket TEXT NOT NULL,
  object_key TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  UNIQUE(job_id, artifact_id)
);

CREATE INDEX IF NOT EXISTS idx_extraction_artifacts_job_name ON extraction_artifacts(job_id, display_name);
CREATE INDEX IF NOT EXISTS idx_extraction_artifacts_sha256 ON extraction_artifacts(sha256);
`)
	return err
}

// FailStaleRunning fails running jobs whose last heartbeat is older than
// idleFor.
func (s *Store) FailStaleRunning(ctx context.Context, idleFor time.Duration) ([]string, error) {
	return s.sweepStale(ctx, idleFor, `
		SET status='failed',
		    finished_at=now(),
		    error_msg='worker timeout: no progress heartbeat',
		    progress_msg='worker timeout: no progress heartbeat'`)
}

// RequeueStaleRunning finds jobs stuck in 'running' with no recent heartbeat
// and re-queues them. Used at startup to recover jobs orphaned by crashed
// workers.
func (s *Store) RequeueStaleRunning(ctx context.Context, idleFor time.Duration) ([]string, error) {
	return s.sweepStale(ctx, idleFor, `
		SET status='queued',
		    started_at=NULL,
		    worker_id=NULL,
		    progress_pct=0,
		    progress_msg='re-queued: previous worker lost'`)
}

func (s *Store) sweepStale(ctx context.Context, idleFor time.Duration, set string) ([]string, error) {
	seconds := int64(idleFor.Seconds())
	if seconds <= 0 {
		return nil, nil
	}
	rows, err := s.Pool.Query(ctx, `
		WITH stale AS (
			SELECT j.id
			FROM extraction_jobs j
			LEFT JOIN LATERAL (
				SELECT MAX(ts) AS last_event_ts
				FROM extraction_events e
				WHERE e.job_id = j.id
			) ev ON true
			WHERE j.status='running'
			  AND COALESCE(ev.last_event_ts, j.started_at, j.created_at)
			      < now() - ($1::bigint * interval '1 second')
		)
		UPDATE extraction_jobs j`+set+`
		FROM stale
		WHERE j.id = stale.id
		RETURNING j.id::text
	`, seconds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
		s.notifyJobChanged(ctx, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// ListBackfillCandidates returns finished jobs with a stored report.xml
// whose scanner results were never ingested.
func (s *Store) ListBackfillCandidates(ctx context.Context, limit int) ([]BackfillJob, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.Pool.Query(ctx, `
SELECT j.id::text, j.report_bucket, j.report_key
FROM extraction_jobs j
WHERE j.status='done'
  AND j.report_bucket IS NOT NULL
  AND j.report_key IS NOT NULL
  AND NOT j.results_ingested
ORDER BY COALESCE(j.finished_at, j.created_at), j.id
LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]BackfillJob, 0, limit)
	for rows.Next() {
		var j BackfillJob
		if err := rows.Scan(&j.ID, &j.ReportBucket, &j.ReportKey); err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
