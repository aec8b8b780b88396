package worker

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Scan percentages reported by bulk_extractor are squeezed into this band
// of the job's overall progress.
const (
	scanFloor   = 10
	scanCeiling = 90
)

func derivePct(stage string) int {
	switch {
	case strings.Contains(stage, "start"):
		return 5
	case strings.Contains(stage, "download"):
		return 5
	case strings.Contains(stage, "scan"):
		return scanFloor
	case strings.Contains(stage, "upload"):
		return 95
	case strings.Contains(stage, "done"):
		return 100
	default:
		return 50
	}
}

func scanPct(pct float64) int {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return scanFloor + int(pct*float64(scanCeiling-scanFloor)/100)
}

type progressStore interface {
	UpdateProgress(ctx context.Context, id string, pct int, msg string) error
	InsertEvent(ctx context.Context, jobID string, ts time.Time, stage, detail string, pct *int) error
}

// progress forwards job stages and extractor percentages to the job row.
// Every forwarded update is also recorded as an event, which is the
// heartbeat stale-job detection looks at.
type progress struct {
	ctx   context.Context
	st    progressStore
	jobID string
	log   logrus.FieldLogger

	mu   sync.Mutex
	last int
}

func newProgress(ctx context.Context, st progressStore, jobID string, log logrus.FieldLogger) *progress {
	return &progress{ctx: ctx, st: st, jobID: jobID, log: log, last: -1}
}

func (p *progress) Stage(stage, detail string) {
	p.update(stage, detail, derivePct(stage), true)
}

// Scan is the extractor progress callback. Updates that do not move the
// integer percentage are dropped.
func (p *progress) Scan(pct float64, line string) {
	p.update("scan", strings.TrimSpace(line), scanPct(pct), false)
}

func (p *progress) update(stage, detail string, pct int, force bool) {
	p.mu.Lock()
	if !force && pct <= p.last {
		p.mu.Unlock()
		return
	}
	if pct > p.last {
		p.last = pct
	}
	p.mu.Unlock()

	if err := p.st.UpdateProgress(p.ctx, p.jobID, pct, stage+": "+detail); err != nil {
		p.log.Debugf("update progress: %v", err)
	}
	if err := p.st.InsertEvent(p.ctx, p.jobID, time.Now(), stage, detail, &pct); err != nil {
		p.log.Debugf("insert event: %v", err)
	}
}
