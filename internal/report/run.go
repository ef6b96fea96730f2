package report

import (
	"context"
	"errors"
	"sync"
	"time"

	reporterrors "github.com/rcourtman/zbxreport/internal/errors"
	"github.com/rcourtman/zbxreport/internal/logging"
	"github.com/rcourtman/zbxreport/internal/metrics"
)

// Stage is a step of report generation.
type Stage string

const (
	StagePending           Stage = "pending"
	StageValidatingInput   Stage = "validating_input"
	StageResolvingEntities Stage = "resolving_entities"
	StageAcquiringSession  Stage = "acquiring_session"
	StageFetchingCharts    Stage = "fetching_charts"
	StageAssemblingReport  Stage = "assembling_report"
	StageDone              Stage = "done"
	StageFailed            Stage = "failed"
)

const reportComponent = "report_generator"

// Transition records entry into a stage.
type Transition struct {
	From Stage
	To   Stage
	At   time.Time
}

// Run tracks one report generation through its stages.
type Run struct {
	ID        string
	StartedAt time.Time

	mu          sync.RWMutex
	stage       Stage
	completedAt time.Time
	err         error
	history     []Transition
}

func newRun(id string) *Run {
	return &Run{ID: id, StartedAt: time.Now(), stage: StagePending}
}

// Stage returns the current stage.
func (r *Run) Stage() Stage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stage
}

// Err returns the failure cause once the run has failed.
func (r *Run) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

// History returns a copy of the recorded transitions.
func (r *Run) History() []Transition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Transition, len(r.history))
	copy(out, r.history)
	return out
}

// Duration is the elapsed time until completion, or until now while running.
func (r *Run) Duration() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.completedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.completedAt.Sub(r.StartedAt)
}

// Finished reports whether the run reached Done or Failed.
func (r *Run) Finished() bool {
	s := r.Stage()
	return s == StageDone || s == StageFailed
}

func (r *Run) advance(ctx context.Context, to Stage) {
	r.mu.Lock()
	from := r.stage
	if from == StageDone || from == StageFailed {
		r.mu.Unlock()
		return
	}
	r.stage = to
	now := time.Now()
	r.history = append(r.history, Transition{From: from, To: to, At: now})
	if to == StageDone {
		r.completedAt = now
	}
	r.mu.Unlock()

	metrics.RecordStage(string(to))
	logger := logging.FromContext(ctx)
	logger.Debug().
		Str("component", reportComponent).
		Str("action", "advance").
		Str("run_id", r.ID).
		Str("previous_state", string(from)).
		Str("run_state", string(to)).
		Msg("Report run advanced")
}

func (r *Run) fail(ctx context.Context, err error) {
	r.mu.Lock()
	from := r.stage
	if from == StageDone || from == StageFailed {
		r.mu.Unlock()
		return
	}
	now := time.Now()
	r.stage = StageFailed
	r.err = err
	r.completedAt = now
	r.history = append(r.history, Transition{From: from, To: StageFailed, At: now})
	r.mu.Unlock()

	metrics.RecordStage(string(StageFailed))
	logger := logging.FromContext(ctx)
	event := logger.Warn().
		Str("component", reportComponent).
		Str("action", "fail").
		Str("run_id", r.ID).
		Str("failed_stage", string(from)).
		Err(err)
	var repErr *reporterrors.ReportError
	if errors.As(err, &repErr) && repErr.StatusCode != 0 {
		event = event.Int("upstream_status", repErr.StatusCode)
	}
	event.Msg("Report run failed")
}
