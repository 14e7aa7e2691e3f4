package viewcount

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Runner is anything that can execute one run.
type Runner interface {
	RunOnce(ctx context.Context, ids []string) (RunResult, error)
}

// ErrRunInProgress is returned by Exclusive when another run holds it.
var ErrRunInProgress = errors.New("a run is already in progress")

// Exclusive lets at most one run through at a time. Callers that find it
// busy get ErrRunInProgress instead of queueing.
type Exclusive struct {
	mu sync.Mutex
	r  Runner
}

// NewExclusive wraps r.
func NewExclusive(r Runner) *Exclusive {
	return &Exclusive{r: r}
}

// RunOnce runs r unless another run is in flight.
func (e *Exclusive) RunOnce(ctx context.Context, ids []string) (RunResult, error) {
	if !e.mu.TryLock() {
		return RunResult{}, ErrRunInProgress
	}
	defer e.mu.Unlock()
	return e.r.RunOnce(ctx, ids)
}

// NextRun returns the first interval boundary after now, counted from
// midnight in loc. With a 10 minute interval runs land on :00, :10, :20...
func NextRun(now time.Time, interval time.Duration, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	elapsed := local.Sub(midnight)
	return midnight.Add((elapsed/interval + 1) * interval)
}

// StartWorker runs r on every interval boundary in loc until ctx is
// cancelled. Each run is bounded by the interval so a stuck run is
// abandoned before the next one starts. Blocks; intended to be called
// with `go`.
func StartWorker(ctx context.Context, r Runner, ids func() []string, interval time.Duration, loc *time.Location, logger *slog.Logger) {
	if interval <= 0 {
		logger.Warn("View count worker disabled", "interval", interval)
		return
	}
	logger.Info("View count worker started", "interval", interval, "timezone", loc.String())

	for {
		next := NextRun(time.Now(), interval, loc)
		timer := time.NewTimer(time.Until(next))
		select {
		case <-timer.C:
			runCtx, cancel := context.WithTimeout(ctx, interval)
			result, err := r.RunOnce(runCtx, ids())
			cancel()
			if errors.Is(err, ErrRunInProgress) {
				logger.Warn("Scheduled run skipped, previous run still active", "at", next)
			} else if err != nil {
				logger.Error("Scheduled run failed", "at", next, "summary", result.Summary(), "error", err)
			}
		case <-ctx.Done():
			timer.Stop()
			logger.Info("View count worker stopped")
			return
		}
	}
}
