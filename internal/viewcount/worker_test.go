package viewcount

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func TestNextRun_AlignsToIntervalBoundaries(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	cases := []struct {
		name     string
		now      time.Time
		interval time.Duration
		loc      *time.Location
		want     time.Time
	}{
		{
			name:     "mid interval",
			now:      time.Date(2024, 5, 1, 10, 3, 20, 0, time.UTC),
			interval: 10 * time.Minute,
			want:     time.Date(2024, 5, 1, 10, 10, 0, 0, time.UTC),
		},
		{
			name:     "exactly on a boundary moves to the next one",
			now:      time.Date(2024, 5, 1, 10, 10, 0, 0, time.UTC),
			interval: 10 * time.Minute,
			want:     time.Date(2024, 5, 1, 10, 20, 0, 0, time.UTC),
		},
		{
			name:     "crosses midnight",
			now:      time.Date(2024, 5, 1, 23, 55, 0, 0, time.UTC),
			interval: 10 * time.Minute,
			want:     time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "hourly in a fixed zone",
			now:      time.Date(2024, 5, 1, 0, 30, 0, 0, time.UTC), // 09:30 JST
			interval: time.Hour,
			loc:      tokyo,
			want:     time.Date(2024, 5, 1, 10, 0, 0, 0, tokyo),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := NextRun(tc.now, tc.interval, tc.loc)
			if !got.Equal(tc.want) {
				t.Errorf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

type countingRunner struct {
	runs atomic.Int32
}

func (r *countingRunner) RunOnce(ctx context.Context, ids []string) (RunResult, error) {
	r.runs.Add(1)
	return RunResult{}, nil
}

func TestStartWorker_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r := &countingRunner{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	go func() {
		StartWorker(ctx, r, func() []string { return nil }, time.Hour, time.UTC, logger)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
	if r.runs.Load() != 0 {
		t.Errorf("expected no runs, got %d", r.runs.Load())
	}
}

func TestStartWorker_DisabledInterval(t *testing.T) {
	r := &countingRunner{}
	StartWorker(context.Background(), r, func() []string { return nil }, 0, time.UTC, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if r.runs.Load() != 0 {
		t.Error("expected no runs")
	}
}

type blockingRunner struct {
	started chan struct{}
	release chan struct{}
}

func (r *blockingRunner) RunOnce(ctx context.Context, ids []string) (RunResult, error) {
	close(r.started)
	<-r.release
	return RunResult{Samples: len(ids)}, nil
}

func TestExclusive_RejectsOverlappingRuns(t *testing.T) {
	inner := &blockingRunner{started: make(chan struct{}), release: make(chan struct{})}
	ex := NewExclusive(inner)
	done := make(chan RunResult)

	go func() {
		result, _ := ex.RunOnce(context.Background(), []string{"a"})
		done <- result
	}()
	<-inner.started

	if _, err := ex.RunOnce(context.Background(), nil); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("expected ErrRunInProgress, got %v", err)
	}
	close(inner.release)
	if result := <-done; result.Samples != 1 {
		t.Errorf("expected the first run to finish, got %+v", result)
	}

	second := &countingRunner{}
	ex = NewExclusive(second)
	if _, err := ex.RunOnce(context.Background(), nil); err != nil {
		t.Errorf("expected free runner, got %v", err)
	}
}
