package viewcount

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/albapepper/viewcount-tracker/internal/news"
)

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

var (
	ErrFetch     = errors.New("fetch current values failed")
	ErrReconcile = errors.New("reconcile tracked videos failed")
	ErrInsert    = errors.New("insert new videos failed")
)

// Phase names the step of a run.
type Phase string

const (
	PhaseFetch         Phase = "fetch"
	PhaseReconcile     Phase = "reconcile"
	PhaseInsertVideos  Phase = "insert_videos"
	PhaseInsertHistory Phase = "insert_history"
)

// RunError reports which phase of a run failed and for which videos.
type RunError struct {
	Phase    Phase
	VideoIDs []string
	Err      error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s: %d videos: %v", e.Phase, len(e.VideoIDs), e.Err)
}

// Unwrap exposes both the phase sentinel and the cause.
func (e *RunError) Unwrap() []error {
	return []error{e.sentinel(), e.Err}
}

func (e *RunError) sentinel() error {
	switch e.Phase {
	case PhaseFetch:
		return ErrFetch
	case PhaseReconcile:
		return ErrReconcile
	default:
		return ErrInsert
	}
}

// --------------------------------------------------------------------------
// Result
// --------------------------------------------------------------------------

// RunResult summarizes one run. It is returned alongside a *RunError for
// partial runs.
type RunResult struct {
	// Processed maps every already-tracked video id to the notification
	// category written for it, news.CategoryNone when there was none.
	Processed map[string]news.Category
	// Inserted lists newly discovered video ids whose root was committed.
	Inserted []string
	// MissingHistory lists inserted video ids left without a first sample.
	MissingHistory []string
	// Skipped lists tracked video ids deleted while the reconcile was retried.
	Skipped  []string
	Samples  int
	Duration time.Duration
}

// Count returns how many processed videos got the given category.
func (r RunResult) Count(c news.Category) int {
	n := 0
	for _, got := range r.Processed {
		if got == c {
			n++
		}
	}
	return n
}

// Summary returns a human-readable summary of the run.
func (r RunResult) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "processed=%d reached=%d approach=%d samples=%d inserted=%d",
		len(r.Processed), r.Count(news.CategoryReached), r.Count(news.CategoryApproach),
		r.Samples, len(r.Inserted))
	if len(r.MissingHistory) > 0 {
		fmt.Fprintf(&sb, " missing_history=%d", len(r.MissingHistory))
	}
	if len(r.Skipped) > 0 {
		fmt.Fprintf(&sb, " skipped=%d", len(r.Skipped))
	}
	fmt.Fprintf(&sb, " duration=%s", r.Duration.Round(time.Millisecond))
	return sb.String()
}
