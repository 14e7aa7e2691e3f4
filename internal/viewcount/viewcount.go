// Package viewcount runs the scheduled view-count job.
//
// One run: fetch current counts → reconcile tracked videos in a single
// transaction (sample + milestone notification) → insert newly discovered
// videos in two batch generations (roots, then their first samples).
// The steps are strictly sequential and a run never retries itself.
package viewcount

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/albapepper/viewcount-tracker/internal/docstore"
	"github.com/albapepper/viewcount-tracker/internal/milestone"
	"github.com/albapepper/viewcount-tracker/internal/news"
	"github.com/albapepper/viewcount-tracker/internal/provider/youtube"
	"github.com/albapepper/viewcount-tracker/internal/telemetry"
	"github.com/albapepper/viewcount-tracker/internal/video"
)

// Source returns current values for a set of video ids, all or nothing.
type Source interface {
	FetchCurrentValues(ctx context.Context, ids []string) ([]youtube.Video, error)
}

// UseCase wires the run to its collaborators.
type UseCase struct {
	source  Source
	store   *docstore.Store
	videos  *video.Repository
	news    *news.Repository
	policy  milestone.Policy
	logger  *slog.Logger
	metrics *telemetry.Metrics
	tracer  trace.Tracer
}

// Option configures a UseCase.
type Option func(*UseCase)

// WithMetrics records run metrics on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(uc *UseCase) { uc.metrics = m }
}

// WithTracer replaces the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(uc *UseCase) { uc.tracer = t }
}

// New creates the use case.
func New(source Source, store *docstore.Store, policy milestone.Policy, logger *slog.Logger, opts ...Option) *UseCase {
	uc := &UseCase{
		source: source,
		store:  store,
		videos: video.NewRepository(store, logger),
		news:   news.NewRepository(store, logger),
		policy: policy,
		logger: logger,
		tracer: otel.Tracer("viewcount"),
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// RunOnce executes one run over ids.
//
// On failure the returned error is a *RunError naming the phase; the
// result still reports what was committed before the failure.
func (uc *UseCase) RunOnce(ctx context.Context, ids []string) (RunResult, error) {
	start := time.Now()
	result := RunResult{Processed: map[string]news.Category{}}
	ctx, span := uc.tracer.Start(ctx, "viewcount.RunOnce",
		trace.WithAttributes(attribute.Int("video.requested", len(ids))))
	defer span.End()

	finish := func(runErr *RunError) (RunResult, error) {
		result.Duration = time.Since(start)
		outcome := "success"
		if runErr != nil {
			outcome = string(runErr.Phase)
			span.RecordError(runErr)
			span.SetStatus(codes.Error, runErr.Error())
			uc.logger.Error("Run failed", "phase", runErr.Phase, "videos", len(runErr.VideoIDs), "error", runErr.Err)
		} else {
			uc.logger.Info("Run complete", "summary", result.Summary())
		}
		uc.metrics.ObserveRun(outcome, result.Duration)
		if runErr != nil {
			return result, runErr
		}
		return result, nil
	}

	// 1. Fetch
	fetched, err := uc.fetch(ctx, ids)
	if err != nil {
		return finish(&RunError{Phase: PhaseFetch, VideoIDs: ids, Err: err})
	}
	if len(fetched) == 0 {
		uc.logger.Info("No videos fetched", "requested", len(ids))
		return finish(nil)
	}
	for _, v := range fetched {
		uc.logger.Info("Fetched view count", "video_id", v.ID, "view_count", v.ViewCount)
	}

	// 2. Reconcile tracked videos
	rec, err := uc.reconcile(ctx, fetched)
	if err != nil {
		return finish(&RunError{Phase: PhaseReconcile, VideoIDs: videoIDs(fetched), Err: err})
	}
	result.Processed = rec.processed
	result.Skipped = rec.skipped
	result.Samples = rec.samples
	uc.metrics.AddSamples(rec.samples)
	for _, c := range rec.written {
		uc.metrics.AddNews(string(c))
	}

	// 3. Insert videos seen for the first time
	var discovered []youtube.Video
	for _, v := range fetched {
		if _, tracked := result.Processed[v.ID]; !tracked && !slices.Contains(result.Skipped, v.ID) {
			discovered = append(discovered, v)
		}
	}
	if len(discovered) == 0 {
		return finish(nil)
	}
	ins, runErr := uc.insert(ctx, discovered)
	result.Inserted = ins.inserted
	result.MissingHistory = ins.missingHistory
	result.Samples += ins.samples
	uc.metrics.AddInserted(len(ins.inserted))
	uc.metrics.AddSamples(ins.samples)
	return finish(runErr)
}

// --------------------------------------------------------------------------
// Fetch
// --------------------------------------------------------------------------

func (uc *UseCase) fetch(ctx context.Context, ids []string) ([]youtube.Video, error) {
	ctx, span := uc.tracer.Start(ctx, "viewcount.fetch")
	defer span.End()

	videos, err := uc.source.FetchCurrentValues(ctx, ids)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	// Keep the first record per id.
	seen := make(map[string]bool, len(videos))
	out := make([]youtube.Video, 0, len(videos))
	for _, v := range videos {
		if v.ID == "" || seen[v.ID] {
			continue
		}
		seen[v.ID] = true
		out = append(out, v)
	}
	span.SetAttributes(attribute.Int("video.fetched", len(out)))
	return out, nil
}

func videoIDs(videos []youtube.Video) []string {
	out := make([]string, len(videos))
	for i, v := range videos {
		out[i] = v.ID
	}
	return out
}

// --------------------------------------------------------------------------
// Reconcile
// --------------------------------------------------------------------------

type reconcileResult struct {
	processed map[string]news.Category
	written   []news.Category
	skipped   []string
	samples   int
}

// plan is the decision for one tracked video, made from the transaction's
// reads before anything is written.
type plan struct {
	docID   string
	video   video.Video
	count   int64
	advance bool
	news    *news.News
}

func (uc *UseCase) reconcile(ctx context.Context, fetched []youtube.Video) (reconcileResult, error) {
	ctx, span := uc.tracer.Start(ctx, "viewcount.reconcile")
	defer span.End()

	counts := make(map[string]int64, len(fetched))
	for _, v := range fetched {
		counts[v.ID] = v.ViewCount
	}

	// resolved holds the video ids found tracked by earlier attempts. One
	// that is gone on a retry was deleted concurrently: it is skipped, not
	// rediscovered and inserted again with a reset milestone.
	resolved := make(map[string]bool, len(fetched))
	var out reconcileResult
	err := uc.store.RunTransaction(ctx, func(ctx context.Context, tx *docstore.Tx) error {
		// The body may run again on conflict; start from scratch each time.
		out = reconcileResult{processed: map[string]news.Category{}}

		tracked, err := uc.videos.GetByVideoIDs(tx, videoIDs(fetched))
		if err != nil {
			return err
		}
		found := make(map[string]bool, len(tracked))
		for _, v := range tracked {
			found[v.VideoID] = true
		}
		for _, id := range slices.Sorted(maps.Keys(resolved)) {
			if !found[id] {
				uc.logger.Warn("Video disappeared during reconcile, skipping", "video_id", id)
				out.skipped = append(out.skipped, id)
			}
		}
		maps.Copy(resolved, found)

		plans := uc.plan(tracked, counts)
		candidates := make([]string, 0, len(plans))
		for _, p := range plans {
			if p.news != nil {
				candidates = append(candidates, p.news.DocID())
			}
		}
		existing, err := uc.news.ExistingInTx(tx, candidates)
		if err != nil {
			return err
		}

		for _, p := range plans {
			if err := uc.apply(tx, p, existing, &out); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return reconcileResult{}, err
	}
	span.SetAttributes(
		attribute.Int("video.tracked", len(out.processed)),
		attribute.Int("news.written", len(out.written)),
	)
	return out, nil
}

// plan decides, per tracked video, whether its milestone is reached or
// approached. Documents are visited in id order so retries are
// deterministic.
func (uc *UseCase) plan(tracked map[string]video.Video, counts map[string]int64) []plan {
	docIDs := make([]string, 0, len(tracked))
	for docID := range tracked {
		docIDs = append(docIDs, docID)
	}
	slices.Sort(docIDs)

	plans := make([]plan, 0, len(docIDs))
	for _, docID := range docIDs {
		v := tracked[docID]
		count, ok := counts[v.VideoID]
		if !ok {
			continue
		}
		p := plan{docID: docID, video: v, count: count}
		switch {
		case count >= v.Milestone:
			p.news = &news.News{
				VideoID:    v.VideoID,
				VideoTitle: v.Title,
				Category:   news.CategoryReached,
				Properties: news.Properties{ViewCount: count, Milestone: v.Milestone},
			}
			p.advance = true
			p.video.Milestone = max(uc.policy.Next(count), v.Milestone)
		case uc.policy.IsApproaching(count):
			p.news = &news.News{
				VideoID:    v.VideoID,
				VideoTitle: v.Title,
				Category:   news.CategoryApproach,
				Properties: news.Properties{ViewCount: count, Milestone: v.Milestone},
			}
		}
		plans = append(plans, p)
	}
	return plans
}

// apply queues the writes of one plan: milestone update, notification,
// then the sample.
func (uc *UseCase) apply(tx *docstore.Tx, p plan, existing map[string]bool, out *reconcileResult) error {
	if p.advance {
		if err := uc.videos.UpdateInTx(tx, p.docID, p.video); err != nil {
			return err
		}
	}

	category := news.CategoryNone
	if p.news != nil {
		if existing[p.news.DocID()] {
			uc.logger.Debug("News already recorded", "video_id", p.video.VideoID, "category", p.news.Category, "milestone", p.news.Properties.Milestone)
		} else {
			if err := uc.news.SetInTx(tx, *p.news); err != nil {
				return err
			}
			existing[p.news.DocID()] = true
			category = p.news.Category
			out.written = append(out.written, category)
		}
	}
	if _, done := out.processed[p.video.VideoID]; !done || category != news.CategoryNone {
		out.processed[p.video.VideoID] = category
	}

	if _, err := uc.videos.AddViewHistoryInTx(tx, p.docID, video.ViewHistory{ViewCount: p.count}); err != nil {
		return err
	}
	out.samples++
	return nil
}

// --------------------------------------------------------------------------
// Insert
// --------------------------------------------------------------------------

type insertResult struct {
	inserted       []string
	missingHistory []string
	samples        int
}

// insert creates discovered videos in two batch generations. Roots commit
// first; first samples are only attempted once every root chunk committed.
// Roots from chunks that did commit before another chunk failed are
// reported as inserted and missing history.
func (uc *UseCase) insert(ctx context.Context, discovered []youtube.Video) (insertResult, *RunError) {
	ctx, span := uc.tracer.Start(ctx, "viewcount.insert",
		trace.WithAttributes(attribute.Int("video.discovered", len(discovered))))
	defer span.End()

	ids := videoIDs(discovered)
	records := make([]video.Video, len(discovered))
	for i, v := range discovered {
		records[i] = video.Video{
			VideoID:     v.ID,
			Title:       v.Title,
			ChannelID:   v.ChannelID,
			PublishedAt: v.PublishedAt,
			Milestone:   uc.policy.Next(v.ViewCount),
		}
	}

	docIDs, err := uc.videos.AddVideos(ctx, records)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var out insertResult
		var failed []string
		for i, id := range ids {
			if docIDs != nil && docIDs[i] != "" {
				out.inserted = append(out.inserted, id)
				continue
			}
			failed = append(failed, id)
		}
		out.missingHistory = slices.Clone(out.inserted)
		if len(out.inserted) > 0 {
			uc.logger.Warn("Videos inserted without a first sample", "count", len(out.inserted), "video_ids", out.inserted)
		}
		return out, &RunError{Phase: PhaseInsertVideos, VideoIDs: failed, Err: err}
	}
	uc.logger.Info("Inserted videos", "count", len(docIDs))

	out := insertResult{inserted: ids}
	indexes := make([]int, len(discovered))
	for i := range indexes {
		indexes[i] = i
	}
	chunks := docstore.Chunk(indexes, video.BatchSize)
	errs := make([]error, len(chunks))
	var g errgroup.Group
	for ci, chunk := range chunks {
		b := uc.videos.StartBatch()
		for _, i := range chunk {
			if err := uc.videos.AddViewHistoryWithBatch(b, docIDs[i], video.ViewHistory{ViewCount: discovered[i].ViewCount}); err != nil {
				errs[ci] = err
				break
			}
		}
		if errs[ci] != nil {
			continue
		}
		g.Go(func() error {
			_, errs[ci] = uc.videos.CommitBatch(ctx, b)
			return nil
		})
	}
	_ = g.Wait()

	for ci, chunk := range chunks {
		if errs[ci] != nil {
			for _, i := range chunk {
				out.missingHistory = append(out.missingHistory, ids[i])
			}
			continue
		}
		out.samples += len(chunk)
	}
	if len(out.missingHistory) > 0 {
		err := fmt.Errorf("first samples: %w", errors.Join(errs...))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return out, &RunError{Phase: PhaseInsertHistory, VideoIDs: out.missingHistory, Err: err}
	}
	return out, nil
}
