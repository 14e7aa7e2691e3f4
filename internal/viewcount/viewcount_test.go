package viewcount_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/albapepper/viewcount-tracker/internal/docstore"
	"github.com/albapepper/viewcount-tracker/internal/docstore/memstore"
	"github.com/albapepper/viewcount-tracker/internal/milestone"
	"github.com/albapepper/viewcount-tracker/internal/news"
	"github.com/albapepper/viewcount-tracker/internal/provider/youtube"
	"github.com/albapepper/viewcount-tracker/internal/telemetry"
	"github.com/albapepper/viewcount-tracker/internal/video"
	"github.com/albapepper/viewcount-tracker/internal/viewcount"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeSource struct {
	FetchFn func(ctx context.Context, ids []string) ([]youtube.Video, error)
	calls   int
}

func (f *fakeSource) FetchCurrentValues(ctx context.Context, ids []string) ([]youtube.Video, error) {
	f.calls++
	return f.FetchFn(ctx, ids)
}

// countsSource answers with the given view counts for the requested ids it
// knows about.
func countsSource(counts map[string]int64) *fakeSource {
	return &fakeSource{FetchFn: func(_ context.Context, ids []string) ([]youtube.Video, error) {
		var out []youtube.Video
		for _, id := range ids {
			if n, ok := counts[id]; ok {
				out = append(out, youtube.Video{
					ID:          id,
					Title:       "title " + id,
					ChannelID:   "channel",
					PublishedAt: time.Date(2023, 4, 1, 9, 0, 0, 0, time.UTC),
					ViewCount:   n,
				})
			}
		}
		return out, nil
	}}
}

// ---------------------------------------------------------------------------
// Environment
// ---------------------------------------------------------------------------

type env struct {
	t      *testing.T
	mem    *memstore.Store
	store  *docstore.Store
	videos *video.Repository
	news   *news.Repository
	policy milestone.Policy

	mu      sync.Mutex
	hook    memstore.CommitHook
	commits [][]docstore.Write // non-transactional commits seen by the store
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		t:      t,
		policy: milestone.Window{Stepper: milestone.Magnitude{}, Distance: 100},
	}
	e.mem = memstore.New(memstore.WithCommitHook(func(writes []docstore.Write, inTx bool) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		if !inTx {
			e.commits = append(e.commits, slices.Clone(writes))
		}
		if e.hook != nil {
			return e.hook(writes, inTx)
		}
		return nil
	}))
	e.store = docstore.New(e.mem)
	e.videos = video.NewRepository(e.store, discard())
	e.news = news.NewRepository(e.store, discard())
	return e
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (e *env) useCase(src viewcount.Source) *viewcount.UseCase {
	return viewcount.New(src, e.store, e.policy, discard(), viewcount.WithMetrics(telemetry.NewMetrics()))
}

func (e *env) setHook(h memstore.CommitHook) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hook = h
	e.commits = nil
}

func (e *env) nonTxCommits() [][]docstore.Write {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.commits)
}

// seed stores tracked videos with the given milestones and returns their
// document ids keyed by video id.
func (e *env) seed(milestones map[string]int64) map[string]string {
	e.t.Helper()
	ids := make([]string, 0, len(milestones))
	for id := range milestones {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	records := make([]video.Video, len(ids))
	for i, id := range ids {
		records[i] = video.Video{VideoID: id, Title: "title " + id, ChannelID: "channel", Milestone: milestones[id]}
	}
	docIDs, err := e.videos.AddVideos(context.Background(), records)
	if err != nil {
		e.t.Fatalf("seed videos: %v", err)
	}
	out := make(map[string]string, len(ids))
	for i, id := range ids {
		out[id] = docIDs[i]
	}
	e.setHook(nil)
	return out
}

func (e *env) samples(docID string) []video.HistoryEntry {
	e.t.Helper()
	got, err := e.videos.GetViewHistoriesBetween(context.Background(), docID, time.Time{}, time.Now().Add(time.Hour))
	if err != nil {
		e.t.Fatalf("read samples: %v", err)
	}
	return got
}

func (e *env) video(docID string) video.Video {
	e.t.Helper()
	v, ok, err := e.videos.Get(context.Background(), docID)
	if err != nil || !ok {
		e.t.Fatalf("read video %s: ok=%v err=%v", docID, ok, err)
	}
	return v
}

func (e *env) newsFor(videoID string) []news.News {
	e.t.Helper()
	got, err := e.news.ListByVideo(context.Background(), videoID)
	if err != nil {
		e.t.Fatalf("list news: %v", err)
	}
	return got
}

// docIDsByVideo returns every stored video keyed by video id.
func (e *env) docIDsByVideo() map[string]string {
	e.t.Helper()
	all, err := e.videos.GetAll(context.Background())
	if err != nil {
		e.t.Fatal(err)
	}
	out := make(map[string]string, len(all))
	for docID, v := range all {
		out[v.VideoID] = docID
	}
	return out
}

// ---------------------------------------------------------------------------
// Reconcile scenarios
// ---------------------------------------------------------------------------

func TestRunOnce_ReachedMilestone(t *testing.T) {
	e := newEnv(t)
	docs := e.seed(map[string]int64{"a": 1000})

	result, err := e.useCase(countsSource(map[string]int64{"a": 1000})).RunOnce(context.Background(), []string{"a"})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Processed["a"] != news.CategoryReached {
		t.Errorf("expected REACHED, got %q", result.Processed["a"])
	}
	items := e.newsFor("a")
	if len(items) != 1 {
		t.Fatalf("expected 1 news, got %d", len(items))
	}
	if items[0].Category != news.CategoryReached || items[0].Properties.Milestone != 1000 || items[0].Properties.ViewCount != 1000 {
		t.Errorf("unexpected news: %+v", items[0])
	}
	if got := e.video(docs["a"]).Milestone; got != e.policy.Next(1000) || got < 1000 {
		t.Errorf("expected milestone %d, got %d", e.policy.Next(1000), got)
	}
	samples := e.samples(docs["a"])
	if len(samples) != 1 || samples[0].ViewCount != 1000 {
		t.Errorf("expected one sample of 1000, got %+v", samples)
	}
}

func TestRunOnce_ApproachingMilestone(t *testing.T) {
	e := newEnv(t)
	docs := e.seed(map[string]int64{"a": 1000})

	result, err := e.useCase(countsSource(map[string]int64{"a": 950})).RunOnce(context.Background(), []string{"a"})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Processed["a"] != news.CategoryApproach {
		t.Errorf("expected APPROACH, got %q", result.Processed["a"])
	}
	items := e.newsFor("a")
	if len(items) != 1 || items[0].Category != news.CategoryApproach || items[0].Properties.Milestone != 1000 {
		t.Errorf("unexpected news: %+v", items)
	}
	if got := e.video(docs["a"]).Milestone; got != 1000 {
		t.Errorf("expected milestone unchanged at 1000, got %d", got)
	}
	samples := e.samples(docs["a"])
	if len(samples) != 1 || samples[0].ViewCount != 950 {
		t.Errorf("expected one sample of 950, got %+v", samples)
	}
}

func TestRunOnce_NoNotificationBelowWindow(t *testing.T) {
	e := newEnv(t)
	docs := e.seed(map[string]int64{"a": 10000})

	result, err := e.useCase(countsSource(map[string]int64{"a": 5000})).RunOnce(context.Background(), []string{"a"})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cat, ok := result.Processed["a"]; !ok || cat != news.CategoryNone {
		t.Errorf("expected a processed with no category, got %q (present=%v)", cat, ok)
	}
	if len(e.newsFor("a")) != 0 {
		t.Error("expected no news")
	}
	if len(e.samples(docs["a"])) != 1 {
		t.Error("expected one sample")
	}
}

func TestRunOnce_OneSamplePerTrackedVideoPerRun(t *testing.T) {
	e := newEnv(t)
	docs := e.seed(map[string]int64{"a": 10000, "b": 1000, "c": 1000})
	uc := e.useCase(countsSource(map[string]int64{"a": 5000, "b": 1000, "c": 950}))
	ids := []string{"a", "b", "c"}

	for run := 1; run <= 3; run++ {
		result, err := uc.RunOnce(context.Background(), ids)
		if err != nil {
			t.Fatalf("run %d: unexpected error: %v", run, err)
		}
		if len(result.Processed) != 3 {
			t.Fatalf("run %d: expected 3 processed, got %v", run, result.Processed)
		}
		for _, id := range ids {
			if got := len(e.samples(docs[id])); got != run {
				t.Errorf("run %d: video %s has %d samples", run, id, got)
			}
		}
	}
}

func TestRunOnce_NotificationsAreNotRepeated(t *testing.T) {
	e := newEnv(t)
	docs := e.seed(map[string]int64{"a": 1000, "b": 1000})
	uc := e.useCase(countsSource(map[string]int64{"a": 1000, "b": 950}))

	first, err := uc.RunOnce(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := uc.RunOnce(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}

	if first.Processed["a"] != news.CategoryReached || first.Processed["b"] != news.CategoryApproach {
		t.Errorf("unexpected first run: %v", first.Processed)
	}
	// a's milestone moved on; b is still approaching the same milestone.
	if second.Processed["a"] != news.CategoryNone || second.Processed["b"] != news.CategoryNone {
		t.Errorf("expected no notifications on the second run, got %v", second.Processed)
	}
	if n := len(e.newsFor("a")); n != 1 {
		t.Errorf("expected 1 news for a, got %d", n)
	}
	if n := len(e.newsFor("b")); n != 1 {
		t.Errorf("expected 1 news for b, got %d", n)
	}
	if n := len(e.samples(docs["b"])); n != 2 {
		t.Errorf("expected 2 samples for b, got %d", n)
	}
}

func TestRunOnce_ReachedIffCountMeetsMilestone(t *testing.T) {
	cases := []struct {
		milestone, count int64
		want             news.Category
	}{
		{1000, 999, news.CategoryApproach},
		{1000, 1000, news.CategoryReached},
		{1000, 1001, news.CategoryReached},
		{1000, 123456, news.CategoryReached},
		{50000, 20000, news.CategoryNone},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d/%d", tc.milestone, tc.count), func(t *testing.T) {
			e := newEnv(t)
			docs := e.seed(map[string]int64{"a": tc.milestone})

			result, err := e.useCase(countsSource(map[string]int64{"a": tc.count})).RunOnce(context.Background(), []string{"a"})
			if err != nil {
				t.Fatal(err)
			}

			if result.Processed["a"] != tc.want {
				t.Errorf("expected %q, got %q", tc.want, result.Processed["a"])
			}
			after := e.video(docs["a"]).Milestone
			if after < tc.milestone {
				t.Errorf("milestone went backwards: %d -> %d", tc.milestone, after)
			}
			if tc.want == news.CategoryReached && after != e.policy.Next(tc.count) {
				t.Errorf("expected milestone %d, got %d", e.policy.Next(tc.count), after)
			}
			if tc.want != news.CategoryReached && after != tc.milestone {
				t.Errorf("expected milestone untouched, got %d", after)
			}
			if n := len(e.newsFor("a")); n > 1 {
				t.Errorf("expected at most one news, got %d", n)
			}
		})
	}
}

func TestRunOnce_ShardsLargeTrackedSets(t *testing.T) {
	e := newEnv(t)
	milestones := make(map[string]int64)
	counts := make(map[string]int64)
	ids := make([]string, 0, 45)
	for i := range 45 {
		id := fmt.Sprintf("v%02d", i)
		milestones[id] = 1_000_000
		counts[id] = 500_000
		ids = append(ids, id)
	}
	e.seed(milestones)

	result, err := e.useCase(countsSource(counts)).RunOnce(context.Background(), ids)

	if err != nil {
		t.Fatal(err)
	}
	if len(result.Processed) != 45 || len(result.Inserted) != 0 || result.Samples != 45 {
		t.Errorf("expected 45 processed and no inserts, got %s", result.Summary())
	}
}

// ---------------------------------------------------------------------------
// Insert scenarios
// ---------------------------------------------------------------------------

func TestRunOnce_UnknownVideoIsInserted(t *testing.T) {
	e := newEnv(t)

	result, err := e.useCase(countsSource(map[string]int64{"new": 4321})).RunOnce(context.Background(), []string{"new"})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, tracked := result.Processed["new"]; tracked {
		t.Error("expected no reconcile outcome for an untracked video")
	}
	if !slices.Equal(result.Inserted, []string{"new"}) {
		t.Errorf("expected [new] inserted, got %v", result.Inserted)
	}
	if len(e.newsFor("new")) != 0 {
		t.Error("expected no news for a new video")
	}
	docID, ok := e.docIDsByVideo()["new"]
	if !ok {
		t.Fatal("expected root document")
	}
	v := e.video(docID)
	if v.Milestone != e.policy.Next(4321) || v.Title != "title new" || v.PublishedAt.Year() != 2023 {
		t.Errorf("unexpected root: %+v", v)
	}
	samples := e.samples(docID)
	if len(samples) != 1 || samples[0].ViewCount != 4321 {
		t.Errorf("expected one sample of 4321, got %+v", samples)
	}
}

func TestRunOnce_TwoPhaseInsert(t *testing.T) {
	e := newEnv(t)
	e.seed(map[string]int64{"tracked": 10000})

	_, err := e.useCase(countsSource(map[string]int64{"tracked": 5000, "n1": 10, "n2": 20})).
		RunOnce(context.Background(), []string{"tracked", "n1", "n2"})
	if err != nil {
		t.Fatal(err)
	}

	commits := e.nonTxCommits()
	if len(commits) != 2 {
		t.Fatalf("expected 2 batch commits, got %d", len(commits))
	}
	roots := make(map[string]bool)
	for _, w := range commits[0] {
		if w.Key.Collection != video.CollectionName {
			t.Errorf("phase one wrote outside the video collection: %s", w.Key.Path())
		}
		roots[w.Key.ID] = true
	}
	if len(roots) != 2 {
		t.Errorf("expected 2 roots in phase one, got %d", len(roots))
	}
	for _, w := range commits[1] {
		if w.Key.CollectionID() != video.HistoryCollectionName {
			t.Errorf("phase two wrote outside view history: %s", w.Key.Path())
			continue
		}
		parent := strings.TrimSuffix(strings.TrimPrefix(w.Key.Collection, video.CollectionName+"/"), "/"+video.HistoryCollectionName)
		if !roots[parent] {
			t.Errorf("sample %s does not address a root from phase one", w.Key.Path())
		}
	}
	if len(commits[1]) != 2 {
		t.Errorf("expected 2 samples in phase two, got %d", len(commits[1]))
	}

	docs := e.docIDsByVideo()
	for id, want := range map[string]int64{"n1": 10, "n2": 20} {
		samples := e.samples(docs[id])
		if len(samples) != 1 || samples[0].ViewCount != want {
			t.Errorf("%s: expected one sample of %d, got %+v", id, want, samples)
		}
	}
}

func TestRunOnce_RootPhaseFailureSkipsSamples(t *testing.T) {
	e := newEnv(t)
	boom := errors.New("unavailable")
	e.setHook(func(writes []docstore.Write, inTx bool) error {
		if !inTx && writes[0].Key.Collection == video.CollectionName {
			return boom
		}
		return nil
	})

	result, err := e.useCase(countsSource(map[string]int64{"n1": 1, "n2": 2})).RunOnce(context.Background(), []string{"n1", "n2"})

	var runErr *viewcount.RunError
	if !errors.As(err, &runErr) || runErr.Phase != viewcount.PhaseInsertVideos {
		t.Fatalf("expected insert_videos RunError, got %v", err)
	}
	if !errors.Is(err, viewcount.ErrInsert) || !errors.Is(err, boom) {
		t.Errorf("expected ErrInsert wrapping cause, got %v", err)
	}
	if len(e.nonTxCommits()) != 1 {
		t.Errorf("expected only the failed root commit, got %d commits", len(e.nonTxCommits()))
	}
	if e.mem.Len() != 0 || len(result.Inserted) != 0 {
		t.Errorf("expected nothing stored, got %v", e.mem.Paths())
	}
}

func TestRunOnce_PartialRootFailureReportsCommittedRoots(t *testing.T) {
	e := newEnv(t)
	counts := make(map[string]int64, video.BatchSize+100)
	ids := make([]string, 0, video.BatchSize+100)
	for i := range video.BatchSize + 100 {
		id := fmt.Sprintf("n%03d", i)
		counts[id] = 5
		ids = append(ids, id)
	}
	boom := errors.New("unavailable")
	e.setHook(func(writes []docstore.Write, inTx bool) error {
		if !inTx && writes[0].Key.Collection == video.CollectionName && len(writes) == 100 {
			return boom
		}
		return nil
	})

	result, err := e.useCase(countsSource(counts)).RunOnce(context.Background(), ids)

	var runErr *viewcount.RunError
	if !errors.As(err, &runErr) || runErr.Phase != viewcount.PhaseInsertVideos {
		t.Fatalf("expected insert_videos RunError, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("expected cause on the error, got %v", err)
	}
	if !slices.Equal(runErr.VideoIDs, ids[video.BatchSize:]) {
		t.Errorf("expected the failed chunk's ids on the error, got %d ids", len(runErr.VideoIDs))
	}
	if !slices.Equal(result.Inserted, ids[:video.BatchSize]) {
		t.Errorf("expected the committed chunk as inserted, got %d ids", len(result.Inserted))
	}
	if !slices.Equal(result.MissingHistory, result.Inserted) {
		t.Errorf("expected every committed root to lack history, got %d", len(result.MissingHistory))
	}
	if e.mem.Len() != video.BatchSize {
		t.Errorf("expected only the committed roots stored, got %d docs", e.mem.Len())
	}
	if result.Samples != 0 {
		t.Errorf("expected no samples, got %d", result.Samples)
	}
}

func TestRunOnce_SamplePhaseFailureIsPartialSuccess(t *testing.T) {
	e := newEnv(t)
	e.setHook(func(writes []docstore.Write, inTx bool) error {
		if !inTx && writes[0].Key.CollectionID() == video.HistoryCollectionName {
			return errors.New("unavailable")
		}
		return nil
	})

	result, err := e.useCase(countsSource(map[string]int64{"n1": 1, "n2": 2})).RunOnce(context.Background(), []string{"n1", "n2"})

	var runErr *viewcount.RunError
	if !errors.As(err, &runErr) || runErr.Phase != viewcount.PhaseInsertHistory {
		t.Fatalf("expected insert_history RunError, got %v", err)
	}
	slices.Sort(result.MissingHistory)
	if !slices.Equal(result.MissingHistory, []string{"n1", "n2"}) {
		t.Errorf("expected both ids missing history, got %v", result.MissingHistory)
	}
	docs := e.docIDsByVideo()
	if len(docs) != 2 {
		t.Fatalf("expected both roots committed, got %v", docs)
	}
	for id, docID := range docs {
		if n := len(e.samples(docID)); n != 0 {
			t.Errorf("%s: expected no samples, got %d", id, n)
		}
	}
}

// ---------------------------------------------------------------------------
// Failures before any write
// ---------------------------------------------------------------------------

func TestRunOnce_FetchFailureMutatesNothing(t *testing.T) {
	e := newEnv(t)
	e.seed(map[string]int64{"a": 1000})
	before := e.mem.Paths()
	src := &fakeSource{FetchFn: func(context.Context, []string) ([]youtube.Video, error) {
		return nil, errors.New("quota exceeded")
	}}

	_, err := e.useCase(src).RunOnce(context.Background(), []string{"a", "b"})

	if !errors.Is(err, viewcount.ErrFetch) {
		t.Fatalf("expected ErrFetch, got %v", err)
	}
	var runErr *viewcount.RunError
	if !errors.As(err, &runErr) || len(runErr.VideoIDs) != 2 {
		t.Errorf("expected the requested ids on the error, got %+v", runErr)
	}
	if !slices.Equal(e.mem.Paths(), before) {
		t.Errorf("expected store untouched, got %v", e.mem.Paths())
	}
	if src.calls != 1 {
		t.Errorf("expected exactly one fetch, got %d", src.calls)
	}
}

func TestRunOnce_ConflictAbortsRun(t *testing.T) {
	e := newEnv(t)
	docs := e.seed(map[string]int64{"a": 1000, "b": 1000})
	e.setHook(func(_ []docstore.Write, inTx bool) error {
		if inTx {
			return docstore.ErrTransactionConflict
		}
		return nil
	})

	_, err := e.useCase(countsSource(map[string]int64{"a": 1000, "b": 950, "new": 5})).
		RunOnce(context.Background(), []string{"a", "b", "new"})

	if !errors.Is(err, viewcount.ErrReconcile) || !errors.Is(err, docstore.ErrTransactionConflict) {
		t.Fatalf("expected reconcile conflict, got %v", err)
	}
	for id, docID := range docs {
		if got := e.video(docID).Milestone; got != 1000 {
			t.Errorf("%s: milestone changed to %d", id, got)
		}
		if n := len(e.newsFor(id)); n != 0 {
			t.Errorf("%s: expected no news, got %d", id, n)
		}
		if n := len(e.samples(docID)); n != 0 {
			t.Errorf("%s: expected no samples, got %d", id, n)
		}
	}
	if n := len(e.nonTxCommits()); n != 0 {
		t.Errorf("expected insert step skipped, got %d batch commits", n)
	}
}

func TestRunOnce_EmptyFetch(t *testing.T) {
	e := newEnv(t)
	result, err := e.useCase(countsSource(nil)).RunOnce(context.Background(), []string{"gone"})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Processed) != 0 || len(result.Inserted) != 0 || e.mem.Len() != 0 {
		t.Errorf("expected nothing to happen, got %s", result.Summary())
	}
}

// deletingBackend removes one document right before the first transaction
// commit, as a concurrent writer would.
type deletingBackend struct {
	*memstore.Store
	key  docstore.Key
	once sync.Once
}

func (b *deletingBackend) Begin(ctx context.Context) (docstore.BackendTx, error) {
	tx, err := b.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &deletingTx{BackendTx: tx, b: b}, nil
}

type deletingTx struct {
	docstore.BackendTx
	b *deletingBackend
}

func (t *deletingTx) Commit(ctx context.Context, writes []docstore.Write) ([]docstore.WriteResult, error) {
	var err error
	t.b.once.Do(func() {
		_, err = t.b.Store.Commit(ctx, []docstore.Write{{Kind: docstore.WriteDelete, Key: t.b.key}})
	})
	if err != nil {
		return nil, err
	}
	return t.BackendTx.Commit(ctx, writes)
}

func TestRunOnce_VideoDeletedDuringReconcileIsSkipped(t *testing.T) {
	e := newEnv(t)
	docs := e.seed(map[string]int64{"a": 10000, "b": 10000})
	backend := &deletingBackend{Store: e.mem, key: docstore.Key{Collection: video.CollectionName, ID: docs["a"]}}
	uc := viewcount.New(countsSource(map[string]int64{"a": 5000, "b": 5000}), docstore.New(backend), e.policy, discard())

	result, err := uc.RunOnce(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(result.Skipped, []string{"a"}) {
		t.Errorf("expected a skipped, got %v", result.Skipped)
	}
	if len(result.Inserted) != 0 {
		t.Errorf("expected no re-insert, got %v", result.Inserted)
	}
	if _, ok := result.Processed["b"]; !ok || len(result.Processed) != 1 {
		t.Errorf("expected only b processed, got %v", result.Processed)
	}
	all, err := e.videos.GetAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[docs["b"]].VideoID != "b" {
		t.Errorf("expected only b stored, got %v", all)
	}
	if got := len(e.samples(docs["b"])); got != 1 {
		t.Errorf("expected one sample for b, got %d", got)
	}
}
