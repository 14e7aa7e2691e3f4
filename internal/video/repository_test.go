package video

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/albapepper/viewcount-tracker/internal/docstore"
	"github.com/albapepper/viewcount-tracker/internal/docstore/memstore"
)

func newRepo(t *testing.T) (*Repository, *docstore.Store) {
	t.Helper()
	store := docstore.New(memstore.New())
	return NewRepository(store, slog.New(slog.NewTextHandler(io.Discard, nil))), store
}

func TestAddVideos_IDsLineUpAcrossBatches(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()

	videos := make([]Video, BatchSize+20)
	for i := range videos {
		videos[i] = Video{VideoID: fmt.Sprintf("v%03d", i), Milestone: 1000}
	}
	ids, err := repo.AddVideos(ctx, videos)
	if err != nil {
		t.Fatalf("AddVideos: %v", err)
	}
	if len(ids) != len(videos) {
		t.Fatalf("expected %d ids, got %d", len(videos), len(ids))
	}
	for _, i := range []int{0, BatchSize - 1, BatchSize, len(videos) - 1} {
		got, ok, err := repo.Get(ctx, ids[i])
		if err != nil || !ok {
			t.Fatalf("Get(%s): ok=%v err=%v", ids[i], ok, err)
		}
		if got.VideoID != videos[i].VideoID {
			t.Errorf("id %d: expected %s, got %s", i, videos[i].VideoID, got.VideoID)
		}
	}

	all, err := repo.GetAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != len(videos) {
		t.Errorf("expected %d videos, got %d", len(videos), len(all))
	}
}

func TestAddVideos_FailedChunkLeavesEmptyIDs(t *testing.T) {
	mem := memstore.New(memstore.WithCommitHook(func(writes []docstore.Write, _ bool) error {
		if len(writes) == 20 {
			return errors.New("unavailable")
		}
		return nil
	}))
	repo := NewRepository(docstore.New(mem), slog.New(slog.NewTextHandler(io.Discard, nil)))

	videos := make([]Video, BatchSize+20)
	for i := range videos {
		videos[i] = Video{VideoID: fmt.Sprintf("v%03d", i), Milestone: 1000}
	}
	ids, err := repo.AddVideos(context.Background(), videos)

	if err == nil {
		t.Fatal("expected error from the failed chunk")
	}
	if len(ids) != len(videos) {
		t.Fatalf("expected %d ids, got %d", len(videos), len(ids))
	}
	for i, id := range ids {
		if committed := i < BatchSize; committed != (id != "") {
			t.Fatalf("id %d: expected committed=%v, got %q", i, committed, id)
		}
	}
	if mem.Len() != BatchSize {
		t.Errorf("expected %d stored videos, got %d", BatchSize, mem.Len())
	}
}

func TestAddVideos_RejectsMissingVideoID(t *testing.T) {
	repo, _ := newRepo(t)
	if _, err := repo.AddVideos(context.Background(), []Video{{Title: "untitled"}}); err == nil {
		t.Fatal("expected error for a video without videoId")
	}
}

func TestGetByVideoIDs_ShardsInQueries(t *testing.T) {
	repo, store := newRepo(t)
	ctx := context.Background()

	n := docstore.MaxInValues*2 + 5
	videos := make([]Video, n)
	want := make([]string, n)
	for i := range videos {
		want[i] = fmt.Sprintf("id-%02d", i)
		videos[i] = Video{VideoID: want[i], Milestone: 10}
	}
	if _, err := repo.AddVideos(ctx, videos); err != nil {
		t.Fatal(err)
	}

	var got map[string]Video
	err := store.RunTransaction(ctx, func(ctx context.Context, tx *docstore.Tx) error {
		var err error
		got, err = repo.GetByVideoIDs(tx, append(want, "unknown"))
		return err
	})
	if err != nil {
		t.Fatalf("RunTransaction: %v", err)
	}
	if len(got) != n {
		t.Errorf("expected %d videos, got %d", n, len(got))
	}
}

func TestGetViewHistoriesBetween_HalfOpenAndOrdered(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()

	ids, err := repo.AddVideos(ctx, []Video{{VideoID: "abc", Milestone: 1000}})
	if err != nil {
		t.Fatal(err)
	}
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	b := repo.StartBatch()
	for _, h := range []int{3, 0, 2, 1} {
		sample := ViewHistory{ViewCount: int64(h), Created: base.Add(time.Duration(h) * time.Hour)}
		if err := repo.AddViewHistoryWithBatch(b, ids[0], sample); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := repo.CommitBatch(ctx, b); err != nil {
		t.Fatal(err)
	}

	got, err := repo.GetViewHistoriesBetween(ctx, ids[0], base, base.Add(3*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(got))
	}
	for i, e := range got {
		if e.ViewCount != int64(i) {
			t.Errorf("sample %d: expected count %d, got %d", i, i, e.ViewCount)
		}
		if e.VideoDocID() != ids[0] {
			t.Errorf("sample %d: expected owner %s, got %s", i, ids[0], e.VideoDocID())
		}
	}
}

func TestGetOldestViewHistory(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()

	if _, ok, err := repo.GetOldestViewHistory(ctx); err != nil || ok {
		t.Fatalf("expected no samples, got ok=%v err=%v", ok, err)
	}

	ids, err := repo.AddVideos(ctx, []Video{{VideoID: "a", Milestone: 1}, {VideoID: "b", Milestone: 1}})
	if err != nil {
		t.Fatal(err)
	}
	oldest := time.Date(2023, 12, 31, 23, 0, 0, 0, time.UTC)
	b := repo.StartBatch()
	_ = repo.AddViewHistoryWithBatch(b, ids[0], ViewHistory{ViewCount: 5, Created: oldest.Add(time.Hour)})
	_ = repo.AddViewHistoryWithBatch(b, ids[1], ViewHistory{ViewCount: 7, Created: oldest})
	if _, err := repo.CommitBatch(ctx, b); err != nil {
		t.Fatal(err)
	}

	e, ok, err := repo.GetOldestViewHistory(ctx)
	if err != nil || !ok {
		t.Fatalf("expected a sample, got ok=%v err=%v", ok, err)
	}
	if !e.Created.Equal(oldest) || e.VideoDocID() != ids[1] {
		t.Errorf("expected oldest sample of %s at %s, got %s at %s", ids[1], oldest, e.VideoDocID(), e.Created)
	}
}

func TestHistoryConverter_FallsBackToUpdated(t *testing.T) {
	updated := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	h, err := historyConverter{}.FromStorage(docstore.Data{"viewCount": int64(12), "updated": updated})
	if err != nil {
		t.Fatal(err)
	}
	if !h.Created.Equal(updated) {
		t.Errorf("expected created %s, got %s", updated, h.Created)
	}
	if _, err := (historyConverter{}).FromStorage(docstore.Data{"viewCount": "many"}); err == nil {
		t.Error("expected error for a non-numeric viewCount")
	}
}
