package video

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/albapepper/viewcount-tracker/internal/docstore"
)

// Repository reads and writes videos and their view history.
type Repository struct {
	store  *docstore.Store
	videos docstore.CollectionRef[Video]
	logger *slog.Logger
}

// NewRepository binds the video collections to store.
func NewRepository(store *docstore.Store, logger *slog.Logger) *Repository {
	return &Repository{
		store:  store,
		videos: docstore.Collection[Video](store, CollectionName, videoConverter{}),
		logger: logger,
	}
}

func (r *Repository) history(docID string) docstore.CollectionRef[ViewHistory] {
	return docstore.SubCollection[ViewHistory](r.videos.Doc(docID), HistoryCollectionName, historyConverter{})
}

// --------------------------------------------------------------------------
// Reads
// --------------------------------------------------------------------------

// GetAll returns every video keyed by document id.
func (r *Repository) GetAll(ctx context.Context) (map[string]Video, error) {
	r.logger.Debug("Fetching videos")
	snap, err := r.videos.Documents(ctx)
	if err != nil {
		return nil, fmt.Errorf("get videos: %w", err)
	}
	if !docstore.Exists(snap) {
		r.logger.Warn("No videos found")
		return map[string]Video{}, nil
	}
	return snap.ByID(), nil
}

// Get returns one video by document id. ok is false when it does not exist.
func (r *Repository) Get(ctx context.Context, docID string) (Video, bool, error) {
	snap, err := r.videos.Doc(docID).Get(ctx)
	if err != nil {
		return Video{}, false, fmt.Errorf("get video %s: %w", docID, err)
	}
	return snap.Data(), snap.Exists(), nil
}

// GetByVideoIDs loads, inside tx, the videos whose videoId is in ids, keyed
// by document id. Larger id sets are split into queries of at most
// docstore.MaxInValues ids.
func (r *Repository) GetByVideoIDs(tx *docstore.Tx, ids []string) (map[string]Video, error) {
	r.logger.Debug("Fetching videos by IDs in transaction", "count", len(ids))
	out := make(map[string]Video, len(ids))
	for _, shard := range docstore.Chunk(ids, docstore.MaxInValues) {
		snap, err := r.videos.Where("videoId", docstore.OpIn, shard).DocumentsTx(tx)
		if err != nil {
			return nil, fmt.Errorf("get videos by id: %w", err)
		}
		for docID, v := range snap.ByID() {
			out[docID] = v
		}
	}
	if len(out) == 0 {
		r.logger.Warn("No videos found for given IDs in transaction", "count", len(ids))
	}
	return out, nil
}

// GetViewHistoriesBetween returns the samples of one video created in
// [from, to), oldest first.
func (r *Repository) GetViewHistoriesBetween(ctx context.Context, docID string, from, to time.Time) ([]HistoryEntry, error) {
	snap, err := r.history(docID).
		Where("created", docstore.OpGreaterEqual, from.UTC()).
		Where("created", docstore.OpLess, to.UTC()).
		OrderBy("created", docstore.Asc).
		Documents(ctx)
	if err != nil {
		return nil, fmt.Errorf("get view history of %s: %w", docID, err)
	}
	return entries(snap), nil
}

// GetOldestViewHistory returns the oldest sample across all videos.
func (r *Repository) GetOldestViewHistory(ctx context.Context) (HistoryEntry, bool, error) {
	snap, err := docstore.CollectionGroup[ViewHistory](r.store, HistoryCollectionName, historyConverter{}).
		OrderBy("created", docstore.Asc).
		Limit(1).
		Documents(ctx)
	if err != nil {
		return HistoryEntry{}, false, fmt.Errorf("get oldest view history: %w", err)
	}
	if !docstore.Exists(snap) {
		return HistoryEntry{}, false, nil
	}
	return entries(snap)[0], true, nil
}

func entries(snap docstore.QuerySnapshot[ViewHistory]) []HistoryEntry {
	out := make([]HistoryEntry, 0, snap.Size())
	for _, d := range snap.Docs {
		out = append(out, HistoryEntry{Ref: d.Ref, ViewHistory: d.Data()})
	}
	return out
}

// --------------------------------------------------------------------------
// Transactional writes
// --------------------------------------------------------------------------

// UpdateInTx rewrites a video loaded earlier in the same transaction.
func (r *Repository) UpdateInTx(tx *docstore.Tx, docID string, v Video) error {
	r.logger.Debug("Updating video in transaction", "doc_id", docID, "milestone", v.Milestone)
	if err := r.videos.Doc(docID).Update(tx, v); err != nil {
		return fmt.Errorf("update video %s: %w", docID, err)
	}
	return nil
}

// AddViewHistoryInTx appends a sample under a video and returns its id.
func (r *Repository) AddViewHistoryInTx(tx *docstore.Tx, docID string, h ViewHistory) (string, error) {
	ref := r.history(docID).NewDoc()
	if err := ref.Set(tx, h); err != nil {
		return "", fmt.Errorf("add view history to %s: %w", docID, err)
	}
	return ref.ID(), nil
}

// --------------------------------------------------------------------------
// Batches
// --------------------------------------------------------------------------

// StartBatch opens an empty write batch.
func (r *Repository) StartBatch() *docstore.Batch {
	return r.store.Batch()
}

// CommitBatch commits b.
func (r *Repository) CommitBatch(ctx context.Context, b *docstore.Batch) ([]docstore.WriteResult, error) {
	return b.Commit(ctx)
}

// AddVideoWithBatch queues a new video and returns its document id, which
// is allocated before the batch commits.
func (r *Repository) AddVideoWithBatch(b *docstore.Batch, v Video) (string, error) {
	ref := r.videos.NewDoc()
	if err := ref.Set(b, v); err != nil {
		return "", fmt.Errorf("add video %s: %w", v.VideoID, err)
	}
	return ref.ID(), nil
}

// AddViewHistoryWithBatch queues a sample under the video docID.
func (r *Repository) AddViewHistoryWithBatch(b *docstore.Batch, docID string, h ViewHistory) error {
	if err := r.history(docID).NewDoc().Set(b, h); err != nil {
		return fmt.Errorf("add view history to %s: %w", docID, err)
	}
	return nil
}

// AddVideos inserts videos in chunks of BatchSize, committing the chunks
// concurrently. The returned document ids line up with videos. Chunks that
// committed stay committed when another chunk fails; the ids of videos in a
// failed chunk are returned empty, so the caller can tell which roots exist.
func (r *Repository) AddVideos(ctx context.Context, videos []Video) ([]string, error) {
	ids := make([]string, len(videos))
	chunks := docstore.Chunk(videos, BatchSize)
	batches := make([]*docstore.Batch, 0, len(chunks))
	offset := 0
	for _, chunk := range chunks {
		b := r.StartBatch()
		for i, v := range chunk {
			id, err := r.AddVideoWithBatch(b, v)
			if err != nil {
				return nil, err
			}
			ids[offset+i] = id
		}
		offset += len(chunk)
		batches = append(batches, b)
	}

	errs := r.commitAll(ctx, batches)
	offset = 0
	for ci, chunk := range chunks {
		if errs[ci] != nil {
			clear(ids[offset : offset+len(chunk)])
		}
		offset += len(chunk)
	}
	if err := errors.Join(errs...); err != nil {
		return ids, fmt.Errorf("add videos: %w", err)
	}
	r.logger.Debug("Added videos", "count", len(videos), "batches", len(batches))
	return ids, nil
}

// DeleteViewHistories deletes refs in chunks of BatchSize, one batch per
// chunk, committing all chunks concurrently. It returns the number of
// batches committed.
func (r *Repository) DeleteViewHistories(ctx context.Context, refs []docstore.DocumentRef[ViewHistory]) (int, error) {
	chunks := docstore.Chunk(refs, BatchSize)
	batches := make([]*docstore.Batch, 0, len(chunks))
	for _, chunk := range chunks {
		b := r.StartBatch()
		for _, ref := range chunk {
			if err := ref.Delete(b); err != nil {
				return 0, fmt.Errorf("delete %s: %w", ref.Path(), err)
			}
		}
		batches = append(batches, b)
	}

	if err := errors.Join(r.commitAll(ctx, batches)...); err != nil {
		return 0, fmt.Errorf("delete view histories: %w", err)
	}
	return len(batches), nil
}

// commitAll commits every batch concurrently and returns one error slot
// per batch. Batches that succeeded stay committed when another one fails.
func (r *Repository) commitAll(ctx context.Context, batches []*docstore.Batch) []error {
	var g errgroup.Group
	errs := make([]error, len(batches))
	for i, b := range batches {
		g.Go(func() error {
			_, errs[i] = r.CommitBatch(ctx, b)
			return nil
		})
	}
	_ = g.Wait()
	return errs
}
