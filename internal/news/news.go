// Package news stores milestone notifications for tracked videos.
//
// A news document id is derived from (video, category, milestone), so each
// milestone event is written at most once no matter how often a run that
// observes it is retried.
package news

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/albapepper/viewcount-tracker/internal/docstore"
)

// CollectionName is the news collection path.
const CollectionName = "news"

// Category classifies a notification.
type Category string

const (
	CategoryNone     Category = ""
	CategoryReached  Category = "VIEW_COUNT_REACHED"
	CategoryApproach Category = "VIEW_COUNT_APPROACH"
)

// Properties are the observed numbers behind a notification.
type Properties struct {
	ViewCount int64 `json:"viewCount"`
	Milestone int64 `json:"milestone"`
}

// News is one notification.
type News struct {
	VideoID    string     `json:"videoId"`
	VideoTitle string     `json:"videoTitle"`
	Category   Category   `json:"category"`
	Properties Properties `json:"properties"`
	Created    time.Time  `json:"created"`
}

// DocID returns the deterministic document id of n.
func (n News) DocID() string {
	return DocID(n.VideoID, n.Category, n.Properties.Milestone)
}

// DocID builds the document id for a (video, category, milestone) event.
func DocID(videoID string, c Category, milestone int64) string {
	return videoID + "_" + string(c) + "_" + strconv.FormatInt(milestone, 10)
}

type converter struct{}

func (converter) ToStorage(n News) (docstore.Data, error) {
	if n.VideoID == "" || n.Category == CategoryNone {
		return nil, fmt.Errorf("news needs a video id and a category")
	}
	return docstore.Data{
		"videoId":    n.VideoID,
		"videoTitle": n.VideoTitle,
		"category":   string(n.Category),
		"properties": map[string]any{
			"viewCount": n.Properties.ViewCount,
			"milestone": n.Properties.Milestone,
		},
		"created": docstore.ServerTimestamp,
	}, nil
}

func (converter) FromStorage(d docstore.Data) (News, error) {
	var n News
	n.VideoID, _ = docstore.StringValue(d["videoId"])
	n.VideoTitle, _ = docstore.StringValue(d["videoTitle"])
	c, _ := docstore.StringValue(d["category"])
	n.Category = Category(c)
	if props, ok := d["properties"].(map[string]any); ok {
		n.Properties.ViewCount, _ = docstore.Int64Value(props["viewCount"])
		n.Properties.Milestone, _ = docstore.Int64Value(props["milestone"])
	}
	n.Created, _ = docstore.TimeValue(d["created"])
	return n, nil
}

// Repository reads and writes news documents.
type Repository struct {
	news   docstore.CollectionRef[News]
	logger *slog.Logger
}

// NewRepository binds the news collection to store.
func NewRepository(store *docstore.Store, logger *slog.Logger) *Repository {
	return &Repository{
		news:   docstore.Collection[News](store, CollectionName, converter{}),
		logger: logger,
	}
}

// ExistingInTx returns which of docIDs already exist, read inside tx.
func (r *Repository) ExistingInTx(tx *docstore.Tx, docIDs []string) (map[string]bool, error) {
	out := make(map[string]bool, len(docIDs))
	for _, id := range docIDs {
		snap, err := r.news.Doc(id).GetTx(tx)
		if err != nil {
			return nil, fmt.Errorf("read news %s: %w", id, err)
		}
		if docstore.Exists(snap) {
			out[id] = true
		}
	}
	return out, nil
}

// SetInTx writes n under its deterministic id.
func (r *Repository) SetInTx(tx *docstore.Tx, n News) error {
	r.logger.Debug("Adding news in transaction", "video_id", n.VideoID, "category", n.Category, "milestone", n.Properties.Milestone)
	if err := r.news.Doc(n.DocID()).Set(tx, n); err != nil {
		return fmt.Errorf("set news %s: %w", n.DocID(), err)
	}
	return nil
}

// ListByVideo returns the notifications of one video, newest first.
func (r *Repository) ListByVideo(ctx context.Context, videoID string) ([]News, error) {
	snap, err := r.news.Where("videoId", docstore.OpEqual, videoID).Documents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list news for %s: %w", videoID, err)
	}
	out := make([]News, 0, snap.Size())
	for _, d := range snap.Docs {
		out = append(out, d.Data())
	}
	slices.SortFunc(out, func(a, b News) int { return b.Created.Compare(a.Created) })
	return out, nil
}
