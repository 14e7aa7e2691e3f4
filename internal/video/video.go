// Package video stores tracked videos and their view-count history.
//
// Each video is a root document in the "video" collection; its samples live
// in a "view-history" sub-collection under the video document.
package video

import (
	"fmt"
	"strings"
	"time"

	"github.com/albapepper/viewcount-tracker/internal/docstore"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	CollectionName        = "video"
	HistoryCollectionName = "view-history"

	// BatchSize is the number of writes per chunked batch.
	BatchSize = docstore.MaxBatchWrites
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Video is a tracked video.
type Video struct {
	VideoID     string    `json:"videoId"`
	Title       string    `json:"title"`
	ChannelID   string    `json:"channelId"`
	PublishedAt time.Time `json:"publishedAt"`
	// Milestone is the next view count that raises a REACHED notification.
	Milestone int64     `json:"milestone"`
	Updated   time.Time `json:"updated"` // set by the store on every write
}

// ViewHistory is one view-count sample.
type ViewHistory struct {
	ViewCount int64     `json:"viewCount"`
	Created   time.Time `json:"created"`
	Updated   time.Time `json:"updated"`
}

// HistoryEntry is a stored sample together with its reference.
type HistoryEntry struct {
	Ref docstore.DocumentRef[ViewHistory]
	ViewHistory
}

// VideoDocID returns the id of the video document owning the sample.
func (e HistoryEntry) VideoDocID() string {
	parent := strings.TrimSuffix(e.Ref.Key().Collection, "/"+HistoryCollectionName)
	if i := strings.LastIndexByte(parent, '/'); i >= 0 {
		return parent[i+1:]
	}
	return ""
}

// --------------------------------------------------------------------------
// Converters
// --------------------------------------------------------------------------

type videoConverter struct{}

func (videoConverter) ToStorage(v Video) (docstore.Data, error) {
	if v.VideoID == "" {
		return nil, fmt.Errorf("video without videoId")
	}
	return docstore.Data{
		"videoId":     v.VideoID,
		"title":       v.Title,
		"channelId":   v.ChannelID,
		"publishedAt": v.PublishedAt.UTC(),
		"milestone":   v.Milestone,
		"updated":     docstore.ServerTimestamp,
	}, nil
}

func (videoConverter) FromStorage(d docstore.Data) (Video, error) {
	var v Video
	var ok bool
	if v.VideoID, ok = docstore.StringValue(d["videoId"]); !ok || v.VideoID == "" {
		return Video{}, fmt.Errorf("missing videoId")
	}
	if v.Milestone, ok = docstore.Int64Value(d["milestone"]); !ok {
		return Video{}, fmt.Errorf("video %s: invalid milestone %v", v.VideoID, d["milestone"])
	}
	v.Title, _ = docstore.StringValue(d["title"])
	v.ChannelID, _ = docstore.StringValue(d["channelId"])
	v.PublishedAt, _ = docstore.TimeValue(d["publishedAt"])
	v.Updated, _ = docstore.TimeValue(d["updated"])
	return v, nil
}

type historyConverter struct{}

// ToStorage stamps zero times with the commit time.
func (historyConverter) ToStorage(h ViewHistory) (docstore.Data, error) {
	d := docstore.Data{
		"viewCount": h.ViewCount,
		"created":   docstore.ServerTimestamp,
		"updated":   docstore.ServerTimestamp,
	}
	if !h.Created.IsZero() {
		d["created"] = h.Created.UTC()
	}
	if !h.Updated.IsZero() {
		d["updated"] = h.Updated.UTC()
	}
	return d, nil
}

func (historyConverter) FromStorage(d docstore.Data) (ViewHistory, error) {
	var h ViewHistory
	var ok bool
	if h.ViewCount, ok = docstore.Int64Value(d["viewCount"]); !ok {
		return ViewHistory{}, fmt.Errorf("invalid viewCount %v", d["viewCount"])
	}
	h.Created, _ = docstore.TimeValue(d["created"])
	h.Updated, _ = docstore.TimeValue(d["updated"])
	// Older samples carry only "updated".
	if h.Created.IsZero() {
		h.Created = h.Updated
	}
	return h, nil
}
