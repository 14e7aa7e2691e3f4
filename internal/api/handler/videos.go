package handler

import (
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/albapepper/viewcount-tracker/internal/api/respond"
	"github.com/albapepper/viewcount-tracker/internal/cache"
	"github.com/albapepper/viewcount-tracker/internal/news"
	"github.com/albapepper/viewcount-tracker/internal/video"
)

// DefaultHistoryWindow is the history range served without a from parameter.
const DefaultHistoryWindow = 7 * 24 * time.Hour

const videosCacheKey = "videos"

// VideoResponse is a tracked video with its document id.
type VideoResponse struct {
	DocID string `json:"docId"`
	video.Video
}

// HistoryResponse is one view-count sample.
type HistoryResponse struct {
	ID        string    `json:"id"`
	ViewCount int64     `json:"viewCount"`
	Created   time.Time `json:"created"`
}

// ListVideos returns every tracked video.
// @Summary List tracked videos
// @Description Returns every tracked video with its next milestone, ordered by video id. Supports ETag revalidation.
// @Tags videos
// @Produce json
// @Success 200 {array} VideoResponse
// @Success 304
// @Failure 500 {object} respond.ErrorResponse
// @Router /videos [get]
func (h *Handler) ListVideos(w http.ResponseWriter, r *http.Request) {
	if data, etag, ok := h.cache.Get(videosCacheKey); ok {
		if cache.CheckETagMatch(r.Header.Get("If-None-Match"), etag) {
			respond.WriteNotModified(w, etag)
			return
		}
		respond.WriteJSON(w, data, etag, cache.TTLVideos, true)
		return
	}

	all, err := h.videos.GetAll(r.Context())
	if err != nil {
		h.logger.Error("Failed to list videos", "error", err)
		respond.WriteError(w, http.StatusInternalServerError, "STORE_ERROR", "Failed to list videos")
		return
	}
	out := make([]VideoResponse, 0, len(all))
	for docID, v := range all {
		out = append(out, VideoResponse{DocID: docID, Video: v})
	}
	slices.SortFunc(out, func(a, b VideoResponse) int {
		if c := strings.Compare(a.VideoID, b.VideoID); c != 0 {
			return c
		}
		return strings.Compare(a.DocID, b.DocID)
	})

	raw, err := json.Marshal(out)
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "ENCODE_ERROR", "Failed to encode videos")
		return
	}
	etag := h.cache.Set(videosCacheKey, raw, cache.TTLVideos)
	if cache.CheckETagMatch(r.Header.Get("If-None-Match"), etag) {
		respond.WriteNotModified(w, etag)
		return
	}
	respond.WriteJSON(w, raw, etag, cache.TTLVideos, false)
}

// GetVideoHistory returns the samples of one video.
// @Summary Get view history
// @Description Returns the view-count samples of one video created in [from, to), oldest first. Defaults to the last 7 days.
// @Tags videos
// @Produce json
// @Param docID path string true "Video document id"
// @Param from query string false "Range start (RFC 3339)"
// @Param to query string false "Range end (RFC 3339)"
// @Success 200 {array} HistoryResponse
// @Failure 400 {object} respond.ErrorResponse
// @Failure 404 {object} respond.ErrorResponse
// @Router /videos/{docID}/history [get]
func (h *Handler) GetVideoHistory(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	to, ok := parseTime(w, r, "to", time.Now().UTC())
	if !ok {
		return
	}
	from, ok := parseTime(w, r, "from", to.Add(-DefaultHistoryWindow))
	if !ok {
		return
	}
	if !from.Before(to) {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_RANGE", "from must be before to")
		return
	}

	if _, exists, err := h.videos.Get(r.Context(), docID); err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "STORE_ERROR", "Failed to load video")
		return
	} else if !exists {
		respond.WriteError(w, http.StatusNotFound, "NOT_FOUND", "Video "+docID+" not found")
		return
	}

	entries, err := h.videos.GetViewHistoriesBetween(r.Context(), docID, from, to)
	if err != nil {
		h.logger.Error("Failed to load view history", "doc_id", docID, "error", err)
		respond.WriteError(w, http.StatusInternalServerError, "STORE_ERROR", "Failed to load view history")
		return
	}
	out := make([]HistoryResponse, len(entries))
	for i, e := range entries {
		out[i] = HistoryResponse{ID: e.Ref.ID(), ViewCount: e.ViewCount, Created: e.Created}
	}
	respond.WriteJSONObject(w, http.StatusOK, out)
}

// GetVideoNews returns the milestone notifications of one video.
// @Summary Get video news
// @Description Returns the milestone notifications recorded for one video, newest first.
// @Tags videos
// @Produce json
// @Param docID path string true "Video document id"
// @Success 200 {array} news.News
// @Failure 404 {object} respond.ErrorResponse
// @Router /videos/{docID}/news [get]
func (h *Handler) GetVideoNews(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	v, exists, err := h.videos.Get(r.Context(), docID)
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "STORE_ERROR", "Failed to load video")
		return
	}
	if !exists {
		respond.WriteError(w, http.StatusNotFound, "NOT_FOUND", "Video "+docID+" not found")
		return
	}
	items, err := h.news.ListByVideo(r.Context(), v.VideoID)
	if err != nil {
		h.logger.Error("Failed to load news", "video_id", v.VideoID, "error", err)
		respond.WriteError(w, http.StatusInternalServerError, "STORE_ERROR", "Failed to load news")
		return
	}
	if items == nil {
		items = []news.News{}
	}
	respond.WriteJSONObject(w, http.StatusOK, items)
}

func parseTime(w http.ResponseWriter, r *http.Request, param string, fallback time.Time) (time.Time, bool) {
	raw := r.URL.Query().Get(param)
	if raw == "" {
		return fallback, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_TIME", param+" must be an RFC 3339 timestamp", err.Error())
		return time.Time{}, false
	}
	return t.UTC(), true
}
