package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/albapepper/viewcount-tracker/internal/api/respond"
	"github.com/albapepper/viewcount-tracker/internal/config"
	"github.com/albapepper/viewcount-tracker/internal/viewcount"
)

// DefaultRunTimeout bounds a run triggered over HTTP.
const DefaultRunTimeout = 5 * time.Minute

// RunRequest optionally overrides the configured target ids.
type RunRequest struct {
	VideoIDs []string `json:"videoIds"`
}

// RunResponse reports a finished run.
type RunResponse struct {
	Processed      map[string]string `json:"processed"`
	Inserted       []string          `json:"inserted"`
	MissingHistory []string          `json:"missingHistory,omitempty"`
	Skipped        []string          `json:"skipped,omitempty"`
	Samples        int               `json:"samples"`
	DurationMS     int64             `json:"durationMs"`
	Summary        string            `json:"summary"`
	Error          *RunErrorBody     `json:"error,omitempty"`
}

// RunErrorBody describes the failed phase of a run.
type RunErrorBody struct {
	Phase    string   `json:"phase"`
	Message  string   `json:"message"`
	VideoIDs []string `json:"videoIds,omitempty"`
}

// TriggerRun executes one tracker run.
// @Summary Trigger a run
// @Description Fetches current view counts for the target videos, records samples and milestone news, and inserts newly seen videos. The body is optional; without it the configured targets are used.
// @Tags runs
// @Accept json
// @Produce json
// @Param request body RunRequest false "Video ids overriding the configured targets"
// @Success 200 {object} RunResponse
// @Failure 400 {object} respond.ErrorResponse
// @Failure 409 {object} respond.ErrorResponse
// @Failure 500 {object} RunResponse
// @Failure 502 {object} RunResponse
// @Router /runs [post]
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_BODY", "Request body must be JSON", err.Error())
		return
	}

	ids := req.VideoIDs
	if len(ids) == 0 {
		var err error
		if h.targets == nil {
			err = config.ErrNoTargets
		} else {
			ids, err = h.targets()
		}
		if errors.Is(err, config.ErrNoTargets) {
			respond.WriteError(w, http.StatusBadRequest, "NO_TARGETS", "No target video ids configured")
			return
		}
		if err != nil {
			respond.WriteErrorDetail(w, http.StatusInternalServerError, "TARGETS_UNAVAILABLE", "Failed to load target video ids", err.Error())
			return
		}
	}

	// The run outlives a disconnecting client.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), DefaultRunTimeout)
	defer cancel()
	result, err := h.runner.RunOnce(ctx, ids)
	if errors.Is(err, viewcount.ErrRunInProgress) {
		respond.WriteError(w, http.StatusConflict, "RUN_IN_PROGRESS", "A run is already in progress")
		return
	}
	h.cache.InvalidatePrefix("")

	resp := toRunResponse(result)
	status := http.StatusOK
	if err != nil {
		resp.Error = &RunErrorBody{Message: err.Error()}
		var runErr *viewcount.RunError
		if errors.As(err, &runErr) {
			resp.Error.Phase = string(runErr.Phase)
			resp.Error.VideoIDs = runErr.VideoIDs
		}
		status = http.StatusInternalServerError
		if errors.Is(err, viewcount.ErrFetch) {
			status = http.StatusBadGateway
		}
		h.logger.Warn("Triggered run failed", "status", status, "error", err)
	}
	respond.WriteJSONObject(w, status, resp)
}

func toRunResponse(result viewcount.RunResult) RunResponse {
	processed := make(map[string]string, len(result.Processed))
	for id, c := range result.Processed {
		processed[id] = string(c)
	}
	inserted := result.Inserted
	if inserted == nil {
		inserted = []string{}
	}
	return RunResponse{
		Processed:      processed,
		Inserted:       inserted,
		MissingHistory: result.MissingHistory,
		Skipped:        result.Skipped,
		Samples:        result.Samples,
		DurationMS:     result.Duration.Milliseconds(),
		Summary:        result.Summary(),
	}
}
