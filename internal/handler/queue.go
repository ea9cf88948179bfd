package handler

import (
	"net/http"

	"listing-snapshot-api/internal/scheduler"
	"listing-snapshot-api/pkg/response"

	"go.uber.org/zap"
)

// QueueHandler exposes refresh queue administration.
type QueueHandler struct {
	scheduler *scheduler.Scheduler
	log       *zap.Logger
}

// NewQueueHandler creates a new queue handler.
func NewQueueHandler(s *scheduler.Scheduler, log *zap.Logger) *QueueHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &QueueHandler{scheduler: s, log: log.Named("handler.queue")}
}

// Counts handles GET /api/v1/queue
func (h *QueueHandler) Counts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.scheduler.Counts(r.Context())
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	response.OK(w, counts)
}

type pausedResponse struct {
	IsPaused bool `json:"isPaused"`
}

// IsPaused handles GET /api/v1/queue/paused
func (h *QueueHandler) IsPaused(w http.ResponseWriter, r *http.Request) {
	paused, err := h.scheduler.IsPaused(r.Context())
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	response.OK(w, pausedResponse{IsPaused: paused})
}

// Pause handles POST /api/v1/queue/pause
func (h *QueueHandler) Pause(w http.ResponseWriter, r *http.Request) {
	if err := h.scheduler.Pause(r.Context()); err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	response.OK(w, pausedResponse{IsPaused: true})
}

// Resume handles POST /api/v1/queue/resume
func (h *QueueHandler) Resume(w http.ResponseWriter, r *http.Request) {
	if err := h.scheduler.Resume(r.Context()); err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	response.OK(w, pausedResponse{IsPaused: false})
}
