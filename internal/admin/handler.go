package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"presshook/internal/hook"
	"presshook/internal/logging"
	"presshook/internal/store"
)

// DeliveryLog is the slice of the delivery store the operator surface
// needs: read history, and atomically claim a failed record for replay.
type DeliveryLog interface {
	List(ctx context.Context, f store.ListFilter) ([]hook.Record, error)
	ClaimRetry(ctx context.Context, id string) (*hook.Record, error)
}

// Replayer re-enqueues a claimed record into the dispatch pipeline.
type Replayer interface {
	Replay(ctx context.Context, rec *hook.Record) error
}

// Auditor records operator actions.
type Auditor interface {
	Record(ctx context.Context, actor, action, targetType, targetID string)
}

// Handler serves the administrator-only operator surface. It may trigger
// re-attempts but never edits a record's payload or target.
type Handler struct {
	log    DeliveryLog
	coord  Replayer
	audit  Auditor
	logger *logging.Logger
}

func NewHandler(log DeliveryLog, coord Replayer, audit Auditor, logger *logging.Logger) *Handler {
	return &Handler{log: log, coord: coord, audit: audit, logger: logger}
}

// Register mounts the operator routes behind the given middleware.
func (h *Handler) Register(mux *http.ServeMux, authz func(http.Handler) http.Handler) {
	mux.Handle("GET /webhooks/logs", authz(http.HandlerFunc(h.listLogs)))
	mux.Handle("POST /webhooks/logs/{id}/retry", authz(http.HandlerFunc(h.retryLog)))
}

type listResponse struct {
	Logs   []hook.Record `json:"logs"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

func (h *Handler) listLogs(w http.ResponseWriter, r *http.Request) {
	f := store.ListFilter{Limit: 50}
	q := r.URL.Query()

	if s := q.Get("status"); s != "" {
		switch hook.Status(s) {
		case hook.StatusPending, hook.StatusSuccess, hook.StatusFailed:
			f.Status = s
		default:
			writeError(w, http.StatusBadRequest, "invalid status filter")
			return
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		f.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		f.Offset = n
	}

	recs, err := h.log.List(r.Context(), f)
	if err != nil {
		h.logger.WithContext(r.Context()).WithError(err).Error("list delivery logs")
		writeError(w, http.StatusInternalServerError, "failed to list delivery logs")
		return
	}
	if recs == nil {
		recs = []hook.Record{}
	}
	writeJSON(w, http.StatusOK, listResponse{Logs: recs, Limit: f.Limit, Offset: f.Offset})
}

func (h *Handler) retryLog(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	rec, err := h.log.ClaimRetry(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "delivery record not found")
		return
	case errors.Is(err, store.ErrNotRetryable):
		// Conflict, not a no-op: re-sending a pending or delivered job
		// would duplicate side effects on the downstream target.
		writeError(w, http.StatusConflict, "record is not retryable in its current state")
		return
	case err != nil:
		h.logger.WithContext(r.Context()).WithRecord(id).WithError(err).Error("claim retry")
		writeError(w, http.StatusInternalServerError, "failed to claim record for retry")
		return
	}

	if err := h.coord.Replay(r.Context(), rec); err != nil {
		h.logger.WithContext(r.Context()).WithRecord(id).WithError(err).Error("replay enqueue")
		writeError(w, http.StatusInternalServerError, "failed to enqueue replay")
		return
	}

	actor, _ := ActorFromContext(r.Context())
	h.audit.Record(r.Context(), actor, "webhook.replay", "delivery_record", id)
	h.logger.WithContext(r.Context()).WithRecord(id).WithActor(actor).Info("manual replay accepted")

	writeJSON(w, http.StatusAccepted, map[string]any{"log": rec})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
