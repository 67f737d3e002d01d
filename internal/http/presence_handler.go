package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/example/presence-service/internal/application"
)

type presenceService interface {
	RecordHeartbeat(ctx context.Context, params application.HeartbeatParams) (application.PresenceStatus, error)
	Login(ctx context.Context, userID string) (application.PresenceStatus, error)
	Logout(ctx context.Context, userID string) (application.PresenceStatus, error)
	Snapshot() []application.SnapshotEntry
}

// PresenceHandler accepts client activity signals.
type PresenceHandler struct {
	service   presenceService
	responder responder
	logger    *slog.Logger
}

func NewPresenceHandler(service presenceService, logger *slog.Logger) *PresenceHandler {
	base := defaultLogger(logger)
	return &PresenceHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *PresenceHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "PresenceHandler", operation, attrs...)
}

type heartbeatRequest struct {
	UserID string `json:"userId"`
	Kind   string `json:"kind"`
	IsIdle *bool  `json:"isIdle"`
}

type userRequest struct {
	UserID string `json:"userId"`
}

type snapshotResponse struct {
	Entries []application.SnapshotEntry `json:"entries"`
}

func (h *PresenceHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log(r.Context(), "Heartbeat", "error_kind", "bad_request").WarnContext(r.Context(), "failed to decode heartbeat", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	status, err := h.service.RecordHeartbeat(r.Context(), application.HeartbeatParams{
		UserID: req.UserID,
		Kind:   req.Kind,
		IsIdle: req.IsIdle,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, status)
}

func (h *PresenceHandler) Login(w http.ResponseWriter, r *http.Request) {
	h.userTransition(w, r, "Login", func(ctx context.Context, id string) (application.PresenceStatus, error) {
		return h.service.Login(ctx, id)
	})
}

func (h *PresenceHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.userTransition(w, r, "Logout", func(ctx context.Context, id string) (application.PresenceStatus, error) {
		return h.service.Logout(ctx, id)
	})
}

func (h *PresenceHandler) userTransition(w http.ResponseWriter, r *http.Request, operation string, apply func(context.Context, string) (application.PresenceStatus, error)) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req userRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log(r.Context(), operation, "error_kind", "bad_request").WarnContext(r.Context(), "failed to decode presence request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	status, err := apply(r.Context(), req.UserID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, status)
}

func (h *PresenceHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, snapshotResponse{Entries: h.service.Snapshot()})
}
