package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/example/presence-service/internal/application"
)

type activityService interface {
	BuildReport(ctx context.Context, windowKey string) (application.ActivityReport, error)
	WaitForChange(ctx context.Context, params application.WaitParams) (application.ActivityReport, error)
}

// ActivityHandler serves activity reports and their long-poll variant.
type ActivityHandler struct {
	service   activityService
	responder responder
	logger    *slog.Logger
}

func NewActivityHandler(service activityService, logger *slog.Logger) *ActivityHandler {
	base := defaultLogger(logger)
	return &ActivityHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *ActivityHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "ActivityHandler", operation, attrs...)
}

// Get writes the current report for the requested window.
func (h *ActivityHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	window := r.URL.Query().Get("window")
	logger := h.log(r.Context(), "Get", "window", window)

	report, err := h.service.BuildReport(r.Context(), window)
	if err != nil {
		logger.ErrorContext(r.Context(), "activity report failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.writeReport(r.Context(), w, report)
}

// Wait blocks until the report changes from the caller's version or the
// timeout elapses. Abandoned requests are dropped without a response.
func (h *ActivityHandler) Wait(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	query := r.URL.Query()
	params := application.WaitParams{
		Window:    query.Get("window"),
		ETag:      strings.TrimSpace(query.Get("etag")),
		TimeoutMs: parseTimeoutMs(query.Get("timeoutMs")),
	}
	if params.ETag == "" {
		params.ETag = unquoteETag(r.Header.Get("If-None-Match"))
	}

	logger := h.log(r.Context(), "Wait", "window", params.Window, "timeout_ms", params.TimeoutMs)

	report, err := h.service.WaitForChange(r.Context(), params)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.DebugContext(r.Context(), "client went away during long-poll")
			return
		}
		logger.ErrorContext(r.Context(), "activity wait failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.writeReport(r.Context(), w, report)
}

func (h *ActivityHandler) writeReport(ctx context.Context, w http.ResponseWriter, report application.ActivityReport) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("ETag", strconv.Quote(report.ETag))
	h.responder.writeJSON(ctx, w, http.StatusOK, report)
}

// parseTimeoutMs reads the timeoutMs parameter. Malformed values select the default.
func parseTimeoutMs(value string) int {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	ms, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return ms
}

func unquoteETag(value string) string {
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(value, "W/")
	return strings.Trim(value, `"`)
}
