package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	localei18n "github.com/narraform-go/internal/i18n"
	"github.com/narraform-go/internal/middleware"
	"github.com/narraform-go/internal/services/chapters"
	"github.com/narraform-go/internal/services/llm"
	"github.com/narraform-go/internal/services/ratelimit"
	"github.com/narraform-go/internal/services/storage"
	"github.com/sirupsen/logrus"
)

// Handler wires the HTTP API to the conversion and chapter services
type Handler struct {
	router    *llm.Router
	loader    *chapters.Loader
	governor  *ratelimit.Governor
	store     *storage.Manager
	localizer *localei18n.Localizer
	metrics   *middleware.Metrics
	logger    *logrus.Logger
}

// NewHandler creates the API handler
func NewHandler(
	router *llm.Router,
	loader *chapters.Loader,
	governor *ratelimit.Governor,
	store *storage.Manager,
	localizer *localei18n.Localizer,
	metrics *middleware.Metrics,
	logger *logrus.Logger,
) *Handler {
	return &Handler{
		router:    router,
		loader:    loader,
		governor:  governor,
		store:     store,
		localizer: localizer,
		metrics:   metrics,
		logger:    logger,
	}
}

// RegisterRoutes attaches all API routes to the given router
func (h *Handler) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/process", h.handleProcess).Methods("POST")

	api.HandleFunc("/projects", h.handleCreateProject).Methods("POST")
	api.HandleFunc("/projects/{projectID}/chapters", h.handleListChapters).Methods("GET")
	api.HandleFunc("/projects/{projectID}/chapters", h.handleCreateChapter).Methods("POST")

	api.HandleFunc("/chapters/{chapterID}", h.handleGetChapter).Methods("GET")
	api.HandleFunc("/chapters/{chapterID}/process", h.handleProcessChapter).Methods("POST")

	api.HandleFunc("/cache", h.handleClearCache).Methods("DELETE")
	api.HandleFunc("/cache/{chapterID}", h.handleClearCache).Methods("DELETE")

	api.HandleFunc("/ratelimit/{model}", h.handleRateLimitStatus).Methods("GET")
	api.HandleFunc("/ratelimit/{model}/reset", h.handleRateLimitReset).Methods("POST")

	r.HandleFunc("/health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")
}

// errorResponse is the uniform failure payload
type errorResponse struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.WithError(err).Error("Failed to encode response")
	}
}

// requestLang picks the response language from the query parameter or
// the Accept-Language header
func requestLang(req *http.Request) string {
	if lang := req.URL.Query().Get("lang"); lang != "" {
		return lang
	}
	accept := req.Header.Get("Accept-Language")
	if len(accept) >= 2 {
		return strings.ToLower(accept[:2])
	}
	return ""
}

// writeLLMError converts the router's typed error into an HTTP status
// and localized guidance so the UI never needs to inspect internals
func (h *Handler) writeLLMError(w http.ResponseWriter, req *http.Request, err error) {
	lang := requestLang(req)

	typed, ok := llm.AsError(err)
	if !ok {
		h.logger.WithError(err).Error("Unclassified processing error")
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:   "internal_error",
			Message: h.localizer.Get(lang, localei18n.MsgInternalError, nil),
		})
		return
	}

	var status int
	var messageID string
	data := map[string]interface{}{"Model": typed.Model}
	details := map[string]interface{}{
		"provider": typed.Provider,
		"model":    typed.Model,
	}

	switch typed.Kind {
	case llm.KindNotConfigured:
		status = http.StatusServiceUnavailable
		messageID = localei18n.MsgNotConfigured
	case llm.KindQuotaExceeded:
		status = http.StatusTooManyRequests
		messageID = localei18n.MsgQuotaExceeded
		h.metrics.RecordQuotaExceeded(typed.Model)
		if typed.Status != nil {
			data["Used"] = typed.Status.RequestsToday
			data["Quota"] = typed.Status.DailyQuota
			details["status"] = typed.Status
		}
		data["Alternative"] = typed.AlternativeModel
		details["alternative_model"] = typed.AlternativeModel
	case llm.KindRateLimited:
		status = http.StatusTooManyRequests
		messageID = localei18n.MsgRateLimited
		h.metrics.RecordRateLimitWait(typed.Model)
		if typed.Status != nil {
			data["Used"] = typed.Status.RequestsThisMinute
			data["Limit"] = typed.Status.MinuteLimit
			data["WaitSeconds"] = typed.Status.WaitMs / 1000
			details["status"] = typed.Status
		}
	case llm.KindUpstream:
		status = http.StatusBadGateway
		messageID = localei18n.MsgUpstreamError
		data["Status"] = typed.StatusCode
		details["upstream_status"] = typed.StatusCode
	case llm.KindEmptyResult:
		status = http.StatusBadGateway
		messageID = localei18n.MsgEmptyResult
	case llm.KindTransport:
		status = http.StatusBadGateway
		messageID = localei18n.MsgTransportError
	default:
		status = http.StatusInternalServerError
		messageID = localei18n.MsgInternalError
	}

	h.writeJSON(w, status, errorResponse{
		Error:   typed.Kind.String(),
		Message: h.localizer.Get(lang, messageID, data),
		Details: details,
	})
}

func (h *Handler) writeBadRequest(w http.ResponseWriter, req *http.Request) {
	h.writeJSON(w, http.StatusBadRequest, errorResponse{
		Error:   "invalid_request",
		Message: h.localizer.Get(requestLang(req), localei18n.MsgInvalidRequest, nil),
	})
}
