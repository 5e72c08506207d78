package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	localei18n "github.com/narraform-go/internal/i18n"
	"github.com/narraform-go/internal/models"
	"github.com/narraform-go/pkg/markdown"
	"github.com/sirupsen/logrus"
)

type processRequest struct {
	Text         string `json:"text"`
	ContentType  string `json:"content_type"`
	Provider     string `json:"provider,omitempty"`
	CustomPrompt string `json:"custom_prompt,omitempty"`
}

// handleProcess converts raw text between mediums
func (h *Handler) handleProcess(w http.ResponseWriter, req *http.Request) {
	var body processRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Text == "" {
		h.writeBadRequest(w, req)
		return
	}

	contentType := models.ContentType(body.ContentType)
	switch contentType {
	case models.ContentTypeNovel, models.ContentTypeScreenplay:
	default:
		h.writeBadRequest(w, req)
		return
	}

	start := time.Now()
	result, err := h.router.Process(req.Context(), body.Text, contentType, body.Provider, body.CustomPrompt)
	if err != nil {
		h.recordProcess(body.Provider, "error", start)
		h.writeLLMError(w, req, err)
		return
	}

	result.PreviewHTML = markdown.ToPreviewHTML(result.Text)
	h.metrics.RecordLLMRequest(result.Provider, result.Model, "success", time.Since(start))

	h.logger.WithFields(logrus.Fields{
		"provider":    result.Provider,
		"model":       result.Model,
		"duration_ms": result.DurationMs,
		"chars":       len(result.Text),
	}).Info("Conversion completed")

	h.writeJSON(w, http.StatusOK, result)
}

// handleProcessChapter converts a stored chapter and saves the result
func (h *Handler) handleProcessChapter(w http.ResponseWriter, req *http.Request) {
	chapterID := mux.Vars(req)["chapterID"]

	var body struct {
		Provider     string `json:"provider,omitempty"`
		CustomPrompt string `json:"custom_prompt,omitempty"`
	}
	if req.ContentLength > 0 {
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			h.writeBadRequest(w, req)
			return
		}
	}

	chapter, err := h.loader.GetFullChapter(req.Context(), chapterID)
	if err != nil {
		h.logger.WithError(err).WithField("chapter_id", chapterID).Error("Failed to load chapter")
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:   "internal_error",
			Message: h.localizer.Get(requestLang(req), localei18n.MsgInternalError, nil),
		})
		return
	}
	if chapter == nil || chapter.Content == nil {
		h.writeJSON(w, http.StatusNotFound, errorResponse{
			Error:   "chapter_not_found",
			Message: h.localizer.Get(requestLang(req), localei18n.MsgChapterNotFound, nil),
		})
		return
	}

	start := time.Now()
	result, err := h.router.Process(req.Context(), chapter.Content.OriginalText, chapter.ContentType, body.Provider, body.CustomPrompt)
	if err != nil {
		h.recordProcess(body.Provider, "error", start)
		h.writeLLMError(w, req, err)
		return
	}
	h.metrics.RecordLLMRequest(result.Provider, result.Model, "success", time.Since(start))

	// A storage failure must not discard a successful generation
	if err := h.store.UpdateProcessedText(req.Context(), chapterID, result.Text); err != nil {
		h.logger.WithError(err).WithField("chapter_id", chapterID).Warn("Failed to save processed text")
	} else {
		// Drop the stale cached copy so the next read sees the new text
		h.loader.ClearCache(chapterID)
	}

	result.PreviewHTML = markdown.ToPreviewHTML(result.Text)
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) recordProcess(provider, status string, start time.Time) {
	if provider == "" {
		provider = "default"
	}
	h.metrics.RecordLLMRequest(provider, "", status, time.Since(start))
}
