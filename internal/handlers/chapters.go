package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	localei18n "github.com/narraform-go/internal/i18n"
	"github.com/narraform-go/internal/models"
)

type createProjectRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

func (h *Handler) handleCreateProject(w http.ResponseWriter, req *http.Request) {
	var body createProjectRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Title == "" {
		h.writeBadRequest(w, req)
		return
	}

	now := time.Now()
	project := &models.Project{
		ID:          fmt.Sprintf("prj-%d", now.UnixNano()),
		Title:       body.Title,
		Description: body.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	start := time.Now()
	if err := h.store.SaveProject(req.Context(), project); err != nil {
		h.metrics.RecordStorageOperation("save_project", "error", time.Since(start))
		h.logger.WithError(err).Error("Failed to save project")
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:   "internal_error",
			Message: h.localizer.Get(requestLang(req), localei18n.MsgInternalError, nil),
		})
		return
	}
	h.metrics.RecordStorageOperation("save_project", "success", time.Since(start))

	h.writeJSON(w, http.StatusCreated, project)
}

type createChapterRequest struct {
	Title       string `json:"title"`
	Text        string `json:"text"`
	EpisodeID   string `json:"episode_id,omitempty"`
	SortOrder   *int   `json:"sort_order,omitempty"`
	Type        string `json:"type,omitempty"`
	ContentType string `json:"content_type"`
}

func (h *Handler) handleCreateChapter(w http.ResponseWriter, req *http.Request) {
	projectID := mux.Vars(req)["projectID"]

	var body createChapterRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Title == "" || body.Text == "" {
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

	chapterType := models.ChapterType(body.Type)
	if chapterType == "" {
		chapterType = models.ChapterTypeChapter
	}

	now := time.Now()
	meta := &models.ChapterMetadata{
		ID:             fmt.Sprintf("ch-%d", now.UnixNano()),
		ProjectID:      projectID,
		EpisodeID:      body.EpisodeID,
		Title:          body.Title,
		SortOrder:      body.SortOrder,
		Type:           chapterType,
		ContentType:    contentType,
		CharacterCount: len([]rune(body.Text)),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	content := &models.ChapterContent{
		ID:           meta.ID,
		OriginalText: body.Text,
	}

	start := time.Now()
	if err := h.store.SaveChapter(req.Context(), meta, content); err != nil {
		h.metrics.RecordStorageOperation("save_chapter", "error", time.Since(start))
		h.logger.WithError(err).Error("Failed to save chapter")
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:   "internal_error",
			Message: h.localizer.Get(requestLang(req), localei18n.MsgInternalError, nil),
		})
		return
	}
	h.metrics.RecordStorageOperation("save_chapter", "success", time.Since(start))

	h.writeJSON(w, http.StatusCreated, meta)
}

// handleListChapters fully reloads the project's metadata list
func (h *Handler) handleListChapters(w http.ResponseWriter, req *http.Request) {
	projectID := mux.Vars(req)["projectID"]

	chapters, err := h.loader.LoadMetadata(req.Context(), projectID)
	if err != nil {
		h.logger.WithError(err).WithField("project_id", projectID).Error("Failed to load chapters")
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:   "internal_error",
			Message: h.localizer.Get(requestLang(req), localei18n.MsgInternalError, nil),
		})
		return
	}

	if chapters == nil {
		chapters = []models.ChapterMetadata{}
	}
	h.writeJSON(w, http.StatusOK, chapters)
}

// handleGetChapter composes metadata with content loaded through the cache
func (h *Handler) handleGetChapter(w http.ResponseWriter, req *http.Request) {
	chapterID := mux.Vars(req)["chapterID"]

	cached := h.loader.IsCached(chapterID)
	chapter, err := h.loader.GetFullChapter(req.Context(), chapterID)
	if err != nil {
		h.logger.WithError(err).WithField("chapter_id", chapterID).Error("Failed to load chapter")
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:   "internal_error",
			Message: h.localizer.Get(requestLang(req), localei18n.MsgInternalError, nil),
		})
		return
	}
	if chapter == nil {
		h.writeJSON(w, http.StatusNotFound, errorResponse{
			Error:   "chapter_not_found",
			Message: h.localizer.Get(requestLang(req), localei18n.MsgChapterNotFound, nil),
		})
		return
	}

	if cached {
		h.metrics.RecordCacheHit()
	} else {
		h.metrics.RecordCacheMiss()
	}
	h.metrics.SetCachedChapters(float64(h.loader.CachedCount()))

	h.writeJSON(w, http.StatusOK, chapter)
}

// handleClearCache evicts one chapter or the whole content cache
func (h *Handler) handleClearCache(w http.ResponseWriter, req *http.Request) {
	chapterID := mux.Vars(req)["chapterID"]
	h.loader.ClearCache(chapterID)
	h.metrics.SetCachedChapters(float64(h.loader.CachedCount()))

	h.writeJSON(w, http.StatusOK, map[string]string{
		"message": h.localizer.Get(requestLang(req), localei18n.MsgCacheCleared, nil),
	})
}

// handleRateLimitStatus exposes the governor's counters for UI display
func (h *Handler) handleRateLimitStatus(w http.ResponseWriter, req *http.Request) {
	model := mux.Vars(req)["model"]
	h.writeJSON(w, http.StatusOK, h.governor.GetRateLimitStatus(model))
}

// handleRateLimitReset clears history for a model; scope=daily clears
// only today's records and model=all clears every model
func (h *Handler) handleRateLimitReset(w http.ResponseWriter, req *http.Request) {
	model := mux.Vars(req)["model"]
	if model == "all" {
		model = ""
	}

	if req.URL.Query().Get("scope") == "daily" {
		h.governor.ResetDailyQuota(req.Context(), model)
	} else {
		h.governor.ResetQuota(req.Context(), model)
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"message": h.localizer.Get(requestLang(req), localei18n.MsgQuotaReset, nil),
	})
}
