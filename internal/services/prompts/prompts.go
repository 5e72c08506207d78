package prompts

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/narraform-go/internal/config"
	"github.com/narraform-go/internal/models"
	"github.com/sirupsen/logrus"
)

// Built-in conversion instructions, overridable per content type by
// dropping a <content_type>.txt file into the prompt directory
var defaults = map[models.ContentType]string{
	models.ContentTypeNovel: "You are an experienced audio drama adapter. Convert the " +
		"following novel chapter into a fully formatted audio drama script. Preserve " +
		"every plot beat and all dialogue. Turn narration into either a narrator part " +
		"or sound cues. Mark speakers in caps, sound effects as [SFX: ...] and music " +
		"as [MUSIC: ...]. Output only the script.",
	models.ContentTypeScreenplay: "You are an experienced first assistant director. Break " +
		"the following screenplay scene down into a numbered shot list. For each shot " +
		"give shot size, camera movement, subject, action and any props or effects " +
		"required. Keep the shots in story order. Output only the shot list.",
}

// Library resolves conversion prompt templates per content type
type Library struct {
	templates map[models.ContentType]string
	mu        sync.RWMutex
	logger    *logrus.Logger
}

// NewLibrary creates a library with the built-in templates and overlays
// any templates found in the configured directory
func NewLibrary(cfg *config.PromptsConfig, logger *logrus.Logger) *Library {
	l := &Library{
		templates: make(map[models.ContentType]string),
		logger:    logger,
	}
	for contentType, template := range defaults {
		l.templates[contentType] = template
	}

	if cfg != nil && cfg.Directory != "" {
		if err := l.loadDirectory(cfg.Directory); err != nil {
			logger.WithError(err).Warn("Failed to load prompt templates, using built-ins")
		}
	}

	return l
}

// loadDirectory overlays template files named <content_type>.txt
func (l *Library) loadDirectory(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(path), ".txt") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			l.logger.WithError(err).WithField("path", path).Warn("Failed to load template")
			return nil // Continue with other files
		}

		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		l.templates[models.ContentType(name)] = strings.TrimSpace(string(data))
		l.logger.WithField("content_type", name).Debug("Loaded prompt template")
		return nil
	})
}

// Build returns the instruction for a content type. A custom prompt
// overrides the template entirely.
func (l *Library) Build(contentType models.ContentType, custom string) string {
	if custom != "" {
		return custom
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if template, ok := l.templates[contentType]; ok {
		return template
	}
	return defaults[models.ContentTypeNovel]
}
