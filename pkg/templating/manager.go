package templating

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/natefinch/atomic"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

const (
	fullSuffix    = ".tmpl.html"
	partialSuffix = ".part.html"
)

var (
	// ErrInvalidTemplateName is returned for names that are not a plain file
	// name ending in .tmpl.html or .part.html.
	ErrInvalidTemplateName = errors.New("invalid template name")
	// ErrTemplateNotFound is returned when a named template file does not exist.
	ErrTemplateNotFound = errors.New("template not found")
	// ErrTemplateTooLarge is returned for content over MaxTemplateSize.
	ErrTemplateTooLarge = errors.New("template exceeds the maximum size")
	// ErrOutputTooLarge is returned when a render writes more than MaxOutputSize.
	ErrOutputTooLarge = errors.New("template output exceeds the maximum size")
)

var templateNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-][A-Za-z0-9_.-]*\.(tmpl|part)\.html$`)

// TemplateManager owns the template set stored in a directory and executes
// stored or raw templates with the helper function map.
// Full templates (*.tmpl.html) and partials (*.part.html) are both available
// to raw templates through {{template "name" .}}.
// All methods are concurrent-safe.
type TemplateManager struct {
	logger         *slog.Logger
	config         *TemplateConfig
	markdown       goldmark.Markdown
	templates      *template.Template
	cleanTemplates *template.Template
	templateNames  []string
	funcMap        template.FuncMap
	templateDir    string
	mu             sync.RWMutex
}

// NewTemplateManager creates a TemplateManager serving the "templates"
// subdirectory of dataDir, creating it when missing, and performs an initial
// Refresh.
func NewTemplateManager(logger *slog.Logger, config *TemplateConfig, dataDir string) (*TemplateManager, error) {
	if config == nil {
		config = DefaultConfig()
	}
	templateDir := filepath.Join(dataDir, "templates")
	if err := os.MkdirAll(templateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create template directory: %w", err)
	}

	tm := &TemplateManager{
		logger:      logger,
		config:      config,
		templateDir: templateDir,
		markdown:    goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
	tm.funcMap = tm.makeFuncMap()

	if err := tm.Refresh(); err != nil {
		return nil, err
	}

	logger.Info("Template manager initialized", "dir", templateDir)
	return tm, nil
}

func (tm *TemplateManager) makeFuncMap() template.FuncMap {
	return template.FuncMap{
		// Text (from funcs_text.go)
		"markdown":   tm.markdownHTML,
		"highlight":  highlight,
		"truncate":   tm.truncate,
		"join":       join,
		"lower":      strings.ToLower,
		"upper":      strings.ToUpper,
		"trim":       strings.TrimSpace,
		"toJSON":     toJSON,
		"formatDate": formatDate,

		// Logic & Control (from funcs_logic.go)
		"seq":     tm.seq,
		"list":    list,
		"dict":    dict,
		"default": defaultValue,
		"isSet":   isSet,
		"first":   first,

		// Simple (from funcs_simple.go)
		"add":  add,
		"sub":  sub,
		"div":  div,
		"mult": mult,
		"max":  maxOf,
		"min":  minOf,
		"mod":  mod,
		"inc":  inc,
		"dec":  dec,
	}
}

// SetConfig applies a new configuration. Function limits take effect on the
// next execution.
func (tm *TemplateManager) SetConfig(config *TemplateConfig) {
	if config == nil {
		return
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.config = config
}

// Refresh reloads all templates and partials from the template directory.
func (tm *TemplateManager) Refresh() error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	filePattern := filepath.Join(tm.templateDir, "*"+fullSuffix)
	tm.logger.Debug("Loading template files...")

	parsedFiles, err := template.New("").Funcs(tm.funcMap).ParseGlob(filePattern)
	names := []string{}
	if err != nil {
		if !strings.Contains(err.Error(), "pattern matches no files") {
			tm.logger.Error("Failed to parse template files", "error", err)
			return fmt.Errorf("failed to parse template files: %w", err)
		}
		parsedFiles = template.New("").Funcs(tm.funcMap)
	} else {
		for _, t := range parsedFiles.Templates() {
			if strings.HasSuffix(t.Name(), fullSuffix) {
				names = append(names, t.Name())
			}
		}
	}

	filePattern = filepath.Join(tm.templateDir, "*"+partialSuffix)
	tm.logger.Debug("Loading partial files...")

	withPartials, err := parsedFiles.ParseGlob(filePattern)
	if err != nil {
		if !strings.Contains(err.Error(), "pattern matches no files") {
			tm.logger.Error("Failed to parse partial files", "error", err)
			return fmt.Errorf("failed to parse partial files: %w", err)
		}
		withPartials = parsedFiles
	}

	clean, err := withPartials.Clone()
	if err != nil {
		tm.logger.Error("Failed to create a clean clone of templates", "error", err)
		return fmt.Errorf("failed to clone templates: %w", err)
	}

	tm.templates = withPartials
	tm.cleanTemplates = clean
	tm.templateNames = names
	tm.logger.Info("Loaded template and partial files", "count", len(withPartials.Templates())-1)
	return nil
}

// Execute renders a stored template by name.
func (tm *TemplateManager) Execute(w io.Writer, name string, data any) error {
	if name == "" {
		return nil
	}
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	if tm.templates.Lookup(name) == nil {
		return fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	return tm.templates.ExecuteTemplate(tm.limit(w), name, data)
}

// ExecuteTemplateString parses content against a clone of the stored set and
// executes it, so raw content can call stored partials.
func (tm *TemplateManager) ExecuteTemplateString(w io.Writer, content string, data any) error {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	if limit := tm.config.MaxTemplateSize; limit > 0 && len(content) > limit {
		return fmt.Errorf("%w: %d bytes", ErrTemplateTooLarge, len(content))
	}

	tempSet, err := tm.cleanTemplates.Clone()
	if err != nil {
		return fmt.Errorf("failed to clone clean templates for string execution: %w", err)
	}
	t, err := tempSet.Parse(content)
	if err != nil {
		return fmt.Errorf("failed to parse string template: %w", err)
	}
	return t.Execute(tm.limit(w), data)
}

// GetConfig returns a copy of the current configuration.
func (tm *TemplateManager) GetConfig() TemplateConfig {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return *tm.config
}

// GetTemplateNames returns the names of all loaded templates and partials.
func (tm *TemplateManager) GetTemplateNames() []string {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	names := []string{}
	for _, t := range tm.templates.Templates() {
		if strings.HasSuffix(t.Name(), ".html") {
			names = append(names, t.Name())
		}
	}
	return names
}

// GetTemplateDir returns the directory templates are loaded from.
func (tm *TemplateManager) GetTemplateDir() string {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.templateDir
}

// ReadTemplate returns the stored content of a template file.
func (tm *TemplateManager) ReadTemplate(name string) ([]byte, error) {
	path, err := tm.templatePath(name)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
		}
		return nil, fmt.Errorf("failed to read template %s: %w", name, err)
	}
	return content, nil
}

// WriteTemplate validates content, stores it atomically and refreshes the
// set. Content that does not parse is rejected without touching the file.
func (tm *TemplateManager) WriteTemplate(name string, content []byte) error {
	path, err := tm.templatePath(name)
	if err != nil {
		return err
	}
	cfg := tm.GetConfig()
	if cfg.MaxTemplateSize > 0 && len(content) > cfg.MaxTemplateSize {
		return fmt.Errorf("%w: %d bytes", ErrTemplateTooLarge, len(content))
	}
	if _, err = template.New(name).Funcs(tm.funcMap).Parse(string(content)); err != nil {
		return fmt.Errorf("failed to parse template %s: %w", name, err)
	}
	if err = atomic.WriteFile(path, bytes.NewReader(content)); err != nil {
		return fmt.Errorf("failed to write template %s: %w", name, err)
	}
	return tm.Refresh()
}

// DeleteTemplate removes a template file and refreshes the set.
func (tm *TemplateManager) DeleteTemplate(name string) error {
	path, err := tm.templatePath(name)
	if err != nil {
		return err
	}
	if err = os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
		}
		return fmt.Errorf("failed to delete template %s: %w", name, err)
	}
	return tm.Refresh()
}

// Watch refreshes the set whenever a template or partial file in the
// directory changes, until ctx is done. Bursts of events are coalesced.
func (tm *TemplateManager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create template watcher: %w", err)
	}
	defer func(watcher *fsnotify.Watcher) {
		_ = watcher.Close()
	}(watcher)

	if err = watcher.Add(tm.GetTemplateDir()); err != nil {
		return fmt.Errorf("failed to watch template directory: %w", err)
	}
	tm.logger.Info("Watching template directory for changes", "dir", tm.GetTemplateDir())

	const settle = 100 * time.Millisecond
	timer := time.NewTimer(settle)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isTemplateFile(event.Name) || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			tm.logger.Debug("Template file changed", "file", event.Name, "op", event.Op.String())
			timer.Reset(settle)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			tm.logger.Warn("Template watcher error", "error", err)
		case <-timer.C:
			if err := tm.Refresh(); err != nil {
				tm.logger.Warn("Failed to refresh templates after change", "error", err)
			}
		}
	}
}

func (tm *TemplateManager) templatePath(name string) (string, error) {
	if !templateNamePattern.MatchString(name) || strings.Contains(name, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidTemplateName, name)
	}
	return filepath.Join(tm.GetTemplateDir(), name), nil
}

// limit must be called with tm.mu held.
func (tm *TemplateManager) limit(w io.Writer) io.Writer {
	if tm.config.MaxOutputSize <= 0 {
		return w
	}
	return &limitedWriter{w: w, remaining: tm.config.MaxOutputSize}
}

func isTemplateFile(name string) bool {
	base := filepath.Base(name)
	return strings.HasSuffix(base, fullSuffix) || strings.HasSuffix(base, partialSuffix)
}

type limitedWriter struct {
	w         io.Writer
	remaining int
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if len(p) > l.remaining {
		return 0, ErrOutputTooLarge
	}
	n, err := l.w.Write(p)
	l.remaining -= n
	return n, err
}
