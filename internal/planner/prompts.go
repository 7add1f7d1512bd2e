package planner

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"text/template"

	"github.com/fsnotify/fsnotify"
	sprig "github.com/go-task/slim-sprig/v3"

	"github.com/olympus-org/olympus/internal/logger"
	"github.com/olympus-org/olympus/internal/logger/tag"
)

//go:embed templates/*.tmpl
var defaultTemplates embed.FS

// Prompt template names. Each resolves to templates/<name>.tmpl, embedded
// by default and overridable from the prompts directory.
const (
	PromptPlanSystem   = "plan_system"
	PromptPlanUser     = "plan_user"
	PromptReflectUser  = "reflect_user"
	PromptIntentSystem = "intent_system"
	PromptIntentUser   = "intent_user"
)

const templateExt = ".tmpl"

// PromptStore resolves named prompt templates. Built-in defaults ship
// embedded in the binary; files in an optional override directory shadow
// them and are reloaded on change, so prompts can be tuned while the
// server runs.
type PromptStore struct {
	dir string

	mu        sync.RWMutex
	templates map[string]*template.Template

	watcher   *fsnotify.Watcher
	done      chan struct{}
	closeOnce sync.Once
}

// NewPromptStore loads the embedded defaults and, when dir names an
// existing directory, applies its *.tmpl files on top and watches it for
// changes.
func NewPromptStore(dir string) (*PromptStore, error) {
	s := &PromptStore{
		dir:       dir,
		templates: make(map[string]*template.Template),
		done:      make(chan struct{}),
	}
	if err := s.loadEmbedded(); err != nil {
		return nil, err
	}
	if dir == "" {
		return s, nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return s, nil
	}
	if err := s.loadDir(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create prompt watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch prompt dir %s: %w", dir, err)
	}
	s.watcher = watcher
	go s.watch()
	return s, nil
}

// Close stops the directory watcher. Render keeps working on the last
// loaded set.
func (s *PromptStore) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.watcher != nil {
			_ = s.watcher.Close()
		}
	})
}

// Names returns the sorted names of all known templates.
func (s *PromptStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.templates))
	for name := range s.templates {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Render executes the named template with data.
func (s *PromptStore) Render(name string, data any) (string, error) {
	s.mu.RLock()
	tmpl, ok := s.templates[name]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown prompt template: %s", name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render prompt %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func (s *PromptStore) loadEmbedded() error {
	entries, err := fs.ReadDir(defaultTemplates, "templates")
	if err != nil {
		return fmt.Errorf("failed to read embedded prompts: %w", err)
	}
	for _, entry := range entries {
		raw, err := fs.ReadFile(defaultTemplates, "templates/"+entry.Name())
		if err != nil {
			return fmt.Errorf("failed to read embedded prompt %s: %w", entry.Name(), err)
		}
		if err := s.parse(entry.Name(), string(raw)); err != nil {
			return err
		}
	}
	return nil
}

func (s *PromptStore) loadDir() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read prompt dir %s: %w", s.dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != templateExt {
			continue
		}
		if err := s.loadFile(filepath.Join(s.dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (s *PromptStore) loadFile(path string) error {
	raw, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return fmt.Errorf("failed to read prompt %s: %w", path, err)
	}
	return s.parse(filepath.Base(path), string(raw))
}

func (s *PromptStore) parse(filename, text string) error {
	name := strings.TrimSuffix(filename, templateExt)
	tmpl, err := template.New(name).Funcs(sprig.TxtFuncMap()).Parse(text)
	if err != nil {
		return fmt.Errorf("failed to parse prompt %s: %w", name, err)
	}
	s.mu.Lock()
	s.templates[name] = tmpl
	s.mu.Unlock()
	return nil
}

// restoreDefault reverts a template to its embedded version after its
// override file disappears. Templates with no embedded default are dropped.
func (s *PromptStore) restoreDefault(name string) {
	raw, err := fs.ReadFile(defaultTemplates, "templates/"+name+templateExt)
	if err != nil {
		s.mu.Lock()
		delete(s.templates, name)
		s.mu.Unlock()
		return
	}
	// Embedded templates always parse.
	_ = s.parse(name+templateExt, string(raw))
}

// watch applies override file changes as they happen. A file that no
// longer parses is logged and the previous version stays active.
func (s *PromptStore) watch() {
	ctx := context.Background()
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Ext(event.Name) != templateExt {
				continue
			}
			name := strings.TrimSuffix(filepath.Base(event.Name), templateExt)
			switch {
			case event.Has(fsnotify.Create) || event.Has(fsnotify.Write):
				if err := s.loadFile(event.Name); err != nil {
					logger.Error(ctx, "Prompt reload failed", tag.Path(event.Name), tag.Error(err))
					continue
				}
				logger.Info(ctx, "Prompt template updated", tag.Path(event.Name))
			case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
				s.restoreDefault(name)
				logger.Info(ctx, "Prompt template override removed", tag.Path(event.Name))
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			logger.Error(ctx, "Prompt watcher error", tag.Error(err))
		}
	}
}
