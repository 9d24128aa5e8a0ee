// Package prompts renders the system prompts of the agent stages.
//
// Every stage has a built-in template. A directory of {name}.md files can
// override any of them; Watch reloads the overrides when they change on
// disk. Templates use text/template and receive the tool documentation
// as {{.ToolsDoc}}.
package prompts

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"text/template"

	"github.com/fsnotify/fsnotify"
)

// Stage template names.
const (
	Curriculum = "curriculum"
	Skill      = "skill"
	Action     = "action"
	Critic     = "critic"
)

//go:embed templates/*.md
var builtin embed.FS

// Names lists the built-in template names.
func Names() []string {
	return []string{Action, Critic, Curriculum, Skill}
}

// Options configures New.
type Options struct {
	// Dir holds override templates. Optional.
	Dir    string
	Logger *slog.Logger
}

// Set is a concurrency-safe collection of parsed templates.
type Set struct {
	dir    string
	logger *slog.Logger

	mu        sync.RWMutex
	templates map[string]*template.Template
}

// New parses every built-in template and its override, if any.
func New(opts Options) (*Set, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Set{dir: opts.Dir, logger: opts.Logger, templates: make(map[string]*template.Template)}
	for _, name := range Names() {
		if err := s.Reload(name); err != nil {
			return nil, err
		}
	}
	return s, nil
}

type data struct {
	ToolsDoc string
}

// System renders the named template with the given tool documentation.
func (s *Set) System(name, toolsDoc string) (string, error) {
	s.mu.RLock()
	t, ok := s.templates[name]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("prompts: unknown template %q", name)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data{ToolsDoc: toolsDoc}); err != nil {
		return "", fmt.Errorf("prompts: render %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Reload re-reads the named template, preferring the override file. A
// template that fails to parse keeps the previous version.
func (s *Set) Reload(name string) error {
	src, origin, err := s.source(name)
	if err != nil {
		return err
	}
	t, err := template.New(name).Option("missingkey=error").Parse(string(src))
	if err != nil {
		return fmt.Errorf("prompts: parse %s: %w", origin, err)
	}
	s.mu.Lock()
	s.templates[name] = t
	s.mu.Unlock()
	s.logger.Debug("prompts: loaded", "name", name, "from", origin)
	return nil
}

func (s *Set) source(name string) ([]byte, string, error) {
	if s.dir != "" {
		path := filepath.Join(s.dir, name+".md")
		b, err := os.ReadFile(path)
		if err == nil {
			return b, path, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", fmt.Errorf("prompts: %w", err)
		}
	}
	b, err := builtin.ReadFile("templates/" + name + ".md")
	if err != nil {
		return nil, "", fmt.Errorf("prompts: no template %q", name)
	}
	return b, "builtin:" + name, nil
}

// Watch reloads templates whose override file is written, created or
// removed, until ctx is done. A removed override falls back to the
// built-in template. Watch needs a directory.
func (s *Set) Watch(ctx context.Context) error {
	if s.dir == "" {
		return errors.New("prompts: no directory to watch")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("prompts: %w", err)
	}
	defer w.Close()
	if err := w.Add(s.dir); err != nil {
		return fmt.Errorf("prompts: watch %s: %w", s.dir, err)
	}
	s.logger.Info("prompts: watching", "dir", s.dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			name := strings.TrimSuffix(filepath.Base(ev.Name), ".md")
			if !strings.HasSuffix(ev.Name, ".md") || !slices.Contains(Names(), name) {
				continue
			}
			if err := s.Reload(name); err != nil {
				s.logger.Warn("prompts: reload failed, keeping previous", "name", name, "error", err)
				continue
			}
			s.logger.Info("prompts: reloaded", "name", name, "op", ev.Op.String())
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("prompts: watcher error", "error", err)
		}
	}
}
