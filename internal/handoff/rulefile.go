package handoff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// RuleFile keeps an Engine in sync with a JSON rules file.
type RuleFile struct {
	path   string
	engine *Engine
	mu     sync.Mutex // serializes writes
}

// NewRuleFile binds path to engine.
func NewRuleFile(path string, engine *Engine) (*RuleFile, error) {
	if path == "" {
		return nil, fmt.Errorf("handoff: rule file: path is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("handoff: rule file: engine is required")
	}
	return &RuleFile{path: path, engine: engine}, nil
}

// Path returns the file location.
func (f *RuleFile) Path() string { return f.path }

// Load reads the file into the engine. A missing file is created from the
// engine's current rules.
func (f *RuleFile) Load() (Rules, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		f.mu.Lock()
		defer f.mu.Unlock()
		cur := f.engine.Rules()
		if err := f.write(cur); err != nil {
			return Rules{}, err
		}
		return cur, nil
	}
	if err != nil {
		return Rules{}, fmt.Errorf("handoff: load rules: %w", err)
	}
	r, err := ParseRules(data)
	if err != nil {
		return Rules{}, err
	}
	return f.engine.Swap(r), nil
}

// Update parses a rules document, persists it and installs it.
func (f *RuleFile) Update(data []byte) (Rules, error) {
	r, err := ParseRules(data)
	if err != nil {
		return Rules{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	installed := f.engine.Swap(r)
	if err := f.write(installed); err != nil {
		return Rules{}, err
	}
	log.Info().Int("version", installed.Version).Int("keywords", len(installed.Keywords)).Msg("handoff: rules updated")
	return installed, nil
}

// write replaces the file atomically with a temp file and rename.
func (f *RuleFile) write(r Rules) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("handoff: write rules: %w", err)
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("handoff: write rules: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".rules-*.json")
	if err != nil {
		return fmt.Errorf("handoff: write rules: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("handoff: write rules: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("handoff: write rules: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("handoff: write rules: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("handoff: write rules: %w", err)
	}
	return nil
}

// Watch reloads the rules whenever the file changes on disk. It watches
// the parent directory so atomic replacements are seen. Watch blocks until
// ctx is done.
func (f *RuleFile) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("handoff: watch rules: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(f.path)); err != nil {
		return fmt.Errorf("handoff: watch rules: %w", err)
	}
	target := filepath.Clean(f.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			f.reload()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Str("path", f.path).Msg("handoff: rules watcher error")
		}
	}
}

func (f *RuleFile) reload() {
	data, err := os.ReadFile(f.path)
	if err != nil {
		// Mid-rename or deleted; the next event will catch up.
		return
	}
	r, err := ParseRules(data)
	if err != nil {
		log.Warn().Err(err).Str("path", f.path).Msg("handoff: ignoring unparseable rules file")
		return
	}
	before := f.engine.Rules().Version
	installed := f.engine.Swap(r)
	if installed.Version != before {
		log.Info().Int("version", installed.Version).Msg("handoff: rules reloaded from disk")
	}
}
