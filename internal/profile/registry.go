// Package profile manages the oracle's system-prompt preambles: yaml files in
// a profiles directory, resolved per symbol with a default fallback, and hot
// reloaded on file change so prompt tuning does not need a restart.
package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"marlin/internal/logger"
)

// Definition 单个 profile 文件的内容。
type Definition struct {
	Name     string   `yaml:"name"`
	Symbols  []string `yaml:"symbols"`
	Default  bool     `yaml:"default"`
	Preamble string   `yaml:"preamble"`
}

const builtinPreamble = "You are the decision module of an unattended perpetual-futures " +
	"trading engine. You receive a full account/market context document and must answer " +
	"with exactly one JSON decision document and nothing else."

type Registry struct {
	dir string

	mu          sync.RWMutex
	bySymbol    map[string]Definition
	defaultProf *Definition

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewRegistry loads the directory once and starts watching it. A missing or
// empty directory is not an error; the built-in preamble is used.
func NewRegistry(dir string) (*Registry, error) {
	r := &Registry{
		dir:      strings.TrimSpace(dir),
		bySymbol: make(map[string]Definition),
		done:     make(chan struct{}),
	}
	if r.dir == "" {
		return r, nil
	}
	if err := r.reload(); err != nil {
		return nil, err
	}
	if err := r.watch(); err != nil {
		logger.Warnf("profile: watch disabled: %v", err)
	}
	return r, nil
}

// Resolve returns the preamble for a symbol: symbol binding first, then the
// default profile, then the built-in text.
func (r *Registry) Resolve(symbol string) string {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	r.mu.RLock()
	defer r.mu.RUnlock()
	if def, ok := r.bySymbol[sym]; ok {
		return def.Preamble
	}
	if r.defaultProf != nil {
		return r.defaultProf.Preamble
	}
	return builtinPreamble
}

func (r *Registry) Close() error {
	close(r.done)
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}

func (r *Registry) reload() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warnf("profile: directory %s missing, using built-in preamble", r.dir)
			return nil
		}
		return fmt.Errorf("reading profiles dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	bySymbol := make(map[string]Definition)
	var defaultProf *Definition
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(r.dir, name))
		if err != nil {
			logger.Warnf("profile: skipping %s: %v", name, err)
			continue
		}
		var def Definition
		if err := yaml.Unmarshal(raw, &def); err != nil {
			logger.Warnf("profile: skipping %s: bad yaml: %v", name, err)
			continue
		}
		if strings.TrimSpace(def.Preamble) == "" {
			logger.Warnf("profile: skipping %s: empty preamble", name)
			continue
		}
		if def.Name == "" {
			def.Name = strings.TrimSuffix(name, filepath.Ext(name))
		}
		for _, sym := range def.Symbols {
			bySymbol[strings.ToUpper(strings.TrimSpace(sym))] = def
		}
		if def.Default && defaultProf == nil {
			d := def
			defaultProf = &d
		}
	}

	r.mu.Lock()
	r.bySymbol = bySymbol
	r.defaultProf = defaultProf
	r.mu.Unlock()
	logger.Infof("profile: loaded %d file(s), %d symbol binding(s)", len(names), len(bySymbol))
	return nil
}

func (r *Registry) watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(r.dir); err != nil {
		w.Close()
		return err
	}
	r.watcher = w
	go func() {
		for {
			select {
			case <-r.done:
				return
			case evt, ok := <-w.Events:
				if !ok {
					return
				}
				if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if err := r.reload(); err != nil {
					logger.Warnf("profile: reload after %s failed: %v", evt.Name, err)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warnf("profile: watcher error: %v", err)
			}
		}
	}()
	return nil
}
