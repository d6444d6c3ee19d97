package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Loader reads the pipeline YAML file and watches it for changes.
// A missing file is not an error: the built-in defaults are used instead.
type Loader struct {
	path     string
	mu       sync.RWMutex
	current  *PipelineConfig
	onChange []func(*PipelineConfig)
	fromFile bool
}

// NewLoader creates a Loader and performs the initial load.
func NewLoader(path string) (*Loader, error) {
	l := &Loader{path: path}
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	l.current = cfg
	return l, nil
}

// Config returns the current (latest) configuration.
func (l *Loader) Config() *PipelineConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// FromFile reports whether the last load read the file or fell back to defaults.
func (l *Loader) FromFile() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.fromFile
}

// OnChange registers a callback invoked whenever the config reloads.
func (l *Loader) OnChange(fn func(*PipelineConfig)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Watch starts a background goroutine that hot-reloads the config on file changes.
// Call the returned stop function to clean up.
func (l *Loader) Watch() (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	if err := w.Add(l.path); err != nil {
		w.Close()
		return nil, fmt.Errorf("config watcher add %s: %w", l.path, err)
	}

	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					if _, err := l.Reload(); err != nil {
						slog.Warn("config reload failed, keeping previous config", "path", l.path, "err", err)
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("config watcher error", "path", l.path, "err", err)
			case <-done:
				return
			}
		}
	}()

	return func() { close(done) }, nil
}

// Reload forces an immediate re-read of the config file.
func (l *Loader) Reload() (*PipelineConfig, error) {
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.current = cfg
	callbacks := make([]func(*PipelineConfig), len(l.onChange))
	copy(callbacks, l.onChange)
	l.mu.Unlock()
	for _, fn := range callbacks {
		fn(cfg)
	}
	return cfg, nil
}

func (l *Loader) load() (*PipelineConfig, error) {
	var cfg PipelineConfig
	data, err := os.ReadFile(l.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		l.setFromFile(false)
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", l.path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", l.path, err)
		}
		l.setFromFile(true)
	}
	ApplyDefaults(&cfg)
	return &cfg, nil
}

func (l *Loader) setFromFile(v bool) {
	l.mu.Lock()
	l.fromFile = v
	l.mu.Unlock()
}

// Default returns a config with every default applied.
func Default() *PipelineConfig {
	var cfg PipelineConfig
	ApplyDefaults(&cfg)
	return &cfg
}

// ApplyDefaults fills zero values in cfg.
func ApplyDefaults(cfg *PipelineConfig) {
	if cfg.Version == "" {
		cfg.Version = "v1"
	}
	if cfg.IncidentsPath == "" {
		cfg.IncidentsPath = "data/addresses.json"
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "output"
	}

	n := &cfg.Network
	if n.DefaultDepth == 0 {
		n.DefaultDepth = 1
	}
	if n.MaxDepth == 0 {
		n.MaxDepth = 3
	}
	if n.PerAddressLimit == 0 {
		n.PerAddressLimit = 25
	}
	if n.MaxNodes == 0 {
		n.MaxNodes = 500
	}
	if n.FetchWorkers == 0 {
		n.FetchWorkers = 4
	}

	x := &cfg.Explorer
	if x.BaseURL == "" {
		x.BaseURL = "https://deep-index.moralis.io/api/v2.2"
	}
	if x.RequestsPerSecond == 0 {
		x.RequestsPerSecond = 5
	}
	if x.Burst == 0 {
		x.Burst = 1
	}
	if x.TimeoutMs == 0 {
		x.TimeoutMs = 30000
	}
	if x.MaxAttempts == 0 {
		x.MaxAttempts = 3
	}
	if x.MockSeed == 0 {
		x.MockSeed = 42
	}

	e := &cfg.Enrichment
	if e.BaseURL == "" {
		e.BaseURL = "https://api.trmlabs.com/public/v1/sanctions/screening"
	}
	if e.Workers == 0 {
		e.Workers = 4
	}
	if e.TimeoutMs == 0 {
		e.TimeoutMs = 30000
	}
	if e.MaxAttempts == 0 {
		e.MaxAttempts = 3
	}
	if e.MockSeed == 0 {
		e.MockSeed = 42
	}
	if e.CacheTTLHours == 0 {
		e.CacheTTLHours = 24
	}

	if cfg.Report.Title == "" {
		cfg.Report.Title = "Blockchain Incident Visualization"
	}
	if cfg.Report.TopEntities == 0 {
		cfg.Report.TopEntities = 5
	}
}
