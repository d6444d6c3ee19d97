package incident

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

type snapshot struct {
	incidents []*Incident
	byID      map[string]*Incident
}

// Store reads incidents from a JSON or YAML file. Nothing is read until the
// first access; Reload swaps in a fresh snapshot atomically.
type Store struct {
	path   string
	logger *slog.Logger

	loadMu  sync.Mutex
	current atomic.Pointer[snapshot]
}

// NewStore creates a Store backed by path.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Get returns the incident with the given id.
func (s *Store) Get(id string) (*Incident, error) {
	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	inc, ok := snap.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return inc, nil
}

// All returns every valid incident in file order.
func (s *Store) All() ([]*Incident, error) {
	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	out := make([]*Incident, len(snap.incidents))
	copy(out, snap.incidents)
	return out, nil
}

// First returns the first valid incident in the file.
func (s *Store) First() (*Incident, error) {
	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	if len(snap.incidents) == 0 {
		return nil, fmt.Errorf("%s: %w", s.path, ErrEmpty)
	}
	return snap.incidents[0], nil
}

// Reload re-reads the file. On failure the previous snapshot is kept.
func (s *Store) Reload() error {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	snap, err := s.load()
	if err != nil {
		return err
	}
	s.current.Store(snap)
	return nil
}

// Watch hot-reloads the store whenever the file is written.
// Call the returned stop function to clean up.
func (s *Store) Watch() (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("incident watcher: %w", err)
	}
	if err := w.Add(s.path); err != nil {
		w.Close()
		return nil, fmt.Errorf("incident watcher add %s: %w", s.path, err)
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
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				if err := s.Reload(); err != nil {
					s.logger.Warn("incident reload failed, keeping previous data", "path", s.path, "err", err)
					continue
				}
				s.logger.Info("incidents reloaded", "path", s.path)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Warn("incident watcher error", "path", s.path, "err", err)
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }, nil
}

func (s *Store) snapshot() (*snapshot, error) {
	if snap := s.current.Load(); snap != nil {
		return snap, nil
	}
	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	if snap := s.current.Load(); snap != nil {
		return snap, nil
	}
	snap, err := s.load()
	if err != nil {
		return nil, err
	}
	s.current.Store(snap)
	return snap, nil
}

func (s *Store) load() (*snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read incidents %s: %w", s.path, err)
	}
	var (
		decoders []func(*Incident) error
		lines    []int
	)
	if isJSON(s.path, data) {
		var doc jsonDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse incidents %s: %w", s.path, err)
		}
		for _, raw := range doc.Incidents {
			decoders = append(decoders, func(inc *Incident) error { return json.Unmarshal(raw, inc) })
			lines = append(lines, 0)
		}
	} else {
		var doc yamlDocument
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse incidents %s: %w", s.path, err)
		}
		for i := range doc.Incidents {
			node := &doc.Incidents[i]
			decoders = append(decoders, func(inc *Incident) error { return node.Decode(inc) })
			lines = append(lines, node.Line)
		}
	}

	snap := &snapshot{byID: make(map[string]*Incident, len(decoders))}
	for i, decode := range decoders {
		var inc Incident
		if err := decode(&inc); err != nil {
			s.logger.Warn("skipping malformed incident", "index", i, "line", lines[i], "err", err)
			continue
		}
		if err := inc.validate(); err != nil {
			s.logger.Warn("skipping invalid incident", "index", i, "id", inc.ID, "err", err)
			continue
		}
		if _, dup := snap.byID[inc.ID]; dup {
			s.logger.Warn("skipping duplicate incident id", "index", i, "id", inc.ID)
			continue
		}
		snap.incidents = append(snap.incidents, &inc)
		snap.byID[inc.ID] = &inc
	}
	s.logger.Debug("incidents loaded", "path", s.path, "count", len(snap.incidents), "records", len(decoders))
	return snap, nil
}

func isJSON(path string, data []byte) bool {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return true
	}
	return bytes.HasPrefix(bytes.TrimSpace(data), []byte("{"))
}
