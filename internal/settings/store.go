package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/openhydro/hydrozone/internal/model"
)

// Store owns the mutable settings document. Readers get a copy; writers go
// through Update so concurrent mutation cannot tear the document.
type Store interface {
	Get() model.Settings
	Update(mutate func(*model.Settings)) error
}

// FileStore persists the settings document as JSON, rewriting the whole
// file on every update.
type FileStore struct {
	path string

	mu      sync.RWMutex
	current model.Settings
}

// NewFileStore loads the settings file at path, bootstrapping defaults if
// it does not exist yet.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, current: model.DefaultSettings()}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(raw, &s.current); err != nil {
			return nil, fmt.Errorf("parse settings %s: %w", path, err)
		}
	case os.IsNotExist(err):
		if err := s.flushLocked(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("read settings %s: %w", path, err)
	}
	return s, nil
}

func (s *FileStore) Get() model.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneSettings(s.current)
}

func (s *FileStore) Update(mutate func(*model.Settings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := cloneSettings(s.current)
	mutate(&next)
	s.current = next
	return s.flushLocked()
}

func (s *FileStore) flushLocked() error {
	raw, err := json.MarshalIndent(s.current, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// MemStore is an in-memory Store for tests and dev mode.
type MemStore struct {
	mu      sync.RWMutex
	current model.Settings
}

func NewMemStore(initial model.Settings) *MemStore {
	return &MemStore{current: cloneSettings(initial)}
}

func (s *MemStore) Get() model.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneSettings(s.current)
}

func (s *MemStore) Update(mutate func(*model.Settings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := cloneSettings(s.current)
	mutate(&next)
	s.current = next
	return nil
}

// cloneSettings deep-copies the maps so callers cannot alias store state.
func cloneSettings(in model.Settings) model.Settings {
	out := in
	out.ValveLabels = make(map[int]string, len(in.ValveLabels))
	for k, v := range in.ValveLabels {
		out.ValveLabels[k] = v
	}
	out.WaterLevelSensors = make(map[string]model.WaterSensorSettings, len(in.WaterLevelSensors))
	for k, v := range in.WaterLevelSensors {
		out.WaterLevelSensors[k] = v
	}
	if in.AutoDose.LastDoseTime != nil {
		t := *in.AutoDose.LastDoseTime
		out.AutoDose.LastDoseTime = &t
	}
	if in.AutoDose.NextDoseTime != nil {
		t := *in.AutoDose.NextDoseTime
		out.AutoDose.NextDoseTime = &t
	}
	return out
}
