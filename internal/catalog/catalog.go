// Package catalog persists the administrator-curated model catalog used to
// drive fleet-wide distribution. Grounded on the original Rust router's
// db/models.rs: a plain JSON file under the data directory rather than a
// gorm table, since the catalog is small, infrequently written, and never
// queried relationally.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

const modelsFileName = "models.json"

// ModelInfo describes one entry in the model catalog.
type ModelInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	SizeBytes   uint64 `json:"size_bytes,omitempty"`
}

// Store is the Model Catalog: an in-memory slice backed by a JSON file,
// guarded by a single reader/writer lock, mirroring internal/registry's
// persistence pattern.
type Store struct {
	mu       sync.RWMutex
	models   []ModelInfo
	filePath string
	logger   *zap.Logger
}

// New loads the catalog from dataDir/models.json, if present. A missing file
// is treated as an empty catalog, not an error.
func New(dataDir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{
		filePath: filepath.Join(dataDir, modelsFileName),
		logger:   logger.With(zap.String("component", "catalog")),
	}

	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			s.models = []ModelInfo{}
			return nil
		}
		return fmt.Errorf("catalog: read %s: %w", s.filePath, err)
	}
	if len(data) == 0 {
		s.models = []ModelInfo{}
		return nil
	}

	var models []ModelInfo
	if err := json.Unmarshal(data, &models); err != nil {
		s.logger.Warn("failed to parse models.json, resetting to empty", zap.Error(err))
		s.models = []ModelInfo{}
		return nil
	}
	s.models = models
	return nil
}

// List returns a copy of the current catalog.
func (s *Store) List() []ModelInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ModelInfo, len(s.models))
	copy(out, s.models)
	return out
}

// Put upserts a model entry by name and persists the catalog.
func (s *Store) Put(model ModelInfo) error {
	s.mu.Lock()
	replaced := false
	for i, m := range s.models {
		if m.Name == model.Name {
			s.models[i] = model
			replaced = true
			break
		}
	}
	if !replaced {
		s.models = append(s.models, model)
	}
	snapshot := make([]ModelInfo, len(s.models))
	copy(snapshot, s.models)
	s.mu.Unlock()

	return persist(s.filePath, snapshot)
}

// Remove deletes a model entry by name and persists the catalog.
func (s *Store) Remove(name string) error {
	s.mu.Lock()
	filtered := make([]ModelInfo, 0, len(s.models))
	for _, m := range s.models {
		if m.Name != name {
			filtered = append(filtered, m)
		}
	}
	s.models = filtered
	snapshot := make([]ModelInfo, len(s.models))
	copy(snapshot, s.models)
	s.mu.Unlock()

	return persist(s.filePath, snapshot)
}

func persist(path string, models []ModelInfo) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("catalog: mkdir %s: %w", filepath.Dir(path), err)
	}

	data, err := json.MarshalIndent(models, "", "  ")
	if err != nil {
		return fmt.Errorf("catalog: encode models: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("catalog: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("catalog: rename %s: %w", tmp, err)
	}
	return nil
}
