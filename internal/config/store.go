package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"
)

// Store persists quality downgrades back to the configuration file. It
// rewrites only the hq_enabled flags so hand-edited settings survive.
//
// Writes are atomic (write-to-temp then rename) so a crash mid-persist never
// leaves a truncated config behind.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a store for the config file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the config file path the store writes to.
func (s *Store) Path() string {
	return s.path
}

// PersistHQ writes the given hq_enabled flags into the camera entries of the
// config file.
func (s *Store) PersistHQ(hq [NumCameras]bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read config for persist: %w", err)
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("failed to parse config for persist: %w", err)
	}

	cams, ok := doc["cameras"].([]interface{})
	if !ok {
		cams = make([]interface{}, 0, NumCameras)
	}
	for len(cams) < NumCameras {
		cams = append(cams, map[string]interface{}{})
	}
	for i := 0; i < NumCameras; i++ {
		entry, ok := cams[i].(map[string]interface{})
		if !ok {
			entry = map[string]interface{}{}
		}
		entry["hq_enabled"] = hq[i]
		cams[i] = entry
	}
	doc["cameras"] = cams

	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := renameio.WriteFile(s.path, out, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
