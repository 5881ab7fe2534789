// Package handoff persists the session-entry record the race runtime reads
// after a successful migration. It is the local-storage analog of the
// original lobby flow: one JSON file per player under a configurable
// directory.
package handoff

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/neonrush/race-coordinator/internal/models"
)

// Writer persists handoff records for the next process stage.
type Writer interface {
	Save(rec models.RaceHandoff) error
}

// FileWriter writes one JSON file per player id.
type FileWriter struct {
	Dir string
}

func (w FileWriter) Save(rec models.RaceHandoff) error {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create handoff dir: %w", err)
	}
	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal handoff: %w", err)
	}
	path := filepath.Join(w.Dir, rec.PlayerID+".json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write handoff file: %w", err)
	}
	return nil
}

// Load reads a previously saved handoff record for a player.
func Load(dir, playerID string) (*models.RaceHandoff, error) {
	raw, err := os.ReadFile(filepath.Join(dir, playerID+".json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read handoff file: %w", err)
	}
	var rec models.RaceHandoff
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode handoff file: %w", err)
	}
	return &rec, nil
}

// Discard is a Writer that keeps nothing; used where no race runtime follows.
type Discard struct{}

func (Discard) Save(models.RaceHandoff) error { return nil }
