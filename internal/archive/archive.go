// Package archive keeps durable records of finished race sessions for
// scoring and history, written at session teardown.
package archive

import (
	"context"
	"errors"
	"sync"

	"github.com/neonrush/race-coordinator/internal/models"
)

// ErrNotArchived is returned when no archived record exists for a session.
var ErrNotArchived = errors.New("session not archived")

// Archiver persists final session records.
type Archiver interface {
	Save(ctx context.Context, sess *models.RaceSession) error
	Get(ctx context.Context, sessionID string) (*models.RaceSession, error)
}

// Memory is an in-process archiver for tests and single-node runs.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]models.RaceSession
}

// NewMemory creates an empty in-memory archive.
func NewMemory() *Memory {
	return &Memory{sessions: make(map[string]models.RaceSession)}
}

// Save stores a copy of the session record, replacing any previous one.
func (m *Memory) Save(ctx context.Context, sess *models.RaceSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *sess
	copied.Players = make(map[string]models.SessionPlayer, len(sess.Players))
	for id, p := range sess.Players {
		copied.Players[id] = p
	}
	m.sessions[sess.ID] = copied
	return nil
}

// Get retrieves an archived session by ID.
func (m *Memory) Get(ctx context.Context, sessionID string) (*models.RaceSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotArchived
	}
	return &sess, nil
}
