// Package session tracks per-player connectedness inside a running race and
// relays player state updates through the store. It also tears the session
// down, archiving it first, once the last connected player leaves.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/neonrush/race-coordinator/internal/archive"
	"github.com/neonrush/race-coordinator/internal/garage"
	"github.com/neonrush/race-coordinator/internal/identity"
	"github.com/neonrush/race-coordinator/internal/models"
	"github.com/neonrush/race-coordinator/internal/presence"
	"github.com/neonrush/race-coordinator/internal/store"
)

const sessionsRoot = "race_sessions"

// Errors surfaced by session entry points.
var (
	ErrSessionNotFound = errors.New("race session not found")
	ErrNotAuthorized   = errors.New("not authorized to join this race")
)

// Manager owns one player's membership in a race session.
type Manager struct {
	st      store.Store
	ident   identity.Provider
	monitor *presence.Monitor
	garage  garage.Garage
	archive archive.Archiver
	log     zerolog.Logger

	mu     sync.Mutex
	active string
}

// NewManager wires a session manager for the player resolved by ident.
func NewManager(st store.Store, ident identity.Provider, monitor *presence.Monitor, g garage.Garage, a archive.Archiver, log zerolog.Logger) *Manager {
	return &Manager{
		st:      st,
		ident:   ident,
		monitor: monitor,
		garage:  g,
		archive: a,
		log:     log,
	}
}

func sessionPath(sessionID string) string {
	return store.Join(sessionsRoot, sessionID)
}

func playerPath(sessionID, playerID string) string {
	return store.Join(sessionsRoot, sessionID, "players", playerID)
}

func connectedPath(sessionID, playerID string) string {
	return store.Join(playerPath(sessionID, playerID), "connected")
}

// JoinSession enters the caller into a session they were migrated into. It
// arms presence tracking and initializes the caller's player state with
// their selected car and zeroed kinematics. Returns the session snapshot as
// read at join time.
func (m *Manager) JoinSession(ctx context.Context, sessionID string) (*models.RaceSession, error) {
	user, err := m.ident.CurrentUser()
	if err != nil {
		return nil, err
	}

	v, err := m.st.Read(ctx, sessionPath(sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	if v == nil {
		return nil, ErrSessionNotFound
	}
	var sess models.RaceSession
	if err := store.Decode(v, &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	sess.ID = sessionID
	if _, ok := sess.Players[user.ID]; !ok {
		return nil, ErrNotAuthorized
	}

	m.mu.Lock()
	m.active = sessionID
	m.mu.Unlock()

	// Disconnects flip the connected flag; session players are never
	// deleted individually so history stays intact for results.
	m.monitor.SetScope(sessionScope{
		st:   m.st,
		path: connectedPath(sessionID, user.ID),
	})

	carID, err := m.garage.SelectedCar(ctx, user.ID)
	if err != nil {
		m.log.Warn().Err(err).Str("player_id", user.ID).Msg("Failed to look up selected car")
	}

	fields := map[string]any{
		"carId":        carID,
		"position":     map[string]any{"x": 0, "y": 0, "rotation": 0},
		"velocity":     map[string]any{"x": 0, "y": 0},
		"acceleration": 0,
		"input":        map[string]any{"throttle": 0, "brake": 0, "steering": 0},
		"ready":        true,
		"connected":    true,
		"lastUpdate":   store.ServerTimestamp(),
	}
	if err := m.st.Update(ctx, playerPath(sessionID, user.ID), fields); err != nil {
		return nil, fmt.Errorf("failed to initialize player state: %w", err)
	}

	m.log.Info().Str("session_id", sessionID).Str("player_id", user.ID).Msg("Joined race session")
	return &sess, nil
}

// UpdatePlayerState merges the caller's movement and input state plus a
// fresh timestamp into the session. No plausibility checks happen here;
// that belongs to the physics layer.
func (m *Manager) UpdatePlayerState(ctx context.Context, state models.PlayerState) error {
	user, err := m.ident.CurrentUser()
	if err != nil {
		return err
	}
	m.mu.Lock()
	sessionID := m.active
	m.mu.Unlock()
	if sessionID == "" {
		return nil
	}

	fields := map[string]any{
		"position":     map[string]any{"x": state.Position.X, "y": state.Position.Y, "rotation": state.Position.Rotation},
		"velocity":     map[string]any{"x": state.Velocity.X, "y": state.Velocity.Y},
		"acceleration": state.Acceleration,
		"input":        map[string]any{"throttle": state.Input.Throttle, "brake": state.Input.Brake, "steering": state.Input.Steering},
		"checkpoint":   state.Checkpoint,
		"finished":     state.Finished,
		"lastUpdate":   store.ServerTimestamp(),
	}
	if err := m.st.Update(ctx, playerPath(sessionID, user.ID), fields); err != nil {
		return fmt.Errorf("failed to update player state: %w", err)
	}
	return nil
}

// LeaveSession marks the caller disconnected and, if nobody else remains
// connected, archives and deletes the session. Cleanup is best-effort;
// leaving never fails.
func (m *Manager) LeaveSession(ctx context.Context) {
	user, err := m.ident.CurrentUser()
	if err != nil {
		return
	}
	m.mu.Lock()
	sessionID := m.active
	m.active = ""
	m.mu.Unlock()
	if sessionID == "" {
		return
	}

	m.monitor.ClearScope()
	if err := m.st.OnDisconnect(connectedPath(sessionID, user.ID)).Cancel(ctx); err != nil {
		m.log.Warn().Err(err).Msg("Failed to cancel session disconnect hook")
	}

	if err := m.st.Update(ctx, playerPath(sessionID, user.ID), map[string]any{"connected": false}); err != nil {
		m.log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to mark player disconnected")
	}

	v, err := m.st.Read(ctx, sessionPath(sessionID))
	if err != nil {
		m.log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to read session while leaving")
		return
	}
	if v == nil {
		return
	}
	var sess models.RaceSession
	if err := store.Decode(v, &sess); err != nil {
		m.log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to decode session while leaving")
		return
	}
	sess.ID = sessionID

	if sess.ConnectedCount() > 0 {
		m.log.Info().Str("session_id", sessionID).Str("player_id", user.ID).Msg("Left race session")
		return
	}

	// Last one out: persist the record for history, then tear down.
	if err := m.archive.Save(ctx, &sess); err != nil {
		m.log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to archive session")
	}
	if err := m.st.Delete(ctx, sessionPath(sessionID)); err != nil {
		m.log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to delete session")
		return
	}
	m.log.Info().Str("session_id", sessionID).Msg("Race session torn down")
}

// ActiveSession returns the id of the joined session, if any.
func (m *Manager) ActiveSession() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// sessionScope arms the in-race disconnect hook: an ungraceful drop flips
// the caller's connected flag, never deletes their player entry.
type sessionScope struct {
	st   store.Store
	path string
}

func (s sessionScope) Arm(ctx context.Context) error {
	if err := s.st.OnDisconnect(s.path).Set(ctx, false); err != nil {
		return fmt.Errorf("failed to arm session hook: %w", err)
	}
	// Reassert the flag: a prior drop may have flipped it while offline.
	if err := s.st.Write(ctx, s.path, true); err != nil {
		return fmt.Errorf("failed to restore connected flag: %w", err)
	}
	return nil
}
