package lobby

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/neonrush/race-coordinator/internal/models"
	"github.com/neonrush/race-coordinator/internal/store"
)

const (
	sessionsRoot = "race_sessions"
	usersRoot    = "users"
)

// Migrator converts a fully-ready room into a durable race session record
// and fans out per-player pointers to it.
type Migrator struct {
	st       store.Store
	log      zerolog.Logger
	teardown time.Duration
}

// NewMigrator returns a migrator that deletes migrated rooms after the given
// grace delay, so late room subscribers still observe the transitioning
// state before the room disappears.
func NewMigrator(st store.Store, log zerolog.Logger, teardown time.Duration) *Migrator {
	if teardown <= 0 {
		teardown = 2 * time.Second
	}
	return &Migrator{st: st, log: log, teardown: teardown}
}

// Migrate writes the session record, points the room and every player at it,
// and schedules the room's deletion. The session's player map is a snapshot
// of the room's players at this instant, never a live reference.
//
// Only a failure to write the session record itself aborts the migration;
// later steps are logged and left dangling — a player can always be
// redirected to an existing session through their active-race pointer.
func (m *Migrator) Migrate(ctx context.Context, room models.Room, trackID string, laps int) (*models.RaceSession, error) {
	sessionID, err := m.st.Push(ctx, sessionsRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCreationFailed, err)
	}
	sessionPath := store.Join(sessionsRoot, sessionID)

	players := make(map[string]any, len(room.Players))
	snapshot := make(map[string]models.SessionPlayer, len(room.Players))
	for id, p := range room.Players {
		players[id] = map[string]any{
			"uid":          id,
			"name":         p.Name,
			"position":     map[string]any{"x": 0, "y": 0, "rotation": 0},
			"velocity":     map[string]any{"x": 0, "y": 0},
			"acceleration": 0,
			"input":        map[string]any{"throttle": 0, "brake": 0, "steering": 0},
			"connected":    false,
			"ready":        false,
			"checkpoint":   0,
			"finished":     false,
		}
		snapshot[id] = models.SessionPlayer{ID: id, Name: p.Name}
	}

	record := map[string]any{
		"id":             sessionID,
		"originalRoomId": room.ID,
		"status":         models.SessionInitializing,
		"trackId":        trackID,
		"laps":           laps,
		"hostId":         room.HostID,
		"startTime":      store.ServerTimestamp(),
		"players":        players,
	}
	if err := m.st.Write(ctx, sessionPath, record); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCreationFailed, err)
	}

	err = m.st.Update(ctx, roomPath(room.ID), map[string]any{
		"status":    models.RoomTransitioning,
		"sessionId": sessionID,
	})
	if err != nil {
		m.log.Warn().Err(err).Str("room_id", room.ID).Msg("Failed to mark room transitioning")
	}

	for id := range room.Players {
		pointer := map[string]any{"sessionId": sessionID, "roomId": room.ID}
		if err := m.st.Write(ctx, store.Join(usersRoot, id, "activeRace"), pointer); err != nil {
			m.log.Warn().Err(err).Str("player_id", id).Msg("Failed to write active-race pointer")
		}
	}

	roomID := room.ID
	time.AfterFunc(m.teardown, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.st.Delete(ctx, roomPath(roomID)); err != nil {
			m.log.Warn().Err(err).Str("room_id", roomID).Msg("Failed to tear down migrated room")
		}
	})

	m.log.Info().Str("session_id", sessionID).Str("room_id", room.ID).Int("players", len(snapshot)).Msg("Race session created")
	return &models.RaceSession{
		ID:             sessionID,
		OriginalRoomID: room.ID,
		Status:         models.SessionInitializing,
		TrackID:        trackID,
		Laps:           laps,
		HostID:         room.HostID,
		Players:        snapshot,
	}, nil
}
