package lobby

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/neonrush/race-coordinator/internal/models"
	"github.com/neonrush/race-coordinator/internal/store"
)

func testRoom(id string) models.Room {
	return models.Room{
		ID:     id,
		HostID: "p1",
		Status: models.RoomStarting,
		Players: map[string]models.RoomPlayer{
			"p1": {ID: "p1", Name: "Ayla", Ready: true},
			"p2": {ID: "p2", Name: "Bram", Ready: true},
		},
	}
}

func TestMigrator_Migrate(t *testing.T) {
	conn := store.NewMemory().Connect()
	m := NewMigrator(conn, zerolog.Nop(), 50*time.Millisecond)
	ctx := context.Background()

	room := testRoom("r1")
	if err := conn.Write(ctx, "rooms/r1", map[string]any{"status": models.RoomStarting}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sess, err := m.Migrate(ctx, room, "neon_city_1", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.ID == "" {
		t.Fatalf("expected session id")
	}
	if sess.TrackID != "neon_city_1" || sess.Laps != 3 {
		t.Errorf("unexpected session config: %q / %d", sess.TrackID, sess.Laps)
	}
	if sess.HostID != "p1" {
		t.Errorf("expected host carried over, got %q", sess.HostID)
	}

	v, err := conn.Read(ctx, store.Join("race_sessions", sess.ID))
	if err != nil || v == nil {
		t.Fatalf("expected session record, got %v (%v)", v, err)
	}
	var stored models.RaceSession
	if err := store.Decode(v, &stored); err != nil {
		t.Fatalf("failed to decode session: %v", err)
	}
	if stored.Status != models.SessionInitializing {
		t.Errorf("expected status %q, got %q", models.SessionInitializing, stored.Status)
	}
	if stored.OriginalRoomID != "r1" {
		t.Errorf("expected original room id, got %q", stored.OriginalRoomID)
	}
	if stored.StartTime == 0 {
		t.Errorf("expected server-resolved start time")
	}
	for _, id := range []string{"p1", "p2"} {
		p, ok := stored.Players[id]
		if !ok {
			t.Errorf("expected player %q in session", id)
			continue
		}
		if p.Connected || p.Ready {
			t.Errorf("expected player %q reset for the race", id)
		}
		if p.Position.X != 0 || p.Velocity.X != 0 {
			t.Errorf("expected zeroed kinematics for %q", id)
		}
	}

	// The room is pointed at the session so late observers can follow.
	rv, _ := conn.Read(ctx, "rooms/r1/sessionId")
	if rv != sess.ID {
		t.Errorf("expected room session pointer, got %v", rv)
	}
	sv, _ := conn.Read(ctx, "rooms/r1/status")
	if sv != models.RoomTransitioning {
		t.Errorf("expected room transitioning, got %v", sv)
	}
	for _, id := range []string{"p1", "p2"} {
		pv, _ := conn.Read(ctx, store.Join("users", id, "activeRace", "sessionId"))
		if pv != sess.ID {
			t.Errorf("expected active-race pointer for %q, got %v", id, pv)
		}
	}

	// The room disappears after the grace delay; the session stays.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rv, _ := conn.Read(ctx, "rooms/r1"); rv == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if rv, _ := conn.Read(ctx, "rooms/r1"); rv != nil {
		t.Errorf("expected room torn down, got %v", rv)
	}
	if sv, _ := conn.Read(ctx, store.Join("race_sessions", sess.ID)); sv == nil {
		t.Errorf("expected session to survive room teardown")
	}
}

func TestMigrator_SnapshotIsNotLive(t *testing.T) {
	conn := store.NewMemory().Connect()
	m := NewMigrator(conn, zerolog.Nop(), 50*time.Millisecond)
	ctx := context.Background()

	room := testRoom("r1")
	sess, err := m.Migrate(ctx, room, "neon_city_1", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Mutating the room afterwards must not leak into the session.
	room.Players["p3"] = models.RoomPlayer{ID: "p3", Name: "Cleo"}
	delete(room.Players, "p1")

	if len(sess.Players) != 2 {
		t.Errorf("expected snapshot of 2 players, got %d", len(sess.Players))
	}
	if _, ok := sess.Players["p1"]; !ok {
		t.Errorf("expected snapshot to keep p1")
	}
	if _, ok := sess.Players["p3"]; ok {
		t.Errorf("expected snapshot to not see p3")
	}
}

// failingStore wraps a Store to reject writes below a path prefix.
type failingStore struct {
	store.Store
	prefix string
}

func (f failingStore) Write(ctx context.Context, path string, value any) error {
	if strings.HasPrefix(path, f.prefix) {
		return errors.New("backend unavailable")
	}
	return f.Store.Write(ctx, path, value)
}

func TestMigrator_SessionWriteFailureAborts(t *testing.T) {
	conn := store.NewMemory().Connect()
	st := failingStore{Store: conn, prefix: "race_sessions/"}
	m := NewMigrator(st, zerolog.Nop(), 50*time.Millisecond)
	ctx := context.Background()

	if err := conn.Write(ctx, "rooms/r1", map[string]any{"status": models.RoomStarting}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := m.Migrate(ctx, testRoom("r1"), "neon_city_1", 3)
	if !errors.Is(err, ErrSessionCreationFailed) {
		t.Fatalf("expected ErrSessionCreationFailed, got %v", err)
	}

	// Nothing downstream may have happened.
	if v, _ := conn.Read(ctx, "rooms/r1/sessionId"); v != nil {
		t.Errorf("expected no room pointer after failed migration, got %v", v)
	}
	if v, _ := conn.Read(ctx, "users/p1/activeRace"); v != nil {
		t.Errorf("expected no active-race pointer after failed migration, got %v", v)
	}
}
