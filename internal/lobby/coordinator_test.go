package lobby

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/neonrush/race-coordinator/internal/handoff"
	"github.com/neonrush/race-coordinator/internal/identity"
	"github.com/neonrush/race-coordinator/internal/models"
	"github.com/neonrush/race-coordinator/internal/presence"
	"github.com/neonrush/race-coordinator/internal/store"
)

func testConfig() Config {
	return Config{
		CountdownSeconds: 3,
		CountdownTick:    10 * time.Millisecond,
	}
}

// newTestCoordinator wires a coordinator over its own connection to the
// shared tree, the way every real client runs.
func newTestCoordinator(t *testing.T, mem *store.Memory, playerID, name string, cfg Config) (*Coordinator, *store.Conn) {
	t.Helper()
	conn := mem.Connect()
	log := zerolog.Nop()
	monitor := presence.NewMonitor(conn, log)
	t.Cleanup(monitor.Close)
	migrator := NewMigrator(conn, log, 50*time.Millisecond)
	ident := identity.Static{User: &identity.User{ID: playerID, Name: name}}
	return NewCoordinator(conn, ident, monitor, migrator, handoff.Discard{}, log, cfg), conn
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

// awaitEvent drains the coordinator's event channel until match succeeds.
func awaitEvent(t *testing.T, c *Coordinator, timeout time.Duration, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case e := <-c.Events():
			if match(e) {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event")
			return nil
		}
	}
}

func readRoom(t *testing.T, conn *store.Conn, roomID string) *models.Room {
	t.Helper()
	v, err := conn.Read(context.Background(), store.Join("rooms", roomID))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v == nil {
		return nil
	}
	var room models.Room
	if err := store.Decode(v, &room); err != nil {
		t.Fatalf("failed to decode room: %v", err)
	}
	room.ID = roomID
	return &room
}

func TestCoordinator_CreateRoom(t *testing.T) {
	mem := store.NewMemory()
	host, conn := newTestCoordinator(t, mem, "p1", "Ayla", testConfig())
	ctx := context.Background()

	roomID, accessKey, err := host.CreateRoom(ctx, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if roomID == "" {
		t.Fatalf("expected room id to be set")
	}
	if accessKey != "" {
		t.Errorf("expected no access key for public room, got %q", accessKey)
	}

	room := readRoom(t, conn, roomID)
	if room == nil {
		t.Fatalf("expected room in store")
	}
	if room.HostID != "p1" {
		t.Errorf("expected host %q, got %q", "p1", room.HostID)
	}
	if room.Status != models.RoomWaiting {
		t.Errorf("expected status %q, got %q", models.RoomWaiting, room.Status)
	}
	if !room.AcceptingInput {
		t.Errorf("expected room to accept input")
	}
	if room.CanBeCancelled {
		t.Errorf("expected fresh room to not be cancellable")
	}
	p, ok := room.Players["p1"]
	if !ok {
		t.Fatalf("expected host player entry")
	}
	if p.Ready {
		t.Errorf("expected host to start not ready")
	}
	if p.Name != "Ayla" {
		t.Errorf("expected player name %q, got %q", "Ayla", p.Name)
	}

	e := awaitEvent(t, host, time.Second, func(e Event) bool {
		_, ok := e.(RoomJoined)
		return ok
	})
	if joined := e.(RoomJoined); !joined.IsHost || joined.RoomID != roomID {
		t.Errorf("unexpected RoomJoined payload: %+v", joined)
	}
}

func TestCoordinator_CreateRoom_Private(t *testing.T) {
	mem := store.NewMemory()
	host, conn := newTestCoordinator(t, mem, "p1", "Ayla", testConfig())

	roomID, accessKey, err := host.CreateRoom(context.Background(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(accessKey) != 6 {
		t.Errorf("expected 6-char access key, got %q", accessKey)
	}

	room := readRoom(t, conn, roomID)
	if !room.IsPrivate {
		t.Errorf("expected private room")
	}
	if room.AccessKey != accessKey {
		t.Errorf("expected stored key %q, got %q", accessKey, room.AccessKey)
	}
}

func TestCoordinator_JoinRoom(t *testing.T) {
	mem := store.NewMemory()
	host, conn := newTestCoordinator(t, mem, "p1", "Ayla", testConfig())
	ctx := context.Background()

	publicID, _, err := host.CreateRoom(ctx, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name      string
		roomID    string
		accessKey string
		wantErr   error
	}{
		{
			name:   "join public room",
			roomID: publicID,
		},
		{
			name:    "unknown room",
			roomID:  "nope",
			wantErr: ErrRoomNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			guest, _ := newTestCoordinator(t, mem, "p2", "Bram", testConfig())
			got, err := guest.JoinRoom(ctx, tt.roomID, tt.accessKey)
			if tt.wantErr != nil {
				if err != tt.wantErr {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.roomID {
				t.Errorf("expected room id %q, got %q", tt.roomID, got)
			}
			room := readRoom(t, conn, tt.roomID)
			if _, ok := room.Players["p2"]; !ok {
				t.Errorf("expected guest player entry")
			}
		})
	}
}

func TestCoordinator_JoinRoom_AccessKey(t *testing.T) {
	mem := store.NewMemory()
	host, _ := newTestCoordinator(t, mem, "p1", "Ayla", testConfig())
	ctx := context.Background()

	roomID, accessKey, err := host.CreateRoom(ctx, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	guest, _ := newTestCoordinator(t, mem, "p2", "Bram", testConfig())
	if _, err := guest.JoinRoom(ctx, roomID, "WRONG1"); err != ErrInvalidAccessKey {
		t.Errorf("expected ErrInvalidAccessKey, got %v", err)
	}

	// Keys compare case-insensitively.
	lower := []byte(accessKey)
	for i, b := range lower {
		if b >= 'A' && b <= 'Z' {
			lower[i] = b + 'a' - 'A'
		}
	}
	if _, err := guest.JoinRoom(ctx, roomID, string(lower)); err != nil {
		t.Errorf("expected lowercase key accepted, got %v", err)
	}
}

func TestCoordinator_JoinRoom_AlreadyStarted(t *testing.T) {
	mem := store.NewMemory()
	host, conn := newTestCoordinator(t, mem, "p1", "Ayla", testConfig())
	ctx := context.Background()

	roomID, _, err := host.CreateRoom(ctx, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := conn.Update(ctx, store.Join("rooms", roomID), map[string]any{"status": models.RoomStarting}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	guest, _ := newTestCoordinator(t, mem, "p2", "Bram", testConfig())
	if _, err := guest.JoinRoom(ctx, roomID, ""); err != ErrRaceAlreadyStarted {
		t.Errorf("expected ErrRaceAlreadyStarted, got %v", err)
	}
}

func TestCoordinator_ReadyQuorumStartsRace(t *testing.T) {
	mem := store.NewMemory()
	host, conn := newTestCoordinator(t, mem, "p1", "Ayla", testConfig())
	guest, _ := newTestCoordinator(t, mem, "p2", "Bram", testConfig())
	ctx := context.Background()

	roomID, _, err := host.CreateRoom(ctx, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := guest.JoinRoom(ctx, roomID, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := host.ToggleReady(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Not everyone ready yet, the room must stay waiting.
	if room := readRoom(t, conn, roomID); room.Status != models.RoomWaiting {
		t.Fatalf("expected room still waiting, got %q", room.Status)
	}

	if err := guest.ToggleReady(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, c := range []*Coordinator{host, guest} {
		awaitEvent(t, c, 2*time.Second, func(e Event) bool {
			_, ok := e.(RaceStarting)
			return ok
		})
	}

	hostReady := awaitEvent(t, host, 2*time.Second, func(e Event) bool {
		_, ok := e.(RaceReady)
		return ok
	}).(RaceReady)
	guestReady := awaitEvent(t, guest, 2*time.Second, func(e Event) bool {
		_, ok := e.(RaceReady)
		return ok
	}).(RaceReady)

	if hostReady.Handoff.SessionID == "" {
		t.Fatalf("expected session id in handoff")
	}
	if hostReady.Handoff.SessionID != guestReady.Handoff.SessionID {
		t.Errorf("expected both players in the same session")
	}
	if !hostReady.Handoff.IsHost {
		t.Errorf("expected host handoff to carry host role")
	}
	if guestReady.Handoff.IsHost {
		t.Errorf("expected guest handoff to not carry host role")
	}
	if len(hostReady.Handoff.Players) != 2 {
		t.Errorf("expected 2 players in handoff, got %d", len(hostReady.Handoff.Players))
	}

	sessionID := hostReady.Handoff.SessionID
	v, err := conn.Read(ctx, store.Join("race_sessions", sessionID))
	if err != nil || v == nil {
		t.Fatalf("expected session record, got %v (%v)", v, err)
	}
	var sess models.RaceSession
	if err := store.Decode(v, &sess); err != nil {
		t.Fatalf("failed to decode session: %v", err)
	}
	if sess.Status != models.SessionInitializing {
		t.Errorf("expected status %q, got %q", models.SessionInitializing, sess.Status)
	}
	if sess.StartTime == 0 {
		t.Errorf("expected resolved start time")
	}
	for _, id := range []string{"p1", "p2"} {
		p, ok := sess.Players[id]
		if !ok {
			t.Errorf("expected session player %q", id)
			continue
		}
		if p.Connected || p.Ready {
			t.Errorf("expected player %q to start disconnected and not ready", id)
		}
		pv, _ := conn.Read(ctx, store.Join("users", id, "activeRace", "sessionId"))
		if pv != sessionID {
			t.Errorf("expected active-race pointer for %q, got %v", id, pv)
		}
	}

	// The migrated room is torn down after the grace delay.
	waitFor(t, 2*time.Second, func() bool {
		return readRoom(t, conn, roomID) == nil
	})
}

func TestCoordinator_CancelDuringCountdown(t *testing.T) {
	mem := store.NewMemory()
	// A long countdown keeps the cancellation well inside the window.
	cfg := Config{CountdownSeconds: 30, CountdownTick: 100 * time.Millisecond}
	host, conn := newTestCoordinator(t, mem, "p1", "Ayla", cfg)
	guest, _ := newTestCoordinator(t, mem, "p2", "Bram", cfg)
	ctx := context.Background()

	roomID, _, err := host.CreateRoom(ctx, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := guest.JoinRoom(ctx, roomID, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := host.ToggleReady(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := guest.ToggleReady(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		room := readRoom(t, conn, roomID)
		return room != nil && room.Status == models.RoomStarting && room.CanBeCancelled
	})

	if err := host.CancelRaceStart(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	awaitEvent(t, guest, 2*time.Second, func(e Event) bool {
		_, ok := e.(RaceCancelled)
		return ok
	})

	room := readRoom(t, conn, roomID)
	if room == nil {
		t.Fatalf("expected room to survive cancellation")
	}
	if room.Status != models.RoomWaiting {
		t.Errorf("expected status %q, got %q", models.RoomWaiting, room.Status)
	}
	if !room.AcceptingInput {
		t.Errorf("expected room to accept input again")
	}
	if room.CanBeCancelled {
		t.Errorf("expected cancellation window closed")
	}
	// Ready flags survive a cancelled start.
	for _, id := range []string{"p1", "p2"} {
		if !room.Players[id].Ready {
			t.Errorf("expected player %q to stay ready", id)
		}
	}

	// No session record may exist after a cancellation.
	v, _ := conn.Read(ctx, "race_sessions")
	if v != nil {
		t.Errorf("expected no session records, got %v", v)
	}
}

func TestCoordinator_CancelThenRestartRunsFullCountdown(t *testing.T) {
	mem := store.NewMemory()
	cfg := Config{CountdownSeconds: 4, CountdownTick: 100 * time.Millisecond}
	host, conn := newTestCoordinator(t, mem, "p1", "Ayla", cfg)
	guest, _ := newTestCoordinator(t, mem, "p2", "Bram", cfg)
	ctx := context.Background()

	roomID, _, err := host.CreateRoom(ctx, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := guest.JoinRoom(ctx, roomID, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := host.ForceStart(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		room := readRoom(t, conn, roomID)
		return room != nil && room.Status == models.RoomStarting && room.CanBeCancelled
	})

	// Let most of the countdown elapse so the cancelled sequence, were it
	// still alive, would finish almost immediately after the restart.
	time.Sleep(250 * time.Millisecond)
	if err := host.CancelRaceStart(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		room := readRoom(t, conn, roomID)
		return room != nil && room.Status == models.RoomWaiting
	})

	if err := host.ForceStart(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	restartedAt := time.Now()

	awaitEvent(t, host, 5*time.Second, func(e Event) bool {
		_, ok := e.(RaceReady)
		return ok
	})
	elapsed := time.Since(restartedAt)

	// The restart must run its own full countdown, not inherit the ticks
	// the cancelled sequence had left.
	if min := 3 * cfg.CountdownTick; elapsed < min {
		t.Errorf("race migrated %v after restart, want at least %v", elapsed, min)
	}

	// Exactly one session record: the cancelled sequence must not have
	// migrated alongside the restarted one.
	v, err := conn.Read(ctx, "race_sessions")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sessions, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("expected session map, got %T", v)
	}
	if len(sessions) != 1 {
		t.Errorf("expected exactly one session record, got %d", len(sessions))
	}
}

func TestCoordinator_CancelByGuestIgnored(t *testing.T) {
	mem := store.NewMemory()
	cfg := Config{CountdownSeconds: 30, CountdownTick: 100 * time.Millisecond}
	host, conn := newTestCoordinator(t, mem, "p1", "Ayla", cfg)
	guest, _ := newTestCoordinator(t, mem, "p2", "Bram", cfg)
	ctx := context.Background()

	roomID, _, err := host.CreateRoom(ctx, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := guest.JoinRoom(ctx, roomID, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := host.ForceStart(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		room := readRoom(t, conn, roomID)
		return room != nil && room.Status == models.RoomStarting
	})

	if err := guest.CancelRaceStart(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if room := readRoom(t, conn, roomID); room.Status != models.RoomStarting {
		t.Errorf("expected guest cancel to be a no-op, status %q", room.Status)
	}
}

func TestCoordinator_ForceStart_NonHost(t *testing.T) {
	mem := store.NewMemory()
	host, _ := newTestCoordinator(t, mem, "p1", "Ayla", testConfig())
	guest, _ := newTestCoordinator(t, mem, "p2", "Bram", testConfig())
	ctx := context.Background()

	roomID, _, err := host.CreateRoom(ctx, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := guest.JoinRoom(ctx, roomID, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := guest.ForceStart(ctx); err != ErrNotAuthorized {
		t.Errorf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestCoordinator_LeaveRoom_Guest(t *testing.T) {
	mem := store.NewMemory()
	host, conn := newTestCoordinator(t, mem, "p1", "Ayla", testConfig())
	guest, _ := newTestCoordinator(t, mem, "p2", "Bram", testConfig())
	ctx := context.Background()

	roomID, _, err := host.CreateRoom(ctx, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := guest.JoinRoom(ctx, roomID, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	guest.LeaveRoom(ctx)

	room := readRoom(t, conn, roomID)
	if room == nil {
		t.Fatalf("expected room to survive guest leaving")
	}
	if _, ok := room.Players["p2"]; ok {
		t.Errorf("expected guest player entry removed")
	}
	if _, ok := room.Players["p1"]; !ok {
		t.Errorf("expected host player entry kept")
	}
}

func TestCoordinator_LeaveRoom_HostClosesRoom(t *testing.T) {
	mem := store.NewMemory()
	host, conn := newTestCoordinator(t, mem, "p1", "Ayla", testConfig())
	guest, _ := newTestCoordinator(t, mem, "p2", "Bram", testConfig())
	ctx := context.Background()

	roomID, _, err := host.CreateRoom(ctx, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := guest.JoinRoom(ctx, roomID, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	host.LeaveRoom(ctx)

	if room := readRoom(t, conn, roomID); room != nil {
		t.Errorf("expected room deleted when host leaves")
	}
	awaitEvent(t, guest, 2*time.Second, func(e Event) bool {
		_, ok := e.(RoomClosed)
		return ok
	})
}

func TestCoordinator_HostDropDeletesRoom(t *testing.T) {
	mem := store.NewMemory()
	host, hostConn := newTestCoordinator(t, mem, "p1", "Ayla", testConfig())
	guest, guestConn := newTestCoordinator(t, mem, "p2", "Bram", testConfig())
	ctx := context.Background()

	roomID, _, err := host.CreateRoom(ctx, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := guest.JoinRoom(ctx, roomID, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Connection loss, not a graceful leave: the armed hooks fire.
	hostConn.Drop()

	waitFor(t, 2*time.Second, func() bool {
		return readRoom(t, guestConn, roomID) == nil
	})
	awaitEvent(t, guest, 2*time.Second, func(e Event) bool {
		_, ok := e.(RoomClosed)
		return ok
	})
}

func TestCoordinator_GuestDropRemovesPlayer(t *testing.T) {
	mem := store.NewMemory()
	host, hostConn := newTestCoordinator(t, mem, "p1", "Ayla", testConfig())
	guest, guestConn := newTestCoordinator(t, mem, "p2", "Bram", testConfig())
	ctx := context.Background()

	roomID, _, err := host.CreateRoom(ctx, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := guest.JoinRoom(ctx, roomID, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	guestConn.Drop()

	waitFor(t, 2*time.Second, func() bool {
		room := readRoom(t, hostConn, roomID)
		if room == nil {
			return false
		}
		_, ok := room.Players["p2"]
		return !ok
	})
	if room := readRoom(t, hostConn, roomID); room == nil {
		t.Errorf("expected room to survive guest drop")
	}
}

func TestCoordinator_ListWaitingRooms(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	hostA, conn := newTestCoordinator(t, mem, "p1", "Ayla", testConfig())
	idA, _, err := hostA.CreateRoom(ctx, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	hostB, _ := newTestCoordinator(t, mem, "p2", "Bram", testConfig())
	idB, _, err := hostB.CreateRoom(ctx, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// A room past waiting must not show up in the browser.
	if err := conn.Update(ctx, store.Join("rooms", idB), map[string]any{"status": models.RoomStarting}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	browser, _ := newTestCoordinator(t, mem, "p3", "Cleo", testConfig())
	rooms, err := browser.ListWaitingRooms(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rooms) != 1 {
		t.Fatalf("expected 1 waiting room, got %d", len(rooms))
	}
	if rooms[0].RoomID != idA {
		t.Errorf("expected room %q, got %q", idA, rooms[0].RoomID)
	}
	if rooms[0].HostName != "Ayla" {
		t.Errorf("expected host name %q, got %q", "Ayla", rooms[0].HostName)
	}
	if rooms[0].Players != 1 {
		t.Errorf("expected 1 player, got %d", rooms[0].Players)
	}
}

func TestCoordinator_ToggleReadyOutsideRoomIsNoop(t *testing.T) {
	mem := store.NewMemory()
	c, _ := newTestCoordinator(t, mem, "p1", "Ayla", testConfig())
	if err := c.ToggleReady(context.Background()); err != nil {
		t.Errorf("expected silent no-op, got %v", err)
	}
}
