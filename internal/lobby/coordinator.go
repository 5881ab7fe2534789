// Package lobby implements the multiplayer race lobby: room lifecycle,
// ready-check aggregation and the host-authoritative transition from a
// waiting room into a running race session.
package lobby

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/neonrush/race-coordinator/internal/handoff"
	"github.com/neonrush/race-coordinator/internal/identity"
	"github.com/neonrush/race-coordinator/internal/models"
	"github.com/neonrush/race-coordinator/internal/presence"
	"github.com/neonrush/race-coordinator/internal/store"
)

const (
	roomsRoot      = "rooms"
	accessKeyChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	accessKeyLen   = 6
)

// Config tunes the coordinator. Zero values fall back to the defaults the
// game ships with.
type Config struct {
	CountdownSeconds int
	CountdownTick    time.Duration
	TrackID          string
	Laps             int
}

func (c Config) withDefaults() Config {
	if c.CountdownSeconds <= 0 {
		c.CountdownSeconds = 3
	}
	if c.CountdownTick <= 0 {
		c.CountdownTick = time.Second
	}
	if c.TrackID == "" {
		c.TrackID = "neon_city_1"
	}
	if c.Laps <= 0 {
		c.Laps = 3
	}
	return c
}

// Coordinator owns one player's room membership. It is constructed with
// injected store and identity dependencies so hosting processes and tests
// can run isolated instances; all cross-client coordination happens through
// the store.
type Coordinator struct {
	st       store.Store
	ident    identity.Provider
	monitor  *presence.Monitor
	migrator *Migrator
	handoff  handoff.Writer
	log      zerolog.Logger
	cfg      Config

	events chan Event

	mu          sync.Mutex
	activeRoom  string
	isHost      bool
	isStarting  bool
	startGen    int
	startCancel context.CancelFunc
	migrated    bool
	lastStatus  string
	unsubRoom   func()
}

// NewCoordinator wires a coordinator for the player resolved by ident.
func NewCoordinator(st store.Store, ident identity.Provider, monitor *presence.Monitor, migrator *Migrator, hw handoff.Writer, log zerolog.Logger, cfg Config) *Coordinator {
	return &Coordinator{
		st:       st,
		ident:    ident,
		monitor:  monitor,
		migrator: migrator,
		handoff:  hw,
		log:      log,
		cfg:      cfg.withDefaults(),
		events:   make(chan Event, 64),
	}
}

// Events returns the coordinator's lifecycle event channel.
func (c *Coordinator) Events() <-chan Event { return c.events }

func (c *Coordinator) emit(e Event) {
	select {
	case c.events <- e:
	default:
		c.log.Debug().Type("event", e).Msg("Event dropped, consumer too slow")
	}
}

func roomPath(roomID string) string {
	return store.Join(roomsRoot, roomID)
}

func playerPath(roomID, playerID string) string {
	return store.Join(roomsRoot, roomID, "players", playerID)
}

func newPlayerEntry(user *identity.User) map[string]any {
	return map[string]any{
		"id":         user.ID,
		"name":       user.DisplayName(),
		"ready":      false,
		"position":   map[string]any{"x": 0, "y": 0, "rotation": 0},
		"checkpoint": 0,
		"lastActive": store.ServerTimestamp(),
	}
}

// generateAccessKey returns a short case-insensitive alphanumeric shared
// secret for private rooms. Collisions are accepted as negligible.
func generateAccessKey() string {
	key := make([]byte, accessKeyLen)
	for i := range key {
		key[i] = accessKeyChars[rand.Intn(len(accessKeyChars))]
	}
	return string(key)
}

// CreateRoom allocates a new room with the caller as host and sole,
// not-ready player. Any room the caller currently occupies is left first.
// For private rooms the generated access key is returned alongside the id.
func (c *Coordinator) CreateRoom(ctx context.Context, isPrivate bool) (string, string, error) {
	user, err := c.ident.CurrentUser()
	if err != nil {
		return "", "", err
	}
	c.LeaveRoom(ctx)

	roomID, err := c.st.Push(ctx, roomsRoot)
	if err != nil {
		return "", "", fmt.Errorf("failed to allocate room id: %w", err)
	}

	room := map[string]any{
		"hostId":         user.ID,
		"hostName":       user.DisplayName(),
		"isPrivate":      isPrivate,
		"status":         models.RoomWaiting,
		"acceptingInput": true,
		"canBeCancelled": false,
		"players": map[string]any{
			user.ID: newPlayerEntry(user),
		},
		"createdAt": store.ServerTimestamp(),
	}
	accessKey := ""
	if isPrivate {
		accessKey = generateAccessKey()
		room["accessKey"] = accessKey
	}

	if err := c.st.Write(ctx, roomPath(roomID), room); err != nil {
		return "", "", fmt.Errorf("failed to create room: %w", err)
	}

	c.log.Info().Str("room_id", roomID).Str("host_id", user.ID).Bool("private", isPrivate).Msg("Room created")
	c.attachRoom(roomID, user, true)
	return roomID, accessKey, nil
}

// JoinRoom adds the caller to an existing waiting room. Rejoining resets the
// caller's per-room state.
func (c *Coordinator) JoinRoom(ctx context.Context, roomID, accessKey string) (string, error) {
	user, err := c.ident.CurrentUser()
	if err != nil {
		return "", err
	}
	c.LeaveRoom(ctx)

	v, err := c.st.Read(ctx, roomPath(roomID))
	if err != nil {
		return "", fmt.Errorf("failed to read room: %w", err)
	}
	if v == nil {
		return "", ErrRoomNotFound
	}
	var room models.Room
	if err := store.Decode(v, &room); err != nil {
		return "", fmt.Errorf("failed to decode room: %w", err)
	}
	if room.IsPrivate && !strings.EqualFold(room.AccessKey, accessKey) {
		return "", ErrInvalidAccessKey
	}
	if room.Status != models.RoomWaiting {
		return "", ErrRaceAlreadyStarted
	}

	update := map[string]any{user.ID: newPlayerEntry(user)}
	if err := c.st.Update(ctx, store.Join(roomPath(roomID), "players"), update); err != nil {
		return "", fmt.Errorf("failed to join room: %w", err)
	}

	c.log.Info().Str("room_id", roomID).Str("player_id", user.ID).Msg("Joined room")
	c.attachRoom(roomID, user, room.HostID == user.ID)
	return roomID, nil
}

func (c *Coordinator) attachRoom(roomID string, user *identity.User, isHost bool) {
	unsub := c.st.Subscribe(roomPath(roomID), func(v any) {
		c.onRoomSnapshot(roomID, v)
	})

	c.mu.Lock()
	c.activeRoom = roomID
	c.isHost = isHost
	c.isStarting = false
	c.migrated = false
	c.lastStatus = models.RoomWaiting
	c.unsubRoom = unsub
	c.mu.Unlock()

	c.monitor.SetScope(roomScope{
		st:         c.st,
		roomPath:   roomPath(roomID),
		playerPath: playerPath(roomID, user.ID),
		isHost:     isHost,
	})
	c.emit(RoomJoined{RoomID: roomID, IsHost: isHost})
}

// LeaveRoom removes the caller from their room: the whole room if they are
// the host, just their player entry otherwise (plus the room itself once the
// last player is gone). Every step is best-effort; leaving never fails.
func (c *Coordinator) LeaveRoom(ctx context.Context) {
	user, err := c.ident.CurrentUser()
	if err != nil {
		return
	}

	c.mu.Lock()
	roomID := c.activeRoom
	unsub := c.unsubRoom
	c.activeRoom = ""
	c.unsubRoom = nil
	c.cancelStartLocked()
	c.mu.Unlock()
	if roomID == "" {
		return
	}

	c.monitor.ClearScope()

	// Cancel pending disconnect hooks first so a later connection drop
	// cannot fire a duplicate delete.
	if err := c.st.OnDisconnect(roomPath(roomID)).Cancel(ctx); err != nil {
		c.log.Warn().Err(err).Msg("Failed to cancel room disconnect hook")
	}
	if err := c.st.OnDisconnect(playerPath(roomID, user.ID)).Cancel(ctx); err != nil {
		c.log.Warn().Err(err).Msg("Failed to cancel player disconnect hook")
	}

	v, err := c.st.Read(ctx, roomPath(roomID))
	if err != nil {
		c.log.Warn().Err(err).Str("room_id", roomID).Msg("Failed to read room while leaving")
	}
	if err == nil && v != nil {
		var room models.Room
		if err := store.Decode(v, &room); err != nil {
			c.log.Warn().Err(err).Str("room_id", roomID).Msg("Failed to decode room while leaving")
		} else if room.HostID == user.ID {
			if err := c.st.Delete(ctx, roomPath(roomID)); err != nil {
				c.log.Warn().Err(err).Str("room_id", roomID).Msg("Failed to delete room")
			}
		} else {
			if err := c.st.Delete(ctx, playerPath(roomID, user.ID)); err != nil {
				c.log.Warn().Err(err).Str("room_id", roomID).Msg("Failed to remove player")
			}
			players, err := c.st.Read(ctx, store.Join(roomPath(roomID), "players"))
			if err == nil && players == nil {
				if err := c.st.Delete(ctx, roomPath(roomID)); err != nil {
					c.log.Warn().Err(err).Str("room_id", roomID).Msg("Failed to delete empty room")
				}
			}
		}
	}

	if unsub != nil {
		unsub()
	}
	c.log.Info().Str("room_id", roomID).Str("player_id", user.ID).Msg("Left room")
	c.emit(RoomLeft{})
}

// ToggleReady flips the caller's ready flag and begins the start sequence
// when every player in the room is ready. Outside a waiting room that still
// accepts input this is a silent no-op.
func (c *Coordinator) ToggleReady(ctx context.Context) error {
	user, err := c.ident.CurrentUser()
	if err != nil {
		return err
	}
	c.mu.Lock()
	roomID := c.activeRoom
	c.mu.Unlock()
	if roomID == "" {
		return nil
	}

	v, err := c.st.Read(ctx, roomPath(roomID))
	if err != nil {
		return fmt.Errorf("failed to read room: %w", err)
	}
	if v == nil {
		return nil
	}
	var room models.Room
	if err := store.Decode(v, &room); err != nil {
		return fmt.Errorf("failed to decode room: %w", err)
	}
	if room.Status != models.RoomWaiting || !room.AcceptingInput {
		return nil
	}

	ready := room.Players[user.ID].Ready
	if err := c.st.Update(ctx, playerPath(roomID, user.ID), map[string]any{"ready": !ready}); err != nil {
		return fmt.Errorf("failed to toggle ready: %w", err)
	}

	players, err := c.readPlayers(ctx, roomID)
	if err != nil {
		return err
	}
	if models.AllReady(players) {
		c.beginStartSequence(roomID)
	}
	return nil
}

// ForceStart begins the start sequence regardless of ready state. Host only.
func (c *Coordinator) ForceStart(ctx context.Context) error {
	user, err := c.ident.CurrentUser()
	if err != nil {
		return err
	}
	c.mu.Lock()
	roomID := c.activeRoom
	c.mu.Unlock()
	if roomID == "" {
		return nil
	}

	v, err := c.st.Read(ctx, roomPath(roomID))
	if err != nil {
		return fmt.Errorf("failed to read room: %w", err)
	}
	if v == nil {
		return nil
	}
	var room models.Room
	if err := store.Decode(v, &room); err != nil {
		return fmt.Errorf("failed to decode room: %w", err)
	}
	if room.HostID != user.ID {
		return ErrNotAuthorized
	}

	c.beginStartSequence(roomID)
	return nil
}

// CancelRaceStart aborts an in-progress countdown and returns the room to
// waiting. Effective only for the host while the room is starting and still
// cancellable; otherwise a no-op.
func (c *Coordinator) CancelRaceStart(ctx context.Context) error {
	user, err := c.ident.CurrentUser()
	if err != nil {
		return err
	}
	c.mu.Lock()
	roomID := c.activeRoom
	c.mu.Unlock()
	if roomID == "" {
		return nil
	}

	v, err := c.st.Read(ctx, roomPath(roomID))
	if err != nil {
		return fmt.Errorf("failed to read room: %w", err)
	}
	if v == nil {
		return nil
	}
	var room models.Room
	if err := store.Decode(v, &room); err != nil {
		return fmt.Errorf("failed to decode room: %w", err)
	}
	if room.HostID != user.ID || room.Status != models.RoomStarting || !room.CanBeCancelled {
		return nil
	}

	err = c.st.Update(ctx, roomPath(roomID), map[string]any{
		"status":         models.RoomWaiting,
		"acceptingInput": true,
		"canBeCancelled": false,
	})
	if err != nil {
		return fmt.Errorf("failed to cancel race start: %w", err)
	}

	c.mu.Lock()
	c.cancelStartLocked()
	c.mu.Unlock()
	c.log.Info().Str("room_id", roomID).Msg("Race start cancelled")
	return nil
}

// UpdatePosition merges the caller's lobby position into their player entry,
// best-effort.
func (c *Coordinator) UpdatePosition(ctx context.Context, pos models.Vec2) {
	user, err := c.ident.CurrentUser()
	if err != nil {
		return
	}
	c.mu.Lock()
	roomID := c.activeRoom
	c.mu.Unlock()
	if roomID == "" {
		return
	}

	fields := map[string]any{"x": pos.X, "y": pos.Y, "rotation": pos.Rotation}
	if err := c.st.Update(ctx, store.Join(playerPath(roomID, user.ID), "position"), fields); err != nil {
		c.log.Warn().Err(err).Msg("Failed to update position")
	}
}

// ListWaitingRooms returns the lobby-browser view: every room still waiting
// for players, with ready counts.
func (c *Coordinator) ListWaitingRooms(ctx context.Context) ([]models.RoomSummary, error) {
	v, err := c.st.Read(ctx, roomsRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	if v == nil {
		return []models.RoomSummary{}, nil
	}
	var rooms map[string]models.Room
	if err := store.Decode(v, &rooms); err != nil {
		return nil, fmt.Errorf("failed to decode rooms: %w", err)
	}

	out := make([]models.RoomSummary, 0, len(rooms))
	for id, room := range rooms {
		if room.Status != models.RoomWaiting {
			continue
		}
		ready := 0
		for _, p := range room.Players {
			if p.Ready {
				ready++
			}
		}
		out = append(out, models.RoomSummary{
			RoomID:     id,
			HostName:   room.HostName,
			IsPrivate:  room.IsPrivate,
			ReadyCount: ready,
			Players:    len(room.Players),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out, nil
}

func (c *Coordinator) readPlayers(ctx context.Context, roomID string) (map[string]models.RoomPlayer, error) {
	v, err := c.st.Read(ctx, store.Join(roomPath(roomID), "players"))
	if err != nil {
		return nil, fmt.Errorf("failed to read players: %w", err)
	}
	if v == nil {
		return nil, nil
	}
	var players map[string]models.RoomPlayer
	if err := store.Decode(v, &players); err != nil {
		return nil, fmt.Errorf("failed to decode players: %w", err)
	}
	return players, nil
}

// beginStartSequence is idempotent per room instance: two near-simultaneous
// quorum observers both land here, the second is a no-op. Each accepted call
// mints a new generation; a sequence whose generation is superseded (by a
// cancellation or a leave) must not touch the room again.
func (c *Coordinator) beginStartSequence(roomID string) {
	c.mu.Lock()
	if c.isStarting || c.activeRoom != roomID {
		c.mu.Unlock()
		return
	}
	c.isStarting = true
	c.startGen++
	gen := c.startGen
	ctx, cancel := context.WithCancel(context.Background())
	c.startCancel = cancel
	c.mu.Unlock()

	go c.runStartSequence(ctx, cancel, roomID, gen)
}

// sequenceCurrent reports whether gen is still the live start sequence.
func (c *Coordinator) sequenceCurrent(gen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startGen == gen
}

// cancelStartLocked invalidates the running start sequence, if any. Callers
// hold c.mu.
func (c *Coordinator) cancelStartLocked() {
	c.isStarting = false
	c.startGen++
	if c.startCancel != nil {
		c.startCancel()
		c.startCancel = nil
	}
}

func (c *Coordinator) runStartSequence(ctx context.Context, cancel context.CancelFunc, roomID string, gen int) {
	defer cancel()
	budget := time.Duration(c.cfg.CountdownSeconds)*c.cfg.CountdownTick + 30*time.Second
	ctx, cancelBudget := context.WithTimeout(ctx, budget)
	defer cancelBudget()

	err := c.st.Update(ctx, roomPath(roomID), map[string]any{
		"status":         models.RoomStarting,
		"acceptingInput": false,
		"canBeCancelled": true,
	})
	if err != nil {
		c.failStart(roomID, gen, fmt.Errorf("failed to enter starting: %w", err))
		return
	}

	ticker := time.NewTicker(c.cfg.CountdownTick)
	defer ticker.Stop()

	for i := c.cfg.CountdownSeconds; i > 0; i-- {
		select {
		case <-ctx.Done():
			if !c.sequenceCurrent(gen) {
				// Superseded by a cancellation; the room is already reset.
				return
			}
			c.failStart(roomID, gen, ctx.Err())
			return
		case <-ticker.C:
		}

		v, err := c.st.Read(ctx, roomPath(roomID))
		if err != nil {
			c.failStart(roomID, gen, fmt.Errorf("failed to read room during countdown: %w", err))
			return
		}
		if v == nil {
			// Room vanished mid-countdown; nothing left to start.
			c.abortStart(gen)
			return
		}
		var room models.Room
		if err := store.Decode(v, &room); err != nil {
			c.failStart(roomID, gen, fmt.Errorf("failed to decode room during countdown: %w", err))
			return
		}
		if room.Status != models.RoomStarting {
			// A concurrent cancellation reset the room; abort with no GO.
			c.abortStart(gen)
			return
		}
	}

	v, err := c.st.Read(ctx, roomPath(roomID))
	if err != nil || v == nil {
		c.failStart(roomID, gen, fmt.Errorf("room unavailable for migration: %v", err))
		return
	}
	var room models.Room
	if err := store.Decode(v, &room); err != nil {
		c.failStart(roomID, gen, fmt.Errorf("failed to decode room for migration: %w", err))
		return
	}
	// A cancellation landing after the last tick must still win: verify the
	// room is starting and this sequence is live before migrating.
	if room.Status != models.RoomStarting || !c.sequenceCurrent(gen) {
		c.abortStart(gen)
		return
	}
	room.ID = roomID

	trackID := room.TrackID
	if trackID == "" {
		trackID = c.cfg.TrackID
	}
	laps := room.Laps
	if laps <= 0 {
		laps = c.cfg.Laps
	}

	sess, err := c.migrator.Migrate(ctx, room, trackID, laps)
	if err != nil {
		if uerr := c.st.Update(ctx, roomPath(roomID), map[string]any{
			"status":         models.RoomError,
			"canBeCancelled": false,
		}); uerr != nil {
			c.log.Warn().Err(uerr).Str("room_id", roomID).Msg("Failed to mark room as errored")
		}
		c.failStart(roomID, gen, err)
		return
	}

	c.completeMigration(roomID, sess)
}

func (c *Coordinator) failStart(roomID string, gen int, err error) {
	c.mu.Lock()
	if c.startGen != gen {
		// A superseded sequence owns no state and reports nothing.
		c.mu.Unlock()
		return
	}
	c.isStarting = false
	c.startCancel = nil
	c.mu.Unlock()
	c.log.Error().Err(err).Str("room_id", roomID).Msg("Race start failed")
	c.emit(RaceStartFailed{Reason: err.Error()})
}

func (c *Coordinator) abortStart(gen int) {
	c.mu.Lock()
	if c.startGen == gen {
		c.isStarting = false
		c.startCancel = nil
	}
	c.mu.Unlock()
}

// completeMigration detaches from the room and hands control to the race
// runtime. Reached both by the client that ran the start sequence and, via
// the room subscription, by every other client in the room; only the first
// call has any effect.
func (c *Coordinator) completeMigration(roomID string, sess *models.RaceSession) {
	user, err := c.ident.CurrentUser()
	if err != nil {
		return
	}

	c.mu.Lock()
	if c.migrated {
		c.mu.Unlock()
		return
	}
	c.migrated = true
	var unsub func()
	if c.activeRoom == roomID {
		unsub = c.unsubRoom
		c.activeRoom = ""
		c.unsubRoom = nil
	}
	c.isStarting = false
	c.startCancel = nil
	c.mu.Unlock()

	c.monitor.ClearScope()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = c.st.OnDisconnect(roomPath(roomID)).Cancel(ctx)
	_ = c.st.OnDisconnect(playerPath(roomID, user.ID)).Cancel(ctx)
	if unsub != nil {
		unsub()
	}

	rec := models.RaceHandoff{
		SessionID: sess.ID,
		PlayerID:  user.ID,
		IsHost:    sess.HostID == user.ID,
		Players:   sess.Players,
		TrackID:   sess.TrackID,
		Laps:      sess.Laps,
	}
	if err := c.handoff.Save(rec); err != nil {
		// The session record exists; the runtime can still be redirected
		// through the player's active-race pointer.
		c.log.Error().Err(err).Str("session_id", sess.ID).Msg("Failed to persist race handoff")
	}
	c.log.Info().Str("session_id", sess.ID).Str("room_id", roomID).Msg("Migrated to race session")
	c.emit(RaceReady{Handoff: rec})
}

// followMigration loads the session a transitioning room points at, for
// clients that did not run the start sequence themselves.
func (c *Coordinator) followMigration(roomID, sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	v, err := c.st.Read(ctx, store.Join(sessionsRoot, sessionID))
	if err != nil || v == nil {
		c.log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to load migrated session")
		return
	}
	var sess models.RaceSession
	if err := store.Decode(v, &sess); err != nil {
		c.log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to decode migrated session")
		return
	}
	sess.ID = sessionID
	c.completeMigration(roomID, &sess)
}

// onRoomSnapshot reacts to room changes observed through the store: it
// republishes snapshots for the UI, detects start/cancel transitions, and
// follows a migration initiated by another client.
func (c *Coordinator) onRoomSnapshot(roomID string, v any) {
	c.mu.Lock()
	if c.activeRoom != roomID {
		c.mu.Unlock()
		return
	}
	if v == nil {
		// A transitioning room disappearing is the scheduled teardown after
		// migration, not the host leaving; followMigration handles detach.
		if c.migrated || c.lastStatus == models.RoomTransitioning {
			c.mu.Unlock()
			return
		}
		unsub := c.unsubRoom
		c.activeRoom = ""
		c.unsubRoom = nil
		c.cancelStartLocked()
		c.mu.Unlock()

		c.monitor.ClearScope()
		if unsub != nil {
			unsub()
		}
		c.emit(RoomClosed{RoomID: roomID})
		return
	}
	c.mu.Unlock()

	var room models.Room
	if err := store.Decode(v, &room); err != nil {
		c.log.Warn().Err(err).Str("room_id", roomID).Msg("Failed to decode room snapshot")
		return
	}
	room.ID = roomID

	c.mu.Lock()
	last := c.lastStatus
	c.lastStatus = room.Status
	c.mu.Unlock()

	c.emit(RoomUpdated{Room: room})

	switch {
	case room.Status == models.RoomStarting && last != models.RoomStarting:
		c.emit(RaceStarting{Countdown: c.cfg.CountdownSeconds})
	case room.Status == models.RoomWaiting && last == models.RoomStarting:
		c.emit(RaceCancelled{})
	case room.Status == models.RoomTransitioning && room.SessionID != "":
		go c.followMigration(roomID, room.SessionID)
	}
}

// roomScope arms the disconnect hooks for a joined room: remove the
// caller's player entry, and for hosts the entire room.
type roomScope struct {
	st         store.Store
	roomPath   string
	playerPath string
	isHost     bool
}

func (s roomScope) Arm(ctx context.Context) error {
	if err := s.st.OnDisconnect(s.playerPath).Remove(ctx); err != nil {
		return fmt.Errorf("failed to arm player hook: %w", err)
	}
	if s.isHost {
		if err := s.st.OnDisconnect(s.roomPath).Remove(ctx); err != nil {
			return fmt.Errorf("failed to arm room hook: %w", err)
		}
	}
	return nil
}
