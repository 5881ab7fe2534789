package models

// Room status values. Transitions are monotone along
// waiting -> starting -> transitioning, except that a cancellation moves
// starting back to waiting exactly once.
const (
	RoomWaiting       = "waiting"
	RoomStarting      = "starting"
	RoomTransitioning = "transitioning"
	RoomError         = "error"
)

// Session status values.
const (
	SessionInitializing = "initializing"
	SessionRunning      = "running"
	SessionFinished     = "finished"
	SessionError        = "error"
)

// Vec2 is a 2D position with heading, as replicated through the store.
type Vec2 struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Rotation float64 `json:"rotation,omitempty"`
}

// Velocity is a 2D velocity vector.
type Velocity struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PlayerInput carries the raw control inputs a player reports each frame.
type PlayerInput struct {
	Throttle float64 `json:"throttle"`
	Brake    float64 `json:"brake"`
	Steering float64 `json:"steering"`
}

// RoomPlayer is a participant inside a lobby room. Only the owning player
// writes these fields.
type RoomPlayer struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Ready      bool   `json:"ready"`
	Position   Vec2   `json:"position"`
	Checkpoint int    `json:"checkpoint"`
	LastActive int64  `json:"lastActive"`
}

// Room is a pre-race lobby. The host's player entry exists for the room's
// whole life; the host leaving deletes the room.
type Room struct {
	ID             string                `json:"id,omitempty"`
	HostID         string                `json:"hostId"`
	HostName       string                `json:"hostName"`
	IsPrivate      bool                  `json:"isPrivate"`
	AccessKey      string                `json:"accessKey,omitempty"`
	Status         string                `json:"status"`
	AcceptingInput bool                  `json:"acceptingInput"`
	CanBeCancelled bool                  `json:"canBeCancelled"`
	TrackID        string                `json:"trackId,omitempty"`
	Laps           int                   `json:"laps,omitempty"`
	SessionID      string                `json:"sessionId,omitempty"`
	Players        map[string]RoomPlayer `json:"players"`
	CreatedAt      int64                 `json:"createdAt"`
}

// AllReady reports the ready-quorum predicate over a player map: at least
// one player, and every player marked ready.
func AllReady(players map[string]RoomPlayer) bool {
	if len(players) == 0 {
		return false
	}
	for _, p := range players {
		if !p.Ready {
			return false
		}
	}
	return true
}

// AllReady reports whether every player currently in the room is ready.
func (r *Room) AllReady() bool {
	return AllReady(r.Players)
}

// SessionPlayer is per-player state inside a race session. It is never
// deleted individually; session history stays intact until whole-session
// teardown.
type SessionPlayer struct {
	ID           string      `json:"uid"`
	Name         string      `json:"name,omitempty"`
	CarID        string      `json:"carId,omitempty"`
	Position     Vec2        `json:"position"`
	Velocity     Velocity    `json:"velocity"`
	Acceleration float64     `json:"acceleration"`
	Input        PlayerInput `json:"input"`
	Connected    bool        `json:"connected"`
	Ready        bool        `json:"ready"`
	Checkpoint   int         `json:"checkpoint"`
	Finished     bool        `json:"finished"`
	LastUpdate   int64       `json:"lastUpdate,omitempty"`
}

// RaceSession is the durable record of a started race. Its player map is a
// snapshot copied from the room at migration time, never a live reference.
type RaceSession struct {
	ID             string                   `json:"id"`
	OriginalRoomID string                   `json:"originalRoomId,omitempty"`
	Status         string                   `json:"status"`
	TrackID        string                   `json:"trackId"`
	Laps           int                      `json:"laps"`
	HostID         string                   `json:"hostId"`
	StartTime      int64                    `json:"startTime,omitempty"`
	FinishTime     int64                    `json:"finishTime,omitempty"`
	Players        map[string]SessionPlayer `json:"players"`
}

// ConnectedCount returns how many session players are currently connected.
func (s *RaceSession) ConnectedCount() int {
	n := 0
	for _, p := range s.Players {
		if p.Connected {
			n++
		}
	}
	return n
}

// PlayerState is the movement/input payload a player reports during a race.
// No physical plausibility checks happen at this layer.
type PlayerState struct {
	Position     Vec2        `json:"position"`
	Velocity     Velocity    `json:"velocity"`
	Acceleration float64     `json:"acceleration"`
	Input        PlayerInput `json:"input"`
	Checkpoint   int         `json:"checkpoint"`
	Finished     bool        `json:"finished"`
}

// RaceHandoff is the local record persisted after a successful migration for
// the race runtime to read. It is the only state-carrying artifact the
// coordinator produces outside the store.
type RaceHandoff struct {
	SessionID string                   `json:"sessionId"`
	PlayerID  string                   `json:"playerId"`
	IsHost    bool                     `json:"isHost"`
	Players   map[string]SessionPlayer `json:"players"`
	TrackID   string                   `json:"track"`
	Laps      int                      `json:"laps"`
}

// RoomSummary is the lobby-browser view of a waiting room.
type RoomSummary struct {
	RoomID     string `json:"roomId"`
	HostName   string `json:"hostName"`
	IsPrivate  bool   `json:"isPrivate"`
	ReadyCount int    `json:"readyCount"`
	Players    int    `json:"players"`
}

// CreateRoomRequest is the payload for room creation.
type CreateRoomRequest struct {
	Private bool `json:"private"`
}

// CreateRoomResponse is returned on successful room creation.
type CreateRoomResponse struct {
	RoomID    string `json:"roomId"`
	AccessKey string `json:"accessKey,omitempty"`
}

// JoinRoomRequest is the payload for joining a room.
type JoinRoomRequest struct {
	AccessKey string `json:"accessKey,omitempty"`
}

// JoinRoomResponse is returned on successful join.
type JoinRoomResponse struct {
	RoomID string `json:"roomId"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
