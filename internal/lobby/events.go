package lobby

import "github.com/neonrush/race-coordinator/internal/models"

// Event is a lifecycle notification the coordinator emits toward its UI
// adapter. Consumers drain Events(); slow consumers lose events rather than
// block the coordinator.
type Event interface{ isEvent() }

// RoomJoined fires after the caller creates or joins a room.
type RoomJoined struct {
	RoomID string
	IsHost bool
}

// RoomLeft fires after the caller leaves their room.
type RoomLeft struct{}

// RoomUpdated carries a full room snapshot whenever any writer changes it.
type RoomUpdated struct {
	Room models.Room
}

// RoomClosed fires when the joined room disappears from the store without
// the caller leaving: the host left, or the host's disconnect hook fired.
type RoomClosed struct {
	RoomID string
}

// RaceStarting fires when the room enters the start sequence.
type RaceStarting struct {
	Countdown int
}

// RaceCancelled fires when a start sequence is cancelled and the room
// returns to waiting.
type RaceCancelled struct{}

// RaceStartFailed fires when the start sequence fails after entering
// starting; the room is not left stuck.
type RaceStartFailed struct {
	Reason string
}

// RaceReady fires once migration completed and the local handoff record is
// available; control passes to the race runtime.
type RaceReady struct {
	Handoff models.RaceHandoff
}

func (RoomJoined) isEvent()      {}
func (RoomLeft) isEvent()        {}
func (RoomUpdated) isEvent()     {}
func (RoomClosed) isEvent()      {}
func (RaceStarting) isEvent()    {}
func (RaceCancelled) isEvent()   {}
func (RaceStartFailed) isEvent() {}
func (RaceReady) isEvent()       {}
