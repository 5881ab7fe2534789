package lobby

import "errors"

// Errors surfaced by entry-point operations. Cleanup paths never propagate
// errors; they log and continue.
var (
	ErrRoomNotFound          = errors.New("room not found")
	ErrInvalidAccessKey      = errors.New("invalid access key")
	ErrRaceAlreadyStarted    = errors.New("race has already started")
	ErrNotAuthorized         = errors.New("only the host can do that")
	ErrSessionCreationFailed = errors.New("failed to create race session")
)
