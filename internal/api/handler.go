package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/neonrush/race-coordinator/internal/identity"
	"github.com/neonrush/race-coordinator/internal/lobby"
	"github.com/neonrush/race-coordinator/internal/models"
	"github.com/neonrush/race-coordinator/internal/session"
)

// Handler holds all HTTP handlers
type Handler struct {
	registry *Registry
	logger   zerolog.Logger
}

// NewHandler creates a new handler
func NewHandler(registry *Registry, logger zerolog.Logger) *Handler {
	return &Handler{
		registry: registry,
		logger:   logger,
	}
}

// Routes sets up all routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	// Health check
	r.Get("/health", h.Health)

	r.Group(func(r chi.Router) {
		r.Use(PlayerMiddleware)

		r.Get("/rooms", h.ListRooms)
		r.Post("/rooms", h.CreateRoom)
		r.Post("/rooms/{roomID}/join", h.JoinRoom)

		r.Route("/room", func(r chi.Router) {
			r.Post("/leave", h.LeaveRoom)
			r.Post("/ready", h.ToggleReady)
			r.Post("/position", h.UpdatePosition)
			r.Post("/force-start", h.ForceStart)
			r.Post("/cancel", h.CancelStart)
		})

		r.Get("/events", h.Events)

		r.Post("/sessions/{sessionID}/join", h.JoinSession)
		r.Route("/session", func(r chi.Router) {
			r.Post("/state", h.UpdateState)
			r.Post("/leave", h.LeaveSession)
		})
	})

	return r
}

// client resolves the Client for the authenticated caller.
func (h *Handler) client(w http.ResponseWriter, r *http.Request) (*Client, bool) {
	p, ok := GetPlayer(r.Context())
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "not authenticated", "")
		return nil, false
	}
	c, err := h.registry.Get(p.ID, p.Name)
	if err != nil {
		h.logger.Error().Err(err).Str("player_id", p.ID).Msg("Failed to create client")
		h.respondError(w, http.StatusInternalServerError, "failed to connect", err.Error())
		return nil, false
	}
	return c, true
}

// Health handles health check requests
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListRooms returns every room still waiting for players.
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	c, ok := h.client(w, r)
	if !ok {
		return
	}
	rooms, err := c.Lobby.ListWaitingRooms(r.Context())
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to list rooms", err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, rooms)
}

// CreateRoom handles room creation requests
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req models.CreateRoomRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
			return
		}
	}

	c, ok := h.client(w, r)
	if !ok {
		return
	}
	roomID, accessKey, err := c.Lobby.CreateRoom(r.Context(), req.Private)
	if err != nil {
		h.respondLobbyError(w, r, "failed to create room", err)
		return
	}

	h.respondJSON(w, http.StatusCreated, models.CreateRoomResponse{
		RoomID:    roomID,
		AccessKey: accessKey,
	})
}

// JoinRoom handles room join requests
func (h *Handler) JoinRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	var req models.JoinRoomRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
			return
		}
	}

	c, ok := h.client(w, r)
	if !ok {
		return
	}
	joined, err := c.Lobby.JoinRoom(r.Context(), roomID, req.AccessKey)
	if err != nil {
		h.respondLobbyError(w, r, "failed to join room", err)
		return
	}
	h.respondJSON(w, http.StatusOK, models.JoinRoomResponse{RoomID: joined})
}

// LeaveRoom handles room leave requests
func (h *Handler) LeaveRoom(w http.ResponseWriter, r *http.Request) {
	c, ok := h.client(w, r)
	if !ok {
		return
	}
	c.Lobby.LeaveRoom(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// ToggleReady flips the caller's ready flag in their current room.
func (h *Handler) ToggleReady(w http.ResponseWriter, r *http.Request) {
	c, ok := h.client(w, r)
	if !ok {
		return
	}
	if err := c.Lobby.ToggleReady(r.Context()); err != nil {
		h.respondLobbyError(w, r, "failed to toggle ready", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdatePosition relays the caller's lobby position.
func (h *Handler) UpdatePosition(w http.ResponseWriter, r *http.Request) {
	var pos models.Vec2
	if err := json.NewDecoder(r.Body).Decode(&pos); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	c, ok := h.client(w, r)
	if !ok {
		return
	}
	c.Lobby.UpdatePosition(r.Context(), pos)
	w.WriteHeader(http.StatusNoContent)
}

// ForceStart handles the host's manual start request
func (h *Handler) ForceStart(w http.ResponseWriter, r *http.Request) {
	c, ok := h.client(w, r)
	if !ok {
		return
	}
	if err := c.Lobby.ForceStart(r.Context()); err != nil {
		h.respondLobbyError(w, r, "failed to start race", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CancelStart handles the host's countdown cancellation request
func (h *Handler) CancelStart(w http.ResponseWriter, r *http.Request) {
	c, ok := h.client(w, r)
	if !ok {
		return
	}
	if err := c.Lobby.CancelRaceStart(r.Context()); err != nil {
		h.respondLobbyError(w, r, "failed to cancel race start", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Events streams the caller's coordinator events as server-sent events.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	c, ok := h.client(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.respondError(w, http.StatusInternalServerError, "streaming unsupported", "")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-c.Lobby.Events():
			if err := writeEvent(w, e); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// JoinSession handles race session join requests
func (h *Handler) JoinSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	c, ok := h.client(w, r)
	if !ok {
		return
	}
	sess, err := c.Session.JoinSession(r.Context(), sessionID)
	if err != nil {
		h.respondLobbyError(w, r, "failed to join session", err)
		return
	}
	h.respondJSON(w, http.StatusOK, sess)
}

// UpdateState handles in-race player state updates
func (h *Handler) UpdateState(w http.ResponseWriter, r *http.Request) {
	var state models.PlayerState
	if err := json.NewDecoder(r.Body).Decode(&state); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	c, ok := h.client(w, r)
	if !ok {
		return
	}
	if err := c.Session.UpdatePlayerState(r.Context(), state); err != nil {
		h.respondLobbyError(w, r, "failed to update state", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LeaveSession handles race session leave requests
func (h *Handler) LeaveSession(w http.ResponseWriter, r *http.Request) {
	c, ok := h.client(w, r)
	if !ok {
		return
	}
	c.Session.LeaveSession(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// writeEvent encodes one coordinator event as an SSE frame.
func writeEvent(w http.ResponseWriter, e lobby.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = w.Write([]byte("event: " + eventName(e) + "\ndata: " + string(data) + "\n\n"))
	return err
}

func eventName(e lobby.Event) string {
	switch e.(type) {
	case lobby.RoomJoined:
		return "roomJoined"
	case lobby.RoomLeft:
		return "roomLeft"
	case lobby.RoomUpdated:
		return "roomUpdated"
	case lobby.RoomClosed:
		return "roomClosed"
	case lobby.RaceStarting:
		return "raceStarting"
	case lobby.RaceCancelled:
		return "raceCancelled"
	case lobby.RaceStartFailed:
		return "raceStartFailed"
	case lobby.RaceReady:
		return "raceReady"
	default:
		return "unknown"
	}
}

// respondLobbyError maps domain errors onto HTTP status codes.
func (h *Handler) respondLobbyError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error().Err(err).Str("request_id", GetRequestID(r.Context())).Msg(msg)

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, identity.ErrNotAuthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, lobby.ErrRoomNotFound), errors.Is(err, session.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, lobby.ErrInvalidAccessKey),
		errors.Is(err, lobby.ErrNotAuthorized),
		errors.Is(err, session.ErrNotAuthorized):
		status = http.StatusForbidden
	case errors.Is(err, lobby.ErrRaceAlreadyStarted):
		status = http.StatusConflict
	}
	h.respondError(w, status, msg, err.Error())
}

// respondJSON sends a JSON response
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func (h *Handler) respondError(w http.ResponseWriter, status int, errorMsg, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.ErrorResponse{
		Error:   errorMsg,
		Message: message,
	})
}
