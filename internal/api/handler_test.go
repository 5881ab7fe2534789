package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/neonrush/race-coordinator/internal/archive"
	"github.com/neonrush/race-coordinator/internal/lobby"
	"github.com/neonrush/race-coordinator/internal/models"
	"github.com/neonrush/race-coordinator/internal/store"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	mem := store.NewMemory()
	factory := func(playerID string) (store.Store, func(), error) {
		conn := mem.Connect()
		return conn, conn.Drop, nil
	}
	cfg := lobby.Config{CountdownSeconds: 1, CountdownTick: 10 * time.Millisecond}
	registry := NewRegistry(factory, archive.NewMemory(), cfg, 50*time.Millisecond, "", zerolog.Nop())
	return NewHandler(registry, zerolog.Nop())
}

func doRequest(t *testing.T, h *Handler, method, path, playerID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if playerID != "" {
		req.Header.Set("X-Player-ID", playerID)
		req.Header.Set("X-Player-Name", "Racer "+playerID)
	}
	rr := httptest.NewRecorder()
	h.Routes().ServeHTTP(rr, req)
	return rr
}

func TestHandler_Health(t *testing.T) {
	h := newTestHandler(t)
	rr := doRequest(t, h, http.MethodGet, "/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
}

func TestHandler_RequiresPlayer(t *testing.T) {
	h := newTestHandler(t)
	rr := doRequest(t, h, http.MethodPost, "/rooms", "", models.CreateRoomRequest{})
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected status %d, got %d", http.StatusUnauthorized, rr.Code)
	}
}

func TestHandler_CreateAndJoinRoom(t *testing.T) {
	h := newTestHandler(t)

	rr := doRequest(t, h, http.MethodPost, "/rooms", "p1", models.CreateRoomRequest{Private: true})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, rr.Code, rr.Body.String())
	}
	var created models.CreateRoomResponse
	if err := json.NewDecoder(rr.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if created.RoomID == "" {
		t.Fatalf("expected room id in response")
	}
	if len(created.AccessKey) != 6 {
		t.Errorf("expected access key for private room, got %q", created.AccessKey)
	}

	tests := []struct {
		name           string
		roomID         string
		accessKey      string
		expectedStatus int
	}{
		{
			name:           "correct key",
			roomID:         created.RoomID,
			accessKey:      created.AccessKey,
			expectedStatus: http.StatusOK,
		},
		{
			name:           "wrong key",
			roomID:         created.RoomID,
			accessKey:      "WRONG1",
			expectedStatus: http.StatusForbidden,
		},
		{
			name:           "unknown room",
			roomID:         "nope",
			accessKey:      "",
			expectedStatus: http.StatusNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doRequest(t, h, http.MethodPost, "/rooms/"+tt.roomID+"/join", "p2",
				models.JoinRoomRequest{AccessKey: tt.accessKey})
			if rr.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d: %s", tt.expectedStatus, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestHandler_ListRooms(t *testing.T) {
	h := newTestHandler(t)

	if rr := doRequest(t, h, http.MethodPost, "/rooms", "p1", nil); rr.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d", http.StatusCreated, rr.Code)
	}

	rr := doRequest(t, h, http.MethodGet, "/rooms", "p2", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	var rooms []models.RoomSummary
	if err := json.NewDecoder(rr.Body).Decode(&rooms); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(rooms) != 1 {
		t.Fatalf("expected 1 room, got %d", len(rooms))
	}
	if rooms[0].HostName != "Racer p1" {
		t.Errorf("expected host name %q, got %q", "Racer p1", rooms[0].HostName)
	}
}

func TestHandler_ForceStart_NonHost(t *testing.T) {
	h := newTestHandler(t)

	rr := doRequest(t, h, http.MethodPost, "/rooms", "p1", nil)
	var created models.CreateRoomResponse
	if err := json.NewDecoder(rr.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if rr := doRequest(t, h, http.MethodPost, "/rooms/"+created.RoomID+"/join", "p2", nil); rr.Code != http.StatusOK {
		t.Fatalf("expected join to succeed, got %d", rr.Code)
	}

	if rr := doRequest(t, h, http.MethodPost, "/room/force-start", "p2", nil); rr.Code != http.StatusForbidden {
		t.Errorf("expected status %d, got %d", http.StatusForbidden, rr.Code)
	}
	if rr := doRequest(t, h, http.MethodPost, "/room/force-start", "p1", nil); rr.Code != http.StatusNoContent {
		t.Errorf("expected status %d, got %d", http.StatusNoContent, rr.Code)
	}
}

func TestHandler_LeaveRoom(t *testing.T) {
	h := newTestHandler(t)

	if rr := doRequest(t, h, http.MethodPost, "/rooms", "p1", nil); rr.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d", http.StatusCreated, rr.Code)
	}
	if rr := doRequest(t, h, http.MethodPost, "/room/leave", "p1", nil); rr.Code != http.StatusNoContent {
		t.Errorf("expected status %d, got %d", http.StatusNoContent, rr.Code)
	}

	rr := doRequest(t, h, http.MethodGet, "/rooms", "p1", nil)
	var rooms []models.RoomSummary
	if err := json.NewDecoder(rr.Body).Decode(&rooms); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(rooms) != 0 {
		t.Errorf("expected no rooms after host left, got %d", len(rooms))
	}
}

func TestHandler_SessionJoinUnknown(t *testing.T) {
	h := newTestHandler(t)
	rr := doRequest(t, h, http.MethodPost, "/sessions/nope/join", "p1", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d: %s", http.StatusNotFound, rr.Code, rr.Body.String())
	}
}

func TestHandler_SessionStateWithoutSession(t *testing.T) {
	h := newTestHandler(t)
	rr := doRequest(t, h, http.MethodPost, "/session/state", "p1", models.PlayerState{})
	if rr.Code != http.StatusNoContent {
		t.Errorf("expected silent no-op, got %d: %s", rr.Code, rr.Body.String())
	}
}
