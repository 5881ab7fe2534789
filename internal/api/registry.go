package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/neonrush/race-coordinator/internal/archive"
	"github.com/neonrush/race-coordinator/internal/garage"
	"github.com/neonrush/race-coordinator/internal/handoff"
	"github.com/neonrush/race-coordinator/internal/identity"
	"github.com/neonrush/race-coordinator/internal/lobby"
	"github.com/neonrush/race-coordinator/internal/presence"
	"github.com/neonrush/race-coordinator/internal/session"
	"github.com/neonrush/race-coordinator/internal/store"
)

// StoreFactory opens a store connection for one player. The returned func
// closes the connection; a nil func is allowed.
type StoreFactory func(playerID string) (store.Store, func(), error)

// Client bundles everything the server keeps per connected player: their
// store connection, lobby coordinator and session manager.
type Client struct {
	Lobby   *lobby.Coordinator
	Session *session.Manager

	monitor *presence.Monitor
	close   func()
}

// Close leaves any room and session and tears down the player's connection.
func (c *Client) Close(ctx context.Context) {
	c.Lobby.LeaveRoom(ctx)
	c.Session.LeaveSession(ctx)
	c.monitor.Close()
	if c.close != nil {
		c.close()
	}
}

// Registry tracks one Client per player id, creating them on first use.
type Registry struct {
	factory  StoreFactory
	archiver archive.Archiver
	cfg      lobby.Config
	teardown time.Duration
	handoffs string
	log      zerolog.Logger

	mu      sync.Mutex
	clients map[string]*Client
}

// NewRegistry creates a registry. handoffDir may be empty to discard
// handoff records.
func NewRegistry(factory StoreFactory, archiver archive.Archiver, cfg lobby.Config, teardown time.Duration, handoffDir string, log zerolog.Logger) *Registry {
	return &Registry{
		factory:  factory,
		archiver: archiver,
		cfg:      cfg,
		teardown: teardown,
		handoffs: handoffDir,
		log:      log,
		clients:  make(map[string]*Client),
	}
}

// Get returns the player's Client, creating it if this is the first request
// from them.
func (r *Registry) Get(playerID, playerName string) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[playerID]; ok {
		return c, nil
	}

	st, closeFn, err := r.factory(playerID)
	if err != nil {
		return nil, fmt.Errorf("failed to open store connection: %w", err)
	}

	log := r.log.With().Str("player_id", playerID).Logger()
	ident := identity.Static{User: &identity.User{ID: playerID, Name: playerName}}
	monitor := presence.NewMonitor(st, log)
	migrator := lobby.NewMigrator(st, log, r.teardown)

	var hw handoff.Writer = handoff.Discard{}
	if r.handoffs != "" {
		hw = handoff.FileWriter{Dir: r.handoffs}
	}

	c := &Client{
		Lobby:   lobby.NewCoordinator(st, ident, monitor, migrator, hw, log, r.cfg),
		Session: session.NewManager(st, ident, monitor, garage.StoreGarage{Store: st}, r.archiver, log),
		monitor: monitor,
		close:   closeFn,
	}
	r.clients[playerID] = c
	return c, nil
}

// Remove closes and forgets the player's Client if present.
func (r *Registry) Remove(ctx context.Context, playerID string) {
	r.mu.Lock()
	c, ok := r.clients[playerID]
	delete(r.clients, playerID)
	r.mu.Unlock()
	if ok {
		c.Close(ctx)
	}
}

// CloseAll tears down every tracked client, used at server shutdown.
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	clients := r.clients
	r.clients = make(map[string]*Client)
	r.mu.Unlock()
	for _, c := range clients {
		c.Close(ctx)
	}
}
