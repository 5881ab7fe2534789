// Package presence watches the store's connectivity signal and keeps
// disconnect hooks armed for whatever room or session the client currently
// occupies.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/neonrush/race-coordinator/internal/store"
)

// Scope is the set of disconnect hooks that must be registered for the
// client's current occupancy. Arm is invoked on every transition to
// connected: hook registrations are connection-scoped and do not survive a
// reconnect, so failing to re-arm would leave stale entries behind after a
// transient network blip.
type Scope interface {
	Arm(ctx context.Context) error
}

// Monitor re-arms the active scope whenever connectivity is established.
// Arm failures are logged and left for the next connectivity transition; no
// retry loop is needed.
type Monitor struct {
	log     zerolog.Logger
	timeout time.Duration

	mu    sync.Mutex
	scope Scope

	cancel func()
}

// NewMonitor subscribes to the store's connectivity signal and returns a
// monitor with no active scope.
func NewMonitor(st store.Store, log zerolog.Logger) *Monitor {
	m := &Monitor{
		log:     log,
		timeout: 5 * time.Second,
	}
	m.cancel = st.SubscribeConnectivity(m.onConnectivity)
	return m
}

func (m *Monitor) onConnectivity(connected bool) {
	if !connected {
		return
	}
	m.arm()
}

func (m *Monitor) arm() {
	m.mu.Lock()
	scope := m.scope
	m.mu.Unlock()
	if scope == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	if err := scope.Arm(ctx); err != nil {
		m.log.Warn().Err(err).Msg("Failed to arm disconnect hooks")
	}
}

// SetScope replaces the active scope and arms it immediately, best-effort.
func (m *Monitor) SetScope(scope Scope) {
	m.mu.Lock()
	m.scope = scope
	m.mu.Unlock()
	m.arm()
}

// ClearScope detaches the active scope. Pending hook registrations are the
// caller's to cancel.
func (m *Monitor) ClearScope() {
	m.mu.Lock()
	m.scope = nil
	m.mu.Unlock()
}

// Close stops watching connectivity.
func (m *Monitor) Close() {
	if m.cancel != nil {
		m.cancel()
	}
}
