package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Store is a path-addressed key-value tree with change subscriptions and
// server-side disconnect hooks. This abstraction allows swapping
// implementations (in-memory, Redis, a hosted realtime backend) without
// changing the rest of the codebase.
//
// Values are plain JSON types: map[string]any, []any, string, float64, bool.
// Read returns nil without error when nothing exists at the path.
type Store interface {
	// Read returns a snapshot of the value at path, or nil if absent.
	Read(ctx context.Context, path string) (any, error)

	// Write fully replaces the value at path.
	Write(ctx context.Context, path string, value any) error

	// Update merges fields into the value at path. The merge is shallow:
	// only top-level keys of fields are replaced.
	Update(ctx context.Context, path string, fields map[string]any) error

	// Delete removes the value at path and everything below it.
	Delete(ctx context.Context, path string) error

	// Push allocates a new unique child key under path without writing.
	Push(ctx context.Context, path string) (string, error)

	// Subscribe registers fn to receive a full-value snapshot of path
	// whenever any writer changes it. fn also fires once with the current
	// value. The returned func cancels the subscription.
	Subscribe(path string, fn func(value any)) (cancel func())

	// SubscribeConnectivity registers fn on the store's own connectivity
	// signal. fn fires immediately with the current state and on every
	// transition afterwards.
	SubscribeConnectivity(fn func(connected bool)) (cancel func())

	// OnDisconnect returns a handle for registering a server-side mutation
	// at path, executed if this client's connection drops without an
	// explicit disconnect.
	OnDisconnect(path string) DisconnectRef
}

// DisconnectRef registers or cancels a pending disconnect mutation for one
// path. Registrations are connection-scoped: they do not survive a reconnect
// and must be re-armed (see presence.Monitor).
type DisconnectRef interface {
	// Set arranges for value to be written at the path on ungraceful
	// disconnect.
	Set(ctx context.Context, value any) error

	// Remove arranges for the path to be deleted on ungraceful disconnect.
	Remove(ctx context.Context) error

	// Cancel drops any pending mutation registered for the path.
	Cancel(ctx context.Context) error
}

// serverTimestamp is the reserved sentinel resolved to wall-clock millis by
// the store at write time.
type serverTimestamp struct{}

// ServerTimestamp returns the server-timestamp sentinel, usable as a field
// value in Write and Update payloads.
func ServerTimestamp() any {
	return serverTimestamp{}
}

// resolveTimestamps deep-replaces the server-timestamp sentinel with now
// (unix millis). Sentinels only occur inside map and slice payloads.
func resolveTimestamps(v any, now int64) any {
	switch t := v.(type) {
	case serverTimestamp:
		return now
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = resolveTimestamps(e, now)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = resolveTimestamps(e, now)
		}
		return out
	default:
		return v
	}
}

// normalize resolves timestamp sentinels and canonicalizes value into plain
// JSON types so snapshots are implementation-independent.
func normalize(value any, now int64) (any, error) {
	value = resolveTimestamps(value, now)
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to canonicalize value: %w", err)
	}
	return out, nil
}

// Decode maps a snapshot value onto target, which must be a pointer.
func Decode(value any, target any) error {
	if value == nil {
		return fmt.Errorf("cannot decode nil value")
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return nil
}

// Join builds a path from segments, skipping empties.
func Join(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		s = strings.Trim(s, "/")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "/")
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// pathsIntersect reports whether a change at one path is visible from a
// subscription at the other: either is an ancestor of the other, or they are
// equal.
func pathsIntersect(a, b string) bool {
	if a == b {
		return true
	}
	return strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}
