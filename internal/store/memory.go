package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory holds a watched tree in process memory. It backs tests and
// single-node runs, and stands in for the hosted realtime backend.
//
// Multiple clients share one tree through Connect; each connection carries
// its own disconnect hooks and connectivity signal so ungraceful disconnects
// can be simulated per client.
type Memory struct {
	mu     sync.Mutex
	root   map[string]any
	subs   map[int]*memorySub
	nextID int
}

type memorySub struct {
	path  string
	fn    func(any)
	queue chan any
	done  chan struct{}
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		root: make(map[string]any),
		subs: make(map[int]*memorySub),
	}
}

// Connect returns a new client connection over the shared tree. The
// connection starts connected.
func (m *Memory) Connect() *Conn {
	return &Conn{
		mem:       m,
		connected: true,
		hooks:     make(map[string]memoryHook),
		connSubs:  make(map[int]func(bool)),
	}
}

func (m *Memory) read(path string) any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return deepCopy(valueAt(m.root, splitPath(path)))
}

func (m *Memory) write(path string, value any) error {
	norm, err := normalize(value, time.Now().UnixMilli())
	if err != nil {
		return err
	}
	m.mu.Lock()
	setAt(m.root, splitPath(path), norm)
	m.notifyLocked(path)
	m.mu.Unlock()
	return nil
}

func (m *Memory) update(path string, fields map[string]any) error {
	now := time.Now().UnixMilli()
	m.mu.Lock()
	defer m.mu.Unlock()

	node, ok := valueAt(m.root, splitPath(path)).(map[string]any)
	if !ok {
		node = make(map[string]any)
	} else {
		node = deepCopy(node).(map[string]any)
	}
	for k, v := range fields {
		if v == nil {
			delete(node, k)
			continue
		}
		norm, err := normalize(v, now)
		if err != nil {
			return err
		}
		node[k] = norm
	}
	if len(node) == 0 {
		deleteAt(m.root, splitPath(path))
	} else {
		setAt(m.root, splitPath(path), node)
	}
	m.notifyLocked(path)
	return nil
}

func (m *Memory) delete(path string) {
	m.mu.Lock()
	deleteAt(m.root, splitPath(path))
	m.notifyLocked(path)
	m.mu.Unlock()
}

func (m *Memory) subscribe(path string, fn func(any)) func() {
	sub := &memorySub{
		path:  path,
		fn:    fn,
		queue: make(chan any, 64),
		done:  make(chan struct{}),
	}
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.subs[id] = sub
	sub.enqueue(deepCopy(valueAt(m.root, splitPath(path))))
	m.mu.Unlock()

	go sub.loop()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
			close(sub.done)
		})
	}
}

// notifyLocked fans a change at path out to every subscription whose path
// can observe it. Snapshots are taken under the lock; delivery is
// asynchronous and ordered per subscription.
func (m *Memory) notifyLocked(path string) {
	for _, sub := range m.subs {
		if !pathsIntersect(path, sub.path) {
			continue
		}
		sub.enqueue(deepCopy(valueAt(m.root, splitPath(sub.path))))
	}
}

func (s *memorySub) enqueue(snapshot any) {
	for {
		select {
		case s.queue <- snapshot:
			return
		default:
			// Queue full: evict the oldest snapshot, the latest wins.
			select {
			case <-s.queue:
			default:
			}
		}
	}
}

func (s *memorySub) loop() {
	for {
		select {
		case <-s.done:
			return
		case v := <-s.queue:
			s.fn(v)
		}
	}
}

type memoryHook struct {
	remove bool
	value  any
}

// Conn is one client's connection to a Memory store. It implements Store.
type Conn struct {
	mem       *Memory
	mu        sync.Mutex
	connected bool
	hooks     map[string]memoryHook
	connSubs  map[int]func(bool)
	nextSub   int
}

func (c *Conn) Read(ctx context.Context, path string) (any, error) {
	return c.mem.read(path), nil
}

func (c *Conn) Write(ctx context.Context, path string, value any) error {
	return c.mem.write(path, value)
}

func (c *Conn) Update(ctx context.Context, path string, fields map[string]any) error {
	return c.mem.update(path, fields)
}

func (c *Conn) Delete(ctx context.Context, path string) error {
	c.mem.delete(path)
	return nil
}

func (c *Conn) Push(ctx context.Context, path string) (string, error) {
	return uuid.New().String(), nil
}

func (c *Conn) Subscribe(path string, fn func(any)) func() {
	return c.mem.subscribe(path, fn)
}

func (c *Conn) SubscribeConnectivity(fn func(bool)) func() {
	c.mu.Lock()
	c.nextSub++
	id := c.nextSub
	c.connSubs[id] = fn
	current := c.connected
	c.mu.Unlock()

	fn(current)

	return func() {
		c.mu.Lock()
		delete(c.connSubs, id)
		c.mu.Unlock()
	}
}

func (c *Conn) OnDisconnect(path string) DisconnectRef {
	return &memoryDisconnectRef{conn: c, path: path}
}

// Drop simulates an ungraceful disconnect: every registered hook executes
// against the shared tree, then the connectivity signal flips false. Hooks
// do not survive the drop.
func (c *Conn) Drop() {
	c.mu.Lock()
	hooks := c.hooks
	c.hooks = make(map[string]memoryHook)
	c.connected = false
	subs := connSubsSnapshot(c.connSubs)
	c.mu.Unlock()

	for path, hook := range hooks {
		if hook.remove {
			c.mem.delete(path)
		} else {
			// Hook writes resolve server timestamps at execution time.
			_ = c.mem.write(path, hook.value)
		}
	}
	for _, fn := range subs {
		fn(false)
	}
}

// Restore flips the connection back online, firing connectivity subscribers
// so presence logic can re-arm its hooks.
func (c *Conn) Restore() {
	c.mu.Lock()
	c.connected = true
	subs := connSubsSnapshot(c.connSubs)
	c.mu.Unlock()

	for _, fn := range subs {
		fn(true)
	}
}

func connSubsSnapshot(subs map[int]func(bool)) []func(bool) {
	out := make([]func(bool), 0, len(subs))
	for _, fn := range subs {
		out = append(out, fn)
	}
	return out
}

type memoryDisconnectRef struct {
	conn *Conn
	path string
}

func (r *memoryDisconnectRef) Set(ctx context.Context, value any) error {
	r.conn.mu.Lock()
	defer r.conn.mu.Unlock()
	r.conn.hooks[r.path] = memoryHook{value: value}
	return nil
}

func (r *memoryDisconnectRef) Remove(ctx context.Context) error {
	r.conn.mu.Lock()
	defer r.conn.mu.Unlock()
	r.conn.hooks[r.path] = memoryHook{remove: true}
	return nil
}

func (r *memoryDisconnectRef) Cancel(ctx context.Context) error {
	r.conn.mu.Lock()
	defer r.conn.mu.Unlock()
	delete(r.conn.hooks, r.path)
	return nil
}

// valueAt descends the tree along segments. Any non-map midway means the
// path does not exist.
func valueAt(root map[string]any, segments []string) any {
	var cur any = root
	for _, seg := range segments {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = node[seg]
		if !ok {
			return nil
		}
	}
	return cur
}

func setAt(root map[string]any, segments []string, value any) {
	if len(segments) == 0 {
		return
	}
	node := root
	for _, seg := range segments[:len(segments)-1] {
		child, ok := node[seg].(map[string]any)
		if !ok {
			child = make(map[string]any)
			node[seg] = child
		}
		node = child
	}
	node[segments[len(segments)-1]] = value
}

// deleteAt removes the node at segments and prunes emptied ancestors, so an
// empty map never reads back as present.
func deleteAt(root map[string]any, segments []string) {
	if len(segments) == 0 {
		return
	}
	parents := make([]map[string]any, 0, len(segments))
	node := root
	for _, seg := range segments[:len(segments)-1] {
		child, ok := node[seg].(map[string]any)
		if !ok {
			return
		}
		parents = append(parents, node)
		node = child
	}
	delete(node, segments[len(segments)-1])

	for i := len(parents) - 1; i >= 0; i-- {
		if len(node) > 0 {
			break
		}
		delete(parents[i], segments[i])
		node = parents[i]
	}
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = deepCopy(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopy(e)
		}
		return out
	default:
		return v
	}
}
