package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds Redis-specific configuration for the watched store.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	Namespace    string
	HeartbeatTTL time.Duration
	ReapInterval time.Duration
}

// Redis implements Store over a shared Redis instance.
//
// Values live as JSON documents keyed by one of their ancestor paths; writes
// below an existing document modify the document in place. Change
// notification rides a pub/sub channel carrying the changed path. Liveness
// uses a per-client heartbeat key with a TTL; a background reaper executes
// the disconnect hooks of clients whose heartbeat expired. Hook execution is
// at-least-once, so hooks must stay idempotent.
type Redis struct {
	client   *redis.Client
	log      zerolog.Logger
	cfg      RedisConfig
	clientID string

	mu        sync.Mutex
	subs      map[int]*redisSub
	connSubs  map[int]func(bool)
	nextID    int
	connected bool

	pubsub *redis.PubSub
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type redisSub struct {
	path  string
	fn    func(any)
	queue chan any
	done  chan struct{}
}

type redisHook struct {
	Remove bool `json:"remove"`
	Value  any  `json:"value,omitempty"`
}

// NewRedis connects to Redis and starts the heartbeat, change listener and
// hook reaper.
func NewRedis(cfg RedisConfig, log zerolog.Logger) (*Redis, error) {
	if cfg.Namespace == "" {
		cfg.Namespace = "race"
	}
	if cfg.HeartbeatTTL <= 0 {
		cfg.HeartbeatTTL = 10 * time.Second
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = cfg.HeartbeatTTL
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	runCtx, stop := context.WithCancel(context.Background())
	s := &Redis{
		client:   client,
		log:      log,
		cfg:      cfg,
		clientID: uuid.New().String(),
		subs:     make(map[int]*redisSub),
		connSubs: make(map[int]func(bool)),
		cancel:   stop,
	}
	s.pubsub = client.Subscribe(runCtx, s.changesChannel())

	s.wg.Add(3)
	go s.heartbeatLoop(runCtx)
	go s.changeLoop(runCtx)
	go s.reapLoop(runCtx)

	return s, nil
}

// Close stops background work and drops this client's own hooks and
// heartbeat, which counts as an explicit disconnect.
func (s *Redis) Close() error {
	s.cancel()
	_ = s.pubsub.Close()
	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.client.Del(ctx, s.hooksKey(s.clientID), s.aliveKey(s.clientID)).Err()
	return s.client.Close()
}

func (s *Redis) nodeKey(path string) string {
	return s.cfg.Namespace + ":node:" + path
}

func (s *Redis) aliveKey(clientID string) string {
	return s.cfg.Namespace + ":alive:" + clientID
}

func (s *Redis) hooksKey(clientID string) string {
	return s.cfg.Namespace + ":hooks:" + clientID
}

func (s *Redis) changesChannel() string {
	return s.cfg.Namespace + ":changes"
}

// loadOwner finds the document covering path: the exact key or its nearest
// written ancestor. rel holds the remaining segments inside the document.
func (s *Redis) loadOwner(ctx context.Context, path string) (owner string, doc any, rel []string, found bool, err error) {
	segments := splitPath(path)
	for i := len(segments); i > 0; i-- {
		candidate := strings.Join(segments[:i], "/")
		raw, err := s.client.Get(ctx, s.nodeKey(candidate)).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return "", nil, nil, false, fmt.Errorf("failed to read %s: %w", candidate, err)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return "", nil, nil, false, fmt.Errorf("corrupt value at %s: %w", candidate, err)
		}
		return candidate, v, segments[i:], true, nil
	}
	return "", nil, nil, false, nil
}

func (s *Redis) Read(ctx context.Context, path string) (any, error) {
	_, doc, rel, found, err := s.loadOwner(ctx, path)
	if err != nil {
		return nil, err
	}
	if found {
		if node, ok := doc.(map[string]any); ok || len(rel) == 0 {
			if len(rel) == 0 {
				return doc, nil
			}
			return valueAt(node, rel), nil
		}
		return nil, nil
	}
	return s.assembleChildren(ctx, path)
}

// assembleChildren rebuilds a branch value from documents stored below path.
func (s *Redis) assembleChildren(ctx context.Context, path string) (any, error) {
	prefix := s.nodeKey(path) + "/"
	out := make(map[string]any)
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", path, err)
		}
		for _, key := range keys {
			raw, err := s.client.Get(ctx, key).Result()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", key, err)
			}
			var v any
			if err := json.Unmarshal([]byte(raw), &v); err != nil {
				return nil, fmt.Errorf("corrupt value at %s: %w", key, err)
			}
			setAt(out, splitPath(strings.TrimPrefix(key, prefix)), v)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func (s *Redis) Write(ctx context.Context, path string, value any) error {
	norm, err := normalize(value, time.Now().UnixMilli())
	if err != nil {
		return err
	}

	owner, doc, rel, found, err := s.loadOwner(ctx, path)
	if err != nil {
		return err
	}
	target := path
	if found && len(rel) > 0 {
		node, ok := doc.(map[string]any)
		if !ok {
			node = make(map[string]any)
		}
		setAt(node, rel, norm)
		norm = node
		target = owner
	}

	raw, err := json.Marshal(norm)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	if err := s.client.Set(ctx, s.nodeKey(target), raw, 0).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", target, err)
	}
	// A full replace shadows anything previously written below the path.
	if target == path {
		if err := s.deleteDescendants(ctx, path); err != nil {
			return err
		}
	}
	return s.publish(ctx, path)
}

func (s *Redis) Update(ctx context.Context, path string, fields map[string]any) error {
	current, err := s.Read(ctx, path)
	if err != nil {
		return err
	}
	node, ok := current.(map[string]any)
	if !ok {
		node = make(map[string]any)
	}
	now := time.Now().UnixMilli()
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
		return s.Delete(ctx, path)
	}
	return s.Write(ctx, path, node)
}

func (s *Redis) Delete(ctx context.Context, path string) error {
	owner, doc, rel, found, err := s.loadOwner(ctx, path)
	if err != nil {
		return err
	}
	if found && len(rel) > 0 {
		node, ok := doc.(map[string]any)
		if ok {
			deleteAt(node, rel)
			if len(node) == 0 {
				if err := s.client.Del(ctx, s.nodeKey(owner)).Err(); err != nil {
					return fmt.Errorf("failed to delete %s: %w", owner, err)
				}
			} else {
				raw, err := json.Marshal(node)
				if err != nil {
					return fmt.Errorf("failed to marshal value: %w", err)
				}
				if err := s.client.Set(ctx, s.nodeKey(owner), raw, 0).Err(); err != nil {
					return fmt.Errorf("failed to write %s: %w", owner, err)
				}
			}
		}
	} else if found {
		if err := s.client.Del(ctx, s.nodeKey(path)).Err(); err != nil {
			return fmt.Errorf("failed to delete %s: %w", path, err)
		}
	}
	if err := s.deleteDescendants(ctx, path); err != nil {
		return err
	}
	return s.publish(ctx, path)
}

func (s *Redis) deleteDescendants(ctx context.Context, path string) error {
	prefix := s.nodeKey(path) + "/"
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan %s: %w", path, err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to delete below %s: %w", path, err)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}

func (s *Redis) Push(ctx context.Context, path string) (string, error) {
	return uuid.New().String(), nil
}

func (s *Redis) publish(ctx context.Context, path string) error {
	if err := s.client.Publish(ctx, s.changesChannel(), path).Err(); err != nil {
		return fmt.Errorf("failed to publish change at %s: %w", path, err)
	}
	return nil
}

func (s *Redis) Subscribe(path string, fn func(any)) func() {
	sub := &redisSub{
		path:  path,
		fn:    fn,
		queue: make(chan any, 64),
		done:  make(chan struct{}),
	}
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subs[id] = sub
	s.mu.Unlock()

	go sub.loop()
	s.deliver(sub)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(sub.done)
		})
	}
}

func (s *Redis) deliver(sub *redisSub) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snapshot, err := s.Read(ctx, sub.path)
	if err != nil {
		s.log.Warn().Err(err).Str("path", sub.path).Msg("Failed to read snapshot for subscriber")
		return
	}
	sub.enqueue(snapshot)
}

func (sub *redisSub) enqueue(snapshot any) {
	for {
		select {
		case sub.queue <- snapshot:
			return
		default:
			select {
			case <-sub.queue:
			default:
			}
		}
	}
}

func (sub *redisSub) loop() {
	for {
		select {
		case <-sub.done:
			return
		case v := <-sub.queue:
			sub.fn(v)
		}
	}
}

func (s *Redis) SubscribeConnectivity(fn func(bool)) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.connSubs[id] = fn
	current := s.connected
	s.mu.Unlock()

	fn(current)

	return func() {
		s.mu.Lock()
		delete(s.connSubs, id)
		s.mu.Unlock()
	}
}

func (s *Redis) OnDisconnect(path string) DisconnectRef {
	return &redisDisconnectRef{store: s, path: path}
}

type redisDisconnectRef struct {
	store *Redis
	path  string
}

func (r *redisDisconnectRef) Set(ctx context.Context, value any) error {
	return r.store.registerHook(ctx, r.path, redisHook{Value: value})
}

func (r *redisDisconnectRef) Remove(ctx context.Context) error {
	return r.store.registerHook(ctx, r.path, redisHook{Remove: true})
}

func (r *redisDisconnectRef) Cancel(ctx context.Context) error {
	if err := r.store.client.HDel(ctx, r.store.hooksKey(r.store.clientID), r.path).Err(); err != nil {
		return fmt.Errorf("failed to cancel disconnect hook at %s: %w", r.path, err)
	}
	return nil
}

func (s *Redis) registerHook(ctx context.Context, path string, hook redisHook) error {
	raw, err := json.Marshal(hook)
	if err != nil {
		return fmt.Errorf("failed to marshal disconnect hook: %w", err)
	}
	if err := s.client.HSet(ctx, s.hooksKey(s.clientID), path, raw).Err(); err != nil {
		return fmt.Errorf("failed to register disconnect hook at %s: %w", path, err)
	}
	return nil
}

// heartbeatLoop keeps this client's liveness key refreshed and derives the
// connectivity signal from whether the refresh succeeds.
func (s *Redis) heartbeatLoop(ctx context.Context) {
	defer s.wg.Done()
	interval := s.cfg.HeartbeatTTL / 3
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.beat(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.beat(ctx)
		}
	}
}

func (s *Redis) beat(ctx context.Context) {
	err := s.client.Set(ctx, s.aliveKey(s.clientID), "1", s.cfg.HeartbeatTTL).Err()
	online := err == nil
	if err != nil && ctx.Err() == nil {
		s.log.Warn().Err(err).Msg("Heartbeat refresh failed")
	}

	s.mu.Lock()
	changed := s.connected != online
	s.connected = online
	subs := connSubsSnapshot(s.connSubs)
	s.mu.Unlock()

	if changed {
		for _, fn := range subs {
			fn(online)
		}
	}
}

// changeLoop fans published path changes out to local subscribers.
func (s *Redis) changeLoop(ctx context.Context) {
	defer s.wg.Done()
	ch := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			s.mu.Lock()
			targets := make([]*redisSub, 0, len(s.subs))
			for _, sub := range s.subs {
				if pathsIntersect(msg.Payload, sub.path) {
					targets = append(targets, sub)
				}
			}
			s.mu.Unlock()
			for _, sub := range targets {
				s.deliver(sub)
			}
		}
	}
}

// reapLoop executes the registered hooks of clients whose heartbeat expired,
// standing in for the hosted backend's server-side disconnect handling.
func (s *Redis) reapLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reap(ctx)
		}
	}
}

func (s *Redis) reap(ctx context.Context) {
	prefix := s.cfg.Namespace + ":hooks:"
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			if ctx.Err() == nil {
				s.log.Warn().Err(err).Msg("Hook scan failed")
			}
			return
		}
		for _, key := range keys {
			owner := strings.TrimPrefix(key, prefix)
			if owner == s.clientID {
				continue
			}
			alive, err := s.client.Exists(ctx, s.aliveKey(owner)).Result()
			if err != nil || alive > 0 {
				continue
			}
			s.fireHooks(ctx, owner, key)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
}

func (s *Redis) fireHooks(ctx context.Context, owner, key string) {
	hooks, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		s.log.Warn().Err(err).Str("client", owner).Msg("Failed to load hooks of dead client")
		return
	}
	for path, raw := range hooks {
		var hook redisHook
		if err := json.Unmarshal([]byte(raw), &hook); err != nil {
			s.log.Warn().Err(err).Str("path", path).Msg("Corrupt disconnect hook")
			continue
		}
		if hook.Remove {
			err = s.Delete(ctx, path)
		} else {
			err = s.Write(ctx, path, hook.Value)
		}
		if err != nil {
			s.log.Warn().Err(err).Str("path", path).Msg("Failed to execute disconnect hook")
			continue
		}
		s.log.Info().Str("client", owner).Str("path", path).Msg("Executed disconnect hook for dead client")
	}
	_ = s.client.Del(ctx, key).Err()
}
