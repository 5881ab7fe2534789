package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/rs/zerolog"

	"github.com/neonrush/race-coordinator/internal/models"
)

// CassandraConfig holds Cassandra-specific configuration for the archive.
type CassandraConfig struct {
	Hosts       []string
	Keyspace    string
	Username    string
	Password    string
	Consistency string
	Timeout     time.Duration
}

// Cassandra implements Archiver on a Cassandra cluster. Finished sessions
// land in a single results table keyed by session id, with the player map
// stored as a JSON blob.
type Cassandra struct {
	session *gocql.Session
	cfg     CassandraConfig
	log     zerolog.Logger
}

// NewCassandra connects to the cluster and ensures the schema exists.
func NewCassandra(cfg CassandraConfig, log zerolog.Logger) (*Cassandra, error) {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Timeout = cfg.Timeout
	cluster.ConnectTimeout = cfg.Timeout
	cluster.Consistency = parseConsistency(cfg.Consistency)

	if cfg.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}

	cluster.NumConns = 2
	cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(gocql.RoundRobinHostPolicy())

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create Cassandra session: %w", err)
	}

	c := &Cassandra{session: session, cfg: cfg, log: log}
	if err := c.initializeSchema(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Info().Strs("hosts", cfg.Hosts).Str("keyspace", cfg.Keyspace).Msg("Connected to Cassandra")
	return c, nil
}

// Close closes the Cassandra session.
func (c *Cassandra) Close() {
	if c.session != nil {
		c.session.Close()
	}
}

func (c *Cassandra) initializeSchema() error {
	keyspace := c.cfg.Keyspace

	createKeyspace := fmt.Sprintf(`
		CREATE KEYSPACE IF NOT EXISTS %s
		WITH replication = {
			'class': 'SimpleStrategy',
			'replication_factor': 1
		}`, keyspace)
	if err := c.session.Query(createKeyspace).Exec(); err != nil {
		return fmt.Errorf("failed to create keyspace: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.race_results (
			session_id text PRIMARY KEY,
			room_id text,
			host_id text,
			track_id text,
			laps int,
			status text,
			start_time bigint,
			finish_time bigint,
			players text
		)`, keyspace)
	if err := c.session.Query(createTable).Exec(); err != nil {
		return fmt.Errorf("failed to create race_results table: %w", err)
	}

	// Secondary index for host-based history queries.
	createIndex := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS ON %s.race_results (host_id)`, keyspace)
	if err := c.session.Query(createIndex).Exec(); err != nil {
		c.log.Debug().Err(err).Msg("Index creation result")
	}
	return nil
}

// Save upserts the final session record.
func (c *Cassandra) Save(ctx context.Context, sess *models.RaceSession) error {
	players, err := json.Marshal(sess.Players)
	if err != nil {
		return fmt.Errorf("failed to marshal session players: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s.race_results
			(session_id, room_id, host_id, track_id, laps, status, start_time, finish_time, players)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, c.cfg.Keyspace)

	queryCtx, cancel := c.queryContext(ctx)
	defer cancel()

	err = c.session.Query(query,
		sess.ID,
		sess.OriginalRoomID,
		sess.HostID,
		sess.TrackID,
		sess.Laps,
		sess.Status,
		sess.StartTime,
		sess.FinishTime,
		string(players),
	).WithContext(queryCtx).Exec()
	if err != nil {
		return fmt.Errorf("failed to archive session: %w", err)
	}

	c.log.Debug().Str("session_id", sess.ID).Msg("Session archived")
	return nil
}

// Get retrieves an archived session by ID.
func (c *Cassandra) Get(ctx context.Context, sessionID string) (*models.RaceSession, error) {
	query := fmt.Sprintf(`
		SELECT session_id, room_id, host_id, track_id, laps, status, start_time, finish_time, players
		FROM %s.race_results
		WHERE session_id = ?`, c.cfg.Keyspace)

	queryCtx, cancel := c.queryContext(ctx)
	defer cancel()

	var sess models.RaceSession
	var players string
	err := c.session.Query(query, sessionID).WithContext(queryCtx).Scan(
		&sess.ID,
		&sess.OriginalRoomID,
		&sess.HostID,
		&sess.TrackID,
		&sess.Laps,
		&sess.Status,
		&sess.StartTime,
		&sess.FinishTime,
		&players,
	)
	if err == gocql.ErrNotFound {
		return nil, ErrNotArchived
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read archived session: %w", err)
	}

	if err := json.Unmarshal([]byte(players), &sess.Players); err != nil {
		return nil, fmt.Errorf("corrupt archived player data: %w", err)
	}
	return &sess, nil
}

func (c *Cassandra) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.cfg.Timeout)
}

func parseConsistency(consistency string) gocql.Consistency {
	switch consistency {
	case "ONE":
		return gocql.One
	case "TWO":
		return gocql.Two
	case "THREE":
		return gocql.Three
	case "ALL":
		return gocql.All
	case "LOCAL_QUORUM":
		return gocql.LocalQuorum
	case "EACH_QUORUM":
		return gocql.EachQuorum
	case "LOCAL_ONE":
		return gocql.LocalOne
	default:
		return gocql.Quorum
	}
}
