package coinforge

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// PostgresProfileStore keeps profile documents in a single Postgres table and
// enforces fleet-wide single ownership with session advisory locks. Each held
// profile pins one pooled connection for the lifetime of the hold: the advisory
// lock lives on that connection's session, so a crashed holder releases its
// profiles automatically when the session dies.
type PostgresProfileStore struct {
	pool *pgxpool.Pool

	mu    sync.Mutex
	conns map[int64]*pgxpool.Conn
}

var _ ProfileStore = &PostgresProfileStore{}

func NewPostgresProfileStore(ctx context.Context, dsn string) (*PostgresProfileStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresProfileStore{
		pool:  pool,
		conns: make(map[int64]*pgxpool.Conn),
	}, nil
}

// Migrate applies the embedded schema migrations. Call once at startup.
func Migrate(dsn string) error {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("open migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, dsn)
	if err != nil {
		return fmt.Errorf("prepare migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	sourceErr, dbErr := m.Close()
	if sourceErr != nil {
		return sourceErr
	}
	return dbErr
}

func (s *PostgresProfileStore) Load(ctx context.Context, playerID int64) (*Profile, error) {
	conn, err := s.lockConn(ctx, playerID)
	if err != nil {
		return nil, err
	}

	var currencies, receipts []byte
	profile := newProfile(playerID)
	row := conn.QueryRow(ctx,
		`SELECT currencies, receipts, last_sweep, version FROM profiles WHERE player_id = $1`,
		playerID)
	if err := row.Scan(&currencies, &receipts, &profile.LastSweep, &profile.Version); err != nil {
		s.unlockConn(ctx, playerID, conn)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("load profile %d: %w", playerID, err)
	}
	if err := json.Unmarshal(currencies, &profile.Currencies); err != nil {
		s.unlockConn(ctx, playerID, conn)
		return nil, fmt.Errorf("decode currencies for profile %d: %w", playerID, err)
	}
	if err := json.Unmarshal(receipts, &profile.Receipts); err != nil {
		s.unlockConn(ctx, playerID, conn)
		return nil, fmt.Errorf("decode receipts for profile %d: %w", playerID, err)
	}

	s.trackConn(playerID, conn)
	return profile, nil
}

func (s *PostgresProfileStore) Create(ctx context.Context, playerID int64) (*Profile, error) {
	conn, err := s.lockConn(ctx, playerID)
	if err != nil {
		return nil, err
	}

	// ON CONFLICT covers the race where another process created the row between
	// our Load miss and this Create; the advisory lock already guarantees no one
	// else holds the document.
	_, err = conn.Exec(ctx,
		`INSERT INTO profiles (player_id) VALUES ($1) ON CONFLICT (player_id) DO NOTHING`,
		playerID)
	if err != nil {
		s.unlockConn(ctx, playerID, conn)
		return nil, fmt.Errorf("create profile %d: %w", playerID, err)
	}

	s.trackConn(playerID, conn)
	return newProfile(playerID), nil
}

func (s *PostgresProfileStore) Reconcile(profile *Profile, template *ProfileTemplate) {
	reconcileProfile(profile, template)
}

func (s *PostgresProfileStore) Save(ctx context.Context, profile *Profile) error {
	s.mu.Lock()
	conn, held := s.conns[profile.PlayerID]
	s.mu.Unlock()
	if !held {
		return ErrProfileReleased
	}

	profile.mu.Lock()
	currencies, err := json.Marshal(profile.Currencies)
	if err != nil {
		profile.mu.Unlock()
		return fmt.Errorf("encode currencies for profile %d: %w", profile.PlayerID, err)
	}
	receipts, err := json.Marshal(profile.Receipts)
	if err != nil {
		profile.mu.Unlock()
		return fmt.Errorf("encode receipts for profile %d: %w", profile.PlayerID, err)
	}
	lastSweep := profile.LastSweep
	version := profile.Version
	profile.mu.Unlock()

	_, err = conn.Exec(ctx,
		`UPDATE profiles
		    SET currencies = $2, receipts = $3, last_sweep = $4, version = $5, updated_at = now()
		  WHERE player_id = $1`,
		profile.PlayerID, currencies, receipts, lastSweep, version)
	if err != nil {
		return fmt.Errorf("save profile %d: %w", profile.PlayerID, err)
	}
	return nil
}

func (s *PostgresProfileStore) Release(ctx context.Context, profile *Profile) error {
	s.mu.Lock()
	conn, held := s.conns[profile.PlayerID]
	delete(s.conns, profile.PlayerID)
	s.mu.Unlock()
	if !held {
		return ErrProfileReleased
	}
	s.unlockConn(ctx, profile.PlayerID, conn)
	return nil
}

// OnForceRelease is a no-op for the Postgres store: ownership is bound to the
// session advisory lock, which no other process can seize while this session
// is alive. If this process dies the lock drops with the session and the
// callback would have no process left to run in.
func (s *PostgresProfileStore) OnForceRelease(profile *Profile, fn func(playerID int64)) {
}

// Close releases every held profile lock and shuts the pool down.
func (s *PostgresProfileStore) Close(ctx context.Context) {
	s.mu.Lock()
	conns := s.conns
	s.conns = make(map[int64]*pgxpool.Conn)
	s.mu.Unlock()

	for playerID, conn := range conns {
		s.unlockConn(ctx, playerID, conn)
	}
	s.pool.Close()
}

// lockConn acquires a pooled connection and takes the player's advisory lock
// on its session. The connection is returned still unreferenced; callers must
// trackConn on success or unlockConn on failure.
func (s *PostgresProfileStore) lockConn(ctx context.Context, playerID int64) (*pgxpool.Conn, error) {
	s.mu.Lock()
	_, held := s.conns[playerID]
	s.mu.Unlock()
	if held {
		return nil, ErrProfileLocked
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, playerID).Scan(&locked); err != nil {
		conn.Release()
		return nil, fmt.Errorf("lock profile %d: %w", playerID, err)
	}
	if !locked {
		conn.Release()
		return nil, ErrProfileLocked
	}
	return conn, nil
}

func (s *PostgresProfileStore) trackConn(playerID int64, conn *pgxpool.Conn) {
	s.mu.Lock()
	s.conns[playerID] = conn
	s.mu.Unlock()
}

func (s *PostgresProfileStore) unlockConn(ctx context.Context, playerID int64, conn *pgxpool.Conn) {
	// Unlock failure is not actionable here: releasing the connection back to
	// the pool keeps the session alive, so destroy it instead to drop the lock.
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, playerID); err != nil {
		conn.Conn().Close(ctx)
	}
	conn.Release()
}
