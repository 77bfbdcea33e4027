package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	// SQLite driver using pure Go implementation
	_ "modernc.org/sqlite"

	"github.com/aaronlmathis/tsinsight/internal/metrics"
	"github.com/aaronlmathis/tsinsight/internal/timeseries"
)

// SQLiteConfig configures the SQLite sample store
type SQLiteConfig struct {
	// Path to the database file; ":memory:" keeps everything in process
	Path string `yaml:"path"`
	// BusyTimeout bounds how long a writer waits for a lock
	BusyTimeout time.Duration `yaml:"busy_timeout"`
	// MaxConnections caps the connection pool
	MaxConnections int `yaml:"max_connections"`
}

// DefaultSQLiteConfig returns the default configuration
func DefaultSQLiteConfig() SQLiteConfig {
	return SQLiteConfig{
		Path:           "tsinsight.db",
		BusyTimeout:    5 * time.Second,
		MaxConnections: 4,
	}
}

// SQLiteStore persists samples and group membership in SQLite
type SQLiteStore struct {
	logger *zap.Logger
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS samples (
		entity TEXT NOT NULL,
		metric TEXT NOT NULL,
		ts INTEGER NOT NULL,
		value REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_samples_series ON samples(entity, metric, ts);

	CREATE TABLE IF NOT EXISTS members (
		parent TEXT NOT NULL,
		child TEXT NOT NULL,
		PRIMARY KEY (parent, child)
	);
`

// NewSQLiteStore opens (creating if needed) the database at config.Path
func NewSQLiteStore(logger *zap.Logger, config SQLiteConfig) (*SQLiteStore, error) {
	if config.Path == "" {
		config.Path = DefaultSQLiteConfig().Path
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = DefaultSQLiteConfig().BusyTimeout
	}
	if config.MaxConnections <= 0 {
		config.MaxConnections = DefaultSQLiteConfig().MaxConnections
	}
	// every connection to ":memory:" is a separate database
	if config.Path == ":memory:" {
		config.MaxConnections = 1
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)",
		config.Path, config.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxConnections)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite store opened", zap.String("path", config.Path))
	return &SQLiteStore{logger: logger, db: db}, nil
}

func (s *SQLiteStore) checkOpen() error {
	if s.closed {
		return errors.New("sqlite store is closed")
	}
	return nil
}

// Append stores points under the entity's metric series in one transaction
func (s *SQLiteStore) Append(ctx context.Context, entity, metric string, points ...timeseries.Point) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO samples (entity, metric, ts, value) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range points {
		if _, err := stmt.ExecContext(ctx, entity, metric, p.T.UnixNano(), p.V); err != nil {
			return fmt.Errorf("failed to insert sample: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit samples: %w", err)
	}
	return nil
}

// Series returns the stored points in timestamp order, in UTC
func (s *SQLiteStore) Series(ctx context.Context, entity, metric string) (timeseries.Series, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return timeseries.Series{}, err
	}

	began := time.Now()
	points, err := s.queryPoints(ctx, entity, metric)
	metrics.RecordSourceFetch("sqlite", time.Since(began), err != nil)
	if err != nil {
		return timeseries.Series{}, err
	}
	if len(points) == 0 {
		return timeseries.Series{}, fmt.Errorf("series %s/%s: %w", entity, metric, ErrNotFound)
	}
	return timeseries.NewSeries(entity, points), nil
}

func (s *SQLiteStore) queryPoints(ctx context.Context, entity, metric string) ([]timeseries.Point, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, value FROM samples WHERE entity = ? AND metric = ? ORDER BY ts, rowid`,
		entity, metric)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	var points []timeseries.Point
	for rows.Next() {
		var ts int64
		var value float64
		if err := rows.Scan(&ts, &value); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		points = append(points, timeseries.Point{T: time.Unix(0, ts).UTC(), V: value})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read samples: %w", err)
	}
	return points, nil
}

// SetMembers replaces the children of parent
func (s *SQLiteStore) SetMembers(ctx context.Context, parent string, children []string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM members WHERE parent = ?`, parent); err != nil {
		return fmt.Errorf("failed to clear members of %s: %w", parent, err)
	}
	for _, child := range children {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO members (parent, child) VALUES (?, ?)`, parent, child); err != nil {
			return fmt.Errorf("failed to insert member %s: %w", child, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit members: %w", err)
	}
	return nil
}

// Members returns the children of parent, sorted
func (s *SQLiteStore) Members(ctx context.Context, parent string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT child FROM members WHERE parent = ? ORDER BY child`, parent)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer rows.Close()

	var children []string
	for rows.Next() {
		var child string
		if err := rows.Scan(&child); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		children = append(children, child)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read members: %w", err)
	}
	if len(children) == 0 {
		return nil, fmt.Errorf("group %s: %w", parent, ErrNotFound)
	}
	return children, nil
}

// DeleteBefore removes samples older than cutoff and reports how many went
func (s *SQLiteStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM samples WHERE ts < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to delete samples: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted samples: %w", err)
	}
	return n, nil
}

// Ping verifies the database is reachable
func (s *SQLiteStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Close releases the database
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
