package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// CacheEntry maps an error signature to a previously computed analysis.
type CacheEntry struct {
	Signature string    `json:"signature"`
	Analysis  string    `json:"analysis"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AnalysisCache is a content-addressed store of AI analyses with TTL expiry.
// Entries are upserted (last write wins): two concurrent misses derive the
// same signature from the same content class, so the race is harmless.
type AnalysisCache struct {
	logger *zap.Logger
	db     *sql.DB
	cron   *cron.Cron
	now    func() time.Time
}

// NewAnalysisCache opens (or creates) the cache database at dbPath.
func NewAnalysisCache(logger *zap.Logger, dbPath string) (*AnalysisCache, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure cache database: %w", err)
	}

	cache := &AnalysisCache{
		logger: logger,
		db:     db,
		now:    time.Now,
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS analysis_cache (
			signature TEXT PRIMARY KEY,
			analysis TEXT NOT NULL,
			expires_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_cache_expires ON analysis_cache(expires_at);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize cache database: %w", err)
	}

	return cache, nil
}

// Get returns the live entry for signature, or (nil, nil) when absent or
// expired.
func (c *AnalysisCache) Get(ctx context.Context, signature string) (*CacheEntry, error) {
	var entry CacheEntry
	var expiresAt int64

	err := c.db.QueryRowContext(ctx, `
		SELECT signature, analysis, expires_at FROM analysis_cache
		WHERE signature = ? AND expires_at > ?`,
		signature, c.now().UnixMilli(),
	).Scan(&entry.Signature, &entry.Analysis, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}

	entry.ExpiresAt = time.UnixMilli(expiresAt)
	return &entry, nil
}

// Put upserts the analysis under signature with the given TTL.
func (c *AnalysisCache) Put(ctx context.Context, signature, analysis string, ttl time.Duration) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO analysis_cache (signature, analysis, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(signature) DO UPDATE SET
			analysis = excluded.analysis,
			expires_at = excluded.expires_at`,
		signature, analysis, c.now().Add(ttl).UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// Sweep deletes expired rows and returns how many were removed.
func (c *AnalysisCache) Sweep(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx,
		"DELETE FROM analysis_cache WHERE expires_at <= ?", c.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep cache: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected, nil
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err))
}

// StartSweeper schedules periodic Sweep runs. Lookups already ignore expired
// rows; the sweeper only reclaims space.
func (c *AnalysisCache) StartSweeper(schedule string) error {
	logger := &cronLogger{logger: c.logger.Named("cache-sweeper")}
	c.cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(logger)))

	_, err := c.cron.AddFunc(schedule, func() {
		removed, err := c.Sweep(context.Background())
		if err != nil {
			c.logger.Error("Cache sweep failed", zap.Error(err))
			return
		}
		if removed > 0 {
			c.logger.Info("Swept expired cache entries", zap.Int64("removed", removed))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule cache sweep: %w", err)
	}

	c.cron.Start()
	return nil
}

// Close stops the sweeper and closes the database connection.
func (c *AnalysisCache) Close() error {
	if c.cron != nil {
		c.cron.Stop()
	}
	return c.db.Close()
}
