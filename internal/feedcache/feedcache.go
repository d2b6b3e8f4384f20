// Package feedcache caches upstream feed responses in the cache database
// so repeated ingest runs within the TTL do not re-fetch identical payloads.
package feedcache

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// Cache stores msgpack-encoded feed payloads keyed by request identity.
// Cache failures degrade to a miss; they never fail the caller.
type Cache struct {
	db  *sql.DB
	ttl time.Duration
	log zerolog.Logger
	now func() time.Time
}

// New creates a cache with the given TTL.
func New(db *sql.DB, ttl time.Duration, log zerolog.Logger) *Cache {
	return &Cache{
		db:  db,
		ttl: ttl,
		log: log.With().Str("component", "feed_cache").Logger(),
		now: time.Now,
	}
}

// Get decodes a cached payload into dest. ok is false on miss or expiry.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) bool {
	var (
		data      []byte
		expiresAt int64
	)
	err := c.db.QueryRowContext(ctx,
		"SELECT data, expires_at FROM feed_responses WHERE cache_key = ?", key,
	).Scan(&data, &expiresAt)
	if err == sql.ErrNoRows {
		return false
	}
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Cache read failed")
		return false
	}

	if c.now().Unix() >= expiresAt {
		return false
	}

	if err := msgpack.Unmarshal(data, dest); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Cache payload corrupt, dropping")
		_ = c.Delete(ctx, key)
		return false
	}
	return true
}

// Set stores a payload under key until the TTL elapses.
func (c *Cache) Set(ctx context.Context, key string, value interface{}) {
	data, err := msgpack.Marshal(value)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Failed to encode cache payload")
		return
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO feed_responses (cache_key, data, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT (cache_key) DO UPDATE SET
			data = excluded.data,
			expires_at = excluded.expires_at`,
		key, data, c.now().Add(c.ttl).Unix())
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Cache write failed")
	}
}

// Delete removes one entry.
func (c *Cache) Delete(ctx context.Context, key string) error {
	_, err := c.db.ExecContext(ctx, "DELETE FROM feed_responses WHERE cache_key = ?", key)
	if err != nil {
		return fmt.Errorf("failed to delete cache entry %s: %w", key, err)
	}
	return nil
}

// PruneExpired removes entries past their expiry and returns the count.
func (c *Cache) PruneExpired(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx,
		"DELETE FROM feed_responses WHERE expires_at <= ?", c.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
