package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/olympus-org/olympus/internal/core"
)

// ErrCacheMiss is returned when a key is absent or its entry has expired.
var ErrCacheMiss = errors.New("cache miss")

// CacheItem is one row of the TTL'd key-value cache. Value holds the cached
// payload as it was stored; use Decode to unmarshal it.
type CacheItem struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	Meta      map[string]any  `json:"meta,omitempty"`
	CreatedAt int64           `json:"created_at"`
	ExpiresAt *int64          `json:"expires_at,omitempty"`
}

// Decode unmarshals the cached payload into v.
func (c *CacheItem) Decode(v any) error {
	return json.Unmarshal(c.Value, v)
}

// Cache is the key-value surface the LLM router and budget ledger depend
// on. *Store provides a SQL-backed implementation; the redis sub-package
// provides one for shared deployments.
type Cache interface {
	// CacheGet returns the entry for key, or ErrCacheMiss if it is absent
	// or past its expiry.
	CacheGet(ctx context.Context, key string) (*CacheItem, error)
	// CachePut stores value under key. ttl <= 0 stores without expiry.
	CachePut(ctx context.Context, key string, value any, ttl time.Duration, meta map[string]any) error
	// CacheDelete removes the entry for key if present.
	CacheDelete(ctx context.Context, key string) error
	// CacheAdd atomically adds delta to the float counter stored under key
	// and returns the new total. A missing or expired entry counts as zero;
	// ttl applies only when the entry is created fresh.
	CacheAdd(ctx context.Context, key string, delta float64, ttl time.Duration) (float64, error)
}

// CacheGet implements Cache. Expired entries are deleted lazily on read.
func (s *Store) CacheGet(ctx context.Context, key string) (*CacheItem, error) {
	query := s.drv.Rebind(`
		SELECT key, value_json, meta_json, created_at, expires_at
		FROM cache_items WHERE key = ?`)
	row := s.db.QueryRowContext(ctx, query, key)

	item, err := scanCacheItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrCacheMiss, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache key %s: %w", key, err)
	}
	if item.ExpiresAt != nil && *item.ExpiresAt <= core.NowMillis() {
		_ = s.CacheDelete(ctx, key)
		return nil, fmt.Errorf("%w: %s", ErrCacheMiss, key)
	}
	return item, nil
}

// CachePut implements Cache.
func (s *Store) CachePut(ctx context.Context, key string, value any, ttl time.Duration, meta map[string]any) error {
	return s.cachePut(ctx, s.db, key, value, ttl, meta)
}

func (s *Store) cachePut(ctx context.Context, db execer, key string, value any, ttl time.Duration, meta map[string]any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	if meta == nil {
		meta = map[string]any{}
	}
	metaRaw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal cache meta: %w", err)
	}
	now := core.NowMillis()
	var expiresAt *int64
	if ttl > 0 {
		exp := now + ttl.Milliseconds()
		expiresAt = &exp
	}
	query := s.drv.Rebind(`
		INSERT INTO cache_items (key, value_json, meta_json, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			value_json = excluded.value_json,
			meta_json = excluded.meta_json,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`)
	if _, err := db.ExecContext(ctx, query, key, string(raw), string(metaRaw), now, expiresAt); err != nil {
		return fmt.Errorf("failed to write cache key %s: %w", key, err)
	}
	return nil
}

// CacheDelete implements Cache.
func (s *Store) CacheDelete(ctx context.Context, key string) error {
	query := s.drv.Rebind(`DELETE FROM cache_items WHERE key = ?`)
	if _, err := s.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("failed to delete cache key %s: %w", key, err)
	}
	return nil
}

// CacheAdd implements Cache. The read-modify-write runs under the store
// mutex; budget accounting tolerates the small cross-process race this
// leaves on PostgreSQL.
func (s *Store) CacheAdd(ctx context.Context, key string, delta float64, ttl time.Duration) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		total   = delta
		keepTTL = ttl
	)
	item, err := s.CacheGet(ctx, key)
	switch {
	case err == nil:
		var current float64
		if err := item.Decode(&current); err != nil {
			return 0, fmt.Errorf("cache key %s does not hold a number: %w", key, err)
		}
		total += current
		// Preserve the expiry the counter was created with.
		if item.ExpiresAt != nil {
			keepTTL = time.Duration(*item.ExpiresAt-core.NowMillis()) * time.Millisecond
			if keepTTL <= 0 {
				keepTTL = time.Millisecond
			}
		} else {
			keepTTL = 0
		}
	case errors.Is(err, ErrCacheMiss):
	default:
		return 0, err
	}

	if err := s.CachePut(ctx, key, total, keepTTL, nil); err != nil {
		return 0, err
	}
	return total, nil
}

// PurgeExpiredCache deletes every cache row past its expiry and reports how
// many were removed. The janitor calls this on a schedule; reads do not
// depend on it.
func (s *Store) PurgeExpiredCache(ctx context.Context) (int64, error) {
	query := s.drv.Rebind(`
		DELETE FROM cache_items WHERE expires_at IS NOT NULL AND expires_at <= ?`)
	res, err := s.db.ExecContext(ctx, query, core.NowMillis())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired cache rows: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged cache rows: %w", err)
	}
	return n, nil
}

func scanCacheItem(row rowScanner) (*CacheItem, error) {
	var (
		item      CacheItem
		value     string
		meta      string
		expiresAt sql.NullInt64
	)
	if err := row.Scan(&item.Key, &value, &meta, &item.CreatedAt, &expiresAt); err != nil {
		return nil, err
	}
	item.Value = json.RawMessage(value)
	if err := json.Unmarshal([]byte(meta), &item.Meta); err != nil {
		return nil, fmt.Errorf("failed to decode cache meta: %w", err)
	}
	if expiresAt.Valid {
		item.ExpiresAt = &expiresAt.Int64
	}
	return &item, nil
}
