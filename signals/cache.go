package signals

import (
	"crypto/md5"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// CacheKey hashes a request the same way the teacher's
// analysis/analyzer.go generateCacheKey does (MD5 of the marshaled
// request), so identical requests against an unchanged registry
// generation hit the cache instead of recomputing.
func CacheKey(req SignalRequest, groupsGeneration int) (string, error) {
	payload, err := json.Marshal(struct {
		Req        SignalRequest
		Generation int
	}{req, groupsGeneration})
	if err != nil {
		return "", fmt.Errorf("signals: marshal cache key: %w", err)
	}
	sum := md5.Sum(payload)
	return fmt.Sprintf("%x", sum), nil
}

// Cache wraps the SQLite signal_cache table (schema in
// eventstore/schema.go), adapted from the teacher's
// SaveAnalysisCache/GetAnalysisCache.
type Cache struct {
	db  *sql.DB
	ttl time.Duration
}

func NewCache(db *sql.DB, ttl time.Duration) *Cache {
	return &Cache{db: db, ttl: ttl}
}

func (c *Cache) Get(key string) (SignalResponse, bool) {
	var raw string
	var expiresAt time.Time
	err := c.db.QueryRow(`SELECT response_json, expires_at FROM signal_cache WHERE cache_key = ?`, key).Scan(&raw, &expiresAt)
	if err != nil {
		return SignalResponse{}, false
	}
	if time.Now().After(expiresAt) {
		return SignalResponse{}, false
	}
	var resp SignalResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return SignalResponse{}, false
	}
	return resp, true
}

func (c *Cache) Set(key string, resp SignalResponse) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("signals: marshal response for cache: %w", err)
	}
	now := time.Now()
	_, err = c.db.Exec(`
		INSERT INTO signal_cache (cache_key, response_json, created_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET response_json=excluded.response_json,
			created_at=excluded.created_at, expires_at=excluded.expires_at
	`, key, raw, now, now.Add(c.ttl))
	if err != nil {
		return fmt.Errorf("signals: save cache: %w", err)
	}
	return nil
}
