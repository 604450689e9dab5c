// Package rendercache is a content-addressed store of rendered images:
// one immutable PNG per cache key on disk, with a SQLite index for
// bookkeeping (sizes, hit counts, eviction). The index is never consulted
// for existence — presence of the file is the sole existence check.
package rendercache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/singleflight"
)

// Key computes the cache key for canonical (normalized) text: 128 bits of
// its SHA-256, hex encoded. Equal text always yields an equal key;
// collisions are treated as negligible, not adversarial.
func Key(normalized string) string {
	h := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(h[:])[:32]
}

// Produce renders the image for a missing key. It must leave the finished
// image at tmpPath and return the same bytes.
type Produce func(ctx context.Context, tmpPath string) ([]byte, error)

// Store maps cache keys to rendered PNG files under dir.
type Store struct {
	db  *sql.DB
	dir string
	sf  singleflight.Group
}

func NewStore(db *sql.DB, baseDir string) *Store {
	return &Store{db: db, dir: filepath.Join(baseDir, "renders")}
}

func (s *Store) Init() error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create render dir: %w", err)
	}
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS renders (
			key         TEXT PRIMARY KEY,
			size        INTEGER NOT NULL,
			created_at  TEXT NOT NULL,
			hit_count   INTEGER DEFAULT 0,
			last_hit_at TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_renders_created ON renders(created_at);
	`)
	return err
}

// Path returns the image location for key. Deterministic: one file per
// key, fixed extension.
func (s *Store) Path(key string) string {
	return filepath.Join(s.dir, key+".png")
}

// GetOrRender returns the cached image for key, rendering it at most once
// per distinct key among concurrently racing callers. A hit never invokes
// produce. On a successful render the image is persisted (written to a
// temp file by produce, then renamed into place) before returning.
// Failed renders are never cached.
func (s *Store) GetOrRender(ctx context.Context, key string, produce Produce) ([]byte, bool, error) {
	path := s.Path(key)

	if data, err := os.ReadFile(path); err == nil {
		s.recordHit(key)
		return data, true, nil
	}

	v, err, _ := s.sf.Do(key, func() (any, error) {
		// A racing caller may have finished while we queued.
		if data, err := os.ReadFile(path); err == nil {
			s.recordHit(key)
			return data, nil
		}

		tmp := path + ".tmp"
		data, err := produce(ctx, tmp)
		if err != nil {
			_ = os.Remove(tmp)
			return nil, err
		}
		if err := os.Rename(tmp, path); err != nil {
			_ = os.Remove(tmp)
			return nil, fmt.Errorf("finalize render: %w", err)
		}
		s.record(key, int64(len(data)))
		return data, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.([]byte), false, nil
}

// record indexes a freshly written artifact. Best effort: the file on disk
// is the source of truth.
func (s *Store) record(key string, size int64) {
	now := time.Now().UTC().Format(time.RFC3339)
	_, _ = s.db.Exec(`
		INSERT OR REPLACE INTO renders (key, size, created_at, hit_count, last_hit_at)
		VALUES (?, ?, ?, 0, NULL)
	`, key, size, now)
}

func (s *Store) recordHit(key string) {
	now := time.Now().UTC().Format(time.RFC3339)
	_, _ = s.db.Exec(`
		UPDATE renders SET hit_count = hit_count + 1, last_hit_at = ? WHERE key = ?
	`, now, key)
}

// Stats summarizes the index.
type Stats struct {
	Entries    int64 `json:"entries"`
	TotalBytes int64 `json:"total_bytes"`
	TotalHits  int64 `json:"total_hits"`
}

func (s *Store) Stats() (Stats, error) {
	var st Stats
	err := s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(size), 0), COALESCE(SUM(hit_count), 0) FROM renders
	`).Scan(&st.Entries, &st.TotalBytes, &st.TotalHits)
	if err != nil {
		return st, fmt.Errorf("query render stats: %w", err)
	}
	return st, nil
}

// Purge evicts artifacts older than maxAge, then evicts least-recently-hit
// artifacts until the store fits in maxBytes. Zero disables the respective
// policy. Lookups stay O(1) and writes stay append-only between purges.
func (s *Store) Purge(maxAge time.Duration, maxBytes int64) (int64, error) {
	var removed int64

	if maxAge > 0 {
		cutoff := time.Now().UTC().Add(-maxAge).Format(time.RFC3339)
		n, err := s.purgeWhere(`created_at < ?`, cutoff)
		if err != nil {
			return removed, err
		}
		removed += n
	}

	if maxBytes > 0 {
		st, err := s.Stats()
		if err != nil {
			return removed, err
		}
		for st.TotalBytes > maxBytes {
			var key string
			var size int64
			err := s.db.QueryRow(`
				SELECT key, size FROM renders
				ORDER BY COALESCE(last_hit_at, created_at) ASC
				LIMIT 1
			`).Scan(&key, &size)
			if err == sql.ErrNoRows {
				break
			}
			if err != nil {
				return removed, fmt.Errorf("pick eviction victim: %w", err)
			}
			if err := s.evict(key); err != nil {
				return removed, err
			}
			removed++
			st.TotalBytes -= size
		}
	}

	return removed, nil
}

func (s *Store) purgeWhere(cond string, args ...any) (int64, error) {
	rows, err := s.db.Query(`SELECT key FROM renders WHERE `+cond, args...)
	if err != nil {
		return 0, fmt.Errorf("query purge candidates: %w", err)
	}
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			rows.Close()
			return 0, err
		}
		keys = append(keys, k)
	}
	rows.Close()

	var removed int64
	for _, k := range keys {
		if err := s.evict(k); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (s *Store) evict(key string) error {
	if err := os.Remove(s.Path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove artifact %s: %w", key, err)
	}
	_, err := s.db.Exec(`DELETE FROM renders WHERE key = ?`, key)
	return err
}
