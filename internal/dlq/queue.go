package dlq

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

const bucketName = "error_reports"

// Entry is one archived unresolved error report
type Entry struct {
	Fingerprint  string            `json:"fingerprint"`
	ReportID     string            `json:"report_id"`
	Operation    string            `json:"operation"`
	Service      string            `json:"service"`
	Category     string            `json:"category"`
	Severity     string            `json:"severity"`
	ErrorMessage string            `json:"error_message"`
	RetryCount   int               `json:"retry_count"`
	LastRetryAt  *time.Time        `json:"last_retry_at,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Stats contains archive statistics
type Stats struct {
	TotalEntries     int `json:"total_entries"`
	RetryableEntries int `json:"retryable_entries"`
	ExhaustedRetries int `json:"exhausted_retries"`
}

// Queue archives error reports that recovery could not resolve
type Queue struct {
	db         *bolt.DB
	maxRetries int
	logger     *slog.Logger
	now        func() time.Time
}

// Open opens (or creates) the archive file at path
func Open(path string, maxRetries int) (*Queue, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open error archive: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create archive bucket: %w", err)
	}
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &Queue{
		db:         db,
		maxRetries: maxRetries,
		logger:     slog.Default().With("component", "dlq"),
		now:        time.Now,
	}, nil
}

// Close releases the archive file
func (q *Queue) Close() error {
	return q.db.Close()
}

// Fingerprint identifies repeated occurrences of the same failure
func Fingerprint(operation, service, message string) string {
	sum := sha256.Sum256([]byte(operation + "\x00" + service + "\x00" + message))
	return hex.EncodeToString(sum[:16])
}

// Enqueue archives an entry. If the fingerprint already exists, its
// retry_count is incremented instead.
func (q *Queue) Enqueue(ctx context.Context, e Entry) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.Fingerprint == "" {
		e.Fingerprint = Fingerprint(e.Operation, e.Service, e.ErrorMessage)
	}

	var stored Entry
	err := q.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		now := q.now()

		if data := bucket.Get([]byte(e.Fingerprint)); data != nil {
			if err := json.Unmarshal(data, &stored); err != nil {
				return fmt.Errorf("failed to decode archived entry: %w", err)
			}
			stored.RetryCount++
			stored.ReportID = e.ReportID
			stored.ErrorMessage = e.ErrorMessage
			stored.Metadata = e.Metadata
			stored.UpdatedAt = now
			stored.LastRetryAt = &now
		} else {
			stored = e
			stored.RetryCount = 0
			stored.CreatedAt = now
			stored.UpdatedAt = now
		}

		data, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("failed to encode entry: %w", err)
		}
		return bucket.Put([]byte(stored.Fingerprint), data)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue error report: %w", err)
	}

	q.logger.Warn("error report archived",
		"fingerprint", stored.Fingerprint[:8],
		"operation", stored.Operation,
		"category", stored.Category,
		"retry_count", stored.RetryCount,
	)

	return &stored, nil
}

// Pending returns entries with retry_count below maxRetries, oldest first
func (q *Queue) Pending(ctx context.Context, maxRetries int) ([]Entry, error) {
	entries, err := q.all(ctx)
	if err != nil {
		return nil, err
	}
	pending := entries[:0]
	for _, e := range entries {
		if e.RetryCount < maxRetries {
			pending = append(pending, e)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	return pending, nil
}

// Recent returns the limit most recently updated entries
func (q *Queue) Recent(ctx context.Context, limit int) ([]Entry, error) {
	entries, err := q.all(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].UpdatedAt.After(entries[j].UpdatedAt)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// MarkResolved removes an entry after its failure has been resolved
func (q *Queue) MarkResolved(ctx context.Context, fingerprint string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	removed := false
	err := q.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		if bucket.Get([]byte(fingerprint)) == nil {
			return nil
		}
		removed = true
		return bucket.Delete([]byte(fingerprint))
	})
	if err != nil {
		return fmt.Errorf("failed to delete archived entry: %w", err)
	}
	if removed {
		q.logger.Info("error report resolved and removed from archive", "fingerprint", fingerprint)
	}
	return nil
}

// Stats returns archive statistics
func (q *Queue) Stats(ctx context.Context) (*Stats, error) {
	entries, err := q.all(ctx)
	if err != nil {
		return nil, err
	}
	stats := &Stats{TotalEntries: len(entries)}
	for _, e := range entries {
		if e.RetryCount >= q.maxRetries {
			stats.ExhaustedRetries++
		} else {
			stats.RetryableEntries++
		}
	}
	return stats, nil
}

// PurgeOld removes entries created before now-olderThan
func (q *Queue) PurgeOld(ctx context.Context, olderThan time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	cutoff := q.now().Add(-olderThan)

	purged := 0
	err := q.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		var stale [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if e.CreatedAt.Before(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		purged = len(stale)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to purge old archive entries: %w", err)
	}

	if purged > 0 {
		q.logger.Info("purged old archive entries",
			"count", purged,
			"older_than", olderThan,
		)
	}
	return purged, nil
}

func (q *Queue) all(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var entries []Entry
	err := q.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).ForEach(func(_, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				q.logger.Warn("failed to decode archived entry", "error", err)
				return nil
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read error archive: %w", err)
	}
	return entries, nil
}
