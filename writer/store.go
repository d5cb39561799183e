// Package writer encodes monthly batches as parquet and publishes them to an
// object store under deterministic keys.
package writer

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"ohlcvsync/models"
)

// ErrObjectNotFound is returned by Get for a missing key.
var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Store is the object store behind the publisher and the maintenance tools.
// Put overwrites and is atomic: readers see the old object or the new one.
type Store interface {
	Put(ctx context.Context, key string, payload []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, keys []string) (int, error)
	Location() string
}

// PublishError reports a store failure for a single key.
type PublishError struct {
	Op  string
	Key string
	Err error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// Key is the object name for one ticker-month, e.g. AAPL_2025_09.parquet.
func Key(entityID string, month models.MonthKey) string {
	return fmt.Sprintf("%s_%04d_%02d.parquet", entityID, month.Year, int(month.Month))
}

var keyPattern = regexp.MustCompile(`^(.+)_(\d{4})_(\d{2})\.parquet$`)

// ParseKey splits a key produced by Key. Any prefix must be removed first.
func ParseKey(key string) (string, models.MonthKey, bool) {
	m := keyPattern.FindStringSubmatch(key)
	if m == nil {
		return "", models.MonthKey{}, false
	}
	year, _ := strconv.Atoi(m[2])
	month, _ := strconv.Atoi(m[3])
	if month < 1 || month > 12 {
		return "", models.MonthKey{}, false
	}
	return m[1], models.MonthKey{Year: year, Month: time.Month(month)}, true
}

// normalizePrefix turns "" into "" and "a/b" or "/a/b/" into "a/b/".
func normalizePrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

func normalizeBucketName(raw string) (string, error) {
	bucket := strings.TrimSpace(raw)
	if bucket == "" {
		return "", fmt.Errorf("bucket not configured")
	}
	return bucket, nil
}
