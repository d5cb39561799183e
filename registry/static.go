package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ohlcvsync/models"
	"ohlcvsync/writer"
)

// Static lists tickers from configuration. With a store attached, the last
// stored date is read back from the newest published blob of each ticker;
// without one every ticker is treated as never synced.
type Static struct {
	tickers []string
	store   writer.Store
	prefix  string
}

func NewStatic(tickers []string) *Static {
	return &Static{tickers: normalizeTickers(tickers)}
}

// WithStore makes MaxStoredDate consult published blobs under prefix.
func (s *Static) WithStore(store writer.Store, prefix string) *Static {
	s.store = store
	s.prefix = prefix
	return s
}

func (s *Static) ListEntities(context.Context) ([]string, error) {
	if len(s.tickers) == 0 {
		return nil, ErrNoTickers
	}
	return append([]string(nil), s.tickers...), nil
}

func (s *Static) MaxStoredDate(ctx context.Context, entityID string) (time.Time, bool, error) {
	if s.store == nil {
		return time.Time{}, false, nil
	}

	objs, err := s.store.List(ctx, s.prefix+entityID+"_")
	if err != nil {
		return time.Time{}, false, fmt.Errorf("list blobs for %s: %w", entityID, err)
	}

	var (
		latestKey   string
		latestMonth models.MonthKey
	)
	for _, o := range objs {
		id, month, ok := writer.ParseKey(strings.TrimPrefix(o.Key, s.prefix))
		if !ok || id != entityID {
			continue
		}
		if latestKey == "" || latestMonth.Before(month) {
			latestKey, latestMonth = o.Key, month
		}
	}
	if latestKey == "" {
		return time.Time{}, false, nil
	}

	data, err := s.store.Get(ctx, latestKey)
	if errors.Is(err, writer.ErrObjectNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read %s: %w", latestKey, err)
	}
	rows, err := writer.ReadRows(data)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("decode %s: %w", latestKey, err)
	}

	var last time.Time
	for _, r := range rows {
		if d := r.Date(); d.After(last) {
			last = d
		}
	}
	if last.IsZero() {
		return time.Time{}, false, nil
	}
	return last, true, nil
}
