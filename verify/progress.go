package verify

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"ohlcvsync/models"
	"ohlcvsync/writer"
)

// TickerProgress counts the blobs published for one ticker.
type TickerProgress struct {
	Ticker string          `json:"ticker"`
	Files  int             `json:"files"`
	Bytes  int64           `json:"bytes"`
	First  models.MonthKey `json:"-"`
	Latest models.MonthKey `json:"-"`
}

type Progress struct {
	Files     int              `json:"files"`
	Malformed int              `json:"malformed"`
	Tickers   []TickerProgress `json:"tickers"`
}

// Coverage returns how many of the expected tickers have at least one blob.
func (p Progress) Coverage(expected []string) (have int, missing []string) {
	seen := make(map[string]bool, len(p.Tickers))
	for _, t := range p.Tickers {
		seen[t.Ticker] = true
	}
	for _, e := range expected {
		if seen[e] {
			have++
		} else {
			missing = append(missing, e)
		}
	}
	return have, missing
}

// BuildProgress groups the blobs under prefix by ticker.
func BuildProgress(ctx context.Context, store writer.Store, prefix string) (Progress, error) {
	objs, err := store.List(ctx, prefix)
	if err != nil {
		return Progress{}, fmt.Errorf("list %s: %w", store.Location(), err)
	}

	byTicker := map[string]*TickerProgress{}
	p := Progress{Files: len(objs)}
	for _, o := range objs {
		id, month, ok := writer.ParseKey(strings.TrimPrefix(o.Key, prefix))
		if !ok {
			p.Malformed++
			continue
		}
		tp, ok := byTicker[id]
		if !ok {
			tp = &TickerProgress{Ticker: id, First: month, Latest: month}
			byTicker[id] = tp
		}
		tp.Files++
		tp.Bytes += o.Size
		if month.Before(tp.First) {
			tp.First = month
		}
		if tp.Latest.Before(month) {
			tp.Latest = month
		}
	}

	for _, tp := range byTicker {
		p.Tickers = append(p.Tickers, *tp)
	}
	sort.Slice(p.Tickers, func(i, j int) bool { return p.Tickers[i].Ticker < p.Tickers[j].Ticker })
	return p, nil
}
