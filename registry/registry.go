// Package registry answers which tickers exist and how far each one is
// already stored.
package registry

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
)

// ErrNoTickers is returned when the registry lists nothing to sync.
var ErrNoTickers = errors.New("registry lists no tickers")

// Registry is the read-only view the orchestrator needs.
type Registry interface {
	ListEntities(ctx context.Context) ([]string, error)
	// MaxStoredDate reports the latest stored trade date. ok is false when
	// nothing is stored for the ticker yet.
	MaxStoredDate(ctx context.Context, entityID string) (date time.Time, ok bool, err error)
}

// normalizeTickers upper-cases, trims, drops blanks and duplicates, and sorts.
func normalizeTickers(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
