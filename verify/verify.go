// Package verify inspects published blobs after a run: bucket contents,
// sampled file layout, freshness, per-ticker progress, and bucket clearing.
package verify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"ohlcvsync/logger"
	"ohlcvsync/models"
	"ohlcvsync/writer"
)

type Status string

const (
	StatusPassed  Status = "PASSED"
	StatusWarning Status = "WARNING"
	StatusPartial Status = "PARTIAL"
	StatusFailed  Status = "FAILED"
)

// freshWithin is how recent an object must be to count as fresh.
const freshWithin = 24 * time.Hour

// ContentsResult describes what the store holds under the prefix.
type ContentsResult struct {
	Status     Status              `json:"status"`
	TotalFiles int                 `json:"total_files"`
	Tickers    []string            `json:"tickers"`
	Malformed  []string            `json:"malformed,omitempty"`
	Recent     []writer.ObjectInfo `json:"recent,omitempty"`
	Message    string              `json:"message"`
}

type FormatResult struct {
	Status  Status      `json:"status"`
	Files   []FileCheck `json:"files"`
	Message string      `json:"message"`
}

type FreshnessResult struct {
	Status        Status `json:"status"`
	RecentFiles   int    `json:"recent_files"`
	CurrentPeriod int    `json:"current_period_files"`
	Message       string `json:"message"`
}

// Summary is the outcome of a verification pass.
type Summary struct {
	Overall   Status          `json:"overall_status"`
	CheckedAt time.Time       `json:"checked_at"`
	Location  string          `json:"location"`
	Contents  ContentsResult  `json:"contents"`
	Format    FormatResult    `json:"format"`
	Freshness FreshnessResult `json:"freshness"`
	Passed    int             `json:"checks_passed"`
	Failed    int             `json:"checks_failed"`
	Warnings  int             `json:"warnings"`
}

// ExitCode maps the overall status to 0, 1 or 2.
func (s Summary) ExitCode() int {
	switch s.Overall {
	case StatusPassed:
		return 0
	case StatusWarning:
		return 1
	default:
		return 2
	}
}

type Verifier struct {
	store   writer.Store
	prefix  string
	samples int
	now     func() time.Time
	log     *logger.Log
}

type Option func(*Verifier)

func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// WithSamples sets how many blobs are downloaded and decoded.
func WithSamples(n int) Option {
	return func(v *Verifier) {
		if n > 0 {
			v.samples = n
		}
	}
}

func New(store writer.Store, prefix string, log *logger.Log, opts ...Option) *Verifier {
	if log == nil {
		log = logger.GetLogger()
	}
	v := &Verifier{store: store, prefix: prefix, samples: 3, now: time.Now, log: log}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Run lists the store once and runs every check against that listing.
func (v *Verifier) Run(ctx context.Context) Summary {
	log := v.log.WithComponent("verify")
	now := v.now()
	s := Summary{CheckedAt: now, Location: v.store.Location()}

	objs, err := v.store.List(ctx, v.prefix)
	if err != nil {
		msg := fmt.Sprintf("list %s: %v", v.store.Location(), err)
		s.Contents = ContentsResult{Status: StatusFailed, Message: msg}
		s.Format = FormatResult{Status: StatusFailed, Message: msg}
		s.Freshness = FreshnessResult{Status: StatusFailed, Message: msg}
		log.WithError(err).Error("cannot list store")
	} else {
		sort.Slice(objs, func(i, j int) bool { return objs[i].Key < objs[j].Key })
		s.Contents = v.contents(objs, now)
		s.Format = v.format(ctx, objs)
		s.Freshness = v.freshness(objs, now)
	}

	for _, st := range []Status{s.Contents.Status, s.Format.Status, s.Freshness.Status} {
		switch st {
		case StatusPassed:
			s.Passed++
		case StatusWarning:
			s.Warnings++
		default:
			s.Failed++
		}
	}
	switch {
	case s.Failed > 0:
		s.Overall = StatusFailed
	case s.Warnings > 0:
		s.Overall = StatusWarning
	default:
		s.Overall = StatusPassed
	}

	log.WithFields(logger.Fields{
		"overall":  string(s.Overall),
		"passed":   s.Passed,
		"failed":   s.Failed,
		"warnings": s.Warnings,
		"files":    s.Contents.TotalFiles,
		"tickers":  len(s.Contents.Tickers),
	}).Info("verification finished")
	return s
}

// emptyNote explains an empty store: the warehouse COPY may have consumed
// and removed the files.
const emptyNote = "no files found; they may have been consumed by the warehouse load"

func (v *Verifier) contents(objs []writer.ObjectInfo, now time.Time) ContentsResult {
	if len(objs) == 0 {
		return ContentsResult{Status: StatusWarning, Tickers: []string{}, Message: emptyNote}
	}

	res := ContentsResult{Status: StatusPassed, TotalFiles: len(objs)}
	tickers := map[string]struct{}{}
	for _, o := range objs {
		id, _, ok := writer.ParseKey(strings.TrimPrefix(o.Key, v.prefix))
		if !ok {
			res.Malformed = append(res.Malformed, o.Key)
			continue
		}
		tickers[id] = struct{}{}
		if now.Sub(o.LastModified) < freshWithin {
			res.Recent = append(res.Recent, o)
		}
	}
	for t := range tickers {
		res.Tickers = append(res.Tickers, t)
	}
	sort.Strings(res.Tickers)

	if len(res.Malformed) > 0 {
		res.Status = StatusWarning
	}
	res.Message = fmt.Sprintf("found %d files for %d tickers", res.TotalFiles, len(res.Tickers))
	if len(res.Malformed) > 0 {
		res.Message += fmt.Sprintf(", %d with unexpected names", len(res.Malformed))
	}
	return res
}

// sampleKeys picks n keys spread evenly from first to last.
func sampleKeys(keys []string, n int) []string {
	if len(keys) <= n {
		return keys
	}
	out := make([]string, 0, n)
	if n == 1 {
		return append(out, keys[0])
	}
	for i := 0; i < n; i++ {
		out = append(out, keys[i*(len(keys)-1)/(n-1)])
	}
	return out
}

func (v *Verifier) format(ctx context.Context, objs []writer.ObjectInfo) FormatResult {
	var keys []string
	for _, o := range objs {
		if strings.HasSuffix(o.Key, ".parquet") {
			keys = append(keys, o.Key)
		}
	}
	if len(keys) == 0 {
		return FormatResult{Status: StatusWarning, Message: emptyNote}
	}

	log := v.log.WithComponent("verify")
	res := FormatResult{}
	passed := 0
	for _, key := range sampleKeys(keys, v.samples) {
		payload, err := v.store.Get(ctx, key)
		var fc FileCheck
		if err != nil {
			fc = FileCheck{Key: key, Status: StatusFailed, Error: err.Error()}
		} else {
			fc = inspect(key, payload)
		}
		if fc.Status == StatusPassed {
			passed++
			log.WithFields(logger.Fields{"key": key, "rows": fc.Rows, "anomalies": fc.Anomalies}).Info("format check passed")
		} else {
			log.WithFields(logger.Fields{"key": key, "error": fc.Error}).Error("format check failed")
		}
		res.Files = append(res.Files, fc)
	}

	switch {
	case passed == len(res.Files):
		res.Status = StatusPassed
	case passed > 0:
		res.Status = StatusPartial
	default:
		res.Status = StatusFailed
	}
	res.Message = fmt.Sprintf("format verification: %d/%d files passed", passed, len(res.Files))
	return res
}

func (v *Verifier) freshness(objs []writer.ObjectInfo, now time.Time) FreshnessResult {
	if len(objs) == 0 {
		return FreshnessResult{Status: StatusWarning, Message: emptyNote}
	}

	current := models.MonthKey{Year: now.Year(), Month: now.Month()}
	res := FreshnessResult{}
	for _, o := range objs {
		if now.Sub(o.LastModified) < freshWithin {
			res.RecentFiles++
		}
		if _, month, ok := writer.ParseKey(strings.TrimPrefix(o.Key, v.prefix)); ok && month == current {
			res.CurrentPeriod++
		}
	}

	res.Status = StatusPassed
	if res.RecentFiles == 0 {
		res.Status = StatusWarning
	}
	res.Message = fmt.Sprintf("found %d files modified in the last 24 hours", res.RecentFiles)
	return res
}

// baseName strips any directory part of a key.
func baseName(key string) string {
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[i+1:]
	}
	return key
}
