// Package reader fetches daily bars from a price provider under a shared
// call-spacing budget.
package reader

import (
	"context"
	"errors"
	"sort"
	"time"

	"ohlcvsync/logger"
	"ohlcvsync/models"
)

// Provider performs exactly one request for a window. Failures must be
// *FetchError values.
type Provider interface {
	Name() string
	FetchDaily(ctx context.Context, window models.SyncWindow) ([]models.Bar, error)
}

// Fetcher is what the orchestrator depends on.
type Fetcher interface {
	Fetch(ctx context.Context, window models.SyncWindow) ([]models.Bar, error)
}

// Backoff holds the pause before the second attempt, per failure kind.
type Backoff struct {
	RateLimited time.Duration
	Transient   time.Duration
}

func (b Backoff) forKind(k Kind) time.Duration {
	if k == KindRateLimited {
		return b.RateLimited
	}
	return b.Transient
}

const maxAttempts = 2

// Client drives a Provider through the attempt/retry/escalate cycle. A
// not-found answer yields no bars and no error.
type Client struct {
	provider Provider
	limiter  Limiter
	backoff  Backoff
	sleep    SleepFunc
	log      *logger.Log
}

type ClientOption func(*Client)

func WithBackoff(b Backoff) ClientOption {
	return func(c *Client) { c.backoff = b }
}

func WithSleep(sleep SleepFunc) ClientOption {
	return func(c *Client) { c.sleep = sleep }
}

func WithLogger(log *logger.Log) ClientOption {
	return func(c *Client) { c.log = log }
}

func NewClient(provider Provider, limiter Limiter, opts ...ClientOption) *Client {
	if limiter == nil {
		limiter = NoDelay
	}
	c := &Client{
		provider: provider,
		limiter:  limiter,
		backoff:  Backoff{RateLimited: 60 * time.Second, Transient: 5 * time.Second},
		sleep:    Sleep,
		log:      logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Fetch(ctx context.Context, window models.SyncWindow) ([]models.Bar, error) {
	log := c.log.WithComponent("fetch_client").WithFields(logger.Fields{
		"provider": c.provider.Name(),
		"ticker":   window.EntityID,
		"start":    window.Start.Format(models.DateLayout),
		"end":      window.End.Format(models.DateLayout),
	})

	for attempt := 1; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &FetchError{Kind: KindFatal, Cause: KindFatal, EntityID: window.EntityID, Attempts: attempt - 1, Err: err}
		}

		logger.IncrementProviderCall()
		started := time.Now()
		bars, err := c.provider.FetchDaily(ctx, window)
		if err == nil {
			sortBars(bars)
			logger.LogPerformanceEntry(log, "fetch_client", "fetch_daily", time.Since(started), logger.Fields{"bars": len(bars), "attempt": attempt})
			return bars, nil
		}

		var fe *FetchError
		if !errors.As(err, &fe) {
			fe = NewError(KindFatal, window.EntityID, 0, err)
		}
		fe.Attempts = attempt

		switch {
		case fe.Kind == KindNotFound:
			log.WithFields(logger.Fields{"status": fe.Status}).Info("provider has no data for window")
			return nil, nil
		case !fe.Kind.Retryable():
			log.WithError(fe).Error("fetch failed")
			return nil, fe
		}

		if fe.Kind == KindRateLimited {
			reportRateLimited(c.log, c.provider.Name(), window.EntityID, attempt)
		}

		if attempt >= maxAttempts {
			escalated := &FetchError{
				Kind:     KindFatal,
				Cause:    fe.Kind,
				EntityID: window.EntityID,
				Status:   fe.Status,
				Attempts: attempt,
				Err:      fe.Err,
			}
			log.WithError(escalated).Error("fetch failed after retry")
			return nil, escalated
		}

		wait := c.backoff.forKind(fe.Kind)
		log.WithError(fe).WithFields(logger.Fields{"attempt": attempt, "backoff_ms": wait.Milliseconds()}).Warn("fetch attempt failed, retrying")
		if err := c.sleep(ctx, wait); err != nil {
			return nil, &FetchError{Kind: KindFatal, Cause: fe.Kind, EntityID: window.EntityID, Status: fe.Status, Attempts: attempt, Err: err}
		}
	}
}

// sortBars orders bars by trade date, keeping provider order for ties.
func sortBars(bars []models.Bar) {
	sort.SliceStable(bars, func(i, j int) bool {
		return bars[i].TradeDate.Before(bars[j].TradeDate)
	})
}
