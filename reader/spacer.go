package reader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"ohlcvsync/logger"
)

// Limiter gates the start of every provider call.
type Limiter interface {
	Wait(ctx context.Context) error
}

type noDelay struct{}

func (noDelay) Wait(ctx context.Context) error {
	return ctx.Err()
}

// NoDelay lets every call through immediately.
var NoDelay Limiter = noDelay{}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the real-clock SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Spacer keeps consecutive call starts at least spacing apart for the whole
// run, including retries. One Spacer is shared by every fetch of a run.
type Spacer struct {
	mu      sync.Mutex
	spacing time.Duration
	limiter *rate.Limiter
	now     func() time.Time
	sleep   SleepFunc
	log     *logger.Log
}

type SpacerOption func(*Spacer)

// WithClock replaces the real clock, for tests driving fake time.
func WithClock(now func() time.Time, sleep SleepFunc) SpacerOption {
	return func(s *Spacer) {
		s.now = now
		s.sleep = sleep
	}
}

func WithSpacerLogger(log *logger.Log) SpacerOption {
	return func(s *Spacer) { s.log = log }
}

func NewSpacer(spacing time.Duration, opts ...SpacerOption) *Spacer {
	s := &Spacer{
		spacing: spacing,
		limiter: rate.NewLimiter(rate.Every(spacing), 1),
		now:     time.Now,
		sleep:   Sleep,
		log:     logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Spacer) Spacing() time.Duration {
	return s.spacing
}

// Wait blocks until the next call may start. A cancelled wait gives its slot
// back.
func (s *Spacer) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	now := s.now()
	r := s.limiter.ReserveN(now, 1)
	if !r.OK() {
		s.mu.Unlock()
		return fmt.Errorf("spacer: reservation refused")
	}
	delay := quantize(r.DelayFrom(now))
	s.mu.Unlock()

	if delay <= 0 {
		return nil
	}

	logger.IncrementRateLimitWait()
	s.log.WithComponent("spacer").WithFields(logger.Fields{
		"delay_ms": delay.Milliseconds(),
	}).Debug("waiting for provider slot")

	if err := s.sleep(ctx, delay); err != nil {
		s.mu.Lock()
		r.CancelAt(s.now())
		s.mu.Unlock()
		return err
	}
	return nil
}

// quantize removes the float rounding noise of the token bucket and rounds
// up to whole milliseconds so a start is never early.
func quantize(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	d = d.Round(time.Microsecond)
	if rem := d % time.Millisecond; rem != 0 {
		d += time.Millisecond - rem
	}
	return d
}
