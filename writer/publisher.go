package writer

import (
	"context"
	"time"

	"ohlcvsync/logger"
	"ohlcvsync/models"
)

// DefaultPublishTimeout bounds a single Put when no timeout is configured.
const DefaultPublishTimeout = 30 * time.Second

// Publisher writes encoded batches to a Store under their deterministic key.
type Publisher struct {
	store   Store
	prefix  string
	timeout time.Duration
	log     *logger.Log
}

func NewPublisher(store Store, prefix string, log *logger.Log) *Publisher {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Publisher{store: store, prefix: normalizePrefix(prefix), timeout: DefaultPublishTimeout, log: log}
}

// WithTimeout sets the deadline applied to every Put. Non-positive values keep
// the default.
func (p *Publisher) WithTimeout(d time.Duration) *Publisher {
	if d > 0 {
		p.timeout = d
	}
	return p
}

// KeyFor returns the full object key, prefix included.
func (p *Publisher) KeyFor(entityID string, month models.MonthKey) string {
	return p.prefix + Key(entityID, month)
}

// Prefix is the key prefix under which all blobs are published.
func (p *Publisher) Prefix() string {
	return p.prefix
}

// Publish overwrites key with payload. Failures come back as *PublishError.
func (p *Publisher) Publish(ctx context.Context, key string, payload []byte) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.store.Put(ctx, key, payload); err != nil {
		p.log.WithComponent("publisher").WithError(err).WithFields(logger.Fields{
			"key":      key,
			"location": p.store.Location(),
			"timeout":  p.timeout.String(),
		}).Error("publish failed")
		return &PublishError{Op: "publish", Key: key, Err: err}
	}

	logger.IncrementBlobWritten(len(payload))
	p.log.WithComponent("publisher").WithFields(logger.Fields{
		"key":         key,
		"bytes":       len(payload),
		"location":    p.store.Location(),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("blob published")
	return nil
}
