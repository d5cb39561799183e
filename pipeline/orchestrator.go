// Package pipeline runs one sync pass over every registered ticker:
// resolve, fetch, transform, write and publish, strictly in sequence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ohlcvsync/logger"
	"ohlcvsync/models"
	"ohlcvsync/processor"
	"ohlcvsync/reader"
	"ohlcvsync/registry"
	"ohlcvsync/report"
	"ohlcvsync/resolver"
)

// BatchWriter encodes one monthly batch.
type BatchWriter interface {
	Write(batch models.MonthlyBatch) ([]byte, error)
}

// Publisher stores encoded batches under deterministic keys.
type Publisher interface {
	KeyFor(entityID string, month models.MonthKey) string
	Publish(ctx context.Context, key string, payload []byte) error
}

// Deps are the collaborators of an Orchestrator. All are required.
type Deps struct {
	Registry    registry.Registry
	Resolver    *resolver.Resolver
	Fetcher     reader.Fetcher
	Transformer *processor.Transformer
	Writer      BatchWriter
	Publisher   Publisher
}

type Orchestrator struct {
	Deps

	sink     report.Sink
	now      func() time.Time
	location *time.Location
	newRunID func() string
	dryRun   bool
	log      *logger.Log
}

type Option func(*Orchestrator)

// WithClock replaces time.Now, which decides "today".
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithLocation sets the zone in which "today" is evaluated.
func WithLocation(loc *time.Location) Option {
	return func(o *Orchestrator) { o.location = loc }
}

func WithSink(sink report.Sink) Option {
	return func(o *Orchestrator) { o.sink = sink }
}

func WithRunID(fn func() string) Option {
	return func(o *Orchestrator) { o.newRunID = fn }
}

// WithDryRun encodes batches but never publishes them.
func WithDryRun(dry bool) Option {
	return func(o *Orchestrator) { o.dryRun = dry }
}

func WithLogger(log *logger.Log) Option {
	return func(o *Orchestrator) { o.log = log }
}

func New(deps Deps, opts ...Option) (*Orchestrator, error) {
	switch {
	case deps.Registry == nil:
		return nil, errors.New("orchestrator: registry is required")
	case deps.Resolver == nil:
		return nil, errors.New("orchestrator: resolver is required")
	case deps.Fetcher == nil:
		return nil, errors.New("orchestrator: fetcher is required")
	case deps.Transformer == nil:
		return nil, errors.New("orchestrator: transformer is required")
	case deps.Writer == nil:
		return nil, errors.New("orchestrator: writer is required")
	case deps.Publisher == nil:
		return nil, errors.New("orchestrator: publisher is required")
	}

	o := &Orchestrator{
		Deps:     deps,
		now:      time.Now,
		location: time.UTC,
		newRunID: uuid.NewString,
		log:      logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run syncs every registered ticker once and returns the finalized report.
// The error is non-nil only when the ticker list itself could not be read;
// the report is valid either way.
//
// Cancelling ctx stops the run between tickers. The ticker in flight runs to
// completion so no month is left half published.
func (o *Orchestrator) Run(ctx context.Context) (models.RunReport, error) {
	b := newReportBuilder(o.newRunID(), o.now())
	log := o.log.WithComponent("orchestrator").WithField("run_id", b.report.RunID)
	today := models.DateOf(o.now().In(o.location))

	log.WithFields(logger.Fields{
		"today":   today.Format(models.DateLayout),
		"dry_run": o.dryRun,
	}).Info("sync run started")

	entities, err := o.Registry.ListEntities(ctx)
	if err != nil {
		err = fmt.Errorf("list tickers: %w", err)
		log.WithError(err).Error("cannot list tickers")
		b.fail(err)
		r := b.finalize(o.now())
		o.emit(ctx, r)
		return r, err
	}
	b.considered(len(entities))

	for i, id := range entities {
		if ctx.Err() != nil {
			log.WithFields(logger.Fields{
				"processed":   i,
				"not_started": len(entities) - i,
			}).Warn("run interrupted, remaining tickers not started")
			b.interrupt(len(entities) - i)
			break
		}
		b.add(o.syncEntity(context.WithoutCancel(ctx), id, today))
	}

	r := b.finalize(o.now())
	o.emit(ctx, r)
	return r, nil
}

func (o *Orchestrator) emit(ctx context.Context, r models.RunReport) {
	if o.sink == nil {
		return
	}
	if err := o.sink.Save(context.WithoutCancel(ctx), r); err != nil {
		o.log.WithComponent("orchestrator").WithError(err).Warn("failed to deliver run report")
	}
}

// syncEntity drives one ticker to a terminal state, DONE or SKIPPED. Every
// failure is captured in the result; nothing escapes to the caller.
func (o *Orchestrator) syncEntity(ctx context.Context, id string, today time.Time) models.EntityResult {
	res := models.EntityResult{EntityID: id, LastState: models.StatePending}
	log := o.log.WithComponent("orchestrator").WithField("ticker", id)

	transition := func(state models.State) {
		res.LastState = state
		log.WithField("state", string(state)).Debug("state transition")
	}
	fatal := func(state models.State, reason string) models.EntityResult {
		res.Outcome = models.OutcomeFatalFailure
		res.FailedAt = state
		res.Reasons = append(res.Reasons, reason)
		log.WithFields(logger.Fields{"state": string(state), "reason": reason}).Error("ticker failed")
		transition(models.StateDone)
		return res
	}

	last, stored, err := o.Registry.MaxStoredDate(ctx, id)
	if err != nil {
		return fatal(models.StatePending, "registry: "+err.Error())
	}
	var lastStored *time.Time
	if stored {
		lastStored = &last
	}

	window, needed := o.Resolver.Resolve(id, lastStored, today)
	if !needed {
		res.Outcome = models.OutcomeSkipped
		transition(models.StateSkipped)
		log.Debug("already up to date")
		return res
	}
	res.Window = &window
	log = log.WithField("window", window.String())
	transition(models.StateResolved)
	log.Info("sync window resolved")

	bars, err := o.Fetcher.Fetch(ctx, window)
	if err != nil {
		return fatal(models.StateFetchFailed, "fetch: "+err.Error())
	}
	transition(models.StateFetched)

	if len(bars) == 0 {
		res.Outcome = models.OutcomeSuccess
		res.NoData = true
		log.Info("provider returned no bars for window")
		transition(models.StateDone)
		return res
	}

	result := o.Transformer.Transform(id, bars)
	res.Bars = result.Bars()
	res.Anomalies = len(result.Anomalies)
	transition(models.StateTransformed)

	for _, batch := range result.Batches {
		key := o.Publisher.KeyFor(id, batch.Key)
		size, err := o.publishBatch(ctx, key, batch)
		if err != nil {
			res.FailedKeys = append(res.FailedKeys, key)
			res.Reasons = append(res.Reasons, err.Error())
			res.FailedAt = models.StatePublishFailed
			log.WithError(err).WithFields(logger.Fields{
				"key":   key,
				"state": string(models.StatePublishFailed),
			}).Error("batch not published")
			continue
		}
		if o.dryRun {
			continue
		}
		res.Published = append(res.Published, models.PublishedBlob{
			Key:      key,
			EntityID: id,
			Month:    batch.Key,
			Rows:     len(batch.Bars),
			Size:     size,
		})
		transition(models.StatePublished)
	}

	switch {
	case len(res.FailedKeys) == 0:
		res.Outcome = models.OutcomeSuccess
	case len(res.FailedKeys) == len(result.Batches):
		res.Outcome = models.OutcomeFatalFailure
	default:
		res.Outcome = models.OutcomePartialFailure
	}
	transition(models.StateDone)

	log.WithFields(logger.Fields{
		"outcome":   string(res.Outcome),
		"bars":      res.Bars,
		"published": len(res.Published),
		"failed":    len(res.FailedKeys),
		"anomalies": res.Anomalies,
	}).Info("ticker done")
	return res
}

// publishBatch encodes and publishes one batch, returning the payload size.
func (o *Orchestrator) publishBatch(ctx context.Context, key string, batch models.MonthlyBatch) (int, error) {
	payload, err := o.Writer.Write(batch)
	if err != nil {
		return 0, err
	}
	if o.dryRun {
		o.log.WithComponent("orchestrator").WithFields(logger.Fields{
			"key":   key,
			"rows":  len(batch.Bars),
			"bytes": len(payload),
		}).Info("dry run: batch encoded, not published")
		return len(payload), nil
	}
	return len(payload), o.Publisher.Publish(ctx, key, payload)
}
