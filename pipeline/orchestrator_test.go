package pipeline

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ohlcvsync/logger"
	"ohlcvsync/models"
	"ohlcvsync/processor"
	"ohlcvsync/reader"
	"ohlcvsync/resolver"
	"ohlcvsync/writer"
)

type fakeRegistry struct {
	entities []string
	listErr  error
	dates    map[string]time.Time
	dateErrs map[string]error
}

func (f *fakeRegistry) ListEntities(context.Context) ([]string, error) {
	return f.entities, f.listErr
}

func (f *fakeRegistry) MaxStoredDate(_ context.Context, id string) (time.Time, bool, error) {
	if err := f.dateErrs[id]; err != nil {
		return time.Time{}, false, err
	}
	d, ok := f.dates[id]
	return d, ok, nil
}

type fakeFetcher struct {
	bars    map[string][]models.Bar
	errs    map[string]error
	calls   []models.SyncWindow
	onFetch func(id string)
}

func (f *fakeFetcher) Fetch(_ context.Context, w models.SyncWindow) ([]models.Bar, error) {
	f.calls = append(f.calls, w)
	if f.onFetch != nil {
		f.onFetch(w.EntityID)
	}
	if err := f.errs[w.EntityID]; err != nil {
		return nil, err
	}
	return f.bars[w.EntityID], nil
}

type fakePublisher struct {
	published map[string][]byte
	fail      map[string]error
}

func (p *fakePublisher) KeyFor(id string, month models.MonthKey) string {
	return writer.Key(id, month)
}

func (p *fakePublisher) Publish(_ context.Context, key string, payload []byte) error {
	if err := p.fail[key]; err != nil {
		return &writer.PublishError{Op: "publish", Key: key, Err: err}
	}
	p.published[key] = payload
	return nil
}

type captureSink struct {
	reports []models.RunReport
}

func (s *captureSink) Save(_ context.Context, r models.RunReport) error {
	s.reports = append(s.reports, r)
	return nil
}

func dailyBar(id string, y int, m time.Month, d int) models.Bar {
	date := models.Date(y, m, d)
	return models.Bar{
		EntityID:  id,
		TradeDate: date,
		Open:      decimal.RequireFromString("100"),
		High:      decimal.RequireFromString("105"),
		Low:       decimal.RequireFromString("99"),
		Close:     decimal.RequireFromString("104"),
		Volume:    1000,
		Timestamp: date.Add(4 * time.Hour),
	}
}

// friday is 2025-09-12, so the end of every window is 2025-09-11.
var friday = time.Date(2025, time.September, 12, 10, 0, 0, 0, time.UTC)

type harness struct {
	registry  *fakeRegistry
	fetcher   *fakeFetcher
	publisher *fakePublisher
	sink      *captureSink
}

func newHarness() *harness {
	return &harness{
		registry:  &fakeRegistry{dates: map[string]time.Time{}, dateErrs: map[string]error{}},
		fetcher:   &fakeFetcher{bars: map[string][]models.Bar{}, errs: map[string]error{}},
		publisher: &fakePublisher{published: map[string][]byte{}, fail: map[string]error{}},
		sink:      &captureSink{},
	}
}

func (h *harness) orchestrator(t *testing.T, opts ...Option) *Orchestrator {
	t.Helper()
	log := logger.Logger()
	log.SetOutput(&bytes.Buffer{})

	pw, err := writer.NewParquetWriter("snappy", 0)
	require.NoError(t, err)

	base := []Option{
		WithClock(func() time.Time { return friday }),
		WithRunID(func() string { return "run-test" }),
		WithSink(h.sink),
		WithLogger(log),
	}
	o, err := New(Deps{
		Registry:    h.registry,
		Resolver:    resolver.New(2),
		Fetcher:     h.fetcher,
		Transformer: processor.NewTransformer(log),
		Writer:      pw,
		Publisher:   h.publisher,
	}, append(base, opts...)...)
	require.NoError(t, err)
	return o
}

func publishedKeys(res models.EntityResult) []string {
	keys := make([]string, 0, len(res.Published))
	for _, b := range res.Published {
		keys = append(keys, b.Key)
	}
	return keys
}

func assertBalanced(t *testing.T, r models.RunReport) {
	t.Helper()
	assert.Equal(t, r.NeedingSync, r.Succeeded+r.Failed, "succeeded + failed must equal needing sync")
	assert.Equal(t, r.Considered, r.NeedingSync+r.Skipped+r.NotStarted)
}

func TestRunPartialPublishFailure(t *testing.T) {
	h := newHarness()
	h.registry.entities = []string{"AAPL", "GOOG", "MSFT"}
	h.registry.dates["AAPL"] = models.Date(2025, time.June, 30)
	h.registry.dates["GOOG"] = models.Date(2025, time.September, 11)
	h.registry.dates["MSFT"] = models.Date(2025, time.September, 4)
	h.fetcher.bars["AAPL"] = []models.Bar{
		dailyBar("AAPL", 2025, time.July, 1),
		dailyBar("AAPL", 2025, time.August, 1),
		dailyBar("AAPL", 2025, time.September, 2),
	}
	h.fetcher.bars["MSFT"] = []models.Bar{dailyBar("MSFT", 2025, time.September, 5)}
	h.publisher.fail["AAPL_2025_08.parquet"] = errors.New("slow down")

	r, err := h.orchestrator(t).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "run-test", r.RunID)
	assert.Equal(t, 3, r.Considered)
	assert.Equal(t, 2, r.NeedingSync)
	assert.Equal(t, 1, r.Succeeded)
	assert.Equal(t, 1, r.Failed)
	assert.Equal(t, 1, r.Skipped)
	assert.Equal(t, 3, r.BlobsPublished)
	assert.Equal(t, models.RunPartial, r.Status())
	assertBalanced(t, r)

	require.Len(t, r.Results, 3)
	aapl := r.Results[0]
	assert.Equal(t, models.OutcomePartialFailure, aapl.Outcome)
	assert.Equal(t, models.StateDone, aapl.LastState)
	assert.Equal(t, models.StatePublishFailed, aapl.FailedAt)
	assert.Equal(t, []string{"AAPL_2025_08.parquet"}, aapl.FailedKeys)
	assert.Equal(t, []string{"AAPL_2025_07.parquet", "AAPL_2025_09.parquet"}, publishedKeys(aapl))
	assert.Equal(t, models.Date(2025, time.July, 1), aapl.Window.Start)
	assert.Equal(t, models.Date(2025, time.September, 11), aapl.Window.End)

	assert.Equal(t, models.OutcomeSkipped, r.Results[1].Outcome)
	assert.Equal(t, models.StateSkipped, r.Results[1].LastState)

	msft := r.Results[2]
	assert.Equal(t, models.OutcomeSuccess, msft.Outcome)
	assert.Equal(t, models.StateDone, msft.LastState)
	assert.Empty(t, msft.FailedAt)
	require.Len(t, msft.Published, 1)
	assert.Equal(t, 1, msft.Published[0].Rows)
	assert.Equal(t, len(h.publisher.published["MSFT_2025_09.parquet"]), msft.Published[0].Size)
	assert.Equal(t, models.MonthKey{Year: 2025, Month: time.September}, msft.Published[0].Month)

	// GOOG was never fetched
	require.Len(t, h.fetcher.calls, 2)
	assert.Equal(t, "MSFT", h.fetcher.calls[1].EntityID)

	require.Len(t, h.sink.reports, 1)
	assert.Equal(t, r, h.sink.reports[0])
}

func TestRunFetchFailureIsolated(t *testing.T) {
	h := newHarness()
	h.registry.entities = []string{"AAPL", "MSFT", "NVDA"}
	for _, id := range h.registry.entities {
		h.registry.dates[id] = models.Date(2025, time.September, 4)
		h.fetcher.bars[id] = []models.Bar{dailyBar(id, 2025, time.September, 5)}
	}
	h.fetcher.errs["MSFT"] = &reader.FetchError{Kind: reader.KindFatal, Cause: reader.KindRateLimited, EntityID: "MSFT", Status: 429, Attempts: 2}

	r, err := h.orchestrator(t).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, r.NeedingSync)
	assert.Equal(t, 2, r.Succeeded)
	assert.Equal(t, 1, r.Failed)
	assertBalanced(t, r)

	msft := r.Results[1]
	assert.Equal(t, models.OutcomeFatalFailure, msft.Outcome)
	assert.Equal(t, models.StateDone, msft.LastState)
	assert.Equal(t, models.StateFetchFailed, msft.FailedAt)
	require.Len(t, msft.Reasons, 1)
	assert.Contains(t, msft.Reasons[0], "rate_limited after 2 attempts")
	assert.Len(t, h.publisher.published, 2)
}

func TestRunAllFailedIsNotUpToDate(t *testing.T) {
	h := newHarness()
	h.registry.entities = []string{"AAPL", "MSFT"}
	for _, id := range h.registry.entities {
		h.fetcher.errs[id] = reader.NewError(reader.KindFatal, id, 401, errors.New("unauthorized"))
	}

	r, err := h.orchestrator(t).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, r.Status())
	assert.Equal(t, 2, r.NeedingSync)
	assert.Equal(t, 0, r.Succeeded)
	assertBalanced(t, r)

	// lookback window of two years for never-synced tickers
	assert.Equal(t, models.Date(2023, time.September, 12), h.fetcher.calls[0].Start)
}

func TestRunUpToDate(t *testing.T) {
	h := newHarness()
	h.registry.entities = []string{"AAPL", "MSFT"}
	h.registry.dates["AAPL"] = models.Date(2025, time.September, 11)
	h.registry.dates["MSFT"] = models.Date(2025, time.September, 11)

	r, err := h.orchestrator(t).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.RunUpToDate, r.Status())
	assert.Equal(t, 0, r.NeedingSync)
	assert.Equal(t, 2, r.Skipped)
	assert.Empty(t, h.fetcher.calls)
	assertBalanced(t, r)
}

func TestRunNoDataCountsAsSuccess(t *testing.T) {
	h := newHarness()
	h.registry.entities = []string{"DELISTED"}
	h.registry.dates["DELISTED"] = models.Date(2025, time.September, 4)

	r, err := h.orchestrator(t).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, r.Results, 1)
	assert.True(t, r.Results[0].NoData)
	assert.Equal(t, models.OutcomeSuccess, r.Results[0].Outcome)
	assert.Equal(t, 1, r.Succeeded)
	assert.Equal(t, 0, r.BlobsPublished)
}

func TestRunRegistryDateFailure(t *testing.T) {
	h := newHarness()
	h.registry.entities = []string{"AAPL", "MSFT"}
	h.registry.dateErrs["AAPL"] = errors.New("connection reset")
	h.registry.dates["MSFT"] = models.Date(2025, time.September, 4)
	h.fetcher.bars["MSFT"] = []models.Bar{dailyBar("MSFT", 2025, time.September, 8)}

	r, err := h.orchestrator(t).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeFatalFailure, r.Results[0].Outcome)
	assert.Equal(t, models.StateDone, r.Results[0].LastState)
	assert.Equal(t, models.StatePending, r.Results[0].FailedAt)
	assert.Equal(t, 1, r.Failed)
	assert.Equal(t, 1, r.Succeeded)
	assertBalanced(t, r)
}

func TestRunListFailure(t *testing.T) {
	h := newHarness()
	h.registry.listErr = errors.New("dial tcp: connection refused")

	r, err := h.orchestrator(t).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, models.RunFailed, r.Status())
	assert.Contains(t, r.Error, "connection refused")
	assert.False(t, r.FinishedAt.IsZero())
	require.Len(t, h.sink.reports, 1)
}

func TestRunInterruptedBetweenEntities(t *testing.T) {
	h := newHarness()
	h.registry.entities = []string{"AAPL", "MSFT", "NVDA"}
	for _, id := range h.registry.entities {
		h.registry.dates[id] = models.Date(2025, time.September, 4)
		h.fetcher.bars[id] = []models.Bar{dailyBar(id, 2025, time.September, 5)}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.fetcher.onFetch = func(string) { cancel() }

	r, err := h.orchestrator(t).Run(ctx)
	require.NoError(t, err)

	assert.True(t, r.Interrupted)
	assert.Equal(t, models.RunInterrupted, r.Status())
	assert.Equal(t, 2, r.NotStarted)
	assert.Equal(t, 1, r.Succeeded)
	assert.Equal(t, 0, r.Failed)
	assertBalanced(t, r)
	// the ticker in flight still published
	assert.Contains(t, h.publisher.published, "AAPL_2025_09.parquet")
}

func TestRunDryRunPublishesNothing(t *testing.T) {
	h := newHarness()
	h.registry.entities = []string{"AAPL"}
	h.registry.dates["AAPL"] = models.Date(2025, time.September, 4)
	h.fetcher.bars["AAPL"] = []models.Bar{dailyBar("AAPL", 2025, time.September, 5)}

	r, err := h.orchestrator(t, WithDryRun(true)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, r.Succeeded)
	assert.Equal(t, 0, r.BlobsPublished)
	assert.Empty(t, h.publisher.published)
}

// stalledStore accepts a Put but never finishes it before the context ends.
type stalledStore struct {
	writer.Store
	puts int
}

func (s *stalledStore) Put(ctx context.Context, _ string, _ []byte) error {
	s.puts++
	<-ctx.Done()
	return ctx.Err()
}

func (s *stalledStore) Location() string { return "stalled://" }

func TestRunStalledPublishTimesOut(t *testing.T) {
	h := newHarness()
	h.registry.entities = []string{"AAPL", "MSFT"}
	h.registry.dates["AAPL"] = models.Date(2025, time.September, 4)
	h.registry.dates["MSFT"] = models.Date(2025, time.September, 4)
	h.fetcher.bars["AAPL"] = []models.Bar{dailyBar("AAPL", 2025, time.September, 5)}
	h.fetcher.bars["MSFT"] = []models.Bar{dailyBar("MSFT", 2025, time.September, 5)}

	store := &stalledStore{}
	log := logger.Logger()
	log.SetOutput(&bytes.Buffer{})
	pub := writer.NewPublisher(store, "", log).WithTimeout(50 * time.Millisecond)

	pw, err := writer.NewParquetWriter("snappy", 0)
	require.NoError(t, err)
	o, err := New(Deps{
		Registry:    h.registry,
		Resolver:    resolver.New(2),
		Fetcher:     h.fetcher,
		Transformer: processor.NewTransformer(log),
		Writer:      pw,
		Publisher:   pub,
	}, WithClock(func() time.Time { return friday }), WithSink(h.sink), WithLogger(log))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.fetcher.onFetch = func(string) { cancel() }

	done := make(chan models.RunReport, 1)
	go func() {
		r, _ := o.Run(ctx)
		done <- r
	}()

	select {
	case r := <-done:
		assert.True(t, r.Interrupted)
		assert.Equal(t, 1, r.Failed)
		assert.Equal(t, 1, r.NotStarted)
		assert.Equal(t, 0, r.BlobsPublished)
		assertBalanced(t, r)

		aapl := r.Results[0]
		assert.Equal(t, models.OutcomeFatalFailure, aapl.Outcome)
		assert.Equal(t, models.StateDone, aapl.LastState)
		assert.Equal(t, models.StatePublishFailed, aapl.FailedAt)
		assert.Equal(t, []string{"AAPL_2025_09.parquet"}, aapl.FailedKeys)
		assert.Equal(t, 1, store.puts)
		require.Len(t, h.sink.reports, 1)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not finish after the publish deadline")
	}
}

func TestNewRequiresDeps(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
}

func TestReportBuilderFinalizesOnce(t *testing.T) {
	start := friday
	b := newReportBuilder("r", start)
	b.considered(1)
	b.add(models.EntityResult{EntityID: "AAPL", Outcome: models.OutcomeSuccess})
	first := b.finalize(start.Add(time.Minute))
	b.add(models.EntityResult{EntityID: "MSFT", Outcome: models.OutcomeFatalFailure})
	second := b.finalize(start.Add(time.Hour))

	assert.Equal(t, first, second)
	assert.Equal(t, time.Minute, second.Duration())
}
