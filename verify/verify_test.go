package verify

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ohlcvsync/logger"
	"ohlcvsync/models"
	"ohlcvsync/writer"
)

var checkedAt = time.Date(2025, time.September, 12, 12, 0, 0, 0, time.UTC)

func quietLogger() *logger.Log {
	log := logger.Logger()
	log.SetOutput(&bytes.Buffer{})
	return log
}

func encode(t *testing.T, id string, month models.MonthKey, highs ...string) []byte {
	t.Helper()
	batch := models.MonthlyBatch{EntityID: id, Key: month}
	for i, h := range highs {
		date := models.Date(month.Year, month.Month, i+1)
		batch.Bars = append(batch.Bars, models.Bar{
			EntityID:  id,
			TradeDate: date,
			Open:      decimal.RequireFromString("10"),
			High:      decimal.RequireFromString(h),
			Low:       decimal.RequireFromString("9"),
			Close:     decimal.RequireFromString("10.5"),
			Volume:    int64(100 * (i + 1)),
			Timestamp: date.Add(4 * time.Hour),
		})
	}
	w, err := writer.NewParquetWriter("snappy", 0)
	require.NoError(t, err)
	data, err := w.Write(batch)
	require.NoError(t, err)
	return data
}

func put(t *testing.T, store *writer.LocalStore, dir, key string, data []byte, modified time.Time) {
	t.Helper()
	require.NoError(t, store.Put(context.Background(), key, data))
	require.NoError(t, os.Chtimes(filepath.Join(dir, key), modified, modified))
}

func newStore(t *testing.T) (*writer.LocalStore, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := writer.NewLocalStore(dir)
	require.NoError(t, err)
	return store, dir
}

func sept() models.MonthKey { return models.MonthKey{Year: 2025, Month: time.September} }
func aug() models.MonthKey  { return models.MonthKey{Year: 2025, Month: time.August} }

func TestVerifyEmptyStoreIsWarning(t *testing.T) {
	store, _ := newStore(t)
	s := New(store, "", quietLogger(), WithClock(func() time.Time { return checkedAt })).Run(context.Background())

	assert.Equal(t, StatusWarning, s.Overall)
	assert.Equal(t, 1, s.ExitCode())
	assert.Equal(t, 3, s.Warnings)
	assert.Contains(t, s.Contents.Message, "warehouse load")
}

func TestVerifyHealthyStore(t *testing.T) {
	store, dir := newStore(t)
	recent := checkedAt.Add(-time.Hour)
	put(t, store, dir, "AAPL_2025_08.parquet", encode(t, "AAPL", aug(), "11", "12"), recent)
	put(t, store, dir, "AAPL_2025_09.parquet", encode(t, "AAPL", sept(), "11"), recent)
	put(t, store, dir, "MSFT_2025_09.parquet", encode(t, "MSFT", sept(), "11", "12", "13"), recent)
	put(t, store, dir, "NVDA_2025_09.parquet", encode(t, "NVDA", sept(), "11"), recent)

	s := New(store, "", quietLogger(), WithClock(func() time.Time { return checkedAt })).Run(context.Background())

	assert.Equal(t, StatusPassed, s.Overall, "%+v", s)
	assert.Equal(t, 0, s.ExitCode())
	assert.Equal(t, 4, s.Contents.TotalFiles)
	assert.Equal(t, []string{"AAPL", "MSFT", "NVDA"}, s.Contents.Tickers)
	assert.Len(t, s.Contents.Recent, 4)
	assert.Equal(t, 3, s.Freshness.CurrentPeriod)

	require.Len(t, s.Format.Files, 3)
	assert.Equal(t, "AAPL_2025_08.parquet", s.Format.Files[0].Key)
	assert.Equal(t, "NVDA_2025_09.parquet", s.Format.Files[2].Key)

	first := s.Format.Files[0]
	assert.Equal(t, int64(2), first.Rows)
	assert.ElementsMatch(t, writer.Columns, first.Columns)
	assert.Equal(t, "AAPL", first.Ticker)
	assert.True(t, first.MinDate.Equal(models.Date(2025, time.August, 1)))
	assert.True(t, first.MaxDate.Equal(models.Date(2025, time.August, 2)))
	assert.Equal(t, 9.0, first.MinPrice)
	assert.Equal(t, 12.0, first.MaxPrice)
	assert.Equal(t, 200.0, first.MaxVolume)
	assert.Zero(t, first.Anomalies)
}

func TestVerifyStaleAndMalformed(t *testing.T) {
	store, dir := newStore(t)
	old := checkedAt.Add(-72 * time.Hour)
	put(t, store, dir, "AAPL_2025_09.parquet", encode(t, "AAPL", sept(), "11"), old)
	put(t, store, dir, "notes.txt", []byte("hello"), old)

	s := New(store, "", quietLogger(), WithClock(func() time.Time { return checkedAt })).Run(context.Background())

	assert.Equal(t, StatusWarning, s.Contents.Status)
	assert.Equal(t, []string{"notes.txt"}, s.Contents.Malformed)
	assert.Equal(t, StatusWarning, s.Freshness.Status)
	assert.Equal(t, StatusPassed, s.Format.Status)
	assert.Equal(t, StatusWarning, s.Overall)
}

func TestVerifyCorruptFileFails(t *testing.T) {
	store, dir := newStore(t)
	put(t, store, dir, "AAPL_2025_08.parquet", []byte("not parquet"), checkedAt)
	put(t, store, dir, "AAPL_2025_09.parquet", encode(t, "AAPL", sept(), "11"), checkedAt)

	s := New(store, "", quietLogger(), WithClock(func() time.Time { return checkedAt })).Run(context.Background())

	assert.Equal(t, StatusPartial, s.Format.Status)
	assert.Equal(t, StatusFailed, s.Overall)
	assert.Equal(t, 2, s.ExitCode())
	assert.NotEmpty(t, s.Format.Files[0].Error)
}

func TestInspectCountsAnomalies(t *testing.T) {
	// a high of 8 sits below the low of 9
	fc := inspect("AAPL_2025_09.parquet", encode(t, "AAPL", sept(), "11", "8"))
	assert.Equal(t, StatusPassed, fc.Status)
	assert.Equal(t, 1, fc.Anomalies)
}

func TestInspectTickerMismatch(t *testing.T) {
	fc := inspect("daily/MSFT_2025_09.parquet", encode(t, "AAPL", sept(), "11"))
	assert.Equal(t, StatusFailed, fc.Status)
	assert.Contains(t, fc.Error, "MSFT")
}

func TestSampleKeys(t *testing.T) {
	keys := []string{"a", "b", "c", "d", "e", "f", "g"}
	assert.Equal(t, []string{"a", "d", "g"}, sampleKeys(keys, 3))
	assert.Equal(t, []string{"a"}, sampleKeys(keys, 1))
	assert.Equal(t, []string{"a", "b"}, sampleKeys(keys[:2], 3))
}

func TestBuildProgress(t *testing.T) {
	store, dir := newStore(t)
	put(t, store, dir, "daily/AAPL_2025_07.parquet", []byte("x"), checkedAt)
	put(t, store, dir, "daily/AAPL_2025_09.parquet", []byte("xx"), checkedAt)
	put(t, store, dir, "daily/MSFT_2024_12.parquet", []byte("x"), checkedAt)
	put(t, store, dir, "daily/readme.md", []byte("x"), checkedAt)

	p, err := BuildProgress(context.Background(), store, "daily/")
	require.NoError(t, err)
	assert.Equal(t, 4, p.Files)
	assert.Equal(t, 1, p.Malformed)
	require.Len(t, p.Tickers, 2)

	aapl := p.Tickers[0]
	assert.Equal(t, "AAPL", aapl.Ticker)
	assert.Equal(t, 2, aapl.Files)
	assert.Equal(t, int64(3), aapl.Bytes)
	assert.Equal(t, models.MonthKey{Year: 2025, Month: time.July}, aapl.First)
	assert.Equal(t, sept(), aapl.Latest)

	have, missing := p.Coverage([]string{"AAPL", "GOOG", "MSFT"})
	assert.Equal(t, 2, have)
	assert.Equal(t, []string{"GOOG"}, missing)
}

func TestClear(t *testing.T) {
	store, dir := newStore(t)
	put(t, store, dir, "AAPL_2025_09.parquet", []byte("x"), checkedAt)
	put(t, store, dir, "MSFT_2025_09.parquet", []byte("x"), checkedAt)

	n, err := Clear(context.Background(), store, "", quietLogger())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	objs, err := store.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, objs)

	n, err = Clear(context.Background(), store, "", quietLogger())
	require.NoError(t, err)
	assert.Zero(t, n)
}

type stuckStore struct {
	*writer.LocalStore
}

func (s stuckStore) Delete(context.Context, []string) (int, error) {
	return 0, errors.New("AccessDenied")
}

func TestClearReportsDeleteFailure(t *testing.T) {
	store, dir := newStore(t)
	put(t, store, dir, "AAPL_2025_09.parquet", []byte("x"), checkedAt)

	_, err := Clear(context.Background(), stuckStore{store}, "", quietLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AccessDenied")
}
