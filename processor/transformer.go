// Package processor turns provider bars into monthly batches ready for the
// columnar writer.
package processor

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"ohlcvsync/logger"
	"ohlcvsync/models"
)

// Anomaly is a bar that broke a price or volume rule. The bar itself is kept.
type Anomaly struct {
	EntityID  string
	TradeDate time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    int64
	Reason    string
}

// Result is the transformer output for one ticker. Batches are ordered by
// month.
type Result struct {
	Batches   []models.MonthlyBatch
	Anomalies []Anomaly
}

// Bars counts the bars across all batches.
func (r Result) Bars() int {
	n := 0
	for _, b := range r.Batches {
		n += len(b.Bars)
	}
	return n
}

type Transformer struct {
	log *logger.Log
}

func NewTransformer(log *logger.Log) *Transformer {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Transformer{log: log}
}

// Transform normalizes bars and splits them by calendar month of the trade
// date. Bars keep their input order inside a month.
func (t *Transformer) Transform(entityID string, bars []models.Bar) Result {
	var res Result
	index := map[models.MonthKey]int{}

	for _, b := range bars {
		b = normalize(entityID, b)

		if reason := check(b); reason != "" {
			a := Anomaly{
				EntityID:  entityID,
				TradeDate: b.TradeDate,
				Open:      b.Open,
				High:      b.High,
				Low:       b.Low,
				Close:     b.Close,
				Volume:    b.Volume,
				Reason:    reason,
			}
			res.Anomalies = append(res.Anomalies, a)
			t.report(a)
		}

		key := b.Month()
		i, ok := index[key]
		if !ok {
			i = len(res.Batches)
			index[key] = i
			res.Batches = append(res.Batches, models.MonthlyBatch{EntityID: entityID, Key: key})
		}
		res.Batches[i].Bars = append(res.Batches[i].Bars, b)
	}

	sort.SliceStable(res.Batches, func(i, j int) bool {
		return res.Batches[i].Key.Before(res.Batches[j].Key)
	})

	entry := t.log.WithComponent("transformer").WithFields(logger.Fields{
		"ticker":    entityID,
		"batches":   len(res.Batches),
		"anomalies": len(res.Anomalies),
	})
	logger.LogDataFlowEntry(entry, "fetch_client", "parquet_writer", len(bars), "daily_bar")

	return res
}

func normalize(entityID string, b models.Bar) models.Bar {
	b.EntityID = entityID
	b.TradeDate = models.DateOf(b.TradeDate)
	b.Timestamp = b.Timestamp.UTC().Truncate(time.Microsecond)
	return b
}

func check(b models.Bar) string {
	switch {
	case !b.NonNegative():
		return "negative price or volume"
	case !b.Consistent():
		return "ohlc out of range"
	default:
		return ""
	}
}

func (t *Transformer) report(a Anomaly) {
	logger.IncrementAnomaly()
	t.log.WithComponent("transformer").WithFields(logger.Fields{
		"ticker": a.EntityID,
		"date":   a.TradeDate.Format(models.DateLayout),
		"open":   a.Open.String(),
		"high":   a.High.String(),
		"low":    a.Low.String(),
		"close":  a.Close.String(),
		"volume": a.Volume,
		"reason": a.Reason,
	}).Warn("data quality anomaly")
}
