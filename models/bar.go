package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Bar is one daily OHLCV aggregate for a ticker.
type Bar struct {
	EntityID  string          `json:"ticker"`
	TradeDate time.Time       `json:"trade_date"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    int64           `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
}

// Consistent reports whether low <= open, close <= high.
func (b Bar) Consistent() bool {
	if b.Low.GreaterThan(b.High) {
		return false
	}
	for _, p := range []decimal.Decimal{b.Open, b.Close} {
		if p.LessThan(b.Low) || p.GreaterThan(b.High) {
			return false
		}
	}
	return true
}

// NonNegative reports whether every price and the volume are >= 0.
func (b Bar) NonNegative() bool {
	for _, p := range []decimal.Decimal{b.Open, b.High, b.Low, b.Close} {
		if p.IsNegative() {
			return false
		}
	}
	return b.Volume >= 0
}

func (b Bar) Month() MonthKey {
	return MonthKey{Year: b.TradeDate.Year(), Month: b.TradeDate.Month()}
}

// MonthKey identifies a calendar month partition.
type MonthKey struct {
	Year  int
	Month time.Month
}

func (k MonthKey) String() string {
	return fmt.Sprintf("%04d-%02d", k.Year, int(k.Month))
}

func (k MonthKey) Before(o MonthKey) bool {
	if k.Year != o.Year {
		return k.Year < o.Year
	}
	return k.Month < o.Month
}

// MonthlyBatch holds the bars of one ticker that fall in one calendar month,
// in the order the provider returned them.
type MonthlyBatch struct {
	EntityID string
	Key      MonthKey
	Bars     []Bar
}

// PublishedBlob records one object written to the store.
type PublishedBlob struct {
	Key      string   `json:"key"`
	EntityID string   `json:"ticker"`
	Month    MonthKey `json:"-"`
	Rows     int      `json:"rows"`
	Size     int      `json:"size"`
}
