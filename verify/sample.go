package verify

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/parquet-go/parquet-go"

	"ohlcvsync/writer"
)

// FileCheck is the inspection result of one sampled blob.
type FileCheck struct {
	Key            string    `json:"key"`
	Status         Status    `json:"status"`
	Rows           int64     `json:"rows"`
	Columns        []string  `json:"columns,omitempty"`
	MissingColumns []string  `json:"missing_columns,omitempty"`
	Ticker         string    `json:"ticker,omitempty"`
	MinDate        time.Time `json:"min_date"`
	MaxDate        time.Time `json:"max_date"`
	MinPrice       float64   `json:"min_price"`
	MaxPrice       float64   `json:"max_price"`
	MinVolume      float64   `json:"min_volume"`
	MaxVolume      float64   `json:"max_volume"`
	Anomalies      int       `json:"anomalies"`
	Error          string    `json:"error,omitempty"`
}

var priceColumns = []string{"OPEN_PRICE", "HIGH_PRICE", "LOW_PRICE", "CLOSE_PRICE"}

// inspect decodes payload with a reader independent of the one that wrote
// it and checks the layout against writer.Columns.
func inspect(key string, payload []byte) FileCheck {
	fc := FileCheck{Key: key, Status: StatusFailed}

	f, err := parquet.OpenFile(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		fc.Error = fmt.Sprintf("open parquet: %v", err)
		return fc
	}
	fc.Rows = f.NumRows()

	present := map[string]bool{}
	for _, field := range f.Schema().Fields() {
		fc.Columns = append(fc.Columns, field.Name())
		present[field.Name()] = true
	}
	for _, name := range writer.Columns {
		if !present[name] {
			fc.MissingColumns = append(fc.MissingColumns, name)
		}
	}
	if len(fc.MissingColumns) > 0 {
		fc.Error = fmt.Sprintf("missing columns %v", fc.MissingColumns)
		return fc
	}

	cols := map[string][]parquet.Value{}
	for _, name := range writer.Columns {
		vals, err := columnValues(f, name)
		if err != nil {
			fc.Error = err.Error()
			return fc
		}
		if int64(len(vals)) != fc.Rows {
			fc.Error = fmt.Sprintf("column %s has %d values for %d rows", name, len(vals), fc.Rows)
			return fc
		}
		cols[name] = vals
	}

	if fc.Rows == 0 {
		fc.Error = "file has no rows"
		return fc
	}

	fc.MinPrice, fc.MaxPrice = math.Inf(1), math.Inf(-1)
	fc.MinVolume, fc.MaxVolume = math.Inf(1), math.Inf(-1)
	for i := 0; i < int(fc.Rows); i++ {
		ticker := string(cols["TICKER"][i].ByteArray())
		if fc.Ticker == "" {
			fc.Ticker = ticker
		} else if ticker != fc.Ticker {
			fc.Error = fmt.Sprintf("mixed tickers %s and %s", fc.Ticker, ticker)
			return fc
		}

		date := time.UnixMicro(cols["OHLC_DATE"][i].Int64()).UTC()
		if fc.MinDate.IsZero() || date.Before(fc.MinDate) {
			fc.MinDate = date
		}
		if date.After(fc.MaxDate) {
			fc.MaxDate = date
		}

		open := cols["OPEN_PRICE"][i].Double()
		high := cols["HIGH_PRICE"][i].Double()
		low := cols["LOW_PRICE"][i].Double()
		closing := cols["CLOSE_PRICE"][i].Double()
		for _, p := range []float64{open, high, low, closing} {
			fc.MinPrice = math.Min(fc.MinPrice, p)
			fc.MaxPrice = math.Max(fc.MaxPrice, p)
		}
		vol := cols["TRADING_VOLUME"][i].Double()
		fc.MinVolume = math.Min(fc.MinVolume, vol)
		fc.MaxVolume = math.Max(fc.MaxVolume, vol)

		if low > high || open < low || open > high || closing < low || closing > high || low < 0 || vol < 0 {
			fc.Anomalies++
		}
	}

	if id, _, ok := writer.ParseKey(baseName(key)); ok && id != fc.Ticker {
		fc.Error = fmt.Sprintf("key names %s but rows hold %s", id, fc.Ticker)
		return fc
	}

	fc.Status = StatusPassed
	return fc
}

func columnValues(f *parquet.File, name string) ([]parquet.Value, error) {
	col := f.Root().Column(name)
	if col == nil {
		return nil, fmt.Errorf("column %s not found", name)
	}

	pages := col.Pages()
	defer pages.Close()

	var out []parquet.Value
	for {
		page, err := pages.ReadPage()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read %s page: %w", name, err)
		}

		values := page.Values()
		buf := make([]parquet.Value, 256)
		for {
			n, err := values.ReadValues(buf)
			// values alias page memory
			for _, v := range buf[:n] {
				out = append(out, v.Clone())
			}
			if errors.Is(err, io.EOF) || (err == nil && n == 0) {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("read %s values: %w", name, err)
			}
		}
	}
}
