package writer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go/parquet"
	pqreader "github.com/xitongsys/parquet-go/reader"
	pqwriter "github.com/xitongsys/parquet-go/writer"

	"ohlcvsync/models"
)

// Row is the on-disk layout of one bar. Column names and order are consumed
// by the warehouse COPY and must not change.
type Row struct {
	Ticker        string  `parquet:"name=TICKER, type=BYTE_ARRAY, convertedtype=UTF8"`
	OHLCDate      int64   `parquet:"name=OHLC_DATE, type=INT64, convertedtype=TIMESTAMP_MICROS"`
	OpenPrice     float64 `parquet:"name=OPEN_PRICE, type=DOUBLE"`
	HighPrice     float64 `parquet:"name=HIGH_PRICE, type=DOUBLE"`
	LowPrice      float64 `parquet:"name=LOW_PRICE, type=DOUBLE"`
	ClosePrice    float64 `parquet:"name=CLOSE_PRICE, type=DOUBLE"`
	TradingVolume float64 `parquet:"name=TRADING_VOLUME, type=DOUBLE"`
	OHLCTimestamp int64   `parquet:"name=OHLC_TIMESTAMP, type=INT64, convertedtype=TIMESTAMP_MICROS"`
}

// Columns lists the column names in file order.
var Columns = []string{
	"TICKER", "OHLC_DATE", "OPEN_PRICE", "HIGH_PRICE",
	"LOW_PRICE", "CLOSE_PRICE", "TRADING_VOLUME", "OHLC_TIMESTAMP",
}

func (r Row) Date() time.Time {
	return time.UnixMicro(r.OHLCDate).UTC()
}

func (r Row) Timestamp() time.Time {
	return time.UnixMicro(r.OHLCTimestamp).UTC()
}

// SerializationError means a batch could not be encoded. It is fatal for
// that batch only.
type SerializationError struct {
	EntityID string
	Month    models.MonthKey
	Err      error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialize %s %s: %v", e.EntityID, e.Month, e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

// ParquetWriter encodes monthly batches. Equal batches encode to equal bytes.
type ParquetWriter struct {
	compression  parquet.CompressionCodec
	rowGroupSize int64
}

func parseCompression(name string) (parquet.CompressionCodec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "snappy", "":
		return parquet.CompressionCodec_SNAPPY, nil
	case "gzip":
		return parquet.CompressionCodec_GZIP, nil
	case "uncompressed", "none":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	default:
		return 0, fmt.Errorf("unsupported compression %q", name)
	}
}

func NewParquetWriter(compression string, rowGroupSize int64) (*ParquetWriter, error) {
	codec, err := parseCompression(compression)
	if err != nil {
		return nil, err
	}
	return &ParquetWriter{compression: codec, rowGroupSize: rowGroupSize}, nil
}

// Write encodes one batch into a complete parquet file.
func (w *ParquetWriter) Write(batch models.MonthlyBatch) ([]byte, error) {
	fail := func(err error) ([]byte, error) {
		return nil, &SerializationError{EntityID: batch.EntityID, Month: batch.Key, Err: err}
	}

	if err := validateBatch(batch); err != nil {
		return fail(err)
	}

	mf := newMemFile()
	pw, err := pqwriter.NewParquetWriter(mf, new(Row), 1)
	if err != nil {
		return fail(fmt.Errorf("create parquet writer: %w", err))
	}
	pw.CompressionType = w.compression
	if w.rowGroupSize > 0 {
		pw.RowGroupSize = w.rowGroupSize
	}

	for _, b := range batch.Bars {
		if err := pw.Write(toRow(b)); err != nil {
			return fail(fmt.Errorf("write row %s: %w", b.TradeDate.Format(models.DateLayout), err))
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fail(fmt.Errorf("finalize parquet: %w", err))
	}

	out := make([]byte, len(mf.Bytes()))
	copy(out, mf.Bytes())
	return out, nil
}

func toRow(b models.Bar) Row {
	return Row{
		Ticker:        b.EntityID,
		OHLCDate:      b.TradeDate.UnixMicro(),
		OpenPrice:     b.Open.InexactFloat64(),
		HighPrice:     b.High.InexactFloat64(),
		LowPrice:      b.Low.InexactFloat64(),
		ClosePrice:    b.Close.InexactFloat64(),
		TradingVolume: float64(b.Volume),
		OHLCTimestamp: b.Timestamp.UnixMicro(),
	}
}

func validateBatch(batch models.MonthlyBatch) error {
	if batch.EntityID == "" {
		return errors.New("ticker is required")
	}
	if len(batch.Bars) == 0 {
		return errors.New("batch has no bars")
	}
	for i, b := range batch.Bars {
		switch {
		case b.EntityID != batch.EntityID:
			return fmt.Errorf("bar %d belongs to %q", i, b.EntityID)
		case b.TradeDate.IsZero():
			return fmt.Errorf("bar %d has no trade date", i)
		case b.Timestamp.IsZero():
			return fmt.Errorf("bar %d has no timestamp", i)
		case b.Month() != batch.Key:
			return fmt.Errorf("bar %d dated %s is outside %s", i, b.TradeDate.Format(models.DateLayout), batch.Key)
		}
	}
	return nil
}

// ReadRows decodes a file produced by Write.
func ReadRows(data []byte) ([]Row, error) {
	pr, err := pqreader.NewParquetReader(openMemFile(data), new(Row), 1)
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}
	defer pr.ReadStop()

	rows := make([]Row, int(pr.GetNumRows()))
	if len(rows) == 0 {
		return rows, nil
	}
	if err := pr.Read(&rows); err != nil {
		return nil, fmt.Errorf("read parquet rows: %w", err)
	}
	return rows, nil
}
