package polygon

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

// barRaw is one element of the aggregates "results" array.
type barRaw struct {
	Timestamp    int64           `json:"t"`
	Open         decimal.Decimal `json:"o"`
	High         decimal.Decimal `json:"h"`
	Low          decimal.Decimal `json:"l"`
	Close        decimal.Decimal `json:"c"`
	Volume       flexibleInt64   `json:"v"`
	VWAP         float64         `json:"vw,omitempty"`
	Transactions flexibleInt64   `json:"n,omitempty"`
}

type aggregatesResponse struct {
	Ticker       string   `json:"ticker"`
	QueryCount   int      `json:"queryCount"`
	ResultsCount int      `json:"resultsCount"`
	Adjusted     bool     `json:"adjusted"`
	Results      []barRaw `json:"results"`
	Status       string   `json:"status"`
	RequestID    string   `json:"request_id"`
	Count        int      `json:"count"`
	NextURL      string   `json:"next_url,omitempty"`
	Error        string   `json:"error,omitempty"`
	Message      string   `json:"message,omitempty"`
}

func (r aggregatesResponse) errorText() string {
	if r.Error != "" {
		return r.Error
	}
	return r.Message
}

// flexibleInt64 accepts integers, floats (including exponent notation) and
// quoted numbers. Volumes are sent as 1.2345e+06 for large values.
type flexibleInt64 int64

func (f *flexibleInt64) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		val, err := strconv.ParseFloat(str, 64)
		if err != nil {
			return err
		}
		*f = flexibleInt64(math.Round(val))
		return nil
	}

	var intVal int64
	if err := json.Unmarshal(data, &intVal); err == nil {
		*f = flexibleInt64(intVal)
		return nil
	}

	var floatVal float64
	if err := json.Unmarshal(data, &floatVal); err == nil {
		*f = flexibleInt64(math.Round(floatVal))
		return nil
	}

	return fmt.Errorf("cannot parse as int64: %s", string(data))
}

func (f flexibleInt64) Int64() int64 {
	return int64(f)
}
