// Package polygon is the Polygon.io aggregates provider.
package polygon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ohlcvsync/config"
	"ohlcvsync/logger"
	"ohlcvsync/models"
	"ohlcvsync/reader"
)

const maxErrorBody = 512

type Client struct {
	baseURL  string
	adjusted bool
	limit    int
	http     *http.Client
	loc      *time.Location
	log      *logger.Log
}

type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its transport is wrapped to add
// the API key.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLocation sets the exchange timezone used to derive trade dates.
func WithLocation(loc *time.Location) Option {
	return func(c *Client) { c.loc = loc }
}

func New(cfg config.PolygonConfig, userAgent string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		adjusted: cfg.IsAdjusted(),
		limit:    cfg.Limit,
		http:     &http.Client{Timeout: cfg.Timeout},
		loc:      time.UTC,
		log:      logger.GetLogger(),
	}
	if c.baseURL == "" {
		c.baseURL = config.DefaultPolygonBaseURL
	}
	if c.limit <= 0 {
		c.limit = 50000
	}
	if c.http.Timeout <= 0 {
		c.http.Timeout = config.DefaultRequestTimeout
	}
	for _, opt := range opts {
		opt(c)
	}
	base := c.http.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	hc := *c.http
	hc.Transport = authTransport{apiKey: cfg.APIKey, agent: userAgent, base: base}
	c.http = &hc
	return c
}

func (c *Client) Name() string {
	return "polygon"
}

func (c *Client) aggregatesURL(window models.SyncWindow) string {
	q := url.Values{}
	q.Set("adjusted", strconv.FormatBool(c.adjusted))
	q.Set("sort", "asc")
	q.Set("limit", strconv.Itoa(c.limit))
	return fmt.Sprintf("%s/v2/aggs/ticker/%s/range/1/day/%s/%s?%s",
		c.baseURL,
		url.PathEscape(window.EntityID),
		window.Start.Format(models.DateLayout),
		window.End.Format(models.DateLayout),
		q.Encode(),
	)
}

// FetchDaily issues one aggregates request for the window.
func (c *Client) FetchDaily(ctx context.Context, window models.SyncWindow) ([]models.Bar, error) {
	ticker := window.EntityID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.aggregatesURL(window), nil)
	if err != nil {
		return nil, reader.NewError(reader.KindFatal, ticker, 0, fmt.Errorf("build request: %w", err))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, reader.NewError(reader.KindFatal, ticker, 0, ctx.Err())
		}
		return nil, reader.NewError(reader.KindTransient, ticker, 0, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, reader.NewError(reader.KindRateLimited, ticker, resp.StatusCode, errors.New(readErrorBody(resp.Body)))
	case resp.StatusCode == http.StatusNotFound:
		return nil, reader.NewError(reader.KindNotFound, ticker, resp.StatusCode, errors.New(readErrorBody(resp.Body)))
	case resp.StatusCode >= 500:
		return nil, reader.NewError(reader.KindTransient, ticker, resp.StatusCode, errors.New(readErrorBody(resp.Body)))
	case resp.StatusCode != http.StatusOK:
		return nil, reader.NewError(reader.KindFatal, ticker, resp.StatusCode, errors.New(readErrorBody(resp.Body)))
	}

	var body aggregatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, reader.NewError(reader.KindTransient, ticker, resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}

	switch strings.ToUpper(body.Status) {
	case "OK", "DELAYED":
	case "ERROR":
		msg := strings.ToLower(body.errorText())
		if strings.Contains(msg, "exceeded") || strings.Contains(msg, "maximum requests") {
			return nil, reader.NewError(reader.KindRateLimited, ticker, resp.StatusCode, errors.New(body.errorText()))
		}
		return nil, reader.NewError(reader.KindFatal, ticker, resp.StatusCode, errors.New(body.errorText()))
	case "NOT_AUTHORIZED":
		return nil, reader.NewError(reader.KindFatal, ticker, resp.StatusCode, errors.New(body.errorText()))
	default:
		return nil, reader.NewError(reader.KindFatal, ticker, resp.StatusCode, fmt.Errorf("unexpected status %q", body.Status))
	}

	if len(body.Results) == 0 {
		return nil, reader.NewError(reader.KindNotFound, ticker, resp.StatusCode, fmt.Errorf("no results (status %s)", body.Status))
	}

	log := c.log.WithComponent("polygon_reader").WithFields(logger.Fields{"ticker": ticker, "request_id": body.RequestID})
	if body.NextURL != "" {
		log.WithFields(logger.Fields{"results": len(body.Results)}).Warn("response is paginated; only the first page is used")
	}
	if strings.EqualFold(body.Status, "DELAYED") {
		log.Debug("provider returned delayed data")
	}

	bars := make([]models.Bar, 0, len(body.Results))
	for _, r := range body.Results {
		bars = append(bars, c.toBar(ticker, r))
	}
	return bars, nil
}

func (c *Client) toBar(ticker string, r barRaw) models.Bar {
	ts := time.UnixMilli(r.Timestamp).UTC()
	return models.Bar{
		EntityID:  ticker,
		TradeDate: models.DateOf(ts.In(c.loc)),
		Open:      r.Open,
		High:      r.High,
		Low:       r.Low,
		Close:     r.Close,
		Volume:    r.Volume.Int64(),
		Timestamp: ts,
	}
}

func readErrorBody(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var body aggregatesResponse
	if json.Unmarshal(data, &body) == nil && body.errorText() != "" {
		return body.errorText()
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return "empty response body"
	}
	return s
}
