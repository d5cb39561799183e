package models

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func bar(o, h, l, c string) Bar {
	return Bar{
		EntityID:  "AAPL",
		TradeDate: Date(2025, time.September, 5),
		Open:      decimal.RequireFromString(o),
		High:      decimal.RequireFromString(h),
		Low:       decimal.RequireFromString(l),
		Close:     decimal.RequireFromString(c),
		Volume:    100,
	}
}

func TestBarConsistent(t *testing.T) {
	cases := []struct {
		name string
		bar  Bar
		want bool
	}{
		{"normal", bar("10", "12", "9", "11"), true},
		{"flat", bar("10", "10", "10", "10"), true},
		{"high below open", bar("12", "11", "9", "10"), false},
		{"close below low", bar("10", "12", "9", "8.99"), false},
		{"low above high", bar("10", "9", "11", "10"), false},
	}
	for _, c := range cases {
		if got := c.bar.Consistent(); got != c.want {
			t.Errorf("%s: Consistent() = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestNewSyncWindow(t *testing.T) {
	start := Date(2025, time.September, 5)
	end := Date(2025, time.September, 11)
	w, ok := NewSyncWindow("AAPL", start, end)
	if !ok {
		t.Fatalf("expected window")
	}
	if w.Days() != 7 {
		t.Errorf("unexpected days: %d", w.Days())
	}
	if w.String() != "AAPL [2025-09-05, 2025-09-11]" {
		t.Errorf("unexpected string: %s", w.String())
	}
	if _, ok := NewSyncWindow("AAPL", end.AddDate(0, 0, 1), end); ok {
		t.Errorf("start after end must not produce a window")
	}
	if w, ok := NewSyncWindow("AAPL", end, end); !ok || w.Days() != 1 {
		t.Errorf("single day window expected")
	}
}

func TestMonthKeyOrdering(t *testing.T) {
	a := MonthKey{Year: 2024, Month: time.December}
	b := MonthKey{Year: 2025, Month: time.January}
	if !a.Before(b) || b.Before(a) {
		t.Fatalf("ordering broken")
	}
	if a.String() != "2024-12" {
		t.Fatalf("unexpected string %s", a.String())
	}
}

func TestRunReportStatus(t *testing.T) {
	cases := []struct {
		name   string
		report RunReport
		want   RunStatus
	}{
		{"nothing to do", RunReport{Considered: 3, Skipped: 3}, RunUpToDate},
		{"all good", RunReport{Considered: 3, NeedingSync: 2, Succeeded: 2, Skipped: 1}, RunSuccess},
		{"some failed", RunReport{Considered: 3, NeedingSync: 3, Succeeded: 1, Failed: 2}, RunPartial},
		{"all failed", RunReport{Considered: 2, NeedingSync: 2, Failed: 2}, RunFailed},
		{"registry down", RunReport{Error: "connection refused"}, RunFailed},
		{"interrupted", RunReport{Considered: 3, NeedingSync: 1, Succeeded: 1, NotStarted: 2, Interrupted: true}, RunInterrupted},
	}
	for _, c := range cases {
		if got := c.report.Status(); got != c.want {
			t.Errorf("%s: Status() = %s, want %s", c.name, got, c.want)
		}
	}
}

func TestRunReportSummaryDoesNotConflate(t *testing.T) {
	upToDate := RunReport{RunID: "r1", Considered: 2, Skipped: 2}
	allFailed := RunReport{RunID: "r2", Considered: 2, NeedingSync: 2, Failed: 2, Results: []EntityResult{
		{EntityID: "MSFT", Outcome: OutcomeFatalFailure, Reasons: []string{"fetch: fatal"}},
		{EntityID: "AAPL", Outcome: OutcomeFatalFailure, Reasons: []string{"fetch: rate limited"}},
	}}

	a := strings.Join(upToDate.Summary(), "\n")
	b := strings.Join(allFailed.Summary(), "\n")
	if !strings.Contains(a, "already up to date") || strings.Contains(a, "failed:") {
		t.Errorf("unexpected up to date summary:\n%s", a)
	}
	if strings.Contains(b, "nothing was fetched") || !strings.Contains(b, "all 2 tickers needing sync failed") {
		t.Errorf("unexpected failure summary:\n%s", b)
	}
	lines := allFailed.Summary()
	if lines[len(lines)-2] != "failed AAPL: fetch: rate limited" {
		t.Errorf("failures should be sorted by ticker: %v", lines)
	}
}
