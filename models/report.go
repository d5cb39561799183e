package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// State is the lifecycle position of one ticker inside a run.
type State string

const (
	StatePending       State = "PENDING"
	StateResolved      State = "RESOLVED"
	StateSkipped       State = "SKIPPED"
	StateFetched       State = "FETCHED"
	StateFetchFailed   State = "FETCH_FAILED"
	StateTransformed   State = "TRANSFORMED"
	StatePublished     State = "PUBLISHED"
	StatePublishFailed State = "PUBLISH_FAILED"
	StateDone          State = "DONE"
)

// Outcome is the terminal verdict for one ticker.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomePartialFailure Outcome = "partial_failure"
	OutcomeFatalFailure   Outcome = "fatal_failure"
	OutcomeSkipped        Outcome = "skipped"
)

// Failed reports whether the outcome counts against the run.
func (o Outcome) Failed() bool {
	return o == OutcomePartialFailure || o == OutcomeFatalFailure
}

// EntityResult is the per-ticker line of a RunReport. LastState is terminal
// (DONE or SKIPPED) once the ticker has been processed; FailedAt names the
// state in which the last failure happened.
type EntityResult struct {
	EntityID   string          `json:"ticker"`
	Outcome    Outcome         `json:"outcome"`
	LastState  State           `json:"last_state"`
	FailedAt   State           `json:"failed_at,omitempty"`
	Window     *SyncWindow     `json:"window,omitempty"`
	Bars       int             `json:"bars"`
	Anomalies  int             `json:"anomalies"`
	NoData     bool            `json:"no_data,omitempty"`
	Published  []PublishedBlob `json:"published,omitempty"`
	FailedKeys []string        `json:"failed_keys,omitempty"`
	Reasons    []string        `json:"reasons,omitempty"`
}

// RunStatus classifies a whole run for notifications.
type RunStatus string

const (
	RunUpToDate    RunStatus = "up_to_date"
	RunSuccess     RunStatus = "success"
	RunPartial     RunStatus = "partial"
	RunFailed      RunStatus = "failed"
	RunInterrupted RunStatus = "interrupted"
)

// RunReport summarizes a finished run. Succeeded + Failed always equals
// NeedingSync; tickers never started after an interruption are NotStarted.
type RunReport struct {
	RunID          string         `json:"run_id"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     time.Time      `json:"finished_at"`
	Interrupted    bool           `json:"interrupted"`
	Considered     int            `json:"entities_considered"`
	NeedingSync    int            `json:"entities_needing_sync"`
	Succeeded      int            `json:"entities_succeeded"`
	Failed         int            `json:"entities_failed"`
	Skipped        int            `json:"entities_skipped"`
	NotStarted     int            `json:"entities_not_started"`
	BlobsPublished int            `json:"blobs_published"`
	Anomalies      int            `json:"anomalies"`
	Error          string         `json:"error,omitempty"`
	Results        []EntityResult `json:"results"`
}

func (r RunReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

func (r RunReport) Status() RunStatus {
	switch {
	case r.Interrupted:
		return RunInterrupted
	case r.Error != "" && r.Considered == 0:
		return RunFailed
	case r.NeedingSync == 0:
		return RunUpToDate
	case r.Failed == 0:
		return RunSuccess
	case r.Succeeded == 0:
		return RunFailed
	default:
		return RunPartial
	}
}

// Failures maps each failed ticker to its reasons.
func (r RunReport) Failures() map[string][]string {
	out := map[string][]string{}
	for _, res := range r.Results {
		if res.Outcome.Failed() {
			out[res.EntityID] = append([]string(nil), res.Reasons...)
		}
	}
	return out
}

// Summary renders the human readable lines used in logs and notifications.
// An up-to-date run and a run where every fetch failed never share wording.
func (r RunReport) Summary() []string {
	lines := []string{fmt.Sprintf(
		"run %s: %d tickers considered, %d needed sync, %d succeeded, %d failed, %d already up to date",
		r.RunID, r.Considered, r.NeedingSync, r.Succeeded, r.Failed, r.Skipped,
	)}

	switch r.Status() {
	case RunUpToDate:
		lines = append(lines, "all tickers already up to date; nothing was fetched")
	case RunSuccess:
		lines = append(lines, fmt.Sprintf("every ticker that needed sync succeeded; %d blobs published", r.BlobsPublished))
	case RunPartial:
		lines = append(lines, fmt.Sprintf("%d of %d tickers needing sync failed (success rate %.1f%%)",
			r.Failed, r.NeedingSync, 100*float64(r.Succeeded)/float64(r.NeedingSync)))
	case RunFailed:
		if r.Error != "" {
			lines = append(lines, "run failed before any ticker was processed: "+r.Error)
		} else {
			lines = append(lines, fmt.Sprintf("all %d tickers needing sync failed", r.NeedingSync))
		}
	case RunInterrupted:
		lines = append(lines, fmt.Sprintf("run interrupted; %d tickers were not started", r.NotStarted))
	}

	failures := r.Failures()
	tickers := make([]string, 0, len(failures))
	for t := range failures {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)
	for _, t := range tickers {
		lines = append(lines, fmt.Sprintf("failed %s: %s", t, strings.Join(failures[t], "; ")))
	}
	return lines
}
