package pipeline

import (
	"time"

	"ohlcvsync/models"
)

// reportBuilder accumulates entity results. finalize may be called once;
// later calls return the same report.
type reportBuilder struct {
	report models.RunReport
	done   bool
}

func newReportBuilder(runID string, started time.Time) *reportBuilder {
	return &reportBuilder{report: models.RunReport{
		RunID:     runID,
		StartedAt: started,
		Results:   []models.EntityResult{},
	}}
}

func (b *reportBuilder) considered(n int) {
	b.report.Considered = n
}

func (b *reportBuilder) fail(err error) {
	b.report.Error = err.Error()
}

func (b *reportBuilder) interrupt(notStarted int) {
	b.report.Interrupted = true
	b.report.NotStarted = notStarted
}

func (b *reportBuilder) add(res models.EntityResult) {
	if b.done {
		return
	}
	r := &b.report
	r.Results = append(r.Results, res)
	r.Anomalies += res.Anomalies
	r.BlobsPublished += len(res.Published)

	switch {
	case res.Outcome == models.OutcomeSkipped:
		r.Skipped++
	case res.Outcome.Failed():
		r.NeedingSync++
		r.Failed++
	default:
		r.NeedingSync++
		r.Succeeded++
	}
}

func (b *reportBuilder) finalize(finished time.Time) models.RunReport {
	if !b.done {
		b.report.FinishedAt = finished
		b.done = true
	}
	return b.report
}
