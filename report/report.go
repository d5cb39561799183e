// Package report delivers finished run reports to logs, metrics and Redis.
package report

import (
	"context"
	"errors"

	"ohlcvsync/logger"
	"ohlcvsync/models"
)

// Sink receives the report of a finished run.
type Sink interface {
	Save(ctx context.Context, r models.RunReport) error
}

// Sinks fans a report out to every sink and joins their errors.
type Sinks []Sink

func (s Sinks) Save(ctx context.Context, r models.RunReport) error {
	var errs []error
	for _, sink := range s {
		if err := sink.Save(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes the summary lines and publishes the run counters.
type LogSink struct {
	log *logger.Log
}

func NewLogSink(log *logger.Log) *LogSink {
	if log == nil {
		log = logger.GetLogger()
	}
	return &LogSink{log: log}
}

func (s *LogSink) Save(_ context.Context, r models.RunReport) error {
	status := r.Status()
	entry := s.log.WithComponent("orchestrator").WithFields(logger.Fields{
		"run_id":   r.RunID,
		"status":   string(status),
		"duration": r.Duration().String(),
	})

	for _, line := range r.Summary() {
		switch status {
		case models.RunFailed, models.RunPartial:
			entry.Warn(line)
		default:
			entry.Info(line)
		}
	}

	counters := []struct {
		name  string
		value int
	}{
		{"entities_considered", r.Considered},
		{"entities_needing_sync", r.NeedingSync},
		{"entities_succeeded", r.Succeeded},
		{"entities_failed", r.Failed},
		{"entities_skipped", r.Skipped},
		{"entities_not_started", r.NotStarted},
		{"blobs_published", r.BlobsPublished},
		{"data_quality_anomalies", r.Anomalies},
	}
	for _, c := range counters {
		s.log.LogMetric("orchestrator", c.name, c.value, "counter", nil)
	}
	s.log.LogMetric("orchestrator", "run_duration", r.Duration().Seconds(), "duration", nil)
	return nil
}
