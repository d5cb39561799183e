package logger

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type componentStat struct {
	warns  int64
	errors int64
}

var (
	providerCalls  int64
	rateLimitWaits int64
	rateLimitHits  int64
	blobsWritten   int64
	bytesWritten   int64
	anomalies      int64
	components     sync.Map // map[string]*componentStat
)

func componentStats(component string) *componentStat {
	v, _ := components.LoadOrStore(component, &componentStat{})
	return v.(*componentStat)
}

func recordWarn(component string) {
	atomic.AddInt64(&componentStats(component).warns, 1)
}

func recordError(component string) {
	atomic.AddInt64(&componentStats(component).errors, 1)
}

// IncrementProviderCall counts one outbound price API request.
func IncrementProviderCall() {
	atomic.AddInt64(&providerCalls, 1)
}

// IncrementRateLimitWait counts a spacer wait that actually slept.
func IncrementRateLimitWait() {
	atomic.AddInt64(&rateLimitWaits, 1)
}

// IncrementRateLimitHit counts a rate-limited response from the provider.
func IncrementRateLimitHit() {
	atomic.AddInt64(&rateLimitHits, 1)
}

// IncrementBlobWritten counts a published blob and its size.
func IncrementBlobWritten(size int) {
	atomic.AddInt64(&blobsWritten, 1)
	atomic.AddInt64(&bytesWritten, int64(size))
}

func IncrementAnomaly() {
	atomic.AddInt64(&anomalies, 1)
}

// Snapshot is a point-in-time copy of the runtime counters.
type Snapshot struct {
	ProviderCalls  int64
	RateLimitWaits int64
	RateLimitHits  int64
	BlobsWritten   int64
	BytesWritten   int64
	Anomalies      int64
	Warns          map[string]int64
	Errors         map[string]int64
}

func TakeSnapshot() Snapshot {
	s := Snapshot{
		ProviderCalls:  atomic.LoadInt64(&providerCalls),
		RateLimitWaits: atomic.LoadInt64(&rateLimitWaits),
		RateLimitHits:  atomic.LoadInt64(&rateLimitHits),
		BlobsWritten:   atomic.LoadInt64(&blobsWritten),
		BytesWritten:   atomic.LoadInt64(&bytesWritten),
		Anomalies:      atomic.LoadInt64(&anomalies),
		Warns:          map[string]int64{},
		Errors:         map[string]int64{},
	}
	components.Range(func(k, v any) bool {
		cs := v.(*componentStat)
		s.Warns[k.(string)] = atomic.LoadInt64(&cs.warns)
		s.Errors[k.(string)] = atomic.LoadInt64(&cs.errors)
		return true
	})
	return s
}

// StartReport logs the runtime counters every interval until ctx is done.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func logReport(ctx context.Context, log *Log) {
	s := TakeSnapshot()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	heapMB := float64(mem.HeapAlloc) / 1024 / 1024

	log.WithComponent("report").WithFields(Fields{
		"provider_calls":   s.ProviderCalls,
		"rate_limit_waits": s.RateLimitWaits,
		"rate_limit_hits":  s.RateLimitHits,
		"blobs_written":    s.BlobsWritten,
		"bytes_written":    s.BytesWritten,
		"anomalies":        s.Anomalies,
		"warns":            s.Warns,
		"errors":           s.Errors,
		"goroutines":       runtime.NumGoroutine(),
		"heap_mb":          heapMB,
	}).Info("runtime report")

	counter := func(name string, v int64) cwtypes.MetricDatum {
		return cwtypes.MetricDatum{MetricName: aws.String(name), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(v))}
	}
	data := []cwtypes.MetricDatum{
		counter("provider_calls", s.ProviderCalls),
		counter("rate_limit_waits", s.RateLimitWaits),
		counter("rate_limit_hits", s.RateLimitHits),
		counter("blobs_written", s.BlobsWritten),
		{MetricName: aws.String("bytes_written"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(s.BytesWritten))},
		{MetricName: aws.String("heap_mb"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(heapMB)},
	}
	publishMetrics(ctx, data)
}
