package reader

import (
	"strings"

	"ohlcvsync/logger"
)

// reportRateLimited emits the rate_limit_exceeded counter for a provider and
// logs the ticker that hit it.
func reportRateLimited(log *logger.Log, provider, entityID string, attempt int) {
	component := strings.ToLower(provider) + "_reader"
	l := log.WithComponent(component)
	fields := logger.Fields{
		"provider": strings.ToLower(provider),
		"ticker":   entityID,
	}
	logger.IncrementRateLimitHit()
	l.LogMetric(component, "rate_limit_exceeded", int64(1), "counter", fields)
	l.WithFields(fields).WithFields(logger.Fields{"attempt": attempt}).Warn("rate limit exceeded")
}
