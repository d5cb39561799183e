package logger

import (
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// frames from these packages are never reported as the caller
var skipPackages = []string{"sirupsen/logrus", "ohlcvsync/logger"}

// callerHook points entry.Caller at the first frame outside logrus and the
// wrappers in this package.
type callerHook struct{}

func (h *callerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *callerHook) Fire(entry *logrus.Entry) error {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(6, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !skipFrame(frame.Function) {
			entry.Caller = &frame
			return nil
		}
		if !more {
			return nil
		}
	}
}

func skipFrame(fn string) bool {
	for _, pkg := range skipPackages {
		if strings.Contains(fn, pkg) {
			return true
		}
	}
	return false
}
