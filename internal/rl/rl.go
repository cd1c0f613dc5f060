// Package rl is the global rate-limited logging seam (spec.md section
// 9 "Global rate-limited logging"): the Go-native analogue of
// VLOG_RATE_LIMIT_INIT(60, 60) / VLOG_DBG_RL. Per-packet debug/warn
// lines go through here instead of straight to logrus, so a busy
// table-miss storm or a controller send failure loop produces a
// handful of log lines a second instead of one per packet.
package rl

import (
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// defaultBurst and defaultRate mirror the original's
// VLOG_RATE_LIMIT_INIT(60, 60): 60 messages per 60 seconds, i.e. one
// token per second with a burst allowance of 60 queued at startup.
const (
	defaultRate  = rate.Limit(1)
	defaultBurst = 60
)

var (
	mu       sync.Mutex
	limiter  = rate.NewLimiter(defaultRate, defaultBurst)
	logger   = logrus.StandardLogger()
	dropped  uint64
)

// SetLogger replaces the logger lines are emitted through. Tests and
// cmd/ofswitchd use this to install a configured logrus instance
// instead of the package default.
func SetLogger(l *logrus.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
}

// SetLimit reconfigures the token bucket. Exposed for tests that need
// to exercise the drop path deterministically.
func SetLimit(r rate.Limit, burst int) {
	mu.Lock()
	defer mu.Unlock()
	limiter = rate.NewLimiter(r, burst)
}

// allow reports whether the current call may pass through to logrus,
// counting suppressed calls so the eventual next line can report how
// many were dropped.
func allow() (logrus.FieldLogger, bool) {
	mu.Lock()
	l := logger
	ok := limiter.Allow()
	var d uint64
	if !ok {
		dropped++
	} else if dropped > 0 {
		d = dropped
		dropped = 0
	}
	mu.Unlock()

	if !ok {
		return nil, false
	}
	if d > 0 {
		return l.WithField("rl_dropped", d), true
	}
	return l, true
}

// Debugf emits a rate-limited debug line.
func Debugf(format string, args ...interface{}) {
	if l, ok := allow(); ok {
		l.Debugf(format, args...)
	}
}

// Warnf emits a rate-limited warning line.
func Warnf(format string, args ...interface{}) {
	if l, ok := allow(); ok {
		l.Warnf(format, args...)
	}
}

// Infof emits a rate-limited info line.
func Infof(format string, args ...interface{}) {
	if l, ok := allow(); ok {
		l.Infof(format, args...)
	}
}
