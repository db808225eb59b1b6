// Package logging provides the structured logger used throughout the
// reactor core. It wraps a zap.SugaredLogger behind a small set of
// level functions so call sites read like the C printf-style macros
// the core was ported from (LOG_INFO, LOG_ERROR, LOG_FATAL, ...).
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu     sync.RWMutex
	logger = newDefault()
)

func newDefault() *zap.SugaredLogger {
	l, err := zap.NewProduction()
	if err != nil {
		// This only happens if zap's own encoder config is broken, which
		// would be a build-time defect, not a runtime one.
		panic(err)
	}
	return l.Sugar()
}

// SetLogger installs a custom logger, replacing the default production
// logger. Safe to call concurrently with logging calls.
func SetLogger(l *zap.SugaredLogger) {
	mu.Lock()
	logger = l
	mu.Unlock()
}

// UseRotatingFile points the logger at a rotating file sink via lumberjack,
// keeping up to maxBackups old files of maxSizeMB each.
func UseRotatingFile(path string, maxSizeMB, maxBackups, maxAgeDays int) {
	sink := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}
	encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	core := zapcore.NewCore(encoder, zapcore.AddSync(sink), zap.InfoLevel)
	SetLogger(zap.New(core).Sugar())
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func Debugf(format string, args ...interface{}) { current().Debugf(format, args...) }
func Infof(format string, args ...interface{})  { current().Infof(format, args...) }
func Warnf(format string, args ...interface{})  { current().Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { current().Errorf(format, args...) }

// Fatalf logs at fatal level and terminates the process. Reserved for the
// programmer-error taxonomy: a second EventLoop on an occupied thread slot,
// failure to create the listening socket, epoll/eventfd creation failure,
// epoll_ctl ADD/MOD failures, a nil loop, and a loop-only call made off
// the loop's thread.
func Fatalf(format string, args ...interface{}) { current().Fatalf(format, args...) }

// LogErr logs err at error level if non-nil. Mirrors the teacher's
// logging.LogErr helper used to fire-and-forget cleanup errors.
func LogErr(err error) {
	if err != nil {
		current().Errorf("%v", err)
	}
}
