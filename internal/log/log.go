// Package log holds the module-wide logger. It mirrors the teacher's
// internal/log: a single process-wide Logger set once by the caller via
// WithLogger, defaulting to a zap sugared logger.
package log

import (
	"sync"

	"go.uber.org/zap"
)

// Logger represents an active logging object that generates lines of
// output, matching zap's SugaredLogger method set so it can be swapped
// for any compatible implementation.
type Logger interface {
	Debug(args ...interface{})
	Debugf(template string, args ...interface{})
	Info(args ...interface{})
	Infof(template string, args ...interface{})
	Warn(args ...interface{})
	Warnf(template string, args ...interface{})
	Error(args ...interface{})
	Errorf(template string, args ...interface{})
	Fatal(args ...interface{})
	Fatalf(template string, args ...interface{})
}

var (
	mu  sync.RWMutex
	cur Logger = newDefault()
)

func newDefault() Logger {
	zl, err := zap.NewProduction()
	if err != nil {
		zl = zap.NewNop()
	}
	return zl.Sugar()
}

// SetLogger replaces the module-wide logger.
func SetLogger(lg Logger) {
	if lg == nil {
		return
	}
	mu.Lock()
	cur = lg
	mu.Unlock()
}

// GetLogger returns the current module-wide logger.
func GetLogger() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return cur
}

func Debug(args ...interface{})                 { GetLogger().Debug(args...) }
func Debugf(f string, args ...interface{})      { GetLogger().Debugf(f, args...) }
func Info(args ...interface{})                  { GetLogger().Info(args...) }
func Infof(f string, args ...interface{})       { GetLogger().Infof(f, args...) }
func Warn(args ...interface{})                  { GetLogger().Warn(args...) }
func Warnf(f string, args ...interface{})       { GetLogger().Warnf(f, args...) }
func Error(args ...interface{})                 { GetLogger().Error(args...) }
func Errorf(f string, args ...interface{})      { GetLogger().Errorf(f, args...) }
func Fatal(args ...interface{})                 { GetLogger().Fatal(args...) }
func Fatalf(f string, args ...interface{})      { GetLogger().Fatalf(f, args...) }
