// Package logging provides the package loggers of ttlKV.
//
// Every package obtains its logger with logger.GetLogger("<pkg>") from dragonboat's logger
// package. InitLoggers installs CreateLogger as the factory, so all of them write structured
// zerolog events with a "cmp" field naming the package.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/rs/zerolog"
)

// Packages lists the logger names used by ttlKV. InitLoggers configures all of them.
var Packages = []string{"db", "structured", "expiring", "cmd"}

// sink is the root logger every package logger derives from
var sink atomic.Pointer[zerolog.Logger]

func init() {
	SetOutput(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"})
}

// SetOutput redirects all package loggers created afterwards to w.
func SetOutput(w io.Writer) {
	l := zerolog.New(w).With().Timestamp().Logger()
	sink.Store(&l)
}

// --------------------------------------------------------------------------
// Custom Logger (implements dragonboats logger.ILogger)
// --------------------------------------------------------------------------

// ttlLogger implements the ILogger interface on top of a zerolog logger
type ttlLogger struct {
	name  string
	level atomic.Int32
	zl    zerolog.Logger
}

func (l *ttlLogger) SetLevel(level logger.LogLevel) {
	l.level.Store(int32(level))
}

func (l *ttlLogger) enabled(level logger.LogLevel) bool {
	return logger.LogLevel(l.level.Load()) >= level
}

func (l *ttlLogger) Debugf(format string, args ...interface{}) {
	if l.enabled(logger.DEBUG) {
		l.zl.Debug().Msgf(format, args...)
	}
}

func (l *ttlLogger) Infof(format string, args ...interface{}) {
	if l.enabled(logger.INFO) {
		l.zl.Info().Msgf(format, args...)
	}
}

func (l *ttlLogger) Warningf(format string, args ...interface{}) {
	if l.enabled(logger.WARNING) {
		l.zl.Warn().Msgf(format, args...)
	}
}

func (l *ttlLogger) Errorf(format string, args ...interface{}) {
	if l.enabled(logger.ERROR) {
		l.zl.Error().Msgf(format, args...)
	}
}

func (l *ttlLogger) Panicf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.zl.Error().Msg(msg)
	panic(msg)
}

// --------------------------------------------------------------------------
// Logger Factory
// --------------------------------------------------------------------------

// CreateLogger implements dragonboats logger.Factory. The new logger starts at level INFO.
func CreateLogger(pkgName string) logger.ILogger {
	l := &ttlLogger{
		name: pkgName,
		zl:   sink.Load().With().Str("cmp", pkgName).Logger(),
	}
	l.level.Store(int32(logger.INFO))
	return l
}

// ParseLogLevel converts a string level to logger.LogLevel
func ParseLogLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return logger.DEBUG, nil
	case "info":
		return logger.INFO, nil
	case "warning", "warn":
		return logger.WARNING, nil
	case "error":
		return logger.ERROR, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s. must be one of debug, info, warn, error", level)
	}
}

// installFactory guards logger.SetLoggerFactory, which panics when called twice
var installFactory sync.Once

// InitLoggers installs CreateLogger as the global logger factory and sets the level of all
// ttlKV package loggers.
//
// It may be called more than once: the factory is installed on the first call, later calls
// only apply the level. Loggers that were already handed out keep their sink, so the first
// call should run before any database is opened.
func InitLoggers(level string) error {
	lvl, err := ParseLogLevel(level)
	if err != nil {
		return err
	}

	installFactory.Do(func() { logger.SetLoggerFactory(CreateLogger) })

	for _, pkg := range Packages {
		logger.GetLogger(pkg).SetLevel(lvl)
	}
	return nil
}
