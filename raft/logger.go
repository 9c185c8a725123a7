package raft

import (
	"os"

	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// Logger is the logging surface the core calls into, matching the
// teacher's raft.Config.Logger (Debugf/Infof/Warningf/Errorf/Panicf). A nil
// Logger in Config is replaced by defaultLogger.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Panicf(format string, args ...interface{})
}

// zapLogger adapts a *zap.SugaredLogger, as built by pingcap/log.InitLogger,
// to Logger.
type zapLogger struct {
	s *zap.SugaredLogger
}

func (l zapLogger) Debugf(format string, args ...interface{})   { l.s.Debugf(format, args...) }
func (l zapLogger) Infof(format string, args ...interface{})    { l.s.Infof(format, args...) }
func (l zapLogger) Warningf(format string, args ...interface{}) { l.s.Warnf(format, args...) }
func (l zapLogger) Errorf(format string, args ...interface{})   { l.s.Errorf(format, args...) }
func (l zapLogger) Panicf(format string, args ...interface{})   { l.s.Panicf(format, args...) }

var defaultLogger Logger = NewLogger(envOr("RAFT_LOG_FILE", ""), 100)

// NewLogger builds a Logger through pingcap/log.InitLogger, writing to
// filename with lumberjack rotation at maxSizeMB per file; filename == ""
// logs to stdout unrotated, InitLogger's own default. Unlike callers that
// reach for pingcap/log's package-level L()/S() globals, the *zap.Logger
// InitLogger returns is kept local to this Logger value instead of
// replacing process-wide state, so two Raft instances in one process
// never fight over a shared global logger.
func NewLogger(filename string, maxSizeMB int) Logger {
	cfg := &log.Config{
		Level: "info",
		File: log.FileLogConfig{
			Filename:   filename,
			MaxSize:    maxSizeMB,
			MaxBackups: 5,
			MaxDays:    7,
		},
	}
	base, _, err := log.InitLogger(cfg)
	if err != nil {
		// InitLogger failing (e.g. an unwritable path) must never stop a
		// node from starting; fall back to an unconfigured stderr logger.
		base = zap.NewExample()
	}
	return zapLogger{s: base.Sugar()}
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}
