package logger

import (
	"os"
	"sort"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Package logger wraps zap behind a minimal API: plain message helpers and
// structured "J" variants that log an event name plus a flat field map.
// The default logger writes JSON lines to stderr; level comes from
// MESH_LOG_LEVEL (debug|info|warn|error, default info).

var (
	mu  sync.RWMutex
	log = newDefault()
)

func newDefault() *zap.Logger {
	lvl := zapcore.InfoLevel
	switch os.Getenv("MESH_LOG_LEVEL") {
	case "debug":
		lvl = zapcore.DebugLevel
	case "warn":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.Lock(os.Stderr), lvl)
	return zap.New(core)
}

// SetLogger replaces the package logger (tests, custom sinks).
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	if l != nil {
		log = l
	}
}

func get() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

func Debug(msg string) { get().Debug(msg) }
func Info(msg string)  { get().Info(msg) }
func Warn(msg string)  { get().Warn(msg) }
func Error(msg string) { get().Error(msg) }

// DebugJ logs an event with structured fields at debug level.
func DebugJ(event string, kv map[string]any) { get().Debug(event, fields(kv)...) }

// InfoJ logs an event with structured fields at info level.
func InfoJ(event string, kv map[string]any) { get().Info(event, fields(kv)...) }

// WarnJ logs an event with structured fields at warn level.
func WarnJ(event string, kv map[string]any) { get().Warn(event, fields(kv)...) }

// ErrorJ logs an event with structured fields at error level.
func ErrorJ(event string, kv map[string]any) { get().Error(event, fields(kv)...) }

// fields flattens the map in key order so log lines are stable.
func fields(kv map[string]any) []zap.Field {
	if len(kv) == 0 {
		return nil
	}
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, zap.Any(k, kv[k]))
	}
	return out
}

// Sync flushes buffered log entries; safe to call on shutdown.
func Sync() { _ = get().Sync() }
