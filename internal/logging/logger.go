package logging

import (
	"log"
	"log/slog"
	"os"
	"strings"
)

var (
	Logger *slog.Logger
	level  = new(slog.LevelVar) // dynamic level, set from LOG_LEVEL
)

func init() {
	Init()
}

// Init (re)builds the global logger from LOG_FORMAT and LOG_LEVEL.
// Safe to call again after a .env file has been loaded.
func Init() {
	level.Set(parseLevel(os.Getenv("LOG_LEVEL")))

	var handler slog.Handler
	if os.Getenv("LOG_FORMAT") == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}

	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Shortcut helpers. They resolve Logger at call time so Init can swap the handler.
func Info(msg string, args ...any)  { Logger.Info(msg, args...) }
func Error(msg string, args ...any) { Logger.Error(msg, args...) }
func Warn(msg string, args ...any)  { Logger.Warn(msg, args...) }
func Debug(msg string, args ...any) { Logger.Debug(msg, args...) }

func Fatal(msg string, args ...any) {
	Logger.Error(msg, args...)
	os.Exit(1)
}

// With returns a child logger tagged with a component name.
func With(component string) *slog.Logger {
	return Logger.With("component", component)
}

// WrapSlog bridges a *log.Logger (as expected by goburrow handlers) into slog at debug level.
func WrapSlog(key, value string) *log.Logger {
	return slog.NewLogLogger(Logger.With(key, value).Handler(), slog.LevelDebug)
}
