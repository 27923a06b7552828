// Package logging provides logging configuration and utility functions.
package logging

import (
	"context"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
)

type Config struct {
	JSON  bool       `hcl:"json,optional" help:"Enable JSON logging."`
	Level slog.Level `hcl:"level,optional" help:"Set the logging level." default:"info"`
}

// LevelSilent is above every record the tool emits; -qqq maps here.
const LevelSilent = slog.LevelError + 4

// LevelFromVerbosity maps the -v/-q counters onto a slog level. The base
// level is Info; each -v lowers it and each -q raises it.
func LevelFromVerbosity(quiet, verbose int) slog.Level {
	switch {
	case verbose >= 2:
		return slog.LevelDebug - 4
	case verbose == 1:
		return slog.LevelDebug
	case quiet == 1:
		return slog.LevelWarn
	case quiet == 2:
		return slog.LevelError
	case quiet >= 3:
		return LevelSilent
	}
	return slog.LevelInfo
}

type logKey struct{}

func Configure(ctx context.Context, config Config) (*slog.Logger, context.Context) {
	var handler slog.Handler
	if config.JSON {
		handler = &messageHandler{inner: slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: config.Level})}
	} else {
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level: config.Level,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey && len(groups) == 0 {
					return slog.Attr{}
				}
				return a
			},
		})
	}
	logger := slog.New(handler)
	return logger, context.WithValue(ctx, logKey{}, logger)
}

func FromContext(ctx context.Context) *slog.Logger {
	logger, ok := ctx.Value(logKey{}).(*slog.Logger)
	if !ok {
		panic("no logger in context")
	}
	return logger
}

// ContextWithLogger returns a new context with the given logger.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, logKey{}, logger)
}

// Describe logs "<msg>..." at the given level and returns a guard that logs
// "<msg> done." or "<msg> failed." depending on the error it is handed.
//
//	done := logging.Describe(ctx, slog.LevelInfo, "Syncing all repos")
//	err := phase()
//	done(err)
func Describe(ctx context.Context, level slog.Level, msg string) func(error) {
	logger := FromContext(ctx)
	logger.Log(ctx, level, msg+"...")
	return func(err error) {
		if err != nil {
			logger.Log(ctx, level, msg+" failed.")
			return
		}
		logger.Log(ctx, level, msg+" done.")
	}
}
