package service

import (
	"log/slog"
	"os"

	"go.uber.org/fx"

	"github.com/Sergey-Ryabko-84/next-talk/pkg/variables"
)

var loggerWriter = os.Stdout

func logLevel() slog.Level {
	switch variables.Env(variables.LOG_LEVEL_NAME, variables.LOG_LEVEL_DEFAULT) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(loggerWriter, &slog.HandlerOptions{
		AddSource: false,
		Level:     logLevel(),
	}))
}

var LoggerModule = fx.Module("logger", fx.Provide(
	logger,
))
