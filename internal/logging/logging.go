// Package logging provides structured logging functionality.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string
	Console    bool
	File       bool
	FilePath   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	home, _ := os.UserHomeDir()
	return LogConfig{
		Level:      "info",
		Console:    true,
		File:       true,
		FilePath:   filepath.Join(home, ".config", "autotrade-engine", "logs", "engine.log"),
		MaxSize:    100,
		MaxBackups: 7,
		MaxAge:     30,
	}
}

// NewLogger creates a new logger with default configuration.
func NewLogger() zerolog.Logger {
	return NewLoggerWithConfig(DefaultLogConfig())
}

// NewLoggerWithConfig creates a new logger with the specified configuration.
func NewLoggerWithConfig(cfg LogConfig) zerolog.Logger {
	var writers []io.Writer

	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	}

	if cfg.File {
		logDir := filepath.Dir(cfg.FilePath)
		if err := os.MkdirAll(logDir, 0755); err == nil {
			writers = append(writers, &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   true,
			})
		}
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = os.Stdout
	case 1:
		writer = writers[0]
	default:
		writer = zerolog.MultiLevelWriter(writers...)
	}

	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	return zerolog.New(writer).With().Timestamp().Logger()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetDebugLevel sets the global log level to debug.
func SetDebugLevel() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

// WithUser adds a user id to the logger context.
func WithUser(logger zerolog.Logger, userID string) zerolog.Logger {
	return logger.With().Str("user_id", userID).Logger()
}

// WithPosition adds a position id to the logger context.
func WithPosition(logger zerolog.Logger, positionID string) zerolog.Logger {
	return logger.With().Str("position_id", positionID).Logger()
}

// WithSymbol adds a symbol to the logger context.
func WithSymbol(logger zerolog.Logger, symbol string) zerolog.Logger {
	return logger.With().Str("symbol", symbol).Logger()
}

// LogExecution logs one execution attempt.
func LogExecution(logger zerolog.Logger, orderID, symbol, status string, attempt int, slippagePct float64) {
	logger.Info().
		Str("event", "execution").
		Str("order_id", orderID).
		Str("symbol", symbol).
		Str("status", status).
		Int("attempt", attempt).
		Float64("slippage_pct", slippagePct).
		Msg("Execution attempt")
}

// LogRejection logs a pre-trade rejection.
func LogRejection(logger zerolog.Logger, userID, symbol, reason string) {
	logger.Info().
		Str("event", "rejection").
		Str("user_id", userID).
		Str("symbol", symbol).
		Str("reason", reason).
		Msg("Signal rejected")
}

// LogBreakerTrip logs a circuit breaker state change.
func LogBreakerTrip(logger zerolog.Logger, userID, status, reason string) {
	logger.Warn().
		Str("event", "circuit_breaker").
		Str("user_id", userID).
		Str("status", status).
		Str("reason", reason).
		Msg("Circuit breaker state changed")
}

// LogPositionClose logs a full or partial position close.
func LogPositionClose(logger zerolog.Logger, positionID, symbol, reason string, units, pnl float64) {
	logger.Info().
		Str("event", "position_close").
		Str("position_id", positionID).
		Str("symbol", symbol).
		Str("reason", reason).
		Float64("units", units).
		Float64("pnl", pnl).
		Msg("Position closed")
}
