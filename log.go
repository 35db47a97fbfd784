package ember

import (
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a structured JSON logger at level ("debug", "info",
// "warn", "error") writing to w, for embedding callers that don't already
// run their own zap logger. Grounded on heroiclabs-nakama's
// server/logger.go NewJSONLogger, trimmed to the single output stream an
// embedded library needs - no stdout/file tee, no log rotation, no
// Stackdriver encoding, since those are server-process concerns nakama
// has and Ember, as a library, does not.
func NewLogger(level string, w io.Writer) *zap.Logger {
	zapLevel := zapcore.InfoLevel
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(w), zapLevel)
	return zap.New(core)
}

// defaultLogger is used when Options.Logger is left nil, matching
// library-shaped (as opposed to server-shaped) code's convention of
// staying silent unless a caller opts in.
func defaultLogger() *zap.Logger {
	return zap.NewNop()
}
