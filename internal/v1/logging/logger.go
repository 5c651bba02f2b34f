package logging

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger *zap.Logger
	once   sync.Once
)

type contextKey string

const (
	CorrelationIDKey contextKey = "correlation_id"
	ClientIDKey      contextKey = "client_id"
	RoomIDKey        contextKey = "room_id"
)

// Options controls logger construction.
type Options struct {
	Production   bool   // JSON encoder when true, colored console otherwise
	Level        string // zap level name; unknown values fall back to info
	LogToFiles   bool
	CombinedPath string // all levels, appended to stdout when LogToFiles
	ErrorPath    string // error level and above
}

// Initialize sets up the global logger.
func Initialize(opts Options) error {
	var err error
	once.Do(func() {
		var config zap.Config
		if opts.Production {
			config = zap.NewProductionConfig()
			config.EncoderConfig.TimeKey = "timestamp"
			config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		} else {
			config = zap.NewDevelopmentConfig()
			config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}

		if lvl, parseErr := zapcore.ParseLevel(opts.Level); parseErr == nil {
			config.Level = zap.NewAtomicLevelAt(lvl)
		}

		config.OutputPaths = []string{"stdout"}
		config.ErrorOutputPaths = []string{"stderr"}
		if opts.LogToFiles {
			if opts.CombinedPath != "" {
				config.OutputPaths = append(config.OutputPaths, opts.CombinedPath)
			}
			if opts.ErrorPath != "" {
				config.ErrorOutputPaths = append(config.ErrorOutputPaths, opts.ErrorPath)
			}
		}

		logger, err = config.Build(zap.AddCallerSkip(1))
	})
	return err
}

// GetLogger returns the global logger instance.
func GetLogger() *zap.Logger {
	if logger == nil {
		// Fallback for tests or before init
		l, _ := zap.NewDevelopment()
		return l
	}
	return logger
}

// Debug logs a message at DebugLevel
func Debug(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Debug(msg, appendContextFields(ctx, fields)...)
}

// Info logs a message at InfoLevel
func Info(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Info(msg, appendContextFields(ctx, fields)...)
}

// Warn logs a message at WarnLevel
func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Warn(msg, appendContextFields(ctx, fields)...)
}

// Error logs a message at ErrorLevel
func Error(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Error(msg, appendContextFields(ctx, fields)...)
}

// Fatal logs a message at FatalLevel
func Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Fatal(msg, appendContextFields(ctx, fields)...)
}

// WithClient returns a context tagged with the connection identity so
// every log line emitted while handling that client carries it.
func WithClient(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, ClientIDKey, clientID)
}

// WithRoom returns a context tagged with the room identity.
func WithRoom(ctx context.Context, roomID string) context.Context {
	return context.WithValue(ctx, RoomIDKey, roomID)
}

// WithCorrelationID returns a context tagged with a request correlation id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, id)
}

func appendContextFields(ctx context.Context, fields []zap.Field) []zap.Field {
	if ctx == nil {
		return fields
	}

	if cid, ok := ctx.Value(CorrelationIDKey).(string); ok {
		fields = append(fields, zap.String("correlation_id", cid))
	}
	if uid, ok := ctx.Value(ClientIDKey).(string); ok {
		fields = append(fields, zap.String("client_id", uid))
	}
	if rid, ok := ctx.Value(RoomIDKey).(string); ok {
		fields = append(fields, zap.String("room_id", rid))
	}

	fields = append(fields, zap.String("service", "syncroom-backend"))

	return fields
}
