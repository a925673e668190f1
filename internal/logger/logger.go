package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	Logger *zap.Logger
}

var (
	ProductionMode  = "production"
	DevelopmentMode = "development"
)

// New builds a logger for mode. Any mode other than ProductionMode yields
// the coloured development encoder.
func New(mode string) *Logger {
	var config zap.Config
	if mode == ProductionMode {
		config = zap.NewProductionConfig()
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zapLogger, err := config.Build(zap.AddCallerSkip(1))
	if err != nil {
		panic(err)
	}
	return &Logger{Logger: zapLogger}
}

// Nop returns a logger that discards everything.
func Nop() *Logger { return &Logger{Logger: zap.NewNop()} }

type ctxKey string

var (
	OwnerKey      ctxKey = "owner"
	SessionTagKey ctxKey = "session_tag"
	RequestIdKey  ctxKey = "request_id"
)

// WithValue stores a log field in ctx for later calls to Ctx.
func WithValue(ctx context.Context, key ctxKey, value string) context.Context {
	return context.WithValue(ctx, key, value)
}

// Ctx returns a zap logger annotated with the fields carried by ctx.
func (l *Logger) Ctx(ctx context.Context) *zap.Logger {
	var fields []zap.Field
	if ctx != nil {
		for _, k := range []ctxKey{OwnerKey, SessionTagKey, RequestIdKey} {
			if v, ok := ctx.Value(k).(string); ok {
				fields = append(fields, zap.String(string(k), v))
			}
		}
	}
	return l.Logger.With(fields...)
}

// With returns a child logger with fields attached.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{Logger: l.Logger.With(fields...)}
}

// Named returns a child logger scoped to a component.
func (l *Logger) Named(name string) *Logger {
	return &Logger{Logger: l.Logger.Named(name)}
}

func (l *Logger) Debugf(template string, args ...interface{}) {
	l.Logger.Sugar().Debugf(template, args...)
}

func (l *Logger) Infof(template string, args ...interface{}) {
	l.Logger.Sugar().Infof(template, args...)
}

func (l *Logger) Warnf(template string, args ...interface{}) {
	l.Logger.Sugar().Warnf(template, args...)
}

func (l *Logger) Errorf(template string, args ...interface{}) {
	l.Logger.Sugar().Errorf(template, args...)
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error { return l.Logger.Sync() }
