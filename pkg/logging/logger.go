package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// LogLevel is a level name as accepted by LOG_LEVEL
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Config holds logger configuration
type Config struct {
	Level       LogLevel
	ServiceName string
	Environment string
	Version     string
	Output      io.Writer
	AddSource   bool
}

// DefaultConfig returns an info-level config writing to stdout
func DefaultConfig(serviceName string) *Config {
	return &Config{
		Level:       LevelInfo,
		ServiceName: serviceName,
		Environment: "development",
		Version:     "unknown",
		Output:      os.Stdout,
	}
}

// Logger is a JSON slog.Logger carrying service, environment and version on every line.
type Logger struct {
	*slog.Logger
}

// New creates a Logger. Unknown level names fall back to info.
func New(config *Config) *Logger {
	output := config.Output
	if output == nil {
		output = os.Stdout
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(config.Level)); err != nil {
		level = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(output, &slog.HandlerOptions{
		Level:       level,
		AddSource:   config.AddSource,
		ReplaceAttr: utcTime,
	})

	return &Logger{Logger: slog.New(handler).With(
		"service", config.ServiceName,
		"environment", config.Environment,
		"version", config.Version,
	)}
}

func utcTime(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
		a.Value = slog.StringValue(a.Value.Time().UTC().Format(time.RFC3339Nano))
	}
	return a
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))}
}

func (l *Logger) with(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// WithContext adds the request, correlation and message attributes stored in ctx,
// plus the trace id of the active span.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}
	args, _ := ctx.Value(attrsKey).([]any)
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		args = append(args[:len(args):len(args)], "traceId", sc.TraceID().String())
	}
	if len(args) == 0 {
		return l
	}
	return l.with(args...)
}

// WithError adds err under "error". A nil err returns l unchanged.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.with("error", err.Error())
}

// WithComponent tags lines with the emitting component
func (l *Logger) WithComponent(component string) *Logger {
	return l.with("component", component)
}

// HTTPRequest logs one ops API request; 4xx at warn, 5xx at error.
func (l *Logger) HTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration, clientIP string) {
	level := slog.LevelInfo
	switch {
	case status >= 500:
		level = slog.LevelError
	case status >= 400:
		level = slog.LevelWarn
	}

	l.WithContext(ctx).Log(ctx, level, "HTTP request",
		"method", method,
		"path", path,
		"status", status,
		"durationMs", duration.Milliseconds(),
		"clientIP", clientIP,
	)
}

// KafkaPublish logs a publish at debug, or at error when it failed
func (l *Logger) KafkaPublish(ctx context.Context, topic, eventType string, success bool, duration time.Duration) {
	level := slog.LevelDebug
	if !success {
		level = slog.LevelError
	}
	l.WithContext(ctx).Log(ctx, level, "Kafka publish",
		"topic", topic,
		"eventType", eventType,
		"success", success,
		"durationMs", duration.Milliseconds(),
	)
}

// KafkaConsume logs what the consumer did with a message
func (l *Logger) KafkaConsume(ctx context.Context, topic string, partition int, offset int64, disposition string) {
	l.WithContext(ctx).DebugContext(ctx, "Kafka consume",
		"topic", topic,
		"partition", partition,
		"offset", offset,
		"disposition", disposition,
	)
}

// VendorCall logs an outbound storefront API call
func (l *Logger) VendorCall(ctx context.Context, channel, method, path string, status int, duration time.Duration, err error) {
	level := slog.LevelDebug
	args := []any{
		"channel", channel,
		"method", method,
		"path", path,
		"status", status,
		"durationMs", duration.Milliseconds(),
	}
	if err != nil {
		level = slog.LevelWarn
		args = append(args, "error", err.Error())
	}
	l.WithContext(ctx).Log(ctx, level, "Vendor call", args...)
}

// Panic logs a recovered panic with the current goroutine's stack
func (l *Logger) Panic(ctx context.Context, recovered any) {
	stack := make([]byte, 4096)
	n := runtime.Stack(stack, false)
	l.WithContext(ctx).ErrorContext(ctx, "Panic recovered",
		"panic", recovered,
		"stack", string(stack[:n]),
	)
}

// SetDefault makes l the process-wide slog default
func (l *Logger) SetDefault() {
	slog.SetDefault(l.Logger)
}

type contextKey int

const (
	attrsKey contextKey = iota
	correlationIDKey
)

// ContextWithAttrs returns ctx carrying args in addition to any attributes already present.
// WithContext adds them to every line logged for ctx.
func ContextWithAttrs(ctx context.Context, args ...any) context.Context {
	prev, _ := ctx.Value(attrsKey).([]any)
	next := make([]any, 0, len(prev)+len(args))
	next = append(append(next, prev...), args...)
	return context.WithValue(ctx, attrsKey, next)
}

// ContextWithRequestID tags ctx with an ops API request id
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return ContextWithAttrs(ctx, "requestId", requestID)
}

// ContextWithCorrelationID tags ctx with the correlation id of the message being handled
func ContextWithCorrelationID(ctx context.Context, correlationID string) context.Context {
	ctx = context.WithValue(ctx, correlationIDKey, correlationID)
	return ContextWithAttrs(ctx, "correlationId", correlationID)
}

// ContextWithMessage tags ctx with the Kafka coordinates of the message being handled
func ContextWithMessage(ctx context.Context, topic string, partition int, offset int64) context.Context {
	return ContextWithAttrs(ctx, "topic", topic, "partition", partition, "offset", offset)
}

// CorrelationIDFromContext returns the correlation id stored in ctx, if any
func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}
