// internal/pkg/logger/logger.go
package logger

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

var base = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Init 初始化全局日志，所有日志都带上服务名
func Init(serviceName, level string) {
	InitWithWriter(os.Stdout, serviceName, level)
}

// InitWithWriter 允许测试把日志写到任意 writer
func InitWithWriter(w io.Writer, serviceName, level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	base = zerolog.New(w).Level(lvl).With().Timestamp().Str("service", serviceName).Logger()
}

// L 返回不带追踪信息的全局日志
func L() *zerolog.Logger {
	return &base
}

// Ctx 返回带有 trace_id / span_id 的日志，方便和 Jaeger 里的链路对上
func Ctx(ctx context.Context) *zerolog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return &base
	}
	l := base.With().
		Str("trace_id", sc.TraceID().String()).
		Str("span_id", sc.SpanID().String()).
		Logger()
	return &l
}
