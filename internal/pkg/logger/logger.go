// internal/pkg/logger/logger.go
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// Options 描述了全局 logger 的初始化参数
type Options struct {
	Service string
	Level   string // debug / info / warn / error
	Env     string // dev 环境使用 console 输出
	Output  io.Writer
}

// Init 配置全局 zerolog logger，所有服务在 main 中调用一次
func Init(opts Options) {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if opts.Env == "dev" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.DateTime}
	}

	zlog.Logger = zerolog.New(out).With().Timestamp().Str("service", opts.Service).Logger()
}

// Ctx 返回一个携带当前 trace_id / span_id 的 logger
// 如果 ctx 中已经通过 WithContext 注入了 logger，则在其基础上追加追踪字段
func Ctx(ctx context.Context) *zerolog.Logger {
	base := zerolog.Ctx(ctx)
	if base.GetLevel() == zerolog.Disabled {
		// zerolog.Ctx 在没有注入时返回 DefaultContextLogger 或 disabled logger
		base = &zlog.Logger
	}

	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return base
	}

	l := base.With().
		Str("trace_id", spanCtx.TraceID().String()).
		Str("span_id", spanCtx.SpanID().String()).
		Logger()
	return &l
}

// WithContext 把 logger 放进 ctx，中间件使用
func WithContext(ctx context.Context, l zerolog.Logger) context.Context {
	return l.WithContext(ctx)
}
