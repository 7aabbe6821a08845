package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

func TestCtxAddsTraceFields(t *testing.T) {
	var buf bytes.Buffer
	prev := zlog.Logger
	t.Cleanup(func() { zlog.Logger = prev; zerolog.SetGlobalLevel(zerolog.TraceLevel) })

	Init(Options{Service: "cart-service", Level: "debug", Output: &buf})

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	Ctx(ctx).Info().Msg("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not json: %v (%q)", err, buf.String())
	}
	if line["trace_id"] != traceID.String() {
		t.Errorf("trace_id = %v, want %s", line["trace_id"], traceID)
	}
	if line["service"] != "cart-service" {
		t.Errorf("service = %v", line["service"])
	}
}

func TestCtxWithoutSpan(t *testing.T) {
	var buf bytes.Buffer
	prev := zlog.Logger
	t.Cleanup(func() { zlog.Logger = prev; zerolog.SetGlobalLevel(zerolog.TraceLevel) })

	Init(Options{Service: "svc", Level: "warn", Output: &buf})

	Ctx(context.Background()).Info().Msg("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %q", buf.String())
	}
	Ctx(context.Background()).Warn().Msg("kept")
	if !bytes.Contains(buf.Bytes(), []byte("kept")) {
		t.Fatalf("warn line missing: %q", buf.String())
	}
}
