package mq

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type captureWriter struct {
	msgs []kafka.Message
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func TestProduceMessagesInjectsTraceContext(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled,
	}))

	w := &captureWriter{}
	if err := ProduceMessages(ctx, w, NewMessage(ctx, []byte("u1"), []byte(`{}`))); err != nil {
		t.Fatalf("ProduceMessages: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("got %d messages", len(w.msgs))
	}

	carrier := KafkaHeaderCarrier(w.msgs[0].Headers)
	if carrier.Get("traceparent") == "" {
		t.Fatalf("traceparent header missing: %+v", w.msgs[0].Headers)
	}

	got := trace.SpanContextFromContext(otel.GetTextMapPropagator().Extract(context.Background(), &carrier))
	if got.TraceID() != traceID {
		t.Fatalf("extracted trace id %s, want %s", got.TraceID(), traceID)
	}
}

func TestHeaderCarrierSetOverwrites(t *testing.T) {
	var c KafkaHeaderCarrier
	c.Set("k", "v1")
	c.Set("k", "v2")
	if len(c) != 1 || c.Get("k") != "v2" {
		t.Fatalf("carrier = %+v", c)
	}
	if keys := c.Keys(); len(keys) != 1 || keys[0] != "k" {
		t.Fatalf("keys = %v", keys)
	}
}
