package otel

import (
	"context"
	"testing"
)

func TestInit_Disabled(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init disabled: %v", err)
	}
	defer p.Shutdown(context.Background())

	if p.Tracer == nil {
		t.Fatal("expected non-nil tracer (noop)")
	}
	if p.Meter == nil {
		t.Fatal("expected non-nil meter (noop)")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestInit_NoneExporter(t *testing.T) {
	p, err := Init(context.Background(), Config{
		Enabled:  true,
		Exporter: "none",
	})
	if err != nil {
		t.Fatalf("Init with none exporter: %v", err)
	}
	defer p.Shutdown(context.Background())

	if p.TracerProvider == nil {
		t.Fatal("expected non-nil TracerProvider")
	}

	ctx, span := StartClientSpan(context.Background(), p.Tracer, "llm.generate",
		AttrModel.String("llama3.1:8b"),
		AttrPurpose.String("initiate"),
	)
	span.End()
	_ = ctx
}

func TestInit_UnknownExporter(t *testing.T) {
	_, err := Init(context.Background(), Config{
		Enabled:  true,
		Exporter: "magic-pixie-dust",
	})
	if err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}

func TestNewMetrics_AllInstrumentsCreated(t *testing.T) {
	p, err := Init(context.Background(), Config{
		Enabled:  true,
		Exporter: "none",
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	if m.MessagesIngested == nil {
		t.Error("MessagesIngested is nil")
	}
	if m.MessagesSent == nil {
		t.Error("MessagesSent is nil")
	}
	if m.PendingReclaimed == nil {
		t.Error("PendingReclaimed is nil")
	}
	if m.Reconnects == nil {
		t.Error("Reconnects is nil")
	}
	if m.MessagesIndexed == nil {
		t.Error("MessagesIndexed is nil")
	}
	if m.RepliesEmitted == nil {
		t.Error("RepliesEmitted is nil")
	}
	if m.GenerateDuration == nil {
		t.Error("GenerateDuration is nil")
	}
	if m.GenerateRetries == nil {
		t.Error("GenerateRetries is nil")
	}
}

func TestNewMetrics_NoopMeter(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics with noop: %v", err)
	}
	if m == nil {
		t.Fatal("expected non-nil Metrics")
	}
}
