package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all banter metrics instruments.
type Metrics struct {
	MessagesIngested metric.Int64Counter
	MessagesSent     metric.Int64Counter
	PendingReclaimed metric.Int64Counter
	Reconnects       metric.Int64Counter
	MessagesIndexed  metric.Int64Counter
	RepliesEmitted   metric.Int64Counter
	GenerateDuration metric.Float64Histogram
	GenerateRetries  metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.MessagesIngested, err = meter.Int64Counter("banter.gateway.ingested",
		metric.WithDescription("Chat messages appended to the inbound stream"),
	)
	if err != nil {
		return nil, err
	}

	m.MessagesSent, err = meter.Int64Counter("banter.gateway.sent",
		metric.WithDescription("Outbound messages written to the wire"),
	)
	if err != nil {
		return nil, err
	}

	m.PendingReclaimed, err = meter.Int64Counter("banter.gateway.reclaimed",
		metric.WithDescription("Stale pending outbound entries reclaimed"),
	)
	if err != nil {
		return nil, err
	}

	m.Reconnects, err = meter.Int64Counter("banter.gateway.reconnects",
		metric.WithDescription("Chat connection attempts after a drop"),
	)
	if err != nil {
		return nil, err
	}

	m.MessagesIndexed, err = meter.Int64Counter("banter.brain.indexed",
		metric.WithDescription("Messages admitted to the rolling buffers"),
	)
	if err != nil {
		return nil, err
	}

	m.RepliesEmitted, err = meter.Int64Counter("banter.brain.replies",
		metric.WithDescription("Replies appended to the outbound stream"),
	)
	if err != nil {
		return nil, err
	}

	m.GenerateDuration, err = meter.Float64Histogram("banter.llm.duration",
		metric.WithDescription("LLM generation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.GenerateRetries, err = meter.Int64Counter("banter.llm.retries",
		metric.WithDescription("LLM retries for empty, truncated, or off-language output"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
