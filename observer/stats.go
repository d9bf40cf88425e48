package observer

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/nevindra/clonechat"
)

// Units and descriptions for the instruments the engines emit. Names
// outside this table still work; they just register without metadata.
var (
	counterMeta = map[string]struct{ unit, desc string }{
		"clone.messages":  {"{message}", "Messages replicated to the destination"},
		"clone.bytes":     {"By", "Media bytes moved through download/upload"},
		"download.videos": {"{video}", "Videos saved by bulk download"},
		"download.bytes":  {"By", "Bytes saved by bulk download"},
		"publish.uploads": {"{upload}", "Plan items uploaded by publish"},
	}
	histogramMeta = map[string]struct{ unit, desc string }{
		"platform.call.duration": {"s", "Platform call latency including retries"},
		"transcoder.duration":    {"s", "Transcoder invocation duration"},
		"publish.stage.duration": {"s", "Publish stage duration"},
	}
)

// statsSink implements clonechat.Stats over the global MeterProvider.
// Instruments are created on first use and cached by name.
type statsSink struct {
	meter metric.Meter

	mu         sync.Mutex
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
}

// NewStats returns a clonechat.Stats backed by the global OTEL
// MeterProvider. Call observer.Init() first to configure the provider;
// otherwise records go to a no-op backend.
func NewStats() clonechat.Stats {
	return &statsSink{
		meter:      otel.Meter(scopeName),
		counters:   map[string]metric.Int64Counter{},
		histograms: map[string]metric.Float64Histogram{},
	}
}

func (s *statsSink) Count(name string, n int64, attrs ...clonechat.SpanAttr) {
	c, err := s.counter(name)
	if err != nil {
		return
	}
	c.Add(context.Background(), n, metric.WithAttributes(toOTELAttrs(attrs)...))
}

func (s *statsSink) Observe(name string, v float64, attrs ...clonechat.SpanAttr) {
	h, err := s.histogram(name)
	if err != nil {
		return
	}
	h.Record(context.Background(), v, metric.WithAttributes(toOTELAttrs(attrs)...))
}

func (s *statsSink) counter(name string) (metric.Int64Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.counters[name]; ok {
		return c, nil
	}
	var opts []metric.Int64CounterOption
	if m, ok := counterMeta[name]; ok {
		opts = append(opts, metric.WithUnit(m.unit), metric.WithDescription(m.desc))
	}
	c, err := s.meter.Int64Counter(name, opts...)
	if err != nil {
		return nil, err
	}
	s.counters[name] = c
	return c, nil
}

func (s *statsSink) histogram(name string) (metric.Float64Histogram, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.histograms[name]; ok {
		return h, nil
	}
	var opts []metric.Float64HistogramOption
	if m, ok := histogramMeta[name]; ok {
		opts = append(opts, metric.WithUnit(m.unit), metric.WithDescription(m.desc))
	}
	h, err := s.meter.Float64Histogram(name, opts...)
	if err != nil {
		return nil, err
	}
	s.histograms[name] = h
	return h, nil
}

var _ clonechat.Stats = (*statsSink)(nil)
