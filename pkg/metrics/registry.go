// Package metrics provides the Prometheus instrument registry shared by the
// exporter and the service metrics of the backend and generator.
package metrics

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/common/model"
)

// Kind is the type of a named instrument.
type Kind int

const (
	// KindGauge is a last-write-wins instrument.
	KindGauge Kind = iota
	// KindCounter is a monotonically increasing instrument.
	KindCounter
)

func (k Kind) String() string {
	if k == KindCounter {
		return "counter"
	}
	return "gauge"
}

var (
	// ErrDuplicateInstrument is returned when a name is registered twice.
	ErrDuplicateInstrument = errors.New("instrument already registered")
	// ErrUnknownInstrument is returned when writing to a name never registered.
	ErrUnknownInstrument = errors.New("instrument not registered")
	// ErrWrongKind is returned when a gauge is incremented or a counter is set.
	ErrWrongKind = errors.New("instrument has a different kind")
	// ErrInvalidName is returned when an instrument or label name is not a
	// legacy Prometheus identifier.
	ErrInvalidName = errors.New("invalid instrument or label name")
)

// Registry is a set of named gauges and counters backed by a Prometheus
// registry. Every instrument is a vector, so an instrument renders no sample
// until it has been written at least once.
type Registry struct {
	mu       sync.RWMutex
	reg      *prometheus.Registry
	gauges   map[string]*prometheus.GaugeVec
	counters map[string]*prometheus.CounterVec
	format   expfmt.Format
}

// NewRegistry creates an empty registry rendering the text exposition format.
func NewRegistry() *Registry {
	return &Registry{
		reg:      prometheus.NewRegistry(),
		gauges:   make(map[string]*prometheus.GaugeVec),
		counters: make(map[string]*prometheus.CounterVec),
		format:   expfmt.NewFormat(expfmt.TypeTextPlain),
	}
}

// RegisterGauge registers a gauge keyed by the given label names.
func (r *Registry) RegisterGauge(name, help string, labels ...string) error {
	if err := validateNames(name, labels); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.registeredLocked(name) {
		return fmt.Errorf("%w: %s", ErrDuplicateInstrument, name)
	}

	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labels)
	if err := r.reg.Register(vec); err != nil {
		return fmt.Errorf("failed to register gauge %s: %w", name, err)
	}

	r.gauges[name] = vec
	return nil
}

// RegisterCounter registers a counter keyed by the given label names.
func (r *Registry) RegisterCounter(name, help string, labels ...string) error {
	if err := validateNames(name, labels); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.registeredLocked(name) {
		return fmt.Errorf("%w: %s", ErrDuplicateInstrument, name)
	}

	vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
	if err := r.reg.Register(vec); err != nil {
		return fmt.Errorf("failed to register counter %s: %w", name, err)
	}

	r.counters[name] = vec
	return nil
}

// validateNames enforces the classic [a-zA-Z_:][a-zA-Z0-9_:]* charset so the
// text exposition never needs quoted names.
func validateNames(name string, labels []string) error {
	if !model.LegacyValidation.IsValidMetricName(name) {
		return fmt.Errorf("%w: metric %q", ErrInvalidName, name)
	}
	for _, label := range labels {
		if !model.LegacyValidation.IsValidLabelName(label) {
			return fmt.Errorf("%w: label %q on %s", ErrInvalidName, label, name)
		}
	}
	return nil
}

func (r *Registry) registeredLocked(name string) bool {
	_, isGauge := r.gauges[name]
	_, isCounter := r.counters[name]
	return isGauge || isCounter
}

// Set overwrites the value of a gauge for the given label set.
// A nil label set addresses an instrument registered without labels.
func (r *Registry) Set(name string, value float64, labels prometheus.Labels) error {
	r.mu.RLock()
	vec, ok := r.gauges[name]
	_, isCounter := r.counters[name]
	r.mu.RUnlock()

	if !ok {
		if isCounter {
			return fmt.Errorf("%w: %s is a counter", ErrWrongKind, name)
		}
		return fmt.Errorf("%w: %s", ErrUnknownInstrument, name)
	}

	g, err := vec.GetMetricWith(labels)
	if err != nil {
		return fmt.Errorf("invalid labels for %s: %w", name, err)
	}
	g.Set(value)
	return nil
}

// Inc increments a counter by one for the given label set.
func (r *Registry) Inc(name string, labels prometheus.Labels) error {
	r.mu.RLock()
	vec, ok := r.counters[name]
	_, isGauge := r.gauges[name]
	r.mu.RUnlock()

	if !ok {
		if isGauge {
			return fmt.Errorf("%w: %s is a gauge", ErrWrongKind, name)
		}
		return fmt.Errorf("%w: %s", ErrUnknownInstrument, name)
	}

	c, err := vec.GetMetricWith(labels)
	if err != nil {
		return fmt.Errorf("invalid labels for %s: %w", name, err)
	}
	c.Inc()
	return nil
}

// Value returns the current value of an instrument for an exact label set.
// The second result is false when the series has never been written.
func (r *Registry) Value(name string, labels prometheus.Labels) (float64, bool) {
	families, err := r.reg.Gather()
	if err != nil {
		return 0, false
	}

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if len(m.GetLabel()) != len(labels) {
				continue
			}
			match := true
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					match = false
					break
				}
			}
			if !match {
				continue
			}
			if m.GetCounter() != nil {
				return m.GetCounter().GetValue(), true
			}
			return m.GetGauge().GetValue(), true
		}
	}

	return 0, false
}

// RenderAll encodes every instrument in the text exposition format. Families
// are sorted by name and series by label values, so two calls without an
// intervening write return identical bytes.
func (r *Registry) RenderAll() ([]byte, error) {
	families, err := r.reg.Gather()
	if err != nil {
		return nil, fmt.Errorf("failed to gather metrics: %w", err)
	}

	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, r.format)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", mf.GetName(), err)
		}
	}

	return buf.Bytes(), nil
}

// ContentType is the Content-Type header value matching RenderAll output.
func (r *Registry) ContentType() string {
	return string(r.format)
}

// RegisterCollector registers an arbitrary collector, such as the
// database/sql pool stats collector.
func (r *Registry) RegisterCollector(c prometheus.Collector) error {
	return r.reg.Register(c)
}

// RegisterRuntimeCollectors registers the Go runtime and process collectors
// with every metric name prefixed.
func (r *Registry) RegisterRuntimeCollectors(prefix string) error {
	wrapped := prometheus.WrapRegistererWithPrefix(prefix, r.reg)

	if err := wrapped.Register(collectors.NewGoCollector()); err != nil {
		return fmt.Errorf("failed to register go collector: %w", err)
	}

	if err := wrapped.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return fmt.Errorf("failed to register process collector: %w", err)
	}

	return nil
}

// Gatherer exposes the underlying registry for scraping and tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}
