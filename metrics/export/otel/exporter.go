package otel

import (
	"context"
	"errors"
	"fmt"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// Source is what the collection callback reads. *goIdentity.Engine
// satisfies it.
type Source interface {
	MetricsSnapshot() goIdentity.MetricsSnapshot
	AuditDropped() uint64
}

type counterInstrument struct {
	id goIdentity.MetricID
	m  metric.Int64ObservableCounter
}

// histogramInstruments mirror one engine histogram. OTel has no observable
// histogram, so each cumulative bucket is its own gauge.
type histogramInstruments struct {
	id      goIdentity.MetricID
	buckets [8]metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
	sum     metric.Float64ObservableGauge
}

// OTelExporter publishes the engine metrics through observable instruments
// on a caller-supplied Meter. Close unregisters the callback.
type OTelExporter struct {
	source       Source
	registration metric.Registration
	counters     []counterInstrument
	histograms   []histogramInstruments
	auditDropped metric.Int64ObservableCounter
}

func NewOTelExporter(meter metric.Meter, engine *goIdentity.Engine) (*OTelExporter, error) {
	if engine == nil {
		return nil, ErrNilSource
	}
	return NewOTelExporterFromSource(meter, engine)
}

func NewOTelExporterFromSource(meter metric.Meter, source Source) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &OTelExporter{source: source}
	var observables []metric.Observable

	for _, def := range internaldefs.CounterDefs {
		c, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", def.Name, err)
		}
		e.counters = append(e.counters, counterInstrument{id: def.ID, m: c})
		observables = append(observables, c)
	}

	dropped, err := meter.Int64ObservableCounter(internaldefs.AuditDropped.Name, metric.WithDescription(internaldefs.AuditDropped.Help))
	if err != nil {
		return nil, fmt.Errorf("counter %s: %w", internaldefs.AuditDropped.Name, err)
	}
	e.auditDropped = dropped
	observables = append(observables, dropped)

	for _, def := range internaldefs.HistogramDefs {
		h, err := newHistogramInstruments(meter, def)
		if err != nil {
			return nil, err
		}
		e.histograms = append(e.histograms, h)
		for _, b := range h.buckets {
			observables = append(observables, b)
		}
		observables = append(observables, h.count, h.sum)
	}

	reg, err := meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = reg
	return e, nil
}

func newHistogramInstruments(meter metric.Meter, def internaldefs.HistogramDef) (histogramInstruments, error) {
	h := histogramInstruments{id: def.ID}
	for i, suffix := range internaldefs.HistogramBoundSuffix {
		name := def.Name + "_bucket_le_" + suffix
		g, err := meter.Int64ObservableGauge(name, metric.WithDescription(def.Help+" Cumulative count at or below "+internaldefs.HistogramBounds[i]+"s."))
		if err != nil {
			return h, fmt.Errorf("gauge %s: %w", name, err)
		}
		h.buckets[i] = g
	}

	var err error
	if h.count, err = meter.Int64ObservableGauge(def.Name+"_count", metric.WithDescription(def.Help+" Sample count.")); err != nil {
		return h, fmt.Errorf("gauge %s_count: %w", def.Name, err)
	}
	if h.sum, err = meter.Float64ObservableGauge(def.Name+"_sum", metric.WithDescription(def.Help+" Sum of samples."), metric.WithUnit("s")); err != nil {
		return h, fmt.Errorf("gauge %s_sum: %w", def.Name, err)
	}
	return h, nil
}

func (e *OTelExporter) observe(_ context.Context, o metric.Observer) error {
	snap := e.source.MetricsSnapshot()

	for _, c := range e.counters {
		o.ObserveInt64(c.m, int64(snap.Counters[c.id]))
	}
	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))

	for _, h := range e.histograms {
		raw, ok := snap.Histograms[h.id]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		for i, v := range cumulative {
			o.ObserveInt64(h.buckets[i], int64(v))
		}
		o.ObserveInt64(h.count, int64(cumulative[len(cumulative)-1]))
		o.ObserveFloat64(h.sum, snap.HistogramSums[h.id].Seconds())
	}
	return nil
}

// Close unregisters the collection callback. It is safe on a nil exporter.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
