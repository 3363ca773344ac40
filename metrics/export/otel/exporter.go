// Package otel bridges the engine's counter registry into OpenTelemetry as
// observable counters. The bridge is pull-based: counters are read from a
// snapshot inside the meter callback, so the engine's hot paths stay free of
// OTel instrumentation.
package otel

import (
	"context"
	"errors"
	"fmt"

	sessioncore "github.com/modmesh/sessioncore"
	"go.opentelemetry.io/otel/metric"
)

// ErrNilMeter is returned when no meter is supplied.
var ErrNilMeter = errors.New("nil meter")

// ErrNilSource is returned when no metrics source is supplied.
var ErrNilSource = errors.New("nil metrics source")

type metricsSource interface {
	MetricsSnapshot() sessioncore.MetricsSnapshot
	EventsDropped() uint64
}

type counterDef struct {
	id   sessioncore.MetricID
	name string
	help string
}

var counterDefs = []counterDef{
	{sessioncore.MetricSessionCreated, "sessioncore_sessions_created_total", "Successful session creations."},
	{sessioncore.MetricSessionDestroyed, "sessioncore_sessions_destroyed_total", "Explicit session destructions."},
	{sessioncore.MetricSessionEvicted, "sessioncore_sessions_evicted_total", "Sessions evicted at the per-user cap."},
	{sessioncore.MetricSessionExpired, "sessioncore_sessions_expired_total", "Sessions retired by the expiry sweep."},
	{sessioncore.MetricSessionExtended, "sessioncore_sessions_extended_total", "Successful session renewals."},
	{sessioncore.MetricCacheHit, "sessioncore_cache_hits_total", "Reads served from the cache tier."},
	{sessioncore.MetricCacheMiss, "sessioncore_cache_misses_total", "Reads that fell through to the durable store."},
	{sessioncore.MetricCacheDegraded, "sessioncore_cache_degraded_total", "Cache failures absorbed as degradation."},
	{sessioncore.MetricUpdateApplied, "sessioncore_updates_applied_total", "Successful context merges."},
	{sessioncore.MetricQuotaWarning, "sessioncore_quota_warnings_total", "Soft memory threshold breaches."},
	{sessioncore.MetricQuotaTruncated, "sessioncore_quota_truncations_total", "Updates that required whitelist truncation."},
	{sessioncore.MetricQuotaRejected, "sessioncore_quota_rejections_total", "Updates rejected after truncation."},
	{sessioncore.MetricRecoveryInitiated, "sessioncore_recoveries_initiated_total", "Recovery payload reconstructions."},
	{sessioncore.MetricSweepRuns, "sessioncore_sweep_runs_total", "Completed expiry sweep passes."},
	{sessioncore.MetricAggregationRuns, "sessioncore_aggregation_runs_total", "Completed usage aggregation passes."},
}

type observedCounter struct {
	id         sessioncore.MetricID
	instrument metric.Int64ObservableCounter
}

// OTelExporter registers the engine counters as OTel observables.
type OTelExporter struct {
	source        metricsSource
	registration  metric.Registration
	counters      []observedCounter
	eventsDropped metric.Int64ObservableCounter
}

// NewOTelExporter creates an exporter reading from the given engine.
func NewOTelExporter(meter metric.Meter, engine *sessioncore.Engine) (*OTelExporter, error) {
	return NewOTelExporterFromSource(meter, engine)
}

// NewOTelExporterFromSource creates an exporter from any metrics source.
func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	exporter := &OTelExporter{
		source:   source,
		counters: make([]observedCounter, 0, len(counterDefs)),
	}

	observables := make([]metric.Observable, 0, len(counterDefs)+1)
	for _, def := range counterDefs {
		ins, err := meter.Int64ObservableCounter(def.name, metric.WithDescription(def.help))
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", def.name, err)
		}
		exporter.counters = append(exporter.counters, observedCounter{id: def.id, instrument: ins})
		observables = append(observables, ins)
	}

	eventsDropped, err := meter.Int64ObservableCounter(
		"sessioncore_events_dropped_total",
		metric.WithDescription("Lifecycle events dropped due to dispatcher backpressure."),
	)
	if err != nil {
		return nil, fmt.Errorf("create events dropped counter: %w", err)
	}
	exporter.eventsDropped = eventsDropped
	observables = append(observables, eventsDropped)

	registration, err := meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		snapshot := exporter.source.MetricsSnapshot()
		for _, c := range exporter.counters {
			observer.ObserveInt64(c.instrument, int64(snapshot.Counters[c.id]))
		}
		observer.ObserveInt64(exporter.eventsDropped, int64(exporter.source.EventsDropped()))
		return nil
	}, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}

	exporter.registration = registration
	return exporter, nil
}

// Close unregisters the meter callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
