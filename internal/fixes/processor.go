package fixes

import (
	"context"
	"fmt"
	"time"
)

// Elevation is the subset of internal/elevation.Service the processor
// needs, kept narrow so tests can supply a trivial fake without importing
// the real tile-cache implementation.
type Elevation interface {
	Lookup(ctx context.Context, lat, lon float64) (meters int16, ok bool)
}

// Store is the subset of internal/storage.Store the processor needs.
type Store interface {
	PutFix(f *Fix) error
}

// Tracker receives validated, persisted fixes for flight-state tracking.
// internal/tracker.Tracker.Submit satisfies this directly.
type Tracker interface {
	Submit(f *Fix)
}

// Observer receives every successfully processed Fix, for downstream
// publishing (spec.md §4.7 step 5, "publish to downstream observers").
// internal/eventstream's broadcaster is one such observer.
type Observer interface {
	ObserveFix(f *Fix)
}

// Metrics is the narrow surface the processor needs from internal/telemetry.
type Metrics interface {
	IncFixesProcessed(source string)
	IncFixesRejected(source, reason string)
	IncAGLAttached(source string)
	IncAGLMissed(source string)
}

type noopMetrics struct{}

func (noopMetrics) IncFixesProcessed(string)       {}
func (noopMetrics) IncFixesRejected(string, string) {}
func (noopMetrics) IncAGLAttached(string)          {}
func (noopMetrics) IncAGLMissed(string)            {}

// Processor is the single convergence point every decoder funnels into
// (spec.md §4.7): validate, attach AGL, persist, forward to the tracker,
// publish to observers.
type Processor struct {
	store     Store
	elevation Elevation
	tracker   Tracker
	observers []Observer
	metrics   Metrics
	clockSkew time.Duration
}

// NewProcessor constructs a Processor. elevation may be nil to skip AGL
// attachment entirely (e.g. in tests, or a deployment with no tile data).
func NewProcessor(store Store, elevation Elevation, tracker Tracker, metrics Metrics) *Processor {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Processor{
		store:     store,
		elevation: elevation,
		tracker:   tracker,
		metrics:   metrics,
		clockSkew: 5 * time.Minute,
	}
}

// AddObserver registers a downstream observer (§4.7 step 5). Not
// concurrency-safe against concurrent Process calls; register observers
// before starting the processing pipeline.
func (p *Processor) AddObserver(o Observer) {
	p.observers = append(p.observers, o)
}

// Process runs one Fix through the full pipeline: validate, AGL
// attachment, persist, forward, publish. Returns an error only when
// persistence fails — the caller (the queue consumer) must then skip
// commit() so the envelope is redelivered (§4.7 step 3).
func (p *Processor) Process(ctx context.Context, f *Fix) error {
	if !f.Valid(p.clockSkew) {
		p.metrics.IncFixesRejected(f.Source, "invalid_coordinates_or_timestamp")
		return nil
	}
	if !f.HasUsefulData() {
		p.metrics.IncFixesRejected(f.Source, "no_useful_data")
		return nil
	}

	p.attachAGL(ctx, f)

	if err := p.store.PutFix(f); err != nil {
		return fmt.Errorf("fixes: persist %s: %w", f.ID, err)
	}

	p.metrics.IncFixesProcessed(f.Source)

	if p.tracker != nil {
		p.tracker.Submit(f)
	}
	for _, o := range p.observers {
		o.ObserveFix(f)
	}
	return nil
}

// attachAGL implements §4.7 step 2: on an elevation hit, altitude_agl_ft =
// msl - terrain; on a miss, AGL is left nil and processing continues.
func (p *Processor) attachAGL(ctx context.Context, f *Fix) {
	if p.elevation == nil || f.AltitudeMSLFeet == nil {
		return
	}
	terrainM, ok := p.elevation.Lookup(ctx, f.Lat, f.Lon)
	if !ok {
		p.metrics.IncAGLMissed(f.Source)
		return
	}
	terrainFt := float64(terrainM) * 3.28084
	agl := *f.AltitudeMSLFeet - terrainFt
	f.AltitudeAGLFeet = &agl
	p.metrics.IncAGLAttached(f.Source)
}
