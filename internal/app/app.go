// Package app is the composition root: it wires queues, wire clients,
// routers, decoder worker pools, the fix processor, the flight tracker,
// and the admin HTTP surface into one running daemon (spec.md §2, data
// flow: upstream socket → wire client → persistent queue → router →
// decoder worker → fix processor → flight tracker → persisted flight
// records).
//
// Grounded on the teacher's app/run.go: one CLI Action function reads
// flags, opens storage, starts background ingestion, and serves HTTP
// until ctx is cancelled. Generalized from the teacher's single OpenSky
// poll loop to three independent wire-client/queue/router/worker-pool
// pipelines, one per source, each started and stopped the same way.
package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/hut8/soar-ingest/internal/adminapi"
	"github.com/hut8/soar-ingest/internal/aircraft"
	"github.com/hut8/soar-ingest/internal/beastdecode"
	"github.com/hut8/soar-ingest/internal/elevation"
	"github.com/hut8/soar-ingest/internal/envelope"
	"github.com/hut8/soar-ingest/internal/eventstream"
	"github.com/hut8/soar-ingest/internal/fixes"
	"github.com/hut8/soar-ingest/internal/flights"
	"github.com/hut8/soar-ingest/internal/ogn"
	"github.com/hut8/soar-ingest/internal/queue"
	"github.com/hut8/soar-ingest/internal/router"
	"github.com/hut8/soar-ingest/internal/sbs"
	"github.com/hut8/soar-ingest/internal/security"
	"github.com/hut8/soar-ingest/internal/storage"
	"github.com/hut8/soar-ingest/internal/telemetry"
	"github.com/hut8/soar-ingest/internal/tracker"
	"github.com/hut8/soar-ingest/internal/wireclient"
)

// pipeline bundles the per-source queue/router/client/worker-pool set
// (spec.md §4.2's "one per source" queue instance, §4.3's single router
// task per queue).
type pipeline struct {
	name   string
	q      *queue.Queue
	router *router.Router
	client *wireclient.Client
	cancel context.CancelFunc
}

// flightSinks fans out flight lifecycle events to every configured
// consumer. internal/storage.Store persists them; internal/eventstream's
// broadcaster pushes them to connected WebSocket debug clients.
type flightSinks []tracker.Sink

func (s flightSinks) FlightOpened(f *flights.Flight) {
	for _, sink := range s {
		sink.FlightOpened(f)
	}
}

func (s flightSinks) FlightUpdated(f *flights.Flight) {
	for _, sink := range s {
		sink.FlightUpdated(f)
	}
}

func (s flightSinks) FlightSealed(f *flights.Flight) {
	for _, sink := range s {
		sink.FlightSealed(f)
	}
}

type queueDepths struct {
	queues map[string]*queue.Queue
}

func (d queueDepths) Depths() map[string]int {
	out := make(map[string]int, len(d.queues))
	for name, q := range d.queues {
		out[name] = q.Depth()
	}
	return out
}

// Run is the CLI action: it builds every component, starts all
// goroutines, serves the admin HTTP surface, and blocks until ctx is
// cancelled (SIGINT/SIGTERM), then shuts everything down in reverse
// order.
func Run(ctx context.Context, c *cli.Command) error {
	if c.Bool("monitoring.debug") {
		telemetry.SetLogLevel("debug")
	}

	shutdownTracer := telemetry.InitTracer(c.String("monitoring.tracing_endpoint"), "soar-ingest")
	defer shutdownTracer()

	security.Configure(c.String("security.jwt_secret"), c.String("security.jwt_file"))

	enableOGN := c.Bool("sources.ogn_enabled")
	enableBeast := c.Bool("sources.adsb_enabled")
	enableSBS := c.Bool("sources.sbs_enabled")
	if !enableOGN && !enableBeast && !enableSBS {
		return fmt.Errorf("app: at least one of sources.ogn_enabled, sources.adsb_enabled, sources.sbs_enabled must be set")
	}

	store, err := storage.Open(c.String("storage.path"), c.Duration("storage.retention"))
	if err != nil {
		return fmt.Errorf("app: open storage: %w", err)
	}
	defer store.Close()

	aircraftStore := aircraft.New()
	if records, err := store.PreloadAircraft(); err != nil {
		log.Printf("app: preload aircraft cache: %v", err)
	} else {
		aircraftStore.Preload(records)
		log.Printf("app: preloaded %d aircraft", len(records))
	}

	var elevationSvc fixes.Elevation
	if dir := c.String("elevation.tile_dir"); dir != "" {
		elevationSvc = elevation.NewBoundedCacheSized(
			elevation.LocalTileSource{BasePath: dir},
			c.Int("elevation.cache_results"),
			c.Int("elevation.cache_tiles"),
		)
	} else {
		elevationSvc = elevation.NewBoundedCache(elevation.NullTileSource{})
	}

	broadcaster := eventstream.NewBroadcaster()

	trackerCfg := tracker.DefaultConfig()
	trackerCfg.TimeoutDuration = c.Duration("tracker.timeout")
	trackerCfg.GapDescentRateFpm = c.Float64("tracker.gap_descent_rate_fpm")
	trackerCfg.GapMinDuration = c.Duration("tracker.gap_min_duration")
	trackerCfg.GapClimbRateFpm = c.Float64("tracker.gap_climb_rate_fpm")
	trackerCfg.GapMaxDistanceKm = c.Float64("tracker.gap_max_distance_km")
	flightTracker := tracker.New(trackerCfg, flightSinks{store, broadcaster})
	flightTracker.SetAircraftStore(aircraftStore)

	cutoff := time.Now().Add(-trackerCfg.StateRetention)
	if recent, err := store.RecentFixesByAircraft(cutoff, trackerCfg.HistorySize); err != nil {
		log.Printf("app: restore recent fixes: %v", err)
	} else {
		flightTracker.Restore(recent)
		log.Printf("app: restored recent-fix rings for %d aircraft", len(recent))
	}

	flightTracker.Start()
	defer flightTracker.Stop()

	metrics := telemetry.Metrics{}
	processor := fixes.NewProcessor(store, elevationSvc, flightTracker, metrics)
	processor.AddObserver(broadcaster)

	queueOpts := queue.Options{
		MemCapacity:          c.Int("queue.mem_capacity"),
		MaxFileBytes:         uint64(c.Int("queue.max_file_bytes")),
		SoftCapacityFraction: c.Float64("queue.soft_capacity_fraction"),
	}
	queueDir := c.String("queue.dir")
	workersPerSource := c.Int("sources.workers_per_source")

	queuesByName := make(map[string]*queue.Queue)
	var pipelines []*pipeline
	var suppressionCtrl adminapi.SuppressionController

	if enableOGN {
		p, dec, err := startOGNPipeline(ctx, c, queueDir, queueOpts, workersPerSource, processor, store)
		if err != nil {
			return err
		}
		pipelines = append(pipelines, p)
		queuesByName["ogn"] = p.q
		suppressionCtrl = dec
	}
	if enableBeast {
		p, err := startBeastPipeline(ctx, c, queueDir, queueOpts, workersPerSource, processor)
		if err != nil {
			return err
		}
		pipelines = append(pipelines, p)
		queuesByName["beast"] = p.q
	}
	if enableSBS {
		p, err := startSBSPipeline(ctx, c, queueDir, queueOpts, workersPerSource, processor)
		if err != nil {
			return err
		}
		pipelines = append(pipelines, p)
		queuesByName["sbs"] = p.q
	}

	adminHandler := adminapi.New(suppressionCtrl, queueDepths{queues: queuesByName})
	srv := &http.Server{
		Addr:              c.String("server.listen"),
		Handler:           wrapEventStream(adminHandler, broadcaster),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("app: admin server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		log.Printf("app: shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Printf("app: admin server exited: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	for _, p := range pipelines {
		p.cancel()
	}
	for _, p := range pipelines {
		if err := p.q.Close(); err != nil {
			log.Printf("app: close queue %s: %v", p.name, err)
		}
	}
	return nil
}

// wrapEventStream mounts the WebSocket fix/flight event stream alongside
// the admin surface without routing it through the bearer-token/tracing
// middleware chain (mirrors the teacher's WS endpoint sitting outside the
// API subrouter so http.Hijacker keeps working during upgrade).
func wrapEventStream(admin http.Handler, b *eventstream.Broadcaster) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/events", b.Handler)
	mux.Handle("/", admin)
	return mux
}

func queuePath(dir, name string) string {
	return filepath.Join(dir, name+".queue")
}

func startOGNPipeline(ctx context.Context, c *cli.Command, queueDir string, opts queue.Options, workers int, processor *fixes.Processor, store *storage.Store) (*pipeline, *ogn.Decoder, error) {
	q, err := queue.Open("ogn", queuePath(queueDir, "ogn"), opts)
	if err != nil {
		return nil, nil, fmt.Errorf("app: open ogn queue: %w", err)
	}
	ch := make(chan envelope.Envelope, c.Int("queue.decode_channel_capacity"))
	r := router.New(q, map[envelope.Source]chan envelope.Envelope{envelope.SourceOGN: ch}, telemetry.Metrics{})

	pctx, cancel := context.WithCancel(ctx)
	go r.Run(pctx)

	dec := ogn.NewDecoder(splitCSV(c.String("sources.ogn_suppress_types")), splitCSV(c.String("sources.ogn_suppress_categories")))
	dec.Metrics = ognMetricsAdapter{}
	for i := 0; i < workers; i++ {
		go runOGNWorker(pctx, ch, dec, processor, store)
	}

	cfg := wireclient.Config{Name: "ogn", Server: c.String("sources.ogn_server"), Port: c.Int("sources.ogn_port"), Source: envelope.SourceOGN}
	client := wireclient.New(cfg, &wireclient.LineFramer{}, wireclient.QueueSink{Q: q}, nil, nil)
	go client.Run(pctx)

	return &pipeline{name: "ogn", q: q, router: r, client: client, cancel: cancel}, dec, nil
}

func startBeastPipeline(ctx context.Context, c *cli.Command, queueDir string, opts queue.Options, workers int, processor *fixes.Processor) (*pipeline, error) {
	q, err := queue.Open("beast", queuePath(queueDir, "beast"), opts)
	if err != nil {
		return nil, fmt.Errorf("app: open beast queue: %w", err)
	}
	ch := make(chan envelope.Envelope, c.Int("queue.decode_channel_capacity"))
	r := router.New(q, map[envelope.Source]chan envelope.Envelope{envelope.SourceBeast: ch}, telemetry.Metrics{})

	pctx, cancel := context.WithCancel(ctx)
	go r.Run(pctx)

	idleExpiry := c.Duration("sources.adsb_accumulator_idle_expiry")
	dec := beastdecode.NewDecoder(idleExpiry)
	for i := 0; i < workers; i++ {
		go runBeastWorker(pctx, ch, dec, processor)
	}
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-pctx.Done():
				return
			case now := <-ticker.C:
				dec.Accumulator.EvictIdle(now)
			}
		}
	}()

	cfg := wireclient.Config{Name: "beast", Server: c.String("sources.adsb_server"), Port: c.Int("sources.adsb_port"), Source: envelope.SourceBeast}
	client := wireclient.New(cfg, &wireclient.BeastFramer{}, wireclient.QueueSink{Q: q}, nil, nil)
	go client.Run(pctx)

	return &pipeline{name: "beast", q: q, router: r, client: client, cancel: cancel}, nil
}

func startSBSPipeline(ctx context.Context, c *cli.Command, queueDir string, opts queue.Options, workers int, processor *fixes.Processor) (*pipeline, error) {
	q, err := queue.Open("sbs", queuePath(queueDir, "sbs"), opts)
	if err != nil {
		return nil, fmt.Errorf("app: open sbs queue: %w", err)
	}
	ch := make(chan envelope.Envelope, c.Int("queue.decode_channel_capacity"))
	r := router.New(q, map[envelope.Source]chan envelope.Envelope{envelope.SourceSBS: ch}, telemetry.Metrics{})

	pctx, cancel := context.WithCancel(ctx)
	go r.Run(pctx)

	for i := 0; i < workers; i++ {
		go runSBSWorker(pctx, ch, processor)
	}

	cfg := wireclient.Config{Name: "sbs", Server: c.String("sources.sbs_server"), Port: c.Int("sources.sbs_port"), Source: envelope.SourceSBS}
	client := wireclient.New(cfg, &wireclient.LineFramer{}, wireclient.QueueSink{Q: q}, nil, nil)
	go client.Run(pctx)

	return &pipeline{name: "sbs", q: q, router: r, client: client, cancel: cancel}, nil
}

func runOGNWorker(ctx context.Context, ch <-chan envelope.Envelope, dec *ogn.Decoder, processor *fixes.Processor, store *storage.Store) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-ch:
			if !ok {
				return
			}

			// §4.4 step 4 / §8 "APRS idempotence": a raw line redelivered by
			// the at-most-once queue (e.g. after a crash between recv() and
			// commit()) resolves to the id it was first recorded under and is
			// not processed again.
			hash := sha256.Sum256(env.Payload)
			rawID, isNew, err := store.RecordRawMessage(hex.EncodeToString(hash[:]), fixes.NewID(), env.ReceiveTime)
			if err != nil {
				telemetry.CountError("persist_error", "raw_message_dedup")
				continue
			}
			if !isNew {
				continue
			}

			f, err := dec.Decode(string(env.Payload), env.ReceiveTime)
			if err != nil {
				telemetry.CountError("decode_error", "ogn_decoder")
				continue
			}
			if f == nil {
				continue
			}
			f.RawMessageID = &rawID

			// §4.4 step 3: resolve the reporting receiver's identity.
			if callsign := f.SourceMetadata["receiver_callsign"]; callsign != "" {
				if rec, err := store.GetOrCreateReceiver(callsign, env.ReceiveTime); err == nil {
					f.ReceiverID = rec.ID
				} else {
					telemetry.CountError("persist_error", "receiver_resolution")
				}
			}

			if err := processor.Process(ctx, f); err != nil {
				telemetry.CountError("persist_error", "fix_processor")
			}
		}
	}
}

func runBeastWorker(ctx context.Context, ch <-chan envelope.Envelope, dec *beastdecode.Decoder, processor *fixes.Processor) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-ch:
			if !ok {
				return
			}
			f, err := dec.Decode(env.Payload, env.ReceiveTime)
			if err != nil {
				telemetry.CountError("frame_corruption", "beast_decoder")
				continue
			}
			if f == nil {
				continue
			}
			if err := processor.Process(ctx, f); err != nil {
				telemetry.CountError("persist_error", "fix_processor")
			}
		}
	}
}

func runSBSWorker(ctx context.Context, ch <-chan envelope.Envelope, processor *fixes.Processor) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-ch:
			if !ok {
				return
			}
			msg, err := sbs.ParseLine(string(env.Payload))
			if err != nil {
				telemetry.CountError("decode_error", "sbs_decoder")
				continue
			}
			f, err := sbs.Decode(msg, env.ReceiveTime)
			if err != nil {
				telemetry.CountError("decode_error", "sbs_decoder")
				continue
			}
			if f == nil {
				continue
			}
			if err := processor.Process(ctx, f); err != nil {
				telemetry.CountError("persist_error", "fix_processor")
			}
		}
	}
}

// ognMetricsAdapter routes internal/ogn's suppression/drop counters into
// the same errors_total series every other component's §7 error kinds
// land in.
type ognMetricsAdapter struct{}

func (ognMetricsAdapter) IncSuppressed(kind string) { telemetry.CountError("suppressed_"+kind, "ogn_decoder") }
func (ognMetricsAdapter) IncDropped(reason string)  { telemetry.CountError("dropped_"+reason, "ogn_decoder") }

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
