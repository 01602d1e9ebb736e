package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/hut8/soar-ingest/internal/app"
)

func main() {
	cmd := &cli.Command{
		Name:  "soar-ingest",
		Usage: "Ingest OGN/APRS, Beast ADS-B, and SBS surveillance feeds into tracked flights",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Category: "server",
				Name:     "server.listen",
				Aliases:  []string{"listen", "l"},
				Value:    ":8080",
				Usage:    "`ADDRESS` the admin HTTP surface listens on",
			},

			&cli.StringFlag{
				Category: "storage",
				Name:     "storage.path",
				Aliases:  []string{"db"},
				Value:    "./data/soaringest.buntdb",
				Usage:    "Path to BuntDB database file (will be created if missing)",
			},
			&cli.DurationFlag{
				Category: "storage",
				Name:     "storage.retention",
				Value:    7 * 24 * time.Hour,
				Usage:    "Retention period for persisted fixes (0 keeps them indefinitely; flights are not expired)",
			},

			&cli.StringFlag{
				Category: "queue",
				Name:     "queue.dir",
				Value:    "./data/queues",
				Usage:    "Directory holding one persistent queue file per enabled source",
			},
			&cli.IntFlag{
				Category: "queue",
				Name:     "queue.mem_capacity",
				Value:    1024,
				Usage:    "In-memory fast-path channel capacity per queue",
			},
			&cli.IntFlag{
				Category: "queue",
				Name:     "queue.max_file_bytes",
				Value:    1 << 30,
				Usage:    "Hard size bound per queue file in bytes (0 means unbounded)",
			},
			&cli.Float64Flag{
				Category: "queue",
				Name:     "queue.soft_capacity_fraction",
				Value:    0.95,
				Usage:    "Fraction of max_file_bytes at which IsAtCapacity reports true",
			},
			&cli.IntFlag{
				Category: "queue",
				Name:     "queue.decode_channel_capacity",
				Value:    1024,
				Usage:    "Bounded channel capacity feeding each source's decoder workers",
			},

			&cli.BoolFlag{
				Category: "sources",
				Name:     "sources.ogn_enabled",
				Value:    true,
				Usage:    "Enable the OGN/APRS text feed client",
			},
			&cli.StringFlag{
				Category: "sources",
				Name:     "sources.ogn_server",
				Value:    "aprs.glidernet.org",
				Usage:    "OGN/APRS upstream hostname",
			},
			&cli.IntFlag{
				Category: "sources",
				Name:     "sources.ogn_port",
				Value:    14580,
				Usage:    "OGN/APRS upstream port",
			},
			&cli.StringFlag{
				Category: "sources",
				Name:     "sources.ogn_suppress_types",
				Usage:    "Comma-separated APRS packet types to suppress (e.g. status,receiver_status)",
			},
			&cli.StringFlag{
				Category: "sources",
				Name:     "sources.ogn_suppress_categories",
				Usage:    "Comma-separated aircraft categories to suppress (e.g. balloon,uav)",
			},

			&cli.BoolFlag{
				Category: "sources",
				Name:     "sources.adsb_enabled",
				Value:    true,
				Usage:    "Enable the Beast binary ADS-B feed client",
			},
			&cli.StringFlag{
				Category: "sources",
				Name:     "sources.adsb_server",
				Value:    "localhost",
				Usage:    "Beast upstream hostname (e.g. a dump1090/readsb instance)",
			},
			&cli.IntFlag{
				Category: "sources",
				Name:     "sources.adsb_port",
				Value:    30005,
				Usage:    "Beast upstream port",
			},
			&cli.DurationFlag{
				Category: "sources",
				Name:     "sources.adsb_accumulator_idle_expiry",
				Value:    5 * time.Minute,
				Usage:    "Idle expiry for the CPR accumulator's per-ICAO entries",
			},

			&cli.BoolFlag{
				Category: "sources",
				Name:     "sources.sbs_enabled",
				Usage:    "Enable the SBS/BaseStation CSV feed client",
			},
			&cli.StringFlag{
				Category: "sources",
				Name:     "sources.sbs_server",
				Value:    "localhost",
				Usage:    "SBS upstream hostname",
			},
			&cli.IntFlag{
				Category: "sources",
				Name:     "sources.sbs_port",
				Value:    30003,
				Usage:    "SBS upstream port",
			},

			&cli.IntFlag{
				Category: "sources",
				Name:     "sources.workers_per_source",
				Value:    4,
				Usage:    "Decoder worker goroutines per enabled source",
			},

			&cli.StringFlag{
				Category: "elevation",
				Name:     "elevation.tile_dir",
				Sources:  cli.EnvVars("ELEVATION_DATA_PATH"),
				Usage:    "Local directory of .hgt/.hgt.gz elevation tiles; empty disables AGL attachment",
			},
			&cli.IntFlag{
				Category: "elevation",
				Name:     "elevation.cache_results",
				Value:    4096,
				Usage:    "LRU capacity for elevation lookup results",
			},
			&cli.IntFlag{
				Category: "elevation",
				Name:     "elevation.cache_tiles",
				Value:    64,
				Usage:    "LRU capacity for loaded elevation tiles",
			},

			&cli.DurationFlag{
				Category: "tracker",
				Name:     "tracker.timeout",
				Value:    time.Hour,
				Usage:    "Time since last fix after which an aircraft's flight is sealed as timed out",
			},
			&cli.Float64Flag{
				Category: "tracker",
				Name:     "tracker.gap_descent_rate_fpm",
				Value:    -500,
				Usage:    "Climb rate threshold (fpm) below which a pre-gap fix is treated as descending",
			},
			&cli.DurationFlag{
				Category: "tracker",
				Name:     "tracker.gap_min_duration",
				Value:    10 * time.Hour,
				Usage:    "Minimum signal-loss duration considered for gap coalescing",
			},
			&cli.Float64Flag{
				Category: "tracker",
				Name:     "tracker.gap_climb_rate_fpm",
				Value:    500,
				Usage:    "Climb rate threshold (fpm) above which a post-gap fix is treated as a fresh takeoff",
			},
			&cli.Float64Flag{
				Category: "tracker",
				Name:     "tracker.gap_max_distance_km",
				Value:    100,
				Usage:    "Maximum great-circle distance between pre- and post-gap fixes for coalescing",
			},

			&cli.StringFlag{
				Category: "monitoring",
				Name:     "monitoring.tracing_endpoint",
				Aliases:  []string{"tracing", "t"},
				Usage:    "OpenTelemetry collector `ENDPOINT` for traces (empty disables export)",
			},
			&cli.BoolFlag{
				Category: "monitoring",
				Name:     "monitoring.debug",
				Aliases:  []string{"d"},
				Usage:    "Enable debug logging",
			},

			&cli.StringFlag{
				Category: "security",
				Name:     "security.jwt_secret",
				Usage:    "JWT secret for signing admin bearer tokens (HS256). If empty, load/generate from file",
				Hidden:   true,
			},
			&cli.StringFlag{
				Category: "security",
				Name:     "security.jwt_file",
				Value:    "./data/admin_jwt.secret",
				Usage:    "Path to file to load/store the JWT secret (used if security.jwt_secret is empty)",
				Hidden:   true,
			},
		},
		Action: app.Run,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
