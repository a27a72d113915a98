// Command bacnet-gateway runs the BACnet/IP building-automation gateway: it
// discovers devices and their points, polls present values on an interval,
// persists normalized snapshots to a document database, and mirrors local
// configuration changes to and from that database.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/kloudnuk/bacnet-gateway/internal/bacnetio"
	"github.com/kloudnuk/bacnet-gateway/internal/config"
	"github.com/kloudnuk/bacnet-gateway/internal/inventory"
	"github.com/kloudnuk/bacnet-gateway/internal/logging"
	"github.com/kloudnuk/bacnet-gateway/internal/objectgraph"
	"github.com/kloudnuk/bacnet-gateway/internal/points"
	"github.com/kloudnuk/bacnet-gateway/internal/poller"
	"github.com/kloudnuk/bacnet-gateway/internal/remoteconfig"
	"github.com/kloudnuk/bacnet-gateway/internal/runtime"
	"github.com/kloudnuk/bacnet-gateway/internal/scheduler"
	"github.com/kloudnuk/bacnet-gateway/internal/store"
	"github.com/kloudnuk/bacnet-gateway/internal/watcher"
)

// tickInterval is how often each service checks its ticket; the service's
// actual cadence is gated by the Ticket Scheduler against the interval
// configured per section.
const tickInterval = 5 * time.Second

var (
	respath  string
	demoMode bool
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "bacnet-gateway",
	Short: "BACnet/IP building-automation gateway",
	Long: `bacnet-gateway discovers BACnet devices on the local network, polls their
points, and persists normalized snapshots to a document database, while
mirroring local configuration to and from the cloud.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func main() {
	rootCmd.Flags().StringVar(&respath, "respath", "./res/", "app's resource directory")
	rootCmd.Flags().BoolVar(&demoMode, "demo", false, "run against an in-memory database and a simulated BACnet network")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logging.Initialize(logLevel, "json", os.Stdout)
	log := logging.GetLogger().WithField("log", "main")

	cfg, err := config.New(filepath.Join(respath, "local-device.ini"))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	db, reader, err := buildCollaborators(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	logging.AddSink(logging.NewMongoSink(context.Background(), db))

	if err := runtime.Bootstrap(cmd.Context(), db, cfg); err != nil {
		return fmt.Errorf("gateway bootstrap failed: %w", err)
	}

	graph := objectgraph.New(respath)
	sched := scheduler.New()

	tz, _ := cfg.Read("device", "tz")
	tzStr, _ := tz.(string)

	deviceInv := inventory.New(reader, db, tzStr)
	pointInv := points.New(reader, db, graph)
	poll := poller.New(reader, db, graph)

	nukid, _ := cfg.Read("device", "nukid")
	nukidStr, _ := nukid.(string)
	remote := remoteconfig.New(cfg, db, nukidStr)

	if err := deviceInv.LoadSettings(cfg); err != nil {
		return fmt.Errorf("loading device-discovery settings: %w", err)
	}
	if err := pointInv.LoadSettings(cfg); err != nil {
		return fmt.Errorf("loading point-discovery settings: %w", err)
	}
	if err := poll.LoadSettings(cfg); err != nil {
		return fmt.Errorf("loading point-polling settings: %w", err)
	}

	cfg.Subscribe(deviceInv, "device-discovery")
	cfg.Subscribe(pointInv, "point-discovery")
	cfg.Subscribe(poll, "point-polling")

	rt := runtime.New(context.Background())
	rt.Register(func(ctx context.Context) { sched.Run(ctx.Done()) })

	eventsPath := filepath.Join(respath, "ini.events")
	w := watcher.New(eventsPath, cfg)
	rt.Register(func(ctx context.Context) { w.Run(ctx.Done()) })

	deviceBootstrap := true
	rt.Register(runtime.Ticker(tickInterval, func(ctx context.Context) error {
		first := deviceBootstrap
		deviceBootstrap = false
		return deviceInv.Tick(ctx, sched, "*", first)
	}))

	pointBootstrap := true
	rt.Register(runtime.Ticker(tickInterval, func(ctx context.Context) error {
		first := pointBootstrap
		pointBootstrap = false
		return pointInv.Tick(ctx, sched, first)
	}))

	pollBootstrap := true
	rt.Register(runtime.Ticker(tickInterval, func(ctx context.Context) error {
		first := pollBootstrap
		pollBootstrap = false
		return poll.Tick(ctx, sched, first)
	}))

	if nukidStr != "" {
		rt.Register(func(ctx context.Context) {
			if err := remote.Bootstrap(ctx); err != nil {
				log.Error("remote configuration bootstrap failed", logging.Err(err))
				return
			}
			if err := remote.Watch(ctx); err != nil {
				log.Error("remote configuration watch exited", logging.Err(err))
			}
		})
	}

	rt.Start()
	log.Info("gateway started", logging.String("respath", respath), logging.Bool("demo", demoMode))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutdown signal received")
	rt.Stop()
	return db.Close(context.Background())
}

// buildCollaborators constructs the database client and BACnet reader. In
// demo mode both are in-memory stand-ins; otherwise the database dials a
// real mongo-compatible server and the reader wraps whatever Transport the
// deployment's BACnet stack supplies — wiring a real stack is out of this
// gateway's scope (it owns discovery/polling/normalization/persistence,
// not the wire protocol itself).
func buildCollaborators(ctx context.Context, cfg *config.Store) (store.Database, *bacnetio.Reader, error) {
	limiter := rate.NewLimiter(rate.Limit(10), 1)

	if demoMode {
		return store.NewFake(), bacnetio.NewReader(bacnetio.NewSimTransport(), limiter), nil
	}

	connStr, _ := cfg.Read("mongodb", "connectionString")
	certPath, _ := cfg.Read("mongodb", "certpath")
	dbName, _ := cfg.Read("mongodb", "dbname")

	db, err := store.Dial(ctx, fmt.Sprint(connStr), fmt.Sprint(certPath), fmt.Sprint(dbName))
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to database: %w", err)
	}

	// No in-tree BACnet/IP transport is wired: the Transport interface
	// (internal/bacnetio) is the documented boundary a real stack plugs
	// into. Absent one, fall back to an empty simulated network so the
	// gateway still starts and its other services remain exercised.
	return db, bacnetio.NewReader(bacnetio.NewSimTransport(), limiter), nil
}
