// Gray Logic Gateway - device messaging for building automation
//
// The gateway keeps one durable connection to the MQTT broker, publishes
// device telemetry, commands and alerts as JSON envelopes, and routes
// inbound messages to registered handlers. It connects at boot and
// disconnects gracefully on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"github.com/nerrad567/gray-logic-gateway/internal/api"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-gateway/internal/journal"
	"github.com/nerrad567/gray-logic-gateway/internal/messaging"
	"github.com/nerrad567/gray-logic-gateway/internal/presence"
	"github.com/nerrad567/gray-logic-gateway/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	// defaultConfigPath is used when neither --config nor GRAYLOGIC_CONFIG is set.
	defaultConfigPath = "configs/config.yaml"

	// pruneInterval is how often old journal entries are removed.
	pruneInterval = time.Hour
)

// options holds the parsed command line.
type options struct {
	configPath     string
	connectTimeout time.Duration
	showVersion    bool
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags reads the command line. The config path falls back to
// GRAYLOGIC_CONFIG, then to defaultConfigPath.
func parseFlags(args []string) (options, error) {
	var opts options

	fs := pflag.NewFlagSet("graylogic-gateway", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVarP(&opts.configPath, "config", "c", "", "path to the YAML config file (env GRAYLOGIC_CONFIG)")
	fs.DurationVar(&opts.connectTimeout, "connect-timeout", 0, "how long to wait for the broker at startup (default mqtt.session.connect_timeout)")
	fs.BoolVar(&opts.showVersion, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return options{}, fmt.Errorf("parsing flags: %w", err)
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if opts.configPath == "" {
		opts.configPath = getConfigPath()
	}
	return opts, nil
}

// getConfigPath returns GRAYLOGIC_CONFIG if set, otherwise the default path.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// run is the application logic, separated from main for testability.
// It returns nil on a clean shutdown.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts, err := parseFlags(args)
	if err != nil {
		return err
	}
	if opts.showVersion {
		fmt.Fprintf(stdout, "graylogic-gateway %s (commit %s, built %s)\n", version, commit, date)
		return nil
	}

	log := logging.Default()
	log.Info("starting Gray Logic gateway",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", opts.configPath, "site", cfg.Site.ID)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	checks := make(map[string]api.HealthChecker)

	// Message journal (optional)
	var repo *journal.SQLiteRepository
	if cfg.Database.Enabled {
		db, openErr := database.Open(ctx, cfg.Database)
		if openErr != nil {
			return fmt.Errorf("opening database: %w", openErr)
		}
		stopPruner := func() {}
		defer func() {
			// The pruner must be gone before its database is.
			stopPruner()
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()

		if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("message journal ready", "path", db.Path())

		repo = journal.NewSQLiteRepository(db.DB)
		checks["database"] = db

		if retention := cfg.Database.Retention(); retention > 0 {
			stopPruner = startPruner(ctx, repo, retention, log)
		}
	} else {
		log.Info("message journal disabled")
	}

	// Telemetry sink (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		checks["influxdb"] = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	mgr := mqtt.NewManager(cfg.MQTT,
		mqtt.WithLogger(log),
		mqtt.WithMetrics(mqtt.NewMetrics(registry)),
		mqtt.WithTopics(mqtt.NewTopics(cfg.Topics)),
	)
	checks["mqtt"] = mgr

	tracker := presence.NewTracker(mgr, presence.WithLogger(log))
	defer tracker.Close()

	builder := messaging.NewBuilder(mgr, mgr.Topics(), builderOptions(cfg, log, repo, influxClient)...)

	result := mgr.Connect(ctx, opts.connectTimeout)
	defer func() {
		log.Info("disconnecting from MQTT")
		mgr.Disconnect()
	}()
	switch {
	case result.OK():
		if _, alertErr := builder.PublishAlert(ctx, "gateway_started",
			fmt.Sprintf("gateway %s started (version %s)", mgr.ClientID(), version),
			messaging.SeverityInfo); alertErr != nil {
			log.Warn("failed to announce startup", "error", alertErr)
		}
	case result.Status == mqtt.ConnectStatusCancelled:
		log.Info("shutdown requested before the broker connection was established")
		return nil
	case cfg.MQTT.Reconnect.Enabled:
		log.Warn("MQTT broker not reachable yet, retrying in the background",
			"status", result.Status,
			"error", result.Err,
		)
	default:
		return fmt.Errorf("connecting to MQTT: %w", result.Err)
	}

	// Operations endpoints (optional)
	if cfg.Metrics.Enabled {
		srv, srvErr := api.New(api.Deps{
			Config:   cfg.Metrics,
			Logger:   log,
			Gatherer: registry,
			Checks:   checks,
			Presence: tracker,
			Journal:  journalReader(repo),
			Version:  version,
		})
		if srvErr != nil {
			return fmt.Errorf("creating api server: %w", srvErr)
		}
		if startErr := srv.Start(ctx); startErr != nil {
			return fmt.Errorf("starting api server: %w", startErr)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing api server", "error", closeErr)
			}
		}()
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred cleanup runs in reverse order:
	// api server, MQTT, presence, InfluxDB, database.
	return nil
}

// builderOptions wires the optional journal and telemetry sink into the
// envelope builder. Typed nil pointers must not reach the interfaces.
func builderOptions(cfg *config.Config, log *logging.Logger, repo *journal.SQLiteRepository, influxClient *influxdb.Client) []messaging.Option {
	opts := []messaging.Option{
		messaging.WithSource(cfg.MQTT.Broker.ClientID),
		messaging.WithLogger(log),
	}
	if repo != nil {
		opts = append(opts, messaging.WithJournal(repo))
	}
	if influxClient != nil {
		opts = append(opts, messaging.WithTelemetrySink(influxClient))
	}
	return opts
}

func journalReader(repo *journal.SQLiteRepository) api.JournalReader {
	if repo == nil {
		return nil
	}
	return repo
}

// pruneJournal removes entries older than retention once at startup and then
// every pruneInterval until ctx ends.
// startPruner runs pruneJournal in the background. The returned stop cancels
// it and waits until it has returned.
func startPruner(ctx context.Context, repo journal.Repository, retention time.Duration, log *logging.Logger) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		pruneJournal(ctx, repo, retention, log)
	}()
	return func() {
		cancel()
		<-done
	}
}

func pruneJournal(ctx context.Context, repo journal.Repository, retention time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		removed, err := repo.Prune(ctx, time.Now().Add(-retention))
		switch {
		case err != nil && !errors.Is(err, context.Canceled):
			log.Warn("journal prune failed", "error", err)
		case removed > 0:
			log.Info("journal pruned", "removed", removed, "retention", retention)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
