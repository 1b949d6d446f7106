// iotc-agent - IoT Core device agent
//
// Connects a device to a cloud IoT MQTT bridge using a short-lived JWT
// signed with the device's private key, publishes telemetry, subscribes to
// the device topic and reconnects after transient connection loss.
//
// Exit status is 0 after a graceful stop and 1 after any fatal
// configuration, key, credential or connection failure.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/nerrad567/iotcore-client/internal/agent"
	"github.com/nerrad567/iotcore-client/internal/connection"
	"github.com/nerrad567/iotcore-client/internal/eventloop"
	"github.com/nerrad567/iotcore-client/internal/infrastructure/config"
	"github.com/nerrad567/iotcore-client/internal/infrastructure/database"
	"github.com/nerrad567/iotcore-client/internal/infrastructure/influxdb"
	"github.com/nerrad567/iotcore-client/internal/infrastructure/logging"
	"github.com/nerrad567/iotcore-client/internal/infrastructure/mqtt"
	"github.com/nerrad567/iotcore-client/internal/journal"
	"github.com/nerrad567/iotcore-client/internal/keystore"
	"github.com/nerrad567/iotcore-client/internal/status"
	"github.com/nerrad567/iotcore-client/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM).
	// Cancellation asks the agent to disconnect gracefully.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := run(ctx, os.Args[1:], os.Stderr)
	cancel()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if hint := keystore.Remediation(err); hint != "" {
			fmt.Fprintln(os.Stderr, hint)
		}
		os.Exit(1)
	}
}

// cliOptions holds the parsed command line.
type cliOptions struct {
	configPath string
	overrides  config.Overrides
}

// parseFlags parses the command line. The single-letter flags match the
// original device program; -config selects the YAML file.
func parseFlags(args []string, output io.Writer) (cliOptions, error) {
	var opts cliOptions

	fs := flag.NewFlagSet("iotc-agent", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&opts.configPath, "config", "", "configuration file (env IOTC_CONFIG, default "+defaultConfigPath+")")
	fs.StringVar(&opts.overrides.Host, "h", "", "MQTT broker host")
	fs.StringVar(&opts.overrides.ProjectID, "p", "", "cloud project id")
	fs.StringVar(&opts.overrides.DevicePath, "d", "", "device path: projects/{p}/locations/{l}/registries/{r}/devices/{d}")
	fs.StringVar(&opts.overrides.PublishTopic, "t", "", "topic to publish to")
	fs.StringVar(&opts.overrides.Message, "m", "", "message payload to publish")
	fs.StringVar(&opts.overrides.KeyPath, "f", "", "private key file (PEM)")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, err
	}
	if fs.NArg() > 0 {
		return cliOptions{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return opts, nil
}

// getConfigPath resolves the config file: flag, then IOTC_CONFIG, then the
// default path if it exists. An empty result means defaults and env only.
func getConfigPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if path := os.Getenv("IOTC_CONFIG"); path != "" {
		return path
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	return ""
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - args: Command line arguments without the program name
//   - stderr: Destination for usage output
//
// Returns:
//   - error: nil on graceful stop, or error describing the fatal failure
func run(ctx context.Context, args []string, stderr io.Writer) error { //nolint:gocognit,gocyclo // linear startup sequence
	opts, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}

	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting iotc-agent",
		"executable", filepath.Base(os.Args[0]),
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath(opts.configPath)
	cfg, err := config.LoadWithOverrides(configPath, opts.overrides)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version).ForDevice(cfg.Identity.DevicePath)
	log.Info("configuration loaded",
		"path", configPath,
		"device", cfg.Identity.DevicePath,
		"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
	)

	key, err := keystore.Load(cfg.Key.Path, cfg.Key.MaxSize,
		keystore.Algorithm(cfg.Key.Algorithm), keystore.Encoding(cfg.Key.Encoding))
	if err != nil {
		return err
	}
	log.Info("private key loaded", "path", cfg.Key.Path, "algorithm", cfg.Key.Algorithm, "bytes", key.Len())

	loop := eventloop.New()

	transport, err := mqtt.New(cfg.Broker, loop)
	if err != nil {
		return fmt.Errorf("creating MQTT transport: %w", err)
	}
	transport.SetLogger(log.Component("mqtt"))
	defer func() {
		if closeErr := transport.Close(); closeErr != nil {
			log.Error("error closing MQTT transport", "error", closeErr)
		}
	}()

	var observers []connection.Observer
	health := map[string]status.HealthChecker{"mqtt": transport}

	var journalRepo journal.Repository
	if cfg.Journal.Enabled {
		db, err := openJournalDB(ctx, cfg.Journal)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing journal database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing journal database", "error", closeErr)
			}
		}()

		repo := journal.NewSQLiteRepository(db.DB)
		recorder := journal.NewRecorder(repo, cfg.Identity.DevicePath, log.Component("journal"))
		defer recorder.Close()

		journalRepo = repo
		observers = append(observers, recorder)
		health["journal"] = db
		log.Info("connection journal enabled", "path", cfg.Journal.Path)
	}

	if cfg.InfluxDB.Enabled {
		influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Identity.DevicePath)
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

		observers = append(observers, influxClient)
		health["influxdb"] = influxClient
		log.Info("InfluxDB telemetry enabled",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	a, err := agent.New(agent.Options{
		Config:    cfg,
		Key:       key,
		Loop:      loop,
		Transport: transport,
		Observers: observers,
		Logger:    log,
	})
	if err != nil {
		return fmt.Errorf("creating agent: %w", err)
	}

	if cfg.Status.Enabled {
		srv, err := status.New(status.Deps{
			Config:  cfg.Status,
			Logger:  log.Component("status"),
			Source:  a,
			Health:  health,
			Journal: journalRepo,
			Version: version,
		})
		if err != nil {
			return fmt.Errorf("creating status server: %w", err)
		}
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("starting status server: %w", err)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing status server", "error", closeErr)
			}
		}()
	}

	if err := a.Run(ctx); err != nil {
		return err
	}

	log.Info("iotc-agent stopped")
	return nil
}

// openJournalDB opens and migrates the journal store.
func openJournalDB(ctx context.Context, cfg config.JournalConfig) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening journal database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("running journal migrations: %w", err)
	}
	return db, nil
}
