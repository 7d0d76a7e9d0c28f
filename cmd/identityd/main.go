// identityd - identity and access service.
//
// identityd registers users, authenticates them with username and password,
// issues short-lived access tokens and long-lived refresh tokens, and answers
// role and permission checks over a JSON HTTP API.
//
// Session events are recorded in the audit log and Prometheus metrics, and
// optionally published to MQTT and written to InfluxDB.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nerrad567/gray-logic-identity/internal/api"
	"github.com/nerrad567/gray-logic-identity/internal/audit"
	"github.com/nerrad567/gray-logic-identity/internal/auth"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-identity/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	configEnvVar      = "IDENTITY_CONFIG"
	dotenvFile        = ".env"

	// shutdownFlushTimeout bounds draining of the event sinks on exit.
	shutdownFlushTimeout = 5 * time.Second
)

func main() {
	configFlag := flag.String("config", "", "path to the YAML config file (default $"+configEnvVar+" or "+defaultConfigPath+")")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, getConfigPath(*configFlag)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component, serves until ctx is cancelled and then shuts
// down in reverse order. Separated from main for testability.
func run(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting identityd",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	if err := loadDotenv(dotenvFile); err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	users := auth.NewUserRepository(db.DB)
	roles := auth.NewRoleRepository(db.DB)
	hasher := auth.NewHasher(auth.HasherConfig{
		WorkFactor:  uint32(cfg.Security.Password.WorkFactor),  //nolint:gosec // validated positive
		MemoryKiB:   uint32(cfg.Security.Password.MemoryKiB),   //nolint:gosec // validated non-negative
		Parallelism: uint8(cfg.Security.Password.Parallelism), //nolint:gosec // validated <= 255
	})

	if cfg.Seed.Enabled {
		if err := seed(ctx, cfg.Seed, users, roles, hasher, log); err != nil {
			return err
		}
	}

	codec, err := auth.NewTokenCodec(auth.CodecConfig{
		AccessSecret:  cfg.Security.Tokens.AccessSecret,
		RefreshSecret: cfg.Security.Tokens.RefreshSecret,
		Issuer:        cfg.Security.Tokens.Issuer,
		Audience:      cfg.Security.Tokens.Audience,
		AccessTTL:     cfg.Security.Tokens.AccessTTL(),
		RefreshTTL:    cfg.Security.Tokens.RefreshTTL(),
	}, auth.SystemClock)
	if err != nil {
		return fmt.Errorf("creating token codec: %w", err)
	}

	// Event sinks.
	sinkCtx, stopSinks := context.WithCancel(context.Background())
	defer stopSinks()

	auditRepo := audit.NewSQLiteRepository(db.DB)
	auditWriter := audit.NewWriter(auditRepo, log.Component("audit"))
	auditDone := make(chan struct{})
	go func() {
		defer close(auditDone)
		auditWriter.Run(sinkCtx)
	}()
	defer func() {
		stopSinks()
		<-auditDone
	}()

	rec := metrics.New(version)
	sinks := auth.EventSinks{auditWriter, rec}
	checks := map[string]api.HealthChecker{"database": db}

	if cfg.MQTT.Enabled {
		mqttClient, publisher, err := startMQTT(cfg.MQTT, log)
		if err != nil {
			return err
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
			defer cancel()
			if closeErr := publisher.Close(flushCtx); closeErr != nil {
				log.Warn("session event publisher did not drain", "error", closeErr)
			}
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		sinks = append(sinks, publisher)
		checks["mqtt"] = mqttClient
	} else {
		log.Info("MQTT disabled")
	}

	influxClient, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
		sinks = append(sinks, influxdb.NewRecorder(influxClient))
		checks["influxdb"] = influxClient
	}

	svc, err := auth.New(auth.Deps{
		Users:    users,
		Roles:    roles,
		Ledger:   auth.NewLedger(auth.NewTokenRepository(db.DB), codec.RefreshTTL(), auth.SystemClock, log.Component("ledger")),
		Resolver: auth.NewResolver(users, roles),
		Codec:    codec,
		Hasher:   hasher,
	},
		auth.WithLogger(log.Component("auth")),
		auth.WithEventSink(sinks),
		auth.WithRefreshRotation(cfg.Security.Tokens.RotateRefreshTokens),
	)
	if err != nil {
		return fmt.Errorf("creating auth service: %w", err)
	}

	server, err := api.New(api.Deps{
		Config:    cfg.API,
		RateLimit: cfg.Security.RateLimit,
		Logger:    log,
		Auth:      svc,
		Audit:     auditRepo,
		Metrics:   rec,
		Checks:    checks,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	go purgeLoop(ctx, svc, cfg.Security.GetPurgeInterval(), log)

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse: API server, InfluxDB, MQTT, audit
	// writer drain, database.
	return nil
}

// getConfigPath returns flagValue, then $IDENTITY_CONFIG, then the default.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadDotenv loads KEY=value pairs from path into the environment without
// overriding variables already set. A missing file is not an error.
func loadDotenv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// seed creates the default roles and the bootstrap admin. A generated admin
// password is printed once to stdout and never logged.
func seed(ctx context.Context, cfg config.SeedConfig, users auth.UserRepository, roles auth.RoleRepository, hasher *auth.Hasher, log *logging.Logger) error {
	res, err := auth.SeedDefaults(ctx, users, roles, hasher, auth.SeedOptions{
		AdminUsername: cfg.AdminUsername,
		AdminEmail:    cfg.AdminEmail,
		AdminPassword: cfg.AdminPassword,
	}, log.Component("seed"))
	if err != nil {
		return fmt.Errorf("seeding defaults: %w", err)
	}
	log.Info("seed complete",
		"permissions_created", res.PermissionsCreated,
		"roles_created", res.RolesCreated,
		"admin_created", res.AdminCreated,
	)
	if res.GeneratedPassword != "" {
		fmt.Fprintf(os.Stdout, "\nInitial admin account %q created with password: %s\nChange it after first login.\n\n",
			cfg.AdminUsername, res.GeneratedPassword)
	}
	return nil
}

// startMQTT connects to the broker and starts the session event publisher.
func startMQTT(cfg config.MQTTConfig, log *logging.Logger) (*mqtt.Client, *mqtt.EventPublisher, error) {
	client, err := mqtt.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log.Component("mqtt"))
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		"client_id", cfg.Broker.ClientID,
	)
	return client, mqtt.NewEventPublisher(client, client.Topics(), log.Component("mqtt-events")), nil
}

// purgeLoop deletes expired refresh tokens every interval until ctx is
// cancelled. The ledger logs what it removed.
func purgeLoop(ctx context.Context, svc *auth.Service, interval time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svc.PurgeExpiredTokens(ctx); err != nil {
				log.Warn("refresh token purge failed", "error", err)
			}
		}
	}
}
