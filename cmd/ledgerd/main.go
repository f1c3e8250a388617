package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/primestake/ledger/internal/events/rabbitpub"
	"github.com/primestake/ledger/internal/httpserver"
	"github.com/primestake/ledger/internal/invest"
	"github.com/primestake/ledger/internal/referral"
	"github.com/primestake/ledger/internal/scheduler"
	"github.com/primestake/ledger/internal/store/gormstore"
	"github.com/primestake/ledger/pkg/ledger"
)

const (
	flagDatabaseURL    = "database-url"
	flagListenAddr     = "listen-addr"
	flagJWTSigningKey  = "jwt-signing-key"
	flagAllowedOrigins = "allowed-origins"
	flagAMQPURL        = "amqp-url"
	flagAMQPExchange   = "amqp-exchange"
	flagSweepInterval  = "sweep-interval"

	configKeyDatabaseURL    = "database_url"
	configKeyListenAddr     = "listen_addr"
	configKeyJWTSigningKey  = "jwt_signing_key"
	configKeyAllowedOrigins = "allowed_origins"
	configKeyAMQPURL        = "amqp_url"
	configKeyAMQPExchange   = "amqp_exchange"
	configKeySweepInterval  = "sweep_interval"

	defaultDatabaseURL   = "sqlite:///tmp/primestake.db"
	defaultListenAddr    = ":8080"
	defaultAMQPExchange  = "ledger.events"
	defaultSweepInterval = time.Minute
)

type runtimeConfig struct {
	DatabaseURL    string
	ListenAddr     string
	JWTSigningKey  string
	AllowedOrigins []string
	AMQPURL        string
	AMQPExchange   string
	SweepInterval  time.Duration
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ledgerd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "ledgerd",
		Short:         "Investment ledger HTTP server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL or sqlite connection string")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagJWTSigningKey, "", "HS256 signing key for bearer tokens")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated CORS origins")
	cmd.Flags().String(flagAMQPURL, "", "AMQP broker URL for committed-event publishing (optional)")
	cmd.Flags().String(flagAMQPExchange, defaultAMQPExchange, "AMQP topic exchange name")
	cmd.Flags().Duration(flagSweepInterval, defaultSweepInterval, "accrual and maturity sweep interval")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindings := map[string]string{
		configKeyDatabaseURL:    "DATABASE_URL",
		configKeyListenAddr:     "LISTEN_ADDR",
		configKeyJWTSigningKey:  "JWT_SIGNING_KEY",
		configKeyAllowedOrigins: "ALLOWED_ORIGINS",
		configKeyAMQPURL:        "AMQP_URL",
		configKeyAMQPExchange:   "AMQP_EXCHANGE",
		configKeySweepInterval:  "SWEEP_INTERVAL",
	}
	for configKey, envName := range bindings {
		if err := viper.BindEnv(configKey, envName); err != nil {
			return err
		}
	}

	flags := map[string]string{
		configKeyDatabaseURL:    flagDatabaseURL,
		configKeyListenAddr:     flagListenAddr,
		configKeyJWTSigningKey:  flagJWTSigningKey,
		configKeyAllowedOrigins: flagAllowedOrigins,
		configKeyAMQPURL:        flagAMQPURL,
		configKeyAMQPExchange:   flagAMQPExchange,
		configKeySweepInterval:  flagSweepInterval,
	}
	for configKey, flagName := range flags {
		if err := viper.BindPFlag(configKey, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	cfg.JWTSigningKey = viper.GetString(configKeyJWTSigningKey)
	if cfg.JWTSigningKey == "" {
		return fmt.Errorf("jwt signing key is required")
	}
	if origins := viper.GetString(configKeyAllowedOrigins); origins != "" {
		for _, origin := range strings.Split(origins, ",") {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, trimmed)
			}
		}
	}
	cfg.AMQPURL = viper.GetString(configKeyAMQPURL)
	cfg.AMQPExchange = viper.GetString(configKeyAMQPExchange)
	if cfg.AMQPExchange == "" {
		cfg.AMQPExchange = defaultAMQPExchange
	}
	cfg.SweepInterval = viper.GetDuration(configKeySweepInterval)
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()

	if err := gormstore.Migrate(gormDB); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	store := gormstore.New(gormDB)
	clock := func() int64 { return time.Now().UTC().Unix() }

	dispatcher := ledger.NewDispatcher()
	engine, err := ledger.NewEngine(store, clock,
		ledger.WithOperationLogger(&zapOperationLogger{logger: logger}),
		ledger.WithEventPublisher(dispatcher),
	)
	if err != nil {
		return fmt.Errorf("engine init: %w", err)
	}

	investments, err := invest.NewService(store, engine, clock)
	if err != nil {
		return fmt.Errorf("investment service init: %w", err)
	}
	referrals, err := referral.NewService(store, engine, clock)
	if err != nil {
		return fmt.Errorf("referral service init: %w", err)
	}
	dispatcher.Subscribe(referrals)

	if cfg.AMQPURL != "" {
		publisher, err := rabbitpub.New(rabbitpub.Config{URL: cfg.AMQPURL, Exchange: cfg.AMQPExchange}, logger)
		if err != nil {
			return fmt.Errorf("amqp publisher init: %w", err)
		}
		defer func() { _ = publisher.Close() }()
		dispatcher.Subscribe(publisher)
	}

	sweeper, err := scheduler.New(cfg.SweepInterval, logger,
		scheduler.Job{Name: "accrue_roi", Run: investments.AccrueDue},
		scheduler.Job{Name: "mature_investments", Run: investments.MatureDue},
		scheduler.Job{Name: "expire_referrals", Run: referrals.ExpireDue},
	)
	if err != nil {
		return fmt.Errorf("scheduler init: %w", err)
	}
	go sweeper.Run(ctx)

	server := httpserver.New(
		httpserver.Config{
			ListenAddr:     cfg.ListenAddr,
			AllowedOrigins: cfg.AllowedOrigins,
			JWTSigningKey:  cfg.JWTSigningKey,
		},
		logger, engine, investments, referrals, store,
	)
	return server.Run(ctx)
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, err
	}

	var db *gorm.DB
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), &gorm.Config{})
	default:
		return nil, nil, fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "primestake.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

// zapOperationLogger forwards engine operation callbacks to structured logs.
type zapOperationLogger struct {
	logger *zap.Logger
}

func (operationLogger *zapOperationLogger) LogOperation(_ context.Context, entry ledger.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("user_id", entry.UserID),
		zap.String("amount", entry.Amount.String()),
		zap.String("status", entry.Status),
		zap.Int("attempts", entry.Attempts),
	}
	if entry.CounterpartyID != "" {
		fields = append(fields, zap.String("counterparty_id", entry.CounterpartyID))
	}
	if entry.RelatedEntityID != "" {
		fields = append(fields, zap.String("related_entity_id", entry.RelatedEntityID))
	}
	if entry.IdempotencyKey != "" {
		fields = append(fields, zap.String("idempotency_key", entry.IdempotencyKey))
	}
	if entry.Error != nil {
		operationLogger.logger.Warn("ledger operation failed", append(fields, zap.Error(entry.Error))...)
		return
	}
	operationLogger.logger.Info("ledger operation", fields...)
}
