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

	"github.com/MarkoPoloResearchLab/gamewallet/internal/oplog"
	"github.com/MarkoPoloResearchLab/gamewallet/internal/provider"
	"github.com/MarkoPoloResearchLab/gamewallet/internal/push"
	"github.com/MarkoPoloResearchLab/gamewallet/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/gamewallet/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/gamewallet/internal/walletapi"
	"github.com/MarkoPoloResearchLab/gamewallet/pkg/wallet"
	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	flagDatabaseURL       = "database-url"
	flagListenAddr        = "listen-addr"
	flagProviderURL       = "provider-url"
	flagProviderKey       = "provider-key"
	flagAllowedOrigins    = "allowed-origins"
	configKeyDatabaseURL  = "database_url"
	configKeyListenAddr   = "listen_addr"
	configKeyProviderURL  = "provider_url"
	configKeyProviderKey  = "provider_key"
	configKeyOrigins      = "allowed_origins"
	defaultDatabaseURL    = "sqlite:///tmp/gamewallet.db"
	defaultHTTPListenAddr = ":3000"
)

type runtimeConfig struct {
	DatabaseURL    string
	ListenAddr     string
	ProviderURL    string
	ProviderKey    string
	AllowedOrigins string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "walletd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "walletd",
		Short:         "Game wallet HTTP server",
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

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "database connection string")
	cmd.Flags().String(flagListenAddr, defaultHTTPListenAddr, "HTTP listen address")
	cmd.Flags().String(flagProviderURL, "", "upstream game platform base URL")
	cmd.Flags().String(flagProviderKey, "", "upstream game platform API key")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated CORS origins")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindings := map[string]string{
		configKeyDatabaseURL: "DATABASE_URL",
		configKeyListenAddr:  "HTTP_LISTEN_ADDR",
		configKeyProviderURL: "GCP_URL",
		configKeyProviderKey: "GCP_KEY",
		configKeyOrigins:     "ALLOWED_ORIGINS",
	}
	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			return err
		}
	}

	flags := map[string]string{
		configKeyDatabaseURL: flagDatabaseURL,
		configKeyListenAddr:  flagListenAddr,
		configKeyProviderURL: flagProviderURL,
		configKeyProviderKey: flagProviderKey,
		configKeyOrigins:     flagAllowedOrigins,
	}
	for key, flag := range flags {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultHTTPListenAddr
	}
	cfg.ProviderURL = viper.GetString(configKeyProviderURL)
	cfg.ProviderKey = viper.GetString(configKeyProviderKey)
	cfg.AllowedOrigins = viper.GetString(configKeyOrigins)

	if cfg.ProviderURL == "" {
		return fmt.Errorf("provider url is required")
	}
	if cfg.ProviderKey == "" {
		return fmt.Errorf("provider key is required")
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	store, directory, cleanup, err := openStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()

	hub := push.NewHub(directory, logger)
	clock := func() int64 { return time.Now().UTC().Unix() }
	service, err := wallet.NewService(store, directory, clock,
		wallet.WithOperationLogger(oplog.New(logger)),
		wallet.WithNotifier(hub),
	)
	if err != nil {
		return fmt.Errorf("wallet service init: %w", err)
	}

	apiConfig := walletapi.Config{
		ListenAddr:     cfg.ListenAddr,
		AllowedOrigins: walletapi.ParseAllowedOrigins(cfg.AllowedOrigins),
		ProviderURL:    cfg.ProviderURL,
		ProviderKey:    cfg.ProviderKey,
	}
	if err := apiConfig.Validate(); err != nil {
		return fmt.Errorf("api config: %w", err)
	}

	return walletapi.Run(ctx, apiConfig, walletapi.Dependencies{
		Service:  service,
		Provider: provider.NewClient(apiConfig.ProviderURL, apiConfig.ProviderKey),
		Hub:      hub,
		Logger:   logger,
	})
}

// openStore picks the persistence backend from the DSN scheme: pgx:// uses
// the raw pgx pool store, postgres:// and sqlite paths go through gorm.
func openStore(ctx context.Context, dsn string) (wallet.Store, wallet.Directory, func() error, error) {
	if strings.HasPrefix(dsn, "pgx://") {
		pool, err := pgxpool.New(ctx, "postgres://"+strings.TrimPrefix(dsn, "pgx://"))
		if err != nil {
			return nil, nil, nil, err
		}
		store := pgstore.New(pool)
		cleanup := func() error {
			pool.Close()
			return nil
		}
		return store, store, cleanup, nil
	}

	gormDB, cleanup, driver, err := openGormDatabase(ctx, dsn)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := prepareSchema(gormDB, driver); err != nil {
		_ = cleanup()
		return nil, nil, nil, err
	}
	store := gormstore.New(gormDB)
	return store, store, cleanup, nil
}

func openGormDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), &gorm.Config{})
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
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
			path = "gamewallet.db"
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

func prepareSchema(db *gorm.DB, driver string) error {
	if driver != "sqlite" {
		return nil
	}
	if err := db.AutoMigrate(&gormstore.User{}, &gormstore.WalletTransaction{}, &gormstore.ActionRecord{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
