package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"bunger-shield/internal/api"
	"bunger-shield/internal/chat"
	"bunger-shield/internal/config"
	"bunger-shield/internal/console"
	"bunger-shield/internal/game"
	"bunger-shield/internal/shield"
	"bunger-shield/internal/store"
)

var (
	configPath string
	envPath    string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:           "bunger-shield",
	Short:         "Game server hosting the shield plugin",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config.toml", "TOML config file (skipped if missing)")
	rootCmd.Flags().StringVar(&envPath, "env", ".env", "dotenv file loaded before reading the environment")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "development logging at debug level")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	// Environment first so config.Load sees it
	envLoaded := godotenv.Load(envPath) == nil

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if debug {
		cfg.Log.Level = "debug"
		cfg.Log.Development = true
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting",
		zap.String("config", configPath),
		zap.Bool("dotenv", envLoaded),
		zap.Int("tps", cfg.Server.TickRate),
		zap.String("storage", cfg.Storage.Driver))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage
	st, err := openStore(cfg.Storage)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("closing store", zap.Error(err))
		}
	}()

	// Permissions
	permLog := logger.Named("permissions")
	perms, err := loadPermissions(cfg.Permissions.Path, permLog)
	if err != nil {
		return err
	}
	if cfg.Permissions.Watch {
		watcher, err := game.NewPermissionWatcher(cfg.Permissions.Path, perms, permLog)
		if err != nil {
			return err
		}
		if err := watcher.Start(ctx); err != nil {
			permLog.Warn("permissions hot reload disabled", zap.Error(err))
		}
		defer watcher.Stop()
	}

	// Game server and plugins
	gs := game.NewServer(game.Options{
		Server:      cfg.Server,
		Spatial:     cfg.Spatial,
		Store:       st,
		Permissions: perms,
		Logger:      logger.Named("server"),
		OnTick:      api.RecordTick,
	})
	plugin := shield.New(cfg.Shield, logger.Named("shield"))
	if err := gs.EnablePlugin(plugin); err != nil {
		// The server keeps running without the plugin
		logger.Error("shield plugin not enabled", zap.Error(err))
	}
	gs.Start()
	defer gs.Stop()

	handler := chat.NewHandler(gs, nil, logger.Named("chat"))
	defer handler.Close()

	g, ctx := errgroup.WithContext(ctx)

	if cfg.API.Enabled {
		apiServer := api.NewServer(cfg.API, gs, plugin, handler, logger.Named("api"))
		defer apiServer.Stop()
		g.Go(func() error { return apiServer.Run(ctx) })
	}

	if cfg.API.DebugEnabled {
		debugCfg := api.DefaultObservabilityConfig()
		if cfg.API.DebugAddr != "" {
			debugCfg.ListenAddr = cfg.API.DebugAddr
		}
		g.Go(func() error { return api.RunDebugServer(ctx, debugCfg, logger.Named("debug")) })
	}

	if cfg.Console.Enabled {
		if dir := filepath.Dir(cfg.Console.HostKeyPath); dir != "" {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return fmt.Errorf("create host key directory: %w", err)
			}
		}
		sshServer, err := console.NewServer(cfg.Console, gs, handler, logger.Named("console"))
		if err != nil {
			return err
		}
		g.Go(func() error { return sshServer.Run(ctx) })
	}

	logger.Info("server ready")
	err = g.Wait()
	logger.Info("shutting down")
	return err
}

// newLogger builds the process logger: JSON production output by default,
// console output in development.
func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func openStore(cfg config.StorageConfig) (store.Store, error) {
	switch cfg.Driver {
	case "memory":
		return store.NewMemoryStore(), nil
	case "sqlite":
		st, err := store.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store %s: %w", cfg.Path, err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// loadPermissions reads the permissions file. A missing file means nobody
// has any permission until one is created.
func loadPermissions(path string, logger *zap.Logger) (*game.PermissionManager, error) {
	f, err := game.LoadPermissionFile(path)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		logger.Warn("permissions file not found, starting with no permissions", zap.String("path", path))
		f = game.PermissionFile{}
	default:
		return nil, err
	}
	return game.NewPermissionManager(f), nil
}
