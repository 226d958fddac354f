// Package main provides the wevibe service entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"wevibe/internal/cache"
	"wevibe/internal/catalog"
	"wevibe/internal/core"
	"wevibe/internal/extract"
	httpserver "wevibe/internal/http"
	"wevibe/internal/importer"
	"wevibe/internal/youtube"
)

var (
	cfgFile string
	config  *core.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "wevibe",
	Short: "wevibe - song reference to audio stream resolution service",
	Long: `wevibe resolves song references (catalog ids, YouTube video ids, or
free-text titles) into playable audio stream URLs, backed by a persistent
catalog and a volatile extraction cache.`,
	RunE: runServe,
}

var importCmd = &cobra.Command{
	Use:   "import-spotify",
	Short: "Import a Spotify playlist into the catalog",
	RunE:  runImport,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .env)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("db-path", "./wevibe.db", "catalog database path")
	rootCmd.PersistentFlags().Bool("no-persist", false, "disable the persistent catalog (transient mode)")
	rootCmd.PersistentFlags().String("youtube-api-key", "", "YouTube Data API key")
	rootCmd.PersistentFlags().String("ytdlp-path", "yt-dlp", "path to the yt-dlp binary")
	rootCmd.PersistentFlags().Duration("extract-timeout", 60*time.Second, "stream extraction timeout")
	rootCmd.PersistentFlags().Duration("stale-threshold", 2*time.Hour, "persisted stream URL staleness threshold")
	rootCmd.PersistentFlags().Duration("cache-ttl", 30*time.Minute, "volatile cache entry lifetime")
	rootCmd.PersistentFlags().Int("cache-size", 4096, "volatile cache capacity")
	rootCmd.PersistentFlags().String("spotify-client-id", "", "Spotify client ID (import)")
	rootCmd.PersistentFlags().String("spotify-client-secret", "", "Spotify client secret (import)")
	rootCmd.PersistentFlags().String("listen-host", "0.0.0.0", "HTTP listen host")
	rootCmd.PersistentFlags().Int("listen-port", 8080, "HTTP listen port")

	importCmd.Flags().String("playlist-id", "", "Spotify playlist ID to import")

	rootCmd.AddCommand(importCmd)

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bind flags: %v\n", err)
		os.Exit(1)
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(".env")
		viper.SetConfigType("env")
	}

	viper.SetEnvPrefix("WEVIBE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
			os.Exit(1)
		}
	}

	config = buildConfig()
	logger = buildLogger(config.Log.Level)
}

func buildConfig() *core.Config {
	cfg := core.DefaultConfig()

	if v := viper.GetString("db-path"); v != "" {
		cfg.Catalog.Path = v
	}
	cfg.Catalog.NoPersist = viper.GetBool("no-persist")

	cfg.YouTube.APIKey = viper.GetString("youtube-api-key")
	if v := viper.GetString("youtube-base-url"); v != "" {
		cfg.YouTube.BaseURL = v
	}

	if v := viper.GetString("ytdlp-path"); v != "" {
		cfg.Extractor.Path = v
	}
	if v := viper.GetDuration("extract-timeout"); v > 0 {
		cfg.Extractor.Timeout = v
	}

	if v := viper.GetDuration("stale-threshold"); v > 0 {
		cfg.Cache.StaleThreshold = v
	}
	if v := viper.GetDuration("cache-ttl"); v > 0 {
		cfg.Cache.VolatileTTL = v
	}
	if v := viper.GetInt("cache-size"); v > 0 {
		cfg.Cache.VolatileSize = v
	}

	cfg.Spotify.ClientID = viper.GetString("spotify-client-id")
	cfg.Spotify.ClientSecret = viper.GetString("spotify-client-secret")

	if v := viper.GetString("listen-host"); v != "" {
		cfg.Server.Host = v
	}
	if v := viper.GetInt("listen-port"); v > 0 {
		cfg.Server.Port = v
	}

	cfg.Log.Level = viper.GetString("log-level")

	return cfg
}

func buildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	builtLogger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("Failed to build logger: %v", err))
	}

	return builtLogger
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("Starting wevibe",
		zap.Bool("no_persist", config.Catalog.NoPersist),
		zap.Duration("stale_threshold", config.Cache.StaleThreshold),
		zap.Duration("cache_ttl", config.Cache.VolatileTTL))

	if err := validateConfig(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	store, err := catalog.Open(config.Catalog.Path, config.Catalog.MaxIndexKeys, logger.Named("catalog"))
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	defer store.Close()

	audioCache := cache.NewAudioCache(config.Cache.VolatileSize, config.Cache.VolatileTTL, logger.Named("cache"))
	defer audioCache.Close()

	ytClient := youtube.NewClient(&config.YouTube, logger.Named("youtube"))
	extractor := extract.NewYTDLP(&config.Extractor, logger.Named("extract"))

	resolver := core.NewResolver(
		config,
		store,
		ytClient,
		extractor,
		audioCache,
		logger.Named("resolver"),
	)

	server := httpserver.NewServer(&config.Server, resolver, ytClient, logger.Named("http"))

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Start(gCtx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-gCtx.Done():
				return nil
			case <-ticker.C:
				server.SetVolatileEntries(audioCache.Len())
			}
		}
	})

	logger.Info("wevibe started successfully",
		zap.String("http_addr", fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)))

	if err := g.Wait(); err != nil {
		logger.Error("wevibe stopped with error", zap.Error(err))
		return err
	}

	logger.Info("wevibe stopped gracefully")
	return nil
}

func runImport(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	playlistID, _ := cmd.Flags().GetString("playlist-id")
	if playlistID == "" {
		return fmt.Errorf("playlist-id is required")
	}

	if err := validateConfig(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if config.Spotify.ClientID == "" || config.Spotify.ClientSecret == "" {
		return fmt.Errorf("spotify client ID and secret are required for import")
	}

	store, err := catalog.Open(config.Catalog.Path, config.Catalog.MaxIndexKeys, logger.Named("catalog"))
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	defer store.Close()

	ytClient := youtube.NewClient(&config.YouTube, logger.Named("youtube"))

	im := importer.New(&config.Spotify, store, ytClient, logger.Named("importer"))

	summary, err := im.ImportPlaylist(ctx, playlistID)
	if err != nil {
		return err
	}

	logger.Info("Import complete",
		zap.String("playlist", summary.PlaylistName),
		zap.Int("total", summary.Total),
		zap.Int("imported", summary.Imported),
		zap.Int("existing", summary.Existing),
		zap.Int("skipped", summary.Skipped))
	return nil
}

func validateConfig() error {
	if config.YouTube.APIKey == "" {
		return fmt.Errorf("youtube API key is required")
	}

	if config.Cache.StaleThreshold <= 0 {
		return fmt.Errorf("stale threshold must be positive")
	}

	if config.Cache.VolatileTTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}

	return nil
}
