package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	offlinecache "github.com/always-cache/offline-cache"
	assetmanifest "github.com/always-cache/offline-cache/pkg/asset-manifest"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	portFlag   int
	originFlag string
	hostFlag   string
	appFlag    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the caching proxy",
	Long: `Run the caching proxy in front of the origin and register the configured
generation. Send SIGHUP to re-read the config file and register its version.`,
	RunE: runServe,
}

func init() {
	flags := serveCmd.Flags()
	flags.IntVarP(&portFlag, "port", "p", 0, "Port to listen on (overrides config)")
	flags.StringVar(&originFlag, "origin", "", "Origin URL to proxy to (overrides config)")
	flags.StringVar(&hostFlag, "host", "", "Hostname of origin (overrides config)")
	flags.StringVar(&appFlag, "app", "", "Public URL of the application (overrides config)")
}

func applyServeFlags(cmd *cobra.Command, config *Config) {
	flags := cmd.Flags()
	if flags.Lookup("port") == nil {
		return
	}
	if flags.Changed("port") {
		config.Server.Port = portFlag
	}
	if flags.Changed("origin") {
		config.Server.Origin = originFlag
	}
	if flags.Changed("host") {
		config.Server.Host = hostFlag
	}
	if flags.Changed("app") {
		config.Server.App = appFlag
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := config.Validate(); err != nil {
		return err
	}
	manifest, err := config.AssetManifest()
	if err != nil {
		return err
	}

	provider, err := config.Cache.OpenProvider()
	if err != nil {
		return err
	}
	defer provider.Close()

	engineConfig, err := config.EngineConfig(provider, &log.Logger)
	if err != nil {
		return err
	}
	engine := offlinecache.CreateEngine(engineConfig)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", config.Server.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Msgf("Proxying port %v to %s (with hostname '%s')", config.Server.Port, config.Server.Origin, config.Server.Host)
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Server error")
			stop()
		}
	}()

	// the server passes requests through while the first generation installs
	go register(ctx, engine, config.Generation.Version, manifest)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-hup:
			reloaded, err := loadConfig(cmd)
			if err == nil {
				err = reloaded.Validate()
			}
			if err != nil {
				log.Error().Err(err).Msg("Could not reload config")
				continue
			}
			manifest, err := reloaded.AssetManifest()
			if err != nil {
				log.Error().Err(err).Msg("Could not reload asset manifest")
				continue
			}
			log.Info().Str("version", reloaded.Generation.Version).Msg("Config reloaded, only the generation is applied")
			go register(ctx, engine, reloaded.Generation.Version, manifest)
		case <-ctx.Done():
			log.Info().Msg("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		}
	}
}

func register(ctx context.Context, engine *offlinecache.Engine, version string, manifest assetmanifest.Manifest) {
	if _, err := engine.Register(ctx, version, manifest); err != nil {
		log.Error().Err(err).Str("version", version).Msg("Could not register generation")
	}
}
