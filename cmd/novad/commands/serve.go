package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nova-run/novad/internal/apiplugin"
	"github.com/nova-run/novad/internal/cliplugin"
	"github.com/nova-run/novad/internal/config"
	"github.com/nova-run/novad/internal/history"
	"github.com/nova-run/novad/internal/localplugin"
	"github.com/nova-run/novad/internal/logging"
	"github.com/nova-run/novad/internal/plugin"
	"github.com/nova-run/novad/internal/provider"
	"github.com/nova-run/novad/internal/server"
	"github.com/nova-run/novad/internal/tool"
	"github.com/nova-run/novad/pkg/types"
)

var (
	servePort int
	serveHost string
	serveBase string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the novad server",
	Long: `Start novad as a headless server exposing JSON-RPC 2.0 over a
WebSocket at /nova, plus a /health and /plugins HTTP sidecar.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (default from config/NOVA_PORT/8080)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind (default from config/0.0.0.0)")
	serveCmd.Flags().StringVar(&serveBase, "base", "", "Base directory for nova.config.json and plugins/ (default NOVA_BASE_PATH)")
}

// runServe follows the startup order: create C1 (config loader), create
// C3 (registry), create C2 (plugin loader, wired to C1 and C3), create
// C7 (transport, wired to C3 and C6), discover plugins, bind the
// listener.
func runServe(cmd *cobra.Command, args []string) error {
	base := serveBase
	if base == "" {
		base = config.BasePath()
	}
	config.LoadDotEnv(base)

	cfgLoader := config.NewLoader(base)
	appConfig := cfgLoader.Current()

	registry := plugin.NewRegistry()
	ctx := context.Background()

	providers, err := provider.InitializeProviders(ctx, appConfig)
	if err != nil {
		logging.Warn().Err(err).Msg("novad: no model providers initialized, api-source agents will report disabled")
		providers = provider.NewRegistry(appConfig)
	}
	tools := tool.DefaultRegistry(base)

	factories := map[types.Source]plugin.Factory{
		types.SourceCLI: cliplugin.New,
		types.SourceAPI: func(m *types.Manifest, cfg plugin.ConfigSource) (plugin.Plugin, error) {
			return apiplugin.New(m, cfg, providers)
		},
		types.SourceLocal: func(m *types.Manifest, cfg plugin.ConfigSource) (plugin.Plugin, error) {
			return localplugin.New(m, cfg, tools)
		},
	}
	loader := plugin.NewLoader(base, registry, cfgLoader, factories)

	hist := history.New(config.TranscriptRoot())

	srvCfg := server.DefaultConfig()
	if servePort != 0 {
		srvCfg.Port = servePort
	} else if appConfig.Server.Port != 0 {
		srvCfg.Port = appConfig.Server.Port
	}
	if serveHost != "" {
		srvCfg.Host = serveHost
	} else if appConfig.Server.Host != "" {
		srvCfg.Host = appConfig.Server.Host
	}

	srv := server.New(srvCfg, registry, hist)

	loader.Discover(ctx)
	if err := loader.Watch(ctx); err != nil {
		logging.Warn().Err(err).Msg("novad: plugin hot-reload watch failed to start")
	}
	if err := cfgLoader.Watch(); err != nil {
		logging.Warn().Err(err).Msg("novad: config hot-reload watch failed to start")
	}

	go func() {
		logging.Info().
			Str("host", srvCfg.Host).
			Int("port", srvCfg.Port).
			Msg("novad: listening")
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logging.Fatal().Err(err).Msg("novad: server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info().Msg("novad: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("novad: http shutdown error")
	}
	registry.Shutdown(shutdownCtx)
	_ = loader.Close()
	_ = cfgLoader.Close()

	logging.Info().Msg("novad: stopped")
	return nil
}
