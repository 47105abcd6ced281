package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nova-run/novad/internal/apiplugin"
	"github.com/nova-run/novad/internal/cliplugin"
	"github.com/nova-run/novad/internal/config"
	"github.com/nova-run/novad/internal/localplugin"
	"github.com/nova-run/novad/internal/plugin"
	"github.com/nova-run/novad/internal/provider"
	"github.com/nova-run/novad/internal/tool"
	"github.com/nova-run/novad/pkg/types"
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "Inspect configured plugins",
}

var pluginsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Discover and list plugins without starting the server",
	RunE:  runPluginsList,
}

func init() {
	pluginsCmd.AddCommand(pluginsListCmd)
}

func runPluginsList(cmd *cobra.Command, args []string) error {
	base := serveBase
	if base == "" {
		base = config.BasePath()
	}

	cfgLoader := config.NewLoader(base)
	registry := plugin.NewRegistry()

	ctx := context.Background()
	providers, err := provider.InitializeProviders(ctx, cfgLoader.Current())
	if err != nil {
		providers = provider.NewRegistry(cfgLoader.Current())
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
	loader.Discover(ctx)

	manifests := registry.Plugins()
	data, err := json.MarshalIndent(manifests, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
