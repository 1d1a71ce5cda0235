package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/simbridge/internal/auth"
	"github.com/danmuck/simbridge/internal/bridge"
	"github.com/danmuck/simbridge/internal/config"
	"github.com/danmuck/simbridge/internal/logging"
	"github.com/danmuck/simbridge/internal/observability"
	"github.com/danmuck/simbridge/internal/protocol/attribute"
	"github.com/danmuck/simbridge/internal/protocol/registry"
	"github.com/danmuck/simbridge/internal/scene"
	"github.com/danmuck/simbridge/internal/server"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type runOptions struct {
	configPath string
	manifest   string
	adminAddr  string
}

func runCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the simulator and stream the scene",
		Long: `Load the bridge config and scene manifest, then run the client until
interrupted. The admin API serves /health, /ready, /status, /bindings,
/scene and /metrics unless admin_addr is empty.

Examples:
  bridgectl run
  bridgectl run --config bridge.toml --manifest scene.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBridge(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "bridge.toml", "Bridge config file")
	cmd.Flags().StringVar(&opts.manifest, "manifest", "", "Scene manifest (overrides the config)")
	cmd.Flags().StringVar(&opts.adminAddr, "admin-addr", "", "Admin API address (overrides the config)")
	return cmd
}

// wiring shared by run and check
type assembly struct {
	cfg      runConfig
	catalog  *attribute.Catalog
	scene    *scene.Scene
	registry *registry.Registry
}

func assemble(configPath, manifestOverride string) (assembly, error) {
	cfg, err := loadRunConfig(configPath)
	if err != nil {
		return assembly{}, err
	}
	if manifestOverride != "" {
		cfg.ManifestPath = manifestOverride
	}
	m, err := config.LoadManifest(cfg.ManifestPath)
	if err != nil {
		return assembly{}, err
	}
	a := assembly{
		cfg:      cfg,
		catalog:  attribute.NewCatalog(),
		scene:    scene.New(),
		registry: registry.New(),
	}
	if err := m.Apply(a.scene, a.registry, a.catalog); err != nil {
		return assembly{}, fmt.Errorf("apply manifest: %w", err)
	}
	return a, nil
}

func runBridge(parent context.Context, opts runOptions) error {
	logging.ConfigureRuntime()
	observability.RegisterMetrics()

	a, err := assemble(opts.configPath, opts.manifest)
	if err != nil {
		return err
	}
	if opts.adminAddr != "" {
		a.cfg.AdminAddr = opts.adminAddr
	}
	client, err := bridge.NewClient(a.cfg.Bridge, a.catalog, a.registry, a.scene)
	if err != nil {
		return err
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("server", a.cfg.Bridge.ServerAddress()).
		Str("manifest", a.cfg.ManifestPath).
		Float64("frame_rate", a.cfg.FrameRate).
		Float64("update_rate", a.cfg.Bridge.UpdateRate).
		Msg("bridgectl run")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bridge.NewRunner(client, a.cfg.FrameRate).Run(gctx)
	})
	if a.cfg.AdminAddr != "" {
		admin := server.New(a.cfg.AdminAddr, client, a.scene, a.catalog, server.Options{
			CorsOrigins: a.cfg.CorsOrigins,
			Token:       auth.Token{Secret: a.cfg.AdminToken},
		})
		g.Go(func() error {
			return admin.Serve(gctx)
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
