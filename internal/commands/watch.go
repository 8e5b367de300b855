package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/okra-platform/egress/internal/config"
	"github.com/okra-platform/egress/internal/outbound"
)

// Watch loads the configuration and keeps the outbound state in sync with
// the file until interrupted.
func (c *Controller) Watch(ctx context.Context) error {
	cfg, path, err := c.loadConfig()
	if err != nil {
		return err
	}
	state, err := outbound.StateFromConfig(cfg)
	if err != nil {
		return err
	}
	networking := outbound.New(state, outbound.WithLogger(c.Logger))

	watcher, err := config.NewWatcher(path, c.Logger, func(cfg *config.Config) {
		state, err := outbound.StateFromConfig(cfg)
		if err != nil {
			c.Logger.Error().Err(err).Msg("failed to build outbound state; keeping the previous one")
			return
		}
		networking.Swap(state)
	})
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}
	defer watcher.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c.Out.Printf("👀 Watching %s for changes...\n", path)
	if err := watcher.Start(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	c.Out.Println("👋 Stopped watching")
	return nil
}
