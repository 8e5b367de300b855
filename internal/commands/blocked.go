package commands

import (
	"context"
	"fmt"
	"net/netip"
)

// Blocked reports whether each address falls in a blocked network
func (c *Controller) Blocked(ctx context.Context, addrs []string) error {
	cfg, _, err := c.loadConfig()
	if err != nil {
		return err
	}
	blocked, err := cfg.BlockSet()
	if err != nil {
		return err
	}

	for _, text := range addrs {
		addr, err := netip.ParseAddr(text)
		if err != nil {
			return fmt.Errorf("invalid address %q: %w", text, err)
		}
		switch prefix, ok := blocked.Match(addr); {
		case ok:
			c.Out.Printf("blocked  %s (%s)\n", addr, prefix)
		case blocked.IsBlocked(addr):
			c.Out.Printf("blocked  %s (private)\n", addr)
		default:
			c.Out.Printf("allowed  %s\n", addr)
		}
	}
	return nil
}
