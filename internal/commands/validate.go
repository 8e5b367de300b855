package commands

import (
	"context"
	"fmt"
)

// Validate loads the configuration and reports what it contains
func (c *Controller) Validate(ctx context.Context) error {
	cfg, path, err := c.loadConfig()
	if err != nil {
		return err
	}

	blocked, err := cfg.BlockSet()
	if err != nil {
		return err
	}

	registry, err := newHostAPIRegistry()
	if err != nil {
		return err
	}
	for _, id := range cfg.ComponentIDs() {
		for _, ref := range cfg.Components[id].HostAPIs {
			if _, ok := registry.Get(ref); !ok {
				return fmt.Errorf("component %q: host API %q is not available", id, ref)
			}
		}
	}

	c.Out.Printf("✅ %s is valid\n", path)
	c.Out.Printf("blocked networks: %d (private: %t)\n", len(blocked.Networks()), blocked.BlocksPrivate())
	c.Out.Printf("client TLS entries: %d\n", len(cfg.ClientTLS))
	for _, id := range cfg.ComponentIDs() {
		c.Out.Printf("component %s: %d allowed outbound hosts\n", id, len(cfg.Components[id].AllowedOutboundHosts))
	}
	return nil
}
