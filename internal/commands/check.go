package commands

import (
	"context"
	"fmt"
)

// SelfTarget is the argument Check treats as a relative request
const SelfTarget = "self"

// Check evaluates targets against a component's allow-list through the
// okra.net host API, as a guest would. A target of "self" checks relative
// requests; anything else is a URL, with https assumed when it has no scheme.
func (c *Controller) Check(ctx context.Context, componentID string, targets []string) error {
	cfg, _, err := c.loadConfig()
	if err != nil {
		return err
	}
	host, err := c.prepareComponent(ctx, cfg, componentID)
	if err != nil {
		return err
	}
	defer host.Close()

	policy, err := host.component.Gate().Policy(ctx)
	if err != nil {
		return fmt.Errorf("component %q: %w", componentID, err)
	}
	c.Out.Printf("policy: %s\n", policy)

	denied := 0
	for _, target := range targets {
		allowed, err := host.checkAllowed(ctx, target)
		if err != nil {
			return fmt.Errorf("checking %s: %w", target, err)
		}
		if allowed {
			c.Out.Printf("allowed  %s\n", target)
		} else {
			denied++
			c.Out.Printf("denied   %s\n", target)
		}
	}

	if denied > 0 {
		return fmt.Errorf("%w: %d of %d", ErrDenied, denied, len(targets))
	}
	return nil
}
