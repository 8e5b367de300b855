package commands

import (
	"context"

	"github.com/okra-platform/egress/internal/clienttls"
)

// TLS reports the client TLS identity a component uses for host
func (c *Controller) TLS(ctx context.Context, componentID, host string) error {
	cfg, _, err := c.loadConfig()
	if err != nil {
		return err
	}
	selector, err := cfg.TLSSelector()
	if err != nil {
		return err
	}

	identity := selector.Get(componentID, host)
	if identity == clienttls.DefaultIdentity() {
		c.Out.Printf("%s -> %s: default identity (system roots, no client certificate)\n", componentID, host)
		return nil
	}
	c.Out.Printf("%s -> %s: %d custom roots, system roots: %t, client certificate: %t\n",
		componentID, host, identity.RootCount(), identity.UsesSystemRoots(), identity.HasClientCert())
	return nil
}
