package config

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/okra-platform/egress/internal/allowedhosts"
	"github.com/okra-platform/egress/internal/blockednet"
	"github.com/okra-platform/egress/internal/clienttls"
)

// Validate checks every section without touching the filesystem or
// resolving templates. All problems are reported together.
func (c *Config) Validate() error {
	var errs error

	if _, _, err := blockednet.ParseBlockList(c.OutboundNetworking.BlockNetworks); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("outbound_networking.block_networks: %w", err))
	}

	for i, entry := range c.ClientTLS {
		errs = multierr.Append(errs, entry.validate(i))
	}

	for _, id := range c.ComponentIDs() {
		if err := allowedhosts.ValidateHostList(c.Components[id].AllowedOutboundHosts); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("component %q: allowed_outbound_hosts: %w", id, err))
		}
	}

	if err := allowedhosts.ValidateServiceChaining(c.AllowedHosts(), c.ComponentIDs()); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}

func (e ClientTLSConfig) validate(index int) error {
	var errs error
	if len(e.ComponentIDs) == 0 {
		errs = multierr.Append(errs, fmt.Errorf("client_tls[%d]: 'component_ids' list may not be empty", index))
	}
	if len(e.Hosts) == 0 {
		errs = multierr.Append(errs, fmt.Errorf("client_tls[%d]: 'hosts' list may not be empty", index))
	}
	for _, host := range e.Hosts {
		if err := clienttls.ValidateHost(host); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("client_tls[%d]: %w", index, err))
		}
	}
	switch {
	case e.ClientCertFile != "" && e.ClientPrivateKeyFile == "":
		errs = multierr.Append(errs, fmt.Errorf("client_tls[%d]: client_cert_file specified without client_private_key_file", index))
	case e.ClientCertFile == "" && e.ClientPrivateKeyFile != "":
		errs = multierr.Append(errs, fmt.Errorf("client_tls[%d]: client_private_key_file specified without client_cert_file", index))
	}
	return errs
}

// BlockSet builds the blocked network set.
func (c *Config) BlockSet() (blockednet.BlockSet, error) {
	set, err := blockednet.FromList(c.OutboundNetworking.BlockNetworks)
	if err != nil {
		return blockednet.BlockSet{}, fmt.Errorf("outbound_networking.block_networks: %w", err)
	}
	return set, nil
}

// TLSSpecs loads the certificate files of every client_tls entry.
func (c *Config) TLSSpecs() ([]clienttls.IdentitySpec, error) {
	specs := make([]clienttls.IdentitySpec, 0, len(c.ClientTLS))
	for i, entry := range c.ClientTLS {
		if err := entry.validate(i); err != nil {
			return nil, err
		}
		spec := clienttls.IdentitySpec{
			Components:     entry.ComponentIDs,
			Hosts:          entry.Hosts,
			UseSystemRoots: entry.UseSystemRoots(),
		}
		if entry.CARootsFile != "" {
			roots, err := clienttls.LoadCertificates(c.Path(entry.CARootsFile))
			if err != nil {
				return nil, fmt.Errorf("client_tls[%d]: %w", i, err)
			}
			spec.RootCertificates = roots
		}
		if entry.ClientCertFile != "" {
			certPEM, err := clienttls.LoadCertificatePEM(c.Path(entry.ClientCertFile))
			if err != nil {
				return nil, fmt.Errorf("client_tls[%d]: %w", i, err)
			}
			keyPEM, err := clienttls.LoadPrivateKeyPEM(c.Path(entry.ClientPrivateKeyFile))
			if err != nil {
				return nil, fmt.Errorf("client_tls[%d]: %w", i, err)
			}
			spec.ClientCertPEM, spec.ClientKeyPEM = certPEM, keyPEM
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// TLSSelector loads certificates and builds the identity selector.
func (c *Config) TLSSelector() (*clienttls.Selector, error) {
	specs, err := c.TLSSpecs()
	if err != nil {
		return nil, err
	}
	selector, err := clienttls.NewSelector(specs)
	if err != nil {
		return nil, fmt.Errorf("failed to parse TLS config: %w", err)
	}
	return selector, nil
}
