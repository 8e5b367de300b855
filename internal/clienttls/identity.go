// Package clienttls selects the TLS client identity (trust roots and
// optional client certificate) used for outbound connections.
package clienttls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"sync"
)

// IdentitySpec describes one client TLS entry. Every (component, host) pair
// it names uses the identity built from the remaining fields.
type IdentitySpec struct {
	Components       []string
	Hosts            []string
	RootCertificates []*x509.Certificate
	UseSystemRoots   bool
	// PEM encoded client certificate chain and private key. Both or neither.
	ClientCertPEM []byte
	ClientKeyPEM  []byte
}

// Identity is an immutable TLS client identity.
type Identity struct {
	roots      *x509.CertPool
	rootCount  int
	system     bool
	clientCert *tls.Certificate
}

// NewIdentity builds an identity from explicit roots, optionally adding the
// system roots, and an optional client certificate.
func NewIdentity(roots []*x509.Certificate, useSystemRoots bool, certPEM, keyPEM []byte) (*Identity, error) {
	id := &Identity{rootCount: len(roots), system: useSystemRoots}

	switch {
	case useSystemRoots && len(roots) == 0:
		// nil RootCAs makes crypto/tls use the host's roots
	case useSystemRoots:
		pool, err := x509.SystemCertPool()
		if err != nil {
			return nil, fmt.Errorf("loading system roots: %w", err)
		}
		id.roots = pool
	default:
		id.roots = x509.NewCertPool()
	}
	for _, cert := range roots {
		id.roots.AddCert(cert)
	}

	switch {
	case len(certPEM) > 0 && len(keyPEM) == 0:
		return nil, ErrCertWithoutKey
	case len(certPEM) == 0 && len(keyPEM) > 0:
		return nil, ErrKeyWithoutCert
	case len(certPEM) > 0:
		pair, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKeyPairMismatch, err)
		}
		id.clientCert = &pair
	}
	return id, nil
}

var defaultIdentity = sync.OnceValue(func() *Identity {
	return &Identity{system: true}
})

// DefaultIdentity returns the identity used when nothing is configured: the
// system roots and no client certificate.
func DefaultIdentity() *Identity { return defaultIdentity() }

// HasClientCert reports whether the identity presents a client certificate.
func (id *Identity) HasClientCert() bool { return id.clientCert != nil }

// UsesSystemRoots reports whether the system trust roots are included.
func (id *Identity) UsesSystemRoots() bool { return id.system }

// RootCount returns the number of explicitly configured roots.
func (id *Identity) RootCount() int { return id.rootCount }

// RootCAs returns the trust pool; nil means the system roots.
func (id *Identity) RootCAs() *x509.CertPool { return id.roots }

// ClientConfig returns a fresh tls.Config for a connection to serverName.
func (id *Identity) ClientConfig(serverName string) *tls.Config {
	cfg := &tls.Config{
		ServerName: serverName,
		RootCAs:    id.roots,
		MinVersion: tls.VersionTLS12,
	}
	if id.clientCert != nil {
		cfg.Certificates = []tls.Certificate{*id.clientCert}
	}
	return cfg
}
