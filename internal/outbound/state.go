// Package outbound wires allow-lists, blocked networks and client TLS
// identities into the dialer and HTTP transport used by components.
package outbound

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/okra-platform/egress/internal/blockednet"
	"github.com/okra-platform/egress/internal/clienttls"
	"github.com/okra-platform/egress/internal/config"
)

// State is the process-wide, read-only outbound configuration. A new State
// is built on every configuration change and swapped in whole.
type State struct {
	Blocked    blockednet.BlockSet
	TLS        *clienttls.Selector
	SelfOrigin *url.URL
}

// StateFromConfig builds a State, loading certificate files as needed.
func StateFromConfig(cfg *config.Config) (*State, error) {
	blocked, err := cfg.BlockSet()
	if err != nil {
		return nil, err
	}
	selector, err := cfg.TLSSelector()
	if err != nil {
		return nil, err
	}
	origin, err := ParseSelfOrigin(cfg.OutboundNetworking.SelfOrigin)
	if err != nil {
		return nil, err
	}
	return &State{Blocked: blocked, TLS: selector, SelfOrigin: origin}, nil
}

// ParseSelfOrigin parses an http(s) origin. An empty string yields nil.
func ParseSelfOrigin(origin string) (*url.URL, error) {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return nil, nil
	}
	u, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("invalid self origin %q: %w", origin, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid self origin %q: scheme must be http or https", origin)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid self origin %q: missing host", origin)
	}
	if (u.Path != "" && u.Path != "/") || u.RawQuery != "" || u.Fragment != "" {
		return nil, fmt.Errorf("invalid self origin %q: must not have a path, query or fragment", origin)
	}
	return &url.URL{Scheme: u.Scheme, Host: u.Host}, nil
}
