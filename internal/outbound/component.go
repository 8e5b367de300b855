package outbound

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/okra-platform/egress/internal/allowedhosts"
)

// ServiceChain serves a request addressed to another component in process.
type ServiceChain func(target string, req *http.Request) (*http.Response, error)

// Component is the outbound wiring of a single component instance.
type Component struct {
	id         string
	instanceID uuid.UUID
	net        *Networking
	gate       *allowedhosts.Gate
	logger     zerolog.Logger
	onDenied   allowedhosts.DeniedHandler
	chain      ServiceChain
}

// ID returns the component id.
func (c *Component) ID() string { return c.id }

// InstanceID identifies this instance in logs.
func (c *Component) InstanceID() uuid.UUID { return c.instanceID }

// Gate returns the allow-list gate.
func (c *Component) Gate() *allowedhosts.Gate { return c.gate }

// CheckURL reports whether urlText is allowed, prefixing fallbackScheme when
// urlText has none.
func (c *Component) CheckURL(ctx context.Context, urlText, fallbackScheme string) bool {
	ctx, span := c.net.tracer.Start(ctx, "egress.check_url", trace.WithAttributes(
		attribute.String("component_id", c.id),
		attribute.String("url", urlText),
	))
	defer span.End()

	allowed := c.gate.CheckURL(ctx, urlText, fallbackScheme)
	span.SetAttributes(attribute.Bool("allowed", allowed))
	return allowed
}

// CheckRelative reports whether a self request using one of schemes is
// allowed.
func (c *Component) CheckRelative(ctx context.Context, schemes ...string) bool {
	ctx, span := c.net.tracer.Start(ctx, "egress.check_relative", trace.WithAttributes(
		attribute.String("component_id", c.id),
		attribute.StringSlice("schemes", schemes),
	))
	defer span.End()

	allowed := c.gate.CheckRelative(ctx, schemes...)
	span.SetAttributes(attribute.Bool("allowed", allowed))
	return allowed
}

// CheckRequest reports whether a request to u is allowed. Relative and
// self.alt URLs are self requests. Anything else is checked against the
// host and port net/url parsed out of u, which is what the transport dials.
func (c *Component) CheckRequest(ctx context.Context, u *url.URL) bool {
	if isSelfRequest(u) {
		return c.CheckRelative(ctx, "http", "https")
	}

	ctx, span := c.net.tracer.Start(ctx, "egress.check_request", trace.WithAttributes(
		attribute.String("component_id", c.id),
		attribute.String("url", u.Redacted()),
	))
	defer span.End()

	dest, err := allowedhosts.FromURL(u)
	if err != nil {
		c.logger.Warn().Err(err).Msg("component tried to make a request to a url that could not be parsed")
		span.SetAttributes(attribute.Bool("allowed", false))
		return false
	}
	allowed := c.gate.Check(ctx, dest)
	span.SetAttributes(attribute.Bool("allowed", allowed))
	return allowed
}

func isSelfRequest(u *url.URL) bool {
	return u.Host == "" || u.Hostname() == "self.alt"
}

// TLSConfig returns the client TLS configuration for host under the
// current state.
func (c *Component) TLSConfig(host string) *tls.Config {
	return c.net.State().TLS.Get(c.id, host).ClientConfig(host)
}

// ResolveAddrs resolves host and drops blocked addresses. It fails with
// ErrDestinationIPProhibited when nothing is left.
func (c *Component) ResolveAddrs(ctx context.Context, host string) ([]netip.Addr, error) {
	var addrs []netip.Addr
	if addr, err := netip.ParseAddr(host); err == nil {
		addrs = []netip.Addr{addr}
	} else {
		addrs, err = c.net.resolver.LookupNetIP(ctx, "ip", host)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", host, err)
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("resolving %s: %w", host, ErrNoAddresses)
	}

	allowed, blocked := c.net.State().Blocked.PartitionAddrs(addrs)
	if len(blocked) > 0 {
		c.net.blocked.Add(ctx, int64(len(blocked)), metric.WithAttributes(attribute.String("component_id", c.id)))
		c.logger.Debug().Str("host", host).Int("blocked", len(blocked)).Int("allowed", len(allowed)).
			Msg("discarded blocked addresses")
	}
	if len(allowed) == 0 {
		c.logger.Warn().Str("host", host).Msg("all resolved addresses are in blocked networks")
		return nil, fmt.Errorf("%s: %w", host, ErrDestinationIPProhibited)
	}
	return allowed, nil
}

// DialContext connects to address after filtering its resolved addresses
// through the blocked networks. Addresses are tried in order.
func (c *Component) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, portText, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	port, err := strconv.ParseUint(portText, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid port in %q: %w", address, err)
	}

	addrs, err := c.ResolveAddrs(ctx, host)
	if err != nil {
		return nil, err
	}

	var errs []error
	for _, addr := range addrs {
		target := netip.AddrPortFrom(addr, uint16(port))
		conn, err := c.net.dialer.DialContext(ctx, network, target.String())
		if err == nil {
			return conn, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(errs...)
}

// DialTLSContext dials like DialContext and performs a TLS handshake using
// the identity selected for the host.
func (c *Component) DialTLSContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	raw, err := c.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	conn := tls.Client(raw, c.TLSConfig(host))
	if err := conn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, err
	}
	return conn, nil
}

// Transport returns an http.RoundTripper enforcing the allow-list, blocked
// networks and TLS identities of this component.
func (c *Component) Transport() http.RoundTripper {
	return &roundTripper{
		component: c,
		base: &http.Transport{
			DialContext:         c.DialContext,
			DialTLSContext:      c.DialTLSContext,
			MaxIdleConnsPerHost: 4,
		},
	}
}

// HTTPClient returns a client using Transport.
func (c *Component) HTTPClient() *http.Client {
	return &http.Client{Transport: c.Transport()}
}

type roundTripper struct {
	component *Component
	base      http.RoundTripper
}

// CloseIdleConnections closes pooled connections of the underlying transport.
func (rt *roundTripper) CloseIdleConnections() {
	if t, ok := rt.base.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	c := rt.component
	ctx, span := c.net.tracer.Start(req.Context(), "egress.request", trace.WithAttributes(
		attribute.String("component_id", c.id),
		attribute.String("http.method", req.Method),
	))
	defer span.End()
	req = req.WithContext(ctx)

	resp, err := rt.roundTrip(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return resp, err
}

func (rt *roundTripper) roundTrip(req *http.Request) (*http.Response, error) {
	c := rt.component
	ctx := req.Context()

	if isSelfRequest(req.URL) {
		if !c.CheckRequest(ctx, req.URL) {
			return nil, fmt.Errorf("%w: self", ErrRequestDenied)
		}
		origin := c.net.State().SelfOrigin
		if origin == nil {
			return nil, ErrSelfOriginUnset
		}
		out := req.Clone(ctx)
		out.URL.Scheme = origin.Scheme
		out.URL.Host = origin.Host
		out.Host = origin.Host
		return rt.base.RoundTrip(out)
	}

	if !c.CheckRequest(ctx, req.URL) {
		return nil, fmt.Errorf("%w: %s", ErrRequestDenied, req.URL.Host)
	}
	if target, ok := allowedhosts.ParseServiceChainingTarget(req.URL); ok && c.chain != nil {
		c.logger.Debug().Str("target", target).Msg("routing request in process")
		return c.chain(target, req)
	}
	return rt.base.RoundTrip(req)
}
