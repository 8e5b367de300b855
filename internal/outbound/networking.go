package outbound

import (
	"context"
	"net"
	"net/netip"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/okra-platform/egress/internal/allowedhosts"
)

const instrumentationName = "github.com/okra-platform/egress/internal/outbound"

// NameResolver looks up the addresses of a host. *net.Resolver satisfies it.
type NameResolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Networking owns the current State and hands out per-component wiring.
type Networking struct {
	state    atomic.Pointer[State]
	logger   zerolog.Logger
	tracer   trace.Tracer
	resolver NameResolver
	dialer   *net.Dialer

	denied  metric.Int64Counter
	blocked metric.Int64Counter
}

// Option configures Networking
type Option func(*Networking)

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(n *Networking) { n.logger = logger }
}

// WithTracerProvider sets the tracer provider used for request spans
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(n *Networking) { n.tracer = tp.Tracer(instrumentationName) }
}

// WithMeterProvider sets the meter provider used for counters
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(n *Networking) { n.createInstruments(mp.Meter(instrumentationName)) }
}

// WithNameResolver overrides DNS resolution
func WithNameResolver(r NameResolver) Option {
	return func(n *Networking) { n.resolver = r }
}

// WithDialer overrides the dialer used for connections
func WithDialer(d *net.Dialer) Option {
	return func(n *Networking) { n.dialer = d }
}

// New creates Networking around an initial state. A nil state blocks
// nothing and uses default TLS identities.
func New(state *State, opts ...Option) *Networking {
	n := &Networking{
		logger:   zerolog.Nop(),
		tracer:   tracenoop.NewTracerProvider().Tracer(instrumentationName),
		resolver: net.DefaultResolver,
		dialer:   &net.Dialer{},
	}
	n.createInstruments(metricnoop.NewMeterProvider().Meter(instrumentationName))
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.With().Str("component", "outbound").Logger()
	if state == nil {
		state = &State{}
	}
	n.state.Store(state)
	return n
}

func (n *Networking) createInstruments(meter metric.Meter) {
	n.denied, _ = meter.Int64Counter("egress_requests_denied",
		metric.WithDescription("Outbound requests rejected by the allow-list"))
	n.blocked, _ = meter.Int64Counter("egress_addresses_blocked",
		metric.WithDescription("Resolved addresses discarded by blocked networks"))
}

// State returns the current state.
func (n *Networking) State() *State {
	return n.state.Load()
}

// Swap installs state and returns the previous one. Requests already in
// flight keep using the state they started with.
func (n *Networking) Swap(state *State) *State {
	if state == nil {
		state = &State{}
	}
	old := n.state.Swap(state)
	n.logger.Info().
		Bool("block_private", state.Blocked.BlocksPrivate()).
		Int("blocked_networks", len(state.Blocked.Networks())).
		Msg("outbound networking state updated")
	return old
}

// PrepareOption configures a Component
type PrepareOption func(*Component)

// WithDeniedHandler is called, in addition to logging and metrics, for
// every request the allow-list rejects.
func WithDeniedHandler(h allowedhosts.DeniedHandler) PrepareOption {
	return func(c *Component) { c.onDenied = h }
}

// WithServiceChain routes requests to "<id>.spin.internal" through fn
// instead of the network.
func WithServiceChain(fn ServiceChain) PrepareOption {
	return func(c *Component) { c.chain = fn }
}

// Prepare builds the outbound wiring of one component instance. The
// allow-list is resolved lazily on the first check.
func (n *Networking) Prepare(componentID string, hosts allowedhosts.HostList, resolver allowedhosts.Resolver, opts ...PrepareOption) *Component {
	c := &Component{
		id:         componentID,
		instanceID: uuid.New(),
		net:        n,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = n.logger.With().
		Str("component_id", componentID).
		Str("instance_id", c.instanceID.String()).
		Logger()
	c.gate = allowedhosts.NewGate(hosts.Source(resolver),
		allowedhosts.WithLogger(c.logger),
		allowedhosts.WithDeniedHandler(c.reportDenied),
	)
	return c
}

func (c *Component) reportDenied(scheme, authority string) {
	c.net.denied.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("component_id", c.id),
		attribute.String("scheme", scheme),
	))
	c.logger.Info().Str("scheme", scheme).Str("authority", authority).
		Msgf("outbound request to %s://%s denied; add it to allowed_outbound_hosts to permit it", scheme, authority)
	if c.onDenied != nil {
		c.onDenied(scheme, authority)
	}
}
