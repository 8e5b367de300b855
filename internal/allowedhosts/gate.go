package allowedhosts

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Source produces a component's policy. A Gate calls it at most once.
type Source func(ctx context.Context) (Policy, error)

// StaticSource returns a source that always yields policy.
func StaticSource(policy Policy) Source {
	return func(context.Context) (Policy, error) { return policy, nil }
}

// DeniedHandler is notified of every denied request. Authority is "self"
// for relative requests.
type DeniedHandler func(scheme, authority string)

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithDeniedHandler sets the handler called on denials.
func WithDeniedHandler(h DeniedHandler) GateOption {
	return func(g *Gate) { g.onDenied = h }
}

// WithLogger sets the gate logger.
func WithLogger(logger zerolog.Logger) GateOption {
	return func(g *Gate) { g.logger = logger }
}

// Gate answers allow/deny questions for one component instance. The policy
// is resolved lazily on the first check and the outcome, success or failure,
// is kept for the lifetime of the gate.
type Gate struct {
	source   Source
	onDenied DeniedHandler
	logger   zerolog.Logger

	group singleflight.Group

	mu       sync.Mutex
	resolved bool
	policy   Policy
	err      error
}

// NewGate creates a gate over source.
func NewGate(source Source, opts ...GateOption) *Gate {
	g := &Gate{
		source: source,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With().Str("component", "allowedhosts").Logger()
	return g
}

// CheckURL reports whether urlText may be reached. Text that cannot be
// parsed, even after prefixing fallbackScheme, is denied.
func (g *Gate) CheckURL(ctx context.Context, urlText, fallbackScheme string) bool {
	g.logger.Debug().Str("url", urlText).Msg("checking outbound networking request")

	u, err := ParseURL(urlText, fallbackScheme)
	if err != nil {
		g.logger.Warn().Err(err).Str("url", urlText).
			Msg("component tried to make a request to a url that could not be parsed")
		return false
	}
	return g.Check(ctx, u)
}

// Check reports whether the normalized destination u may be reached.
func (g *Gate) Check(ctx context.Context, u OutboundURL) bool {
	policy, err := g.resolve(ctx)
	if err != nil {
		g.deny(u.Scheme(), u.Authority())
		return false
	}
	if !policy.Allows(u) {
		g.logger.Debug().Str("url", u.String()).Msg("disallowed outbound networking request")
		g.deny(u.Scheme(), u.Authority())
		return false
	}
	return true
}

// CheckRelative reports whether a request back into the application using
// one of schemes may be made.
func (g *Gate) CheckRelative(ctx context.Context, schemes ...string) bool {
	g.logger.Debug().Strs("schemes", schemes).Msg("checking relative outbound networking request")

	scheme := ""
	if len(schemes) > 0 {
		scheme = schemes[0]
	}

	policy, err := g.resolve(ctx)
	if err != nil {
		g.deny(scheme, "self")
		return false
	}
	if !policy.AllowsRelative(schemes...) {
		g.logger.Debug().Strs("schemes", schemes).Msg("disallowed relative outbound networking request")
		g.deny(scheme, "self")
		return false
	}
	return true
}

// Policy returns the resolved policy, resolving it if necessary.
func (g *Gate) Policy(ctx context.Context) (Policy, error) {
	return g.resolve(ctx)
}

func (g *Gate) cached() (Policy, error, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.policy, g.err, g.resolved
}

func (g *Gate) store(policy Policy, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.policy, g.err, g.resolved = policy, err, true
}

func (g *Gate) resolve(ctx context.Context) (Policy, error) {
	if policy, err, ok := g.cached(); ok {
		return policy, err
	}

	// Detached so one caller giving up does not fail resolution for the rest.
	detached := context.WithoutCancel(ctx)
	ch := g.group.DoChan("policy", func() (any, error) {
		if policy, err, ok := g.cached(); ok {
			return policy, err
		}
		policy, err := g.runSource(detached)
		if err != nil {
			g.logger.Error().Err(err).Msg("failed to resolve allowed outbound hosts; all outbound requests will be denied")
		}
		g.store(policy, err)
		return policy, err
	})

	select {
	case <-ctx.Done():
		return Policy{}, ctx.Err()
	case res := <-ch:
		policy, _ := res.Val.(Policy)
		return policy, res.Err
	}
}

func (g *Gate) runSource(ctx context.Context) (policy Policy, err error) {
	defer func() {
		if r := recover(); r != nil {
			policy, err = Policy{}, fmt.Errorf("policy source panicked: %v", r)
		}
	}()
	if g.source == nil {
		return Policy{}, nil
	}
	return g.source(ctx)
}

func (g *Gate) deny(scheme, authority string) {
	if g.onDenied == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error().Interface("panic", r).Str("scheme", scheme).Str("authority", authority).
				Msg("denied host handler panicked")
		}
	}()
	g.onDenied(scheme, authority)
}
