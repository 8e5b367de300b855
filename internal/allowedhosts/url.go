package allowedhosts

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// OutboundURL is the normalized form of a destination a component wants to
// reach.
type OutboundURL struct {
	scheme   string
	host     string
	port     uint16
	hasPort  bool
	original string
}

// ParseURL normalizes candidate into an OutboundURL. If candidate cannot be
// parsed or has no host, "<fallbackScheme>://" is prepended and parsing is
// retried.
func ParseURL(candidate, fallbackScheme string) (OutboundURL, error) {
	raw := encodeUserinfo(candidate)

	parsed, firstErr := url.Parse(raw)
	if firstErr != nil || parsed.Host == "" {
		retried, err := url.Parse(fallbackScheme + "://" + raw)
		switch {
		case err == nil:
			parsed = retried
		case firstErr != nil:
			return OutboundURL{}, fmt.Errorf("could not parse %q as a url: %w", candidate, firstErr)
		default:
			return OutboundURL{}, fmt.Errorf("could not parse %q as a url: %w", candidate, err)
		}
	}

	host := parsed.Hostname()
	if host == "" {
		return OutboundURL{}, fmt.Errorf("%q does not have a host component", candidate)
	}

	out := OutboundURL{
		scheme:   strings.ToLower(parsed.Scheme),
		host:     canonicalURLHost(host),
		original: candidate,
	}
	if p := parsed.Port(); p != "" {
		port, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return OutboundURL{}, fmt.Errorf("%q has an invalid port: %w", candidate, err)
		}
		out.port, out.hasPort = uint16(port), true
	}
	return out, nil
}

// FromURL builds an OutboundURL from an already parsed absolute URL. The
// host and port are taken from u as net/url parsed them, so the result
// names the same destination a transport would dial for u.
func FromURL(u *url.URL) (OutboundURL, error) {
	if u == nil {
		return OutboundURL{}, errors.New("url is nil")
	}
	original := u.Redacted()
	if u.Scheme == "" {
		return OutboundURL{}, fmt.Errorf("%q does not have a scheme", original)
	}
	host := u.Hostname()
	if host == "" {
		return OutboundURL{}, fmt.Errorf("%q does not have a host component", original)
	}

	out := OutboundURL{
		scheme:   strings.ToLower(u.Scheme),
		host:     canonicalURLHost(host),
		original: original,
	}
	if p := u.Port(); p != "" {
		port, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return OutboundURL{}, fmt.Errorf("%q has an invalid port: %w", original, err)
		}
		out.port, out.hasPort = uint16(port), true
	}
	return out, nil
}

// encodeUserinfo percent-encodes a "user:password@" segment that appears
// before the first path separator so characters such as '#' in credentials
// do not start a fragment. The authority is only used for matching, so
// re-encoding already encoded input is harmless.
func encodeUserinfo(raw string) string {
	at := strings.IndexByte(raw, '@')
	if at < 0 {
		return raw
	}
	schemeEnd := 0
	if i := strings.Index(raw, "://"); i >= 0 {
		schemeEnd = i + 3
	}
	if at < schemeEnd {
		return raw
	}
	if slash := strings.IndexByte(raw[schemeEnd:], '/'); slash >= 0 && schemeEnd+slash < at {
		return raw
	}
	userinfo := raw[schemeEnd:at]
	encoded := strings.ReplaceAll(url.QueryEscape(userinfo), "+", "%20")
	return raw[:schemeEnd] + encoded + raw[at:]
}

// Scheme returns the lower-cased scheme.
func (u OutboundURL) Scheme() string { return u.scheme }

// Host returns the canonical lower-cased host without brackets.
func (u OutboundURL) Host() string { return u.host }

// Port returns the explicit port, if any.
func (u OutboundURL) Port() (uint16, bool) { return u.port, u.hasPort }

// Authority returns host[:port], bracketing IPv6 literals when a port is set.
func (u OutboundURL) Authority() string {
	if !u.hasPort {
		return u.host
	}
	return net.JoinHostPort(u.host, strconv.Itoa(int(u.port)))
}

// String returns the candidate as originally given.
func (u OutboundURL) String() string { return u.original }
