package allowedhosts

import (
	"errors"
	"fmt"
)

// Pattern rule violations. A *ParseError wraps exactly one of these.
var (
	ErrInsecureAllowAll = errors.New("'insecure:allow-all' is not allowed - use '*://*:*' instead if you really want to allow all outbound traffic")
	ErrMissingScheme    = errors.New("does not contain a scheme")
	ErrSchemeList       = errors.New("scheme lists are not supported")
	ErrInvalidScheme    = errors.New("invalid scheme")
	ErrHostList         = errors.New("host lists are not yet supported")
	ErrPathNotAllowed   = errors.New("hosts must not contain paths")
	ErrInvalidWildcard  = errors.New("invalid wildcard")
	ErrInvalidHost      = errors.New("invalid host")
	ErrPortList         = errors.New("port lists are not yet supported")
	ErrInvalidPort      = errors.New("invalid port")
	ErrNoDefaultPort    = errors.New("no default port for scheme")
	ErrInvalidTemplate  = errors.New("invalid template")
)

// ParseError reports an allow-list entry that could not be parsed.
type ParseError struct {
	Input  string // the offending entry as written
	Err    error  // the rule that was violated
	Detail string // human readable hint
}

func (e *ParseError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%q: %v: %s", e.Input, e.Err, e.Detail)
	}
	return fmt.Sprintf("%q: %v", e.Input, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func parseErr(input string, err error, detail string, args ...any) *ParseError {
	if len(args) > 0 {
		detail = fmt.Sprintf(detail, args...)
	}
	return &ParseError{Input: input, Err: err, Detail: detail}
}
