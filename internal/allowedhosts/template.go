package allowedhosts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrVariableNotFound is returned by resolvers that do not know a variable.
var ErrVariableNotFound = errors.New("variable not found")

// Resolver supplies values for template variables.
type Resolver interface {
	Resolve(ctx context.Context, name string) (string, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, name string) (string, error)

func (f ResolverFunc) Resolve(ctx context.Context, name string) (string, error) {
	return f(ctx, name)
}

// StaticResolver resolves variables from a fixed map.
type StaticResolver map[string]string

func (r StaticResolver) Resolve(_ context.Context, name string) (string, error) {
	v, ok := r[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrVariableNotFound, name)
	}
	return v, nil
}

// EnvResolver resolves variable "foo" from the environment variable
// Prefix + "FOO".
type EnvResolver struct {
	Prefix string
}

func (r EnvResolver) Resolve(_ context.Context, name string) (string, error) {
	key := r.Prefix + strings.ToUpper(name)
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", fmt.Errorf("%w: %q (env %s)", ErrVariableNotFound, name, key)
	}
	return v, nil
}

// ChainResolver tries each resolver in order and returns the first value
// found.
type ChainResolver []Resolver

func (c ChainResolver) Resolve(ctx context.Context, name string) (string, error) {
	for _, r := range c {
		v, err := r.Resolve(ctx, name)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrVariableNotFound) {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: %q", ErrVariableNotFound, name)
}

// Template is a string with "{{ variable }}" placeholders.
type Template struct {
	raw   string
	parts []templatePart
}

type templatePart struct {
	text     string
	variable bool
}

// ParseTemplate splits raw into literal text and variable references.
func ParseTemplate(raw string) (Template, error) {
	t := Template{raw: raw}
	rest := raw
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			if strings.Contains(rest, "}}") {
				return Template{}, parseErr(raw, ErrInvalidTemplate, "unmatched '}}'")
			}
			if rest != "" {
				t.parts = append(t.parts, templatePart{text: rest})
			}
			return t, nil
		}
		if strings.Contains(rest[:start], "}}") {
			return Template{}, parseErr(raw, ErrInvalidTemplate, "unmatched '}}'")
		}
		if start > 0 {
			t.parts = append(t.parts, templatePart{text: rest[:start]})
		}
		end := strings.Index(rest[start+2:], "}}")
		if end < 0 {
			return Template{}, parseErr(raw, ErrInvalidTemplate, "unterminated '{{'")
		}
		name := strings.TrimSpace(rest[start+2 : start+2+end])
		if !validVariableName(name) {
			return Template{}, parseErr(raw, ErrInvalidTemplate, "invalid variable name %q", name)
		}
		t.parts = append(t.parts, templatePart{text: name, variable: true})
		rest = rest[start+2+end+2:]
	}
}

// validVariableName accepts lower-case names: a letter followed by letters,
// digits and underscores.
func validVariableName(name string) bool {
	if name == "" {
		return false
	}
	for i, c := range name {
		switch {
		case c >= 'a' && c <= 'z':
		case i > 0 && (c >= '0' && c <= '9' || c == '_'):
		default:
			return false
		}
	}
	return true
}

// IsLiteral reports whether the template has no variables.
func (t Template) IsLiteral() bool {
	for _, p := range t.parts {
		if p.variable {
			return false
		}
	}
	return true
}

// Variables returns the referenced variable names in order.
func (t Template) Variables() []string {
	var names []string
	for _, p := range t.parts {
		if p.variable {
			names = append(names, p.text)
		}
	}
	return names
}

// Render substitutes every variable using resolver.
func (t Template) Render(ctx context.Context, resolver Resolver) (string, error) {
	var b strings.Builder
	for _, p := range t.parts {
		if !p.variable {
			b.WriteString(p.text)
			continue
		}
		if resolver == nil {
			return "", fmt.Errorf("template %q: %w: %q (no resolver)", t.raw, ErrVariableNotFound, p.text)
		}
		v, err := resolver.Resolve(ctx, p.text)
		if err != nil {
			return "", fmt.Errorf("template %q: %w", t.raw, err)
		}
		b.WriteString(v)
	}
	return b.String(), nil
}

func (t Template) String() string { return t.raw }
