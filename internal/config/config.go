package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/okra-platform/egress/internal/allowedhosts"
)

// FileName is the runtime configuration file looked up by LoadConfig.
const FileName = "egress.yaml"

// DefaultVariablePrefix is prepended to upper-cased variable names when
// looking them up in the environment.
const DefaultVariablePrefix = "EGRESS_VARIABLE_"

// Config represents the egress.yaml runtime configuration file
type Config struct {
	OutboundNetworking OutboundNetworkingConfig   `yaml:"outbound_networking"`
	ClientTLS          []ClientTLSConfig          `yaml:"client_tls"`
	Variables          map[string]string          `yaml:"variables"`
	Components         map[string]ComponentConfig `yaml:"components"`

	// directory relative file paths are resolved against
	dir string
}

// OutboundNetworkingConfig contains process-wide egress settings
type OutboundNetworkingConfig struct {
	// CIDR literals or the keyword "private"
	BlockNetworks []string `yaml:"block_networks"`
	// Origin that relative ("self") requests are sent to, e.g. http://127.0.0.1:3000
	SelfOrigin string `yaml:"self_origin"`
}

// ClientTLSConfig is one client_tls entry
type ClientTLSConfig struct {
	ComponentIDs         []string `yaml:"component_ids"`
	Hosts                []string `yaml:"hosts"`
	CAUseSystemRoots     *bool    `yaml:"ca_use_system_roots"`
	CARootsFile          string   `yaml:"ca_roots_file"`
	ClientCertFile       string   `yaml:"client_cert_file"`
	ClientPrivateKeyFile string   `yaml:"client_private_key_file"`
}

// UseSystemRoots defaults to true unless explicit roots are configured.
func (c ClientTLSConfig) UseSystemRoots() bool {
	if c.CAUseSystemRoots != nil {
		return *c.CAUseSystemRoots
	}
	return c.CARootsFile == ""
}

// ComponentConfig holds the outbound settings of one component
type ComponentConfig struct {
	AllowedOutboundHosts []string `yaml:"allowed_outbound_hosts"`
	// Host APIs the component's guests may import, as "name" or
	// "name@version". Empty grants the outbound networking API only.
	HostAPIs []string `yaml:"host_apis"`
}

// LoadConfig loads egress.yaml from the current directory or a parent directory
func LoadConfig() (*Config, string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return nil, "", fmt.Errorf("failed to get current directory: %w", err)
	}

	return loadConfigFromDir(dir)
}

// LoadConfigFromPath loads the configuration from a specific path
func LoadConfigFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config, err := Parse(data)
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}
	config.dir = filepath.Dir(abs)
	return config, nil
}

// Parse decodes configuration from YAML. Unknown fields are rejected.
func Parse(data []byte) (*Config, error) {
	var config Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults
	if config.Variables == nil {
		config.Variables = map[string]string{}
	}
	if config.Components == nil {
		config.Components = map[string]ComponentConfig{}
	}
	if config.dir == "" {
		config.dir = "."
	}
	return &config, nil
}

// loadConfigFromDir searches for egress.yaml in the given directory and its parents
func loadConfigFromDir(startDir string) (*Config, string, error) {
	dir := startDir
	for {
		configPath := filepath.Join(dir, FileName)
		if _, err := os.Stat(configPath); err == nil {
			config, err := LoadConfigFromPath(configPath)
			if err != nil {
				return nil, "", err
			}
			return config, dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root directory
			break
		}
		dir = parent
	}

	return nil, "", fmt.Errorf("no %s found in %s or any parent directory", FileName, startDir)
}

// Dir returns the directory relative paths are resolved against.
func (c *Config) Dir() string { return c.dir }

// Path resolves p against the configuration directory.
func (c *Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.dir, p)
}

// ComponentIDs returns the configured component ids in sorted order.
func (c *Config) ComponentIDs() []string {
	ids := make([]string, 0, len(c.Components))
	for id := range c.Components {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HostList parses the allow-list of a component. Unknown components get an
// empty list, which denies everything.
func (c *Config) HostList(componentID string) (allowedhosts.HostList, error) {
	component, ok := c.Components[componentID]
	if !ok {
		return allowedhosts.HostList{}, nil
	}
	list, err := allowedhosts.ParseHostList(component.AllowedOutboundHosts)
	if err != nil {
		return allowedhosts.HostList{}, fmt.Errorf("component %q: %w", componentID, err)
	}
	return list, nil
}

// Resolver resolves template variables from the environment first, then
// from the variables section.
func (c *Config) Resolver() allowedhosts.Resolver {
	return allowedhosts.ChainResolver{
		allowedhosts.EnvResolver{Prefix: DefaultVariablePrefix},
		allowedhosts.StaticResolver(c.Variables),
	}
}

// AllowedHosts returns every component's raw allow-list.
func (c *Config) AllowedHosts() map[string][]string {
	out := make(map[string][]string, len(c.Components))
	for id, component := range c.Components {
		out[id] = slices.Clone(component.AllowedOutboundHosts)
	}
	return out
}
