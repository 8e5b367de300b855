// Package commands contains the CLI commands for the application
package commands

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/okra-platform/egress/internal/config"
)

// ErrDenied is returned by Check when at least one destination is denied.
var ErrDenied = errors.New("destinations denied")

type Flags struct {
	LogLevel   string
	ConfigPath string
}

// ConfigLoader loads the runtime configuration. An empty path searches the
// current directory and its parents.
type ConfigLoader interface {
	LoadConfig(path string) (*config.Config, string, error)
}

// Output receives command results
type Output interface {
	Printf(format string, a ...any)
	Println(a ...any)
}

type Controller struct {
	Flags  *Flags
	Loader ConfigLoader
	Out    Output
	Logger zerolog.Logger
}

// NewController creates a controller printing to stdout
func NewController(flags *Flags, logger zerolog.Logger) *Controller {
	return &Controller{
		Flags:  flags,
		Loader: defaultConfigLoader{},
		Out:    NewWriterOutput(os.Stdout),
		Logger: logger,
	}
}

type defaultConfigLoader struct{}

func (defaultConfigLoader) LoadConfig(path string) (*config.Config, string, error) {
	if path != "" {
		cfg, err := config.LoadConfigFromPath(path)
		return cfg, path, err
	}
	cfg, dir, err := config.LoadConfig()
	if err != nil {
		return nil, "", err
	}
	return cfg, dir + string(os.PathSeparator) + config.FileName, nil
}

type writerOutput struct {
	w io.Writer
}

// NewWriterOutput returns an Output writing to w
func NewWriterOutput(w io.Writer) Output {
	return writerOutput{w: w}
}

func (o writerOutput) Printf(format string, a ...any) { fmt.Fprintf(o.w, format, a...) }
func (o writerOutput) Println(a ...any)               { fmt.Fprintln(o.w, a...) }

// loadConfig loads and validates the configuration, returning the path it
// was read from.
func (c *Controller) loadConfig() (*config.Config, string, error) {
	path := ""
	if c.Flags != nil {
		path = c.Flags.ConfigPath
	}
	cfg, path, err := c.Loader.LoadConfig(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, path, nil
}
