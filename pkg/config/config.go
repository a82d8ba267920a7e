// Package config holds the settings of the model server.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"k8s.io/examples/AI/modelpack/pkg/modelpack"
)

// Config is the model server configuration, usually read from a YAML file and
// then overridden by flags.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" validate:"required"`

	// Model is the package location: gs://, http(s):// or a local path.
	Model string `yaml:"model" validate:"required"`

	// CacheDir receives downloaded packages.
	CacheDir string `yaml:"cacheDir"`

	DownloadAttempts      int           `yaml:"downloadAttempts" validate:"gte=1,lte=100"`
	DownloadRetryInterval time.Duration `yaml:"downloadRetryInterval" validate:"gte=0"`

	// Tracing selects the span exporter.
	Tracing string `yaml:"tracing" validate:"oneof=none stdout"`

	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" validate:"gte=0"`

	Devices modelpack.DeviceMap `yaml:",inline"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Listen:                ":8080",
		DownloadAttempts:      5,
		DownloadRetryInterval: 5 * time.Second,
		Tracing:               "none",
		ShutdownTimeout:       10 * time.Second,
		Devices:               modelpack.DefaultDeviceMap(),
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration is complete.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Devices.Accelerator == "" {
		return fmt.Errorf("invalid configuration: accelerator must be set")
	}
	return nil
}

// LoadFile reads a YAML configuration on top of the defaults. It does not
// validate, so flags can still fill in missing values.
func LoadFile(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	c, err := Parse(b)
	if err != nil {
		return Config{}, fmt.Errorf("parsing config file %q: %w", path, err)
	}
	return c, nil
}

// Parse decodes YAML on top of the defaults. Unknown keys are rejected.
func Parse(b []byte) (Config, error) {
	c := Default()
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}
	return c, nil
}
