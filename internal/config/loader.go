package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/justynbrt/ghoo/internal/core"
)

// DefaultFileName is looked up in the working directory when no --config
// path is given.
const DefaultFileName = "ghoo.yaml"

// Loader reads and validates ghoo.yaml.
type Loader struct {
	path string
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithConfigFile sets an explicit config file path.
func WithConfigFile(path string) LoaderOption {
	return func(l *Loader) {
		if path != "" {
			l.path = path
		}
	}
}

// NewLoader creates a config loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{path: DefaultFileName}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path returns the file path the loader reads.
func (l *Loader) Path() string { return l.path }

// Load reads, decodes and validates the configuration. Unknown keys and
// type mismatches are reported with the file position yaml attaches.
func (l *Loader) Load() (*Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, core.ErrValidation(core.CodeConfigMissing,
				fmt.Sprintf("config file %s not found; create it with a project_url field or pass --config", l.path))
		}
		return nil, core.ErrValidation(core.CodeConfigInvalid,
			fmt.Sprintf("cannot read config file %s", l.path)).WithCause(err)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		// io.EOF means an empty file; validation then reports the
		// missing project_url.
		return nil, core.ErrValidation(core.CodeConfigInvalid,
			fmt.Sprintf("%s is not valid ghoo configuration", l.path)).WithCause(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
