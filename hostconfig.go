package apphost

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// HostConfig holds the orchestrator's own settings, distinct from the app
// documents it watches. It is loaded once at startup from a TOML or YAML
// file, or assembled programmatically.
type HostConfig struct {
	// AppDir is the root of the watched directory tree.
	AppDir string `toml:"app_dir" yaml:"app_dir"`

	// ModuleExt is the file extension identifying loadable code modules.
	ModuleExt string `toml:"module_ext" yaml:"module_ext"`

	// ExcludeDirs names directories pruned from every walk.
	ExcludeDirs []string `toml:"exclude_dirs" yaml:"exclude_dirs"`

	// CheckSchedule is the cron expression driving periodic reconciliation.
	CheckSchedule string `toml:"check_schedule" yaml:"check_schedule"`

	// Watch enables the filesystem watcher that triggers reconciliation on
	// file events, in addition to the periodic schedule.
	Watch bool `toml:"watch" yaml:"watch"`

	// AutoPin grows the worker pool to match the configured app count.
	AutoPin bool `toml:"auto_pin" yaml:"auto_pin"`

	// InvalidConfigWarnings controls warnings about document entries that
	// fail validation. Nil means enabled; only an explicit false in the
	// document or a caller-set pointer suppresses them.
	InvalidConfigWarnings *bool `toml:"invalid_config_warnings" yaml:"invalid_config_warnings"`

	// AdminAddr is the listen address of the admin introspection API.
	// Empty disables the admin server.
	AdminAddr string `toml:"admin_addr" yaml:"admin_addr"`
}

// DefaultHostConfig returns the defaults applied to unset fields.
func DefaultHostConfig() HostConfig {
	warn := true
	return HostConfig{
		ModuleExt:             ".so",
		CheckSchedule:         "@every 1s",
		InvalidConfigWarnings: &warn,
	}
}

// applyDefaults fills unset fields in place.
func (c *HostConfig) applyDefaults() {
	def := DefaultHostConfig()
	if c.ModuleExt == "" {
		c.ModuleExt = def.ModuleExt
	}
	if c.CheckSchedule == "" {
		c.CheckSchedule = def.CheckSchedule
	}
	if c.InvalidConfigWarnings == nil {
		c.InvalidConfigWarnings = def.InvalidConfigWarnings
	}
}

// WarnInvalidConfig reports whether invalid-entry warnings are active.
func (c *HostConfig) WarnInvalidConfig() bool {
	return c.InvalidConfigWarnings == nil || *c.InvalidConfigWarnings
}

// Validate checks the configuration for structural problems.
func (c *HostConfig) Validate() error {
	if c.AppDir == "" {
		return fmt.Errorf("%w: app_dir is required", ErrHostConfigInvalid)
	}
	if !strings.HasPrefix(c.ModuleExt, ".") {
		return fmt.Errorf("%w: module_ext must start with '.'", ErrHostConfigInvalid)
	}
	return nil
}

// LoadHostConfig reads a host configuration file, chooses the parser by
// extension, applies defaults, and validates the result.
func LoadHostConfig(path string) (HostConfig, error) {
	var cfg HostConfig

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading host config %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("%w: parsing %s: %w", ErrHostConfigInvalid, path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("%w: parsing %s: %w", ErrHostConfigInvalid, path, err)
		}
	default:
		return cfg, fmt.Errorf("%w: unsupported host config format %s", ErrHostConfigInvalid, path)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
