package apphost

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// AppConfig is the merged app configuration assembled from every document
// under the app directory. It is replaced wholesale when any document
// changes; partial application is never allowed.
type AppConfig struct {
	// Apps maps app name to its definition.
	Apps map[string]*AppDefinition

	// GlobalModules lists shared library modules declared via the reserved
	// global_modules entry.
	GlobalModules []string
}

// NewAppConfig returns an empty configuration.
func NewAppConfig() *AppConfig {
	return &AppConfig{Apps: make(map[string]*AppDefinition)}
}

// Names returns all configured app names in sorted order. The sorted order
// doubles as the deterministic input order for the dependency graph.
func (c *AppConfig) Names() []string {
	names := make([]string, 0, len(c.Apps))
	for name := range c.Apps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AppsForModule returns the apps whose module field matches the given module
// name. The reserved global_modules entry is never an app.
func (c *AppConfig) AppsForModule(module string) []string {
	var apps []string
	for _, name := range c.Names() {
		if c.Apps[name].Module == module {
			apps = append(apps, name)
		}
	}
	return apps
}

// AppsForGlobalModule returns the apps declaring a global dependency on the
// given shared module.
func (c *AppConfig) AppsForGlobalModule(module string) []string {
	var apps []string
	for _, name := range c.Names() {
		if c.Apps[name].DependsOnGlobal(module) {
			apps = append(apps, name)
		}
	}
	return apps
}

// IsGlobalModule reports whether the named module is declared shared.
func (c *AppConfig) IsGlobalModule(module string) bool {
	for _, gm := range c.GlobalModules {
		if gm == module {
			return true
		}
	}
	return false
}

// ConfigDiff is the result of comparing two merged configurations.
type ConfigDiff struct {
	// Changed lists apps present in both configurations whose parsed bodies
	// are not structurally equal.
	Changed []string

	// Added lists apps present only in the new configuration.
	Added []string

	// Removed lists apps present only in the old configuration. Removed apps
	// are terminated immediately, without dependency ordering: their
	// definition is gone, so an ordering cannot be computed against it.
	Removed []string
}

// Empty reports whether the diff contains no changes.
func (d *ConfigDiff) Empty() bool {
	return len(d.Changed) == 0 && len(d.Added) == 0 && len(d.Removed) == 0
}

// ConfigStore holds the last-applied merged app configuration, reads fresh
// configurations from the app directory, and computes diffs between them.
type ConfigStore struct {
	appDir          string
	excludeDirs     map[string]struct{}
	invalidWarnings bool
	logger          Logger

	current *AppConfig
}

// NewConfigStore creates a store reading documents under appDir.
// Directory names in excludeDirs are pruned from the walk. When
// invalidWarnings is false, warnings about entries missing module/class
// fields are suppressed.
func NewConfigStore(appDir string, excludeDirs []string, invalidWarnings bool, logger Logger) *ConfigStore {
	excluded := make(map[string]struct{}, len(excludeDirs))
	for _, dir := range excludeDirs {
		excluded[dir] = struct{}{}
	}
	return &ConfigStore{
		appDir:          appDir,
		excludeDirs:     excluded,
		invalidWarnings: invalidWarnings,
		logger:          logger,
		current:         NewAppConfig(),
	}
}

// Current returns the last-applied configuration.
func (s *ConfigStore) Current() *AppConfig {
	return s.current
}

// Apply commits a freshly read configuration as the current one.
func (s *ConfigStore) Apply(cfg *AppConfig) {
	if cfg == nil {
		cfg = NewAppConfig()
	}
	s.current = cfg
}

// Read walks the app directory, parses every configuration document, and
// merges the valid entries into a single AppConfig. Any parse failure aborts
// the read with ErrConfigRead; the store's current configuration is left
// untouched so the cycle can fail closed.
func (s *ConfigStore) Read() (*AppConfig, error) {
	cfg := NewAppConfig()

	err := filepath.WalkDir(s.appDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if s.skipDir(d.Name(), path) {
				return filepath.SkipDir
			}
			return nil
		}
		if !isConfigDocument(path) {
			return nil
		}
		s.logger.Debug("Reading app document", "path", path)
		doc, err := readDocument(path)
		if err != nil {
			return err
		}
		s.mergeDocument(cfg, path, doc)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigRead, err)
	}

	return cfg, nil
}

// Diff compares two merged configurations entry by entry. Two entries are
// "changed" when their full parsed bodies differ structurally.
func (s *ConfigStore) Diff(oldCfg, newCfg *AppConfig) *ConfigDiff {
	diff := &ConfigDiff{}

	for _, name := range oldCfg.Names() {
		newDef, ok := newCfg.Apps[name]
		if !ok {
			diff.Removed = append(diff.Removed, name)
			continue
		}
		if !reflect.DeepEqual(oldCfg.Apps[name].raw, newDef.raw) {
			diff.Changed = append(diff.Changed, name)
		}
	}

	for _, name := range newCfg.Names() {
		if _, ok := oldCfg.Apps[name]; !ok {
			diff.Added = append(diff.Added, name)
		}
	}

	return diff
}

// mergeDocument folds one parsed document into the merged configuration.
// Entries missing both module and class are dropped with a warning (unless
// suppressed); duplicate names across documents keep the first occurrence.
func (s *ConfigStore) mergeDocument(cfg *AppConfig, path string, doc map[string]any) {
	for _, name := range sortedKeys(doc) {
		body := doc[name]
		if body == nil {
			continue
		}

		if name == GlobalModulesKey {
			globals, err := stringOrList(body)
			if err != nil {
				s.logger.Warn("Invalid global_modules entry - ignoring", "path", path, "error", err)
				continue
			}
			cfg.GlobalModules = append(cfg.GlobalModules, globals...)
			continue
		}

		bodyMap, ok := body.(map[string]any)
		if !ok {
			if s.invalidWarnings {
				s.logger.Warn("App entry has invalid structure - ignoring", "app", name, "path", path)
			}
			continue
		}

		if _, hasModule := bodyMap["module"]; !hasModule {
			if s.invalidWarnings {
				s.logger.Warn("App missing 'class' or 'module' entry - ignoring", "app", name, "path", path)
			}
			continue
		}
		if _, hasClass := bodyMap["class"]; !hasClass {
			if s.invalidWarnings {
				s.logger.Warn("App missing 'class' or 'module' entry - ignoring", "app", name, "path", path)
			}
			continue
		}

		if _, exists := cfg.Apps[name]; exists {
			s.logger.Warn("Duplicate app - ignoring later occurrence", "app", name, "path", path)
			continue
		}

		def, err := decodeDefinition(name, bodyMap)
		if err != nil {
			if s.invalidWarnings {
				s.logger.Warn("App entry failed to decode - ignoring", "app", name, "path", path, "error", err)
			}
			continue
		}
		cfg.Apps[name] = def
	}
}

func (s *ConfigStore) skipDir(name, path string) bool {
	if path == s.appDir {
		return false
	}
	if _, excluded := s.excludeDirs[name]; excluded {
		return true
	}
	return isArtifactDir(name)
}

// isArtifactDir matches cache and build output directories that never hold
// app documents or loadable modules.
func isArtifactDir(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	switch name {
	case "__pycache__", "node_modules", "testdata":
		return true
	}
	return false
}

func isConfigDocument(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".toml":
		return true
	}
	return false
}

// readDocument parses a single configuration document by extension.
func readDocument(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	doc := make(map[string]any)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	return normalizeDocument(doc), nil
}

// normalizeDocument rewrites nested maps so both YAML and TOML parses
// produce map[string]any bodies, keeping structural diffs format-agnostic.
func normalizeDocument(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return normalizeDocument(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	default:
		return v
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
