package apphost

import "sort"

// PluginSignal identifies an external integration that restarted. The zero
// value means no signal; PluginAll is the wildcard covering every plugin.
type PluginSignal string

// Plugin-restart signal values.
const (
	NoPluginSignal PluginSignal = ""
	PluginAll      PluginSignal = "__ALL__"
)

// ReconciliationPlan is the output of one planning pass: the apps to take
// down, the apps to bring up, and the total configured app count. Plans are
// recomputed every cycle and never persisted.
type ReconciliationPlan struct {
	// Remove lists apps whose configuration entry was deleted. They are
	// terminated immediately and unordered: with the definition gone, a
	// dependency ordering cannot be computed against it.
	Remove []string

	// Terminate is the set of apps to stop, ordered later by descending
	// priority so dependents stop before their dependencies.
	Terminate map[string]struct{}

	// Initialize is the set of apps to construct and initialize, ordered
	// later by ascending priority.
	Initialize map[string]struct{}

	// Modules lists the module files to load or reload this cycle.
	Modules []ModuleRecord

	// TotalApps is the number of currently configured apps.
	TotalApps int
}

// Empty reports whether the plan contains no work.
func (p *ReconciliationPlan) Empty() bool {
	return len(p.Remove) == 0 && len(p.Terminate) == 0 && len(p.Initialize) == 0 && len(p.Modules) == 0
}

// TerminateNames returns the terminate set as a sorted slice.
func (p *ReconciliationPlan) TerminateNames() []string {
	return sortedSet(p.Terminate)
}

// InitializeNames returns the initialize set as a sorted slice.
func (p *ReconciliationPlan) InitializeNames() []string {
	return sortedSet(p.Initialize)
}

// Planner combines config-diff output, module scan results, and optional
// plugin-restart signals into a ReconciliationPlan for the cycle.
type Planner struct {
	logger Logger
}

// NewPlanner creates a planner.
func NewPlanner(logger Logger) *Planner {
	return &Planner{logger: logger}
}

// Plan derives the terminate and initialize sets. cfg is the freshly applied
// full configuration; diff describes how it differs from the previous one;
// scan reports module file changes; plugin carries an optional restart
// signal.
func (p *Planner) Plan(cfg *AppConfig, diff *ConfigDiff, scan *ModuleScan, plugin PluginSignal) *ReconciliationPlan {
	plan := &ReconciliationPlan{
		Terminate:  make(map[string]struct{}),
		Initialize: make(map[string]struct{}),
		TotalApps:  len(cfg.Apps),
	}

	// Seed from the config diff.
	if diff != nil {
		plan.Remove = append(plan.Remove, diff.Removed...)
		for _, name := range diff.Changed {
			p.logger.Info("App changed", "app", name)
			plan.Terminate[name] = struct{}{}
			plan.Initialize[name] = struct{}{}
		}
		for _, name := range diff.Added {
			p.logger.Info("App added", "app", name)
			plan.Initialize[name] = struct{}{}
		}
	}

	// Resolve module file changes to affected apps.
	if scan != nil {
		plan.Modules = append(plan.Modules, scan.AddedOrModified...)

		for _, path := range scan.Deleted {
			for _, app := range cfg.AppsForModule(ModuleNameFromPath(path)) {
				plan.Terminate[app] = struct{}{}
			}
		}

		for _, record := range scan.AddedOrModified {
			module := record.ModuleName()
			for _, app := range cfg.AppsForModule(module) {
				if record.Reload {
					plan.Terminate[app] = struct{}{}
				}
				plan.Initialize[app] = struct{}{}
			}
			if cfg.IsGlobalModule(module) {
				for _, app := range cfg.AppsForGlobalModule(module) {
					if record.Reload {
						plan.Terminate[app] = struct{}{}
					}
					plan.Initialize[app] = struct{}{}
				}
			}
		}
	}

	// Apply a plugin-restart signal. Apps that declare no plugin reference
	// reload unconditionally: unknown plugin affinity errs on the side of
	// caution.
	if plugin != NoPluginSignal {
		p.logger.Info("Processing plugin restart", "plugin", string(plugin))
		for _, name := range cfg.Names() {
			if cfg.Apps[name].ReferencesPlugin(string(plugin)) {
				plan.Terminate[name] = struct{}{}
				plan.Initialize[name] = struct{}{}
			}
		}
	}

	sort.Strings(plan.Remove)
	return plan
}

func sortedSet(set map[string]struct{}) []string {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
