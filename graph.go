package apphost

import (
	"fmt"
	"sort"
)

// Priority assignment constants. Apps participating in a dependency chain
// are clustered immediately after independent apps (default 50.0), spaced by
// a small epsilon that preserves topological order with no collisions.
const (
	chainPriorityStart = 50.1
	chainPriorityStep  = 0.0001
)

// DependencyGraph is the dependency relation over app names for one
// reconciliation cycle. It is rebuilt fresh every cycle from the full
// current configuration — a partial graph cannot be topologically sorted
// correctly — and no graph state persists between cycles.
type DependencyGraph struct {
	// order is the deterministic input order of nodes (sorted app names).
	order []string

	// deps maps app name to its validated dependencies.
	deps map[string][]string

	// dependents is the reverse edge set: app name to apps depending on it.
	dependents map[string][]string

	// excluded marks apps that declared a dependency on a non-existent app.
	// They are dropped from priority assignment for the cycle.
	excluded map[string]bool
}

// BuildGraph constructs the dependency graph from the full app set. Edges
// naming a non-existent app are dropped with a warning and the dependent is
// excluded from this cycle's priority assignment.
func BuildGraph(cfg *AppConfig, logger Logger) *DependencyGraph {
	g := &DependencyGraph{
		deps:       make(map[string][]string),
		dependents: make(map[string][]string),
		excluded:   make(map[string]bool),
	}

	for _, name := range cfg.Names() {
		g.order = append(g.order, name)
		def := cfg.Apps[name]
		var valid []string
		for _, dep := range def.Dependencies {
			if _, ok := cfg.Apps[dep]; !ok {
				logger.Warn("Unable to find app in dependencies - ignoring dependent app",
					"dependency", dep, "app", name,
					"error", fmt.Errorf("%w: %s requires %s", ErrDependencyMissing, name, dep))
				g.excluded[name] = true
				continue
			}
			valid = append(valid, dep)
			g.dependents[dep] = append(g.dependents[dep], name)
		}
		g.deps[name] = valid
	}

	return g
}

// Dependencies returns the validated dependencies of the named app.
func (g *DependencyGraph) Dependencies(name string) []string {
	return g.deps[name]
}

// HasDependents reports whether any app depends on the named app.
func (g *DependencyGraph) HasDependents(name string) bool {
	return len(g.dependents[name]) > 0
}

// Excluded reports whether the app was dropped from priority assignment
// because it declared a dependency on a non-existent app.
func (g *DependencyGraph) Excluded(name string) bool {
	return g.excluded[name]
}

// DependentsOf collects every app that transitively depends on the named
// app, via iterative reverse-edge BFS. The result excludes the app itself
// and is sorted.
func (g *DependencyGraph) DependentsOf(name string) []string {
	seen := map[string]bool{name: true}
	queue := append([]string(nil), g.dependents[name]...)
	var out []string

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if seen[current] {
			continue
		}
		seen[current] = true
		out = append(out, current)
		queue = append(queue, g.dependents[current]...)
	}

	sort.Strings(out)
	return out
}

// TopoSort runs a layered topological sort: each pass extracts the remaining
// nodes whose dependencies are fully satisfied by already-emitted nodes and
// emits them as one layer, preserving their relative input order. When a
// pass emits nothing while nodes remain pending, a cycle exists and the sort
// stops with a CycleError identifying the stuck nodes and their unmet
// dependencies. The nodes emitted before the stall are still returned, so a
// caller can degrade gracefully rather than abort.
func (g *DependencyGraph) TopoSort() ([]string, error) {
	type pending struct {
		name  string
		unmet map[string]bool
	}

	remaining := make([]pending, 0, len(g.order))
	for _, name := range g.order {
		unmet := make(map[string]bool, len(g.deps[name]))
		for _, dep := range g.deps[name] {
			unmet[dep] = true
		}
		remaining = append(remaining, pending{name: name, unmet: unmet})
	}

	var emitted []string
	emittedSet := make(map[string]bool)

	for len(remaining) > 0 {
		var next []pending
		var layer []string

		for _, entry := range remaining {
			for dep := range entry.unmet {
				if emittedSet[dep] {
					delete(entry.unmet, dep)
				}
			}
			if len(entry.unmet) > 0 {
				next = append(next, entry)
				continue
			}
			layer = append(layer, entry.name)
		}

		if len(layer) == 0 {
			stuck := make(map[string][]string, len(next))
			for _, entry := range next {
				unmet := make([]string, 0, len(entry.unmet))
				for dep := range entry.unmet {
					unmet = append(unmet, dep)
				}
				sort.Strings(unmet)
				stuck[entry.name] = unmet
			}
			return emitted, &CycleError{Stuck: stuck}
		}

		for _, name := range layer {
			emitted = append(emitted, name)
			emittedSet[name] = true
		}
		remaining = next
	}

	return emitted, nil
}

// AssignPriorities maps each emitted app to its scheduling priority. Apps
// participating in any dependency chain receive the next clustered value in
// topological order; all others keep their configured or default priority.
// Excluded apps receive no priority.
//
// On a cycle, priorities already assigned to apps emitted before the stall
// are retained and the CycleError is returned alongside them; apps inside or
// after the cycle receive no priority and so drop out of the cycle's
// reconciliation. This is a deliberate degrade-gracefully policy, not a
// hard abort.
func (g *DependencyGraph) AssignPriorities(cfg *AppConfig) (map[string]float64, error) {
	emitted, cycleErr := g.TopoSort()

	priorities := make(map[string]float64, len(emitted))
	chained := chainPriorityStart
	for _, name := range emitted {
		if g.excluded[name] {
			continue
		}
		if len(g.deps[name]) > 0 || g.HasDependents(name) {
			priorities[name] = chained
			chained += chainPriorityStep
			continue
		}
		priorities[name] = cfg.Apps[name].EffectivePriority()
	}

	return priorities, cycleErr
}

// PrioritizedSubset expands the requested app set with every transitive
// dependent, assigns priorities over the full graph, and returns only the
// expanded set's priorities. This is the ordering input for both the
// terminate and initialize phases: reloading an app also reloads the apps
// built on top of it, while leaving its own dependencies untouched.
func (g *DependencyGraph) PrioritizedSubset(cfg *AppConfig, apps map[string]struct{}) (map[string]float64, error) {
	wanted := make(map[string]bool, len(apps))
	for name := range apps {
		wanted[name] = true
		for _, dependent := range g.DependentsOf(name) {
			wanted[dependent] = true
		}
	}

	priorities, cycleErr := g.AssignPriorities(cfg)

	subset := make(map[string]float64, len(wanted))
	for name := range wanted {
		if prio, ok := priorities[name]; ok {
			subset[name] = prio
		}
	}

	return subset, cycleErr
}

// OrderByPriority returns the apps of the priority map sorted ascending when
// descending is false (initialize order) or descending when true (terminate
// order). Ties break on app name for determinism.
func OrderByPriority(priorities map[string]float64, descending bool) []string {
	names := make([]string, 0, len(priorities))
	for name := range priorities {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := names[i], names[j]
		if priorities[a] != priorities[b] {
			if descending {
				return priorities[a] > priorities[b]
			}
			return priorities[a] < priorities[b]
		}
		return a < b
	})
	return names
}
