package apphost

import (
	"fmt"
	"sync"
	"time"
)

// Collaborators bundles the external subsystems the engine talks to. Only
// Factory is required; every other field may be nil, disabling the
// corresponding integration.
type Collaborators struct {
	// Loader loads and reloads the code modules backing apps.
	Loader ModuleLoader

	// Factory constructs app instances from definitions. Required.
	Factory InstanceFactory

	// Callbacks has per-app callback state purged on termination.
	Callbacks CallbackSink

	// Scheduler has per-app scheduled work purged on termination.
	Scheduler SchedulerSink

	// API has per-app endpoint registrations purged on termination.
	API APISink

	// Pool resolves pin assignments and executes initialize hooks.
	Pool WorkerPool

	// Notifier receives status updates as apps change state.
	Notifier StatusNotifier

	// Filters pre-processes source files before each scan.
	Filters FilterRunner

	// Errors receives per-app failure diagnostics. Defaults to a sink
	// backed by the host logger.
	Errors ErrorSink
}

// AppManager is the process-scoped orchestrator: it owns the change
// detector, config store, dependency graph engine, planner, executor, and
// app registry, and exposes the reconciliation entry point CheckForUpdates.
//
// It is constructed once at startup and torn down explicitly via Shutdown;
// there are no ambient globals. A process restart re-derives everything
// from the file system and configuration documents.
type AppManager struct {
	cfg    HostConfig
	logger Logger
	errs   ErrorSink

	detector *ChangeDetector
	store    *ConfigStore
	planner  *Planner
	registry *Registry
	executor *Executor
	pool     WorkerPool
	filters  FilterRunner

	// cycleMu serializes reconciliation cycles. The pipeline itself is
	// single-threaded; concurrent triggers (cron, fs watcher, admin API)
	// queue here.
	cycleMu sync.Mutex

	// configWatermark is the newest document modification time applied.
	configWatermark time.Time

	stopped bool
}

// NewAppManager validates the host configuration and wires the engine.
func NewAppManager(cfg HostConfig, collab Collaborators, logger Logger) (*AppManager, error) {
	if logger == nil {
		return nil, ErrNilLogger
	}
	if collab.Factory == nil {
		return nil, ErrNilFactory
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	errs := collab.Errors
	if errs == nil {
		errs = NewLoggerErrorSink(logger)
	}

	registry := NewRegistry()
	m := &AppManager{
		cfg:      cfg,
		logger:   logger,
		errs:     errs,
		detector: NewChangeDetector(cfg.AppDir, cfg.ModuleExt, cfg.ExcludeDirs, logger),
		store:    NewConfigStore(cfg.AppDir, cfg.ExcludeDirs, cfg.WarnInvalidConfig(), logger),
		planner:  NewPlanner(logger),
		registry: registry,
		executor: NewExecutor(registry, collab, logger, errs),
		pool:     collab.Pool,
		filters:  collab.Filters,
	}
	return m, nil
}

// Registry exposes the app registry for concurrent readers.
func (m *AppManager) Registry() *Registry {
	return m.registry
}

// GetInstance returns the live object for the named app, or nil.
func (m *AppManager) GetInstance(name string) any {
	return m.registry.Object(name)
}

// ListInstances returns metadata for every registered app, sorted by name.
func (m *AppManager) ListInstances() []InstanceInfo {
	return m.registry.List()
}

// TerminateInstance stops and removes a single app outside a full cycle.
func (m *AppManager) TerminateInstance(name string) error {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()
	if _, ok := m.registry.Get(name); !ok {
		return fmt.Errorf("%w: %s", ErrAppNotFound, name)
	}
	m.executor.TerminateApp(name, len(m.store.Current().Apps))
	return nil
}

// DumpInstances logs a diagnostic listing of every registered app.
func (m *AppManager) DumpInstances() {
	m.logger.Info("--- registered apps ---")
	for _, info := range m.registry.List() {
		m.logger.Info("App instance", "app", info.Name, "id", info.ID,
			"pinned", info.Pinned, "thread", info.Thread, "ready", info.Ready)
	}
	m.logger.Info("-----------------------")
}

// CheckForUpdates runs one full reconciliation cycle: filter pass, config
// scan and diff, module scan, planning, dependency-ordered termination,
// module reload, and dependency-ordered construction and initialization.
//
// plugin carries an optional plugin-restart signal; shuttingDown treats
// every monitored module as deleted so all apps are terminated.
//
// A config read failure aborts the whole cycle before any state mutates and
// the previous configuration stays applied; failures local to one app never
// abort the cycle.
func (m *AppManager) CheckForUpdates(plugin PluginSignal, shuttingDown bool) (*ReconciliationPlan, error) {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	if m.stopped {
		return nil, ErrManagerStopped
	}

	if m.filters != nil {
		if err := m.filters.Run(); err != nil {
			m.logger.Warn("Filter pass failed", "error", err)
		}
	}

	diff, err := m.refreshConfig()
	if err != nil {
		// Fail closed: no plan, previous state retained.
		m.errs.Record("", "New config not applied", err)
		return nil, err
	}
	cfg := m.store.Current()

	var scan *ModuleScan
	if shuttingDown {
		scan = m.detector.MarkAllDeleted()
	} else {
		scan, err = m.detector.Scan()
		if err != nil {
			return nil, fmt.Errorf("module scan failed: %w", err)
		}
	}

	plan := m.planner.Plan(cfg, diff, scan, plugin)

	// Deleted apps are terminated immediately, unordered; the remaining
	// terminate set gets dependency-aware ordering below.
	for _, name := range plan.Remove {
		m.logger.Info("App deleted", "app", name)
		m.executor.TerminateApp(name, plan.TotalApps)
	}

	graph := BuildGraph(cfg, m.logger)

	if len(plan.Terminate) > 0 {
		priorities, cycleErr := graph.PrioritizedSubset(cfg, plan.Terminate)
		m.reportCycle(cycleErr)
		m.executor.ExecuteTerminations(OrderByPriority(priorities, true), plan.TotalApps)
	}

	m.executor.ReloadModules(plan.Modules, cfg, plan.Initialize)

	if len(plan.Initialize) > 0 && !shuttingDown {
		priorities, cycleErr := graph.PrioritizedSubset(cfg, plan.Initialize)
		m.reportCycle(cycleErr)
		m.executor.ExecuteInitialize(OrderByPriority(priorities, false), cfg, plan.TotalApps)
	}

	if m.pool != nil && m.cfg.AutoPin && plan.TotalApps > m.pool.ThreadCount() {
		m.pool.EnsureCapacity(plan.TotalApps)
	}

	if !plan.Empty() {
		m.logger.Info("Reconciliation cycle complete",
			"running", plan.TotalApps,
			"terminated", len(plan.Terminate)+len(plan.Remove),
			"initialized", len(plan.Initialize))
	}

	return plan, nil
}

// Shutdown terminates every app and stops accepting cycles.
func (m *AppManager) Shutdown() error {
	m.logger.Debug("Shutting down app management")
	if _, err := m.CheckForUpdates(NoPluginSignal, true); err != nil {
		return err
	}
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()
	m.stopped = true
	return nil
}

// refreshConfig scans documents, reads and applies a new configuration when
// anything changed, and returns the diff. The read is all-or-nothing: any
// malformed document leaves the current configuration untouched.
func (m *AppManager) refreshConfig() (*ConfigDiff, error) {
	scan, err := m.detector.ScanConfigs(m.configWatermark)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigRead, err)
	}
	m.configWatermark = scan.Latest

	if scan.Empty() {
		return &ConfigDiff{}, nil
	}

	for _, path := range scan.Deleted {
		m.logger.Info("Config document deleted", "path", path)
	}
	for _, path := range scan.Changed {
		m.logger.Info("Config document added or modified", "path", path)
	}

	newCfg, err := m.store.Read()
	if err != nil {
		return nil, err
	}

	diff := m.store.Diff(m.store.Current(), newCfg)
	m.store.Apply(newCfg)
	m.logger.Info("Running apps", "total", len(newCfg.Apps))
	return diff, nil
}

func (m *AppManager) reportCycle(err error) {
	if err == nil {
		return
	}
	// Degrade gracefully: apps inside the cycle received no priority and
	// drop out of this cycle's plan; everything emitted before the stall
	// proceeds normally.
	m.logger.Warn("Cyclic or missing app dependencies detected", "error", err)
}
