package apphost

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var errHookPanic = errors.New("app hook panicked")

// Executor drives the two-phase stop/construct/initialize protocol against
// the app registry, isolating failures per app. It owns no ordering policy:
// callers hand it sets already ordered by the dependency graph engine.
type Executor struct {
	registry  *Registry
	factory   InstanceFactory
	loader    ModuleLoader
	callbacks CallbackSink
	scheduler SchedulerSink
	api       APISink
	pool      WorkerPool
	notifier  StatusNotifier
	logger    Logger
	errs      ErrorSink
}

// NewExecutor wires an executor to its collaborators. Sinks, pool, and
// notifier may be nil; the corresponding steps become no-ops.
func NewExecutor(registry *Registry, collab Collaborators, logger Logger, errs ErrorSink) *Executor {
	return &Executor{
		registry:  registry,
		factory:   collab.Factory,
		loader:    collab.Loader,
		callbacks: collab.Callbacks,
		scheduler: collab.Scheduler,
		api:       collab.API,
		pool:      collab.Pool,
		notifier:  collab.Notifier,
		logger:    logger,
		errs:      errs,
	}
}

// TerminateApp stops one app: the terminate hook reference is captured under
// the registry lock, invoked with the lock released, and only then is the
// entry removed and per-app state purged from the callback, scheduler, and
// API collaborators. A hook failure is recorded with full detail and does
// not prevent removal or the cleanup that follows.
func (e *Executor) TerminateApp(name string, totalApps int) {
	if term, ok := e.registry.terminatorFor(name); ok {
		e.logger.Info("Calling terminate hook", "app", name)
		if err := safeHook(term.OnTerminate); err != nil {
			e.errs.Record(name, "Unexpected error running terminate hook", fmt.Errorf("%w: %w", ErrTerminateApp, err))
		}
	}

	e.registry.Remove(name)

	if e.callbacks != nil {
		e.callbacks.Clear(name)
	}
	if e.scheduler != nil {
		e.scheduler.Clear(name)
	}
	if e.api != nil {
		e.api.Clear(name)
	}
	e.notify(StatusUpdate{App: name, State: StateTerminated, TotalApps: totalApps})
}

// ExecuteTerminations terminates the given apps in order (already descending
// by priority: dependents before dependencies). Failures are isolated per
// app.
func (e *Executor) ExecuteTerminations(ordered []string, totalApps int) {
	for _, name := range ordered {
		e.logger.Info("Terminating app", "app", name)
		e.TerminateApp(name, totalApps)
	}
}

// ReloadModules loads or reloads every changed module file. A load failure
// must not block unrelated apps: the failure is logged and the apps mapped
// to the broken module are pruned from the initialize set for this cycle.
func (e *Executor) ReloadModules(records []ModuleRecord, cfg *AppConfig, initialize map[string]struct{}) {
	if e.loader == nil {
		return
	}

	for _, record := range records {
		var err error
		if record.Reload {
			e.logger.Info("Reloading module", "path", record.Path)
			_, err = e.loader.Reload(record.Path)
		} else {
			e.logger.Info("Loading module", "path", record.Path)
			_, err = e.loader.Load(record.Path)
		}
		if err == nil {
			continue
		}

		e.errs.Record("", "Unexpected error loading module", fmt.Errorf("%w: %s: %w", ErrModuleLoad, record.Path, err))
		module := record.ModuleName()
		for _, app := range cfg.AppsForModule(module) {
			if _, queued := initialize[app]; queued {
				e.logger.Warn("Removing app from initialize set after module load failure",
					"app", app, "module", module)
				delete(initialize, app)
			}
		}
	}
}

// ConstructApp builds and registers the instance for one app definition.
// The pin index is validated against the worker pool before construction; a
// pin outside the available worker range discards the app with a warning.
func (e *Executor) ConstructApp(def *AppDefinition, totalApps int) error {
	e.logger.Info("Initializing app", "app", def.Name, "class", def.Class, "module", def.Module)

	thread := -1
	if def.PinThread != nil {
		pin := *def.PinThread
		if e.pool != nil && (pin < 0 || pin >= e.pool.ThreadCount()) {
			e.logger.Warn("pin_thread out of range - app will be discarded",
				"app", def.Name, "pin", pin)
			return fmt.Errorf("%w: app %s pin %d", ErrPinOutOfRange, def.Name, pin)
		}
		thread = pin
	}

	object, err := e.factory.Construct(def)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConstructApp, def.Name, err)
	}

	inst := &AppInstance{
		Object: object,
		ID:     uuid.New(),
		Thread: thread,
	}
	if e.pool != nil {
		inst.Pinned = e.pool.ShouldPin(def.Name)
	}
	e.registry.Put(def.Name, inst)
	e.notify(StatusUpdate{App: def.Name, State: StateConstructed, TotalApps: totalApps})
	return nil
}

// ExecuteInitialize runs the initialize phase over apps already ordered by
// ascending priority, in two passes: pass one constructs every non-disabled
// instance, then worker pinning is recomputed once, then pass two invokes
// the initialize hooks. Because every instance exists before any hook runs,
// a hook may look up any other app in the batch regardless of relative
// priority.
//
// Failures are isolated both ways: a construction failure omits the app
// without blocking others, and an initialize-hook failure leaves the app
// constructed but not marked ready.
func (e *Executor) ExecuteInitialize(ordered []string, cfg *AppConfig, totalApps int) {
	constructed := make(map[string]bool, len(ordered))

	for _, name := range ordered {
		def, ok := cfg.Apps[name]
		if !ok {
			continue
		}
		if def.Disabled {
			e.logger.Info("App is disabled", "app", name)
			continue
		}
		if err := e.ConstructApp(def, totalApps); err != nil {
			e.errs.Record(name, "Unexpected error constructing app", err)
			continue
		}
		constructed[name] = true
	}

	if e.pool != nil {
		e.pool.RecomputePinning()
	}

	for _, name := range ordered {
		if !constructed[name] {
			continue
		}
		e.initializeApp(name, totalApps)
	}
}

// initializeApp invokes the optional initialize hook for one constructed
// app, dispatching to the worker pool when the pool supports it.
func (e *Executor) initializeApp(name string, totalApps int) {
	object := e.registry.Object(name)
	if object == nil {
		e.logger.Warn("Unable to find app - initialize skipped", "app", name)
		return
	}

	init, ok := object.(Initializer)
	if !ok {
		// No capability: the app is ready as constructed.
		e.registry.MarkReady(name)
		e.notify(StatusUpdate{App: name, State: StateRunning, TotalApps: totalApps})
		return
	}

	run := func() {
		if err := safeHook(init.OnInitialize); err != nil {
			e.errs.Record(name, "Unexpected error running initialize hook", fmt.Errorf("%w: %w", ErrInitializeApp, err))
			return
		}
		e.registry.MarkReady(name)
		e.notify(StatusUpdate{App: name, State: StateRunning, TotalApps: totalApps})
	}

	if dispatcher, ok := e.pool.(InitDispatcher); ok && dispatcher != nil {
		dispatcher.Dispatch(name, run)
		return
	}
	run()
}

func (e *Executor) notify(update StatusUpdate) {
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(update)
}

// safeHook invokes a user hook, converting panics into errors so a
// misbehaving app cannot take down the reconciliation thread.
func safeHook(hook func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errHookPanic, r)
		}
	}()
	return hook()
}
