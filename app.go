package apphost

// Initializer is an optional capability interface for app instances.
// An app implementing Initializer has its OnInitialize hook invoked after
// every instance in the same reconciliation batch has been constructed, in
// ascending priority order. An app that does not implement Initializer is
// simply skipped; absence of the capability is not an error.
//
// Because construction of the whole batch completes before any initialize
// hook runs, an OnInitialize implementation may safely look up any other app
// in the same batch through the manager, independent of relative priority.
type Initializer interface {
	// OnInitialize prepares the app for callback dispatch.
	// Failures are isolated: the app stays constructed but is not marked
	// ready, and no other app in the batch is affected.
	OnInitialize() error
}

// Terminator is an optional capability interface for app instances.
// An app implementing Terminator has its OnTerminate hook invoked
// synchronously on the reconciliation thread before the instance is removed
// from the registry, so termination is guaranteed complete before the cycle
// proceeds. Hook failures are logged with full diagnostic detail and never
// prevent removal or the cleanup of callback, scheduler, and API state.
type Terminator interface {
	OnTerminate() error
}

// ModuleHandle is an opaque reference to a loaded code module.
// The concrete type is owned by the ModuleLoader collaborator.
type ModuleHandle any

// ModuleLoader loads and reloads the code modules that back apps.
// The dynamic loading mechanism itself (Go plugins, subprocesses, embedded
// interpreters) is outside the engine; the engine only cares that a load
// attempt either yields a handle or an error. A failed reload removes the
// affected apps from that cycle's initialize set rather than aborting the
// cycle, so a broken module never blocks unrelated apps.
type ModuleLoader interface {
	// Load imports the module found at path for the first time.
	Load(path string) (ModuleHandle, error)

	// Reload re-imports a previously loaded module, picking up changes.
	Reload(path string) (ModuleHandle, error)
}

// InstanceFactory constructs app instances from their definitions.
// The factory owns class resolution: mapping the definition's Module and
// Class fields onto user-supplied code is the loader/factory's business,
// not the engine's.
type InstanceFactory interface {
	// Construct builds a new instance for the given definition. The returned
	// value is stored in the registry and probed for the optional
	// Initializer/Terminator capabilities.
	Construct(def *AppDefinition) (any, error)
}

// CallbackSink purges callback state owned by a terminated app.
type CallbackSink interface {
	Clear(app string)
}

// SchedulerSink purges scheduled work owned by a terminated app.
type SchedulerSink interface {
	Clear(app string)
}

// APISink purges API registrations owned by a terminated app.
type APISink interface {
	Clear(app string)
}

// WorkerPool is the thread-pool collaborator that executes app callbacks.
// The engine consults it when resolving pin assignments and asks it to
// recompute pinning once per cycle, after all constructions complete and
// before any initialize hook runs.
type WorkerPool interface {
	// ThreadCount returns the number of worker threads currently available.
	// A declared pin index at or beyond this count fails construction with
	// ErrPinOutOfRange and the app is discarded with a warning.
	ThreadCount() int

	// ShouldPin reports whether the named app should be pinned to a worker.
	ShouldPin(app string) bool

	// RecomputePinning rebalances app-to-worker assignments.
	RecomputePinning()

	// EnsureCapacity grows the pool so at least n workers are available.
	// Called after a cycle when auto-pinning is enabled and the configured
	// app count exceeds the current thread count.
	EnsureCapacity(n int)
}

// InitDispatcher is an optional capability of WorkerPool implementations.
// When present, initialize hooks are handed to Dispatch instead of running
// inline, so a batch's initialize hooks are not guaranteed to have completed
// by the time the cycle returns. Terminate hooks always run inline.
type InitDispatcher interface {
	Dispatch(app string, fn func())
}

// StatusUpdate describes a registry change delivered to status subscribers.
type StatusUpdate struct {
	// App is the affected app name.
	App string `json:"app"`

	// State is the app's new lifecycle state.
	State AppState `json:"state"`

	// TotalApps is the number of currently configured apps.
	TotalApps int `json:"totalApps"`
}

// StatusNotifier receives updates as apps move through their lifecycle.
// Notifications are best-effort; a notifier error is logged and ignored.
type StatusNotifier interface {
	Notify(update StatusUpdate)
}

// FilterRunner is an optional collaborator that pre-processes source files
// (for example transpiling a DSL into loadable modules) before each scan.
// External script invocation lives entirely behind this interface.
type FilterRunner interface {
	Run() error
}

// AppState enumerates the lifecycle states reported through StatusUpdate.
type AppState string

const (
	// StateConstructed means the instance exists in the registry but its
	// initialize hook has not yet run.
	StateConstructed AppState = "constructed"

	// StateRunning means the app completed initialization.
	StateRunning AppState = "running"

	// StateTerminated means the app was removed from the registry.
	StateTerminated AppState = "terminated"
)
