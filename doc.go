// Package apphost implements the lifecycle orchestrator for a plugin-style
// application host. It watches a directory tree of declarative app documents
// and code modules, computes which logical apps must be stopped, reloaded,
// or started, and enforces dependency ordering and failure isolation while
// applying that transition.
//
// The engine is organized as a pipeline that runs once per reconciliation
// cycle:
//
//	ChangeDetector -> ConfigStore/Diff -> Planner -> DependencyGraph -> Executor -> Registry
//
// An AppManager owns all of the above and exposes the single entry point,
// CheckForUpdates. Reconciliation cycles are serialized internally; callers
// such as the cron trigger, the filesystem watcher, and the admin API may
// request cycles concurrently without additional coordination.
//
// Apps are configuration-declared units backed by one constructed instance of
// a user-supplied type. The host never inspects app business logic; it talks
// to collaborators (module loader, instance factory, worker pool, callback
// and scheduler sinks) through small interfaces, and to app instances only
// through optional capability interfaces:
//
//	type Initializer interface { OnInitialize() error }
//	type Terminator interface { OnTerminate() error }
//
// Absence of a capability is a no-op, not an error.
//
// Basic usage:
//
//	mgr, err := apphost.NewAppManager(cfg, collaborators, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if _, err := mgr.CheckForUpdates(apphost.NoPluginSignal, false); err != nil {
//		log.Fatal(err)
//	}
package apphost
