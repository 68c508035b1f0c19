package apphost

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(collab Collaborators) (*Executor, *Registry, *recordingSink) {
	registry := NewRegistry()
	sink := &recordingSink{}
	return NewExecutor(registry, collab, &testLogger{}, sink), registry, sink
}

func TestExecuteInitialize(t *testing.T) {
	t.Run("constructs_every_app_before_any_initialize_hook", func(t *testing.T) {
		recorder := &callRecorder{}
		factory := &stubFactory{recorder: recorder}
		exec, registry, sink := newTestExecutor(Collaborators{Factory: factory})

		cfg := cfgOf(defOf("first"), defOf("second"))
		exec.ExecuteInitialize([]string{"first", "second"}, cfg, 2)

		require.Equal(t, []string{
			"construct first",
			"construct second",
			"init first",
			"init second",
		}, recorder.snapshot())
		assert.Equal(t, 0, sink.count())
		assert.Equal(t, 2, registry.Len())
	})

	t.Run("recomputes_pinning_between_phases", func(t *testing.T) {
		pool := &stubPool{threads: 2}
		factory := &stubFactory{}
		exec, _, _ := newTestExecutor(Collaborators{Factory: factory, Pool: pool})

		cfg := cfgOf(defOf("a"))
		exec.ExecuteInitialize([]string{"a"}, cfg, 1)
		assert.Equal(t, 1, pool.recomputes)
	})

	t.Run("construction_failure_does_not_block_other_apps", func(t *testing.T) {
		factory := &stubFactory{fail: map[string]bool{"bad": true}}
		exec, registry, sink := newTestExecutor(Collaborators{Factory: factory})

		cfg := cfgOf(defOf("bad"), defOf("good"))
		exec.ExecuteInitialize([]string{"bad", "good"}, cfg, 2)

		assert.Nil(t, registry.Object("bad"))
		assert.NotNil(t, registry.Object("good"))
		assert.Equal(t, 1, sink.count())
	})

	t.Run("initialize_hook_failure_leaves_app_constructed_but_not_ready", func(t *testing.T) {
		factory := &stubFactory{initErr: map[string]error{"flaky": errFactoryRefused}}
		exec, registry, sink := newTestExecutor(Collaborators{Factory: factory})

		cfg := cfgOf(defOf("flaky"), defOf("solid"))
		exec.ExecuteInitialize([]string{"flaky", "solid"}, cfg, 2)

		flaky, ok := registry.Get("flaky")
		require.True(t, ok)
		assert.False(t, flaky.Ready)

		solid, ok := registry.Get("solid")
		require.True(t, ok)
		assert.True(t, solid.Ready)
		assert.Equal(t, 1, sink.count())
	})

	t.Run("initialize_hook_panic_is_contained", func(t *testing.T) {
		exec, registry, sink := newTestExecutor(Collaborators{Factory: &panickyFactory{}})

		cfg := cfgOf(defOf("wild"))
		exec.ExecuteInitialize([]string{"wild"}, cfg, 1)

		inst, ok := registry.Get("wild")
		require.True(t, ok)
		assert.False(t, inst.Ready)
		assert.Equal(t, 1, sink.count())
	})

	t.Run("app_without_initializer_is_ready_as_constructed", func(t *testing.T) {
		factory := &stubFactory{noHooks: map[string]bool{"plain": true}}
		exec, registry, _ := newTestExecutor(Collaborators{Factory: factory})

		cfg := cfgOf(defOf("plain"))
		exec.ExecuteInitialize([]string{"plain"}, cfg, 1)

		inst, ok := registry.Get("plain")
		require.True(t, ok)
		assert.True(t, inst.Ready)
	})

	t.Run("disabled_app_is_skipped", func(t *testing.T) {
		disabled := defOf("off")
		disabled.Disabled = true
		factory := &stubFactory{}
		exec, registry, _ := newTestExecutor(Collaborators{Factory: factory})

		exec.ExecuteInitialize([]string{"off"}, cfgOf(disabled), 1)
		assert.Equal(t, 0, registry.Len())
	})

	t.Run("unknown_app_name_is_skipped", func(t *testing.T) {
		exec, registry, sink := newTestExecutor(Collaborators{Factory: &stubFactory{}})
		exec.ExecuteInitialize([]string{"ghost"}, cfgOf(), 0)
		assert.Equal(t, 0, registry.Len())
		assert.Equal(t, 0, sink.count())
	})
}

// panickyFactory builds apps whose initialize hook panics.
type panickyFactory struct{}

func (f *panickyFactory) Construct(def *AppDefinition) (any, error) {
	return &hookApp{name: def.Name, initPanic: true}, nil
}

// lookupApp asserts during initialization that another batch member is
// already constructed.
type lookupApp struct {
	registry *Registry
	peer     string
	found    bool
}

func (a *lookupApp) OnInitialize() error {
	a.found = a.registry.Object(a.peer) != nil
	return nil
}

type lookupFactory struct {
	registry *Registry
	peers    map[string]string
	built    map[string]*lookupApp
}

func (f *lookupFactory) Construct(def *AppDefinition) (any, error) {
	app := &lookupApp{registry: f.registry, peer: f.peers[def.Name]}
	f.built[def.Name] = app
	return app, nil
}

func TestInitializeHookSeesWholeBatch(t *testing.T) {
	registry := NewRegistry()
	factory := &lookupFactory{
		registry: registry,
		// Each app looks up the one ordered after it, so the lookup can only
		// succeed because construction of the whole batch precedes any hook.
		peers: map[string]string{"early": "late", "late": "early"},
		built: make(map[string]*lookupApp),
	}
	exec := NewExecutor(registry, Collaborators{Factory: factory}, &testLogger{}, &recordingSink{})

	cfg := cfgOf(defOf("early"), defOf("late"))
	exec.ExecuteInitialize([]string{"early", "late"}, cfg, 2)

	require.Contains(t, factory.built, "early")
	assert.True(t, factory.built["early"].found, "early app should see the late app constructed")
	assert.True(t, factory.built["late"].found)
}

func TestConstructApp(t *testing.T) {
	t.Run("rejects_pin_outside_worker_range", func(t *testing.T) {
		pool := &stubPool{threads: 2}
		exec, registry, _ := newTestExecutor(Collaborators{Factory: &stubFactory{}, Pool: pool})

		def := defOf("pinned")
		def.PinThread = intPtr(5)
		err := exec.ConstructApp(def, 1)

		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrPinOutOfRange))
		assert.Equal(t, 0, registry.Len())
	})

	t.Run("accepts_pin_inside_worker_range", func(t *testing.T) {
		pool := &stubPool{threads: 2}
		exec, registry, _ := newTestExecutor(Collaborators{Factory: &stubFactory{}, Pool: pool})

		def := defOf("pinned")
		def.PinThread = intPtr(1)
		require.NoError(t, exec.ConstructApp(def, 1))

		inst, ok := registry.Get("pinned")
		require.True(t, ok)
		assert.Equal(t, 1, inst.Thread)
	})

	t.Run("assigns_a_fresh_instance_id", func(t *testing.T) {
		exec, registry, _ := newTestExecutor(Collaborators{Factory: &stubFactory{}})

		def := defOf("a")
		require.NoError(t, exec.ConstructApp(def, 1))
		first, _ := registry.Get("a")

		require.NoError(t, exec.ConstructApp(def, 1))
		second, _ := registry.Get("a")

		assert.NotEqual(t, first.ID, second.ID)
	})

	t.Run("wraps_factory_failure", func(t *testing.T) {
		factory := &stubFactory{fail: map[string]bool{"bad": true}}
		exec, _, _ := newTestExecutor(Collaborators{Factory: factory})

		err := exec.ConstructApp(defOf("bad"), 1)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrConstructApp))
		assert.True(t, errors.Is(err, errFactoryRefused))
	})
}

func TestTerminateApp(t *testing.T) {
	t.Run("runs_hook_removes_entry_and_clears_sinks", func(t *testing.T) {
		recorder := &callRecorder{}
		callbacks := &clearSink{}
		scheduler := &clearSink{}
		api := &clearSink{}
		exec, registry, sink := newTestExecutor(Collaborators{
			Factory:   &stubFactory{},
			Callbacks: callbacks,
			Scheduler: scheduler,
			API:       api,
		})

		registry.Put("a", &AppInstance{Object: &hookApp{name: "a", recorder: recorder}})
		exec.TerminateApp("a", 1)

		assert.Equal(t, []string{"term a"}, recorder.snapshot())
		assert.Equal(t, 0, registry.Len())
		assert.Equal(t, []string{"a"}, callbacks.snapshot())
		assert.Equal(t, []string{"a"}, scheduler.snapshot())
		assert.Equal(t, []string{"a"}, api.snapshot())
		assert.Equal(t, 0, sink.count())
	})

	t.Run("hook_failure_still_removes_and_cleans_up", func(t *testing.T) {
		callbacks := &clearSink{}
		exec, registry, sink := newTestExecutor(Collaborators{
			Factory:   &stubFactory{},
			Callbacks: callbacks,
		})

		registry.Put("a", &AppInstance{Object: &hookApp{name: "a", termErr: errFactoryRefused}})
		exec.TerminateApp("a", 1)

		assert.Equal(t, 0, registry.Len())
		assert.Equal(t, []string{"a"}, callbacks.snapshot())
		assert.Equal(t, 1, sink.count())
	})

	t.Run("app_without_terminator_is_removed_silently", func(t *testing.T) {
		exec, registry, sink := newTestExecutor(Collaborators{Factory: &stubFactory{}})

		registry.Put("plain", &AppInstance{Object: &plainApp{name: "plain"}})
		exec.TerminateApp("plain", 1)

		assert.Equal(t, 0, registry.Len())
		assert.Equal(t, 0, sink.count())
	})

	t.Run("unknown_app_is_a_no_op", func(t *testing.T) {
		exec, _, sink := newTestExecutor(Collaborators{Factory: &stubFactory{}})
		exec.TerminateApp("ghost", 0)
		assert.Equal(t, 0, sink.count())
	})
}

func TestExecuteTerminations(t *testing.T) {
	recorder := &callRecorder{}
	exec, registry, _ := newTestExecutor(Collaborators{Factory: &stubFactory{}})

	registry.Put("top", &AppInstance{Object: &hookApp{name: "top", recorder: recorder}})
	registry.Put("base", &AppInstance{Object: &hookApp{name: "base", recorder: recorder}})

	// Caller supplies descending priority order: dependents first.
	exec.ExecuteTerminations([]string{"top", "base"}, 2)

	assert.Equal(t, []string{"term top", "term base"}, recorder.snapshot())
	assert.Equal(t, 0, registry.Len())
}

func TestReloadModules(t *testing.T) {
	t.Run("loads_new_and_reloads_changed_modules", func(t *testing.T) {
		loader := &stubLoader{}
		exec, _, _ := newTestExecutor(Collaborators{Factory: &stubFactory{}, Loader: loader})

		records := []ModuleRecord{
			{Path: "/apps/fresh.so", Reload: false},
			{Path: "/apps/stale.so", Reload: true},
		}
		exec.ReloadModules(records, cfgOf(), map[string]struct{}{})

		assert.Equal(t, []string{"/apps/fresh.so"}, loader.loads)
		assert.Equal(t, []string{"/apps/stale.so"}, loader.reloads)
	})

	t.Run("load_failure_prunes_only_the_modules_apps", func(t *testing.T) {
		loader := &stubLoader{fail: map[string]bool{"/apps/broken.so": true}}
		exec, _, sink := newTestExecutor(Collaborators{Factory: &stubFactory{}, Loader: loader})

		victim := defOf("victim")
		victim.Module = "broken"
		survivor := defOf("survivor")
		survivor.Module = "fine"
		cfg := cfgOf(victim, survivor)

		initialize := setOf("victim", "survivor")
		records := []ModuleRecord{
			{Path: "/apps/broken.so", Reload: true},
			{Path: "/apps/fine.so", Reload: true},
		}
		exec.ReloadModules(records, cfg, initialize)

		assert.NotContains(t, initialize, "victim")
		assert.Contains(t, initialize, "survivor")
		assert.Equal(t, 1, sink.count())
	})

	t.Run("nil_loader_is_a_no_op", func(t *testing.T) {
		exec, _, sink := newTestExecutor(Collaborators{Factory: &stubFactory{}})
		exec.ReloadModules([]ModuleRecord{{Path: "/apps/x.so"}}, cfgOf(), nil)
		assert.Equal(t, 0, sink.count())
	})
}

func TestStatusNotifications(t *testing.T) {
	notifier := &recordingNotifier{}
	factory := &stubFactory{}
	exec, registry, _ := newTestExecutor(Collaborators{Factory: factory, Notifier: notifier})

	cfg := cfgOf(defOf("a"))
	exec.ExecuteInitialize([]string{"a"}, cfg, 1)
	exec.TerminateApp("a", 1)

	var states []AppState
	for _, u := range notifier.snapshot() {
		assert.Equal(t, "a", u.App)
		states = append(states, u.State)
	}
	assert.Equal(t, []AppState{StateConstructed, StateRunning, StateTerminated}, states)
	assert.Equal(t, 0, registry.Len())
}
