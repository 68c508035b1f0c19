package apphost

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// testLogger captures log lines for assertions. Safe for concurrent use.
type testLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *testLogger) log(level, msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, fmt.Sprintf("%s: %s %v", level, msg, args))
}

func (l *testLogger) Info(msg string, args ...any)  { l.log("INFO", msg, args...) }
func (l *testLogger) Error(msg string, args ...any) { l.log("ERROR", msg, args...) }
func (l *testLogger) Warn(msg string, args ...any)  { l.log("WARN", msg, args...) }
func (l *testLogger) Debug(msg string, args ...any) { l.log("DEBUG", msg, args...) }

func (l *testLogger) contains(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if strings.Contains(e, substr) {
			return true
		}
	}
	return false
}

// recordingSink captures ErrorSink records.
type recordingSink struct {
	mu      sync.Mutex
	records []string
}

func (s *recordingSink) Record(app string, msg string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, fmt.Sprintf("%s: %s: %v", app, msg, err))
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// hookApp is a test app object with controllable lifecycle hooks. The
// recorder, when set, receives "init <name>" and "term <name>" entries in
// invocation order.
type hookApp struct {
	name      string
	initErr   error
	termErr   error
	initPanic bool
	recorder  *callRecorder
}

func (a *hookApp) OnInitialize() error {
	if a.recorder != nil {
		a.recorder.add("init " + a.name)
	}
	if a.initPanic {
		panic("boom")
	}
	return a.initErr
}

func (a *hookApp) OnTerminate() error {
	if a.recorder != nil {
		a.recorder.add("term " + a.name)
	}
	return a.termErr
}

// plainApp has no lifecycle capabilities at all.
type plainApp struct{ name string }

// callRecorder captures ordered call strings across apps.
type callRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *callRecorder) add(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *callRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

var errFactoryRefused = errors.New("factory refused to construct app")

// stubFactory builds hookApps, failing for names listed in fail.
type stubFactory struct {
	recorder *callRecorder
	fail     map[string]bool
	initErr  map[string]error
	noHooks  map[string]bool
}

func (f *stubFactory) Construct(def *AppDefinition) (any, error) {
	if f.fail[def.Name] {
		return nil, errFactoryRefused
	}
	if f.recorder != nil {
		f.recorder.add("construct " + def.Name)
	}
	if f.noHooks[def.Name] {
		return &plainApp{name: def.Name}, nil
	}
	return &hookApp{name: def.Name, initErr: f.initErr[def.Name], recorder: f.recorder}, nil
}

var errLoaderRefused = errors.New("loader refused module")

// stubLoader records load and reload calls, failing for paths listed in fail.
type stubLoader struct {
	mu      sync.Mutex
	loads   []string
	reloads []string
	fail    map[string]bool
}

func (l *stubLoader) Load(path string) (ModuleHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail[path] {
		return nil, errLoaderRefused
	}
	l.loads = append(l.loads, path)
	return struct{}{}, nil
}

func (l *stubLoader) Reload(path string) (ModuleHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail[path] {
		return nil, errLoaderRefused
	}
	l.reloads = append(l.reloads, path)
	return struct{}{}, nil
}

// stubPool implements WorkerPool without InitDispatcher, so initialize hooks
// run inline on the reconciliation goroutine.
type stubPool struct {
	threads    int
	pin        bool
	recomputes int
	grownTo    int
}

func (p *stubPool) ThreadCount() int          { return p.threads }
func (p *stubPool) ShouldPin(app string) bool { return p.pin }
func (p *stubPool) RecomputePinning()         { p.recomputes++ }
func (p *stubPool) EnsureCapacity(n int) {
	p.grownTo = n
	if n > p.threads {
		p.threads = n
	}
}

// clearSink records Clear calls for the callback, scheduler, and API sinks.
type clearSink struct {
	mu      sync.Mutex
	cleared []string
}

func (s *clearSink) Clear(app string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared = append(s.cleared, app)
}

func (s *clearSink) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cleared...)
}

// recordingNotifier captures status updates in order.
type recordingNotifier struct {
	mu      sync.Mutex
	updates []StatusUpdate
}

func (n *recordingNotifier) Notify(update StatusUpdate) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updates = append(n.updates, update)
}

func (n *recordingNotifier) snapshot() []StatusUpdate {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]StatusUpdate(nil), n.updates...)
}

// defOf builds a minimal AppDefinition for graph and executor tests.
func defOf(name string, deps ...string) *AppDefinition {
	return &AppDefinition{
		Name:         name,
		Module:       name + "_mod",
		Class:        "App",
		Dependencies: deps,
	}
}

// cfgOf assembles an AppConfig from definitions.
func cfgOf(defs ...*AppDefinition) *AppConfig {
	cfg := NewAppConfig()
	for _, def := range defs {
		cfg.Apps[def.Name] = def
	}
	return cfg
}

func setOf(names ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }
