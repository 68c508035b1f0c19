package apphost

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// AppInstance is one live app in the registry: the owning reference to the
// constructed object plus its identity and worker-pin metadata. Instances
// are created by the executor's construct phase and destroyed on
// termination. The registry is the sole owner; every other subsystem holds
// only name-keyed references.
type AppInstance struct {
	// Object is the constructed user-supplied app object.
	Object any

	// ID is the generated identity token for this construction.
	ID uuid.UUID

	// Pinned reports whether the app should be pinned to a worker.
	Pinned bool

	// Thread is the resolved worker index, or -1 when unpinned.
	Thread int

	// Ready is set once the initialize hook completed without error.
	Ready bool
}

// InstanceInfo is the read-only listing entry for one registered app.
type InstanceInfo struct {
	Name   string    `json:"name"`
	ID     uuid.UUID `json:"id"`
	Pinned bool      `json:"pinned"`
	Thread int       `json:"thread"`
	Ready  bool      `json:"ready"`
}

// Registry is the concurrently accessed mapping from app name to live
// instance. The mutex guards only pointer and metadata mutation; it is
// never held across an invocation of user-supplied code, so a slow app hook
// cannot block registry access for unrelated apps.
type Registry struct {
	mu        sync.Mutex
	instances map[string]*AppInstance
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{instances: make(map[string]*AppInstance)}
}

// Get returns the instance registered under name, or false.
func (r *Registry) Get(name string) (*AppInstance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[name]
	return inst, ok
}

// Object returns the app object registered under name, or nil.
func (r *Registry) Object(name string) any {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst, ok := r.instances[name]; ok {
		return inst.Object
	}
	return nil
}

// Put registers an instance under name, replacing any previous entry.
func (r *Registry) Put(name string, inst *AppInstance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[name] = inst
}

// Remove deletes the entry for name and returns it, or false when absent.
func (r *Registry) Remove(name string) (*AppInstance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[name]
	if ok {
		delete(r.instances, name)
	}
	return inst, ok
}

// MarkReady records that the named app's initialize hook completed.
func (r *Registry) MarkReady(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst, ok := r.instances[name]; ok {
		inst.Ready = true
	}
}

// Len returns the number of registered instances.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instances)
}

// List returns listing entries for every registered app, sorted by name.
func (r *Registry) List() []InstanceInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]InstanceInfo, 0, len(r.instances))
	for name, inst := range r.instances {
		infos = append(infos, InstanceInfo{
			Name:   name,
			ID:     inst.ID,
			Pinned: inst.Pinned,
			Thread: inst.Thread,
			Ready:  inst.Ready,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// terminatorFor captures the terminate hook of the named app, if any,
// without invoking it. The hook is called by the executor after the lock is
// released.
func (r *Registry) terminatorFor(name string) (Terminator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[name]
	if !ok {
		return nil, false
	}
	term, ok := inst.Object.(Terminator)
	return term, ok
}
