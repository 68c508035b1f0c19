package apphost

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Engine errors
var (
	// Configuration errors
	ErrConfigRead        = errors.New("failed to read app configuration")
	ErrConfigInvalid     = errors.New("app configuration has invalid structure")
	ErrHostConfigInvalid = errors.New("host configuration is invalid")

	// Dependency resolution errors
	ErrCyclicDependency  = errors.New("cyclic app dependencies detected")
	ErrDependencyMissing = errors.New("app depends on non-existent app")

	// Lifecycle errors
	ErrAppNotFound    = errors.New("app not found in registry")
	ErrConstructApp   = errors.New("failed to construct app instance")
	ErrInitializeApp  = errors.New("app initialize hook failed")
	ErrTerminateApp   = errors.New("app terminate hook failed")
	ErrModuleLoad     = errors.New("failed to load module")
	ErrModuleNotFound = errors.New("no monitored file found for module")
	ErrPinOutOfRange  = errors.New("pin_thread out of range")

	// Manager errors
	ErrManagerStopped = errors.New("app manager has been shut down")
	ErrNilLogger      = errors.New("logger cannot be nil")
	ErrNilFactory     = errors.New("instance factory cannot be nil")
)

// CycleError reports the apps the layered topological sort could not emit,
// together with the dependencies that were still unmet when the sort stalled.
// It wraps ErrCyclicDependency so callers can match with errors.Is.
type CycleError struct {
	// Stuck maps each unresolved app to its remaining unmet dependencies.
	Stuck map[string][]string
}

func (e *CycleError) Error() string {
	var b strings.Builder
	for i, name := range e.StuckApps() {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s -> [%s]", name, strings.Join(e.Stuck[name], " "))
	}
	return fmt.Sprintf("%s: %s", ErrCyclicDependency, b.String())
}

func (e *CycleError) Unwrap() error {
	return ErrCyclicDependency
}

// StuckApps returns the unresolved app names in sorted order.
func (e *CycleError) StuckApps() []string {
	names := make([]string, 0, len(e.Stuck))
	for name := range e.Stuck {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
