package apphost

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/golobby/cast"
)

var errCoerce = errors.New("cannot coerce document value")

// GlobalModulesKey is the reserved document entry naming shared library
// modules. It is not an app and is exempt from module/class validation.
const GlobalModulesKey = "global_modules"

// DefaultPriority is the scheduling priority of apps that participate in no
// dependency chain and declare no priority of their own.
const DefaultPriority = 50.0

// AppDefinition is one logical app as declared in a configuration document.
// Definitions are replaced wholesale each cycle when their source document
// changes and are immutable between cycles.
type AppDefinition struct {
	// Name is the unique app key, taken from the document entry name.
	Name string

	// Module is the code module backing this app.
	Module string

	// Class is the user-supplied type the instance factory constructs.
	Class string

	// Dependencies lists apps that must initialize before this one.
	Dependencies []string

	// GlobalDependencies lists shared library modules this app uses.
	// A change to any of them reloads this app.
	GlobalDependencies []string

	// Priority is the declared scheduling priority, if any.
	// Lower initializes earlier and terminates later.
	Priority *float64

	// PinThread is the declared worker pin index, if any.
	PinThread *int

	// Disabled apps keep their definition but are never constructed.
	Disabled bool

	// Plugins lists external integrations this app references. An app with
	// no plugin reference reloads on every plugin-restart signal (fail-safe).
	Plugins []string

	// raw is the parsed document body, kept for structural diffing.
	raw map[string]any
}

// EffectivePriority returns the declared priority or DefaultPriority.
func (d *AppDefinition) EffectivePriority() float64 {
	if d.Priority != nil {
		return *d.Priority
	}
	return DefaultPriority
}

// DependsOnGlobal reports whether the app declares a dependency on the named
// global module.
func (d *AppDefinition) DependsOnGlobal(module string) bool {
	for _, gm := range d.GlobalDependencies {
		if gm == module {
			return true
		}
	}
	return false
}

// ReferencesPlugin reports whether the app should reload when the named
// plugin restarts. Apps with no declared plugin affinity always reload.
func (d *AppDefinition) ReferencesPlugin(plugin string) bool {
	if len(d.Plugins) == 0 {
		return true
	}
	if plugin == string(PluginAll) {
		return true
	}
	for _, p := range d.Plugins {
		if p == plugin {
			return true
		}
	}
	return false
}

// decodeDefinition converts a parsed document entry into an AppDefinition.
// Document values are coerced tolerantly: scalar-or-list fields accept both
// forms, and numeric fields accept whatever representation the document
// format produced.
func decodeDefinition(name string, body map[string]any) (*AppDefinition, error) {
	def := &AppDefinition{
		Name: name,
		raw:  body,
	}

	if v, ok := body["module"]; ok {
		def.Module = fmt.Sprintf("%v", v)
	}
	if v, ok := body["class"]; ok {
		def.Class = fmt.Sprintf("%v", v)
	}

	var err error
	if def.Dependencies, err = stringOrList(body["dependencies"]); err != nil {
		return nil, fmt.Errorf("%w: app %s: invalid dependencies: %w", ErrConfigInvalid, name, err)
	}
	if def.GlobalDependencies, err = stringOrList(body["global_dependencies"]); err != nil {
		return nil, fmt.Errorf("%w: app %s: invalid global_dependencies: %w", ErrConfigInvalid, name, err)
	}
	if def.Plugins, err = stringOrList(body["plugin"]); err != nil {
		return nil, fmt.Errorf("%w: app %s: invalid plugin: %w", ErrConfigInvalid, name, err)
	}

	if v, ok := body["priority"]; ok && v != nil {
		prio, err := castFloat(v)
		if err != nil {
			return nil, fmt.Errorf("%w: app %s: invalid priority: %w", ErrConfigInvalid, name, err)
		}
		def.Priority = &prio
	}
	if v, ok := body["pin_thread"]; ok && v != nil {
		pin, err := castInt(v)
		if err != nil {
			return nil, fmt.Errorf("%w: app %s: invalid pin_thread: %w", ErrConfigInvalid, name, err)
		}
		def.PinThread = &pin
	}
	if v, ok := body["disable"]; ok && v != nil {
		disabled, err := castBool(v)
		if err != nil {
			return nil, fmt.Errorf("%w: app %s: invalid disable: %w", ErrConfigInvalid, name, err)
		}
		def.Disabled = disabled
	}

	return def, nil
}

// stringOrList accepts a scalar or a list and returns a string slice.
// Documents commonly declare single-element fields as bare scalars.
func stringOrList(v any) ([]string, error) {
	if v == nil {
		return nil, nil
	}
	switch val := v.(type) {
	case string:
		return []string{val}, nil
	case []string:
		return append([]string(nil), val...), nil
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out, nil
	default:
		return []string{fmt.Sprintf("%v", val)}, nil
	}
}

func castFloat(v any) (float64, error) {
	converted, err := cast.FromType(fmt.Sprintf("%v", v), reflect.TypeOf(float64(0)))
	if err != nil {
		return 0, fmt.Errorf("%w: %v as float: %w", errCoerce, v, err)
	}
	f, ok := converted.(float64)
	if !ok {
		return 0, fmt.Errorf("%w: %v is not a float", errCoerce, v)
	}
	return f, nil
}

func castInt(v any) (int, error) {
	converted, err := cast.FromType(fmt.Sprintf("%v", v), reflect.TypeOf(int(0)))
	if err != nil {
		return 0, fmt.Errorf("%w: %v as int: %w", errCoerce, v, err)
	}
	i, ok := converted.(int)
	if !ok {
		return 0, fmt.Errorf("%w: %v is not an int", errCoerce, v)
	}
	return i, nil
}

func castBool(v any) (bool, error) {
	converted, err := cast.FromType(fmt.Sprintf("%v", v), reflect.TypeOf(false))
	if err != nil {
		return false, fmt.Errorf("%w: %v as bool: %w", errCoerce, v, err)
	}
	b, ok := converted.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %v is not a bool", errCoerce, v)
	}
	return b, nil
}
