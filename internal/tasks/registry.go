// Package tasks contains the concrete automation tasks and the registry
// that builds them from configuration. Each task kind registers a factory;
// typed parameters are decoded from the task definition's params table.
package tasks

import (
	"fmt"
	"log/slog"
	"sort"

	"siegebot/internal/core"
	"siegebot/internal/device"
	"siegebot/internal/vision"
)

// Deps carries the shared collaborators every task factory may need.
type Deps struct {
	Device device.Provider
	Vision vision.Matcher
	Logger *slog.Logger
}

// DecodeFunc decodes the task's params table into a typed struct. It is a
// no-op when the definition carries no params.
type DecodeFunc func(v any) error

// Factory builds a task of one kind from its decoded parameters.
type Factory func(deps Deps, decode DecodeFunc) (core.Task, error)

var registry = map[string]Factory{}

// Register adds a task kind. It panics on duplicates; kinds are registered
// from init functions and a collision is a programming error.
func Register(kind string, f Factory) {
	if _, ok := registry[kind]; ok {
		panic(fmt.Sprintf("tasks: kind %q registered twice", kind))
	}
	registry[kind] = f
}

// Kinds returns the registered kinds, sorted.
func Kinds() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build constructs a task of the given kind.
func Build(kind string, deps Deps, decode DecodeFunc) (core.Task, error) {
	f, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("unknown task kind %q", kind)
	}
	if decode == nil {
		decode = func(any) error { return nil }
	}
	return f(deps, decode)
}
