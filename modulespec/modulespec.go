// Package modulespec loads the module specification file that tells the
// runtime what functions it can admit and how to budget them.
//
// Per the Non-goals (guest translation/execution is an external
// collaborator), this package is deliberately built on encoding/json
// alone: it is a boundary format read once at startup, not a concern the
// corpus reaches for a library to solve, and the original's own file is
// plain JSON with no schema extensions a richer library would buy us.
package modulespec

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Module describes one admittable function: its name, the WebAssembly
// module path (never opened by this package — that is the translation
// layer's job), and its budgets. The listener applies RelativeDeadline to
// each request it admits; MemorySizeBytes is validated at load time and
// not otherwise read by the runtime.
type Module struct {
	Name             string        `json:"name"`
	Path             string        `json:"path"`
	Port             int           `json:"port"`
	MemorySizeBytes  int           `json:"memory_size_bytes"`
	RelativeDeadline time.Duration `json:"-"`
	RelativeDeadlineUsec int64     `json:"relative_deadline_us"`
	HTTPBinding      string        `json:"http_binding,omitempty"`
}

// ModuleSpec is the top-level module-spec file: a list of admittable
// modules.
type ModuleSpec struct {
	Modules []Module `json:"modules"`
}

// LoadFile reads and parses path, deriving RelativeDeadline from each
// module's microsecond field and validating each module's name, memory
// size and deadline.
func LoadFile(path string) (*ModuleSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("modulespec: read %s: %w", path, err)
	}

	var spec ModuleSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("modulespec: parse %s: %w", path, err)
	}

	for i := range spec.Modules {
		m := &spec.Modules[i]
		if m.Name == "" {
			return nil, fmt.Errorf("modulespec: module %d: name is required", i)
		}
		if m.MemorySizeBytes <= 0 {
			return nil, fmt.Errorf("modulespec: module %q: memory_size_bytes must be positive", m.Name)
		}
		if m.RelativeDeadlineUsec <= 0 {
			return nil, fmt.Errorf("modulespec: module %q: relative_deadline_us must be positive", m.Name)
		}
		m.RelativeDeadline = time.Duration(m.RelativeDeadlineUsec) * time.Microsecond
	}

	return &spec, nil
}

// Lookup returns the module named name, or (nil, false) if the spec does
// not define it — the listener consults this before admitting a request.
func (s *ModuleSpec) Lookup(name string) (*Module, bool) {
	for i := range s.Modules {
		if s.Modules[i].Name == name {
			return &s.Modules[i], true
		}
	}
	return nil, false
}
