package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mudler/LocalEntity/pkg/xlog"
)

// Registry holds the tools available to the execution side and renders their
// catalog for prompts.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	order  []string
	logger *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger attaches a logger.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry builds an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		tools:  map[string]Tool{},
		logger: xlog.Nop(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register adds a tool under its definition name.
func (r *Registry) Register(t Tool) error {
	name := t.Definition().Name
	if name == "" {
		return fmt.Errorf("tool has no name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool already registered: %s", name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	r.logger.Debug("tool registered", "tool", name)
	return nil
}

// Deregister removes a tool by name.
func (r *Registry) Deregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; !exists {
		return false
	}
	delete(r.tools, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names lists registered tools in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string{}, r.order...)
}

// Definitions lists tool definitions in registration order.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Execute runs a named tool. An unknown name is an error, which callers treat
// as a failed step.
func (r *Registry) Execute(ctx context.Context, name string, params Params) (Result, error) {
	tool, ok := r.Get(name)
	if !ok {
		return Result{}, fmt.Errorf("tool not found: %s", name)
	}

	start := time.Now()
	result, err := tool.Run(ctx, params)
	elapsed := time.Since(start)

	if err != nil {
		r.logger.Error("tool execution failed", "tool", name, "error", err, "elapsed", elapsed)
		return Result{}, err
	}
	r.logger.Debug("tool executed", "tool", name, "elapsed", elapsed)
	return result, nil
}

// Describe renders the full tool catalog grouped by category, for the system
// prompt.
func (r *Registry) Describe() string {
	defs := r.Definitions()

	byCategory := map[string][]Definition{}
	for _, d := range defs {
		category := d.Category
		if category == "" {
			category = "general"
		}
		byCategory[category] = append(byCategory[category], d)
	}

	categories := make([]string, 0, len(byCategory))
	for c := range byCategory {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	lines := []string{"## Available tools:"}
	for _, category := range categories {
		lines = append(lines, "", "### "+capitalize(category)+":")
		for _, d := range byCategory[category] {
			lines = append(lines, "", fmt.Sprintf("**%s** - %s", d.Name, d.Description))
			if len(d.Properties) > 0 {
				lines = append(lines, "  Parameters:")
				for _, name := range d.ParamNames() {
					lines = append(lines, fmt.Sprintf("    - `%s`: %s", name, d.Properties[name].Description))
				}
			}
		}
	}
	return strings.Join(lines, "\n")
}

// Catalog renders a compact one-line-per-tool listing.
func (r *Registry) Catalog() string {
	defs := r.Definitions()

	lines := []string{"Available functions:"}
	for _, d := range defs {
		lines = append(lines, fmt.Sprintf("- %s(%s) - %s", d.Name, strings.Join(d.ParamNames(), ", "), d.Description))
	}
	return strings.Join(lines, "\n")
}
