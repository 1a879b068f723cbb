package tools

import (
	"fmt"
	"sort"
	"sync"

	"github.com/killallgit/threadline/pkg/logger"
)

// Registry holds the tools available to a thread
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	log   *logger.ComponentLogger
}

// NewRegistry creates a new tool registry
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
		log:   logger.WithComponent("tools"),
	}
}

// Register adds a tool to the registry
func (r *Registry) Register(tool Tool) error {
	if tool.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if tool.Kind == "" {
		tool.Kind = KindFrontend
	}
	if tool.Kind != KindFrontend && tool.Kind != KindBackend {
		return fmt.Errorf("tool %s has unknown kind %q", tool.Name, tool.Kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("tool %s already registered", tool.Name)
	}

	r.tools[tool.Name] = tool
	r.log.Debug("Registered tool: %s (%s)", tool.Name, tool.Kind)
	return nil
}

// MustRegister registers every tool and panics on the first failure
func (r *Registry) MustRegister(tools ...Tool) {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Unregister removes a tool from the registry
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.tools, name)
}

// SetDisabled toggles whether a tool may be called
func (r *Registry) SetDisabled(name string, disabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	tool, exists := r.tools[name]
	if !exists {
		return false
	}
	tool.Disabled = disabled
	r.tools[name] = tool
	return true
}

// Get retrieves a tool by name
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, exists := r.tools[name]
	return tool, exists
}

// Names returns all registered tool names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Advertised returns the definitions sent to the model: disabled tools and
// backend tools are left out, the remote side already knows its own tools.
func (r *Registry) Advertised() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.tools))
	for _, tool := range r.tools {
		if tool.Disabled || tool.Kind == KindBackend {
			continue
		}
		params := tool.Parameters
		if params == nil {
			params = NewJSONSchema()
		}
		defs = append(defs, Definition{Name: tool.Name, Description: tool.Description, Parameters: params})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}
