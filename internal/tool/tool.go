// Package tool defines the tool abstraction the reasoning loop invokes and a
// registry that validates arguments against each tool's JSON Schema before
// dispatch.
package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/voxtail/voxtail/pkg/types"
)

// ErrNotFound is returned when invoking a tool name the registry does not
// know.
var ErrNotFound = errors.New("tool: not found")

// Tool is a single capability the model may invoke.
//
// Invoke returns the result text handed back to the model. Implementations
// must honour ctx cancellation; the caller applies the per-invocation
// timeout.
type Tool interface {
	// Definition describes the tool to the model.
	Definition() types.ToolDefinition

	// Invoke runs the tool with already-validated arguments.
	Invoke(ctx context.Context, args map[string]any) (string, error)
}

// Registry holds the session-independent tool set. Registration happens at
// startup; lookups and invocations are concurrent.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*entry
}

type entry struct {
	tool     Tool
	def      types.ToolDefinition
	resolved *jsonschema.Resolved
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*entry)}
}

// Register adds a tool. The name must be unique and the parameter schema must
// compile; both are startup errors.
func (r *Registry) Register(t Tool) error {
	def := t.Definition()
	if def.Name == "" {
		return errors.New("tool: definition name must not be empty")
	}

	resolved, err := compileSchema(def.Parameters)
	if err != nil {
		return fmt.Errorf("tool: %s: compile schema: %w", def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool: %s already registered", def.Name)
	}
	r.tools[def.Name] = &entry{tool: t, def: def, resolved: resolved}
	return nil
}

// Catalog returns every tool definition, sorted by name for stable prompts.
func (r *Registry) Catalog() []types.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.ToolDefinition, 0, len(r.tools))
	for _, e := range r.tools {
		out = append(out, e.def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Invoke parses argsJSON, validates it against the tool's schema, and runs
// the tool. Unknown names return ErrNotFound.
func (r *Registry) Invoke(ctx context.Context, name, argsJSON string) (string, error) {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	args := map[string]any{}
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return "", fmt.Errorf("tool: %s: parse arguments: %w", name, err)
		}
	}
	if e.resolved != nil {
		if err := e.resolved.Validate(args); err != nil {
			return "", fmt.Errorf("tool: %s: invalid arguments: %w", name, err)
		}
	}
	return e.tool.Invoke(ctx, args)
}

// compileSchema turns the map-form schema into a resolved validator. A nil
// schema means the tool takes no arguments and skips validation.
func compileSchema(params map[string]any) (*jsonschema.Resolved, error) {
	if params == nil {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, err
	}
	return schema.Resolve(nil)
}
