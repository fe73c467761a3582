package control

import (
	"context"
	"encoding/json"
	"iter"
	"slices"
	"sync"
)

// HandlerFunc is the signature for command handlers. The returned value is
// serialized and merged into the response; a returned error becomes an error
// response. Returning an *Error selects the structured code. The keys "id"
// and "timestamp" belong to the response envelope: a handler result carrying
// them loses them, so name entity ids something else (for example "task_id").
type HandlerFunc func(ctx context.Context, params json.RawMessage, call *Call) (any, error)

// Call describes the invocation a handler is serving.
type Call struct {
	Command   string
	RequestID string
	SessionID string
	Sequence  int64
	Conn      *Conn
}

// Param declares one command parameter for discovery.
type Param struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// Schema is the discoverable metadata of a command.
type Schema struct {
	Description string
	Params      []Param
}

// Command is a registered handler plus its schema.
type Command struct {
	Name    string
	Handler HandlerFunc
	Schema  Schema
}

// ToolInfo is the capability record published by list-tools.
type ToolInfo struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Parameters  []Param `json:"parameters"`
}

// Registry maps command names to handlers. Registration is expected to
// happen before the server starts taking traffic.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]Command
}

// NewRegistry creates an empty command registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]Command)}
}

// Register stores a command. An existing command of the same name is
// replaced; the last registration wins.
func (r *Registry) Register(name string, handler HandlerFunc, schema Schema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[name] = Command{Name: name, Handler: handler, Schema: schema}
}

// Lookup returns the command registered under name.
func (r *Registry) Lookup(name string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[name]
	return cmd, ok
}

// Names returns the registered command names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	r.mu.RUnlock()
	slices.Sort(names)
	return names
}

// Len returns the number of registered commands.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}

// List yields a capability record per command in name order. Each range over
// the sequence takes a fresh snapshot, so it can be iterated any number of times.
func (r *Registry) List() iter.Seq[ToolInfo] {
	return func(yield func(ToolInfo) bool) {
		for _, name := range r.Names() {
			cmd, ok := r.Lookup(name)
			if !ok {
				continue
			}
			params := cmd.Schema.Params
			if params == nil {
				params = []Param{}
			}
			if !yield(ToolInfo{Name: name, Description: cmd.Schema.Description, Parameters: params}) {
				return
			}
		}
	}
}
