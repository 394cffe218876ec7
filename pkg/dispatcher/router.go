package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/mbakri/corvo/pkg/mcp"
)

// Session is the slice of an MCP session the dispatcher needs.
// *mcp.Session satisfies it.
type Session interface {
	Name() string
	State() mcp.State
	Tools() []mcp.Tool
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error)
}

type route struct {
	session  Session
	toolName string // original name on the owning server
	tool     mcp.Tool
	schema   *gojsonschema.Schema
}

// Router is the static tool-name to server table, built at
// configuration time from each session's catalog.
type Router struct {
	mu     sync.RWMutex
	routes map[string]route
	order  []string
}

// NewRouter creates an empty routing table.
func NewRouter() *Router {
	return &Router{routes: make(map[string]route)}
}

// Register maps every tool of the session's cached catalog. A name
// already taken by another server is registered under a
// server-prefixed alias. Returns the registered names.
func (r *Router) Register(sess Session) ([]string, error) {
	if sess == nil {
		return nil, fmt.Errorf("session is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	registered := make([]string, 0, len(sess.Tools()))
	for _, tool := range sess.Tools() {
		if tool.Name == "" {
			continue
		}

		name := tool.Name
		if _, taken := r.routes[name]; taken {
			name = fmt.Sprintf("%s_%s", sess.Name(), tool.Name)
		}
		if _, taken := r.routes[name]; taken {
			return registered, fmt.Errorf("tool %s already registered", name)
		}

		rt := route{session: sess, toolName: tool.Name, tool: tool}
		rt.tool.Name = name
		if len(tool.InputSchema) > 0 {
			schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(tool.InputSchema))
			if err == nil {
				rt.schema = schema
			}
			// An uncompilable schema just disables pre-validation; the
			// server still enforces its own contract.
		}

		r.routes[name] = rt
		r.order = append(r.order, name)
		registered = append(registered, name)
	}

	return registered, nil
}

// Resolve looks up the route for a registered tool name.
func (r *Router) Resolve(name string) (route, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.routes[name]
	return rt, ok
}

// Catalog returns all registered tools in registration order, under
// their registered names.
func (r *Router) Catalog() []mcp.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]mcp.Tool, 0, len(r.order))
	for _, name := range r.order {
		tools = append(tools, r.routes[name].tool)
	}
	return tools
}

// Reset drops every route; used when catalogs are rebuilt after a
// servers-file change.
func (r *Router) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = make(map[string]route)
	r.order = nil
}
