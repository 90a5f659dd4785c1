// Package route resolves request paths to handlers over a namespace tree.
// External paths use hyphenated segments; registered names use underscores.
// Two implementations share the Resolver interface: the eager Registry used
// in production and the file-backed Discovery used in development.
package route

import (
	"fmt"
	"net/http"
	"path"
	"strings"
	"sync"
)

// HandlerFunc handles a resolved route. Errors propagate to the pipeline's
// error boundary.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Resolver maps a request path to a handler.
type Resolver interface {
	Resolve(path string) (HandlerFunc, bool)
}

type node struct {
	children map[string]*node
	handler  HandlerFunc
}

// Registry is the eager resolver: every handler is registered at startup
// and resolution is a pure lookup.
type Registry struct {
	mu   sync.RWMutex
	root *node
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{root: &node{children: make(map[string]*node)}}
}

// Handle registers a handler at the given namespace path. Registering the
// same fully-qualified path twice is a programming error and panics.
func (reg *Registry) Handle(p string, h HandlerFunc) {
	segments := split(p)

	reg.mu.Lock()
	defer reg.mu.Unlock()

	n := reg.root
	for _, seg := range segments {
		child, ok := n.children[seg]
		if !ok {
			child = &node{children: make(map[string]*node)}
			n.children[seg] = child
		}
		n = child
	}
	if n.handler != nil {
		panic(fmt.Sprintf("route: duplicate registration for %q", p))
	}
	n.handler = h
}

// Resolve looks up the handler for an external request path.
func (reg *Registry) Resolve(p string) (HandlerFunc, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	n := reg.root
	for _, seg := range split(p) {
		child, ok := n.children[seg]
		if !ok {
			return nil, false
		}
		n = child
	}
	if n.handler == nil {
		return nil, false
	}
	return n.handler, true
}

// Chain tries each resolver in order, first hit wins. Development stacks
// the eager built-ins in front of filesystem discovery.
func Chain(resolvers ...Resolver) Resolver {
	return chain(resolvers)
}

type chain []Resolver

func (c chain) Resolve(p string) (HandlerFunc, bool) {
	for _, r := range c {
		if h, ok := r.Resolve(p); ok {
			return h, true
		}
	}
	return nil, false
}

// split normalizes a path into internal segment names. Hyphens in external
// segments map to underscores so "/reset-password-request" and
// "reset_password_request" name the same entry.
func split(p string) []string {
	p = path.Clean("/" + p)
	if p == "/" {
		return nil
	}
	segments := strings.Split(strings.Trim(p, "/"), "/")
	for i, seg := range segments {
		segments[i] = strings.ReplaceAll(seg, "-", "_")
	}
	return segments
}
