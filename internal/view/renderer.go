// Package view renders HTML responses. Templates are addressed by the
// identifier the pipeline passes ("/error", "/dashboard", "auth/login");
// every page renders inside the shared layout.
package view

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"
	"sync"
)

//go:embed templates
var embedded embed.FS

// Data carries values into a template. NewData presets the keys the layout
// dereferences so pages never fail on a missing map.
type Data map[string]any

// NewData returns template data with empty Flash and Old maps.
func NewData() Data {
	return Data{
		"Flash": map[string]string{},
		"Old":   map[string]string{},
	}
}

// Renderer resolves template identifiers and renders pages. It caches parsed
// templates unless reload is enabled, in which case every render re-parses
// so template edits show up without a restart.
type Renderer struct {
	fsys   fs.FS
	mu     sync.RWMutex
	cache  map[string]*template.Template
	reload bool
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithReload disables the template cache. Development only.
func WithReload() Option {
	return func(r *Renderer) { r.reload = true }
}

// WithFS overrides the template source. Defaults to the embedded set.
func WithFS(fsys fs.FS) Option {
	return func(r *Renderer) { r.fsys = fsys }
}

// New creates a Renderer over the embedded templates.
func New(opts ...Option) (*Renderer, error) {
	sub, err := fs.Sub(embedded, "templates")
	if err != nil {
		return nil, fmt.Errorf("view: embedded templates: %w", err)
	}

	r := &Renderer{fsys: sub, cache: make(map[string]*template.Template)}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Render writes the named page into w. Identifiers map to template files:
// "/error" and "error" both resolve to error.html.
func (r *Renderer) Render(w io.Writer, name string, data any) error {
	tmpl, err := r.lookup(name)
	if err != nil {
		return err
	}
	return tmpl.ExecuteTemplate(w, "layout", data)
}

// RenderFile renders an on-disk page template inside the shared layout.
// Used by discovery-mode routes, whose pages live outside the binary.
func (r *Renderer) RenderFile(w io.Writer, filePath string, data any) error {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("view: read page %s: %w", filePath, err)
	}

	tmpl, err := r.layout()
	if err != nil {
		return err
	}
	tmpl, err = tmpl.Parse(string(content))
	if err != nil {
		return fmt.Errorf("view: parse page %s: %w", filePath, err)
	}
	return tmpl.ExecuteTemplate(w, "layout", data)
}

func (r *Renderer) lookup(name string) (*template.Template, error) {
	file := strings.TrimPrefix(path.Clean(name), "/") + ".html"

	if !r.reload {
		r.mu.RLock()
		cached, ok := r.cache[file]
		r.mu.RUnlock()
		if ok {
			return cached, nil
		}
	}

	tmpl, err := r.parse(file)
	if err != nil {
		return nil, err
	}

	if !r.reload {
		r.mu.Lock()
		r.cache[file] = tmpl
		r.mu.Unlock()
	}
	return tmpl, nil
}

func (r *Renderer) parse(file string) (*template.Template, error) {
	tmpl, err := r.layout()
	if err != nil {
		return nil, err
	}
	content, err := fs.ReadFile(r.fsys, file)
	if err != nil {
		return nil, fmt.Errorf("view: unknown template %s: %w", file, err)
	}
	tmpl, err = tmpl.Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("view: parse %s: %w", file, err)
	}
	return tmpl, nil
}

func (r *Renderer) layout() (*template.Template, error) {
	content, err := fs.ReadFile(r.fsys, "layout.html")
	if err != nil {
		return nil, fmt.Errorf("view: layout: %w", err)
	}
	tmpl, err := template.New("layout").Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("view: parse layout: %w", err)
	}
	return tmpl, nil
}
