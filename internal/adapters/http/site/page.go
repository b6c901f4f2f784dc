// Package site serves the embedded single-page upload UI.
package site

import (
	"context"
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static
var assets embed.FS

// Register attaches the page and its assets at /. It panics on a nil mux.
func Register(_ context.Context, mux *http.ServeMux) {
	if mux == nil {
		panic("mux is nil")
	}
	mux.Handle("/", NewPageHandler())
}

// PageHandler serves index.html, app.js and style.css.
type PageHandler struct {
	files http.Handler
}

// NewPageHandler creates a handler over the embedded static directory.
func NewPageHandler() *PageHandler {
	return &PageHandler{files: http.FileServer(http.FS(staticRoot()))}
}

func staticRoot() fs.FS {
	sub, err := fs.Sub(assets, "static")
	if err != nil {
		// fs.Sub only fails on an invalid path.
		panic(err)
	}
	return sub
}

// ServeHTTP answers GET and HEAD; the page polls the API, so assets are
// served with no-cache.
func (h *PageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Cache-Control", "no-cache")
	h.files.ServeHTTP(w, r)
}
