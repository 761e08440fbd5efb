package http

import (
	"bytes"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// RootDocument is the single-page application entry served for client-side
// navigation paths.
const RootDocument = "index.html"

// Site is the live build output the router serves from. Root changes when a
// new build generation is swapped in.
type Site interface {
	Root() string
	// InjectedStyles returns URL paths of stylesheets to inject into the root
	// document (development style injection).
	InjectedStyles() []string
}

// DirSite serves a fixed directory.
type DirSite string

// Root returns the directory.
func (d DirSite) Root() string { return string(d) }

// InjectedStyles returns nothing.
func (DirSite) InjectedStyles() []string { return nil }

// Static serves files from the current build output, then from any extra
// content roots, with history API fallback to the root document.
type Static struct {
	site        Site
	contentBase []string
	fallback    bool
	injector    *Injector
}

// NewStatic creates a static handler. injector may be nil.
func NewStatic(site Site, contentBase []string, fallback bool, injector *Injector) *Static {
	return &Static{
		site:        site,
		contentBase: append([]string(nil), contentBase...),
		fallback:    fallback,
		injector:    injector,
	}
}

func (s *Static) roots() []string {
	roots := make([]string, 0, len(s.contentBase)+1)
	if s.site != nil {
		if root := s.site.Root(); root != "" {
			roots = append(roots, root)
		}
	}
	return append(roots, s.contentBase...)
}

// Serve writes the file for urlPath. Paths without an extension that match no
// file resolve to the root document with status 200 when fallback is on.
func (s *Static) Serve(w http.ResponseWriter, r *http.Request, urlPath string) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method+" is not allowed on static content")
		return
	}

	clean := path.Clean("/" + urlPath)
	if file, ok := s.find(clean); ok {
		s.serveFile(w, r, file)
		return
	}

	if s.fallback && path.Ext(clean) == "" {
		if file, ok := s.find("/" + RootDocument); ok {
			s.serveFile(w, r, file)
			return
		}
	}

	writeError(w, http.StatusNotFound, "not_found", clean+" not found")
}

func (s *Static) find(clean string) (string, bool) {
	for _, root := range s.roots() {
		candidate := filepath.Join(root, filepath.FromSlash(clean))
		info, err := os.Stat(candidate)
		if err != nil {
			continue
		}
		if info.IsDir() {
			index := filepath.Join(candidate, RootDocument)
			if fi, err := os.Stat(index); err == nil && !fi.IsDir() {
				return index, true
			}
			continue
		}
		return candidate, true
	}
	return "", false
}

func (s *Static) serveFile(w http.ResponseWriter, r *http.Request, file string) {
	w.Header().Set("Cache-Control", "no-cache")

	if s.injector != nil && isHTML(file) {
		data, err := os.ReadFile(file)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "read_failed", err.Error())
			return
		}
		var styles []string
		if s.site != nil {
			styles = s.site.InjectedStyles()
		}
		if out, err := s.injector.Inject(data, styles); err == nil {
			data = out
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		http.ServeContent(w, r, filepath.Base(file), time.Time{}, bytes.NewReader(data))
		return
	}

	f, err := os.Open(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read_failed", err.Error())
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read_failed", err.Error())
		return
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func isHTML(file string) bool {
	ext := strings.ToLower(filepath.Ext(file))
	return ext == ".html" || ext == ".htm"
}
