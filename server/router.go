package server

import (
	"os"
	"path"
	"path/filepath"

	"github.com/eudore/tinyhttpd"
	"github.com/eudore/tinyhttpd/protocol/http"
	"golang.org/x/sys/unix"
)

// Web root subdirectories.
const (
	DirDynamic = "dynamic"
	DirStatic  = "static"
)

// Route is a request resolved to a file.
type Route struct {
	Dynamic bool
	// Filename is the absolute file path under the dynamic or static root.
	Filename string
}

// Router maps requests to files under a web root.
type Router struct {
	WebDir string
}

// NewRouter creates a [Router] for webDir.
func NewRouter(webDir string) *Router {
	return &Router{WebDir: filepath.Clean(webDir)}
}

// IsDynamic reports whether req is answered by the gateway:
// a POST or a request with a non-empty query string.
func IsDynamic(req *http.Request) bool {
	return req.Method == http.MethodPost || req.Query != ""
}

// Resolve maps req to <web_dir>/dynamic/<path> or <web_dir>/static/<path>.
//
// The path is cleaned as an absolute path first, so ".." never leaves the root.
func (r *Router) Resolve(req *http.Request) (Route, error) {
	if req.Path == "" {
		return Route{}, &tinyhttpd.PathResolutionError{Path: req.Path, Err: tinyhttpd.ErrEmptyPath}
	}
	route := Route{Dynamic: IsDynamic(req)}
	dir := DirStatic
	if route.Dynamic {
		dir = DirDynamic
	}
	route.Filename = filepath.Join(r.WebDir, dir, filepath.FromSlash(path.Clean("/"+req.Path)))
	return route, nil
}

// Check reports whether the route target is a regular file the server may
// use: executable for dynamic routes, readable for static routes.
func (r *Router) Check(route Route) bool {
	info, err := os.Stat(route.Filename)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	mode := uint32(unix.R_OK)
	if route.Dynamic {
		mode = unix.X_OK
	}
	return unix.Access(route.Filename, mode) == nil
}
