package server

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/eudore/tinyhttpd"
	"github.com/eudore/tinyhttpd/protocol/http"
)

func TestRouterResolve(t *testing.T) {
	r := NewRouter("/srv/www/")
	data := []struct {
		req      http.Request
		dynamic  bool
		filename string
	}{
		{http.Request{Method: http.MethodGet, Path: "/index.html"}, false, "/srv/www/static/index.html"},
		{http.Request{Method: http.MethodGet, Path: "/app.cgi", Query: "x=1"}, true, "/srv/www/dynamic/app.cgi"},
		{http.Request{Method: http.MethodPost, Path: "/app.cgi"}, true, "/srv/www/dynamic/app.cgi"},
		{http.Request{Method: http.MethodGet, Path: "/../../etc/passwd"}, false, "/srv/www/static/etc/passwd"},
		{http.Request{Method: http.MethodPost, Path: "a/../../b.cgi"}, true, "/srv/www/dynamic/b.cgi"},
	}
	for _, d := range data {
		route, err := r.Resolve(&d.req)
		if err != nil {
			t.Fatal(err)
		}
		if route.Dynamic != d.dynamic || route.Filename != filepath.FromSlash(d.filename) {
			t.Errorf("%s: got %+v", d.req.Path, route)
		}
	}

	_, err := r.Resolve(&http.Request{Method: http.MethodGet})
	var pe *tinyhttpd.PathResolutionError
	if !errors.As(err, &pe) || !errors.Is(err, tinyhttpd.ErrEmptyPath) {
		t.Errorf("empty path: got %v", err)
	}
}

func TestRouterCheck(t *testing.T) {
	dir := newWebDir(t)
	r := NewRouter(dir)
	data := []struct {
		route Route
		ok    bool
	}{
		{Route{false, filepath.Join(dir, "static/index.html")}, true},
		{Route{false, filepath.Join(dir, "static")}, false},
		{Route{false, filepath.Join(dir, "static/missing")}, false},
		{Route{true, filepath.Join(dir, "dynamic/app.cgi")}, true},
		{Route{true, filepath.Join(dir, "dynamic/noexec.cgi")}, false},
	}
	for _, d := range data {
		if ok := r.Check(d.route); ok != d.ok {
			t.Errorf("%s: got %v", d.route.Filename, ok)
		}
	}
}
