package main

import (
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"

	procui "github.com/clmc/procurement/ui"
)

// registerSPA mounts the embedded SPA shell. Routing happens in the location
// hash, so any GET that is not a static asset serves index.html.
func registerSPA(mux *http.ServeMux, log *slog.Logger) {
	sub, err := fs.Sub(procui.FS, "dist")
	if err != nil {
		log.Error("embed ui/dist: sub failed", "err", err)
		return
	}
	mux.Handle("GET /", spaHandler{root: sub, fs: http.FileServer(http.FS(sub))})
}

type spaHandler struct {
	root fs.FS
	fs   http.Handler
}

func (s spaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
	if name == "" {
		s.fs.ServeHTTP(w, r)
		return
	}
	if _, err := fs.Stat(s.root, name); err != nil {
		http.ServeFileFS(w, r, s.root, "index.html")
		return
	}
	s.fs.ServeHTTP(w, r)
}
