// Package assets bundles the stylesheet and icon the rendered page links to
// and serves them behind files found next to the document.
package assets

import (
	"embed"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

//go:embed static/*
var embedded embed.FS

// FS returns the embedded assets rooted at their serving paths.
func FS() fs.FS {
	sub, err := fs.Sub(embedded, "static")
	if err != nil {
		// static/ is compiled in; Sub only fails on an invalid dir name.
		panic(err)
	}
	return sub
}

// Names lists every embedded asset in lexical order.
func Names() ([]string, error) {
	var names []string
	err := fs.WalkDir(FS(), ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			names = append(names, p)
		}
		return nil
	})
	return names, err
}

// Handler serves a request path from docDir when a regular file exists
// there, otherwise from the embedded assets, otherwise 404.
func Handler(docDir string) http.Handler {
	local := http.FileServer(http.Dir(docDir))
	bundled := http.FileServerFS(FS())

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
		if name == "" {
			http.NotFound(w, r)
			return
		}

		if isRegularFile(docDir, name) {
			local.ServeHTTP(w, r)
			return
		}

		if info, err := fs.Stat(FS(), name); err == nil && !info.IsDir() {
			bundled.ServeHTTP(w, r)
			return
		}

		http.NotFound(w, r)
	})
}

func isRegularFile(dir, name string) bool {
	if dir == "" {
		return false
	}
	info, err := os.Stat(filepath.Join(dir, filepath.FromSlash(name)))
	return err == nil && info.Mode().IsRegular()
}
