// Package cache holds the most recently rendered page.
//
// The Cache has one writer, the rebuild path, and any number of concurrent
// readers. Rebuilds read and render into a local buffer and take the write
// lock only to swap the artifact pointer, so readers never wait for a render
// and always observe a complete artifact. A failed rebuild leaves the
// previous artifact in place.
package cache

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/conneroisu/meread/internal/errors"
	"github.com/conneroisu/meread/internal/renderer"
)

// Artifact is an immutable rendered page.
type Artifact struct {
	Content     []byte
	GeneratedAt time.Time
	Source      string
}

// Options are the render parameters stored alongside the artifact.
type Options struct {
	Title string
	Theme renderer.Theme
}

// Cache is the shared holder of the current Artifact.
type Cache struct {
	path     string
	renderer renderer.Renderer
	readFile func(string) ([]byte, error)
	now      func() time.Time

	mu       sync.RWMutex
	current  *Artifact
	options  Options
	rebuilds sync.Mutex
}

// New creates a cache for the markdown file at path. Initialize must be
// called before the cache is read.
func New(path string, r renderer.Renderer, opts Options) *Cache {
	return &Cache{
		path:     path,
		renderer: r,
		readFile: os.ReadFile,
		now:      time.Now,
		options:  opts,
	}
}

// Path returns the source document path.
func (c *Cache) Path() string {
	return c.path
}

// Options returns the render options used by the last successful build.
func (c *Cache) Options() Options {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.options
}

// Initialize performs the first synchronous render. Its failure means there
// is nothing to serve.
func (c *Cache) Initialize() (*Artifact, error) {
	if err := c.Rebuild(); err != nil {
		return nil, err
	}
	return c.Read(), nil
}

// Rebuild re-renders the source with the current options.
func (c *Cache) Rebuild() error {
	return c.RebuildWith(c.Options())
}

// RebuildWith re-reads and re-renders the source with opts and swaps the
// result in on success. It returns a ReadError or RenderError otherwise.
func (c *Cache) RebuildWith(opts Options) error {
	c.rebuilds.Lock()
	defer c.rebuilds.Unlock()

	source, err := c.readFile(c.path)
	if err != nil {
		return errors.NewReadError(c.path, err)
	}

	title := resolveTitle(opts.Title, source, c.path)

	content, err := c.renderer.Render(source, title, opts.Theme)
	if err != nil {
		return errors.NewRenderError(c.path, err)
	}

	next := &Artifact{
		Content:     content,
		GeneratedAt: c.now(),
		Source:      c.path,
	}

	c.mu.Lock()
	c.current = next
	c.options = opts
	c.mu.Unlock()

	return nil
}

// resolveTitle picks the configured title, then the front matter title,
// then the file name.
func resolveTitle(configured string, source []byte, path string) string {
	if configured != "" {
		return configured
	}
	if meta, _, err := renderer.SplitFrontMatter(source); err == nil && meta.Title != "" {
		return meta.Title
	}
	return filepath.Base(path)
}

// Read returns the current artifact, or nil before Initialize succeeded.
func (c *Cache) Read() *Artifact {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// ServeHTTP serves the current artifact as the page.
func (c *Cache) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	artifact := c.Read()
	if artifact == nil {
		http.Error(w, "document not rendered yet", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Last-Modified", artifact.GeneratedAt.UTC().Format(http.TimeFormat))
	w.Header().Set("Content-Length", strconv.Itoa(len(artifact.Content)))
	w.WriteHeader(http.StatusOK)

	if r.Method != http.MethodHead {
		_, _ = w.Write(artifact.Content)
	}
}
