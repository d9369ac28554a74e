package cache

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/conneroisu/meread/internal/errors"
	"github.com/conneroisu/meread/internal/renderer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoRenderer returns "<title>|<theme>|<source>".
type echoRenderer struct {
	calls atomic.Int32
}

func (e *echoRenderer) Render(source []byte, title string, theme renderer.Theme) ([]byte, error) {
	e.calls.Add(1)
	return []byte(fmt.Sprintf("%s|%s|%s", title, theme, source)), nil
}

type failingRenderer struct{}

func (failingRenderer) Render([]byte, string, renderer.Theme) ([]byte, error) {
	return nil, fmt.Errorf("renderer exploded")
}

// gateRenderer blocks every render until release is closed.
type gateRenderer struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gateRenderer) Render(source []byte, _ string, _ renderer.Theme) ([]byte, error) {
	g.entered <- struct{}{}
	<-g.release
	return append([]byte(nil), source...), nil
}

func writeDoc(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "README.md")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestInitialize(t *testing.T) {
	path := writeDoc(t, "# Hello")
	c := New(path, &echoRenderer{}, Options{Theme: renderer.ThemeLight})

	assert.Nil(t, c.Read())

	artifact, err := c.Initialize()
	require.NoError(t, err)
	assert.Equal(t, "README.md|light|# Hello", string(artifact.Content))
	assert.False(t, artifact.GeneratedAt.IsZero())
	assert.Same(t, artifact, c.Read())
}

func TestInitializeErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		c := New(filepath.Join(t.TempDir(), "missing.md"), &echoRenderer{}, Options{})
		_, err := c.Initialize()
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeRead))
		assert.Nil(t, c.Read())
	})

	t.Run("render failure", func(t *testing.T) {
		c := New(writeDoc(t, "# x"), failingRenderer{}, Options{})
		_, err := c.Initialize()
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeRender))
		assert.Nil(t, c.Read())
	})
}

func TestRebuildPicksUpChanges(t *testing.T) {
	path := writeDoc(t, "# Hello")
	c := New(path, &echoRenderer{}, Options{Title: "Doc"})
	_, err := c.Initialize()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("# World"), 0644))
	require.NoError(t, c.Rebuild())
	assert.Equal(t, "Doc||# World", string(c.Read().Content))

	require.NoError(t, c.RebuildWith(Options{Title: "Other", Theme: renderer.ThemeDark}))
	assert.Equal(t, "Other|dark|# World", string(c.Read().Content))
	assert.Equal(t, "Other", c.Options().Title)
}

func TestFailedRebuildPreservesArtifact(t *testing.T) {
	path := writeDoc(t, "# Hello")
	c := New(path, &echoRenderer{}, Options{})
	_, err := c.Initialize()
	require.NoError(t, err)

	before := c.Read()
	beforeBytes := append([]byte(nil), before.Content...)

	require.NoError(t, os.Remove(path))
	err = c.Rebuild()
	require.Error(t, err)
	assert.True(t, errors.IsRecoverable(err))

	after := c.Read()
	assert.Same(t, before, after)
	assert.Equal(t, beforeBytes, after.Content)

	// A renderer failure is handled the same way.
	require.NoError(t, os.WriteFile(path, []byte("# World"), 0644))
	c.renderer = failingRenderer{}
	require.Error(t, c.Rebuild())
	assert.Equal(t, beforeBytes, c.Read().Content)
}

func TestReadDoesNotWaitForRender(t *testing.T) {
	path := writeDoc(t, "old")
	gate := &gateRenderer{entered: make(chan struct{}, 1), release: make(chan struct{})}

	c := New(path, &echoRenderer{}, Options{})
	_, err := c.Initialize()
	require.NoError(t, err)
	old := c.Read()

	c.renderer = gate
	require.NoError(t, os.WriteFile(path, []byte("new"), 0644))

	done := make(chan error, 1)
	go func() { done <- c.Rebuild() }()
	<-gate.entered

	read := make(chan *Artifact, 1)
	go func() { read <- c.Read() }()

	select {
	case got := <-read:
		assert.Same(t, old, got)
	case <-time.After(time.Second):
		t.Fatal("Read blocked while a render was in progress")
	}

	close(gate.release)
	require.NoError(t, <-done)
	assert.Equal(t, "new", string(c.Read().Content))
}

func TestConcurrentReadersSeeCompleteArtifacts(t *testing.T) {
	const size = 64 << 10
	oldContent := bytes.Repeat([]byte("a"), size)
	newContent := bytes.Repeat([]byte("b"), size)

	path := filepath.Join(t.TempDir(), "doc.md")
	require.NoError(t, os.WriteFile(path, oldContent, 0644))

	c := New(path, &echoRenderer{}, Options{Title: "t", Theme: "x"})
	_, err := c.Initialize()
	require.NoError(t, err)

	prefix := []byte("t|x|")
	valid := func(content []byte) bool {
		if !bytes.HasPrefix(content, prefix) {
			return false
		}
		body := content[len(prefix):]
		return bytes.Equal(body, oldContent) || bytes.Equal(body, newContent)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	var bad atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if !valid(c.Read().Content) {
					bad.Add(1)
				}
			}
		}()
	}

	for i := 0; i < 50; i++ {
		content := oldContent
		if i%2 == 0 {
			content = newContent
		}
		require.NoError(t, os.WriteFile(path, content, 0644))
		require.NoError(t, c.Rebuild())
	}

	close(stop)
	wg.Wait()
	assert.Zero(t, bad.Load())
}

func TestServeHTTP(t *testing.T) {
	c := New(writeDoc(t, "# Hello"), &echoRenderer{}, Options{Title: "T"})

	t.Run("before initialize", func(t *testing.T) {
		rec := httptest.NewRecorder()
		c.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	_, err := c.Initialize()
	require.NoError(t, err)

	t.Run("get", func(t *testing.T) {
		rec := httptest.NewRecorder()
		c.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
		assert.Equal(t, "T||# Hello", rec.Body.String())
		assert.Equal(t, "10", rec.Header().Get("Content-Length"))
		assert.NotEmpty(t, rec.Header().Get("Last-Modified"))
	})

	t.Run("head", func(t *testing.T) {
		rec := httptest.NewRecorder()
		c.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Body.String())
	})
}

func TestTitlePrecedence(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		source     string
		want       string
	}{
		{name: "file name", source: "# Hi", want: "README.md"},
		{name: "front matter", source: "---\ntitle: Notes\n---\n# Hi", want: "Notes"},
		{name: "configured wins", configured: "Mine", source: "---\ntitle: Notes\n---\n# Hi", want: "Mine"},
		{name: "empty front matter title", source: "---\ntitle: \"\"\n---\n# Hi", want: "README.md"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(writeDoc(t, tt.source), &echoRenderer{}, Options{Title: tt.configured})
			artifact, err := c.Initialize()
			require.NoError(t, err)
			assert.True(t, bytes.HasPrefix(artifact.Content, []byte(tt.want+"|")), string(artifact.Content))
		})
	}
}
