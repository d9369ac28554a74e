// Package export writes a rendered document and its assets to a directory
// so it can be served by any static file server.
package export

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/conneroisu/meread/internal/assets"
	"github.com/conneroisu/meread/internal/cache"
	"github.com/conneroisu/meread/internal/errors"
	"github.com/conneroisu/meread/internal/logging"
	"github.com/conneroisu/meread/internal/renderer"
)

// IndexName is the file the rendered page is written to.
const IndexName = "index.html"

// Options configures an export.
type Options struct {
	Document string
	Dir      string
	Force    bool
	Renderer renderer.Renderer
	Render   cache.Options
	Logger   logging.Logger
}

// Result describes what an export wrote.
type Result struct {
	Dir   string
	Files []string
}

// Run renders opts.Document once and writes it with every embedded asset
// into opts.Dir. An existing directory is refused unless Force is set. The
// page carries no reload script.
func Run(ctx context.Context, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger = logger.WithComponent("export")

	if opts.Dir == "" {
		return nil, errors.NewExportError(errors.ErrCodeExportWrite, "export directory is empty", nil)
	}

	if _, err := os.Stat(opts.Dir); err == nil && !opts.Force {
		return nil, errors.NewExportError(errors.ErrCodeExportDirExists,
			"export directory already exists, use --force to overwrite", nil).WithPath(opts.Dir)
	} else if err != nil && !os.IsNotExist(err) {
		return nil, errors.NewExportError(errors.ErrCodeExportWrite, "cannot inspect export directory", err).WithPath(opts.Dir)
	}

	c := cache.New(opts.Document, opts.Renderer, opts.Render)
	artifact, err := c.Initialize()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, errors.NewExportError(errors.ErrCodeExportWrite, "failed to create export directory", err).WithPath(opts.Dir)
	}

	result := &Result{Dir: opts.Dir}

	if err := writeFile(opts.Dir, IndexName, artifact.Content); err != nil {
		return nil, err
	}
	result.Files = append(result.Files, IndexName)

	names, err := assets.Names()
	if err != nil {
		return nil, errors.NewInternalError("failed to list embedded assets", err)
	}
	for _, name := range names {
		data, err := fs.ReadFile(assets.FS(), name)
		if err != nil {
			return nil, errors.NewInternalError("failed to read embedded asset "+name, err)
		}
		if err := writeFile(opts.Dir, name, data); err != nil {
			return nil, err
		}
		result.Files = append(result.Files, name)
	}

	logger.Info(ctx, "Exported document",
		"document", opts.Document,
		"dir", opts.Dir,
		"files", len(result.Files),
	)
	return result, nil
}

func writeFile(dir, name string, data []byte) error {
	target := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errors.NewExportError(errors.ErrCodeExportWrite, "failed to create directory", err).WithPath(target)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return errors.NewExportError(errors.ErrCodeExportWrite, "failed to write file", err).WithPath(target)
	}
	return nil
}
