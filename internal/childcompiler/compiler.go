// Package childcompiler runs the nested build pass that turns registered
// HTML templates into sandbox modules, and caches the result per outer
// build.
package childcompiler

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	ferrors "github.com/conneroisu/htmlforge/internal/errors"
	"github.com/conneroisu/htmlforge/internal/loader"
)

// Request describes one template of a nested compilation.
type Request struct {
	// Path is the template path with any loader prefix removed.
	Path string
	// EntryID is the per-template identifier within the session.
	EntryID string
	// Context is the build context directory relative paths resolve from.
	Context string
}

// Output is the compiled module source of one template together with
// every file read while producing it.
type Output struct {
	Source       string
	Dependencies []string
}

// TemplateCompiler compiles a single template into module source.
type TemplateCompiler interface {
	Compile(ctx context.Context, req Request) (Output, error)
}

// SplitRequest separates an optional "loader!" prefix from a template
// path. A path without a prefix returns an empty loader name.
func SplitRequest(request string) (string, string) {
	idx := strings.LastIndex(request, "!")
	if idx < 0 {
		return "", request
	}
	return request[:idx], request[idx+1:]
}

func resolvePath(req Request) string {
	if filepath.IsAbs(req.Path) || req.Context == "" {
		return filepath.Clean(req.Path)
	}
	return filepath.Join(req.Context, req.Path)
}

// LoaderCompiler compiles templates with the <%= %> interpolation loader.
type LoaderCompiler struct {
	FS afero.Fs
}

// NewLoaderCompiler reads templates from fs.
func NewLoaderCompiler(fs afero.Fs) *LoaderCompiler {
	return &LoaderCompiler{FS: fs}
}

// Compile implements TemplateCompiler. The template file is reported as a
// dependency even when compilation fails so a fix triggers a rebuild.
func (c *LoaderCompiler) Compile(ctx context.Context, req Request) (Output, error) {
	path := resolvePath(req)
	out := Output{Dependencies: []string{path}}
	if err := ctx.Err(); err != nil {
		return out, err
	}

	src, err := loader.LoadFile(c.FS, path)
	if err != nil {
		return out, err
	}
	out.Source = src
	return out, nil
}

// PassthroughCompiler exports template files verbatim as static html.
type PassthroughCompiler struct {
	FS afero.Fs
}

// NewPassthroughCompiler reads templates from fs.
func NewPassthroughCompiler(fs afero.Fs) *PassthroughCompiler {
	return &PassthroughCompiler{FS: fs}
}

// Compile implements TemplateCompiler.
func (c *PassthroughCompiler) Compile(ctx context.Context, req Request) (Output, error) {
	path := resolvePath(req)
	out := Output{Dependencies: []string{path}}
	if err := ctx.Err(); err != nil {
		return out, err
	}

	raw, err := afero.ReadFile(c.FS, path)
	if err != nil {
		return out, ferrors.NewIOError("TEMPLATE_READ", "failed to read template "+path, err)
	}
	out.Source = loader.Passthrough(string(raw))
	return out, nil
}
