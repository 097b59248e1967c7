package bundler

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	ferrors "github.com/conneroisu/htmlforge/internal/errors"
	"github.com/conneroisu/htmlforge/internal/hooks"
	"github.com/conneroisu/htmlforge/internal/logging"
)

const contentHashLength = 8

// Hooks are the lifecycle extension points of a build run, called in
// declaration order.
type Hooks struct {
	// ThisCompilation runs first, before anything is built.
	ThisCompilation *hooks.Series[*Compilation]
	// Make runs before entries are bundled.
	Make *hooks.Series[*Compilation]
	// Emit runs after bundling, before assets are written out.
	Emit *hooks.Series[*Compilation]
	// Done runs after a build without errors.
	Done *hooks.Series[*Stats]
	// Failed runs after a build with errors.
	Failed *hooks.Series[error]
}

// AssetInfo describes one written asset.
type AssetInfo struct {
	Name string `json:"name" yaml:"name"`
	Size int64  `json:"size" yaml:"size"`
}

// Stats summarizes a build run.
type Stats struct {
	CompilationID string        `json:"compilationId" yaml:"compilationId"`
	Hash          string        `json:"hash" yaml:"hash"`
	Duration      time.Duration `json:"duration" yaml:"duration"`
	Assets        []AssetInfo   `json:"assets" yaml:"assets"`
	Errors        []error       `json:"-" yaml:"-"`
}

// HasErrors reports whether the run recorded errors.
func (s *Stats) HasErrors() bool {
	return len(s.Errors) > 0
}

// Compiler runs builds. Runs are serialized.
type Compiler struct {
	ID     string
	Config Config
	Hooks  Hooks

	inputFS  afero.Fs
	outputFS afero.Fs
	logger   logging.Logger

	runMu      sync.Mutex
	mu         sync.RWMutex
	last       *Compilation
	invalidate chan struct{}
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithInputFS sets the filesystem sources are read from.
func WithInputFS(fs afero.Fs) Option {
	return func(c *Compiler) { c.inputFS = fs }
}

// WithOutputFS sets the filesystem assets are written to.
func WithOutputFS(fs afero.Fs) Option {
	return func(c *Compiler) { c.outputFS = fs }
}

// WithLogger sets the compiler logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Compiler) { c.logger = l }
}

// NewCompiler creates a compiler reading from the OS filesystem and
// writing to memory unless configured otherwise.
func NewCompiler(cfg Config, opts ...Option) *Compiler {
	c := &Compiler{
		ID:     uuid.NewString(),
		Config: cfg,
		Hooks: Hooks{
			ThisCompilation: hooks.NewSeries[*Compilation]("thisCompilation"),
			Make:            hooks.NewSeries[*Compilation]("make"),
			Emit:            hooks.NewSeries[*Compilation]("emit"),
			Done:            hooks.NewSeries[*Stats]("done"),
			Failed:          hooks.NewSeries[error]("failed"),
		},
		inputFS:    afero.NewOsFs(),
		outputFS:   afero.NewMemMapFs(),
		logger:     logging.NewDiscard(),
		invalidate: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithComponent("bundler")
	return c
}

// InputFS returns the source filesystem.
func (c *Compiler) InputFS() afero.Fs { return c.inputFS }

// OutputFS returns the filesystem assets are written to.
func (c *Compiler) OutputFS() afero.Fs { return c.outputFS }

// LastCompilation returns the most recent compilation, or nil.
func (c *Compiler) LastCompilation() *Compilation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// IsWatched reports whether path is a file dependency of the last build.
func (c *Compiler) IsWatched(path string) bool {
	last := c.LastCompilation()
	if last == nil {
		return false
	}
	clean := filepath.Clean(path)
	for _, dep := range last.FileDependencies() {
		if filepath.Clean(dep) == clean {
			return true
		}
	}
	return false
}

// Run performs one build. The returned error joins every error recorded
// by the run; Stats are returned in either case.
func (c *Compiler) Run(ctx context.Context) (*Stats, error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	perf := logging.StartOperation(c.logger, "build")

	c.mu.Lock()
	previous := c.last
	if previous != nil {
		previous.previous = nil
	}
	comp := newCompilation(c.Config, c.inputFS, previous)
	c.mu.Unlock()

	if err := c.Hooks.ThisCompilation.Call(ctx, comp); err != nil {
		comp.AddError(err)
	} else {
		if err := c.Hooks.Make.Call(ctx, comp); err != nil {
			comp.AddError(err)
		}
		c.bundle(comp)
		if err := c.Hooks.Emit.Call(ctx, comp); err != nil {
			comp.AddError(err)
		}
		c.writeAssets(comp)
	}

	c.mu.Lock()
	c.last = comp
	c.mu.Unlock()

	stats := c.stats(comp)
	stats.Duration = perf.End(ctx, "compilation", comp.ID(), "hash", comp.Hash(), "assets", len(stats.Assets))

	if stats.HasErrors() {
		err := errors.Join(stats.Errors...)
		c.logger.Error(ctx, err, "build failed", "compilation", comp.ID(), "errors", len(stats.Errors))
		if herr := c.Hooks.Failed.Call(ctx, err); herr != nil {
			c.logger.Warn(ctx, herr, "failed hook returned an error")
		}
		return stats, err
	}

	if err := c.Hooks.Done.Call(ctx, stats); err != nil {
		c.logger.Warn(ctx, err, "done hook returned an error")
	}
	return stats, nil
}

func (c *Compiler) bundle(comp *Compilation) {
	pattern := c.Config.filename()
	total := sha256.New()

	for _, entry := range c.Config.Entries {
		var js, css bytes.Buffer

		for _, vf := range entry.Virtual {
			appendModule(comp, &js, &css, vf.Name, vf.Content)
		}
		for _, imp := range entry.Imports {
			p := c.Config.resolve(imp)
			comp.AddFileDependency(p)
			src, err := afero.ReadFile(c.inputFS, p)
			if err != nil {
				comp.AddError(ferrors.NewIOError("IMPORT_READ",
					fmt.Sprintf("entry %s: cannot read %s", entry.Name, imp), err))
				continue
			}
			appendModule(comp, &js, &css, imp, src)
		}

		ep := &Entrypoint{Name: entry.Name}
		if js.Len() > 0 {
			name := outputName(pattern, entry.Name, contentHash(js.Bytes()))
			comp.EmitAsset(name, js.Bytes())
			ep.files = append(ep.files, name)
		}
		if css.Len() > 0 {
			name := styleName(outputName(pattern, entry.Name, contentHash(css.Bytes())))
			comp.EmitAsset(name, css.Bytes())
			ep.files = append(ep.files, name)
		}
		comp.entries = append(comp.entries, ep)
	}

	for _, name := range comp.Assets() {
		src, _ := comp.Asset(name)
		total.Write([]byte(name))
		total.Write(src)
	}
	comp.hash = hex.EncodeToString(total.Sum(nil))
}

func appendModule(comp *Compilation, js, css *bytes.Buffer, name string, src []byte) {
	var dst *bytes.Buffer
	switch path.Ext(filepath.ToSlash(name)) {
	case ".js", ".mjs":
		dst = js
	case ".css":
		dst = css
	default:
		comp.AddError(fmt.Errorf("unsupported module type: %s", name))
		return
	}
	fmt.Fprintf(dst, "/* %s */\n", name)
	dst.Write(src)
	if len(src) > 0 && src[len(src)-1] != '\n' {
		dst.WriteByte('\n')
	}
}

func contentHash(src []byte) string {
	sum := sha256.Sum256(src)
	return hex.EncodeToString(sum[:])[:contentHashLength]
}

func (c *Compiler) writeAssets(comp *Compilation) {
	if err := c.outputFS.MkdirAll(c.Config.OutputPath, 0o755); err != nil {
		comp.AddError(ferrors.NewIOError("OUTPUT_DIR", "cannot create "+c.Config.OutputPath, err))
		return
	}
	for _, name := range comp.Assets() {
		src, _ := comp.Asset(name)
		target := filepath.Join(c.Config.OutputPath, filepath.FromSlash(name))
		if err := c.outputFS.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			comp.AddError(ferrors.NewIOError("OUTPUT_DIR", "cannot create "+filepath.Dir(target), err))
			continue
		}
		if err := afero.WriteFile(c.outputFS, target, src, 0o644); err != nil {
			comp.AddError(ferrors.NewIOError("OUTPUT_WRITE", "cannot write "+target, err))
		}
	}
}

func (c *Compiler) stats(comp *Compilation) *Stats {
	s := &Stats{
		CompilationID: comp.ID(),
		Hash:          comp.Hash(),
		Errors:        comp.Errors(),
	}
	for _, name := range comp.Assets() {
		src, _ := comp.Asset(name)
		s.Assets = append(s.Assets, AssetInfo{Name: name, Size: int64(len(src))})
	}
	return s
}

// Invalidate schedules a rebuild of a running Watch loop. Calls made
// while a rebuild is pending are coalesced.
func (c *Compiler) Invalidate() {
	select {
	case c.invalidate <- struct{}{}:
	default:
	}
}

// Watch builds once, then rebuilds after every Invalidate until ctx is
// done. Invalidations within delay of each other trigger a single
// rebuild. Build errors are logged and do not stop the loop.
func (c *Compiler) Watch(ctx context.Context, delay time.Duration) error {
	_, _ = c.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.invalidate:
		}

		if delay > 0 {
			timer := time.NewTimer(delay)
		wait:
			for {
				select {
				case <-ctx.Done():
					timer.Stop()
					return nil
				case <-c.invalidate:
					timer.Reset(delay)
				case <-timer.C:
					break wait
				}
			}
		}

		_, _ = c.Run(ctx)
	}
}
