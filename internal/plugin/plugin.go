// Package plugin renders the html entry document of an outer build.
//
// HTMLPlugin attaches to a bundler.Compiler. On every build it registers
// its template with the nested compilation engine, compiles or reuses the
// compiled template, resolves the entry point assets, builds the script
// and stylesheet tags, executes the template and injects the tags into
// the result, then emits the document as a build asset.
package plugin

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/conneroisu/htmlforge/internal/assets"
	"github.com/conneroisu/htmlforge/internal/bundler"
	"github.com/conneroisu/htmlforge/internal/childcompiler"
	ferrors "github.com/conneroisu/htmlforge/internal/errors"
	"github.com/conneroisu/htmlforge/internal/logging"
	"github.com/conneroisu/htmlforge/internal/metrics"
	"github.com/conneroisu/htmlforge/internal/sandbox"
	"github.com/conneroisu/htmlforge/internal/tags"
)

// Name is the tap name used on every hook.
const Name = "HtmlForgePlugin"

// DefaultFilename is the default output document name.
const DefaultFilename = "index.html"

const compileKey = "htmlforge.plugin.compile"

// Options configures an HTMLPlugin.
type Options struct {
	// Template is the template request, optionally prefixed with a
	// loader name as in "raw!public/index.html".
	Template string
	// Filename is the output document name. [hash] is replaced with the
	// compilation hash.
	Filename string
	// Inject selects where script tags land.
	Inject tags.Target
	// Extra fields are exposed verbatim under htmlWebpackPlugin.options.
	Extra map[string]interface{}
}

// State is the lifecycle state of the plugin.
type State int

const (
	StateIdle State = iota
	StateTemplateRegistered
	StateCompiling
	StateCompiled
	StateRendering
	StateEmitted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTemplateRegistered:
		return "template-registered"
	case StateCompiling:
		return "compiling"
	case StateCompiled:
		return "compiled"
	case StateRendering:
		return "rendering"
	case StateEmitted:
		return "emitted"
	default:
		return "unknown"
	}
}

// RenderResult is the document emitted by the last successful render.
type RenderResult struct {
	CompilationID string
	OutputName    string
	HTML          string
	Size          int
}

type compileOutcome struct {
	template childcompiler.CompiledTemplate
	err      error
}

// HTMLPlugin is the render pipeline orchestrator.
type HTMLPlugin struct {
	options  Options
	registry *childcompiler.Registry
	sandbox  *sandbox.Sandbox
	logger   logging.Logger
	metrics  *metrics.Metrics

	renderMu sync.Mutex

	mu        sync.RWMutex
	state     State
	childHash string
	cached    bool
	last      *RenderResult
}

// Option configures an HTMLPlugin.
type Option func(*HTMLPlugin)

// WithRegistry shares a nested compilation registry.
func WithRegistry(r *childcompiler.Registry) Option {
	return func(p *HTMLPlugin) { p.registry = r }
}

// WithSandbox sets the sandbox compiled templates are evaluated in.
func WithSandbox(s *sandbox.Sandbox) Option {
	return func(p *HTMLPlugin) { p.sandbox = s }
}

// WithLogger sets the plugin logger.
func WithLogger(l logging.Logger) Option {
	return func(p *HTMLPlugin) { p.logger = l }
}

// WithMetrics sets the metrics the plugin records to.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *HTMLPlugin) { p.metrics = m }
}

// New creates a plugin.
func New(opts Options, setters ...Option) (*HTMLPlugin, error) {
	if strings.TrimSpace(opts.Template) == "" {
		return nil, ferrors.NewConfigError("TEMPLATE_REQUIRED", "a template is required", nil)
	}
	if opts.Filename == "" {
		opts.Filename = DefaultFilename
	}
	if opts.Inject == "" {
		opts.Inject = tags.TargetBody
	}
	if _, err := tags.ParseTarget(string(opts.Inject)); err != nil {
		return nil, ferrors.NewConfigError("INVALID_INJECT", "invalid inject option", err)
	}

	p := &HTMLPlugin{
		options: opts,
		logger:  logging.NewDiscard(),
	}
	for _, set := range setters {
		set(p)
	}
	if p.sandbox == nil {
		p.sandbox = sandbox.New()
	}
	p.logger = p.logger.WithComponent("html-plugin")
	return p, nil
}

// Options returns the plugin options.
func (p *HTMLPlugin) Options() Options {
	return p.options
}

// State returns the current lifecycle state.
func (p *HTMLPlugin) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// IsCompilationCached reports whether the last build reused a compiled
// template with an unchanged fingerprint.
func (p *HTMLPlugin) IsCompilationCached() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cached
}

// ChildCompilationHash returns the fingerprint of the last compiled
// template.
func (p *HTMLPlugin) ChildCompilationHash() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.childHash
}

// LastResult returns the last emitted document, or nil.
func (p *HTMLPlugin) LastResult() *RenderResult {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last
}

func (p *HTMLPlugin) setState(s State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = s
}

// Apply taps the plugin into c. Templates are read from c's input
// filesystem unless a registry was configured.
func (p *HTMLPlugin) Apply(c *bundler.Compiler) {
	if p.registry == nil {
		fs := c.InputFS()
		p.registry = childcompiler.NewRegistry(
			childcompiler.NewLoaderCompiler(fs),
			childcompiler.WithCompiler("raw", childcompiler.NewPassthroughCompiler(fs)),
		)
	}
	p.registry.ClearCache(c.ID)

	c.Hooks.ThisCompilation.Tap(Name, func(ctx context.Context, comp *bundler.Compilation) error {
		return p.thisCompilation(ctx, c, comp)
	})
	c.Hooks.Make.Tap(Name, func(ctx context.Context, comp *bundler.Compilation) error {
		return p.make(ctx, c, comp)
	})
	c.Hooks.Emit.Tap(Name, func(ctx context.Context, comp *bundler.Compilation) error {
		_, err := p.emit(ctx, comp)
		return err
	})
}

// Detach drops the nested compilation state kept for c.
func (p *HTMLPlugin) Detach(c *bundler.Compiler) {
	if p.registry != nil {
		p.registry.Evict(c.ID)
	}
}

func (p *HTMLPlugin) thisCompilation(ctx context.Context, c *bundler.Compiler, comp *bundler.Compilation) error {
	if p.registry.HasOutdatedTemplateCache(comp.ID(), c.ID, comp) {
		p.logger.Debug(ctx, "template cache is outdated", "compilation", comp.ID())
		p.registry.ClearCache(c.ID)
	}

	if _, err := p.registry.AddTemplate(c.ID, p.options.Template); err != nil {
		return err
	}
	for _, dep := range p.registry.FileDependencies(c.ID) {
		comp.AddFileDependency(dep)
	}

	if p.State() == StateIdle {
		p.setState(StateTemplateRegistered)
	}
	return nil
}

func (p *HTMLPlugin) make(ctx context.Context, c *bundler.Compiler, comp *bundler.Compilation) error {
	// Wait for a render still emitting the previous document.
	p.renderMu.Lock()
	p.renderMu.Unlock()

	session := p.registry.Session(c.ID)
	if session.State() == childcompiler.StateIdle {
		p.setState(StateCompiling)
	}

	start := time.Now()
	result, err := p.registry.CompileTemplate(ctx, c.ID, comp.Context())
	elapsed := time.Since(start)

	for _, dep := range session.Dependencies() {
		comp.AddFileDependency(dep)
	}

	outcome := comp.LoadOrStore(compileKey, func() interface{} { return &compileOutcome{} }).(*compileOutcome)
	if err != nil {
		outcome.err = err
		p.mu.Lock()
		p.state = StateIdle
		p.cached = false
		p.mu.Unlock()
		p.logger.Error(ctx, err, "template compilation failed", "template", p.options.Template)
		return err
	}

	compiled, ok := result[p.options.Template]
	if !ok {
		err := fmt.Errorf("template %s missing from compilation result", p.options.Template)
		outcome.err = err
		p.setState(StateIdle)
		return err
	}
	outcome.template = compiled

	p.mu.Lock()
	p.cached = p.childHash != "" && p.childHash == compiled.Fingerprint
	p.childHash = compiled.Fingerprint
	p.state = StateCompiled
	cached := p.cached
	p.mu.Unlock()

	p.metrics.ObserveCompile(cached, elapsed.Seconds())
	p.logger.Debug(ctx, "template compiled", "template", p.options.Template, "cached", cached, "fingerprint", compiled.Fingerprint)
	return nil
}

func (p *HTMLPlugin) emit(ctx context.Context, comp *bundler.Compilation) (*RenderResult, error) {
	v := comp.LoadOrStore(compileKey, func() interface{} { return &compileOutcome{} }).(*compileOutcome)
	if v.err != nil {
		// Already reported by make; keep the previous document.
		return nil, nil
	}
	if v.template.Content == "" {
		return nil, fmt.Errorf("template %s was not compiled", p.options.Template)
	}

	p.renderMu.Lock()
	defer p.renderMu.Unlock()

	p.setState(StateRendering)
	res, err := p.render(ctx, comp, v.template)
	if err != nil {
		p.metrics.ObserveRender(err, 0)
		p.setState(StateCompiled)
		p.logger.Error(ctx, err, "html render failed", "template", p.options.Template)
		return nil, err
	}
	p.metrics.ObserveRender(nil, res.Size)

	p.mu.Lock()
	p.state = StateEmitted
	p.last = res
	p.mu.Unlock()

	p.logger.Info(ctx, "emitted html document",
		"name", res.OutputName,
		"size", humanize.Bytes(uint64(res.Size)),
		"compilation", comp.ID())
	return res, nil
}

func (p *HTMLPlugin) render(ctx context.Context, comp *bundler.Compilation, compiled childcompiler.CompiledTemplate) (*RenderResult, error) {
	_, templatePath := childcompiler.SplitRequest(p.options.Template)
	outputName := strings.ReplaceAll(p.options.Filename, "[hash]", comp.Hash())
	h := HooksFor(comp)

	manifest := assets.Resolve(comp, comp.EntrypointNames())

	assetTags, err := h.AlterAssetTags.Call(ctx, &AssetTagsData{
		Scripts:    tags.ScriptTags(manifest.JS),
		Styles:     tags.StyleTags(manifest.CSS),
		OutputName: outputName,
		Plugin:     p,
	})
	if err != nil {
		return nil, err
	}

	groups := tags.GroupByTarget(assetTags.Scripts, assetTags.Styles, p.options.Inject)
	grouped, err := h.AlterAssetTagGroups.Call(ctx, &TagGroupsData{
		HeadTags:   groups.HeadTags,
		BodyTags:   groups.BodyTags,
		OutputName: outputName,
		Plugin:     p,
	})
	if err != nil {
		return nil, err
	}
	groups = tags.Groups{HeadTags: grouped.HeadTags, BodyTags: grouped.BodyTags}

	evaluated, err := p.sandbox.Evaluate(compiled.Content, templatePath)
	if err != nil {
		return nil, err
	}
	var tpl tags.Renderer = tags.StaticHTML(evaluated.HTML)
	if evaluated.IsFunc() {
		tpl = evaluated.Func
	}

	html, err := tags.Execute(tpl, p.templateParams(comp, manifest, groups), templatePath)
	if err != nil {
		return nil, err
	}

	executed, err := h.AfterTemplateExecution.Call(ctx, &TemplateExecutionData{
		HTML:       html,
		HeadTags:   groups.HeadTags,
		BodyTags:   groups.BodyTags,
		OutputName: outputName,
		Plugin:     p,
	})
	if err != nil {
		return nil, err
	}

	html = tags.InjectGroups(executed.HTML, tags.Groups{HeadTags: executed.HeadTags, BodyTags: executed.BodyTags})

	final, err := h.BeforeEmit.Call(ctx, &BeforeEmitData{
		HTML:       html,
		OutputName: outputName,
		Plugin:     p,
	})
	if err != nil {
		return nil, err
	}

	comp.EmitAsset(final.OutputName, []byte(final.HTML))

	if err := h.AfterEmit.Call(ctx, &AfterEmitData{OutputName: final.OutputName, Plugin: p}); err != nil {
		p.logger.Warn(ctx, err, "afterEmit hook failed", "name", final.OutputName)
	}

	return &RenderResult{
		CompilationID: comp.ID(),
		OutputName:    final.OutputName,
		HTML:          final.HTML,
		Size:          len(final.HTML),
	}, nil
}

// templateParams builds the parameter object templates are executed
// with.
func (p *HTMLPlugin) templateParams(comp *bundler.Compilation, manifest assets.Manifest, groups tags.Groups) map[string]interface{} {
	options := make(map[string]interface{}, len(p.options.Extra)+3)
	for k, v := range p.options.Extra {
		options[k] = v
	}
	options["template"] = p.options.Template
	options["filename"] = p.options.Filename
	options["inject"] = string(p.options.Inject)

	plugin := map[string]interface{}{
		"tags":    groups,
		"files":   manifest,
		"options": options,
	}
	return map[string]interface{}{
		"compilation":       comp,
		"buildConfig":       comp.Config(),
		"htmlWebpackPlugin": plugin,
		"htmlForge":         plugin,
	}
}
