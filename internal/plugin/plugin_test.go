package plugin

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/htmlforge/internal/bundler"
	ferrors "github.com/conneroisu/htmlforge/internal/errors"
	"github.com/conneroisu/htmlforge/internal/metrics"
	"github.com/conneroisu/htmlforge/internal/tags"
)

const demoTemplate = "<html><head></head><body><%= htmlWebpackPlugin.options.title %></body></html>"

type fixture struct {
	fs       afero.Fs
	compiler *bundler.Compiler
	plugin   *HTMLPlugin
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T, template string, opts Options, entries ...bundler.Entry) *fixture {
	t.Helper()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/project/public/index.html", []byte(template), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/project/src/main.js", []byte("main()"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/project/src/main.css", []byte("body{}"), 0o644))

	if len(entries) == 0 {
		entries = []bundler.Entry{{Name: "main", Imports: []string{"src/main.js"}}}
	}
	c := bundler.NewCompiler(bundler.Config{
		Context:    "/project",
		Entries:    entries,
		OutputPath: "/build",
		PublicPath: "/",
	}, bundler.WithInputFS(fs))

	if opts.Template == "" {
		opts.Template = "public/index.html"
	}
	m := metrics.New(prometheus.NewRegistry())
	p, err := New(opts, WithMetrics(m))
	require.NoError(t, err)
	p.Apply(c)

	return &fixture{fs: fs, compiler: c, plugin: p, metrics: m}
}

func (f *fixture) document(t *testing.T) string {
	t.Helper()
	src, ok := f.compiler.LastCompilation().Asset("index.html")
	require.True(t, ok, "index.html was not emitted")
	return string(src)
}

func TestEndToEndRender(t *testing.T) {
	f := newFixture(t, demoTemplate, Options{Extra: map[string]interface{}{"title": "Demo"}})
	assert.Equal(t, StateIdle, f.plugin.State())

	_, err := f.compiler.Run(context.Background())
	require.NoError(t, err)

	expected := `<html><head></head><body>Demo<script src="main.js"></script></body></html>`
	assert.Equal(t, expected, f.document(t))
	assert.Equal(t, StateEmitted, f.plugin.State())
	assert.False(t, f.plugin.IsCompilationCached())

	written, err := afero.ReadFile(f.compiler.OutputFS(), "/build/index.html")
	require.NoError(t, err)
	assert.Equal(t, expected, string(written))

	last := f.plugin.LastResult()
	require.NotNil(t, last)
	assert.Equal(t, "index.html", last.OutputName)
	assert.Equal(t, len(expected), last.Size)

	assert.Contains(t, f.compiler.LastCompilation().FileDependencies(), "/project/public/index.html")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Renders.WithLabelValues(metrics.OutcomeSuccess)))
}

func TestSecondUnchangedBuildIsCached(t *testing.T) {
	f := newFixture(t, demoTemplate, Options{Extra: map[string]interface{}{"title": "Demo"}})

	_, err := f.compiler.Run(context.Background())
	require.NoError(t, err)
	firstHash := f.plugin.ChildCompilationHash()

	_, err = f.compiler.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, f.plugin.IsCompilationCached())
	assert.Equal(t, firstHash, f.plugin.ChildCompilationHash())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.TemplateCacheHits))
	assert.Contains(t, f.document(t), "Demo")
}

func TestStaleTemplateIsRecompiled(t *testing.T) {
	f := newFixture(t, demoTemplate, Options{Extra: map[string]interface{}{"title": "Demo"}})

	_, err := f.compiler.Run(context.Background())
	require.NoError(t, err)
	firstHash := f.plugin.ChildCompilationHash()

	updated := "<html><head></head><body><h1><%= htmlWebpackPlugin.options.title %></h1></body></html>"
	require.NoError(t, afero.WriteFile(f.fs, "/project/public/index.html", []byte(updated), 0o644))
	future := time.Now().Add(time.Hour)
	require.NoError(t, f.fs.Chtimes("/project/public/index.html", future, future))

	_, err = f.compiler.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, f.plugin.IsCompilationCached())
	assert.NotEqual(t, firstHash, f.plugin.ChildCompilationHash())
	assert.Equal(t, `<html><head></head><body><h1>Demo</h1><script src="main.js"></script></body></html>`, f.document(t))
}

func TestUndefinedIdentifierFailsWithoutArtifact(t *testing.T) {
	f := newFixture(t, "<html><body><%= missing %></body></html>", Options{})

	_, err := f.compiler.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ferrors.ErrTemplateExecution))
	assert.True(t, errors.Is(err, ferrors.ErrTemplateParams))

	_, ok := f.compiler.LastCompilation().Asset("index.html")
	assert.False(t, ok)
	assert.Nil(t, f.plugin.LastResult())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Renders.WithLabelValues(metrics.OutcomeFailure)))
}

func TestSyntaxErrorFailsCompilation(t *testing.T) {
	f := newFixture(t, "<html><body><%= oops</body></html>", Options{})

	_, err := f.compiler.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ferrors.ErrNestedCompilation))
	assert.True(t, errors.Is(err, ferrors.ErrTemplateSyntax))
	assert.Equal(t, StateIdle, f.plugin.State())

	_, ok := f.compiler.LastCompilation().Asset("index.html")
	assert.False(t, ok)
}

func TestFailedBuildKeepsPreviousDocument(t *testing.T) {
	f := newFixture(t, demoTemplate, Options{Extra: map[string]interface{}{"title": "Demo"}})
	_, err := f.compiler.Run(context.Background())
	require.NoError(t, err)

	require.NoError(t, afero.WriteFile(f.fs, "/project/public/index.html", []byte("<%= broken"), 0o644))
	future := time.Now().Add(time.Hour)
	require.NoError(t, f.fs.Chtimes("/project/public/index.html", future, future))

	_, err = f.compiler.Run(context.Background())
	require.Error(t, err)

	written, err := afero.ReadFile(f.compiler.OutputFS(), "/build/index.html")
	require.NoError(t, err)
	assert.Contains(t, string(written), "Demo")
}

func TestInjectHeadAndStyles(t *testing.T) {
	f := newFixture(t,
		"<html><head><title>x</title></head><body></body></html>",
		Options{Inject: tags.TargetHead},
		bundler.Entry{Name: "main", Imports: []string{"src/main.js", "src/main.css"}},
	)

	_, err := f.compiler.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t,
		`<html><head><title>x</title><link rel="stylesheet" href="main.css"/><script src="main.js"></script></head><body></body></html>`,
		f.document(t))
}

func TestPassthroughTemplate(t *testing.T) {
	f := newFixture(t, "<body><%= not evaluated %></body>", Options{Template: "raw!public/index.html"})

	_, err := f.compiler.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `<body><%= not evaluated %><script src="main.js"></script></body>`, f.document(t))
}

func TestTemplateParams(t *testing.T) {
	tpl := `<body><%= join(",", htmlWebpackPlugin.files.js) %>|<%= htmlForge.options.filename %>|` +
		`<%= buildConfig.publicPath %>|<%= length(compilation.entrypoints.main) %>|` +
		`<%= htmlWebpackPlugin.tags.bodyTags[0].html %></body>`
	f := newFixture(t, tpl, Options{})

	_, err := f.compiler.Run(context.Background())
	require.NoError(t, err)

	doc := f.document(t)
	assert.True(t, strings.HasPrefix(doc, `<body>main.js|index.html|/|1|<script src="main.js"></script>`), doc)
}

func TestHooksAlterPipeline(t *testing.T) {
	f := newFixture(t, demoTemplate, Options{Extra: map[string]interface{}{"title": "Demo"}})

	var afterEmit string
	f.compiler.Hooks.ThisCompilation.Tap("test", func(_ context.Context, comp *bundler.Compilation) error {
		h := HooksFor(comp)
		h.AlterAssetTags.Tap("defer", func(_ context.Context, d *AssetTagsData) (*AssetTagsData, error) {
			for i := range d.Scripts {
				d.Scripts[i].SetAttr("defer", "defer")
			}
			return d, nil
		})
		h.AlterAssetTagGroups.Tap("meta", func(_ context.Context, d *TagGroupsData) (*TagGroupsData, error) {
			d.HeadTags = append(d.HeadTags, tags.Descriptor{
				TagName: "meta", VoidTag: true,
				Attributes: []tags.Attribute{{Key: "charset", Value: "utf-8"}},
			})
			return d, nil
		})
		h.BeforeEmit.Tap("rename", func(_ context.Context, d *BeforeEmitData) (*BeforeEmitData, error) {
			d.HTML = "<!DOCTYPE html>" + d.HTML
			d.OutputName = "app.html"
			return d, nil
		})
		h.AfterEmit.Tap("record", func(_ context.Context, d *AfterEmitData) error {
			afterEmit = d.OutputName
			return errors.New("ignored")
		})
		return nil
	})

	_, err := f.compiler.Run(context.Background())
	require.NoError(t, err)

	src, ok := f.compiler.LastCompilation().Asset("app.html")
	require.True(t, ok)
	assert.Equal(t,
		`<!DOCTYPE html><html><head><meta charset="utf-8"/></head><body>Demo<script src="main.js" defer="defer"></script></body></html>`,
		string(src))
	assert.Equal(t, "app.html", afterEmit)
}

func TestHashInFilename(t *testing.T) {
	f := newFixture(t, "<body></body>", Options{Filename: "index.[hash].html"})

	_, err := f.compiler.Run(context.Background())
	require.NoError(t, err)

	comp := f.compiler.LastCompilation()
	_, ok := comp.Asset("index." + comp.Hash() + ".html")
	assert.True(t, ok)
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{})
	assert.True(t, errors.Is(err, ferrors.ErrConfig))

	_, err = New(Options{Template: "index.html", Inject: "footer"})
	assert.True(t, errors.Is(err, ferrors.ErrConfig))

	p, err := New(Options{Template: "index.html"})
	require.NoError(t, err)
	assert.Equal(t, DefaultFilename, p.Options().Filename)
	assert.Equal(t, tags.TargetBody, p.Options().Inject)
}

func TestDetachEvictsSession(t *testing.T) {
	f := newFixture(t, demoTemplate, Options{Extra: map[string]interface{}{"title": "Demo"}})
	_, err := f.compiler.Run(context.Background())
	require.NoError(t, err)

	f.plugin.Detach(f.compiler)
	_, ok := f.plugin.registry.Lookup(f.compiler.ID)
	assert.False(t, ok)
}
