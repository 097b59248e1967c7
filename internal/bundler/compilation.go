package bundler

import (
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// Entrypoint is a built entry and the files it produced, scripts first.
type Entrypoint struct {
	Name  string
	files []string
}

// Files returns the emitted file names of the entry in order.
func (e *Entrypoint) Files() []string {
	return append([]string(nil), e.files...)
}

// Compilation is the state of one build run.
type Compilation struct {
	id       string
	config   Config
	inputFS  afero.Fs
	started  time.Time
	hash     string
	entries  []*Entrypoint
	previous *Compilation

	mu         sync.Mutex
	assets     map[string][]byte
	assetOrder []string
	fileDeps   []string
	depSet     map[string]bool
	timestamps map[string]time.Time
	errs       []error
	values     map[string]interface{}
}

func newCompilation(cfg Config, inputFS afero.Fs, previous *Compilation) *Compilation {
	return &Compilation{
		id:         uuid.NewString(),
		config:     cfg,
		inputFS:    inputFS,
		started:    time.Now(),
		previous:   previous,
		assets:     make(map[string][]byte),
		depSet:     make(map[string]bool),
		timestamps: make(map[string]time.Time),
		values:     make(map[string]interface{}),
	}
}

// ID uniquely identifies this build run.
func (c *Compilation) ID() string { return c.id }

// Hash is the content hash of the bundled assets.
func (c *Compilation) Hash() string { return c.hash }

// Config returns the build configuration.
func (c *Compilation) Config() Config { return c.config }

// Context returns the build context directory.
func (c *Compilation) Context() string { return c.config.Context }

// PublicPath returns the configured public path.
func (c *Compilation) PublicPath() string { return c.config.PublicPath }

// Previous returns the compilation of the preceding run, if any.
func (c *Compilation) Previous() *Compilation { return c.previous }

// Entrypoints returns the built entries in configuration order.
func (c *Compilation) Entrypoints() []*Entrypoint {
	return append([]*Entrypoint(nil), c.entries...)
}

// EntrypointNames returns the entry names in configuration order.
func (c *Compilation) EntrypointNames() []string {
	names := make([]string, len(c.entries))
	for i, e := range c.entries {
		names[i] = e.Name
	}
	return names
}

// EntrypointFiles returns the files of the named entry.
func (c *Compilation) EntrypointFiles(name string) []string {
	for _, e := range c.entries {
		if e.Name == name {
			return e.Files()
		}
	}
	return nil
}

// EmitAsset registers an output file, replacing one of the same name.
func (c *Compilation) EmitAsset(name string, source []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.assets[name]; !ok {
		c.assetOrder = append(c.assetOrder, name)
	}
	c.assets[name] = source
}

// Asset returns the content of an emitted file.
func (c *Compilation) Asset(name string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	src, ok := c.assets[name]
	return src, ok
}

// Assets returns the emitted file names in emit order.
func (c *Compilation) Assets() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.assetOrder...)
}

// AddFileDependency records a file whose change should trigger a rebuild.
func (c *Compilation) AddFileDependency(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.depSet[path] {
		c.depSet[path] = true
		c.fileDeps = append(c.fileDeps, path)
	}
}

// FileDependencies returns every recorded file dependency.
func (c *Compilation) FileDependencies() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.fileDeps...)
}

// Timestamp returns the modification time of path as first observed by
// this compilation. Later calls return the same snapshot.
func (c *Compilation) Timestamp(path string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.timestamps[path]; ok {
		return t, !t.IsZero()
	}
	var t time.Time
	if info, err := c.inputFS.Stat(path); err == nil {
		t = info.ModTime()
	} else if !os.IsNotExist(err) {
		return time.Time{}, false
	}
	c.timestamps[path] = t
	return t, !t.IsZero()
}

// AddError records a build error.
func (c *Compilation) AddError(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

// Errors returns the recorded build errors.
func (c *Compilation) Errors() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]error(nil), c.errs...)
}

// LoadOrStore returns the value stored under key, storing the result of
// create when absent. Plugins use it for per-compilation state.
func (c *Compilation) LoadOrStore(key string, create func() interface{}) interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.values[key]; ok {
		return v
	}
	v := create()
	c.values[key] = v
	return v
}

// TemplateValue exposes a summary of the compilation to templates.
func (c *Compilation) TemplateValue() interface{} {
	entrypoints := make(map[string]interface{}, len(c.entries))
	for _, e := range c.entries {
		entrypoints[e.Name] = e.Files()
	}
	assets := c.Assets()
	sort.Strings(assets)
	return map[string]interface{}{
		"id":          c.id,
		"hash":        c.hash,
		"publicPath":  c.config.PublicPath,
		"entrypoints": entrypoints,
		"assets":      assets,
	}
}
