package childcompiler

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const staleMemoSize = 256

// Registry owns the compilation session of every outer build, keyed by
// build identity. Sessions live until they are cleared or evicted.
type Registry struct {
	fallback    TemplateCompiler
	compilers   map[string]TemplateCompiler
	concurrency int

	mu       sync.Mutex
	sessions map[string]*Session
	memo     *lru.Cache[string, bool]
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithCompiler registers a named compiler selected by a "name!" request
// prefix.
func WithCompiler(name string, c TemplateCompiler) RegistryOption {
	return func(r *Registry) {
		r.compilers[name] = c
	}
}

// WithConcurrency bounds how many templates compile in parallel.
func WithConcurrency(n int) RegistryOption {
	return func(r *Registry) {
		r.concurrency = n
	}
}

// NewRegistry creates a registry compiling unprefixed requests with
// fallback.
func NewRegistry(fallback TemplateCompiler, opts ...RegistryOption) *Registry {
	memo, _ := lru.New[string, bool](staleMemoSize)
	r := &Registry{
		fallback:  fallback,
		compilers: make(map[string]TemplateCompiler),
		sessions:  make(map[string]*Session),
		memo:      memo,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Session returns the session of build, creating it when absent.
func (r *Registry) Session(build string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionLocked(build)
}

func (r *Registry) sessionLocked(build string) *Session {
	s, ok := r.sessions[build]
	if !ok {
		s = newSession(r.fallback, r.compilers, r.concurrency)
		r.sessions[build] = s
	}
	return s
}

// Lookup returns the session of build without creating one.
func (r *Registry) Lookup(build string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[build]
	return s, ok
}

// ClearCache drops the session of build when it has started compiling.
// An idle session keeps its registrations.
func (r *Registry) ClearCache(build string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearLocked(build)
}

func (r *Registry) clearLocked(build string) {
	s, ok := r.sessions[build]
	if !ok {
		return
	}
	if s.State() != StateIdle {
		delete(r.sessions, build)
	}
}

// Evict drops the session of build unconditionally.
func (r *Registry) Evict(build string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, build)
}

// AddTemplate registers request with the session of build. When the
// request is new any started session is cleared so the next compile
// covers it.
func (r *Registry) AddTemplate(build, request string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	isNew, err := r.sessionLocked(build).Register(request)
	if err != nil {
		return false, err
	}
	if isNew {
		r.clearLocked(build)
	}
	return isNew, nil
}

// CompileTemplate compiles every template registered for build.
func (r *Registry) CompileTemplate(ctx context.Context, build, buildContext string) (map[string]CompiledTemplate, error) {
	return r.Session(build).Compile(ctx, buildContext)
}

// FileDependencies returns the files read by the current session of build.
func (r *Registry) FileDependencies(build string) []string {
	s, ok := r.Lookup(build)
	if !ok {
		return nil
	}
	return s.Dependencies()
}

// HasOutdatedTemplateCache reports whether the session of build is stale
// relative to ts. The answer is memoized per compilation and session.
func (r *Registry) HasOutdatedTemplateCache(compilationID, build string, ts Timestamps) bool {
	s, ok := r.Lookup(build)
	if !ok {
		return false
	}

	key := compilationID + "/" + s.ID()
	if stale, ok := r.memo.Get(key); ok {
		return stale
	}
	stale := s.IsStale(ts)
	r.memo.Add(key, stale)
	return stale
}
