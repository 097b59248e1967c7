package childcompiler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	ferrors "github.com/conneroisu/htmlforge/internal/errors"
	"github.com/conneroisu/htmlforge/internal/sandbox"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateIdle State = iota
	StateCompiling
	StateCompiled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCompiling:
		return "compiling"
	case StateCompiled:
		return "compiled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CompiledTemplate is the immutable result of compiling one template.
type CompiledTemplate struct {
	Path         string
	EntryID      string
	Content      string
	Fingerprint  string
	Dependencies []string
}

// Timestamps reports modification times of files known to the outer
// build.
type Timestamps interface {
	Timestamp(path string) (time.Time, bool)
}

// TimestampMap is a Timestamps backed by a map.
type TimestampMap map[string]time.Time

// Timestamp implements Timestamps.
func (m TimestampMap) Timestamp(path string) (time.Time, bool) {
	t, ok := m[path]
	return t, ok
}

type flight struct {
	done   chan struct{}
	result map[string]CompiledTemplate
	err    error
}

// Session is one nested compilation covering every template registered
// for an outer build. The template set is closed once Compile is called;
// every caller shares the same in-flight result.
type Session struct {
	id          string
	compilers   map[string]TemplateCompiler
	fallback    TemplateCompiler
	concurrency int
	now         func() time.Time

	mu          sync.Mutex
	templates   []string
	state       State
	startedAt   time.Time
	endedAt     time.Time
	deps        []string
	fingerprint string
	flight      *flight
}

func newSession(fallback TemplateCompiler, compilers map[string]TemplateCompiler, concurrency int) *Session {
	return &Session{
		id:          uuid.NewString(),
		compilers:   compilers,
		fallback:    fallback,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// ID identifies the session. A replaced session always gets a new id.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Templates returns the registered template requests in order.
func (s *Session) Templates() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.templates...)
}

// Register adds a template request. It reports false when the request is
// already registered.
func (s *Session) Register(request string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.templates {
		if t == request {
			return false, nil
		}
	}
	if s.state != StateIdle {
		return false, ferrors.NewLateRegistrationError(request)
	}
	s.templates = append(s.templates, request)
	return true, nil
}

// Compile starts the nested compilation on first call and waits for its
// result. ctx bounds only the wait; the compilation itself runs to
// completion for the other callers.
func (s *Session) Compile(ctx context.Context, buildContext string) (map[string]CompiledTemplate, error) {
	s.mu.Lock()
	if s.flight == nil {
		f := &flight{done: make(chan struct{})}
		s.flight = f
		s.state = StateCompiling
		s.startedAt = s.now()
		templates := append([]string(nil), s.templates...)
		go s.run(context.WithoutCancel(ctx), f, templates, buildContext)
	}
	f := s.flight
	s.mu.Unlock()

	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Session) run(ctx context.Context, f *flight, templates []string, buildContext string) {
	outputs := make([]Output, len(templates))
	errs := make([]error, len(templates))

	g, gctx := errgroup.WithContext(ctx)
	if s.concurrency > 0 {
		g.SetLimit(s.concurrency)
	}
	for i, request := range templates {
		g.Go(func() error {
			loaderName, path := SplitRequest(request)
			compiler, err := s.compilerFor(loaderName)
			if err != nil {
				errs[i] = err
				return nil
			}
			outputs[i], errs[i] = compiler.Compile(gctx, Request{
				Path:    path,
				EntryID: entryID(i),
				Context: buildContext,
			})
			return nil
		})
	}
	_ = g.Wait()

	var deps []string
	seen := make(map[string]bool)
	var messages []string
	var failures []error
	for i := range templates {
		for _, d := range outputs[i].Dependencies {
			if !seen[d] {
				seen[d] = true
				deps = append(deps, d)
			}
		}
		if errs[i] != nil {
			messages = append(messages, errs[i].Error())
			failures = append(failures, errs[i])
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	defer close(f.done)

	s.deps = deps
	if len(failures) > 0 {
		s.state = StateFailed
		f.err = ferrors.NewNestedCompilationError(messages, errors.Join(failures...))
		return
	}

	result := make(map[string]CompiledTemplate, len(templates))
	total := sha256.New()
	for i, request := range templates {
		content := sandbox.ExportMarker + " " + outputs[i].Source
		sum := sha256.Sum256([]byte(content))
		total.Write(sum[:])
		result[request] = CompiledTemplate{
			Path:         request,
			EntryID:      entryID(i),
			Content:      content,
			Fingerprint:  hex.EncodeToString(sum[:]),
			Dependencies: outputs[i].Dependencies,
		}
	}

	s.fingerprint = hex.EncodeToString(total.Sum(nil))
	s.state = StateCompiled
	s.endedAt = s.now()
	f.result = result
}

func (s *Session) compilerFor(name string) (TemplateCompiler, error) {
	if name == "" {
		return s.fallback, nil
	}
	c, ok := s.compilers[name]
	if !ok {
		return nil, fmt.Errorf("unknown template loader %q", name)
	}
	return c, nil
}

func entryID(i int) string {
	return fmt.Sprintf("HtmlForgePlugin_%d", i)
}

// Fingerprint returns the content fingerprint of a compiled session.
func (s *Session) Fingerprint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fingerprint
}

// Dependencies returns every file read by the nested compilation.
func (s *Session) Dependencies() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deps...)
}

// Timing returns when the compilation started and, if it succeeded, when
// it ended.
func (s *Session) Timing() (started, ended time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt, s.endedAt
}

// IsStale reports whether a dependency changed since the compilation
// started. A session that never started is not stale.
func (s *Session) IsStale(ts Timestamps) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.startedAt.IsZero() {
		return false
	}
	for _, dep := range s.deps {
		t, ok := ts.Timestamp(dep)
		if !ok || t.After(s.startedAt) {
			return true
		}
	}
	return false
}
