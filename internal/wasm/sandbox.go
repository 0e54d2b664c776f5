package wasm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/wasmerio/wasmer-go/wasmer"

	"github.com/giantswarm/fnhost/internal/sentinel"
)

// ModuleFile is the file name of an app's module inside its app directory.
const ModuleFile = "app.wasm"

// ErrSandboxClosed is returned by Call after Close.
const ErrSandboxClosed = sentinel.Error("sandbox closed")

// Sandbox is one instantiated module.
type Sandbox struct {
	app      string
	store    *wasmer.Store
	instance *wasmer.Instance
	closed   bool
}

// newSandboxFromArtifact loads a module serialized by compile into a fresh
// store, skipping compilation.
func newSandboxFromArtifact(engine *wasmer.Engine, app string, artifact []byte) (*Sandbox, error) {
	store := wasmer.NewStore(engine)

	module, err := wasmer.DeserializeModule(store, artifact)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("load compiled module for %s: %w", app, err)
	}

	instance, err := wasmer.NewInstance(module, wasmer.NewImportObject())
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("instantiate module for %s: %w", app, err)
	}
	return &Sandbox{app: app, store: store, instance: instance}, nil
}

// compile turns wasmBytes into an artifact for newSandboxFromArtifact.
func compile(engine *wasmer.Engine, app string, wasmBytes []byte) ([]byte, error) {
	store := wasmer.NewStore(engine)
	defer store.Close()

	module, err := wasmer.NewModule(store, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("compile module for %s: %w", app, err)
	}
	artifact, err := module.Serialize()
	if err != nil {
		return nil, fmt.Errorf("serialize module for %s: %w", app, err)
	}
	return artifact, nil
}

// Call invokes the exported function fn.
func (s *Sandbox) Call(fn string, args ...any) (any, error) {
	if s.closed {
		return nil, ErrSandboxClosed
	}

	f, err := s.instance.Exports.GetFunction(fn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.app, err)
	}

	result, err := f(args...)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", s.app, fn, err)
	}
	return result, nil
}

// Close releases the instance and its store. Later calls do nothing.
func (s *Sandbox) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.instance.Close()
	s.store.Close()
	return nil
}

// Loader creates sandboxes for the apps under one directory.
type Loader struct {
	appsDir string
	engine  *wasmer.Engine
	log     *slog.Logger

	// modules holds the compiled artifact of every app loaded so far.
	mu       sync.Mutex
	modules  map[string][]byte
	compiles atomic.Int64
}

// NewLoader returns a Loader for appsDir. A nil log uses slog.Default().
func NewLoader(appsDir string, log *slog.Logger) *Loader {
	if log == nil {
		log = slog.Default()
	}
	return &Loader{
		appsDir: appsDir,
		engine:  wasmer.NewEngine(),
		log:     log,
		modules: make(map[string][]byte),
	}
}

// ModulePath returns the path the module of app is read from.
func (l *Loader) ModulePath(app string) string {
	return filepath.Join(l.appsDir, app, ModuleFile)
}

// NewSandbox creates a sandbox for app.
func (l *Loader) NewSandbox(ctx context.Context, app string) (*Sandbox, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	artifact, err := l.module(app)
	if err != nil {
		return nil, err
	}
	return newSandboxFromArtifact(l.engine, app, artifact)
}

// Forget drops the compiled module of app so the next sandbox reads and
// compiles the file again.
func (l *Loader) Forget(app string) {
	l.mu.Lock()
	delete(l.modules, app)
	l.mu.Unlock()
}

func (l *Loader) module(app string) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.modules[app]; ok {
		return b, nil
	}

	path := l.ModulePath(app)
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read module %s: %w", path, err)
	}
	artifact, err := compile(l.engine, app, b)
	if err != nil {
		return nil, err
	}
	l.compiles.Add(1)
	l.modules[app] = artifact
	l.log.Debug("compiled wasm module", "app", app, "path", path, "bytes", len(b))
	return artifact, nil
}
