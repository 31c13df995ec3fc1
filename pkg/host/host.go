// Package host defines what the loader needs from the bundler that invokes it.
package host

import (
	"context"
	"encoding/json"
)

// Module is a loaded module: code after the host's loader chain ran, plus
// the source map describing it, if any.
type Module struct {
	Code string
	Map  json.RawMessage
}

// Host is the outer bundler. Implementations must be safe for concurrent use:
// the nested bundler resolves and loads modules in parallel.
type Host interface {
	// Resolve turns request, as written in a module located in contextDir,
	// into an absolute path. request never carries a loader prefix.
	Resolve(ctx context.Context, contextDir, request string) (string, error)

	// LoadModule runs id through the host's loader chain. id may carry
	// a loader prefix ("raw!/abs/file.txt").
	LoadModule(ctx context.Context, id string) (*Module, error)

	// AddDependency marks path as an input of the current compilation, so the
	// host rebuilds when it changes.
	AddDependency(path string)
}

// Funcs adapts plain functions to Host. Nil fields fail or do nothing.
type Funcs struct {
	ResolveFunc       func(ctx context.Context, contextDir, request string) (string, error)
	LoadModuleFunc    func(ctx context.Context, id string) (*Module, error)
	AddDependencyFunc func(path string)
}

// Resolve implements Host.
func (f Funcs) Resolve(ctx context.Context, contextDir, request string) (string, error) {
	if f.ResolveFunc == nil {
		return "", ErrNotSupported
	}
	return f.ResolveFunc(ctx, contextDir, request)
}

// LoadModule implements Host.
func (f Funcs) LoadModule(ctx context.Context, id string) (*Module, error) {
	if f.LoadModuleFunc == nil {
		return nil, ErrNotSupported
	}
	return f.LoadModuleFunc(ctx, id)
}

// AddDependency implements Host.
func (f Funcs) AddDependency(path string) {
	if f.AddDependencyFunc != nil {
		f.AddDependencyFunc(path)
	}
}
