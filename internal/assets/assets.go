// Package assets diverts binary imports (images, fonts and the like) that the
// nested bundler cannot inline to an external registry.
package assets

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/bundlebridge/internal/options"
)

// ChunkType tags a binary asset for the deploy step.
type ChunkType string

const (
	ChunkTypeImage ChunkType = "fbAi"
	ChunkTypeFont  ChunkType = "fbAf"
)

// Record is a single binary import found while bundling.
type Record struct {
	ChunkType ChunkType `json:"chunkType" yaml:"chunkType"`
	Path      string    `json:"path" yaml:"path"`
}

// Rule classifies paths accepted by its include/exclude patterns as Type.
type Rule struct {
	Type    ChunkType `mapstructure:"type" yaml:"type"`
	Include []string  `mapstructure:"include" yaml:"include"`
	Exclude []string  `mapstructure:"exclude" yaml:"exclude"`
}

// Options configures binary asset interception.
//
// Store receives the records. Accepted shapes are *[]Record, func(Record),
// a Manager or a Sink.
type Options struct {
	Types []Rule `mapstructure:"types" yaml:"types"`
	Store any    `mapstructure:"store" yaml:"-"`
}

// Manager is the deploy-manager shape of a registry.
type Manager interface {
	AddBinaryAsset(rec Record)
}

// ManagerFunc adapts a plain function to Manager.
type ManagerFunc func(rec Record)

// AddBinaryAsset calls f(rec).
func (f ManagerFunc) AddBinaryAsset(rec Record) { f(rec) }

// Sink is a registry whose writes can fail, such as a remote store.
type Sink interface {
	Add(ctx context.Context, rec Record) error
}

// Decode accepts the binaryAssets configuration value as given by the host.
func Decode(raw any) (*Options, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case *Options:
		return v, nil
	case Options:
		return &v, nil
	}

	var opts Options
	if err := mapstructure.Decode(raw, &opts); err != nil {
		return nil, &options.ConfigurationError{Key: options.KeyBinaryAssets, Err: err}
	}
	return &opts, nil
}

type classifier struct {
	chunkType ChunkType
	filter    *Filter
}

// Interceptor classifies resolved import paths and registers binary ones.
// A nil *Interceptor means the feature is disabled; its methods are no-ops.
type Interceptor struct {
	classifiers []classifier
	register    func(ctx context.Context, rec Record) error

	mu   sync.Mutex
	seen map[string]ChunkType
}

// New builds an interceptor. With neither options nor manager it returns
// (nil, nil). With no rules it returns an interceptor that accepts nothing.
// The registration target is resolved here, once: manager takes precedence
// over opts.Store.
func New(opts *Options, manager Manager) (*Interceptor, error) {
	if opts == nil && manager == nil {
		return nil, nil
	}
	if opts == nil {
		opts = &Options{}
	}

	i := &Interceptor{seen: make(map[string]ChunkType)}
	if len(opts.Types) == 0 {
		return i, nil
	}

	for idx, rule := range opts.Types {
		if rule.Type == "" {
			return nil, options.NewConfigurationError(options.KeyBinaryAssets, "rule %d has no type", idx)
		}
		filter, err := NewFilter(rule.Include, rule.Exclude)
		if err != nil {
			return nil, &options.ConfigurationError{
				Key:     options.KeyBinaryAssets,
				Message: fmt.Sprintf("rule %d (%s)", idx, rule.Type),
				Err:     err,
			}
		}
		i.classifiers = append(i.classifiers, classifier{chunkType: rule.Type, filter: filter})
	}

	if manager != nil {
		i.register = func(_ context.Context, rec Record) error {
			manager.AddBinaryAsset(rec)
			return nil
		}
		return i, nil
	}

	register, err := registerFunc(opts.Store)
	if err != nil {
		return nil, err
	}
	i.register = register
	return i, nil
}

func registerFunc(store any) (func(context.Context, Record) error, error) {
	switch s := store.(type) {
	case nil:
		return nil, options.NewConfigurationError(options.KeyBinaryAssets,
			"a store is required so binary imports are kept for deployment")
	case *[]Record:
		if s == nil {
			return nil, options.NewConfigurationError(options.KeyBinaryAssets, "store list pointer is nil")
		}
		var mu sync.Mutex
		return func(_ context.Context, rec Record) error {
			mu.Lock()
			*s = append(*s, rec)
			mu.Unlock()
			return nil
		}, nil
	case []Record:
		return nil, options.NewConfigurationError(options.KeyBinaryAssets,
			"store must be a pointer to a record list, got %T", store)
	case func(Record):
		return func(_ context.Context, rec Record) error {
			s(rec)
			return nil
		}, nil
	case Manager:
		return func(_ context.Context, rec Record) error {
			s.AddBinaryAsset(rec)
			return nil
		}, nil
	case Sink:
		return s.Add, nil
	default:
		return nil, options.NewConfigurationError(options.KeyBinaryAssets,
			"store must be a *[]assets.Record, func(assets.Record), Manager or Sink, got %T", store)
	}
}

// Enabled reports whether any rule can match.
func (i *Interceptor) Enabled() bool {
	return i != nil && len(i.classifiers) > 0
}

// Classify returns the chunk type of the first rule accepting path.
func (i *Interceptor) Classify(path string) (ChunkType, bool) {
	if i == nil {
		return "", false
	}
	for _, c := range i.classifiers {
		if c.filter.Match(path) {
			return c.chunkType, true
		}
	}
	return "", false
}

// RegistrationError is returned when the registry rejects a record.
type RegistrationError struct {
	Record Record
	Err    error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("failed to register binary asset %s: %v", e.Record.Path, e.Err)
}

func (e *RegistrationError) Unwrap() error {
	return e.Err
}

// Intercept classifies path and, on a match, registers it. Each path is
// registered at most once per interceptor. A registry failure is returned
// as a *RegistrationError and leaves the path unregistered.
func (i *Interceptor) Intercept(ctx context.Context, path string) (Record, bool, error) {
	chunkType, ok := i.Classify(path)
	if !ok {
		return Record{}, false, nil
	}
	rec := Record{ChunkType: chunkType, Path: path}

	i.mu.Lock()
	_, dup := i.seen[path]
	if !dup {
		i.seen[path] = chunkType
	}
	i.mu.Unlock()
	if dup {
		return rec, true, nil
	}

	log.Debug().Str("path", path).Str("chunk_type", string(chunkType)).Msg("Binary asset intercepted")
	if err := i.register(ctx, rec); err != nil {
		i.mu.Lock()
		delete(i.seen, path)
		i.mu.Unlock()
		return rec, true, &RegistrationError{Record: rec, Err: err}
	}
	return rec, true, nil
}

// Intercepted lists the paths registered so far, sorted.
func (i *Interceptor) Intercepted() []string {
	if i == nil {
		return nil
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]string, 0, len(i.seen))
	for p := range i.seen {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// Records lists the registered records, sorted by path.
func (i *Interceptor) Records() []Record {
	paths := i.Intercepted()
	if len(paths) == 0 {
		return nil
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]Record, len(paths))
	for n, p := range paths {
		out[n] = Record{ChunkType: i.seen[p], Path: p}
	}
	return out
}
