// Package loader compiles a module and everything it imports into a single
// ES module with a nested bundler, while the host bundler keeps control of
// resolution, loading and dependency tracking.
//
// A typical host calls Run once per module it wants pre-bundled:
//
//	loader.Run(ctx, &loader.Context{
//		ResourcePath: "/project/src/widget.js",
//		Source:       source,
//		Host:         h,
//		Options:      map[string]any{"external": []string{"react"}},
//	}, func(code string, sourceMap json.RawMessage, err error) {
//		// ...
//	})
package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fluxbase-eu/bundlebridge/internal/assets"
	"github.com/fluxbase-eu/bundlebridge/internal/bridge"
	"github.com/fluxbase-eu/bundlebridge/internal/engine"
	"github.com/fluxbase-eu/bundlebridge/internal/observability"
	"github.com/fluxbase-eu/bundlebridge/internal/options"
	"github.com/fluxbase-eu/bundlebridge/internal/transform"
	"github.com/fluxbase-eu/bundlebridge/pkg/host"
)

// Context is one loader invocation.
type Context struct {
	// ResourcePath is the absolute path of the module being compiled.
	ResourcePath string
	// Source and SourceMap are the module contents as the host read them.
	Source    string
	SourceMap json.RawMessage

	// Options is the loader configuration. Bundler input keys are passed
	// through, adapter keys (binaryAssets, deployManager, transformOptions,
	// transformrc) configure the loader itself, everything else is ignored.
	Options map[string]any

	Host host.Host
	// Fs is used to look up transformation rc files. Defaults to the OS filesystem.
	Fs afero.Fs
	// Engine creates the nested bundler. Defaults to NewEngine.
	Engine EngineFactory

	Metrics *Metrics
	Logger  *zerolog.Logger
}

// Result is a compiled module.
type Result struct {
	Code string
	Map  json.RawMessage
	// Metafile describes the inputs of the nested bundle.
	Metafile string
	// Assets are the binary imports diverted during this invocation.
	Assets []AssetRecord
	// Transformed is true when transformation options applied.
	Transformed bool
	// RCFile is the rc file the transformation options came from, if any.
	RCFile string
}

func (r *Result) size() int {
	if r == nil {
		return 0
	}
	return len(r.Code)
}

// Callback receives the outcome of Run: code and map on success, err otherwise.
type Callback func(code string, sourceMap json.RawMessage, err error)

// Run compiles lc and reports the outcome through cb exactly once.
func Run(ctx context.Context, lc *Context, cb Callback) {
	var once sync.Once
	complete := func(code string, sourceMap json.RawMessage, err error) {
		once.Do(func() { cb(code, sourceMap, err) })
	}

	res, err := Compile(ctx, lc)
	if err != nil {
		complete("", nil, err)
		return
	}
	complete(res.Code, res.Map, nil)
}

// Compile runs one invocation.
func Compile(ctx context.Context, lc *Context) (res *Result, err error) {
	if lc == nil {
		return nil, errors.New("loader: nil context")
	}
	if lc.Host == nil {
		return nil, errors.New("loader: a host is required")
	}
	if lc.ResourcePath == "" || !filepath.IsAbs(bridge.Split(lc.ResourcePath).Resource) {
		return nil, fmt.Errorf("loader: resource path must be absolute, got %q", lc.ResourcePath)
	}

	invocationID := uuid.NewString()
	base := lc.Logger
	if base == nil {
		base = &log.Logger
	}
	logger := base.With().
		Str("invocation", invocationID).
		Str("resource", lc.ResourcePath).
		Logger()

	ctx, span := observability.StartCompileSpan(ctx, invocationID, lc.ResourcePath)
	finish := lc.Metrics.StartCompilation()
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("loader: panic during compilation: %v", r)
		}
		finish(err, res.size())
		observability.EndSpan(span, err)
		if err != nil {
			logger.Debug().Err(err).Dur("duration", time.Since(start)).Msg("Compilation failed")
			return
		}
		logger.Debug().
			Dur("duration", time.Since(start)).
			Int("size", res.size()).
			Int("assets", len(res.Assets)).
			Msg("Compilation finished")
	}()

	raw := lc.Options
	if raw == nil {
		raw = map[string]any{}
	}

	interceptor, err := newInterceptor(raw)
	if err != nil {
		return nil, err
	}

	discover, err := options.Bool(raw, options.KeyTransformRC, true)
	if err != nil {
		return nil, err
	}
	selector := &transform.Selector{
		Fs:            lc.Fs,
		AddDependency: lc.Host.AddDependency,
		Discover:      discover,
	}
	selection, err := selector.Select(raw[options.KeyTransformOptions], lc.ResourcePath)
	if err != nil {
		return nil, err
	}
	if err := selection.Validate(); err != nil {
		return nil, err
	}
	if selection.Source == transform.SourceRCFile {
		logger.Debug().Str("rc_file", selection.Path).Msg("Using transformation options from rc file")
	}

	in, err := options.DecodeInput(options.Standardize(raw))
	if err != nil {
		return nil, err
	}
	in.Input = lc.ResourcePath

	b, err := bridge.New(ctx, bridge.Config{
		Entry:         lc.ResourcePath,
		Source:        lc.Source,
		SourceMap:     lc.SourceMap,
		Host:          lc.Host,
		External:      in.External,
		ParserPlugins: in.ParserPlugins,
		Interceptor:   interceptor,
		Metrics:       lc.Metrics,
		Logger:        &logger,
	})
	if err != nil {
		return nil, err
	}

	factory := lc.Engine
	if factory == nil {
		factory = NewEngine
	}
	bundled, err := factory().Bundle(ctx, engine.Build{
		Input:     in,
		Plugins:   bridge.Sequence(in.Plugins, b.Plugin()),
		PluginErr: b.Err,
		Logger:    &logger,
	})
	if err != nil {
		return nil, err
	}

	out, err := transform.Apply(bundled.Code, bundled.Map, selection, bundleName(lc.ResourcePath))
	if err != nil {
		return nil, err
	}

	records := interceptor.Records()
	observability.SetSpanAttributes(ctx,
		attribute.Int("loader.output_bytes", len(out.Code)),
		attribute.Int("loader.binary_assets", len(records)),
		attribute.Bool("loader.transformed", out.Applied),
	)

	return &Result{
		Code:        out.Code,
		Map:         out.Map,
		Metafile:    bundled.Metafile,
		Assets:      records,
		Transformed: out.Applied,
		RCFile:      selection.Path,
	}, nil
}

func newInterceptor(raw map[string]any) (*assets.Interceptor, error) {
	assetOpts, err := assets.Decode(raw[options.KeyBinaryAssets])
	if err != nil {
		return nil, err
	}

	var manager assets.Manager
	switch m := raw[options.KeyDeployManager].(type) {
	case nil:
	case assets.Manager:
		manager = m
	case func(assets.Record):
		manager = assets.ManagerFunc(m)
	default:
		return nil, options.NewConfigurationError(options.KeyDeployManager,
			"expected an object with AddBinaryAsset, got %T", m)
	}

	return assets.New(assetOpts, manager)
}

func bundleName(resourcePath string) string {
	resource := filepath.Base(bridge.Split(resourcePath).Resource)
	return strings.TrimSuffix(resource, filepath.Ext(resource)) + engine.BundleSuffix
}
