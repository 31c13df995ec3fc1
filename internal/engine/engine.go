// Package engine runs the nested bundler.
package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/bundlebridge/internal/options"
)

// Result is the bundle of one invocation.
type Result struct {
	Code string
	// Map is the source map of Code, as JSON.
	Map []byte
	// Metafile is esbuild's JSON description of inputs and outputs.
	Metafile string
	Warnings []api.Message
}

// Build is one bundling request.
type Build struct {
	Input   *options.InputOptions
	Plugins []api.Plugin
	// PluginErr returns the first failure recorded by a plugin, if any.
	// It takes precedence over esbuild's own messages.
	PluginErr func() error
	Logger    *zerolog.Logger
}

// Engine bundles an entry module.
type Engine interface {
	Bundle(ctx context.Context, b Build) (*Result, error)
}

// Factory creates an engine. The loader asks for a fresh engine on every
// invocation so no state leaks between them.
type Factory func() Engine

// New returns an esbuild-backed engine.
func New() Engine {
	return &esbuildEngine{}
}

type esbuildEngine struct{}

// BundleSuffix is appended to the entry name to form the output file name.
const BundleSuffix = ".bundle.js"

// BuildOptions maps the typed input options onto esbuild. The output is an
// ES module with an external source map, written to memory only.
func BuildOptions(in *options.InputOptions, plugins []api.Plugin) api.BuildOptions {
	dir := filepath.Dir(in.Input)
	name := strings.TrimSuffix(filepath.Base(in.Input), filepath.Ext(in.Input))

	opts := api.BuildOptions{
		EntryPoints:   []string{in.Input},
		AbsWorkingDir: dir,
		Outfile:       filepath.Join(dir, name+BundleSuffix),
		Bundle:        true,
		Write:         false,
		Format:        api.FormatESModule,
		Platform:      api.PlatformNeutral,
		Sourcemap:     api.SourceMapExternal,
		Metafile:      true,
		LogLevel:      api.LogLevelSilent,
		Plugins:       plugins,

		JSXFactory:      in.Parser.JSXFactory,
		JSXFragment:     in.Parser.JSXFragment,
		JSXImportSource: in.Parser.JSXImportSource,
		Supported:       in.Parser.Supported,
	}

	if in.Cache != nil {
		opts.MangleCache = in.Cache
	}
	if in.TreeShake != nil {
		if *in.TreeShake {
			opts.TreeShaking = api.TreeShakingTrue
		} else {
			opts.TreeShaking = api.TreeShakingFalse
		}
	}
	if in.Legacy {
		opts.Target = api.ES5
	}
	return opts
}

func (e *esbuildEngine) Bundle(_ context.Context, b Build) (*Result, error) {
	if b.Input == nil || b.Input.Input == "" {
		return nil, errors.New("engine: no entry module")
	}
	logger := b.Logger
	if logger == nil {
		logger = &log.Logger
	}
	if b.Input.Context != "" || len(b.Input.ModuleContext) > 0 {
		logger.Debug().
			Str("context", b.Input.Context).
			Int("module_contexts", len(b.Input.ModuleContext)).
			Msg("Top-level this overrides are not supported by esbuild and are ignored")
	}
	// Once started, a build runs to completion; ctx only reaches the host through the plugins.
	result := api.Build(BuildOptions(b.Input, b.Plugins))

	for _, w := range result.Warnings {
		if b.Input.OnWarn != nil {
			b.Input.OnWarn(w)
			continue
		}
		event := logger.Warn().Str("entry", b.Input.Input)
		if w.Location != nil {
			event = event.Str("file", w.Location.File).Int("line", w.Location.Line)
		}
		event.Msg(w.Text)
	}

	if len(result.Errors) > 0 {
		if b.PluginErr != nil {
			if err := b.PluginErr(); err != nil {
				return nil, err
			}
		}
		for _, msg := range result.Errors {
			if err, ok := msg.Detail.(error); ok && err != nil {
				return nil, err
			}
		}
		return nil, &BundlingError{Messages: result.Errors}
	}

	if b.Input.Cache != nil {
		for k, v := range result.MangleCache {
			b.Input.Cache[k] = v
		}
	}

	out := &Result{Metafile: result.Metafile, Warnings: result.Warnings}
	for _, f := range result.OutputFiles {
		switch {
		case strings.HasSuffix(f.Path, ".map"):
			out.Map = f.Contents
		case strings.HasSuffix(f.Path, ".js"):
			out.Code = string(f.Contents)
		}
	}
	if out.Code == "" && len(result.OutputFiles) == 0 {
		return nil, fmt.Errorf("engine: no output for %s", b.Input.Input)
	}
	return out, nil
}
