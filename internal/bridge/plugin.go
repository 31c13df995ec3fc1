// Package bridge routes the nested bundler's module resolution and loading
// through the host bundler, so host loaders, aliases and dependency tracking
// apply to every module of the nested bundle.
package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/bundlebridge/internal/assets"
	"github.com/fluxbase-eu/bundlebridge/internal/observability"
	"github.com/fluxbase-eu/bundlebridge/internal/options"
	"github.com/fluxbase-eu/bundlebridge/pkg/host"
)

// PluginName is the name the bridge registers under.
const PluginName = "bundlebridge"

// Namespaces the bridge resolves into. Ids carrying a loader prefix are not
// filesystem paths, so they live outside the "file" namespace.
const (
	NamespaceFile   = "file"
	NamespaceBridge = "bridge"
)

// Config describes one invocation.
type Config struct {
	// Entry is the absolute path of the module the loader was invoked on.
	Entry string
	// Source and SourceMap are the entry's contents as the host handed them over.
	Source    string
	SourceMap json.RawMessage

	Host host.Host

	// External requests are left as imports in the output. Exact names and
	// doublestar patterns are accepted.
	External []string
	// ParserPlugins maps extra file extensions to esbuild loader names.
	ParserPlugins map[string]string

	Interceptor *assets.Interceptor
	Metrics     *observability.Metrics
	// Logger defaults to the global logger.
	Logger *zerolog.Logger
}

// Bridge is the resolve/load plugin of a single invocation.
type Bridge struct {
	ctx     context.Context
	cfg     Config
	fail    failure
	loaders map[string]api.Loader
}

// New validates cfg. ctx is handed to every host call.
func New(ctx context.Context, cfg Config) (*Bridge, error) {
	if cfg.Host == nil {
		return nil, fmt.Errorf("bridge: host is required")
	}
	if cfg.Entry == "" {
		return nil, fmt.Errorf("bridge: entry is required")
	}
	for _, pattern := range cfg.External {
		if !doublestar.ValidatePattern(pattern) {
			return nil, options.NewConfigurationError(options.KeyExternal, "invalid pattern %q", pattern)
		}
	}

	loaders := make(map[string]api.Loader, len(cfg.ParserPlugins))
	for ext, name := range cfg.ParserPlugins {
		loader, ok := options.LoaderByName(name)
		if !ok {
			return nil, options.NewConfigurationError(options.KeyParserPlugins, "unknown loader %q for %q", name, ext)
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		loaders[ext] = loader
	}

	if cfg.Logger == nil {
		cfg.Logger = &log.Logger
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return &Bridge{ctx: ctx, cfg: cfg, loaders: loaders}, nil
}

// Err returns the first failure reported by the bridge, if any.
func (b *Bridge) Err() error {
	return b.fail.get()
}

// Plugin returns the esbuild plugin.
func (b *Bridge) Plugin() api.Plugin {
	return api.Plugin{
		Name: PluginName,
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: ".*"}, b.onResolve)
			build.OnLoad(api.OnLoadOptions{Filter: ".*", Namespace: NamespaceFile}, b.onLoad)
			build.OnLoad(api.OnLoadOptions{Filter: ".*", Namespace: NamespaceBridge}, b.onLoad)
		},
	}
}

func (b *Bridge) onResolve(args api.OnResolveArgs) (api.OnResolveResult, error) {
	if args.Path == b.cfg.Entry {
		b.cfg.Metrics.RecordResolution(observability.OutcomeEntry)
		return api.OnResolveResult{Path: b.cfg.Entry, Namespace: NamespaceFile}, nil
	}

	if b.isExternal(args.Path) {
		b.cfg.Metrics.RecordResolution(observability.OutcomeExternal)
		return api.OnResolveResult{Path: args.Path, External: true}, nil
	}

	req := Split(args.Path)
	importer := Split(args.Importer)
	contextDir := args.ResolveDir
	if importer.Resource != "" {
		contextDir = filepath.Dir(importer.Resource)
	}

	resolved, err := b.cfg.Host.Resolve(b.ctx, contextDir, req.Resource)
	if err != nil {
		rerr := &ResolutionError{Request: args.Path, Importer: args.Importer, Err: err}
		b.fail.set(rerr)
		b.cfg.Metrics.RecordResolution(observability.OutcomeError)
		return api.OnResolveResult{}, rerr
	}

	if b.isExternal(resolved) {
		b.cfg.Metrics.RecordResolution(observability.OutcomeExternal)
		return api.OnResolveResult{Path: b.externalID(args.Path, req, resolved), External: true}, nil
	}

	b.cfg.Host.AddDependency(resolved)

	rec, ok, err := b.cfg.Interceptor.Intercept(b.ctx, resolved)
	if err != nil {
		b.fail.set(err)
		b.cfg.Metrics.RecordResolution(observability.OutcomeError)
		return api.OnResolveResult{}, err
	}
	if ok {
		b.cfg.Metrics.RecordResolution(observability.OutcomeAsset)
		b.cfg.Metrics.RecordBinaryAsset(string(rec.ChunkType))
		b.cfg.Logger.Debug().
			Str("request", args.Path).
			Str("path", resolved).
			Str("chunk_type", string(rec.ChunkType)).
			Msg("Binary import left to the host")
		return api.OnResolveResult{Path: b.externalID(args.Path, req, resolved), External: true}, nil
	}

	b.cfg.Metrics.RecordResolution(observability.OutcomeBundled)

	id := req.WithResource(resolved)
	namespace := NamespaceFile
	if id.HasLoaders() {
		namespace = NamespaceBridge
	}
	return api.OnResolveResult{Path: id.String(), Namespace: namespace}, nil
}

func (b *Bridge) onLoad(args api.OnLoadArgs) (api.OnLoadResult, error) {
	id := Split(args.Path)
	resolveDir := filepath.Dir(id.Resource)

	if args.Path == b.cfg.Entry {
		b.cfg.Metrics.RecordLoad("entry", nil)
		contents := InlineSourceMap(b.cfg.Source, b.cfg.SourceMap)
		return api.OnLoadResult{
			Contents:   &contents,
			Loader:     b.loaderFor(id),
			ResolveDir: resolveDir,
		}, nil
	}

	mod, err := b.cfg.Host.LoadModule(b.ctx, args.Path)
	if err != nil {
		lerr := &LoadError{ID: args.Path, Err: err}
		b.fail.set(lerr)
		b.cfg.Metrics.RecordLoad("host", lerr)
		return api.OnLoadResult{}, lerr
	}
	b.cfg.Metrics.RecordLoad("host", nil)

	contents := InlineSourceMap(mod.Code, mod.Map)
	return api.OnLoadResult{
		Contents:   &contents,
		Loader:     b.loaderFor(id),
		ResolveDir: resolveDir,
	}, nil
}

// externalID is the import path an external keeps in the bundle, which is
// written next to the entry. Relative requests are rebased onto the entry's
// directory and absolute ones use the resolved path. Bare specifiers are
// left as written.
func (b *Bridge) externalID(request string, req Request, resolved string) string {
	switch {
	case filepath.IsAbs(req.Resource):
		return req.WithResource(resolved).String()
	case !req.IsRelative():
		return request
	}
	rel, err := filepath.Rel(filepath.Dir(Split(b.cfg.Entry).Resource), resolved)
	if err != nil {
		return req.WithResource(resolved).String()
	}
	rel = filepath.ToSlash(rel)
	if !strings.HasPrefix(rel, "../") {
		rel = "./" + rel
	}
	return req.WithResource(rel).String()
}

func (b *Bridge) isExternal(request string) bool {
	for _, pattern := range b.cfg.External {
		if pattern == request {
			return true
		}
		if matched, err := doublestar.Match(pattern, request); err == nil && matched {
			return true
		}
	}
	return false
}

var extensionLoaders = map[string]api.Loader{
	".js":   api.LoaderJS,
	".mjs":  api.LoaderJS,
	".cjs":  api.LoaderJS,
	".jsx":  api.LoaderJSX,
	".ts":   api.LoaderTS,
	".mts":  api.LoaderTS,
	".cts":  api.LoaderTS,
	".tsx":  api.LoaderTSX,
	".json": api.LoaderJSON,
	".css":  api.LoaderCSS,
	".txt":  api.LoaderText,
}

// loaderFor picks how esbuild parses a module. Output of a host loader
// chain is always JavaScript.
func (b *Bridge) loaderFor(id Request) api.Loader {
	if id.HasLoaders() {
		return api.LoaderJS
	}
	ext := strings.ToLower(filepath.Ext(id.Resource))
	if loader, ok := extensionLoaders[ext]; ok {
		return loader
	}
	if loader, ok := b.loaders[ext]; ok {
		return loader
	}
	return api.LoaderJS
}

const inlineMapPrefix = "//# sourceMappingURL=data:application/json;base64,"

// InlineSourceMap appends sourceMap to code as a data URL comment, which
// esbuild picks up as the input source map. Empty and null maps leave code as is.
func InlineSourceMap(code string, sourceMap []byte) string {
	if len(sourceMap) == 0 || string(sourceMap) == "null" {
		return code
	}
	var sb strings.Builder
	sb.Grow(len(code) + len(inlineMapPrefix) + base64.StdEncoding.EncodedLen(len(sourceMap)) + 2)
	sb.WriteString(code)
	if !strings.HasSuffix(code, "\n") {
		sb.WriteByte('\n')
	}
	sb.WriteString(inlineMapPrefix)
	sb.WriteString(base64.StdEncoding.EncodeToString(sourceMap))
	sb.WriteByte('\n')
	return sb.String()
}
