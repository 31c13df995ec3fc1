// Package fshost is a standalone host that resolves and loads modules from a
// filesystem, for running the loader without an embedding bundler.
package fshost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/fluxbase-eu/bundlebridge/internal/bridge"
	"github.com/fluxbase-eu/bundlebridge/pkg/host"
)

// Loader transforms the contents of resourcePath into JavaScript.
type Loader func(ctx context.Context, resourcePath, source string) (string, error)

// Options configures a Host.
type Options struct {
	// Fs defaults to the OS filesystem.
	Fs afero.Fs
	// Extensions are probed, in order, for requests without one.
	Extensions []string
	// MainFields are read from package.json, in order.
	MainFields []string
	// ModuleDirs are searched for bare specifiers in every ancestor directory.
	ModuleDirs []string
	// Alias rewrites a request or its first path segments.
	Alias map[string]string
	// Loaders are available to loader prefixes in addition to the built-in ones.
	Loaders map[string]Loader
}

// DefaultExtensions are probed when Options.Extensions is empty.
var DefaultExtensions = []string{".js", ".mjs", ".cjs", ".jsx", ".ts", ".tsx", ".json"}

// Host implements host.Host on top of an afero filesystem.
type Host struct {
	fs         afero.Fs
	extensions []string
	mainFields []string
	moduleDirs []string
	alias      map[string]string
	loaders    map[string]Loader

	mu   sync.Mutex
	deps map[string]struct{}
}

var _ host.Host = (*Host)(nil)

// New creates a host. Built-in loaders are "raw" and "text" (export the file
// as a string) and "json" (export parsed JSON).
func New(opts Options) *Host {
	h := &Host{
		fs:         opts.Fs,
		extensions: opts.Extensions,
		mainFields: opts.MainFields,
		moduleDirs: opts.ModuleDirs,
		alias:      opts.Alias,
		loaders: map[string]Loader{
			"raw":  RawLoader,
			"text": RawLoader,
			"json": JSONLoader,
		},
		deps: make(map[string]struct{}),
	}
	if h.fs == nil {
		h.fs = afero.NewOsFs()
	}
	if len(h.extensions) == 0 {
		h.extensions = DefaultExtensions
	}
	if len(h.mainFields) == 0 {
		h.mainFields = []string{"module", "main"}
	}
	if len(h.moduleDirs) == 0 {
		h.moduleDirs = []string{"node_modules"}
	}
	for name, l := range opts.Loaders {
		h.loaders[name] = l
	}
	return h
}

// Fs returns the filesystem modules are read from.
func (h *Host) Fs() afero.Fs {
	return h.fs
}

// Resolve implements host.Host.
func (h *Host) Resolve(ctx context.Context, contextDir, request string) (string, error) {
	request = h.applyAlias(request)

	var resolved string
	var ok bool
	switch {
	case filepath.IsAbs(request):
		resolved, ok = h.resolvePath(filepath.Clean(request))
	case isRelative(request):
		resolved, ok = h.resolvePath(filepath.Join(contextDir, request))
	default:
		resolved, ok = h.resolvePackage(contextDir, request)
	}
	if !ok {
		return "", fmt.Errorf("%w: %q from %s", host.ErrNotFound, request, contextDir)
	}

	log.Trace().Str("request", request).Str("resolved", resolved).Msg("Resolved module")
	return resolved, nil
}

// LoadModule implements host.Host. The loaders of the prefix run right to left.
func (h *Host) LoadModule(ctx context.Context, id string) (*host.Module, error) {
	req := bridge.Split(id)
	data, err := afero.ReadFile(h.fs, req.Resource)
	if err != nil {
		return nil, err
	}
	source := string(data)

	names := req.LoaderNames()
	for i := len(names) - 1; i >= 0; i-- {
		name, _, _ := strings.Cut(names[i], "?")
		loader, ok := h.loaders[name]
		if !ok {
			return nil, fmt.Errorf("unknown loader %q in %q", name, id)
		}
		if source, err = loader(ctx, req.Resource, source); err != nil {
			return nil, fmt.Errorf("loader %q failed for %s: %w", name, req.Resource, err)
		}
	}
	return &host.Module{Code: source}, nil
}

// AddDependency implements host.Host.
func (h *Host) AddDependency(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deps[path] = struct{}{}
}

// Dependencies returns the registered dependencies, sorted.
func (h *Host) Dependencies() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.deps))
	for d := range h.deps {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// ResetDependencies forgets the registered dependencies.
func (h *Host) ResetDependencies() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deps = make(map[string]struct{})
}

func isRelative(request string) bool {
	return request == "." || request == ".." ||
		strings.HasPrefix(request, "./") || strings.HasPrefix(request, "../")
}

func (h *Host) applyAlias(request string) string {
	if target, ok := h.alias[request]; ok {
		return target
	}
	// Longest matching prefix wins
	best := ""
	for from := range h.alias {
		if strings.HasPrefix(request, from+"/") && len(from) > len(best) {
			best = from
		}
	}
	if best == "" {
		return request
	}
	return h.alias[best] + strings.TrimPrefix(request, best)
}

func (h *Host) isFile(p string) bool {
	info, err := h.fs.Stat(p)
	return err == nil && !info.IsDir()
}

func (h *Host) isDir(p string) bool {
	info, err := h.fs.Stat(p)
	return err == nil && info.IsDir()
}

func (h *Host) resolvePath(p string) (string, bool) {
	if h.isFile(p) {
		return p, true
	}
	for _, ext := range h.extensions {
		if h.isFile(p + ext) {
			return p + ext, true
		}
	}
	if h.isDir(p) {
		return h.resolveDir(p)
	}
	return "", false
}

func (h *Host) resolveDir(dir string) (string, bool) {
	if fields, err := h.readPackageJSON(filepath.Join(dir, "package.json")); err == nil {
		for _, field := range h.mainFields {
			entry, ok := fields[field].(string)
			if !ok || entry == "" {
				continue
			}
			if resolved, ok := h.resolveFileOrIndex(filepath.Join(dir, entry)); ok {
				return resolved, true
			}
		}
	}
	return h.resolveIndex(dir)
}

func (h *Host) resolveFileOrIndex(p string) (string, bool) {
	if h.isFile(p) {
		return p, true
	}
	for _, ext := range h.extensions {
		if h.isFile(p + ext) {
			return p + ext, true
		}
	}
	return h.resolveIndex(p)
}

func (h *Host) resolveIndex(dir string) (string, bool) {
	for _, ext := range h.extensions {
		candidate := filepath.Join(dir, "index"+ext)
		if h.isFile(candidate) {
			return candidate, true
		}
	}
	return "", false
}

func (h *Host) resolvePackage(contextDir, request string) (string, bool) {
	dir := filepath.Clean(contextDir)
	for {
		for _, modules := range h.moduleDirs {
			candidate := filepath.Join(dir, modules, request)
			if resolved, ok := h.resolvePath(candidate); ok {
				return resolved, true
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

func (h *Host) readPackageJSON(path string) (map[string]any, error) {
	data, err := afero.ReadFile(h.fs, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		log.Warn().Err(err).Str("path", path).Msg("Failed to read package.json")
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Ignoring malformed package.json")
		return nil, err
	}
	return fields, nil
}

// RawLoader exports the file contents as a string.
func RawLoader(_ context.Context, _, source string) (string, error) {
	var sb strings.Builder
	enc := json.NewEncoder(&sb)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(source); err != nil {
		return "", err
	}
	return "export default " + strings.TrimSpace(sb.String()) + ";\n", nil
}

// JSONLoader exports the parsed JSON document.
func JSONLoader(_ context.Context, resourcePath, source string) (string, error) {
	if !json.Valid([]byte(source)) {
		return "", fmt.Errorf("%s is not valid JSON", resourcePath)
	}
	return "export default " + strings.TrimSpace(source) + ";\n", nil
}
