package loader

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/bundlebridge/internal/testutil"
	"github.com/fluxbase-eu/bundlebridge/pkg/host"
)

const entryPath = "/project/src/main.js"

func newContext(h host.Host, source string, opts map[string]any) *Context {
	return &Context{
		ResourcePath: entryPath,
		Source:       source,
		Options:      opts,
		Host:         h,
		Fs:           afero.NewMemMapFs(),
	}
}

type outcome struct {
	calls     int32
	code      string
	sourceMap json.RawMessage
	err       error
}

func run(t *testing.T, lc *Context) *outcome {
	t.Helper()
	out := &outcome{}
	Run(context.Background(), lc, func(code string, sourceMap json.RawMessage, err error) {
		atomic.AddInt32(&out.calls, 1)
		out.code, out.sourceMap, out.err = code, sourceMap, err
	})
	require.Equal(t, int32(1), atomic.LoadInt32(&out.calls), "callback must be invoked exactly once")
	return out
}

func TestRun_EntryWithoutImports(t *testing.T) {
	h := testutil.NewMockHost()

	out := run(t, newContext(h, "export const greeting = 'hello';\n", nil))

	require.NoError(t, out.err)
	assert.Contains(t, out.code, `greeting = "hello"`)
	assert.Contains(t, out.code, "export {")
	assert.NotEmpty(t, out.sourceMap)
	assert.Equal(t, 0, h.ResolveCalls())
	assert.Equal(t, 0, h.LoadCalls())
	assert.Empty(t, h.Dependencies())
}

func TestRun_SiblingImport(t *testing.T) {
	h := testutil.NewMockHost().
		AddFile("/project/src/sibling.js", "export function shout(s) { return s.toUpperCase() + '!'; }")

	out := run(t, newContext(h, "import { shout } from './sibling';\nexport default shout('merged');\n", nil))

	require.NoError(t, out.err)
	assert.Contains(t, out.code, "toUpperCase()")
	assert.Contains(t, out.code, `shout("merged")`)
	assert.NotContains(t, out.code, "./sibling")
	assert.Equal(t, []string{"/project/src/sibling.js"}, h.Dependencies())
}

func TestRun_External(t *testing.T) {
	h := testutil.NewMockHost().AddFile("/project/src/vendor.js", "export default 'vendored';")

	out := run(t, newContext(h, "import v from './vendor.js';\nconsole.log(v);\n", map[string]any{
		"external": []any{"/project/src/vendor.js"},
	}))

	require.NoError(t, out.err)
	assert.Contains(t, out.code, `from "./vendor.js"`)
	assert.NotContains(t, out.code, "vendored")
	assert.Equal(t, 0, h.LoadCalls())
	assert.Empty(t, h.Dependencies())
}

func TestRun_BinaryAsset(t *testing.T) {
	h := testutil.NewMockHost().
		AddFile("/project/src/img/logo.png", "\x89PNG").
		AddFile("/project/src/header.js", "import logo from './img/logo.png'; export default logo;")

	var records []AssetRecord
	opts := map[string]any{
		"binaryAssets": map[string]any{
			"types": []any{
				map[string]any{"type": "fbAf", "include": []any{"**/*.woff"}},
				map[string]any{"type": "fbAi", "include": []any{"**/*.png", "**/*.jpg"}},
			},
			"store": func(rec AssetRecord) { records = append(records, rec) },
		},
	}
	lc := newContext(h, "import logo from './img/logo.png';\nimport header from './header';\nconsole.log(logo, header);\n", opts)

	res, err := Compile(context.Background(), lc)
	require.NoError(t, err)

	assert.Equal(t, []AssetRecord{{ChunkType: ChunkTypeImage, Path: "/project/src/img/logo.png"}}, records)
	assert.Equal(t, records, res.Assets)
	assert.Equal(t, 1, h.LoadCalls(), "only header.js goes through the host loader")
	assert.Contains(t, res.Code, `"./img/logo.png"`)
	assert.Contains(t, h.Dependencies(), "/project/src/img/logo.png")
}

func TestRun_BinaryAssetInSubdirectory(t *testing.T) {
	h := testutil.NewMockHost().
		AddFile("/project/src/components/logo.png", "\x89PNG").
		AddFile("/project/src/components/header.js", "import logo from './logo.png'; export default logo;")

	store := NewMemoryStore()
	opts := map[string]any{
		"binaryAssets": map[string]any{
			"types": []any{map[string]any{"type": "fbAi", "include": []any{"**/*.png"}}},
			"store": store,
		},
	}
	lc := newContext(h, "import header from './components/header';\nconsole.log(header);\n", opts)

	res, err := Compile(context.Background(), lc)
	require.NoError(t, err)

	assert.Contains(t, res.Code, `"./components/logo.png"`)
	assert.NotContains(t, res.Code, `"./logo.png"`)
	assert.Equal(t, []AssetRecord{{ChunkType: ChunkTypeImage, Path: "/project/src/components/logo.png"}}, store.Records())
	assert.Equal(t, []string{"/project/src/components/header.js", "/project/src/components/logo.png"}, h.Dependencies())
}

type offlineSink struct{}

func (offlineSink) Add(context.Context, AssetRecord) error {
	return errors.New("registry offline")
}

func TestRun_AssetRegistryFailure(t *testing.T) {
	h := testutil.NewMockHost().AddFile("/project/src/logo.png", "\x89PNG")

	out := run(t, newContext(h, "import logo from './logo.png';\nconsole.log(logo);\n", map[string]any{
		"binaryAssets": &BinaryAssetOptions{
			Types: []AssetRule{{Type: ChunkTypeImage, Include: []string{"*.png"}}},
			Store: offlineSink{},
		},
	}))

	require.Error(t, out.err)
	var regErr *RegistrationError
	require.True(t, errors.As(out.err, &regErr))
	assert.Equal(t, "/project/src/logo.png", regErr.Record.Path)
	assert.Empty(t, out.code)
	assert.Nil(t, out.sourceMap)
}

func TestRun_DeployManager(t *testing.T) {
	h := testutil.NewMockHost().AddFile("/project/src/font.woff", "wOFF")
	store := NewMemoryStore()

	out := run(t, newContext(h, "import font from './font.woff';\nconsole.log(font);\n", map[string]any{
		"binaryAssets": &BinaryAssetOptions{
			Types: []AssetRule{{Type: ChunkTypeFont, Include: []string{"*.woff"}}},
		},
		"deployManager": store,
	}))

	require.NoError(t, out.err)
	assert.Equal(t, []AssetRecord{{ChunkType: ChunkTypeFont, Path: "/project/src/font.woff"}}, store.Records())
}

func TestRun_ResolutionFailure(t *testing.T) {
	hostErr := errors.New("module not found in any search path")
	h := testutil.NewMockHost()
	h.ResolveErrors["./missing"] = hostErr

	out := run(t, newContext(h, "import './missing';\n", nil))

	require.Error(t, out.err)
	assert.Empty(t, out.code)
	assert.Nil(t, out.sourceMap)
	assert.ErrorIs(t, out.err, hostErr)

	var rerr *ResolutionError
	require.True(t, errors.As(out.err, &rerr))
	assert.Equal(t, "./missing", rerr.Request)
}

func TestRun_LoadFailure(t *testing.T) {
	h := testutil.NewMockHost().AddFile("/project/src/dep.js", "export default 1;")
	h.LoadErrors["/project/src/dep.js"] = errors.New("loader chain failed")

	out := run(t, newContext(h, "import dep from './dep';\nconsole.log(dep);\n", nil))

	var lerr *LoadError
	require.True(t, errors.As(out.err, &lerr))
	assert.Empty(t, out.code)
}

func TestRun_BundlingFailure(t *testing.T) {
	out := run(t, newContext(testutil.NewMockHost(), "export const = ;\n", nil))

	var berr *BundlingError
	require.True(t, errors.As(out.err, &berr))
}

func TestRun_ConfigurationError(t *testing.T) {
	tests := []struct {
		name string
		opts map[string]any
	}{
		{"store by value", map[string]any{
			"binaryAssets": map[string]any{
				"types": []any{map[string]any{"type": "fbAi", "include": []any{"*.png"}}},
				"store": []AssetRecord{},
			},
		}},
		{"missing store", map[string]any{
			"binaryAssets": map[string]any{
				"types": []any{map[string]any{"type": "fbAi"}},
			},
		}},
		{"bad deploy manager", map[string]any{"deployManager": "cdn"}},
		{"bad transformrc flag", map[string]any{"transformrc": "yes"}},
		{"bad treeshake", map[string]any{"treeshake": "smallest"}},
		{"bad transform options", map[string]any{"transformOptions": map[string]any{"presets": []any{"env"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := testutil.NewMockHost()

			out := run(t, newContext(h, "import './anything';\n", tt.opts))

			var cfgErr *ConfigurationError
			require.True(t, errors.As(out.err, &cfgErr), "got %v", out.err)
			assert.Equal(t, 0, h.ResolveCalls())
		})
	}
}

func TestRun_ExplicitTransformOptions(t *testing.T) {
	h := testutil.NewMockHost()
	source := "export function longFunctionName(argument) {\n  return argument + 1;\n}\n"

	plain, err := Compile(context.Background(), newContext(h, source, nil))
	require.NoError(t, err)

	minified, err := Compile(context.Background(), newContext(h, source, map[string]any{
		"transformOptions": map[string]any{"minifyWhitespace": true},
	}))
	require.NoError(t, err)

	assert.False(t, plain.Transformed)
	assert.True(t, minified.Transformed)
	assert.Less(t, len(minified.Code), len(plain.Code))
	assert.NotEmpty(t, minified.Map)
}

func TestRun_RCFile(t *testing.T) {
	h := testutil.NewMockHost()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/project/.transformrc.yml", []byte("minifyWhitespace: true\n"), 0644))

	lc := newContext(h, "export const value = 1 + 1;\n", nil)
	lc.Fs = fs

	res, err := Compile(context.Background(), lc)
	require.NoError(t, err)

	assert.True(t, res.Transformed)
	assert.Equal(t, "/project/.transformrc.yml", res.RCFile)
	assert.Contains(t, h.Dependencies(), "/project/.transformrc.yml")

	t.Run("discovery can be turned off", func(t *testing.T) {
		h := testutil.NewMockHost()
		lc := newContext(h, "export const value = 1 + 1;\n", map[string]any{"transformrc": false})
		lc.Fs = fs

		res, err := Compile(context.Background(), lc)
		require.NoError(t, err)
		assert.False(t, res.Transformed)
		assert.Empty(t, h.Dependencies())
	})
}

func TestRun_UserPluginsRunBeforeBridge(t *testing.T) {
	virtual := api.Plugin{
		Name: "virtual-modules",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: "^virtual:"}, func(args api.OnResolveArgs) (api.OnResolveResult, error) {
				return api.OnResolveResult{Path: args.Path, Namespace: "virtual"}, nil
			})
			build.OnLoad(api.OnLoadOptions{Filter: ".*", Namespace: "virtual"}, func(args api.OnLoadArgs) (api.OnLoadResult, error) {
				contents := "export default 'generated at build time';"
				return api.OnLoadResult{Contents: &contents}, nil
			})
		},
	}
	h := testutil.NewMockHost()

	out := run(t, newContext(h, "import v from 'virtual:build-info';\nconsole.log(v);\n", map[string]any{
		"plugins": []api.Plugin{virtual},
	}))

	require.NoError(t, out.err)
	assert.Contains(t, out.code, "generated at build time")
	assert.Equal(t, 0, h.ResolveCalls())
}

func TestRun_LoaderPrefixedImport(t *testing.T) {
	h := testutil.NewMockHost().AddFile("/project/src/template.html", "Hello {{name}}")

	out := run(t, newContext(h, "import tpl from 'raw!./template.html';\nexport default tpl;\n", nil))

	require.NoError(t, out.err)
	assert.Contains(t, out.code, "Hello {{name}}")
	assert.Equal(t, []string{"/project/src/template.html"}, h.Dependencies())
}

func TestCompile_Idempotent(t *testing.T) {
	h := testutil.NewMockHost().
		AddFile("/project/src/a.js", "export const a = 'a';").
		AddFile("/project/src/b.js", "export const b = 'b';")
	source := "import { a } from './a';\nimport { b } from './b';\nexport default a + b;\n"
	opts := map[string]any{"transformOptions": map[string]any{"target": "es2015"}}

	first, err := Compile(context.Background(), newContext(h, source, opts))
	require.NoError(t, err)
	second, err := Compile(context.Background(), newContext(h, source, opts))
	require.NoError(t, err)

	assert.Equal(t, first.Code, second.Code)
	assert.Equal(t, string(first.Map), string(second.Map))
}

func TestCompile_FreshEnginePerInvocation(t *testing.T) {
	var created int32
	factory := func() Engine {
		atomic.AddInt32(&created, 1)
		return NewEngine()
	}
	h := testutil.NewMockHost()

	for i := 0; i < 3; i++ {
		lc := newContext(h, "export default 1;\n", nil)
		lc.Engine = factory
		_, err := Compile(context.Background(), lc)
		require.NoError(t, err)
	}

	assert.Equal(t, int32(3), atomic.LoadInt32(&created))
}

func TestCompile_IgnoresUnknownOptions(t *testing.T) {
	var seen *Build
	lc := newContext(testutil.NewMockHost(), "export default 1;\n", map[string]any{
		"input":          "/somewhere/else.js",
		"cacheDirectory": true,
		"treeshake":      false,
	})
	lc.Engine = func() Engine {
		return engineFunc(func(ctx context.Context, b Build) (*BundleResult, error) {
			seen = &b
			return NewEngine().Bundle(ctx, b)
		})
	}

	_, err := Compile(context.Background(), lc)
	require.NoError(t, err)

	require.NotNil(t, seen)
	assert.Equal(t, entryPath, seen.Input.Input)
	require.NotNil(t, seen.Input.TreeShake)
	assert.False(t, *seen.Input.TreeShake)
	require.Len(t, seen.Plugins, 1)
}

func TestCompile_Validation(t *testing.T) {
	_, err := Compile(context.Background(), nil)
	assert.Error(t, err)

	_, err = Compile(context.Background(), &Context{ResourcePath: entryPath})
	assert.Error(t, err)

	_, err = Compile(context.Background(), &Context{ResourcePath: "relative.js", Host: testutil.NewMockHost()})
	assert.Error(t, err)
}

func TestRun_PanicIsReported(t *testing.T) {
	lc := newContext(testutil.NewMockHost(), "export default 1;\n", nil)
	lc.Engine = func() Engine {
		return engineFunc(func(context.Context, Build) (*BundleResult, error) {
			panic("engine exploded")
		})
	}

	out := run(t, lc)

	require.Error(t, out.err)
	assert.True(t, strings.Contains(out.err.Error(), "engine exploded"))
}

type engineFunc func(ctx context.Context, b Build) (*BundleResult, error)

func (f engineFunc) Bundle(ctx context.Context, b Build) (*BundleResult, error) {
	return f(ctx, b)
}
