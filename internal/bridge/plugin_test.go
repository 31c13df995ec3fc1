package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/bundlebridge/internal/assets"
	"github.com/fluxbase-eu/bundlebridge/internal/observability"
	"github.com/fluxbase-eu/bundlebridge/internal/options"
	"github.com/fluxbase-eu/bundlebridge/internal/testutil"
	"github.com/fluxbase-eu/bundlebridge/pkg/host"
)

const entry = "/src/index.js"

func bundle(t *testing.T, b *Bridge) api.BuildResult {
	t.Helper()
	return api.Build(api.BuildOptions{
		EntryPoints: []string{entry},
		Bundle:      true,
		Write:       false,
		Format:      api.FormatESModule,
		Outfile:     "/src/index.bundle.js",
		LogLevel:    api.LogLevelSilent,
		Plugins:     []api.Plugin{b.Plugin()},
	})
}

func output(t *testing.T, result api.BuildResult) string {
	t.Helper()
	require.Empty(t, result.Errors)
	require.Len(t, result.OutputFiles, 1)
	return string(result.OutputFiles[0].Contents)
}

func newBridge(t *testing.T, cfg Config) *Bridge {
	t.Helper()
	if cfg.Entry == "" {
		cfg.Entry = entry
	}
	b, err := New(context.Background(), cfg)
	require.NoError(t, err)
	return b
}

func TestNew_Validation(t *testing.T) {
	h := testutil.NewMockHost()

	_, err := New(context.Background(), Config{Entry: entry})
	assert.Error(t, err)

	_, err = New(context.Background(), Config{Host: h})
	assert.Error(t, err)

	_, err = New(context.Background(), Config{Entry: entry, Host: h, External: []string{"[oops"}})
	var cfgErr *options.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, options.KeyExternal, cfgErr.Key)

	_, err = New(context.Background(), Config{Entry: entry, Host: h, ParserPlugins: map[string]string{".vue": "nope"}})
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, options.KeyParserPlugins, cfgErr.Key)
}

func TestBridge_BundlesThroughHost(t *testing.T) {
	h := testutil.NewMockHost().
		AddFile("/src/dep.js", "import { y } from './lib/util'; export const x = y * 2;").
		AddFile("/src/lib/util.js", "export const y = 21;")

	b := newBridge(t, Config{
		Source: "import { x } from './dep'; console.log('answer', x);",
		Host:   h,
	})

	out := output(t, bundle(t, b))

	assert.Contains(t, out, "answer")
	assert.Contains(t, out, "21")
	assert.NoError(t, b.Err())
	assert.Equal(t, []string{"/src/dep.js", "/src/lib/util.js"}, h.Dependencies())
	// The entry is supplied from the invocation, never through the host
	assert.Equal(t, 2, h.LoadCalls())
	assert.Equal(t, 2, h.ResolveCalls())
}

func TestBridge_LoaderPrefix(t *testing.T) {
	h := testutil.NewMockHost().AddFile("/src/notes/hello.txt", "hello from the host loader")

	b := newBridge(t, Config{
		Source: "import note from 'raw!./notes/hello.txt'; console.log(note);",
		Host:   h,
	})

	out := output(t, bundle(t, b))

	assert.Contains(t, out, "hello from the host loader")
	assert.Equal(t, []string{"/src/notes/hello.txt"}, h.Dependencies())
}

func TestBridge_External(t *testing.T) {
	t.Run("raw request", func(t *testing.T) {
		h := testutil.NewMockHost()
		b := newBridge(t, Config{
			Source:   "import React from 'react'; console.log(React);",
			Host:     h,
			External: []string{"react"},
		})

		out := output(t, bundle(t, b))

		assert.Contains(t, out, `from "react"`)
		assert.Equal(t, 0, h.ResolveCalls())
		assert.Empty(t, h.Dependencies())
	})

	t.Run("resolved path pattern", func(t *testing.T) {
		h := testutil.NewMockHost().AddFile("/node_modules/lodash/index.js", "export default {};")
		b := newBridge(t, Config{
			Source:   "import _ from 'lodash'; console.log(_);",
			Host:     h,
			External: []string{"/node_modules/**"},
		})

		out := output(t, bundle(t, b))

		assert.Contains(t, out, `from "lodash"`)
		assert.Equal(t, 1, h.ResolveCalls())
		assert.Empty(t, h.Dependencies())
	})
}

func TestBridge_ResolutionError(t *testing.T) {
	h := testutil.NewMockHost()
	b := newBridge(t, Config{
		Source: "import './missing';",
		Host:   h,
	})

	result := bundle(t, b)

	assert.NotEmpty(t, result.Errors)
	var rerr *ResolutionError
	require.True(t, errors.As(b.Err(), &rerr))
	assert.Equal(t, "./missing", rerr.Request)
	assert.Equal(t, entry, rerr.Importer)
	assert.True(t, errors.Is(rerr, host.ErrNotFound))
}

func TestBridge_LoadError(t *testing.T) {
	boom := errors.New("loader crashed")
	h := testutil.NewMockHost().AddFile("/src/dep.js", "export default 1;")
	h.LoadErrors["/src/dep.js"] = boom

	b := newBridge(t, Config{
		Source: "import dep from './dep'; console.log(dep);",
		Host:   h,
	})

	result := bundle(t, b)

	assert.NotEmpty(t, result.Errors)
	var lerr *LoadError
	require.True(t, errors.As(b.Err(), &lerr))
	assert.Equal(t, "/src/dep.js", lerr.ID)
	assert.ErrorIs(t, b.Err(), boom)
}

func TestBridge_BinaryAssets(t *testing.T) {
	h := testutil.NewMockHost().
		AddFile("/src/img/logo.png", "\x89PNG").
		AddFile("/src/app.js", "import logo from './img/logo.png'; export default logo;")

	store := assets.NewMemoryStore()
	interceptor, err := assets.New(&assets.Options{
		Types: []assets.Rule{{Type: assets.ChunkTypeImage, Include: []string{"**/*.png"}}},
		Store: store,
	}, nil)
	require.NoError(t, err)

	metrics := observability.NewMetrics(nil)
	b := newBridge(t, Config{
		Source:      "import logo from './img/logo.png'; import app from './app'; console.log(logo, app);",
		Host:        h,
		Interceptor: interceptor,
		Metrics:     metrics,
	})

	out := output(t, bundle(t, b))

	assert.Contains(t, out, `"./img/logo.png"`)
	assert.Equal(t, []assets.Record{{ChunkType: assets.ChunkTypeImage, Path: "/src/img/logo.png"}}, store.Records())
	assert.Equal(t, []string{"/src/app.js", "/src/img/logo.png"}, h.Dependencies())
}

func TestBridge_BinaryAssetFromNestedImporter(t *testing.T) {
	h := testutil.NewMockHost().
		AddFile("/src/components/logo.png", "\x89PNG").
		AddFile("/src/components/header.js", "import logo from './logo.png'; export default logo;")

	store := assets.NewMemoryStore()
	interceptor, err := assets.New(&assets.Options{
		Types: []assets.Rule{{Type: assets.ChunkTypeImage, Include: []string{"**/*.png"}}},
		Store: store,
	}, nil)
	require.NoError(t, err)

	b := newBridge(t, Config{
		Source:      "import header from './components/header'; console.log(header);",
		Host:        h,
		Interceptor: interceptor,
	})

	out := output(t, bundle(t, b))

	assert.Contains(t, out, `"./components/logo.png"`)
	assert.NotContains(t, out, `"./logo.png"`)
	assert.Equal(t, []string{"/src/components/header.js", "/src/components/logo.png"}, h.Dependencies())
}

func TestBridge_ExternalID(t *testing.T) {
	b := newBridge(t, Config{Host: testutil.NewMockHost()})

	tests := []struct {
		name     string
		request  string
		resolved string
		want     string
	}{
		{"sibling", "./logo.png", "/src/logo.png", "./logo.png"},
		{"nested importer", "./logo.png", "/src/components/logo.png", "./components/logo.png"},
		{"parent directory", "../shared/font.woff", "/shared/font.woff", "../shared/font.woff"},
		{"loader prefix", "url!./logo.png", "/src/img/logo.png", "url!./img/logo.png"},
		{"absolute", "/assets/logo.png", "/assets/logo.png", "/assets/logo.png"},
		{"bare specifier", "icons/logo.png", "/node_modules/icons/logo.png", "icons/logo.png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, b.externalID(tt.request, Split(tt.request), tt.resolved))
		})
	}
}

func TestBridge_RegistryFailureAbortsResolution(t *testing.T) {
	offline := errors.New("registry offline")
	h := testutil.NewMockHost().AddFile("/src/logo.png", "\x89PNG")

	interceptor, err := assets.New(&assets.Options{
		Types: []assets.Rule{{Type: assets.ChunkTypeImage, Include: []string{"**/*.png"}}},
		Store: sinkFunc(func(context.Context, assets.Record) error { return offline }),
	}, nil)
	require.NoError(t, err)

	b := newBridge(t, Config{
		Source:      "import logo from './logo.png'; console.log(logo);",
		Host:        h,
		Interceptor: interceptor,
	})

	result := bundle(t, b)

	assert.NotEmpty(t, result.Errors)
	var regErr *assets.RegistrationError
	require.True(t, errors.As(b.Err(), &regErr))
	assert.Equal(t, "/src/logo.png", regErr.Record.Path)
	assert.ErrorIs(t, b.Err(), offline)
}

type sinkFunc func(ctx context.Context, rec assets.Record) error

func (f sinkFunc) Add(ctx context.Context, rec assets.Record) error {
	return f(ctx, rec)
}

func TestBridge_EntrySourceMap(t *testing.T) {
	sourceMap := json.RawMessage(`{"version":3,"sources":["original.ts"],"names":[],"mappings":"AAAA"}`)
	h := testutil.NewMockHost()
	b := newBridge(t, Config{
		Source:    "console.log('mapped');",
		SourceMap: sourceMap,
		Host:      h,
	})

	result := api.Build(api.BuildOptions{
		EntryPoints: []string{entry},
		Bundle:      true,
		Write:       false,
		Format:      api.FormatESModule,
		Sourcemap:   api.SourceMapExternal,
		Outfile:     "/src/index.bundle.js",
		LogLevel:    api.LogLevelSilent,
		Plugins:     []api.Plugin{b.Plugin()},
	})
	require.Empty(t, result.Errors)

	var mapFile string
	for _, f := range result.OutputFiles {
		if strings.HasSuffix(f.Path, ".map") {
			mapFile = string(f.Contents)
		}
	}
	assert.Contains(t, mapFile, "original.ts")
	assert.Equal(t, 0, h.LoadCalls())
}

func TestWithInlineMap(t *testing.T) {
	assert.Equal(t, "code", InlineSourceMap("code", nil))
	assert.Equal(t, "code", InlineSourceMap("code", json.RawMessage("null")))

	out := InlineSourceMap("code", json.RawMessage(`{"version":3}`))
	require.True(t, strings.HasPrefix(out, "code\n"+inlineMapPrefix))

	encoded := strings.TrimSpace(strings.TrimPrefix(out, "code\n"+inlineMapPrefix))
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":3}`, string(decoded))
}

func TestLoaderFor(t *testing.T) {
	b := newBridge(t, Config{
		Host:          testutil.NewMockHost(),
		ParserPlugins: map[string]string{"vue": "ts", ".js": "text"},
	})

	tests := []struct {
		id   string
		want api.Loader
	}{
		{"/src/a.js", api.LoaderJS},
		{"/src/a.ts", api.LoaderTS},
		{"/src/a.tsx", api.LoaderTSX},
		{"/src/a.JSON", api.LoaderJSON},
		{"/src/a.vue", api.LoaderTS},
		{"/src/a.unknown", api.LoaderJS},
		{"raw!/src/a.txt", api.LoaderJS},
		{"/src/a.txt", api.LoaderText},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			assert.Equal(t, tt.want, b.loaderFor(Split(tt.id)))
		})
	}
}
