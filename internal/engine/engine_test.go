package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/bundlebridge/internal/options"
)

// virtualPlugin serves modules from memory.
func virtualPlugin(files map[string]string) api.Plugin {
	return api.Plugin{
		Name: "virtual",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: ".*"}, func(args api.OnResolveArgs) (api.OnResolveResult, error) {
				path := args.Path
				if path[0] == '.' {
					path = "/src" + path[1:] + ".js"
				}
				return api.OnResolveResult{Path: path, Namespace: "virtual"}, nil
			})
			build.OnLoad(api.OnLoadOptions{Filter: ".*", Namespace: "virtual"}, func(args api.OnLoadArgs) (api.OnLoadResult, error) {
				contents, ok := files[args.Path]
				if !ok {
					return api.OnLoadResult{}, errors.New("no such module " + args.Path)
				}
				return api.OnLoadResult{Contents: &contents, Loader: api.LoaderJS, ResolveDir: "/src"}, nil
			})
		},
	}
}

func TestBuildOptions(t *testing.T) {
	treeShake := false
	in := &options.InputOptions{
		Input:     "/project/src/main.js",
		TreeShake: &treeShake,
		Legacy:    true,
		Cache:     map[string]any{},
		Parser: options.ParserOptions{
			JSXFactory:  "h",
			JSXFragment: "Fragment",
			Supported:   map[string]bool{"bigint": false},
		},
	}

	opts := BuildOptions(in, nil)

	assert.Equal(t, []string{"/project/src/main.js"}, opts.EntryPoints)
	assert.Equal(t, "/project/src", opts.AbsWorkingDir)
	assert.Equal(t, "/project/src/main.bundle.js", opts.Outfile)
	assert.True(t, opts.Bundle)
	assert.False(t, opts.Write)
	assert.Equal(t, api.FormatESModule, opts.Format)
	assert.Equal(t, api.SourceMapExternal, opts.Sourcemap)
	assert.True(t, opts.Metafile)
	assert.Equal(t, api.TreeShakingFalse, opts.TreeShaking)
	assert.Equal(t, api.ES5, opts.Target)
	assert.Equal(t, "h", opts.JSXFactory)
	assert.Equal(t, "Fragment", opts.JSXFragment)
	assert.Equal(t, map[string]bool{"bigint": false}, opts.Supported)
	assert.NotNil(t, opts.MangleCache)
}

func TestBuildOptions_Defaults(t *testing.T) {
	opts := BuildOptions(&options.InputOptions{Input: "/a/b.ts"}, nil)

	assert.Equal(t, api.TreeShakingDefault, opts.TreeShaking)
	assert.Equal(t, api.DefaultTarget, opts.Target)
	assert.Nil(t, opts.MangleCache)
	assert.Equal(t, "/a/b.bundle.js", opts.Outfile)
}

func TestBundle(t *testing.T) {
	files := map[string]string{
		"/src/main.js": "import { greet } from './greet'; console.log(greet('world'));",
		"/src/greet.js": "export function greet(name) { return 'hello ' + name; }",
	}
	var warnings []api.Message

	res, err := New().Bundle(context.Background(), Build{
		Input: &options.InputOptions{
			Input:  "/src/main.js",
			OnWarn: func(m api.Message) { warnings = append(warnings, m) },
		},
		Plugins: []api.Plugin{virtualPlugin(files)},
	})
	require.NoError(t, err)

	assert.Contains(t, res.Code, "hello ")
	assert.Contains(t, res.Code, "greet(\"world\")")
	assert.NotContains(t, res.Code, "sourceMappingURL")

	var sourceMap map[string]any
	require.NoError(t, json.Unmarshal(res.Map, &sourceMap))
	assert.Equal(t, float64(3), sourceMap["version"])

	var meta map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.Metafile), &meta))
	assert.Contains(t, meta, "inputs")
	assert.Empty(t, warnings)
}

func TestBundle_Errors(t *testing.T) {
	files := map[string]string{"/src/main.js": "import './missing';"}

	t.Run("plugin failure wins", func(t *testing.T) {
		recorded := errors.New("recorded by bridge")
		_, err := New().Bundle(context.Background(), Build{
			Input:     &options.InputOptions{Input: "/src/main.js"},
			Plugins:   []api.Plugin{virtualPlugin(files)},
			PluginErr: func() error { return recorded },
		})
		assert.Same(t, recorded, err)
	})

	t.Run("error detail", func(t *testing.T) {
		_, err := New().Bundle(context.Background(), Build{
			Input:   &options.InputOptions{Input: "/src/main.js"},
			Plugins: []api.Plugin{virtualPlugin(files)},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no such module /src/missing.js")
	})

	t.Run("syntax error", func(t *testing.T) {
		_, err := New().Bundle(context.Background(), Build{
			Input:   &options.InputOptions{Input: "/src/main.js"},
			Plugins: []api.Plugin{virtualPlugin(map[string]string{"/src/main.js": "export const = ;"})},
		})
		var bundlingErr *BundlingError
		require.True(t, errors.As(err, &bundlingErr))
		assert.NotEmpty(t, bundlingErr.Messages)
		assert.Contains(t, err.Error(), "/src/main.js")
	})

	t.Run("no entry", func(t *testing.T) {
		_, err := New().Bundle(context.Background(), Build{Input: &options.InputOptions{}})
		assert.Error(t, err)
	})
}

func TestFormatMessage(t *testing.T) {
	assert.Equal(t, "plain", FormatMessage(api.Message{Text: "plain"}))
	assert.Equal(t, "a.js:3:7: [bridge] broken", FormatMessage(api.Message{
		Text:       "broken",
		PluginName: "bridge",
		Location:   &api.Location{File: "a.js", Line: 3, Column: 7},
	}))
	assert.Equal(t, "bundling failed", (&BundlingError{}).Error())
}
