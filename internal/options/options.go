// Package options narrows the loader configuration down to what the nested
// bundler accepts and decodes the recognized keys into typed settings.
package options

import (
	"fmt"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/mitchellh/mapstructure"
)

// Recognized bundler input keys.
const (
	KeyInput         = "input"
	KeyExternal      = "external"
	KeyPlugins       = "plugins"
	KeyOnWarn        = "onwarn"
	KeyCache         = "cache"
	KeyParser        = "acorn"
	KeyParserPlugins = "acornInjectPlugins"
	KeyTreeShake     = "treeshake"
	KeyContext       = "context"
	KeyModuleContext = "moduleContext"
	KeyLegacy        = "legacy"
)

// Adapter-specific keys. They never reach the bundler.
const (
	KeyBinaryAssets     = "binaryAssets"
	KeyDeployManager    = "deployManager"
	KeyTransformOptions = "transformOptions"
	KeyTransformRC      = "transformrc"
)

var standardInputOptions = []string{
	// core
	KeyInput,
	KeyExternal,
	KeyPlugins,

	// advanced
	KeyOnWarn,
	KeyCache,

	// danger zone
	KeyParser,
	KeyParserPlugins,
	KeyTreeShake,
	KeyContext,
	KeyModuleContext,
	KeyLegacy,
}

// StandardKeys returns a copy of the recognized bundler input keys.
func StandardKeys() []string {
	out := make([]string, len(standardInputOptions))
	copy(out, standardInputOptions)
	return out
}

// IsStandard reports whether key belongs to the recognized input surface.
func IsStandard(key string) bool {
	for _, k := range standardInputOptions {
		if k == key {
			return true
		}
	}
	return false
}

// Standardize drops every key outside the recognized input surface.
// Keys missing from raw stay missing in the result.
func Standardize(raw map[string]any) map[string]any {
	out := make(map[string]any, len(standardInputOptions))
	for _, key := range standardInputOptions {
		if v, ok := raw[key]; ok {
			out[key] = v
		}
	}
	return out
}

// ParserOptions tunes how the bundler parses modules.
type ParserOptions struct {
	JSXFactory      string          `mapstructure:"jsxFactory"`
	JSXFragment     string          `mapstructure:"jsxFragment"`
	JSXImportSource string          `mapstructure:"jsxImportSource"`
	Supported       map[string]bool `mapstructure:"supported"`
}

// InputOptions is the typed form of a standardized option map.
type InputOptions struct {
	Input    string
	External []string
	Plugins  []api.Plugin
	OnWarn   func(api.Message)

	// Cache is the esbuild mangle cache; it is updated in place after a build.
	Cache map[string]any

	Parser ParserOptions
	// ParserPlugins maps file extensions to esbuild loader names.
	ParserPlugins map[string]string

	TreeShake     *bool
	Context       string
	ModuleContext map[string]string
	Legacy        bool
}

// DecodeInput converts a standardized map into InputOptions.
func DecodeInput(std map[string]any) (*InputOptions, error) {
	in := &InputOptions{}

	if v, ok := std[KeyInput]; ok && v != nil {
		s, ok := v.(string)
		if !ok {
			return nil, NewConfigurationError(KeyInput, "expected a string, got %T", v)
		}
		in.Input = s
	}

	if v, ok := std[KeyExternal]; ok && v != nil {
		ext, err := stringList(v)
		if err != nil {
			return nil, &ConfigurationError{Key: KeyExternal, Err: err}
		}
		in.External = ext
	}

	if v, ok := std[KeyPlugins]; ok && v != nil {
		plugins, err := pluginList(v)
		if err != nil {
			return nil, &ConfigurationError{Key: KeyPlugins, Err: err}
		}
		in.Plugins = plugins
	}

	if v, ok := std[KeyOnWarn]; ok && v != nil {
		switch fn := v.(type) {
		case func(api.Message):
			in.OnWarn = fn
		case func(string):
			in.OnWarn = func(msg api.Message) { fn(msg.Text) }
		default:
			return nil, NewConfigurationError(KeyOnWarn, "expected a warning handler, got %T", v)
		}
	}

	if v, ok := std[KeyCache]; ok && v != nil {
		cache, ok := v.(map[string]any)
		if !ok {
			return nil, NewConfigurationError(KeyCache, "expected a cache map, got %T", v)
		}
		in.Cache = cache
	}

	if v, ok := std[KeyParser]; ok && v != nil {
		if err := decodeStrict(v, &in.Parser); err != nil {
			return nil, &ConfigurationError{Key: KeyParser, Err: err}
		}
	}

	if v, ok := std[KeyParserPlugins]; ok && v != nil {
		if err := decodeStrict(v, &in.ParserPlugins); err != nil {
			return nil, &ConfigurationError{Key: KeyParserPlugins, Err: err}
		}
		for ext, name := range in.ParserPlugins {
			if _, ok := LoaderByName(name); !ok {
				return nil, NewConfigurationError(KeyParserPlugins, "unknown loader %q for %q", name, ext)
			}
		}
	}

	if v, ok := std[KeyTreeShake]; ok && v != nil {
		b, ok := v.(bool)
		if !ok {
			return nil, NewConfigurationError(KeyTreeShake, "expected a bool, got %T", v)
		}
		in.TreeShake = &b
	}

	if v, ok := std[KeyContext]; ok && v != nil {
		s, ok := v.(string)
		if !ok {
			return nil, NewConfigurationError(KeyContext, "expected a string, got %T", v)
		}
		in.Context = s
	}

	if v, ok := std[KeyModuleContext]; ok && v != nil {
		if err := decodeStrict(v, &in.ModuleContext); err != nil {
			return nil, &ConfigurationError{Key: KeyModuleContext, Err: err}
		}
	}

	if v, ok := std[KeyLegacy]; ok && v != nil {
		b, ok := v.(bool)
		if !ok {
			return nil, NewConfigurationError(KeyLegacy, "expected a bool, got %T", v)
		}
		in.Legacy = b
	}

	return in, nil
}

// Bool reads an optional boolean adapter flag.
func Bool(raw map[string]any, key string, def bool) (bool, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return def, NewConfigurationError(key, "expected a bool, got %T", v)
	}
	return b, nil
}

var loadersByName = map[string]api.Loader{
	"js":      api.LoaderJS,
	"jsx":     api.LoaderJSX,
	"ts":      api.LoaderTS,
	"tsx":     api.LoaderTSX,
	"json":    api.LoaderJSON,
	"css":     api.LoaderCSS,
	"text":    api.LoaderText,
	"base64":  api.LoaderBase64,
	"dataurl": api.LoaderDataURL,
	"binary":  api.LoaderBinary,
	"empty":   api.LoaderEmpty,
}

// LoaderByName maps an esbuild loader name to its constant.
func LoaderByName(name string) (api.Loader, bool) {
	l, ok := loadersByName[name]
	return l, ok
}

func decodeStrict(input, output any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused: true,
		Result:      output,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

func stringList(v any) ([]string, error) {
	switch t := v.(type) {
	case string:
		return []string{t}, nil
	case []string:
		return append([]string(nil), t...), nil
	case []any:
		out := make([]string, 0, len(t))
		for i, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("entry %d: expected a string, got %T", i, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a string list, got %T", v)
	}
}

func pluginList(v any) ([]api.Plugin, error) {
	switch t := v.(type) {
	case api.Plugin:
		return []api.Plugin{t}, nil
	case []api.Plugin:
		return append([]api.Plugin(nil), t...), nil
	case []any:
		out := make([]api.Plugin, 0, len(t))
		for i, item := range t {
			p, ok := item.(api.Plugin)
			if !ok {
				return nil, fmt.Errorf("entry %d: expected a plugin, got %T", i, item)
			}
			out = append(out, p)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a plugin list, got %T", v)
	}
}
