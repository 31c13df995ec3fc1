// Package transform runs the syntax transformation applied to a finished bundle.
package transform

import (
	"sort"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/mitchellh/mapstructure"

	"github.com/fluxbase-eu/bundlebridge/internal/options"
)

// Options are the transformation settings, keyed like esbuild's CLI flags.
type Options struct {
	Target   string `mapstructure:"target" yaml:"target"`
	Format   string `mapstructure:"format" yaml:"format"`
	Platform string `mapstructure:"platform" yaml:"platform"`

	Minify            bool `mapstructure:"minify" yaml:"minify"`
	MinifyWhitespace  bool `mapstructure:"minifyWhitespace" yaml:"minifyWhitespace"`
	MinifyIdentifiers bool `mapstructure:"minifyIdentifiers" yaml:"minifyIdentifiers"`
	MinifySyntax      bool `mapstructure:"minifySyntax" yaml:"minifySyntax"`
	KeepNames         bool `mapstructure:"keepNames" yaml:"keepNames"`

	Charset       string `mapstructure:"charset" yaml:"charset"`
	LegalComments string `mapstructure:"legalComments" yaml:"legalComments"`

	JSX         string `mapstructure:"jsx" yaml:"jsx"`
	JSXFactory  string `mapstructure:"jsxFactory" yaml:"jsxFactory"`
	JSXFragment string `mapstructure:"jsxFragment" yaml:"jsxFragment"`

	Define    map[string]string `mapstructure:"define" yaml:"define"`
	Pure      []string          `mapstructure:"pure" yaml:"pure"`
	Drop      []string          `mapstructure:"drop" yaml:"drop"`
	Banner    string            `mapstructure:"banner" yaml:"banner"`
	Footer    string            `mapstructure:"footer" yaml:"footer"`
	Supported map[string]bool   `mapstructure:"supported" yaml:"supported"`

	SourceRoot string `mapstructure:"sourceRoot" yaml:"sourceRoot"`
}

var targets = map[string]api.Target{
	"":       api.DefaultTarget,
	"esnext": api.ESNext,
	"es5":    api.ES5,
	"es2015": api.ES2015,
	"es6":    api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
	"es2023": api.ES2023,
	"es2024": api.ES2024,
}

var formats = map[string]api.Format{
	"":     api.FormatDefault,
	"esm":  api.FormatESModule,
	"cjs":  api.FormatCommonJS,
	"iife": api.FormatIIFE,
}

var platforms = map[string]api.Platform{
	"":        api.PlatformNeutral,
	"neutral": api.PlatformNeutral,
	"browser": api.PlatformBrowser,
	"node":    api.PlatformNode,
}

var charsets = map[string]api.Charset{
	"":      api.CharsetDefault,
	"ascii": api.CharsetASCII,
	"utf8":  api.CharsetUTF8,
}

var legalComments = map[string]api.LegalComments{
	"":         api.LegalCommentsDefault,
	"none":     api.LegalCommentsNone,
	"inline":   api.LegalCommentsInline,
	"eof":      api.LegalCommentsEndOfFile,
	"external": api.LegalCommentsExternal,
}

var jsxModes = map[string]api.JSX{
	"":          api.JSXTransform,
	"transform": api.JSXTransform,
	"preserve":  api.JSXPreserve,
	"automatic": api.JSXAutomatic,
}

// Decode reads raw into Options. Unknown keys and malformed values are
// configuration errors.
func Decode(raw map[string]any) (*Options, error) {
	var opts Options
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused:      true,
		WeaklyTypedInput: false,
		Result:           &opts,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, &options.ConfigurationError{Key: options.KeyTransformOptions, Err: err}
	}
	return &opts, nil
}

// TransformOptions maps o onto esbuild. Enumerated values are checked here.
func (o *Options) TransformOptions() (api.TransformOptions, error) {
	var out api.TransformOptions
	var err error

	if out.Target, err = lookup(targets, "target", o.Target); err != nil {
		return out, err
	}
	if out.Format, err = lookup(formats, "format", o.Format); err != nil {
		return out, err
	}
	if out.Platform, err = lookup(platforms, "platform", o.Platform); err != nil {
		return out, err
	}
	if out.Charset, err = lookup(charsets, "charset", o.Charset); err != nil {
		return out, err
	}
	if out.LegalComments, err = lookup(legalComments, "legalComments", o.LegalComments); err != nil {
		return out, err
	}
	if out.JSX, err = lookup(jsxModes, "jsx", o.JSX); err != nil {
		return out, err
	}

	for _, d := range o.Drop {
		switch d {
		case "console":
			out.Drop |= api.DropConsole
		case "debugger":
			out.Drop |= api.DropDebugger
		default:
			return out, options.NewConfigurationError(options.KeyTransformOptions, "drop: unknown value %q", d)
		}
	}

	out.MinifyWhitespace = o.Minify || o.MinifyWhitespace
	out.MinifyIdentifiers = o.Minify || o.MinifyIdentifiers
	out.MinifySyntax = o.Minify || o.MinifySyntax
	out.KeepNames = o.KeepNames
	out.JSXFactory = o.JSXFactory
	out.JSXFragment = o.JSXFragment
	out.Define = o.Define
	out.Pure = o.Pure
	out.Banner = o.Banner
	out.Footer = o.Footer
	out.Supported = o.Supported
	out.SourceRoot = o.SourceRoot
	return out, nil
}

func lookup[T any](table map[string]T, key, value string) (T, error) {
	v, ok := table[strings.ToLower(value)]
	if !ok {
		var zero T
		allowed := make([]string, 0, len(table))
		for k := range table {
			if k != "" {
				allowed = append(allowed, k)
			}
		}
		sort.Strings(allowed)
		return zero, options.NewConfigurationError(options.KeyTransformOptions,
			"%s: unknown value %q (expected one of %s)", key, value, strings.Join(allowed, ", "))
	}
	return v, nil
}
