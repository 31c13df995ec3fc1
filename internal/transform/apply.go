package transform

import (
	"fmt"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/fluxbase-eu/bundlebridge/internal/bridge"
	"github.com/fluxbase-eu/bundlebridge/internal/engine"
)

// Output is the emitted code and its source map.
type Output struct {
	Code string
	Map  []byte
	// Applied is false when the bundle passed through untouched.
	Applied bool
}

// TransformError carries the errors reported by the transformation.
type TransformError struct {
	Messages []api.Message
}

func (e *TransformError) Error() string {
	if len(e.Messages) == 0 {
		return "transform failed"
	}
	msg := "transform failed: " + engine.FormatMessage(e.Messages[0])
	if n := len(e.Messages) - 1; n > 0 {
		msg += fmt.Sprintf(" (+%d more)", n)
	}
	return msg
}

// Apply transforms a bundle with sel. An empty selection returns the bundle
// verbatim. sourcefile names the bundle in the resulting source map.
func Apply(code string, sourceMap []byte, sel *Selection, sourcefile string) (*Output, error) {
	if sel.Empty() {
		return &Output{Code: code, Map: sourceMap}, nil
	}

	opts, err := Decode(sel.Raw)
	if err != nil {
		return nil, err
	}
	topts, err := opts.TransformOptions()
	if err != nil {
		return nil, err
	}

	topts.Loader = api.LoaderJS
	topts.Sourcefile = sourcefile
	topts.Sourcemap = api.SourceMapExternal

	result := api.Transform(bridge.InlineSourceMap(code, sourceMap), topts)
	if len(result.Errors) > 0 {
		return nil, &TransformError{Messages: result.Errors}
	}
	return &Output{Code: string(result.Code), Map: result.Map, Applied: true}, nil
}
