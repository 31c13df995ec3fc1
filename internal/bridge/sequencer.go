package bridge

import (
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// CommonJSMarker identifies plugins that must observe resolved modules,
// and therefore run after the bridge.
const CommonJSMarker = "commonjs"

// IsCommonJS reports whether p converts CommonJS modules.
func IsCommonJS(p api.Plugin) bool {
	return strings.Contains(strings.ToLower(p.Name), CommonJSMarker)
}

// Sequence places bridge between the user plugins: every plugin that is not
// a CommonJS converter first, then the bridge, then the converters. Relative
// order within each group is kept.
//
// esbuild stops at the first OnResolve or OnLoad callback that answers, and
// the bridge answers every path in its namespaces. Converters placed after it
// therefore only take part through OnStart, OnEnd and namespaces of their own.
func Sequence(plugins []api.Plugin, bridge api.Plugin) []api.Plugin {
	before := make([]api.Plugin, 0, len(plugins))
	var after []api.Plugin
	for _, p := range plugins {
		if IsCommonJS(p) {
			after = append(after, p)
		} else {
			before = append(before, p)
		}
	}

	out := make([]api.Plugin, 0, len(plugins)+1)
	out = append(out, before...)
	out = append(out, bridge)
	return append(out, after...)
}
