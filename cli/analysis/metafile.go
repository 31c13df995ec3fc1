// Package analysis reports what went into a nested bundle, from the esbuild
// metafile the loader returns.
package analysis

// Metafile represents the esbuild metafile JSON structure
type Metafile struct {
	Inputs  map[string]MetafileInput  `json:"inputs"`
	Outputs map[string]MetafileOutput `json:"outputs"`
}

// MetafileInput represents an input file in the metafile
type MetafileInput struct {
	Bytes   int              `json:"bytes"`
	Imports []MetafileImport `json:"imports"`
	Format  string           `json:"format,omitempty"` // "cjs" or "esm"
}

// MetafileImport represents an import in the metafile
type MetafileImport struct {
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	External bool   `json:"external,omitempty"`
	Original string `json:"original,omitempty"`
}

// MetafileOutput represents an output file in the metafile
type MetafileOutput struct {
	Bytes      int                     `json:"bytes"`
	Inputs     map[string]InputContrib `json:"inputs"`
	Imports    []MetafileImport        `json:"imports"`
	Exports    []string                `json:"exports"`
	EntryPoint string                  `json:"entryPoint,omitempty"`
}

// InputContrib represents the contribution of an input to an output
type InputContrib struct {
	BytesInOutput int `json:"bytesInOutput"`
}

// Result summarizes one compiled module.
type Result struct {
	Entry           string         `json:"entry" yaml:"entry"`
	TotalBytes      int            `json:"total_bytes" yaml:"total_bytes"`
	Inputs          []FileAnalysis `json:"inputs" yaml:"inputs"`
	ExternalImports []string       `json:"external_imports,omitempty" yaml:"external_imports,omitempty"`
	BinaryAssets    []string       `json:"binary_assets,omitempty" yaml:"binary_assets,omitempty"`
	Exports         []string       `json:"exports,omitempty" yaml:"exports,omitempty"`
}

// FileAnalysis is the contribution of one input module.
type FileAnalysis struct {
	Path          string  `json:"path" yaml:"path"`
	Loaders       string  `json:"loaders,omitempty" yaml:"loaders,omitempty"`
	Bytes         int     `json:"bytes" yaml:"bytes"`
	BytesInOutput int     `json:"bytes_in_output" yaml:"bytes_in_output"`
	Percentage    float64 `json:"percentage" yaml:"percentage"`
	ImportCount   int     `json:"import_count" yaml:"import_count"`
}
