package loader

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fluxbase-eu/bundlebridge/internal/assets"
	"github.com/fluxbase-eu/bundlebridge/internal/bridge"
	"github.com/fluxbase-eu/bundlebridge/internal/engine"
	"github.com/fluxbase-eu/bundlebridge/internal/observability"
	"github.com/fluxbase-eu/bundlebridge/internal/options"
	"github.com/fluxbase-eu/bundlebridge/internal/transform"
)

// Error kinds reported by Compile and Run.
type (
	ConfigurationError = options.ConfigurationError
	ResolutionError    = bridge.ResolutionError
	LoadError          = bridge.LoadError
	BundlingError      = engine.BundlingError
	TransformError     = transform.TransformError
	RegistrationError  = assets.RegistrationError
)

// Nested bundler.
type (
	Engine        = engine.Engine
	EngineFactory = engine.Factory
	Build         = engine.Build
	BundleResult  = engine.Result
)

// NewEngine returns the esbuild-backed engine.
func NewEngine() Engine {
	return engine.New()
}

// Binary assets.
type (
	AssetRecord        = assets.Record
	AssetRule          = assets.Rule
	BinaryAssetOptions = assets.Options
	AssetManager       = assets.Manager
	AssetSink          = assets.Sink
	ChunkType          = assets.ChunkType
	MemoryStore        = assets.MemoryStore
	TransformOptions   = transform.Options
)

const (
	ChunkTypeImage = assets.ChunkTypeImage
	ChunkTypeFont  = assets.ChunkTypeFont
)

// NewMemoryStore returns an in-process binary asset registry.
func NewMemoryStore() *MemoryStore {
	return assets.NewMemoryStore()
}

// Option keys.
const (
	OptionInput            = options.KeyInput
	OptionExternal         = options.KeyExternal
	OptionPlugins          = options.KeyPlugins
	OptionOnWarn           = options.KeyOnWarn
	OptionCache            = options.KeyCache
	OptionParser           = options.KeyParser
	OptionParserPlugins    = options.KeyParserPlugins
	OptionTreeShake        = options.KeyTreeShake
	OptionContext          = options.KeyContext
	OptionModuleContext    = options.KeyModuleContext
	OptionLegacy           = options.KeyLegacy
	OptionBinaryAssets     = options.KeyBinaryAssets
	OptionDeployManager    = options.KeyDeployManager
	OptionTransformOptions = options.KeyTransformOptions
	OptionTransformRC      = options.KeyTransformRC
)

// Metrics collects loader metrics; a nil *Metrics records nothing.
type Metrics = observability.Metrics

// NewMetrics registers loader metrics with reg, or a private registry when reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	return observability.NewMetrics(reg)
}
