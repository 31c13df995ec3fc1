// Package config loads the bundlebridge CLI configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/fluxbase-eu/bundlebridge/internal/assets"
	"github.com/fluxbase-eu/bundlebridge/internal/observability"
	"github.com/fluxbase-eu/bundlebridge/internal/options"
	"github.com/fluxbase-eu/bundlebridge/internal/storage"
	"github.com/fluxbase-eu/bundlebridge/pkg/host/fshost"
)

// Binary asset registries the CLI can route records to.
const (
	RegistryNone   = "none"
	RegistryMemory = "memory"
	RegistryRedis  = "redis"
	RegistryDeploy = "deploy"
)

// Config represents the application configuration
type Config struct {
	Loader  LoaderConfig               `mapstructure:"loader"`
	Resolve ResolveConfig              `mapstructure:"resolve"`
	Assets  AssetsConfig               `mapstructure:"assets"`
	Storage storage.Config             `mapstructure:"storage"`
	Redis   RedisConfig                `mapstructure:"redis"`
	Metrics MetricsConfig              `mapstructure:"metrics"`
	Tracing observability.TracerConfig `mapstructure:"tracing"`
	Watch   WatchConfig                `mapstructure:"watch"`
	OutDir  string                     `mapstructure:"out_dir"`
	Debug   bool                       `mapstructure:"debug"`
}

// LoaderConfig holds the options passed to every compilation.
type LoaderConfig struct {
	External    []string `mapstructure:"external"`
	TreeShake   bool     `mapstructure:"treeshake"`
	Legacy      bool     `mapstructure:"legacy"`
	TransformRC bool     `mapstructure:"transformrc"`
	JSXFactory  string   `mapstructure:"jsx_factory"`
	JSXFragment string   `mapstructure:"jsx_fragment"`
	// ExtensionLoaders pick an esbuild loader for extensions it does not know.
	ExtensionLoaders []ExtensionLoader `mapstructure:"extension_loaders"`
}

// ExtensionLoader maps a file extension to an esbuild loader name.
type ExtensionLoader struct {
	Ext    string `mapstructure:"ext"`
	Loader string `mapstructure:"loader"`
}

// ResolveConfig configures the filesystem host.
type ResolveConfig struct {
	Extensions []string `mapstructure:"extensions"`
	MainFields []string `mapstructure:"main_fields"`
	ModuleDirs []string `mapstructure:"module_dirs"`
	Aliases    []Alias  `mapstructure:"aliases"`
}

// Alias rewrites requests starting with From.
type Alias struct {
	From string `mapstructure:"from"`
	To   string `mapstructure:"to"`
}

// AssetsConfig selects binary asset rules and where records go.
type AssetsConfig struct {
	Registry string        `mapstructure:"registry"` // none, memory, redis or deploy
	Types    []assets.Rule `mapstructure:"types"`
}

// RedisConfig locates the shared binary asset registry.
type RedisConfig struct {
	URL string `mapstructure:"url"`
	Key string `mapstructure:"key"`
}

// MetricsConfig configures the Prometheus endpoint served in watch mode.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
	Path    string `mapstructure:"path"`
}

// WatchConfig tunes rebuilds in watch mode.
type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
	Ignore   []string      `mapstructure:"ignore"`
}

// Load reads configuration into v from cfgFile, or from bundlebridge.yaml in
// the usual locations when cfgFile is empty. Environment variables prefixed
// with BUNDLEBRIDGE_ override file values.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := loadEnvFile(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("bundlebridge")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)

	v.SetEnvPrefix("BUNDLEBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Debug().Msg("No config file found, using environment variables and defaults")
	} else {
		log.Debug().Str("file", v.ConfigFileUsed()).Msg("Config file loaded")
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// loadEnvFile loads environment variables from .env file
func loadEnvFile() error {
	for _, location := range []string{".env", ".env.local"} {
		if _, err := os.Stat(location); err == nil {
			if err := godotenv.Load(location); err != nil {
				return fmt.Errorf("error loading .env file from %s: %w", location, err)
			}
			log.Debug().Str("file", location).Msg(".env file loaded")
			return nil
		}
	}
	return fmt.Errorf("no .env file found")
}

func setDefaults(v *viper.Viper) {
	// Loader defaults
	v.SetDefault("loader.external", []string{})
	v.SetDefault("loader.treeshake", true)
	v.SetDefault("loader.legacy", false)
	v.SetDefault("loader.transformrc", true)

	// Resolve defaults
	v.SetDefault("resolve.extensions", fshost.DefaultExtensions)
	v.SetDefault("resolve.main_fields", []string{"module", "main"})
	v.SetDefault("resolve.module_dirs", []string{"node_modules"})

	// Binary asset defaults
	v.SetDefault("assets.registry", RegistryMemory)

	// Storage defaults
	v.SetDefault("storage.provider", "local")
	v.SetDefault("storage.local_path", "./.bundlebridge/assets")
	v.SetDefault("storage.bucket", "assets")
	v.SetDefault("storage.s3_region", "us-east-1")
	v.SetDefault("storage.s3_use_ssl", true)

	// Redis defaults
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.key", "bundlebridge:binary-assets")

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.address", ":9464")
	v.SetDefault("metrics.path", "/metrics")

	// Tracing defaults
	tracing := observability.DefaultTracerConfig()
	v.SetDefault("tracing.enabled", tracing.Enabled)
	v.SetDefault("tracing.endpoint", tracing.Endpoint)
	v.SetDefault("tracing.service_name", tracing.ServiceName)
	v.SetDefault("tracing.environment", tracing.Environment)
	v.SetDefault("tracing.sample_rate", tracing.SampleRate)
	v.SetDefault("tracing.insecure", tracing.Insecure)

	// Watch defaults
	v.SetDefault("watch.debounce", "200ms")
	v.SetDefault("watch.ignore", []string{})

	v.SetDefault("out_dir", "dist")
	v.SetDefault("debug", false)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.OutDir == "" {
		return fmt.Errorf("out_dir cannot be empty")
	}

	if err := c.Loader.Validate(); err != nil {
		return fmt.Errorf("loader configuration error: %w", err)
	}

	if err := c.Assets.Validate(); err != nil {
		return fmt.Errorf("assets configuration error: %w", err)
	}

	switch c.Assets.Registry {
	case RegistryRedis:
		if c.Redis.URL == "" || c.Redis.Key == "" {
			return fmt.Errorf("redis url and key are required for the redis registry")
		}
	case RegistryDeploy:
		if err := c.Storage.Validate(); err != nil {
			return fmt.Errorf("storage configuration error: %w", err)
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.Address == "" {
			return fmt.Errorf("metrics address cannot be empty when metrics are enabled")
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("metrics path must start with '/'")
		}
	}

	if c.Tracing.Enabled {
		if c.Tracing.Endpoint == "" {
			return fmt.Errorf("tracing endpoint cannot be empty when tracing is enabled")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing sample_rate must be between 0 and 1")
		}
	}

	if c.Watch.Debounce < 0 {
		return fmt.Errorf("watch debounce cannot be negative")
	}

	return nil
}

// Validate validates loader configuration
func (lc *LoaderConfig) Validate() error {
	for _, el := range lc.ExtensionLoaders {
		if !strings.HasPrefix(el.Ext, ".") {
			return fmt.Errorf("extension %q must start with '.'", el.Ext)
		}
		if _, ok := options.LoaderByName(el.Loader); !ok {
			return fmt.Errorf("unknown loader %q for %q", el.Loader, el.Ext)
		}
	}
	return nil
}

// Validate validates binary asset configuration
func (ac *AssetsConfig) Validate() error {
	switch ac.Registry {
	case RegistryNone, RegistryMemory, RegistryRedis, RegistryDeploy:
	default:
		return fmt.Errorf("invalid registry %q (must be one of: none, memory, redis, deploy)", ac.Registry)
	}
	for i, rule := range ac.Types {
		if rule.Type == "" {
			return fmt.Errorf("rule %d: type is required", i)
		}
	}
	return nil
}

// Options builds the loader option map shared by every compilation.
// Binary asset and transformation options are added by the caller.
func (lc *LoaderConfig) Options() map[string]any {
	opts := map[string]any{
		options.KeyTreeShake:   lc.TreeShake,
		options.KeyLegacy:      lc.Legacy,
		options.KeyTransformRC: lc.TransformRC,
	}
	if len(lc.External) > 0 {
		opts[options.KeyExternal] = append([]string(nil), lc.External...)
	}
	if lc.JSXFactory != "" || lc.JSXFragment != "" {
		opts[options.KeyParser] = map[string]any{
			"jsxFactory":  lc.JSXFactory,
			"jsxFragment": lc.JSXFragment,
		}
	}
	if len(lc.ExtensionLoaders) > 0 {
		plugins := make(map[string]string, len(lc.ExtensionLoaders))
		for _, el := range lc.ExtensionLoaders {
			plugins[el.Ext] = el.Loader
		}
		opts[options.KeyParserPlugins] = plugins
	}
	return opts
}

// HostOptions converts the resolve section into filesystem host options.
func (rc *ResolveConfig) HostOptions() fshost.Options {
	opts := fshost.Options{
		Extensions: rc.Extensions,
		MainFields: rc.MainFields,
		ModuleDirs: rc.ModuleDirs,
	}
	if len(rc.Aliases) > 0 {
		opts.Alias = make(map[string]string, len(rc.Aliases))
		for _, a := range rc.Aliases {
			opts.Alias[a.From] = a.To
		}
	}
	return opts
}

// BinaryAssets returns the binaryAssets option routing records to store,
// or nil when the feature is off.
func (ac *AssetsConfig) BinaryAssets(store any) *assets.Options {
	if ac.Registry == RegistryNone || len(ac.Types) == 0 {
		return nil
	}
	return &assets.Options{Types: ac.Types, Store: store}
}
