package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/fluxbase-eu/bundlebridge/cli/analysis"
	"github.com/fluxbase-eu/bundlebridge/internal/assets"
	"github.com/fluxbase-eu/bundlebridge/internal/config"
	"github.com/fluxbase-eu/bundlebridge/internal/observability"
	"github.com/fluxbase-eu/bundlebridge/internal/options"
	"github.com/fluxbase-eu/bundlebridge/internal/storage"
	"github.com/fluxbase-eu/bundlebridge/pkg/host/fshost"
	"github.com/fluxbase-eu/bundlebridge/pkg/loader"
)

// session compiles entries with one configuration and one asset registry.
type session struct {
	cfg     *config.Config
	fs      afero.Fs
	outDir  string
	metrics *observability.Metrics

	// extra are options layered over the configured loader options.
	extra map[string]any

	memory   *assets.MemoryStore
	redis    *assets.RedisStore
	deployer *assets.DeployManager
}

// buildOutput is the outcome of compiling one entry.
type buildOutput struct {
	Entry        string
	OutFile      string
	MapFile      string
	Result       *loader.Result
	Dependencies []string
	Duration     time.Duration
}

func newSession(ctx context.Context, cfg *config.Config, fs afero.Fs, metrics *observability.Metrics) (*session, error) {
	s := &session{
		cfg:     cfg,
		fs:      fs,
		outDir:  cfg.OutDir,
		metrics: metrics,
		extra:   make(map[string]any),
	}

	switch cfg.Assets.Registry {
	case config.RegistryMemory:
		s.memory = assets.NewMemoryStore()
	case config.RegistryRedis:
		store, err := assets.NewRedisStore(ctx, cfg.Redis.URL, cfg.Redis.Key)
		if err != nil {
			return nil, err
		}
		s.redis = store
	case config.RegistryDeploy:
		store, err := storage.New(cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("failed to create asset storage: %w", err)
		}
		s.deployer = assets.NewDeployManager(store, cfg.Storage.Bucket, fs)
		s.deployer.SetMetrics(metrics)
	}

	return s, nil
}

// loaderOptions builds the option map for one compilation.
func (s *session) loaderOptions() map[string]any {
	opts := s.cfg.Loader.Options()
	for k, v := range s.extra {
		opts[k] = v
	}

	switch {
	case s.deployer != nil:
		opts[options.KeyBinaryAssets] = s.cfg.Assets.BinaryAssets(nil)
		opts[options.KeyDeployManager] = s.deployer
	case s.redis != nil:
		opts[options.KeyBinaryAssets] = s.cfg.Assets.BinaryAssets(s.redis)
	case s.memory != nil:
		opts[options.KeyBinaryAssets] = s.cfg.Assets.BinaryAssets(s.memory)
	}
	// Leave the key absent when no rules are configured
	if ba, ok := opts[options.KeyBinaryAssets].(*assets.Options); ok && ba == nil {
		delete(opts, options.KeyBinaryAssets)
	}
	return opts
}

// compile bundles entry and writes <name>.bundle.js and its map to the
// output directory.
func (s *session) compile(ctx context.Context, entry string) (*buildOutput, error) {
	start := time.Now()

	entry, err := filepath.Abs(entry)
	if err != nil {
		return nil, err
	}

	source, err := afero.ReadFile(s.fs, entry)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", entry, err)
	}

	var sourceMap []byte
	if data, err := afero.ReadFile(s.fs, entry+".map"); err == nil {
		sourceMap = data
	}

	hostOpts := s.cfg.Resolve.HostOptions()
	hostOpts.Fs = s.fs
	h := fshost.New(hostOpts)

	res, err := loader.Compile(ctx, &loader.Context{
		ResourcePath: entry,
		Source:       string(source),
		SourceMap:    sourceMap,
		Options:      s.loaderOptions(),
		Host:         h,
		Fs:           s.fs,
		Metrics:      s.metrics,
	})
	if err != nil {
		return &buildOutput{Entry: entry, Dependencies: append(h.Dependencies(), entry)}, err
	}

	out := &buildOutput{
		Entry:        entry,
		Result:       res,
		Dependencies: append(h.Dependencies(), entry),
		Duration:     time.Since(start),
	}

	if err := s.write(out); err != nil {
		return out, err
	}

	log.Info().
		Str("entry", entry).
		Str("output", out.OutFile).
		Int("bytes", len(res.Code)).
		Int("assets", len(res.Assets)).
		Dur("duration", out.Duration).
		Msg("Module compiled")

	return out, nil
}

func (s *session) write(out *buildOutput) error {
	if err := s.fs.MkdirAll(s.outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	name := strings.TrimSuffix(filepath.Base(out.Entry), filepath.Ext(out.Entry)) + ".bundle.js"
	out.OutFile = filepath.Join(s.outDir, name)

	code := out.Result.Code
	if len(out.Result.Map) > 0 {
		out.MapFile = out.OutFile + ".map"
		code = stripSourceMappingURL(code)
		if !strings.HasSuffix(code, "\n") {
			code += "\n"
		}
		code += sourceMappingURLPrefix + filepath.Base(out.MapFile) + "\n"
		if err := afero.WriteFile(s.fs, out.MapFile, out.Result.Map, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", out.MapFile, err)
		}
	}

	if err := afero.WriteFile(s.fs, out.OutFile, []byte(code), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", out.OutFile, err)
	}
	return nil
}

const sourceMappingURLPrefix = "//# sourceMappingURL="

// stripSourceMappingURL drops a trailing source map comment from code.
func stripSourceMappingURL(code string) string {
	trimmed := strings.TrimRight(code, "\n")
	idx := strings.LastIndex(trimmed, "\n")
	if !strings.HasPrefix(trimmed[idx+1:], sourceMappingURLPrefix) {
		return code
	}
	return trimmed[:idx+1]
}

// deploy uploads the binary assets queued by the compilations so far.
func (s *session) deploy(ctx context.Context) ([]assets.Deployment, error) {
	if s.deployer == nil {
		return nil, nil
	}
	return s.deployer.Deploy(ctx)
}

func (s *session) Close() error {
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}

// analyze summarizes a compiled module.
func analyze(out *buildOutput) (*analysis.Result, error) {
	paths := make([]string, 0, len(out.Result.Assets))
	for _, rec := range out.Result.Assets {
		paths = append(paths, rec.Path)
	}
	return analysis.Analyze(out.Result.Metafile, out.Entry, paths)
}
