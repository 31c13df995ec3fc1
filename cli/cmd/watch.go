package cmd

import (
	"context"
	"path/filepath"
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/bundlebridge/internal/observability"
	"github.com/fluxbase-eu/bundlebridge/internal/watch"
)

var (
	watchOutDir  string
	watchMetrics bool
)

var watchCmd = &cobra.Command{
	Use:   "watch [entry...]",
	Short: "Rebuild modules when one of their dependencies changes",
	Long: `Compile each entry, then watch every file the compilation depended on
and recompile the affected entries when one changes.

With metrics enabled, Prometheus metrics are served on metrics.address.

Examples:
  bundlebridge watch src/widget.js
  bundlebridge watch src/*.js --metrics`,
	Args:    cobra.MinimumNArgs(1),
	PreRunE: requireConfig,
	RunE:    runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchOutDir, "out-dir", "", "output directory (overrides out_dir)")
	watchCmd.Flags().BoolVar(&watchMetrics, "metrics", false, "serve Prometheus metrics")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled || watchMetrics {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
		app := metrics.NewServer(cfg.Metrics.Path)
		go func() {
			log.Info().Str("address", cfg.Metrics.Address).Str("path", cfg.Metrics.Path).Msg("Serving metrics")
			if err := app.Listen(cfg.Metrics.Address); err != nil {
				log.Error().Err(err).Msg("Metrics server stopped")
			}
		}()
		defer func() { _ = app.Shutdown() }()
	}

	s, err := newSession(ctx, cfg, afero.NewOsFs(), metrics)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()
	if watchOutDir != "" {
		s.outDir = watchOutDir
	}

	r, err := newRebuilder(s, args)
	if err != nil {
		return err
	}
	r.buildAll(ctx)

	var w *watch.Watcher
	w, err = watch.New(watch.Config{
		Ignore:   cfg.Watch.Ignore,
		Debounce: cfg.Watch.Debounce,
		OnChange: func(ctx context.Context, changed []string) error {
			r.rebuild(ctx, changed)
			return w.SetFiles(r.files())
		},
	})
	if err != nil {
		return err
	}
	if err := w.SetFiles(r.files()); err != nil {
		return err
	}

	formatter.PrintSuccess("Watching for changes (press Ctrl+C to stop)")
	return w.Run(ctx)
}

// rebuilder tracks which files each entry depended on in its last build.
type rebuilder struct {
	session *session
	entries []string

	mu   sync.Mutex
	deps map[string][]string
}

func newRebuilder(s *session, entries []string) (*rebuilder, error) {
	abs := make([]string, 0, len(entries))
	for _, e := range entries {
		p, err := filepath.Abs(e)
		if err != nil {
			return nil, err
		}
		abs = append(abs, p)
	}
	return &rebuilder{session: s, entries: abs, deps: make(map[string][]string)}, nil
}

func (r *rebuilder) buildAll(ctx context.Context) {
	r.build(ctx, r.entries)
}

// rebuild recompiles the entries affected by changed.
func (r *rebuilder) rebuild(ctx context.Context, changed []string) {
	affected := r.affected(changed)
	if len(affected) == 0 {
		return
	}
	log.Info().Strs("changed", changed).Int("entries", len(affected)).Msg("Rebuilding")
	r.build(ctx, affected)
}

func (r *rebuilder) build(ctx context.Context, entries []string) {
	for _, entry := range entries {
		out, err := r.session.compile(ctx, entry)
		if out != nil {
			r.mu.Lock()
			r.deps[entry] = out.Dependencies
			r.mu.Unlock()
		}
		if err != nil {
			log.Error().Err(err).Str("entry", entry).Msg("Compilation failed")
		}
	}

	if _, err := r.session.deploy(ctx); err != nil {
		log.Error().Err(err).Msg("Binary asset deployment failed")
	}
}

// affected returns the entries whose last build read one of changed.
// An entry that never built depends on itself only.
func (r *rebuilder) affected(changed []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	for _, entry := range r.entries {
		deps, ok := r.deps[entry]
		if !ok {
			deps = []string{entry}
		}
		for _, c := range changed {
			if slices.Contains(deps, c) {
				out = append(out, entry)
				break
			}
		}
	}
	return out
}

// files is the union of all dependency sets.
func (r *rebuilder) files() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := make(map[string]struct{})
	for _, entry := range r.entries {
		set[entry] = struct{}{}
		for _, d := range r.deps[entry] {
			set[d] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}
