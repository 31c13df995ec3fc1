// Package cmd provides the Cobra commands for the bundlebridge CLI.
package cmd

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fluxbase-eu/bundlebridge/cli/output"
	"github.com/fluxbase-eu/bundlebridge/internal/config"
	"github.com/fluxbase-eu/bundlebridge/internal/observability"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"

	// Global flags
	cfgFile   string
	outputFmt string
	noHeaders bool
	quiet     bool
	debug     bool

	// Shared across commands
	cfg       *config.Config
	formatter *output.Formatter
	tracer    *observability.Tracer
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "bundlebridge",
	Short: "Pre-bundle modules with esbuild while a host resolver keeps control",
	Long: `bundlebridge compiles an entry module and everything it imports into a
single ES module. Resolution and loading go through a node-style host that
understands "loader!" prefixes, binary imports are diverted to an asset
registry, and the result can be transformed for a target environment.

Get started:
  bundlebridge build src/widget.js      Compile a module into dist/
  bundlebridge watch src/*.js           Rebuild when a dependency changes
  bundlebridge --help                   Show available commands`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Silence errors only when --quiet is used
		cmd.SilenceErrors = quiet
		setLogLevel(debug)
	},
}

// Execute runs the CLI
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnFinalize(shutdownTracer)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is ./bundlebridge.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table",
		"output format: table, json, yaml")
	rootCmd.PersistentFlags().BoolVar(&noHeaders, "no-headers", false,
		"hide table headers")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false,
		"minimal output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false,
		"enable debug output")

	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")) // BUNDLEBRIDGE_DEBUG

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(completionCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(assetsCmd)
}

// requireConfig loads the configuration and starts tracing. Commands that
// compile or deploy use it as PreRunE.
func requireConfig(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(viper.GetViper(), cfgFile)
	if err != nil {
		return err
	}

	if cfg.Debug {
		debug = true
		setLogLevel(true)
	}

	tracer, err = observability.NewTracer(cmd.Context(), cfg.Tracing, Version)
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(outputFmt)
	if err != nil {
		return err
	}
	formatter = output.NewFormatter(format, noHeaders, quiet)
	formatter.Writer = cmd.OutOrStdout()
	formatter.ErrWriter = cmd.ErrOrStderr()

	return nil
}

func shutdownTracer() {
	if tracer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to flush traces")
	}
}

func setLogLevel(debug bool) {
	switch {
	case debug:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case quiet:
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// GetFormatter returns the output formatter (for use by subcommands)
func GetFormatter() *output.Formatter {
	if formatter == nil {
		format, _ := output.ParseFormat(outputFmt)
		formatter = output.NewFormatter(format, noHeaders, quiet)
	}
	return formatter
}

// GetConfig returns the loaded configuration (for use by subcommands)
func GetConfig() *config.Config {
	return cfg
}

// IsDebug returns true if debug mode is enabled
func IsDebug() bool {
	return debug
}
