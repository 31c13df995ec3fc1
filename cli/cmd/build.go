package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/bundlebridge/cli/analysis"
	"github.com/fluxbase-eu/bundlebridge/cli/output"
	"github.com/fluxbase-eu/bundlebridge/internal/assets"
	"github.com/fluxbase-eu/bundlebridge/internal/options"
	"github.com/fluxbase-eu/bundlebridge/internal/transform"
)

var (
	buildOutDir   string
	buildExternal []string
	buildTarget   string
	buildFormat   string
	buildMinify   bool
	buildNoRC     bool
	buildAnalyze  bool
	buildDetails  bool
	buildNoDeploy bool
)

var buildCmd = &cobra.Command{
	Use:   "build [entry...]",
	Short: "Compile modules into single-file bundles",
	Long: `Compile each entry module, and everything it imports, into
<out-dir>/<name>.bundle.js with an external source map.

Transformation options come from --target/--format/--minify when given,
otherwise from the nearest .transformrc file above the entry.

Examples:
  bundlebridge build src/widget.js
  bundlebridge build src/a.js src/b.js --external react --target es2017
  bundlebridge build src/widget.js --analyze -o json`,
	Args:    cobra.MinimumNArgs(1),
	PreRunE: requireConfig,
	RunE:    runBuild,
}

func init() {
	buildCmd.Flags().StringVar(&buildOutDir, "out-dir", "", "output directory (overrides out_dir)")
	buildCmd.Flags().StringSliceVar(&buildExternal, "external", nil, "imports to leave untouched (globs allowed)")
	buildCmd.Flags().StringVar(&buildTarget, "target", "", "transformation target, e.g. es2017")
	buildCmd.Flags().StringVar(&buildFormat, "format", "", "transformation output format: esm, cjs or iife")
	buildCmd.Flags().BoolVar(&buildMinify, "minify", false, "minify the transformed output")
	buildCmd.Flags().BoolVar(&buildNoRC, "no-transformrc", false, "do not look for .transformrc files")
	buildCmd.Flags().BoolVar(&buildAnalyze, "analyze", false, "print what went into each bundle")
	buildCmd.Flags().BoolVar(&buildDetails, "details", false, "list every module in the analysis")
	buildCmd.Flags().BoolVar(&buildNoDeploy, "no-deploy", false, "skip uploading binary assets")
}

// BuildReport is the structured output of the build command.
type BuildReport struct {
	Modules     []ModuleReport      `json:"modules" yaml:"modules"`
	Deployments []assets.Deployment `json:"deployments,omitempty" yaml:"deployments,omitempty"`
	Analysis    []*analysis.Result  `json:"analysis,omitempty" yaml:"analysis,omitempty"`
}

// ModuleReport describes one compiled entry.
type ModuleReport struct {
	Entry       string          `json:"entry" yaml:"entry"`
	Output      string          `json:"output" yaml:"output"`
	SourceMap   string          `json:"source_map,omitempty" yaml:"source_map,omitempty"`
	Bytes       int             `json:"bytes" yaml:"bytes"`
	Transformed bool            `json:"transformed" yaml:"transformed"`
	RCFile      string          `json:"rc_file,omitempty" yaml:"rc_file,omitempty"`
	Assets      []assets.Record `json:"assets,omitempty" yaml:"assets,omitempty"`
	DurationMS  int64           `json:"duration_ms" yaml:"duration_ms"`
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	s, err := newSession(ctx, cfg, afero.NewOsFs(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	if err := applyBuildFlags(s); err != nil {
		return err
	}

	var report BuildReport
	for _, entry := range args {
		out, err := s.compile(ctx, entry)
		if err != nil {
			return fmt.Errorf("failed to compile %s: %w", entry, err)
		}
		report.Modules = append(report.Modules, moduleReport(out))

		if buildAnalyze {
			result, err := analyze(out)
			if err != nil {
				return err
			}
			report.Analysis = append(report.Analysis, result)
		}
	}

	if !buildNoDeploy {
		deployments, err := s.deploy(ctx)
		if err != nil {
			return err
		}
		report.Deployments = deployments
	}

	return printBuildReport(formatter, &report)
}

// applyBuildFlags layers command-line options over the configuration.
func applyBuildFlags(s *session) error {
	if buildOutDir != "" {
		s.outDir = buildOutDir
	}
	if len(buildExternal) > 0 {
		s.extra[options.KeyExternal] = append(append([]string(nil), cfg.Loader.External...), buildExternal...)
	}
	if buildNoRC {
		s.extra[options.KeyTransformRC] = false
	}

	if buildTarget == "" && buildFormat == "" && !buildMinify {
		return nil
	}
	explicit := &transform.Options{
		Target: buildTarget,
		Format: buildFormat,
		Minify: buildMinify,
	}
	if _, err := explicit.TransformOptions(); err != nil {
		return err
	}
	s.extra[options.KeyTransformOptions] = explicit
	return nil
}

func moduleReport(out *buildOutput) ModuleReport {
	return ModuleReport{
		Entry:       out.Entry,
		Output:      out.OutFile,
		SourceMap:   out.MapFile,
		Bytes:       len(out.Result.Code),
		Transformed: out.Result.Transformed,
		RCFile:      out.Result.RCFile,
		Assets:      out.Result.Assets,
		DurationMS:  out.Duration.Milliseconds(),
	}
}

func printBuildReport(f *output.Formatter, report *BuildReport) error {
	if f.Structured() {
		return f.Print(report)
	}

	rows := make([][]string, 0, len(report.Modules))
	for _, m := range report.Modules {
		transformed := "-"
		if m.Transformed {
			transformed = "yes"
			if m.RCFile != "" {
				transformed = m.RCFile
			}
		}
		rows = append(rows, []string{
			m.Entry,
			m.Output,
			analysis.FormatBytes(m.Bytes),
			fmt.Sprint(len(m.Assets)),
			transformed,
			(time.Duration(m.DurationMS) * time.Millisecond).String(),
		})
	}
	f.PrintTable(output.TableData{
		Headers: []string{"Entry", "Output", "Size", "Assets", "Transformed", "Time"},
		Rows:    rows,
	})

	if len(report.Deployments) > 0 {
		drows := make([][]string, 0, len(report.Deployments))
		for _, d := range report.Deployments {
			drows = append(drows, []string{string(d.Record.ChunkType), d.Record.Path, d.Object.Bucket + "/" + d.Object.Key})
		}
		f.PrintTable(output.TableData{
			Headers: []string{"Type", "Asset", "Object"},
			Rows:    drows,
		})
	}

	if !f.Quiet {
		for _, result := range report.Analysis {
			analysis.DisplayAnalysis(f.Writer, result, buildDetails)
		}
		if len(report.Analysis) > 1 {
			analysis.DisplaySummary(f.Writer, report.Analysis)
		}
	}

	f.PrintSuccess(fmt.Sprintf("Compiled %d module(s)", len(report.Modules)))
	return nil
}
