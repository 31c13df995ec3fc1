package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/bundlebridge/cli/output"
)

// VersionInfo is what the version command reports.
type VersionInfo struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	BuildDate string `json:"build_date" yaml:"build_date"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long:  `Display the version, commit hash, and build date of bundlebridge.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := GetFormatter()
		info := VersionInfo{Version: Version, Commit: Commit, BuildDate: BuildDate}
		if f.Format != output.FormatTable {
			return f.Print(info)
		}
		_, _ = fmt.Fprintf(f.Writer, "bundlebridge %s\n", info.Version)
		_, _ = fmt.Fprintf(f.Writer, "Commit: %s\n", info.Commit)
		_, _ = fmt.Fprintf(f.Writer, "Build Date: %s\n", info.BuildDate)
		return nil
	},
}
