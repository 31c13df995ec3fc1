package analysis

import (
	"fmt"
	"io"
	"sort"

	"github.com/olekukonko/tablewriter"
)

// DisplayAnalysis prints the breakdown of one bundle. Without showDetails
// only the ten largest inputs are listed.
func DisplayAnalysis(w io.Writer, result *Result, showDetails bool) {
	_, _ = fmt.Fprintf(w, "\n=== Bundle Analysis: %s ===\n", result.Entry)
	_, _ = fmt.Fprintf(w, "Total bundle size: %s\n", FormatBytes(result.TotalBytes))

	if len(result.ExternalImports) > 0 {
		_, _ = fmt.Fprintln(w, "\nExternal imports (left to the host):")
		for _, imp := range result.ExternalImports {
			_, _ = fmt.Fprintf(w, "  - %s\n", imp)
		}
	}

	if len(result.BinaryAssets) > 0 {
		_, _ = fmt.Fprintln(w, "\nBinary assets (registered for deployment):")
		for _, a := range result.BinaryAssets {
			_, _ = fmt.Fprintf(w, "  - %s\n", a)
		}
	}

	if len(result.Inputs) > 0 {
		_, _ = fmt.Fprintln(w, "\nBundle breakdown:")

		maxFiles := 10
		if showDetails || len(result.Inputs) < maxFiles {
			maxFiles = len(result.Inputs)
		}

		table := newTable(w)
		table.SetHeader([]string{"Module", "Loaders", "Size", "Share"})
		for _, file := range result.Inputs[:maxFiles] {
			table.Append([]string{
				truncatePath(file.Path, 50),
				file.Loaders,
				FormatBytes(file.BytesInOutput),
				fmt.Sprintf("%5.1f%%", file.Percentage),
			})
		}
		table.Render()

		if remaining := len(result.Inputs) - maxFiles; remaining > 0 {
			_, _ = fmt.Fprintf(w, "  ... and %d more modules\n", remaining)
		}
	}

	_, _ = fmt.Fprintln(w)
}

// DisplaySummary prints one line per bundle, largest first.
func DisplaySummary(w io.Writer, results []*Result) {
	if len(results) == 0 {
		return
	}

	_, _ = fmt.Fprintln(w, "\n=== Bundle Size Summary ===")

	sorted := make([]*Result, len(results))
	copy(sorted, results)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].TotalBytes > sorted[j].TotalBytes
	})

	table := newTable(w)
	table.SetHeader([]string{"Entry", "Bundle size", "Modules", "Externals", "Assets"})
	total := 0
	for _, r := range sorted {
		total += r.TotalBytes
		table.Append([]string{
			r.Entry,
			FormatBytes(r.TotalBytes),
			fmt.Sprint(len(r.Inputs)),
			fmt.Sprint(len(r.ExternalImports)),
			fmt.Sprint(len(r.BinaryAssets)),
		})
	}
	table.SetFooter([]string{"Total", FormatBytes(total), "", "", ""})
	table.Render()
	_, _ = fmt.Fprintln(w)
}

func newTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}

// FormatBytes formats bytes in human-readable format
func FormatBytes(bytes int) string {
	const (
		KB = 1024
		MB = 1024 * KB
	)
	switch {
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// truncatePath shortens a path if it's too long
func truncatePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	return "..." + path[len(path)-maxLen+3:]
}
