// Package output renders bundlebridge command results.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"
)

// Format selects how command results are rendered.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

var formatAliases = map[string]Format{
	"":      FormatTable,
	"table": FormatTable,
	"json":  FormatJSON,
	"yaml":  FormatYAML,
	"yml":   FormatYAML,
}

// ParseFormat maps the --output flag value to a Format. Matching ignores case.
func ParseFormat(s string) (Format, error) {
	if f, ok := formatAliases[strings.ToLower(s)]; ok {
		return f, nil
	}
	return "", fmt.Errorf("invalid output format: %s (valid: table, json, yaml)", s)
}

// Formatter writes results in the configured format. Messages go to
// ErrWriter so structured output on Writer stays machine readable.
type Formatter struct {
	Format    Format
	NoHeaders bool
	Quiet     bool
	Writer    io.Writer
	ErrWriter io.Writer
}

// NewFormatter writes results to stdout and messages to stderr.
func NewFormatter(format Format, noHeaders, quiet bool) *Formatter {
	return &Formatter{
		Format:    format,
		NoHeaders: noHeaders,
		Quiet:     quiet,
		Writer:    os.Stdout,
		ErrWriter: os.Stderr,
	}
}

// Structured reports whether results are printed as JSON or YAML.
func (f *Formatter) Structured() bool {
	return f.Format == FormatJSON || f.Format == FormatYAML
}

// Print encodes data as YAML when requested and as indented JSON otherwise.
func (f *Formatter) Print(data any) error {
	if f.Quiet {
		return nil
	}
	if f.Format == FormatYAML {
		enc := yaml.NewEncoder(f.Writer)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// TableData is a report rendered as rows under column headers.
type TableData struct {
	Headers []string
	Rows    [][]string
}

// Records turns each row into an object keyed by the snake_cased header.
// Cells without a header are dropped.
func (d TableData) Records() []map[string]string {
	keys := make([]string, len(d.Headers))
	for i, h := range d.Headers {
		keys[i] = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(h), " ", "_"))
	}

	records := make([]map[string]string, len(d.Rows))
	for i, row := range d.Rows {
		rec := make(map[string]string, len(keys))
		for j := 0; j < len(row) && j < len(keys); j++ {
			rec[keys[j]] = row[j]
		}
		records[i] = rec
	}
	return records
}

// PrintTable renders data as an aligned table, or as its Records when the
// format is structured.
func (f *Formatter) PrintTable(data TableData) {
	if f.Quiet {
		return
	}
	if f.Structured() {
		_ = f.Print(data.Records())
		return
	}

	table := tablewriter.NewWriter(f.Writer)
	plainTable(table)
	if !f.NoHeaders && len(data.Headers) > 0 {
		table.SetHeader(data.Headers)
	}
	table.AppendBulk(data.Rows)
	table.Render()
}

// plainTable strips borders and separators, leaving tab padded columns.
func plainTable(table *tablewriter.Table) {
	table.SetBorder(false)
	table.SetHeaderLine(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)
}

func (f *Formatter) message(prefix, text string) {
	if f.Quiet {
		return
	}
	if prefix != "" {
		text = prefix + " " + text
	}
	_, _ = fmt.Fprintln(f.ErrWriter, text)
}

// PrintSuccess reports a completed step on ErrWriter.
func (f *Formatter) PrintSuccess(message string) {
	f.message("", message)
}

// PrintWarning reports a non-fatal problem on ErrWriter.
func (f *Formatter) PrintWarning(message string) {
	f.message("Warning:", message)
}

// PrintKeyValue prints one named value, as a single-key object in structured formats.
func (f *Formatter) PrintKeyValue(key, value string) {
	if f.Quiet {
		return
	}
	if f.Structured() {
		_ = f.Print(map[string]string{key: value})
		return
	}
	_, _ = fmt.Fprintf(f.Writer, "%s: %s\n", key, value)
}
