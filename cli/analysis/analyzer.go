package analysis

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fluxbase-eu/bundlebridge/internal/bridge"
)

// Analyze reads the esbuild metafile of one loader invocation. Module paths
// are reported relative to the entry's directory where possible.
func Analyze(metafile string, entry string, binaryAssets []string) (*Result, error) {
	var meta Metafile
	if err := json.Unmarshal([]byte(metafile), &meta); err != nil {
		return nil, fmt.Errorf("failed to parse metafile: %w", err)
	}

	result := &Result{Entry: entry, BinaryAssets: binaryAssets}
	workDir := filepath.Dir(entry)

	// A loader invocation has exactly one JavaScript output
	for outPath, output := range meta.Outputs {
		if strings.HasSuffix(outPath, ".map") {
			continue
		}
		result.TotalBytes = output.Bytes
		result.Exports = output.Exports

		seen := make(map[string]struct{})
		for _, imp := range output.Imports {
			if !imp.External {
				continue
			}
			if _, ok := seen[imp.Path]; ok {
				continue
			}
			seen[imp.Path] = struct{}{}
			result.ExternalImports = append(result.ExternalImports, imp.Path)
		}

		for inputPath, contrib := range output.Inputs {
			info := meta.Inputs[inputPath]

			percentage := 0.0
			if result.TotalBytes > 0 {
				percentage = float64(contrib.BytesInOutput) / float64(result.TotalBytes) * 100
			}

			path, loaders := displayPath(inputPath, workDir)
			result.Inputs = append(result.Inputs, FileAnalysis{
				Path:          path,
				Loaders:       loaders,
				Bytes:         info.Bytes,
				BytesInOutput: contrib.BytesInOutput,
				Percentage:    percentage,
				ImportCount:   len(info.Imports),
			})
		}
		break
	}

	sort.Slice(result.Inputs, func(i, j int) bool {
		if result.Inputs[i].BytesInOutput == result.Inputs[j].BytesInOutput {
			return result.Inputs[i].Path < result.Inputs[j].Path
		}
		return result.Inputs[i].BytesInOutput > result.Inputs[j].BytesInOutput
	})
	sort.Strings(result.ExternalImports)

	return result, nil
}

// displayPath strips the esbuild namespace and splits off the loader chain.
// Paths are shown relative to workDir when they live below it.
func displayPath(inputPath, workDir string) (string, string) {
	p := inputPath
	if ns, rest, ok := strings.Cut(p, ":"); ok && (ns == bridge.NamespaceBridge || ns == bridge.NamespaceFile) {
		p = rest
	}
	req := bridge.Split(p)
	resource := req.Resource
	if filepath.IsAbs(resource) {
		if rel, err := filepath.Rel(workDir, resource); err == nil && !strings.HasPrefix(rel, "..") {
			resource = rel
		}
	}
	return filepath.ToSlash(resource), strings.Join(req.LoaderNames(), "!")
}
