package transform

import (
	"errors"
	"io/fs"
	"path/filepath"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/fluxbase-eu/bundlebridge/internal/bridge"
	"github.com/fluxbase-eu/bundlebridge/internal/options"
)

// RCFileNames are looked up in this order in each directory.
var RCFileNames = []string{
	".transformrc",
	".transformrc.json",
	".transformrc.yaml",
	".transformrc.yml",
}

// Source tells where the selected options came from.
type Source string

const (
	SourceNone     Source = ""
	SourceExplicit Source = "options"
	SourceRCFile   Source = "rcfile"
)

// Selection is the raw transformation config chosen for an invocation.
type Selection struct {
	Raw    map[string]any
	Source Source
	// Path is the rc file the options were read from.
	Path string
}

// Empty reports whether no transformation should run.
func (s *Selection) Empty() bool {
	return s == nil || len(s.Raw) == 0
}

// Validate decodes the selection without running it, so bad options fail
// before any bundling work.
func (s *Selection) Validate() error {
	if s.Empty() {
		return nil
	}
	opts, err := Decode(s.Raw)
	if err != nil {
		return err
	}
	_, err = opts.TransformOptions()
	return err
}

// Selector picks the transformation config for a resource.
type Selector struct {
	Fs afero.Fs
	// AddDependency registers the rc file with the host.
	AddDependency func(path string)
	// Discover enables the rc file lookup.
	Discover bool
}

// Select returns, in order of precedence: explicit when it is a map,
// the nearest rc file above the resource, or an empty selection.
func (s *Selector) Select(explicit any, resourcePath string) (*Selection, error) {
	if raw, ok := explicitMap(explicit); ok {
		return &Selection{Raw: raw, Source: SourceExplicit}, nil
	}
	if !s.Discover {
		return &Selection{Raw: map[string]any{}}, nil
	}

	fsys := s.Fs
	if fsys == nil {
		fsys = afero.NewOsFs()
	}

	resource := bridge.Split(resourcePath).Resource
	path, err := FindRC(fsys, filepath.Dir(resource))
	if err != nil {
		return nil, err
	}
	if path == "" {
		return &Selection{Raw: map[string]any{}}, nil
	}

	if s.AddDependency != nil {
		s.AddDependency(path)
	}

	raw, err := ReadRC(fsys, path)
	if err != nil {
		return nil, err
	}
	return &Selection{Raw: raw, Source: SourceRCFile, Path: path}, nil
}

func explicitMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		if m == nil {
			return nil, false
		}
		return m, true
	case *Options:
		if m == nil {
			return nil, false
		}
		raw, err := toMap(m)
		return raw, err == nil
	default:
		return nil, false
	}
}

// FindRC walks from dir up to the filesystem root and returns the first
// rc file found, or "".
func FindRC(fsys afero.Fs, dir string) (string, error) {
	dir = filepath.Clean(dir)
	for {
		for _, name := range RCFileNames {
			candidate := filepath.Join(dir, name)
			info, err := fsys.Stat(candidate)
			if err == nil && !info.IsDir() {
				return candidate, nil
			}
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return "", err
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

// ReadRC parses an rc file. JSON is read as YAML.
func ReadRC(fsys afero.Fs, path string) (map[string]any, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, err
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &options.ConfigurationError{
			Key:     options.KeyTransformOptions,
			Message: "invalid rc file " + path,
			Err:     err,
		}
	}
	return raw, nil
}

func toMap(o *Options) (map[string]any, error) {
	data, err := yaml.Marshal(o)
	if err != nil {
		return nil, err
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	// Zero values are dropped so an empty Options means no transformation
	for k, v := range raw {
		if isZero(v) {
			delete(raw, k)
		}
	}
	return raw, nil
}

func isZero(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case bool:
		return !t
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}
