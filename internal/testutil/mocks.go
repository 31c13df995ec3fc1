// Package testutil provides shared test utilities and mocks for unit testing.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fluxbase-eu/bundlebridge/internal/storage"
	"github.com/fluxbase-eu/bundlebridge/pkg/host"
)

// MockHost is an in-memory host bundler. Files are keyed by absolute path.
// Requests starting with "." are resolved against the context directory,
// bare specifiers against /node_modules. Extension probing tries ".js" and
// "/index.js".
type MockHost struct {
	mu    sync.Mutex
	files map[string]string
	maps  map[string]json.RawMessage
	deps  []string

	resolveCalls int
	loadCalls    int

	// Loaders transform module source by loader name, applied right to left.
	Loaders map[string]func(source string) (string, error)
	// ResolveErrors fails resolution of the given raw requests.
	ResolveErrors map[string]error
	// LoadErrors fails loading of the given ids.
	LoadErrors map[string]error
}

// NewMockHost creates an empty host with a "raw" loader that exports the
// source as a string.
func NewMockHost() *MockHost {
	return &MockHost{
		files: make(map[string]string),
		maps:  make(map[string]json.RawMessage),
		Loaders: map[string]func(string) (string, error){
			"raw": func(source string) (string, error) {
				quoted, err := json.Marshal(source)
				if err != nil {
					return "", err
				}
				return "export default " + string(quoted) + ";", nil
			},
		},
		ResolveErrors: make(map[string]error),
		LoadErrors:    make(map[string]error),
	}
}

// AddFile stores content under path.
func (h *MockHost) AddFile(path, content string) *MockHost {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.files[path] = content
	return h
}

// AddSourceMap attaches a source map returned when path is loaded.
func (h *MockHost) AddSourceMap(path string, sourceMap json.RawMessage) *MockHost {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.maps[path] = sourceMap
	return h
}

func (h *MockHost) Resolve(ctx context.Context, contextDir, request string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resolveCalls++

	if err, ok := h.ResolveErrors[request]; ok {
		return "", err
	}

	var base string
	switch {
	case filepath.IsAbs(request):
		base = request
	case strings.HasPrefix(request, "."):
		base = filepath.Join(contextDir, request)
	default:
		base = filepath.Join("/node_modules", request)
	}

	for _, candidate := range []string{base, base + ".js", filepath.Join(base, "index.js")} {
		if _, ok := h.files[candidate]; ok {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %s in %s", host.ErrNotFound, request, contextDir)
}

func (h *MockHost) LoadModule(ctx context.Context, id string) (*host.Module, error) {
	h.mu.Lock()
	h.loadCalls++
	if err, ok := h.LoadErrors[id]; ok {
		h.mu.Unlock()
		return nil, err
	}

	resource := id
	var chain []string
	if idx := strings.LastIndex(id, "!"); idx != -1 {
		resource = id[idx+1:]
		chain = strings.Split(id[:idx], "!")
	}
	source, ok := h.files[resource]
	sourceMap := h.maps[resource]
	h.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", host.ErrNotFound, resource)
	}

	for i := len(chain) - 1; i >= 0; i-- {
		if chain[i] == "" {
			continue
		}
		loader, ok := h.Loaders[chain[i]]
		if !ok {
			return nil, fmt.Errorf("unknown loader %q", chain[i])
		}
		out, err := loader(source)
		if err != nil {
			return nil, err
		}
		source = out
		sourceMap = nil
	}

	return &host.Module{Code: source, Map: sourceMap}, nil
}

func (h *MockHost) AddDependency(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deps = append(h.deps, path)
}

// Dependencies returns the distinct registered dependencies, sorted.
func (h *MockHost) Dependencies() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	seen := make(map[string]struct{}, len(h.deps))
	out := make([]string, 0, len(h.deps))
	for _, d := range h.deps {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// ResolveCalls returns how many times Resolve was called.
func (h *MockHost) ResolveCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.resolveCalls
}

// LoadCalls returns how many times LoadModule was called.
func (h *MockHost) LoadCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loadCalls
}

// ErrMockObjectNotFound is returned when an object is not found in mock storage
var ErrMockObjectNotFound = errors.New("object not found")

// MockStorage implements storage.Storage in memory
type MockStorage struct {
	mu      sync.RWMutex
	objects map[string]map[string][]byte // bucket -> key -> data
	buckets map[string]bool

	// Callbacks for custom behavior
	OnUpload func(ctx context.Context, bucket, key string) error
}

// NewMockStorage creates a new mock storage provider
func NewMockStorage() *MockStorage {
	return &MockStorage{
		objects: make(map[string]map[string][]byte),
		buckets: make(map[string]bool),
	}
}

func (m *MockStorage) Name() string {
	return "mock"
}

func (m *MockStorage) Health(ctx context.Context) error {
	return nil
}

func (m *MockStorage) EnsureBucket(ctx context.Context, bucket string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buckets[bucket] = true
	return nil
}

func (m *MockStorage) Upload(ctx context.Context, bucket, key string, data io.Reader, size int64, opts *storage.UploadOptions) (*storage.Object, error) {
	if m.OnUpload != nil {
		if err := m.OnUpload(ctx, bucket, key); err != nil {
			return nil, err
		}
	}

	content, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.objects[bucket]; !exists {
		m.objects[bucket] = make(map[string][]byte)
	}
	m.objects[bucket][key] = content

	obj := &storage.Object{
		Key:          key,
		Bucket:       bucket,
		Size:         int64(len(content)),
		LastModified: time.Now(),
	}
	if opts != nil {
		obj.ContentType = opts.ContentType
		obj.Metadata = opts.Metadata
	}
	return obj, nil
}

func (m *MockStorage) Exists(ctx context.Context, bucket, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[bucket][key]
	return ok, nil
}

func (m *MockStorage) Delete(ctx context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[bucket][key]; !ok {
		return ErrMockObjectNotFound
	}
	delete(m.objects[bucket], key)
	return nil
}

// Object returns the stored bytes of bucket/key.
func (m *MockStorage) Object(bucket, key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[bucket][key]
	return bytes.Clone(data), ok
}

// Keys returns the keys stored in bucket, sorted.
func (m *MockStorage) Keys(bucket string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects[bucket]))
	for k := range m.objects[bucket] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
