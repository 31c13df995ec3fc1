package assets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/fluxbase-eu/bundlebridge/internal/observability"
	"github.com/fluxbase-eu/bundlebridge/internal/storage"
)

// Deployment is the outcome of uploading one binary asset.
type Deployment struct {
	Record Record          `json:"record" yaml:"record"`
	Object *storage.Object `json:"object" yaml:"object"`
}

// DeployManager collects binary asset records during compilation and
// uploads the referenced files afterwards.
type DeployManager struct {
	storage storage.Storage
	bucket  string
	fs      afero.Fs
	metrics *observability.Metrics

	mu      sync.Mutex
	records []Record
	seen    map[string]struct{}
}

// NewDeployManager creates a manager uploading into bucket. A nil fs reads
// from the real filesystem.
func NewDeployManager(store storage.Storage, bucket string, fs afero.Fs) *DeployManager {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &DeployManager{
		storage: store,
		bucket:  bucket,
		fs:      fs,
		seen:    make(map[string]struct{}),
	}
}

// SetMetrics records uploads in m.
func (m *DeployManager) SetMetrics(metrics *observability.Metrics) {
	m.metrics = metrics
}

// AddBinaryAsset queues rec for deployment. Repeated paths are ignored.
func (m *DeployManager) AddBinaryAsset(rec Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[rec.Path]; ok {
		return
	}
	m.seen[rec.Path] = struct{}{}
	m.records = append(m.records, rec)
}

// Pending returns the queued records.
func (m *DeployManager) Pending() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}

// Deploy uploads every queued asset and clears the queue on success.
func (m *DeployManager) Deploy(ctx context.Context) ([]Deployment, error) {
	pending := m.Pending()
	if len(pending) == 0 {
		return nil, nil
	}

	if err := m.storage.EnsureBucket(ctx, m.bucket); err != nil {
		return nil, err
	}

	deployments := make([]Deployment, 0, len(pending))
	for _, rec := range pending {
		obj, err := m.upload(ctx, rec)
		if err != nil {
			return deployments, fmt.Errorf("failed to deploy %s: %w", rec.Path, err)
		}
		deployments = append(deployments, Deployment{Record: rec, Object: obj})
	}

	m.mu.Lock()
	m.records = m.records[len(pending):]
	m.mu.Unlock()

	log.Info().
		Int("count", len(deployments)).
		Str("bucket", m.bucket).
		Str("provider", m.storage.Name()).
		Msg("Binary assets deployed")

	return deployments, nil
}

func (m *DeployManager) upload(ctx context.Context, rec Record) (*storage.Object, error) {
	f, err := m.fs.Open(rec.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	// Content addressed keys keep repeated deploys idempotent
	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	digest := hex.EncodeToString(hash.Sum(nil))[:16]
	key := ObjectKey(rec, digest)

	exists, err := m.storage.Exists(ctx, m.bucket, key)
	if err != nil {
		return nil, err
	}
	if exists {
		log.Debug().Str("key", key).Msg("Binary asset already deployed")
		return &storage.Object{Key: key, Bucket: m.bucket, Size: info.Size()}, nil
	}

	contentType := mime.TypeByExtension(filepath.Ext(rec.Path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	ctx, span := observability.StartStorageSpan(ctx, "upload", m.bucket, key)
	start := time.Now()
	obj, err := m.storage.Upload(ctx, m.bucket, key, f, info.Size(), &storage.UploadOptions{
		ContentType:  contentType,
		CacheControl: "public, max-age=31536000, immutable",
		Metadata: map[string]string{
			"chunk-type":  string(rec.ChunkType),
			"source-name": filepath.Base(rec.Path),
		},
	})
	m.metrics.RecordStorageOperation("upload", m.bucket, info.Size(), time.Since(start), err)
	observability.EndSpan(span, err)
	return obj, err
}

// ObjectKey is the storage key for rec given its content digest:
// <chunkType>/<name>.<digest><ext>.
func ObjectKey(rec Record, digest string) string {
	base := filepath.Base(rec.Path)
	ext := filepath.Ext(base)
	name := base[:len(base)-len(ext)]
	return path.Join(string(rec.ChunkType), name+"."+digest+ext)
}
