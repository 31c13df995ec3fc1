package observability

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the loader.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry prometheus.Gatherer

	// Compilation metrics
	compilationsTotal   *prometheus.CounterVec
	compilationDuration *prometheus.HistogramVec
	compilationsActive  prometheus.Gauge
	outputBytes         prometheus.Histogram

	// Bridge metrics
	resolutionsTotal *prometheus.CounterVec
	loadsTotal       *prometheus.CounterVec

	// Binary asset metrics
	binaryAssetsTotal *prometheus.CounterVec

	// Storage metrics
	storageBytesTotal        *prometheus.CounterVec
	storageOperationsTotal   *prometheus.CounterVec
	storageOperationDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg uses a private registry, so several instances can coexist.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		compilationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bundlebridge_compilations_total",
				Help: "Total number of loader invocations",
			},
			[]string{"status"},
		),
		compilationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bundlebridge_compilation_duration_seconds",
				Help:    "Loader invocation latency in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"status"},
		),
		compilationsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "bundlebridge_compilations_active",
				Help: "Current number of loader invocations in progress",
			},
		),
		outputBytes: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bundlebridge_output_bytes",
				Help:    "Size of emitted bundles in bytes",
				Buckets: prometheus.ExponentialBuckets(256, 4, 10),
			},
		),

		resolutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bundlebridge_resolutions_total",
				Help: "Total number of module requests answered by the resolution bridge",
			},
			[]string{"outcome"},
		),
		loadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bundlebridge_loads_total",
				Help: "Total number of modules supplied by the load bridge",
			},
			[]string{"source", "status"},
		),

		binaryAssetsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bundlebridge_binary_assets_total",
				Help: "Total number of binary imports diverted to the asset registry",
			},
			[]string{"chunk_type"},
		),

		storageOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bundlebridge_storage_operations_total",
				Help: "Total number of asset storage operations",
			},
			[]string{"operation", "bucket", "status"},
		),
		storageBytesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bundlebridge_storage_bytes_total",
				Help: "Total bytes written to asset storage",
			},
			[]string{"operation", "bucket"},
		),
		storageOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bundlebridge_storage_operation_duration_seconds",
				Help:    "Asset storage operation latency in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"operation", "bucket"},
		),
	}
}

// Resolution outcomes.
const (
	OutcomeEntry    = "entry"
	OutcomeBundled  = "bundled"
	OutcomeExternal = "external"
	OutcomeAsset    = "asset"
	OutcomeError    = "error"
)

// StartCompilation marks an invocation as in flight. The returned function
// records its outcome.
func (m *Metrics) StartCompilation() func(err error, outputSize int) {
	if m == nil {
		return func(error, int) {}
	}
	start := time.Now()
	m.compilationsActive.Inc()
	return func(err error, outputSize int) {
		m.compilationsActive.Dec()
		status := statusLabel(err)
		m.compilationsTotal.WithLabelValues(status).Inc()
		m.compilationDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
		if err == nil {
			m.outputBytes.Observe(float64(outputSize))
		}
	}
}

// RecordResolution records how the resolution bridge answered a request.
func (m *Metrics) RecordResolution(outcome string) {
	if m == nil {
		return
	}
	m.resolutionsTotal.WithLabelValues(outcome).Inc()
}

// RecordLoad records a module load; source is "entry" or "host".
func (m *Metrics) RecordLoad(source string, err error) {
	if m == nil {
		return
	}
	m.loadsTotal.WithLabelValues(source, statusLabel(err)).Inc()
}

// RecordBinaryAsset records a diverted binary import.
func (m *Metrics) RecordBinaryAsset(chunkType string) {
	if m == nil {
		return
	}
	m.binaryAssetsTotal.WithLabelValues(chunkType).Inc()
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(operation, bucket string, bytes int64, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.storageOperationsTotal.WithLabelValues(operation, bucket, statusLabel(err)).Inc()
	m.storageBytesTotal.WithLabelValues(operation, bucket).Add(float64(bytes))
	m.storageOperationDuration.WithLabelValues(operation, bucket).Observe(duration.Seconds())
}

// Gatherer exposes the registry the collectors live in.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Handler returns a Fiber handler that exposes the collected metrics
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

// NewServer returns a Fiber app serving the metrics on path.
func (m *Metrics) NewServer(path string) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get(path, m.Handler())
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	return app
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
