package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the keystore service.
type Metrics struct {
	// Persona lifecycle metrics
	PersonasTotal     *prometheus.CounterVec
	PersonasLoaded    prometheus.Gauge
	PersonaLoadErrors prometheus.Counter

	// Kex key metrics
	KexKeysGeneratedTotal *prometheus.CounterVec
	KexKeysImportedTotal  *prometheus.CounterVec
	KexKeysShreddedTotal  prometheus.Counter
	KexKeysActive         *prometheus.GaugeVec

	// Crypto metrics
	CryptoOperationsTotal   *prometheus.CounterVec
	CryptoOperationDuration *prometheus.HistogramVec
	DHParamGenDuration      prometheus.Histogram

	// Staging metrics
	StageConflictsTotal *prometheus.CounterVec

	// Audit/storage metrics
	AuditWritesTotal        *prometheus.CounterVec
	DatabaseOperationsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		PersonasTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keystore_personas_total",
				Help: "Personas created, by key type",
			},
			[]string{"key_type"},
		),

		PersonasLoaded: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "keystore_personas_loaded",
				Help: "Personas currently resident in memory",
			},
		),

		PersonaLoadErrors: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "keystore_persona_load_errors_total",
				Help: "Persona directory entries skipped during bulk load",
			},
		),

		KexKeysGeneratedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keystore_kex_keys_generated_total",
				Help: "Ephemeral kex keys generated, by kind",
			},
			[]string{"kind"},
		),

		KexKeysImportedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keystore_kex_keys_imported_total",
				Help: "Peer kex public keys imported, by kind",
			},
			[]string{"kind"},
		),

		KexKeysShreddedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "keystore_kex_keys_shredded_total",
				Help: "Kex private keys securely shredded",
			},
		),

		KexKeysActive: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "keystore_kex_keys_active",
				Help: "Kex keys currently held per persona",
			},
			[]string{"persona_id"},
		),

		CryptoOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keystore_crypto_operations_total",
				Help: "Cryptographic operations performed, by operation and result",
			},
			[]string{"operation", "result"},
		),

		CryptoOperationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "keystore_crypto_operation_duration_seconds",
				Help:    "Crypto operation latency",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"operation"},
		),

		DHParamGenDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "keystore_dh_param_generation_seconds",
				Help:    "Safe-prime DH domain parameter generation latency",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
			},
		),

		StageConflictsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keystore_stage_conflicts_total",
				Help: "Staging-and-rename publishes that hit an existing destination",
			},
			[]string{"component"},
		),

		AuditWritesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keystore_audit_writes_total",
				Help: "Audit ledger rows appended, by event",
			},
			[]string{"event", "result"},
		),

		DatabaseOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keystore_database_operations_total",
				Help: "Audit database operation count",
			},
			[]string{"operation", "result"},
		),
	}

	return m
}

// RecordPersonaCreated increments persona creation counters.
func (m *Metrics) RecordPersonaCreated(keyType string) {
	m.PersonasTotal.WithLabelValues(keyType).Inc()
}

// RecordPersonaLoadError increments the tolerant-skip counter.
func (m *Metrics) RecordPersonaLoadError() {
	m.PersonaLoadErrors.Inc()
}

// RecordKexKeyGenerated increments kex key generation counters.
func (m *Metrics) RecordKexKeyGenerated(kind string) {
	m.KexKeysGeneratedTotal.WithLabelValues(kind).Inc()
}

// RecordKexKeyImported increments kex key import counters.
func (m *Metrics) RecordKexKeyImported(kind string) {
	m.KexKeysImportedTotal.WithLabelValues(kind).Inc()
}

// RecordKexKeyShredded increments the shred counter.
func (m *Metrics) RecordKexKeyShredded() {
	m.KexKeysShreddedTotal.Inc()
}

// RecordCryptoOperation records a crypto operation's outcome and latency.
func (m *Metrics) RecordCryptoOperation(operation string, success bool, durationSeconds float64) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.CryptoOperationsTotal.WithLabelValues(operation, result).Inc()
	m.CryptoOperationDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordStageConflict increments the staging conflict counter for a component.
func (m *Metrics) RecordStageConflict(component string) {
	m.StageConflictsTotal.WithLabelValues(component).Inc()
}

// RecordAuditWrite increments the audit ledger write counter.
func (m *Metrics) RecordAuditWrite(event string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.AuditWritesTotal.WithLabelValues(event, result).Inc()
}

// RecordDHParamGeneration observes one DH domain parameter generation's
// latency.
func (m *Metrics) RecordDHParamGeneration(durationSeconds float64) {
	m.DHParamGenDuration.Observe(durationSeconds)
}

// RecordDatabaseOperation increments the audit database operation
// counter for operation ("insert", "query", ...).
func (m *Metrics) RecordDatabaseOperation(operation string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.DatabaseOperationsTotal.WithLabelValues(operation, result).Inc()
}

// Handler exposes the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
