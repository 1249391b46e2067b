package dgraph

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	syncDurationBuckets       = prometheus.ExponentialBuckets(0.0001, 2, 18)
	checkpointDurationBuckets = prometheus.ExponentialBuckets(0.001, 2, 16)
)

// Metrics exports sync and checkpoint activity. A Metrics built from a
// nil registerer records nothing.
type Metrics struct {
	monitoring bool

	syncBytes      *prometheus.CounterVec
	syncSavedBytes *prometheus.CounterVec
	syncMessages   *prometheus.CounterVec
	syncDuration   *prometheus.HistogramVec

	checkpointBytes    *prometheus.CounterVec
	checkpointDuration *prometheus.HistogramVec

	replicationFactor prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{}
	if reg == nil {
		return m, nil
	}
	m.monitoring = true

	var err error
	m.syncBytes, err = newCounterVec(reg, "sync_sent_bytes_total",
		"Bytes sent by reduce and broadcast", "direction", "field")
	if err != nil {
		return nil, err
	}
	m.syncSavedBytes, err = newCounterVec(reg, "sync_saved_bytes_total",
		"Bytes saved by delta encoding compared to dense values", "direction", "field")
	if err != nil {
		return nil, err
	}
	m.syncMessages, err = newCounterVec(reg, "sync_messages_total",
		"Sync messages sent per encoding", "direction", "mode")
	if err != nil {
		return nil, err
	}
	m.syncDuration, err = newHistogramVec(reg, "sync_duration_seconds",
		"Duration of one reduce or broadcast", syncDurationBuckets, "direction")
	if err != nil {
		return nil, err
	}
	m.checkpointBytes, err = newCounterVec(reg, "checkpoint_bytes_total",
		"Bytes written by checkpoints", "target")
	if err != nil {
		return nil, err
	}
	m.checkpointDuration, err = newHistogramVec(reg, "checkpoint_duration_seconds",
		"Duration of checkpoint and recovery operations", checkpointDurationBuckets, "operation")
	if err != nil {
		return nil, err
	}
	m.replicationFactor, err = newGauge(reg, "replication_factor",
		"Mirrors plus total nodes over total nodes")
	if err != nil {
		return nil, err
	}
	return m, nil
}

func newCounterVec(reg prometheus.Registerer, name, help string, labels ...string) (*prometheus.CounterVec, error) {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dgsync",
		Name:      name,
		Help:      help,
	}, labels)
	if err := reg.Register(c); err != nil {
		var e prometheus.AlreadyRegisteredError
		if errors.As(err, &e) {
			if existing, ok := e.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, errors.Errorf("metric %s already registered but not as a CounterVec", name)
		}
		return nil, err
	}
	return c, nil
}

func newHistogramVec(reg prometheus.Registerer, name, help string, buckets []float64, labels ...string) (*prometheus.HistogramVec, error) {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dgsync",
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, labels)
	if err := reg.Register(h); err != nil {
		var e prometheus.AlreadyRegisteredError
		if errors.As(err, &e) {
			if existing, ok := e.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, errors.Errorf("metric %s already registered but not as a HistogramVec", name)
		}
		return nil, err
	}
	return h, nil
}

func newGauge(reg prometheus.Registerer, name, help string) (prometheus.Gauge, error) {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "dgsync",
		Name:      name,
		Help:      help,
	})
	if err := reg.Register(g); err != nil {
		var e prometheus.AlreadyRegisteredError
		if errors.As(err, &e) {
			if existing, ok := e.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, errors.Errorf("metric %s already registered but not as a Gauge", name)
		}
		return nil, err
	}
	return g, nil
}

func (m *Metrics) addSync(st SyncType, field string, mode DataCommMode, sent, saved int) {
	if m == nil || !m.monitoring {
		return
	}
	m.syncBytes.WithLabelValues(st.String(), field).Add(float64(sent))
	if saved > 0 {
		m.syncSavedBytes.WithLabelValues(st.String(), field).Add(float64(saved))
	}
	m.syncMessages.WithLabelValues(st.String(), mode.String()).Inc()
}

func (m *Metrics) observeSync(st SyncType, d time.Duration) {
	if m == nil || !m.monitoring {
		return
	}
	m.syncDuration.WithLabelValues(st.String()).Observe(d.Seconds())
}

func (m *Metrics) addCheckpoint(target string, n int) {
	if m == nil || !m.monitoring {
		return
	}
	m.checkpointBytes.WithLabelValues(target).Add(float64(n))
}

func (m *Metrics) observeCheckpoint(op string, d time.Duration) {
	if m == nil || !m.monitoring {
		return
	}
	m.checkpointDuration.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) setReplicationFactor(f float64) {
	if m == nil || !m.monitoring {
		return
	}
	m.replicationFactor.Set(f)
}
