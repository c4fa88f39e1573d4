package loader

import (
	"github.com/go-faster/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mesh-intelligence/canopy/pkg/types"
)

// Load outcomes recorded on canopy_loader_loads_total.
const (
	OutcomeOK          = "ok"
	OutcomeConfig      = "config_error"
	OutcomeNotFound    = "not_found"
	OutcomeQuery       = "query_error"
	OutcomeCorrupt     = "corrupt_state"
	OutcomeOtherFailed = "error"
)

// Metrics counts loads and observes returned row counts per strategy.
type Metrics struct {
	loads *prometheus.CounterVec
	rows  *prometheus.HistogramVec
}

// NewMetrics registers the loader collectors on reg. A nil reg yields
// working but unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		loads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "canopy",
			Subsystem: "loader",
			Name:      "loads_total",
			Help:      "Total number of group loads broken down by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		rows: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "canopy",
			Subsystem: "loader",
			Name:      "rows",
			Help:      "Rows returned per successful group load.",
			Buckets:   []float64{0, 1, 10, 100, 1000, 10000, 100000},
		}, []string{"strategy"}),
	}
}

func (m *Metrics) observe(strategy string, rs *types.RowSet, err error) {
	if m == nil {
		return
	}
	m.loads.WithLabelValues(strategy, outcome(err)).Inc()
	if err == nil {
		m.rows.WithLabelValues(strategy).Observe(float64(rs.Len()))
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, types.ErrConfiguration):
		return OutcomeConfig
	case errors.Is(err, types.ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, types.ErrQuery):
		return OutcomeQuery
	case errors.Is(err, types.ErrCorruptState):
		return OutcomeCorrupt
	default:
		return OutcomeOtherFailed
	}
}
