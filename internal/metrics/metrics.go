package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "ticket_reservation"

// Metrics groups the collectors the reservation engine reports to.
type Metrics struct {
	Holds           *prometheus.CounterVec
	Confirms        *prometheus.CounterVec
	Releases        *prometheus.CounterVec
	StoreConflicts  prometheus.Counter
	ScheduledTimers prometheus.Gauge
}

// New creates the collectors and registers them on reg. A nil reg leaves them
// unregistered, which is what tests usually want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Holds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "holds_total",
			Help:      "Ticket hold attempts by result.",
		}, []string{"result"}),
		Confirms: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "confirms_total",
			Help:      "Reservation confirm attempts by result.",
		}, []string{"result"}),
		Releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "releases_total",
			Help:      "Expiry evaluations by outcome.",
		}, []string{"outcome"}),
		StoreConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_conflicts_total",
			Help:      "Optimistic version conflicts retried against the inventory store.",
		}),
		ScheduledTimers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduled_expiries",
			Help:      "Expiry timers currently armed in this process.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Holds, m.Confirms, m.Releases, m.StoreConflicts, m.ScheduledTimers)
	}
	return m
}
