package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "daoq"

// Source labels for resolution outcomes.
const (
	SourceCache   = "cache"
	SourceIndexer = "indexer"
	SourceChain   = "chain"
)

// Collectors groups the resolution counters. A nil *Collectors is valid and
// records nothing.
type Collectors struct {
	Resolutions      *prometheus.CounterVec
	IndexerFallbacks *prometheus.CounterVec
	ChainQueries     *prometheus.CounterVec
	PageRequests     prometheus.Counter
	Bumps            prometheus.Counter
}

func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Resolved queries by the tier that produced the value.",
		}, []string{"source"}),
		IndexerFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "indexer_fallbacks_total",
			Help:      "Chain fallbacks taken, by reason.",
		}, []string{"reason"}),
		ChainQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_queries_total",
			Help:      "Direct contract queries issued, by chain and outcome.",
		}, []string{"chain", "outcome"}),
		PageRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "page_requests_total",
			Help:      "Page fetches issued by the pagination accumulator.",
		}),
		Bumps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_bumps_total",
			Help:      "Refresh scope bumps after state-changing transactions.",
		}),
	}
	if reg != nil {
		reg.MustRegister(c.Resolutions, c.IndexerFallbacks, c.ChainQueries, c.PageRequests, c.Bumps)
	}
	return c
}

func (c *Collectors) Resolved(source string) {
	if c == nil {
		return
	}
	c.Resolutions.WithLabelValues(source).Inc()
}

func (c *Collectors) Fallback(reason string) {
	if c == nil {
		return
	}
	c.IndexerFallbacks.WithLabelValues(reason).Inc()
}

func (c *Collectors) ChainQuery(chain string, err error) {
	if c == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.ChainQueries.WithLabelValues(chain, outcome).Inc()
}

func (c *Collectors) Page() {
	if c == nil {
		return
	}
	c.PageRequests.Inc()
}

func (c *Collectors) Bump() {
	if c == nil {
		return
	}
	c.Bumps.Inc()
}
