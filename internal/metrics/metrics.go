// Package metrics exposes crawl progress as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nao1215/repocrawl/internal/model"
)

// Metrics holds the crawl metrics. It implements crawl.Observer.
//
// Metrics:
//   - repocrawl_retrievals_total{outcome} - retrievals by outcome
//   - repocrawl_tokens_total - tokens measured this process
//   - repocrawl_pages_fetched_total - search pages fetched
//   - repocrawl_candidates_total - candidates returned by search pages
//   - repocrawl_passes_total - completed passes
//   - repocrawl_pass_new_candidates - ledger-new candidates of the last pass
//   - repocrawl_idle_cycles - consecutive passes without new candidates
//   - repocrawl_tier_current - star threshold of the active tier
//   - repocrawl_tier_expansions_total - tier expansions so far
//   - repocrawl_exhausted - 1 once every tier is exhausted
type Metrics struct {
	registry *prometheus.Registry

	retrievals   *prometheus.CounterVec
	tokens       prometheus.Counter
	pages        prometheus.Counter
	candidates   prometheus.Counter
	passes       prometheus.Counter
	passNew      prometheus.Gauge
	idleCycles   prometheus.Gauge
	tierCurrent  prometheus.Gauge
	tierExpanded prometheus.Gauge
	exhausted    prometheus.Gauge
}

// New creates the crawl metrics on a dedicated registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		retrievals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "repocrawl_retrievals_total",
			Help: "Total number of retrievals by outcome",
		}, []string{"outcome"}),
		tokens: factory.NewCounter(prometheus.CounterOpts{
			Name: "repocrawl_tokens_total",
			Help: "Total number of tokens measured by this process",
		}),
		pages: factory.NewCounter(prometheus.CounterOpts{
			Name: "repocrawl_pages_fetched_total",
			Help: "Total number of search pages fetched",
		}),
		candidates: factory.NewCounter(prometheus.CounterOpts{
			Name: "repocrawl_candidates_total",
			Help: "Total number of candidates returned by search pages",
		}),
		passes: factory.NewCounter(prometheus.CounterOpts{
			Name: "repocrawl_passes_total",
			Help: "Total number of completed passes over the query list",
		}),
		passNew: factory.NewGauge(prometheus.GaugeOpts{
			Name: "repocrawl_pass_new_candidates",
			Help: "Ledger-new candidates seen by the last pass",
		}),
		idleCycles: factory.NewGauge(prometheus.GaugeOpts{
			Name: "repocrawl_idle_cycles",
			Help: "Consecutive passes without new candidates",
		}),
		tierCurrent: factory.NewGauge(prometheus.GaugeOpts{
			Name: "repocrawl_tier_current",
			Help: "Star threshold of the active tier",
		}),
		tierExpanded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "repocrawl_tier_expansions_total",
			Help: "Number of tier expansions so far",
		}),
		exhausted: factory.NewGauge(prometheus.GaugeOpts{
			Name: "repocrawl_exhausted",
			Help: "1 once every configured tier is exhausted",
		}),
	}
}

// OutcomeRecorded counts a finished retrieval.
func (m *Metrics) OutcomeRecorded(outcome model.Outcome, tokens int64) {
	m.retrievals.WithLabelValues(outcome.String()).Inc()
	if tokens > 0 {
		m.tokens.Add(float64(tokens))
	}
}

// PassCompleted records the result of a pass.
func (m *Metrics) PassCompleted(fresh, cycleCount int) {
	m.passes.Inc()
	m.passNew.Set(float64(fresh))
	m.idleCycles.Set(float64(cycleCount))
}

// TierChanged records the tier state.
func (m *Metrics) TierChanged(tier model.TierState) {
	m.tierCurrent.Set(float64(tier.Current))
	m.tierExpanded.Set(float64(tier.Expansions))
	if tier.Exhausted {
		m.exhausted.Set(1)
	} else {
		m.exhausted.Set(0)
	}
}

// PageFetched counts a fetched search page.
func (m *Metrics) PageFetched(_ model.QueryState, _ int, candidates int) {
	m.pages.Inc()
	m.candidates.Add(float64(candidates))
}

// Handler returns the HTTP handler serving the metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	logger.Info("serving metrics", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to stop metrics server", "error", err)
		}
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
