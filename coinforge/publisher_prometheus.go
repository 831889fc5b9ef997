package coinforge

import (
	"context"
	"math"
	"net/http"

	"github.com/heroiclabs/nakama-common/runtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusPublisher counts transaction records on a dedicated Prometheus
// registry. Per-player series are deliberately avoided to keep cardinality
// bounded by category and currency.
type PrometheusPublisher struct {
	registry *prometheus.Registry

	transactions *prometheus.CounterVec
	amounts      *prometheus.CounterVec
}

var _ Publisher = &PrometheusPublisher{}

func NewPrometheusPublisher() *PrometheusPublisher {
	registry := prometheus.NewRegistry()

	transactions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coinforge",
		Name:      "transactions_total",
		Help:      "Number of applied balance transactions.",
	}, []string{"category", "currency"})

	amounts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coinforge",
		Name:      "transaction_amount_total",
		Help:      "Sum of absolute applied transaction deltas.",
	}, []string{"category", "currency"})

	registry.MustRegister(transactions, amounts)

	return &PrometheusPublisher{
		registry:     registry,
		transactions: transactions,
		amounts:      amounts,
	}
}

func (p *PrometheusPublisher) Send(ctx context.Context, logger runtime.Logger, records []*TransactionRecord) {
	for _, record := range records {
		labels := prometheus.Labels{
			"category": string(record.Category),
			"currency": record.Currency,
		}
		p.transactions.With(labels).Inc()
		p.amounts.With(labels).Add(math.Abs(record.Delta))
	}
}

// Handler exposes the publisher's registry for scraping.
func (p *PrometheusPublisher) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
