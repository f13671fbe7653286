package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "hl_pairs_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry        *prometheus.Registry
	barsProcessed   prometheus.Counter
	tickFailures    prometheus.Counter
	entriesOpened   prometheus.Counter
	exitsClosed     prometheus.Counter
	ordersSubmitted prometheus.Counter
	ordersFailed    prometheus.Counter
	residualRepairs prometheus.Counter
	fundingSkips    prometheus.Counter
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	barsProcessed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "bars_processed_total",
		Help:      "Total number of bars run through the signal pipeline.",
	})
	tickFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "tick_failures_total",
		Help:      "Total number of bar ticks that ended in an error.",
	})
	entriesOpened := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "entries_opened_total",
		Help:      "Total number of pair positions opened.",
	})
	exitsClosed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "exits_closed_total",
		Help:      "Total number of pair positions closed.",
	})
	ordersSubmitted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_submitted_total",
		Help:      "Total number of leg orders submitted.",
	})
	ordersFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_failed_total",
		Help:      "Total number of leg order failures.",
	})
	residualRepairs := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "residual_repairs_total",
		Help:      "Total number of one-sided residual positions flattened.",
	})
	fundingSkips := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "funding_skips_total",
		Help:      "Total number of entries skipped by the funding filter.",
	})

	registry.MustRegister(barsProcessed, tickFailures, entriesOpened, exitsClosed,
		ordersSubmitted, ordersFailed, residualRepairs, fundingSkips)

	m := &Metrics{
		BarsProcessed:   promCounter{barsProcessed},
		TickFailures:    promCounter{tickFailures},
		EntriesOpened:   promCounter{entriesOpened},
		ExitsClosed:     promCounter{exitsClosed},
		OrdersSubmitted: promCounter{ordersSubmitted},
		OrdersFailed:    promCounter{ordersFailed},
		ResidualRepairs: promCounter{residualRepairs},
		FundingSkips:    promCounter{fundingSkips},
	}

	return &Prometheus{
		Metrics:         m,
		registry:        registry,
		barsProcessed:   barsProcessed,
		tickFailures:    tickFailures,
		entriesOpened:   entriesOpened,
		exitsClosed:     exitsClosed,
		ordersSubmitted: ordersSubmitted,
		ordersFailed:    ordersFailed,
		residualRepairs: residualRepairs,
		fundingSkips:    fundingSkips,
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
