package obs

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// TaxItemComputations counts single-line computations by regime and outcome.
	TaxItemComputations *prometheus.CounterVec
	// TaxSaleComputations counts sale computations by override flag and outcome.
	TaxSaleComputations *prometheus.CounterVec
	// TaxSaleItems records the number of lines per computed sale.
	TaxSaleItems prometheus.Histogram
	// MVALookups counts MVA table lookups by hit or miss.
	MVALookups *prometheus.CounterVec
	// MVAReloads counts MVA snapshot reloads by source and outcome.
	MVAReloads *prometheus.CounterVec
	// MVATableEntries reports the size of the published MVA snapshot.
	MVATableEntries prometheus.Gauge
	// DBQueryDuration records configuration store query latency by SQL verb.
	DBQueryDuration *prometheus.HistogramVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		TaxItemComputations = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tax_item_computations_total",
			Help:      "Count of line item tax computations by regime and outcome.",
		}, []string{"regime", "result"})
		TaxSaleComputations = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tax_sale_computations_total",
			Help:      "Count of sale tax computations by override flag and outcome.",
		}, []string{"override", "result"})
		TaxSaleItems = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tax_sale_items",
			Help:      "Number of line items per computed sale.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		})
		MVALookups = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mva_lookups_total",
			Help:      "Count of MVA table lookups by result.",
		}, []string{"result"})
		MVAReloads = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mva_reloads_total",
			Help:      "Count of MVA snapshot reloads by source and outcome.",
		}, []string{"source", "result"})
		MVATableEntries = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mva_table_entries",
			Help:      "Number of entries in the published MVA snapshot.",
		})
		DBQueryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_ms",
			Help:      "Postgres query latency in milliseconds by operation and outcome.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250},
		}, []string{"operation", "result"})

		mustRegisterCollector(reg, TaxItemComputations, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				TaxItemComputations = v
			}
		})
		mustRegisterCollector(reg, TaxSaleComputations, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				TaxSaleComputations = v
			}
		})
		mustRegisterCollector(reg, TaxSaleItems, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Histogram); ok {
				TaxSaleItems = v
			}
		})
		mustRegisterCollector(reg, MVALookups, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				MVALookups = v
			}
		})
		mustRegisterCollector(reg, MVAReloads, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				MVAReloads = v
			}
		})
		mustRegisterCollector(reg, MVATableEntries, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Gauge); ok {
				MVATableEntries = v
			}
		})
		mustRegisterCollector(reg, DBQueryDuration, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				DBQueryDuration = v
			}
		})
	})
}

// ObserveItemComputation increments the item counter when metrics are registered.
func ObserveItemComputation(regime, result string) {
	if TaxItemComputations != nil {
		TaxItemComputations.WithLabelValues(regime, result).Inc()
	}
}

// ObserveSaleComputation records a sale computation and its size.
func ObserveSaleComputation(override bool, result string, items int) {
	if TaxSaleComputations != nil {
		TaxSaleComputations.WithLabelValues(strconv.FormatBool(override), result).Inc()
	}
	if TaxSaleItems != nil && result == "ok" {
		TaxSaleItems.Observe(float64(items))
	}
}

// ObserveMVALookup records a lookup hit or miss.
func ObserveMVALookup(hit bool) {
	if MVALookups == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	MVALookups.WithLabelValues(result).Inc()
}

// ObserveMVAReload records a reload outcome and, on success, the new table size.
func ObserveMVAReload(source string, entries int, err error) {
	if MVAReloads != nil {
		result := "ok"
		if err != nil {
			result = "error"
		}
		MVAReloads.WithLabelValues(source, result).Inc()
	}
	if err == nil && MVATableEntries != nil {
		MVATableEntries.Set(float64(entries))
	}
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register metric: %w", err))
	}
}
