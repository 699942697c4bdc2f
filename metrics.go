// Copyright 2023 The Gravel Authors.
// SPDX-License-Identifier: Apache-2.0
package gravel

import "github.com/prometheus/client_golang/prometheus"

const (
	MetricRowsIngested   = "rows_ingested_total"
	MetricTablesCast     = "tables_cast_total"
	MetricVerticesMapped = "vertices_mapped_total"
	MetricRowsShuffled   = "rows_shuffled_total"
	MetricLoads          = "loads_total"
)

var CounterRowsIngested = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gravel",
		Subsystem: "loader",
		Name:      MetricRowsIngested,
		Help:      "Rows read from local source shards, before shuffling.",
	},
	[]string{
		"kind",
	},
)

var CounterTablesCast = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "gravel",
		Subsystem: "loader",
		Name:      MetricTablesCast,
		Help:      "Tables rebuilt to match a reconciled schema.",
	},
)

var CounterVerticesMapped = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "gravel",
		Subsystem: "loader",
		Name:      MetricVerticesMapped,
		Help:      "Distinct vertices assigned a global id.",
	},
)

var CounterRowsShuffled = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gravel",
		Subsystem: "loader",
		Name:      MetricRowsShuffled,
		Help:      "Rows sent to their owning partition.",
	},
	[]string{
		"kind",
	},
)

var CounterLoads = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gravel",
		Subsystem: "loader",
		Name:      MetricLoads,
		Help:      "Completed load attempts by outcome.",
	},
	[]string{
		"status",
	},
)

func init() {
	prometheus.MustRegister(CounterRowsIngested)
	prometheus.MustRegister(CounterTablesCast)
	prometheus.MustRegister(CounterVerticesMapped)
	prometheus.MustRegister(CounterRowsShuffled)
	prometheus.MustRegister(CounterLoads)
}
