// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package classify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	classificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatnshop",
		Subsystem: "classify",
		Name:      "results_total",
		Help:      "Classification results by final status.",
	}, []string{"status", "variant"})

	classifyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "chatnshop",
		Subsystem: "classify",
		Name:      "duration_seconds",
		Help:      "End-to-end synchronous classification latency.",
		Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	shortCircuitTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatnshop",
		Subsystem: "classify",
		Name:      "priority_short_circuit_total",
		Help:      "Requests answered by the keyword priority short-circuit.",
	})

	gateOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatnshop",
		Subsystem: "classify",
		Name:      "gate_outcomes_total",
		Help:      "Confidence gate verdicts.",
	}, []string{"outcome"})

	escalationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatnshop",
		Subsystem: "classify",
		Name:      "escalations_total",
		Help:      "Requests enqueued for asynchronous LLM classification.",
	})
)
