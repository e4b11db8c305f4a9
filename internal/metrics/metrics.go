// Copyright (C) 2025 the greenlight-core contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package metrics exposes the Prometheus counters/histograms/gauges
// shared by the signer, plugin, and scheduler-client processes. All
// collectors register against Registry rather than the global default,
// so a binary that embeds more than one of these processes (e.g. tests)
// never hits a duplicate-registration panic.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "greenlight"

// Registry is the shared Prometheus registry for this process.
var Registry = prometheus.NewRegistry()

var (
	// SignOperations counts signer classification/signing outcomes by
	// message tag and result, per spec §4.1's classification table.
	SignOperations = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signer",
			Name:      "operations_total",
			Help:      "Total HSM requests handled by the signer, by tag and outcome",
		},
		[]string{"tag", "outcome"}, // outcome: signed, rejected, error
	)

	// StateMergeConflicts counts split-brain merge failures in the
	// signer's state mirror (spec §3 merge rule).
	StateMergeConflicts = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signer",
			Name:      "state_merge_conflicts_total",
			Help:      "Total state-mirror merges that failed with a split-brain conflict",
		},
	)

	// HsmRequestDuration times how long the signer takes to classify and
	// resolve one HSM request.
	HsmRequestDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "signer",
			Name:      "request_duration_seconds",
			Help:      "Time to classify and resolve one HSM request",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
	)

	// AuthVerifications is the counter for the auth middleware's
	// pass/fail outcomes; plugin/authmw does not increment it.
	AuthVerifications = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authmw",
			Name:      "verifications_total",
			Help:      "Total per-RPC authentication outcomes",
		},
		[]string{"outcome"}, // ok, bad_signature, too_large, unauthenticated
	)

	// PendingContextSize is the gauge for the plugin's signature-request
	// context size; pendingctx does not set it.
	PendingContextSize = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "authmw",
			Name:      "pending_context_size",
			Help:      "Number of authenticated requests currently attached to the pending-request context",
		},
	)

	// StageDepth is the gauge for the plugin's staging queue depth;
	// plugin/stager does not set it.
	StageDepth = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stager",
			Name:      "pending_depth",
			Help:      "Number of HSM requests currently staged awaiting a signer response",
		},
	)

	// StageConnections gauges how many signer HSM streams are currently
	// subscribed to the staging queue.
	StageConnections = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stager",
			Name:      "hsm_connections",
			Help:      "Number of signer streams currently subscribed to the staging queue",
		},
	)
)
