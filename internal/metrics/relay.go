// e2ee-core - End-to-End Encrypted Messaging Core
// Copyright (C) 2026 e2ee-core
//
// This file is part of e2ee-core.
//
// e2ee-core is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// e2ee-core is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with e2ee-core. If not, see <https://www.gnu.org/licenses/>.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RelayRecordsStored = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "records_stored_total",
			Help:      "Total number of metadata records accepted by the relay",
		},
		[]string{"type"},
	)

	RelayDuplicatesRejected = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "duplicates_rejected_total",
			Help:      "Total number of duplicate message_id inserts rejected by the relay",
		},
	)

	RelayRecordsRetained = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "records_retained",
			Help:      "Number of metadata records currently retained",
		},
	)

	RelayCleanupRuns = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "cleanup_runs_total",
			Help:      "Total number of retention cleanup passes run",
		},
	)
)

// This package only registers and exposes metric variables. No HTTP
// handler serves Registry anywhere in this module, cmd/e2eectl
// included.
