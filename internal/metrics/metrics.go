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

// Package metrics exposes the Prometheus counters and histograms
// instrumented across the handshake, rotation, message pipeline and
// relay layers, all registered against a dedicated Registry so the
// core never pollutes the default global one. The session metrics in
// session.go are registered but not updated by any code in this
// module.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "e2ee"

// Registry is the dedicated prometheus registry every metric in this
// package is registered against.
var Registry = prometheus.NewRegistry()
