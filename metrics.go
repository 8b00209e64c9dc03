// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package gpukv

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gpukv",
		Name:      "flushes_total",
		Help:      "Completed flush submissions per store.",
	}, []string{"store"})
	metricFlushBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gpukv",
		Name:      "flush_bytes_total",
		Help:      "Payload bytes written to the device per store.",
	}, []string{"store"})
	metricWriteRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gpukv",
		Name:      "write_retries_total",
		Help:      "Pending writes retained for retry after a failed submission.",
	}, []string{"store"})
	metricReadRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gpukv",
		Name:      "read_rows_total",
		Help:      "Rows gathered through the bulk reader per store.",
	}, []string{"store"})
	metricSortPasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gpukv",
		Name:      "sort_passes_total",
		Help:      "Bitonic compute passes dispatched per store.",
	}, []string{"store"})
	metricSortSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gpukv",
		Name:      "sort_budget_skips_total",
		Help:      "Sort rebuilds skipped because items exceeded the device binding budget.",
	}, []string{"store"})
)
