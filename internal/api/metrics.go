// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type metricsAPI struct {
	once sync.Once

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

var httpMetrics metricsAPI

func (m *metricsAPI) init() {
	m.once.Do(func() {
		m.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repomind_http_requests_total",
			Help: "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"})
		m.duration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "repomind_http_request_seconds",
			Help:    "HTTP request duration by route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"method", "route"})

		prometheus.MustRegister(m.requests, m.duration)
	})
}

func observeRequest(method, route string, status int, d time.Duration) {
	httpMetrics.init()
	httpMetrics.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpMetrics.duration.WithLabelValues(method, route).Observe(d.Seconds())
}
