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

package ingestion

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsIngestion holds Prometheus metrics for the ingestion
// pipeline.
type metricsIngestion struct {
	once sync.Once

	filesFetched  prometheus.Counter
	filesParsed   prometheus.Counter
	parseFailures prometheus.Counter
	fileErrors    prometheus.Counter

	chunksEmbedded    prometheus.Counter
	summariesWritten  prometheus.Counter
	pipelinesStarted  prometheus.Counter
	pipelinesFailed   prometheus.Counter
	pipelinesComplete prometheus.Counter

	stageDuration *prometheus.HistogramVec
	totalDuration prometheus.Histogram
}

var ingMetrics metricsIngestion

func (m *metricsIngestion) init() {
	m.once.Do(func() {
		m.filesFetched = prometheus.NewCounter(prometheus.CounterOpts{Name: "repomind_ing_files_fetched_total", Help: "Blobs fetched from the source host"})
		m.filesParsed = prometheus.NewCounter(prometheus.CounterOpts{Name: "repomind_ing_files_parsed_total", Help: "Files with an extracted structural record"})
		m.parseFailures = prometheus.NewCounter(prometheus.CounterOpts{Name: "repomind_ing_parse_failures_total", Help: "Files stored unparsed after a parse error"})
		m.fileErrors = prometheus.NewCounter(prometheus.CounterOpts{Name: "repomind_ing_file_errors_total", Help: "Per-file best-effort errors recorded on provider_meta"})

		m.chunksEmbedded = prometheus.NewCounter(prometheus.CounterOpts{Name: "repomind_ing_chunks_embedded_total", Help: "Code chunks with a stored vector"})
		m.summariesWritten = prometheus.NewCounter(prometheus.CounterOpts{Name: "repomind_ing_summaries_total", Help: "File summaries produced"})

		m.pipelinesStarted = prometheus.NewCounter(prometheus.CounterOpts{Name: "repomind_ing_pipelines_started_total", Help: "Ingestion pipelines started"})
		m.pipelinesFailed = prometheus.NewCounter(prometheus.CounterOpts{Name: "repomind_ing_pipelines_failed_total", Help: "Ingestion pipelines failed"})
		m.pipelinesComplete = prometheus.NewCounter(prometheus.CounterOpts{Name: "repomind_ing_pipelines_completed_total", Help: "Ingestion pipelines completed"})

		buckets := []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}
		m.stageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "repomind_ing_stage_seconds", Help: "Duration per pipeline stage", Buckets: buckets}, []string{"stage"})
		m.totalDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "repomind_ing_total_seconds", Help: "Total pipeline duration", Buckets: buckets})

		prometheus.MustRegister(
			m.filesFetched, m.filesParsed, m.parseFailures, m.fileErrors,
			m.chunksEmbedded, m.summariesWritten,
			m.pipelinesStarted, m.pipelinesFailed, m.pipelinesComplete,
			m.stageDuration, m.totalDuration,
		)
	})
}

func recordFileFetched()  { ingMetrics.init(); ingMetrics.filesFetched.Inc() }
func recordFileParsed()   { ingMetrics.init(); ingMetrics.filesParsed.Inc() }
func recordParseFailure() { ingMetrics.init(); ingMetrics.parseFailures.Inc() }
func recordFileError()    { ingMetrics.init(); ingMetrics.fileErrors.Inc() }

func recordChunksEmbedded(n int) {
	ingMetrics.init()
	ingMetrics.chunksEmbedded.Add(float64(n))
}
func recordSummary() { ingMetrics.init(); ingMetrics.summariesWritten.Inc() }

func recordPipelineStarted()  { ingMetrics.init(); ingMetrics.pipelinesStarted.Inc() }
func recordPipelineFailed()   { ingMetrics.init(); ingMetrics.pipelinesFailed.Inc() }
func recordPipelineComplete() { ingMetrics.init(); ingMetrics.pipelinesComplete.Inc() }

func observeStage(stage string, start time.Time) {
	ingMetrics.init()
	ingMetrics.stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

func observeTotal(start time.Time) {
	ingMetrics.init()
	ingMetrics.totalDuration.Observe(time.Since(start).Seconds())
}
