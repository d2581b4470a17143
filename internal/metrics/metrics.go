/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package metrics

import (
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RunMetrics holds the gauges a batch run publishes. Runs are short lived, so
// the registry is written to a node-exporter textfile instead of being scraped.
type RunMetrics struct {
	registry        *prometheus.Registry
	CaptureRows     *prometheus.GaugeVec
	ReportTotals    *prometheus.GaugeVec
	RunDuration     *prometheus.GaugeVec
	LastSuccessTime *prometheus.GaugeVec
}

// New creates a RunMetrics instance backed by its own registry.
func New() *RunMetrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &RunMetrics{
		registry: reg,
		CaptureRows: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "outreach_capture_sync_rows",
			Help: "Row counters of the last capture sync run",
		}, []string{"counter"}),
		ReportTotals: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "outreach_ops_report_totals",
			Help: "Window totals of the last ops report",
		}, []string{"window", "metric"}),
		RunDuration: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "outreach_run_duration_seconds",
			Help: "Duration of the last run per command",
		}, []string{"command"}),
		LastSuccessTime: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "outreach_run_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run per command",
		}, []string{"command"}),
	}
}

// ObserveCapture records the counters of a capture sync run.
func (m *RunMetrics) ObserveCapture(counters map[string]int) {
	for name, value := range counters {
		m.CaptureRows.WithLabelValues(name).Set(float64(value))
	}
}

// ObserveReportWindow records the totals of one report window.
func (m *RunMetrics) ObserveReportWindow(window string, totals map[string]float64) {
	for name, value := range totals {
		m.ReportTotals.WithLabelValues(window, name).Set(value)
	}
}

// ObserveSuccess records a completed run. Call with time.Now() at the start of the run.
func (m *RunMetrics) ObserveSuccess(command string, start time.Time) {
	m.RunDuration.WithLabelValues(command).Set(time.Since(start).Seconds())
	m.LastSuccessTime.WithLabelValues(command).SetToCurrentTime()
}

// WriteTextfile writes the registry to path. Empty path is a no-op.
func (m *RunMetrics) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
