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
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveCapture(t *testing.T) {
	m := New()
	m.ObserveCapture(map[string]int{"rows_seen": 4, "duplicates_skipped": 1})

	assert.Equal(t, 4.0, testutil.ToFloat64(m.CaptureRows.WithLabelValues("rows_seen")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CaptureRows.WithLabelValues("duplicates_skipped")))
}

func TestObserveReportWindow(t *testing.T) {
	m := New()
	m.ObserveReportWindow("30d", map[string]float64{"sent": 10, "reply_rate": 0.2})

	assert.Equal(t, 10.0, testutil.ToFloat64(m.ReportTotals.WithLabelValues("30d", "sent")))
	assert.Equal(t, 0.2, testutil.ToFloat64(m.ReportTotals.WithLabelValues("30d", "reply_rate")))
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.ObserveCapture(map[string]int{"rows_seen": 2})
	m.ObserveSuccess("capture-sync", time.Now().Add(-time.Second))

	path := filepath.Join(t.TempDir(), "textfile", "outreach.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.Contains(text, `outreach_capture_sync_rows{counter="rows_seen"} 2`))
	assert.True(t, strings.Contains(text, `outreach_run_last_success_timestamp_seconds{command="capture-sync"}`))
}

func TestWriteTextfile_EmptyPath(t *testing.T) {
	assert.NoError(t, New().WriteTextfile(""))
}
