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

package outreach

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/blnkfinance/outreach/model"
)

const cohortHeader = "batch_id,state_at_send,sent,delivered_proxy,bounced_confirmed,bounced_inferred," +
	"bounced_total,replied,trial_started,converted,reply_rate,trial_started_rate,converted_rate,bounce_rate_total"

// RenderReport renders the report in the requested format.
func RenderReport(report *model.Report, format string) (string, error) {
	if format == ReportFormatJSON {
		data, err := json.Marshal(report)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	return RenderText(report), nil
}

func cohortLine(batch, state string, m model.CohortMetrics) string {
	return fmt.Sprintf("%s,%s,%d,%d,%d,%d,%d,%d,%d,%d,%.4f,%.4f,%.4f,%.4f",
		batch, state, m.Sent, m.DeliveredProxy, m.BouncedConfirmed, m.BouncedInferred,
		m.BouncedTotal, m.Replied, m.TrialStarted, m.Converted,
		m.ReplyRate, m.TrialStartedRate, m.ConvertedRate, m.BounceRateTotal)
}

// RenderText renders the operator view of a report.
func RenderText(report *model.Report) string {
	var b strings.Builder
	line := func(format string, args ...interface{}) {
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}

	line("Outreach Ops Report")
	line("generated_at_utc=%s", report.GeneratedAt)

	for _, w := range ReportWindows {
		window := report.Windows[w.Name]
		line("")
		line("[%s]", w.Name)
		line("%s", cohortHeader)
		if len(window.Cohorts) == 0 {
			line("(none)")
		}
		for _, row := range window.Cohorts {
			line("%s", cohortLine(row.BatchID, row.StateAtSend, row.CohortMetrics))
		}
		line("%s", cohortLine("TOTAL", "ALL", window.Totals))
	}

	line("")
	line("[list_quality]")
	for _, w := range ReportWindows {
		q := report.ListQuality[w.Name]
		line("%s new_prospects_count=%d valid_email_format_pct=%.4f duplicate_domain_rows=%d duplicate_domain_pct=%.4f role_based_inbox_share_pct=%.4f",
			w.Name, q.NewProspectsCount, q.ValidEmailFormatPct, q.DuplicateDomainRows, q.DuplicateDomainPct, q.RoleBasedInboxSharePct)
	}

	line("")
	line("[notes]")
	if len(report.Notes) == 0 {
		line("- none")
	}
	for _, note := range report.Notes {
		line("- %s", note)
	}

	line("")
	line("OPS_REPORT_JSON_PATH=%s", report.JSONPath)
	line("OPS_REPORT_SCHEMA_VERSION=%s", report.SchemaVersion)
	b.WriteString(fmt.Sprintf("OPS_REPORT_GENERATED_AT_UTC=%s", report.GeneratedAt))
	return b.String()
}
