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

package model

import "strings"

const ReportSchemaVersion = "v1"

// Cohort is the (batch, state) bucket events are attributed to for reporting.
type Cohort struct {
	BatchID string
	State   string
}

// UnknownCohort collects everything that could not be attributed.
var UnknownCohort = Cohort{BatchID: UnknownBatch, State: UnknownState}

// NewCohort normalizes a batch/state pair. An empty batch becomes UNKNOWN and a
// state that is not exactly two uppercase letters becomes UNKNOWN.
func NewCohort(batchID, state string) Cohort {
	batch := strings.TrimSpace(batchID)
	if batch == "" {
		batch = UnknownBatch
	}
	st := strings.TrimSpace(state)
	if !IsTwoLetterState(st) {
		st = UnknownState
	}
	return Cohort{BatchID: batch, State: st}
}

func (c Cohort) IsUnknown() bool {
	return c == UnknownCohort
}

// CohortCounts are the raw per-cohort tallies of one window.
type CohortCounts struct {
	Sent             int
	DeliveredEvents  int
	BouncedConfirmed int
	BouncedInferred  int
	Replied          int
	TrialStarted     int
	Converted        int
}

// CohortMetrics are the published counts and rates of a cohort or a window total.
type CohortMetrics struct {
	Sent             int     `json:"sent"`
	DeliveredEvents  int     `json:"delivered_events"`
	DeliveredProxy   int     `json:"delivered_proxy"`
	BouncedConfirmed int     `json:"bounced_confirmed"`
	BouncedInferred  int     `json:"bounced_inferred"`
	BouncedTotal     int     `json:"bounced_total"`
	Replied          int     `json:"replied"`
	TrialStarted     int     `json:"trial_started"`
	Converted        int     `json:"converted"`
	ReplyRate        float64 `json:"reply_rate"`
	TrialStartedRate float64 `json:"trial_started_rate"`
	ConvertedRate    float64 `json:"converted_rate"`
	BounceRateTotal  float64 `json:"bounce_rate_total"`
}

type CohortRow struct {
	BatchID     string `json:"batch_id"`
	StateAtSend string `json:"state_at_send"`
	CohortMetrics
}

type WindowReport struct {
	Days           int           `json:"days"`
	WindowStartUTC string        `json:"window_start_utc"`
	WindowEndUTC   string        `json:"window_end_utc"`
	Cohorts        []CohortRow   `json:"cohorts"`
	Totals         CohortMetrics `json:"totals"`
}

type ListQuality struct {
	NewProspectsCount      int     `json:"new_prospects_count"`
	ValidEmailFormatPct    float64 `json:"valid_email_format_pct"`
	DuplicateDomainRows    int     `json:"duplicate_domain_rows"`
	DuplicateDomainPct     float64 `json:"duplicate_domain_pct"`
	RoleBasedInboxSharePct float64 `json:"role_based_inbox_share_pct"`
}

type ReportConfig struct {
	CrmDB                 string `json:"crm_db"`
	SuppressionCSV        string `json:"suppression_csv"`
	AttributionWindowDays int    `json:"attribution_window_days"`
	Format                string `json:"format"`
	DryRun                bool   `json:"dry_run"`
	NoWrite               bool   `json:"no_write"`
}

// Report is the versioned ops report artifact.
type Report struct {
	SchemaVersion string                  `json:"schema_version"`
	RunID         string                  `json:"run_id"`
	GeneratedAt   string                  `json:"generated_at"`
	Config        ReportConfig            `json:"config"`
	Windows       map[string]WindowReport `json:"windows"`
	ListQuality   map[string]ListQuality  `json:"list_quality"`
	Notes         []string                `json:"notes"`
	JSONPath      string                  `json:"json_path"`
}
