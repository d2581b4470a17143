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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/blnkfinance/outreach/database"
	"github.com/blnkfinance/outreach/internal/runerror"
	"github.com/blnkfinance/outreach/model"
)

const (
	NoWritePath      = "(no-write)"
	ReportFormatText = "text"
	ReportFormatJSON = "json"
)

type reportWindow struct {
	Name string
	Days int
}

// ReportWindows are the trailing windows every report covers, in output order.
var ReportWindows = []reportWindow{{Name: "7d", Days: 7}, {Name: "30d", Days: 30}}

// inferredBounceTokens mark a suppression reason as a bounce.
var inferredBounceTokens = []string{"abuse", "block", "bounce", "complaint", "hard", "invalid", "spam", "undeliver"}

var reportEventTypes = []model.EventType{
	model.EventDelivered,
	model.EventBounce,
	model.EventBounced,
	model.EventReplied,
	model.EventTrialStarted,
	model.EventConverted,
}

// ReportOptions are the resolved inputs of one ops report run.
type ReportOptions struct {
	CrmDB          string
	SuppressionCSV string
	OutputDir      string
	Format         string
	WindowDays     int
	DryRun         bool
	NoWrite        bool
}

// ReportResult is a computed report and where it was written.
type ReportResult struct {
	Report       *model.Report
	ArtifactPath string
	LatestPath   string
}

// ReportPaths returns the dated artifact path and the latest.json path under outputDir.
func ReportPaths(outputDir string, now time.Time) (string, string) {
	now = now.UTC()
	artifact := filepath.Join(outputDir, now.Format("2006-01-02"), fmt.Sprintf("ops_report_%sZ.json", now.Format("150405")))
	return artifact, filepath.Join(outputDir, "latest.json")
}

// ValidateReportFormat rejects output formats other than text and json.
func ValidateReportFormat(format string) error {
	if format == ReportFormatText || format == ReportFormatJSON {
		return nil
	}
	return runerror.NewRunError(runerror.ErrOpsReportWrite, runerror.KindInput,
		fmt.Sprintf("unsupported_format=%s", format), nil)
}

// OpenReportStore opens the store read-only. A missing file is ERR_OPS_CRM_REQUIRED.
func OpenReportStore(ctx context.Context, path string) (*database.Datasource, error) {
	ds, err := database.OpenReadOnly(ctx, path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, runerror.NewRunError(runerror.ErrOpsCRMRequired, runerror.KindSchema,
			fmt.Sprintf("missing_crm_db path=%s", path), err)
	}
	if err != nil {
		return nil, runerror.NewRunError(runerror.ErrOpsCRMRequired, runerror.KindSchema,
			fmt.Sprintf("open_failed path=%s err=%v", path, err), err)
	}
	return ds, nil
}

// OpsReport computes the windowed cohort report. The store is only read.
func (o *Outreach) OpsReport(ctx context.Context, opts ReportOptions) (*ReportResult, error) {
	ctx, span := otel.Tracer("Outreach").Start(ctx, "Ops report")
	defer span.End()
	start := time.Now()

	if opts.WindowDays < 1 {
		return nil, runerror.NewRunError(runerror.ErrOpsReportWindow, runerror.KindInput,
			fmt.Sprintf("value=%d", opts.WindowDays), nil)
	}

	if opts.Format == "" {
		opts.Format = ReportFormatText
	}
	if err := ValidateReportFormat(opts.Format); err != nil {
		return nil, err
	}

	missing, err := o.datasource.MissingTables(ctx, database.RequiredTables...)
	if err != nil {
		return nil, runerror.NewRunError(runerror.ErrOpsCRMSchema, runerror.KindSchema, err.Error(), err)
	}
	if len(missing) > 0 {
		return nil, runerror.NewRunError(runerror.ErrOpsCRMSchema, runerror.KindSchema,
			"missing_tables="+strings.Join(missing, ","), nil)
	}

	now := o.clock()
	report, err := o.buildReport(ctx, opts, now)
	if err != nil {
		return nil, err
	}

	result := &ReportResult{Report: report}
	result.ArtifactPath, result.LatestPath = ReportPaths(opts.OutputDir, now)
	report.JSONPath = NoWritePath
	if !opts.NoWrite {
		report.JSONPath = result.ArtifactPath
	}

	if err := ValidateReport(report); err != nil {
		return nil, runerror.NewRunError(runerror.ErrOpsReportWrite, runerror.KindOutput,
			fmt.Sprintf("schema_invalid err=%v", err), err)
	}

	if !opts.NoWrite {
		if err := writeArtifacts(report, result.ArtifactPath, result.LatestPath); err != nil {
			return nil, runerror.NewRunError(runerror.ErrOpsReportWrite, runerror.KindOutput,
				fmt.Sprintf("path=%s err=%v", result.ArtifactPath, err), err)
		}
		if !opts.DryRun {
			if err := o.backups.UploadArtifact(ctx, result.ArtifactPath); err != nil {
				logrus.Warnf("report artifact not uploaded: %v", err)
			}
		}
	}

	if !opts.DryRun && o.metrics != nil {
		for _, w := range ReportWindows {
			o.metrics.ObserveReportWindow(w.Name, totalsGauges(report.Windows[w.Name].Totals))
		}
		o.metrics.ObserveSuccess("ops-report", start)
		o.writeMetrics()
	}

	logrus.WithFields(logrus.Fields{"run_id": report.RunID, "notes": len(report.Notes)}).Info("ops report finished")
	return result, nil
}

func (o *Outreach) buildReport(ctx context.Context, opts ReportOptions, now time.Time) (*model.Report, error) {
	sents, err := o.datasource.ListSentEvents(ctx)
	if err != nil {
		return nil, err
	}
	events, err := o.datasource.GetEventsByType(ctx, reportEventTypes...)
	if err != nil {
		return nil, err
	}
	prospects, err := o.datasource.GetAllProspects(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := o.datasource.GetSuppressionEntries(ctx)
	if err != nil {
		return nil, err
	}

	notes := newNoteList()
	if opts.SuppressionCSV != "" {
		feed, err := LoadSuppressionFeed(ctx, opts.SuppressionCSV)
		if err != nil {
			logrus.Warnf("suppression csv unreadable: %v", err)
			notes.add("suppression_csv_unreadable")
		}
		entries = append(entries, feed...)
	}

	index := NewSentIndex(sents)
	in := cohortInput{
		now:         now,
		index:       index,
		resolver:    NewResolver(o.datasource, index, opts.WindowDays),
		events:      events,
		emails:      prospectEmails(prospects),
		suppression: entries,
	}
	windows := buildWindows(in, notes)

	return &model.Report{
		SchemaVersion: model.ReportSchemaVersion,
		RunID:         uuid.NewString(),
		GeneratedAt:   model.FormatTimestamp(now),
		Config: model.ReportConfig{
			CrmDB:                 opts.CrmDB,
			SuppressionCSV:        opts.SuppressionCSV,
			AttributionWindowDays: opts.WindowDays,
			Format:                opts.Format,
			DryRun:                opts.DryRun,
			NoWrite:               opts.NoWrite,
		},
		Windows:     windows,
		ListQuality: buildListQuality(prospects, now),
		Notes:       notes.list,
	}, nil
}

func prospectEmails(prospects []model.Prospect) map[string]string {
	out := make(map[string]string, len(prospects))
	for _, p := range prospects {
		out[strings.TrimSpace(p.ProspectID)] = model.NormalizeEmail(p.Email)
	}
	return out
}

type cohortInput struct {
	now         time.Time
	index       *SentIndex
	resolver    *Resolver
	events      []model.OutreachEvent
	emails      map[string]string
	suppression []model.SuppressionEntry
}

// noteList keeps report notes unique, in first-seen order.
type noteList struct {
	seen map[string]bool
	list []string
}

func newNoteList() *noteList {
	return &noteList{seen: make(map[string]bool), list: []string{}}
}

func (n *noteList) add(note string) {
	if n.seen[note] {
		return
	}
	n.seen[note] = true
	n.list = append(n.list, note)
}

func inWindow(ts, start, end time.Time) bool {
	if ts.IsZero() {
		return false
	}
	return !ts.Before(start) && !ts.After(end)
}

func isInferredBounceReason(reason string) bool {
	text := strings.ToLower(strings.TrimSpace(reason))
	if text == "" {
		return false
	}
	for _, token := range inferredBounceTokens {
		if strings.Contains(text, token) {
			return true
		}
	}
	return false
}

func buildWindows(in cohortInput, notes *noteList) map[string]model.WindowReport {
	starts := make(map[string]time.Time, len(ReportWindows))
	buckets := make(map[string]map[model.Cohort]*model.CohortCounts, len(ReportWindows))
	confirmed := make(map[string]map[string]bool, len(ReportWindows))
	for _, w := range ReportWindows {
		starts[w.Name] = in.now.Add(-time.Duration(w.Days) * 24 * time.Hour)
		buckets[w.Name] = make(map[model.Cohort]*model.CohortCounts)
		confirmed[w.Name] = make(map[string]bool)
	}
	bucket := func(window string, c model.Cohort) *model.CohortCounts {
		counts, ok := buckets[window][c]
		if !ok {
			counts = &model.CohortCounts{}
			buckets[window][c] = counts
		}
		return counts
	}

	for _, sent := range in.index.All() {
		for _, w := range ReportWindows {
			if inWindow(sent.Timestamp, starts[w.Name], in.now) {
				bucket(w.Name, model.NewCohort(sent.BatchID, sent.StateAtSend)).Sent++
			}
		}
	}

	var unattributedTypes []model.EventType
	unattributed := make(map[model.EventType]map[int64]bool)
	for _, ev := range in.events {
		if ev.Timestamp.IsZero() {
			continue
		}
		var (
			cohort   model.Cohort
			basis    CohortBasis
			resolved bool
		)
		for _, w := range ReportWindows {
			if !inWindow(ev.Timestamp, starts[w.Name], in.now) {
				continue
			}
			if !resolved {
				cohort, basis = in.resolver.ResolveEventCohort(ev)
				resolved = true
			}
			counts := bucket(w.Name, cohort)
			switch {
			case ev.EventType == model.EventDelivered:
				counts.DeliveredEvents++
			case ev.EventType.IsBounce():
				counts.BouncedConfirmed++
				email := model.NormalizeEmail(ev.Metadata.Email)
				if email == "" {
					email = in.emails[strings.TrimSpace(ev.ProspectID)]
				}
				if email != "" {
					confirmed[w.Name][email] = true
				}
			case ev.EventType.IsLifecycle():
				switch ev.EventType {
				case model.EventReplied:
					counts.Replied++
				case model.EventTrialStarted:
					counts.TrialStarted++
				case model.EventConverted:
					counts.Converted++
				}
				if basis == BasisUnknown {
					if unattributed[ev.EventType] == nil {
						unattributed[ev.EventType] = make(map[int64]bool)
						unattributedTypes = append(unattributedTypes, ev.EventType)
					}
					unattributed[ev.EventType][ev.EventID] = true
				}
			}
		}
	}
	for _, t := range unattributedTypes {
		notes.add(fmt.Sprintf("unattributed_%s_events=%d", t, len(unattributed[t])))
	}

	missingTS, badEmail := 0, 0
	inferred := make(map[string]map[string]bool, len(ReportWindows))
	for _, w := range ReportWindows {
		inferred[w.Name] = make(map[string]bool)
	}
	for _, entry := range in.suppression {
		email := model.NormalizeEmail(entry.Email)
		if email == "" {
			badEmail++
			continue
		}
		if !isInferredBounceReason(entry.Reason) {
			continue
		}
		if !entry.HasTimestamp || entry.Timestamp.IsZero() {
			missingTS++
			continue
		}
		for _, w := range ReportWindows {
			if !inWindow(entry.Timestamp, starts[w.Name], in.now) {
				continue
			}
			if confirmed[w.Name][email] || inferred[w.Name][email] {
				continue
			}
			bucket(w.Name, in.resolver.ResolveEmailCohort(email, entry.Timestamp)).BouncedInferred++
			inferred[w.Name][email] = true
		}
	}
	if missingTS > 0 {
		notes.add(fmt.Sprintf("suppression_rows_skipped_missing_ts=%d", missingTS))
	}
	if badEmail > 0 {
		notes.add(fmt.Sprintf("suppression_rows_skipped_bad_email=%d", badEmail))
	}

	out := make(map[string]model.WindowReport, len(ReportWindows))
	for _, w := range ReportWindows {
		report, fallback := summarizeWindow(buckets[w.Name])
		report.Days = w.Days
		report.WindowStartUTC = model.FormatTimestamp(starts[w.Name])
		report.WindowEndUTC = model.FormatTimestamp(in.now)
		if fallback > 0 {
			notes.add(fmt.Sprintf("%s_delivered_proxy_fallback_cohorts=%d", w.Name, fallback))
		}
		out[w.Name] = report
	}
	return out
}

// summarizeWindow turns raw tallies into sorted cohort rows and totals. It
// also returns how many cohorts fell back to sent as the delivered proxy.
func summarizeWindow(counts map[model.Cohort]*model.CohortCounts) (model.WindowReport, int) {
	cohorts := make([]model.Cohort, 0, len(counts))
	for c := range counts {
		cohorts = append(cohorts, c)
	}
	sort.Slice(cohorts, func(i, j int) bool {
		a, b := cohorts[i], cohorts[j]
		if a.IsUnknown() != b.IsUnknown() {
			return !a.IsUnknown()
		}
		if a.BatchID != b.BatchID {
			return a.BatchID < b.BatchID
		}
		return a.State < b.State
	})

	report := model.WindowReport{Cohorts: make([]model.CohortRow, 0, len(cohorts))}
	var totals model.CohortCounts
	proxyTotal, fallback := 0, 0
	for _, c := range cohorts {
		cc := *counts[c]
		metrics := CohortMetrics(cc)
		if cc.DeliveredEvents == 0 && cc.Sent > 0 {
			fallback++
		}
		report.Cohorts = append(report.Cohorts, model.CohortRow{BatchID: c.BatchID, StateAtSend: c.State, CohortMetrics: metrics})

		proxyTotal += metrics.DeliveredProxy
		totals.Sent += cc.Sent
		totals.DeliveredEvents += cc.DeliveredEvents
		totals.BouncedConfirmed += cc.BouncedConfirmed
		totals.BouncedInferred += cc.BouncedInferred
		totals.Replied += cc.Replied
		totals.TrialStarted += cc.TrialStarted
		totals.Converted += cc.Converted
	}
	report.Totals = metricsWithProxy(totals, proxyTotal)
	return report, fallback
}

// CohortMetrics derives the published counts and rates of one cohort. The
// delivered proxy is delivered_events when any were recorded, else sent.
func CohortMetrics(c model.CohortCounts) model.CohortMetrics {
	proxy := c.DeliveredEvents
	if proxy == 0 {
		proxy = c.Sent
	}
	return metricsWithProxy(c, proxy)
}

func metricsWithProxy(c model.CohortCounts, proxy int) model.CohortMetrics {
	bouncedTotal := c.BouncedConfirmed + c.BouncedInferred
	return model.CohortMetrics{
		Sent:             c.Sent,
		DeliveredEvents:  c.DeliveredEvents,
		DeliveredProxy:   proxy,
		BouncedConfirmed: c.BouncedConfirmed,
		BouncedInferred:  c.BouncedInferred,
		BouncedTotal:     bouncedTotal,
		Replied:          c.Replied,
		TrialStarted:     c.TrialStarted,
		Converted:        c.Converted,
		ReplyRate:        rate(c.Replied, proxy),
		TrialStartedRate: rate(c.TrialStarted, proxy),
		ConvertedRate:    rate(c.Converted, proxy),
		BounceRateTotal:  rate(bouncedTotal, proxy),
	}
}

// rate is n/d rounded to four places, or 0 when d is 0.
func rate(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return decimal.NewFromInt(int64(n)).DivRound(decimal.NewFromInt(int64(d)), 4).InexactFloat64()
}

func totalsGauges(t model.CohortMetrics) map[string]float64 {
	return map[string]float64{
		"sent":              float64(t.Sent),
		"delivered_proxy":   float64(t.DeliveredProxy),
		"bounced_total":     float64(t.BouncedTotal),
		"replied":           float64(t.Replied),
		"trial_started":     float64(t.TrialStarted),
		"converted":         float64(t.Converted),
		"reply_rate":        t.ReplyRate,
		"bounce_rate_total": t.BounceRateTotal,
	}
}

func writeArtifacts(report *model.Report, artifactPath, latestPath string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	for _, path := range []string{artifactPath, latestPath} {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return err
		}
	}
	return nil
}
