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
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/blnkfinance/outreach/database"
	"github.com/blnkfinance/outreach/internal/lock"
	"github.com/blnkfinance/outreach/internal/runerror"
	"github.com/blnkfinance/outreach/model"
)

// CaptureOptions are the resolved inputs of one capture sync run.
type CaptureOptions struct {
	TriageLog      string
	SuppressionCSV string
	WindowDays     int
	DryRun         bool
}

// CaptureSummary counts what a run did. Every row lands in exactly one of
// unmapped (rows_seen minus the rest), duplicates_skipped, unattributed_skipped,
// rows_failed or rows_mapped.
type CaptureSummary struct {
	RunID               string
	RowsSeen            int
	RowsMapped          int
	EventsWritten       int
	SuppressionUpserts  int
	DuplicatesSkipped   int
	UnattributedSkipped int
	RowsFailed          int
}

// Counters returns the summary keyed by the names printed on the PASS line.
func (s CaptureSummary) Counters() map[string]int {
	return map[string]int{
		"rows_seen":            s.RowsSeen,
		"rows_mapped":          s.RowsMapped,
		"events_written":       s.EventsWritten,
		"suppression_upserts":  s.SuppressionUpserts,
		"duplicates_skipped":   s.DuplicatesSkipped,
		"unattributed_skipped": s.UnattributedSkipped,
		"rows_failed":          s.RowsFailed,
	}
}

// captureRun holds the state shared by the rows of one run.
type captureRun struct {
	tx       database.Transaction
	resolver *Resolver
	sink     SuppressionSink
	evidence map[string]string
	now      time.Time
	summary  *CaptureSummary
}

// CaptureSync applies the triage feed to the store in a single transaction.
// A dry run executes the same writes and rolls them back, so its counters
// match what an apply would report.
func (o *Outreach) CaptureSync(ctx context.Context, opts CaptureOptions) (*CaptureSummary, error) {
	ctx, span := otel.Tracer("Outreach").Start(ctx, "Capture sync")
	defer span.End()
	start := time.Now()

	if opts.WindowDays < 1 {
		return nil, runerror.NewRunError(runerror.ErrCaptureSyncWindow, runerror.KindInput,
			fmt.Sprintf("value=%d", opts.WindowDays), nil)
	}

	signals, err := LoadTriageFeed(ctx, opts.TriageLog)
	if err != nil {
		return nil, runerror.NewRunError(runerror.ErrCaptureSyncTriageUnreadable, runerror.KindInput,
			fmt.Sprintf("path=%s err=%v", opts.TriageLog, err), err)
	}
	evidence, err := LoadSuppressionEvidence(ctx, opts.SuppressionCSV)
	if err != nil {
		return nil, runerror.NewRunError(runerror.ErrCaptureSyncSuppressionUnreadable, runerror.KindInput,
			fmt.Sprintf("path=%s err=%v", opts.SuppressionCSV, err), err)
	}

	if o.runLock != nil {
		if err := o.runLock.Acquire(ctx, o.lockTTL()); err != nil {
			kind, message := runerror.KindInternal, err.Error()
			if errors.Is(err, lock.ErrHeld) {
				kind, message = runerror.KindLock, o.lockHeldMessage(ctx, err)
			}
			return nil, runerror.NewRunError(runerror.ErrCaptureSyncLocked, kind, message, err)
		}
		defer func() {
			if err := o.runLock.Release(context.Background()); err != nil {
				logrus.Warnf("run lock not released: %v", err)
			}
		}()
	}

	if !opts.DryRun && o.backups.Enabled() {
		if _, err := o.backups.BackupToS3(ctx, o.datasource); err != nil {
			return nil, runerror.NewRunError(runerror.ErrCaptureSyncCRM, runerror.KindTransaction,
				fmt.Sprintf("snapshot_failed err=%v", err), err)
		}
	}

	summary := &CaptureSummary{RunID: uuid.NewString()}
	logger := logrus.WithFields(logrus.Fields{"run_id": summary.RunID, "dry_run": opts.DryRun})

	tx, err := o.datasource.Begin(ctx)
	if err != nil {
		return nil, runerror.NewRunError(runerror.ErrCaptureSyncCRM, runerror.KindTransaction,
			fmt.Sprintf("open_failed err=%v", err), err)
	}

	sink, mirror := o.suppressionSinks(tx, opts)
	run, err := o.newCaptureRun(ctx, tx, sink, evidence, opts.WindowDays, summary)
	if err == nil {
		for _, signal := range signals {
			if err = run.apply(ctx, signal); err != nil {
				break
			}
		}
	}
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Errorf("rollback failed: %v", rbErr)
		}
		return nil, runerror.NewRunError(runerror.ErrCaptureSyncCRM, runerror.KindTransaction,
			fmt.Sprintf("sync_failed err=%v", err), err)
	}

	if opts.DryRun {
		if err := tx.Rollback(); err != nil {
			return nil, runerror.NewRunError(runerror.ErrCaptureSyncCRM, runerror.KindTransaction,
				fmt.Sprintf("rollback_failed err=%v", err), err)
		}
	} else {
		if err := tx.Commit(); err != nil {
			return nil, runerror.NewRunError(runerror.ErrCaptureSyncCRM, runerror.KindTransaction,
				fmt.Sprintf("sync_failed err=%v", err), err)
		}
		if mirror != nil {
			if err := mirror.Flush(ctx); err != nil {
				logger.Warnf("suppression csv mirror not updated: %v", err)
			}
		}
	}

	logger.WithFields(logrus.Fields{
		"rows_seen":            summary.RowsSeen,
		"rows_mapped":          summary.RowsMapped,
		"duplicates_skipped":   summary.DuplicatesSkipped,
		"unattributed_skipped": summary.UnattributedSkipped,
		"rows_failed":          summary.RowsFailed,
	}).Info("capture sync finished")

	if !opts.DryRun && o.metrics != nil {
		o.metrics.ObserveCapture(summary.Counters())
		o.metrics.ObserveSuccess("capture-sync", start)
		o.writeMetrics()
	}
	return summary, nil
}

// lockHeldMessage names the key and the run holding it when the lock can tell.
func (o *Outreach) lockHeldMessage(ctx context.Context, err error) string {
	owner, ok := o.runLock.(lockOwner)
	if !ok {
		return err.Error()
	}
	holder, herr := owner.Holder(ctx)
	if herr != nil || holder == "" {
		return fmt.Sprintf("lock_held key=%s", owner.Key())
	}
	return fmt.Sprintf("lock_held key=%s holder=%s", owner.Key(), holder)
}

func (o *Outreach) lockTTL() time.Duration {
	if o.config == nil || o.config.Lock.TTLSeconds < 1 {
		return 15 * time.Minute
	}
	return time.Duration(o.config.Lock.TTLSeconds) * time.Second
}

// suppressionSinks always writes through the transaction and, when enabled,
// mirrors into the suppression csv once the run commits.
func (o *Outreach) suppressionSinks(tx database.Transaction, opts CaptureOptions) (SuppressionSink, Flusher) {
	store := NewStoreSuppressionSink(tx)
	if o.config == nil || !o.config.Feeds.MirrorSuppressionCSV || opts.SuppressionCSV == "" {
		return store, nil
	}
	multi := multiSuppressionSink{store, NewCSVSuppressionSink(opts.SuppressionCSV)}
	return multi, multi
}

func (o *Outreach) newCaptureRun(ctx context.Context, tx database.Transaction, sink SuppressionSink,
	evidence map[string]string, windowDays int, summary *CaptureSummary) (*captureRun, error) {
	sents, err := tx.ListSentEvents(ctx)
	if err != nil {
		return nil, err
	}
	return &captureRun{
		tx:       tx,
		resolver: NewResolver(tx, NewSentIndex(sents), windowDays),
		sink:     sink,
		evidence: evidence,
		now:      o.clock(),
		summary:  summary,
	}, nil
}

// apply processes one triage row. Lookup failures are counted against the
// row; write failures are returned and abort the run.
func (r *captureRun) apply(ctx context.Context, signal model.InboundSignal) error {
	r.summary.RowsSeen++

	category := ParseCategory(signal.Category)
	transition, ok := category.Transition()
	if !ok {
		logrus.WithField("category", signal.Category).Debug("unmapped triage category skipped")
		return nil
	}

	at, ok := model.ParseTimestamp(signal.RawTimestamp)
	if !ok {
		at = r.now
	}

	matchedEmail := model.NormalizeEmail(signal.FromEmail)
	if category.UsesSuppressionEvidence() {
		if email := model.NormalizeEmail(r.evidence[signal.InboundMessageID]); email != "" {
			matchedEmail = email
		}
	}

	captureKey := model.CaptureKey(signal.InboundMessageID, string(transition.EventType), matchedEmail,
		signal.RawTimestamp, CaptureSource)
	exists, err := r.tx.CaptureKeyExists(ctx, captureKey)
	if err != nil {
		r.rowFailed(signal, err)
		return nil
	}
	if exists {
		r.summary.DuplicatesSkipped++
		return nil
	}

	attr, err := r.resolver.ResolveSignal(ctx, signal.InboundMessageID, matchedEmail, at)
	if err != nil {
		r.rowFailed(signal, err)
		return nil
	}

	if !attr.Resolved() {
		r.summary.UnattributedSkipped++
		if transition.SuppressionWorthy() && matchedEmail != "" {
			return r.suppress(ctx, matchedEmail, transition, signal, at)
		}
		return nil
	}

	if attr.Email != "" {
		matchedEmail = attr.Email
	}
	method := attr.Model
	if method == "" {
		method = ModelUnknown
	}

	event := &model.OutreachEvent{
		ProspectID:  attr.ProspectID,
		Timestamp:   at,
		EventType:   transition.EventType,
		BatchID:     attr.BatchID,
		Metadata:    eventMetadata(captureKey, signal, category, matchedEmail, method),
		Attribution: attr.Persisted(),
	}
	if _, err := r.tx.AppendEvent(ctx, event); err != nil {
		return err
	}
	if err := r.tx.UpdateProspectStatus(ctx, attr.ProspectID, transition.NextStatus); err != nil {
		return err
	}
	r.summary.RowsMapped++
	r.summary.EventsWritten++

	if transition.SuppressionWorthy() && matchedEmail != "" {
		return r.suppress(ctx, matchedEmail, transition, signal, at)
	}
	return nil
}

func (r *captureRun) suppress(ctx context.Context, email string, transition Transition, signal model.InboundSignal, at time.Time) error {
	err := r.sink.Upsert(ctx, model.SuppressionEntry{
		Email:         email,
		Reason:        transition.NextStatus,
		Timestamp:     at,
		Source:        CaptureSource,
		EvidenceMsgID: signal.InboundMessageID,
		HasTimestamp:  true,
	})
	if err != nil {
		return err
	}
	r.summary.SuppressionUpserts++
	return nil
}

func (r *captureRun) rowFailed(signal model.InboundSignal, err error) {
	r.summary.RowsFailed++
	logrus.WithFields(logrus.Fields{
		"message_id": signal.InboundMessageID,
		"category":   signal.Category,
	}).Debugf("triage row failed: %v", err)
}

func eventMetadata(captureKey string, signal model.InboundSignal, category Category, matchedEmail string, m AttributionModel) model.EventMetadata {
	return model.EventMetadata{
		Source:            CaptureSource,
		CaptureKey:        captureKey,
		InboundMessageID:  signal.InboundMessageID,
		TriageCategory:    string(category),
		TriageAction:      signal.Action,
		MatchedEmail:      matchedEmail,
		AttributionMethod: string(m),
	}
}
