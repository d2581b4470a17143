package outreach

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/outreach/config"
	"github.com/blnkfinance/outreach/database/mocks"
	"github.com/blnkfinance/outreach/internal/files"
	"github.com/blnkfinance/outreach/internal/lock"
	"github.com/blnkfinance/outreach/internal/runerror"
	"github.com/blnkfinance/outreach/model"
)

type fakeLocker struct {
	acquireErr error
	acquired   bool
	released   bool
}

func (f *fakeLocker) Acquire(_ context.Context, _ time.Duration) error {
	if f.acquireErr != nil {
		return f.acquireErr
	}
	f.acquired = true
	return nil
}

func (f *fakeLocker) Release(_ context.Context) error {
	f.released = true
	return nil
}

func captureOptions(dir, triage string) CaptureOptions {
	return CaptureOptions{
		TriageLog:      triage,
		SuppressionCSV: filepath.Join(dir, "suppression.csv"),
		WindowDays:     30,
	}
}

func TestCaptureSync_ReplyAttributedByMessageID(t *testing.T) {
	o, ds := newTestOutreach(t)
	ctx := context.Background()
	dir := t.TempDir()

	addProspect(t, ds, "p1", "owner@x.com")
	sendID := addSent(t, ds, "p1", testNow.Add(-48*time.Hour), "2026-02-01_TX", "<m1>", "TX")
	replyAt := testNow.Add(-24 * time.Hour)
	triage := writeCSV(t, filepath.Join(dir, "triage.csv"), triageHeader,
		triageRow(replyAt, "<m1>", "Owner@X.com", "hot_interest"))

	summary, err := o.CaptureSync(ctx, captureOptions(dir, triage))
	require.NoError(t, err)
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, map[string]int{
		"rows_seen":            1,
		"rows_mapped":          1,
		"events_written":       1,
		"suppression_upserts":  0,
		"duplicates_skipped":   0,
		"unattributed_skipped": 0,
		"rows_failed":          0,
	}, summary.Counters())

	events, err := ds.GetEventsByType(ctx, model.EventReplied)
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, "p1", ev.ProspectID)
	assert.True(t, ev.Timestamp.Equal(replyAt))
	assert.Equal(t, "2026-02-01_TX", ev.BatchID)
	assert.Equal(t, sendID, ev.Attribution.SendEvent())
	assert.Equal(t, "2026-02-01_TX", ev.Attribution.Batch())
	assert.Equal(t, "TX", ev.Attribution.State())
	assert.Equal(t, string(ModelMessageID), ev.Attribution.ModelName())

	assert.Equal(t, CaptureSource, ev.Metadata.Source)
	assert.Equal(t, "<m1>", ev.Metadata.InboundMessageID)
	assert.Equal(t, "hot_interest", ev.Metadata.TriageCategory)
	assert.Equal(t, "owner@x.com", ev.Metadata.MatchedEmail)
	assert.Equal(t, string(ModelMessageID), ev.Metadata.AttributionMethod)
	assert.Equal(t, model.CaptureKey("<m1>", "replied", "owner@x.com", model.FormatTimestamp(replyAt), CaptureSource),
		ev.Metadata.CaptureKey)

	prospect, err := ds.GetProspectByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusReplied, prospect.Status)
}

func TestCaptureSync_ReplayIsIdempotent(t *testing.T) {
	o, ds := newTestOutreach(t)
	ctx := context.Background()
	dir := t.TempDir()

	addProspect(t, ds, "p1", "owner@x.com")
	addSent(t, ds, "p1", testNow.Add(-48*time.Hour), "2026-02-01_TX", "<m1>", "TX")
	triage := writeCSV(t, filepath.Join(dir, "triage.csv"), triageHeader,
		triageRow(testNow.Add(-24*time.Hour), "<m1>", "owner@x.com", "hot_interest"))
	opts := captureOptions(dir, triage)

	_, err := o.CaptureSync(ctx, opts)
	require.NoError(t, err)

	summary, err := o.CaptureSync(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.RowsSeen)
	assert.Equal(t, 1, summary.DuplicatesSkipped)
	assert.Equal(t, 0, summary.RowsMapped)
	assert.Equal(t, 0, summary.EventsWritten)

	events, err := ds.GetEventsByType(ctx, model.EventReplied)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestCaptureSync_PersistedLinkageSurvivesNewerSends(t *testing.T) {
	o, ds := newTestOutreach(t)
	ctx := context.Background()
	dir := t.TempDir()

	addProspect(t, ds, "p1", "owner@x.com")
	sendID := addSent(t, ds, "p1", testNow.Add(-48*time.Hour), "2026-02-01_TX", "<m1>", "TX")
	first := writeCSV(t, filepath.Join(dir, "triage.csv"), triageHeader,
		triageRow(testNow.Add(-24*time.Hour), "<m1>", "owner@x.com", "hot_interest"))
	_, err := o.CaptureSync(ctx, captureOptions(dir, first))
	require.NoError(t, err)

	// A later send must not steal the thread that was already linked.
	addSent(t, ds, "p1", testNow.Add(-2*time.Hour), "2026-02-10_OK", "<m2>", "OK")
	second := writeCSV(t, filepath.Join(dir, "triage2.csv"), triageHeader,
		triageRow(testNow.Add(-1*time.Hour), "<m1>", "owner@x.com", "unsubscribe"))

	summary, err := o.CaptureSync(ctx, captureOptions(dir, second))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.RowsMapped)
	assert.Equal(t, 1, summary.SuppressionUpserts)

	events, err := ds.GetEventsByType(ctx, model.EventDoNotContact)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, string(ModelPersistedLinkage), events[0].Attribution.ModelName())
	assert.Equal(t, sendID, events[0].Attribution.SendEvent())
	assert.Equal(t, "2026-02-01_TX", events[0].Attribution.Batch())
	assert.Equal(t, "TX", events[0].Attribution.State())

	prospect, err := ds.GetProspectByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDoNotContact, prospect.Status)
}

func TestCaptureSync_UnattributedRows(t *testing.T) {
	o, ds := newTestOutreach(t)
	ctx := context.Background()
	dir := t.TempDir()

	triage := writeCSV(t, filepath.Join(dir, "triage.csv"), triageHeader,
		triageRow(testNow.Add(-3*time.Hour), "<u1>", "stranger@y.com", "unsubscribe"),
		triageRow(testNow.Add(-2*time.Hour), "<u2>", "nobody@y.com", "hot_interest"),
	)

	summary, err := o.CaptureSync(ctx, captureOptions(dir, triage))
	require.NoError(t, err)
	assert.Equal(t, 2, summary.RowsSeen)
	assert.Equal(t, 2, summary.UnattributedSkipped)
	assert.Equal(t, 1, summary.SuppressionUpserts)
	assert.Equal(t, 0, summary.RowsMapped)

	entries, err := ds.GetSuppressionEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "stranger@y.com", entries[0].Email)
	assert.Equal(t, model.StatusDoNotContact, entries[0].Reason)
	assert.Equal(t, CaptureSource, entries[0].Source)
	assert.True(t, entries[0].Timestamp.Equal(testNow.Add(-3*time.Hour)))
}

func TestCaptureSync_BounceUsesSuppressionEvidence(t *testing.T) {
	o, ds := newTestOutreach(t)
	ctx := context.Background()
	dir := t.TempDir()

	addProspect(t, ds, "p1", "owner@x.com")
	addSent(t, ds, "p1", testNow.Add(-48*time.Hour), "2026-02-01_TX", "<m1>", "TX")
	writeCSV(t, filepath.Join(dir, "suppression.csv"),
		[]string{"email", "reason", "timestamp", "evidence_msg_id"},
		[]string{"Owner@x.com", "hard_bounce", model.FormatTimestamp(testNow.Add(-time.Hour)), "<b1>"},
	)
	triage := writeCSV(t, filepath.Join(dir, "triage.csv"), triageHeader,
		triageRow(testNow.Add(-time.Hour), "<b1>", "mailer-daemon@mail.x.com", "bounce"))

	summary, err := o.CaptureSync(ctx, captureOptions(dir, triage))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.RowsMapped)
	assert.Equal(t, 1, summary.SuppressionUpserts)

	events, err := ds.GetEventsByType(ctx, model.EventBounced)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "owner@x.com", events[0].Metadata.MatchedEmail)
	assert.Equal(t, string(ModelLastTouchWindow), events[0].Attribution.ModelName())
	assert.Equal(t, "2026-02-01_TX", events[0].Attribution.Batch())

	prospect, err := ds.GetProspectByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusBounced, prospect.Status)

	entries, err := ds.GetSuppressionEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "owner@x.com", entries[0].Email)
	assert.Equal(t, model.StatusBounced, entries[0].Reason)
}

func TestCaptureSync_MirrorsSuppressionCSV(t *testing.T) {
	o, ds := newTestOutreach(t)
	o.config.Feeds.MirrorSuppressionCSV = true
	ctx := context.Background()
	dir := t.TempDir()

	addProspect(t, ds, "p1", "owner@x.com")
	addSent(t, ds, "p1", testNow.Add(-48*time.Hour), "2026-02-01_TX", "<m1>", "TX")
	suppressionCSV := writeCSV(t, filepath.Join(dir, "suppression.csv"),
		[]string{"email", "reason", "timestamp"},
		[]string{"other@z.com", "spam_complaint", "2026-01-05T00:00:00Z"},
	)
	triage := writeCSV(t, filepath.Join(dir, "triage.csv"), triageHeader,
		triageRow(testNow.Add(-time.Hour), "<u2>", "owner@x.com", "unsubscribe"))

	_, err := o.CaptureSync(ctx, captureOptions(dir, triage))
	require.NoError(t, err)

	table, err := files.ReadTable(ctx, suppressionCSV)
	require.NoError(t, err)
	assert.Equal(t, []string{"email", "reason", "timestamp", "source", "evidence_msg_id"}, table.Headers)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, "other@z.com", table.Rows[0].Get("email"))
	assert.Equal(t, "spam_complaint", table.Rows[0].Get("reason"))
	assert.Equal(t, "owner@x.com", table.Rows[1].Get("email"))
	assert.Equal(t, model.StatusDoNotContact, table.Rows[1].Get("reason"))
	assert.Equal(t, CaptureSource, table.Rows[1].Get("source"))
	assert.Equal(t, "<u2>", table.Rows[1].Get("evidence_msg_id"))
}

func TestCaptureSync_DryRunRollsBack(t *testing.T) {
	o, ds := newTestOutreach(t)
	o.config.Feeds.MirrorSuppressionCSV = true
	ctx := context.Background()
	dir := t.TempDir()

	addProspect(t, ds, "p1", "owner@x.com")
	addSent(t, ds, "p1", testNow.Add(-48*time.Hour), "2026-02-01_TX", "<m1>", "TX")
	triage := writeCSV(t, filepath.Join(dir, "triage.csv"), triageHeader,
		triageRow(testNow.Add(-24*time.Hour), "<m1>", "owner@x.com", "hot_interest"),
		triageRow(testNow.Add(-23*time.Hour), "<u1>", "stranger@y.com", "objection"),
	)
	opts := captureOptions(dir, triage)
	opts.DryRun = true

	summary, err := o.CaptureSync(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.RowsMapped)
	assert.Equal(t, 1, summary.EventsWritten)
	assert.Equal(t, 1, summary.SuppressionUpserts)

	events, err := ds.GetEventsByType(ctx, model.EventReplied)
	require.NoError(t, err)
	assert.Empty(t, events)
	entries, err := ds.GetSuppressionEntries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
	prospect, err := ds.GetProspectByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusNew, prospect.Status)
	assert.NoFileExists(t, opts.SuppressionCSV)

	opts.DryRun = false
	applied, err := o.CaptureSync(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, summary.Counters(), applied.Counters())
}

func TestCaptureSync_LastTouchWindow(t *testing.T) {
	tests := []struct {
		name       string
		windowDays int
		wantModel  AttributionModel
		wantBatch  string
	}{
		{name: "send outside window falls back to email", windowDays: 30, wantModel: ModelEmailDirect, wantBatch: ""},
		{name: "send inside window", windowDays: 60, wantModel: ModelLastTouchWindow, wantBatch: "2026-01-01_CA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, ds := newTestOutreach(t)
			ctx := context.Background()
			dir := t.TempDir()

			addProspect(t, ds, "p2", "late@x.com")
			addSent(t, ds, "p2", testNow.Add(-40*24*time.Hour), "2026-01-01_CA", "<old>", "")
			triage := writeCSV(t, filepath.Join(dir, "triage.csv"), triageHeader,
				triageRow(testNow.Add(-time.Hour), "<r9>", "late@x.com", "question"))
			opts := captureOptions(dir, triage)
			opts.WindowDays = tt.windowDays

			summary, err := o.CaptureSync(ctx, opts)
			require.NoError(t, err)
			assert.Equal(t, 1, summary.RowsMapped)

			events, err := ds.GetEventsByType(ctx, model.EventReplied)
			require.NoError(t, err)
			require.Len(t, events, 1)
			assert.Equal(t, string(tt.wantModel), events[0].Attribution.ModelName())
			assert.Equal(t, tt.wantBatch, events[0].Attribution.Batch())
			if tt.wantModel == ModelEmailDirect {
				assert.Nil(t, events[0].Attribution.SendEventID)
			}
		})
	}
}

func TestCaptureSync_RowsThatAreNotMapped(t *testing.T) {
	o, ds := newTestOutreach(t)
	ctx := context.Background()
	dir := t.TempDir()

	addProspect(t, ds, "p1", "owner@x.com")
	addSent(t, ds, "p1", testNow.Add(-48*time.Hour), "2026-02-01_TX", "<m1>", "TX")
	triage := writeCSV(t, filepath.Join(dir, "triage.csv"), triageHeader,
		triageRow(testNow.Add(-time.Hour), "<o1>", "owner@x.com", "out_of_office"),
		[]string{"not a time", "<q1>", "owner@x.com", "Pricing?", " Question ", "review"},
	)

	summary, err := o.CaptureSync(ctx, captureOptions(dir, triage))
	require.NoError(t, err)
	assert.Equal(t, 2, summary.RowsSeen)
	assert.Equal(t, 1, summary.RowsMapped)

	events, err := ds.GetEventsByType(ctx, model.EventReplied)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].Timestamp.Equal(testNow))
	assert.Equal(t, "question", events[0].Metadata.TriageCategory)
	assert.Equal(t, string(ModelLastTouchWindow), events[0].Attribution.ModelName())
}

func TestCaptureSync_MissingTriageLogIsEmpty(t *testing.T) {
	o, _ := newTestOutreach(t)
	dir := t.TempDir()

	summary, err := o.CaptureSync(context.Background(), captureOptions(dir, filepath.Join(dir, "absent.csv")))
	require.NoError(t, err)
	assert.Equal(t, 0, summary.RowsSeen)
}

func TestCaptureSync_InvalidWindow(t *testing.T) {
	o, _ := newTestOutreach(t)
	dir := t.TempDir()
	opts := captureOptions(dir, filepath.Join(dir, "triage.csv"))
	opts.WindowDays = 0

	_, err := o.CaptureSync(context.Background(), opts)
	require.Error(t, err)
	assert.Equal(t, runerror.ErrCaptureSyncWindow, runerror.Code(err))
	assert.Equal(t, runerror.ExitFatal, runerror.ExitCode(err))
	assert.Contains(t, err.Error(), "value=0")
}

func TestCaptureSync_RunLock(t *testing.T) {
	t.Run("held by another run", func(t *testing.T) {
		o, ds := newTestOutreach(t)
		locker := &fakeLocker{acquireErr: fmt.Errorf("%w: outreach:capture-sync", lock.ErrHeld)}
		o.WithRunLock(locker)
		dir := t.TempDir()

		_, err := o.CaptureSync(context.Background(), captureOptions(dir, filepath.Join(dir, "triage.csv")))
		require.Error(t, err)
		runErr, ok := runerror.As(err)
		require.True(t, ok)
		assert.Equal(t, runerror.ErrCaptureSyncLocked, runErr.Code)
		assert.Equal(t, runerror.KindLock, runErr.Kind)
		assert.False(t, locker.released)

		events, err := ds.GetEventsByProspect(context.Background(), "p1")
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("held lock names its holder", func(t *testing.T) {
		o, _ := newTestOutreach(t)
		mr := miniredis.RunT(t)
		require.NoError(t, mr.Set(config.DEFAULT_CAPTURE_SYNC_LOCK_NAME, "worker-2:run-9"))
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		o.WithRunLock(lock.NewRunLock(client, config.DEFAULT_CAPTURE_SYNC_LOCK_NAME, "worker-1:run-1"))
		dir := t.TempDir()

		_, err := o.CaptureSync(context.Background(), captureOptions(dir, filepath.Join(dir, "triage.csv")))
		require.Error(t, err)
		runErr, ok := runerror.As(err)
		require.True(t, ok)
		assert.Equal(t, runerror.ErrCaptureSyncLocked, runErr.Code)
		assert.Equal(t, runerror.KindLock, runErr.Kind)
		assert.Equal(t, "lock_held key=outreach:capture_sync holder=worker-2:run-9", runErr.Message)
		assert.Equal(t, runerror.ExitFatal, runerror.ExitCode(err))

		holder, err := mr.Get(config.DEFAULT_CAPTURE_SYNC_LOCK_NAME)
		require.NoError(t, err)
		assert.Equal(t, "worker-2:run-9", holder)
	})

	t.Run("released after the run", func(t *testing.T) {
		o, _ := newTestOutreach(t)
		locker := &fakeLocker{}
		o.WithRunLock(locker)
		dir := t.TempDir()

		_, err := o.CaptureSync(context.Background(), captureOptions(dir, filepath.Join(dir, "triage.csv")))
		require.NoError(t, err)
		assert.True(t, locker.acquired)
		assert.True(t, locker.released)
	})
}

func newMockOutreach(ds *mocks.MockDataSource) *Outreach {
	return &Outreach{
		datasource: ds,
		config:     &config.Configuration{Attribution: config.AttributionConfig{WindowDays: 30}},
		now:        func() time.Time { return testNow },
	}
}

func TestCaptureSync_WriteFailureRollsBack(t *testing.T) {
	ds := new(mocks.MockDataSource)
	tx := new(mocks.MockTransaction)
	dir := t.TempDir()
	triage := writeCSV(t, filepath.Join(dir, "triage.csv"), triageHeader,
		triageRow(testNow.Add(-time.Hour), "<m1>", "owner@x.com", "hot_interest"))

	ds.On("Begin", mock.Anything).Return(tx, nil)
	tx.On("ListSentEvents", mock.Anything).Return([]model.SentEvent{{
		EventID: 7, ProspectID: "p1", Timestamp: testNow.Add(-48 * time.Hour),
		BatchID: "2026-02-01_TX", StateAtSend: "TX", MessageID: "<m1>", Email: "owner@x.com",
	}}, nil)
	tx.On("CaptureKeyExists", mock.Anything, mock.Anything).Return(false, nil)
	tx.On("GetCaptureLinkage", mock.Anything, CaptureSource, "<m1>").Return(nil, nil)
	tx.On("AppendEvent", mock.Anything, mock.Anything).Return(int64(0), errors.New("database is locked"))
	tx.On("Rollback").Return(nil)

	_, err := newMockOutreach(ds).CaptureSync(context.Background(), captureOptions(dir, triage))
	require.Error(t, err)
	runErr, ok := runerror.As(err)
	require.True(t, ok)
	assert.Equal(t, runerror.ErrCaptureSyncCRM, runErr.Code)
	assert.Equal(t, runerror.KindTransaction, runErr.Kind)
	assert.Contains(t, runErr.Message, "sync_failed")

	tx.AssertCalled(t, "Rollback")
	tx.AssertNotCalled(t, "Commit")
	tx.AssertNotCalled(t, "UpdateProspectStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestCaptureSync_LookupFailureCountsRow(t *testing.T) {
	ds := new(mocks.MockDataSource)
	tx := new(mocks.MockTransaction)
	dir := t.TempDir()
	triage := writeCSV(t, filepath.Join(dir, "triage.csv"), triageHeader,
		triageRow(testNow.Add(-time.Hour), "<m1>", "owner@x.com", "hot_interest"))

	ds.On("Begin", mock.Anything).Return(tx, nil)
	tx.On("ListSentEvents", mock.Anything).Return([]model.SentEvent{}, nil)
	tx.On("CaptureKeyExists", mock.Anything, mock.Anything).Return(false, errors.New("disk I/O error"))
	tx.On("Commit").Return(nil)

	summary, err := newMockOutreach(ds).CaptureSync(context.Background(), captureOptions(dir, triage))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.RowsSeen)
	assert.Equal(t, 1, summary.RowsFailed)
	assert.Equal(t, 0, summary.RowsMapped)
	tx.AssertCalled(t, "Commit")
	tx.AssertNotCalled(t, "AppendEvent", mock.Anything, mock.Anything)
}

func TestCaptureSync_BeginFailure(t *testing.T) {
	ds := new(mocks.MockDataSource)
	dir := t.TempDir()
	ds.On("Begin", mock.Anything).Return(nil, errors.New("store opened read-only"))

	_, err := newMockOutreach(ds).CaptureSync(context.Background(), captureOptions(dir, filepath.Join(dir, "triage.csv")))
	require.Error(t, err)
	assert.Equal(t, runerror.ErrCaptureSyncCRM, runerror.Code(err))
	assert.Contains(t, err.Error(), "open_failed")
}
