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

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/blnkfinance/outreach"
	"github.com/blnkfinance/outreach/config"
	"github.com/blnkfinance/outreach/internal/lock"
	redis_db "github.com/blnkfinance/outreach/internal/redis-db"
	"github.com/blnkfinance/outreach/internal/runerror"
)

type captureFlags struct {
	printConfig    bool
	dryRun         bool
	triageLog      string
	suppressionCSV string
	windowDays     int
}

// resolve applies the flags that were set on top of the configuration.
func (f captureFlags) resolve(cmd *cobra.Command, cnf *config.Configuration) outreach.CaptureOptions {
	opts := outreach.CaptureOptions{
		TriageLog:      cnf.Feeds.TriageLog,
		SuppressionCSV: cnf.Feeds.SuppressionCSV,
		WindowDays:     cnf.Attribution.WindowDays,
		DryRun:         f.dryRun,
	}
	if f.triageLog != "" {
		opts.TriageLog = f.triageLog
	}
	if f.suppressionCSV != "" {
		opts.SuppressionCSV = f.suppressionCSV
	}
	if cmd.Flags().Changed("attribution-window-days") {
		opts.WindowDays = f.windowDays
	}
	return opts
}

func captureSyncCommand(o *outreachInstance) *cobra.Command {
	var flags captureFlags

	cmd := &cobra.Command{
		Use:   "capture-sync",
		Short: "Ingest inbound reply and bounce signals into the event store",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := flags.resolve(cmd, o.cnf)
			out := cmd.OutOrStdout()

			if flags.printConfig {
				const token = "PASS_CAPTURE_SYNC_PRINT_CONFIG"
				printLine(out, token, "crm_db=%s", o.cnf.DataSource.Path)
				printLine(out, token, "triage_log=%s", opts.TriageLog)
				printLine(out, token, "suppression_csv=%s", opts.SuppressionCSV)
				printLine(out, token, "attribution_window_days=%d", opts.WindowDays)
				return nil
			}

			ctx := cmd.Context()
			app, ds, err := openOutreach(o.cnf.DataSource.Path)
			if err != nil {
				return runerror.NewRunError(runerror.ErrCaptureSyncCRM, runerror.KindSchema,
					fmt.Sprintf("open_failed path=%s err=%v", o.cnf.DataSource.Path, err), err)
			}
			defer ds.Close()

			closeLock, err := withRunLock(ctx, app, o.cnf)
			if err != nil {
				return err
			}
			defer closeLock()

			bm, err := backupManager(ctx, o.cnf)
			if err != nil {
				return err
			}
			app.WithBackups(bm)

			summary, err := app.CaptureSync(ctx, opts)
			if err != nil {
				return err
			}

			token := "PASS_CAPTURE_SYNC_APPLY"
			if opts.DryRun {
				token = "PASS_CAPTURE_SYNC_DRY_RUN"
			}
			printLine(out, token,
				"crm_db=%s triage_log=%s suppression_csv=%s rows_seen=%d rows_mapped=%d events_written=%d suppression_upserts=%d duplicates_skipped=%d unattributed_skipped=%d rows_failed=%d",
				o.cnf.DataSource.Path, opts.TriageLog, opts.SuppressionCSV,
				summary.RowsSeen, summary.RowsMapped, summary.EventsWritten, summary.SuppressionUpserts,
				summary.DuplicatesSkipped, summary.UnattributedSkipped, summary.RowsFailed)
			return nil
		},
	}

	cmd.Flags().BoolVar(&flags.printConfig, "print-config", false, "Print the resolved inputs and exit")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "Compute every change and roll it back")
	cmd.Flags().StringVar(&flags.triageLog, "triage-log", "", "Inbox triage log CSV")
	cmd.Flags().StringVar(&flags.suppressionCSV, "suppression-csv", "", "Suppression evidence CSV")
	cmd.Flags().IntVar(&flags.windowDays, "attribution-window-days", config.DEFAULT_ATTRIBUTION_WINDOW, "Last-touch attribution window in days")

	return cmd
}

// withRunLock attaches the Redis run lock when a Redis address is configured.
// The returned func closes the client.
func withRunLock(ctx context.Context, app *outreach.Outreach, cnf *config.Configuration) (func(), error) {
	if cnf.Redis.Dns == "" {
		return func() {}, nil
	}
	client, err := redis_db.NewRedisClient(ctx, cnf.Redis.Dns)
	if err != nil {
		return nil, err
	}
	runID := uuid.New().String()
	if host, err := os.Hostname(); err == nil {
		runID = host + ":" + runID
	}
	app.WithRunLock(lock.NewRunLock(client.Client(), config.DEFAULT_CAPTURE_SYNC_LOCK_NAME, runID))
	return func() {
		if err := client.Close(); err != nil {
			logrus.Warnf("redis client not closed: %v", err)
		}
	}, nil
}
