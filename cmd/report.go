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
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/blnkfinance/outreach"
	"github.com/blnkfinance/outreach/config"
	"github.com/blnkfinance/outreach/model"
)

type reportFlags struct {
	printConfig    bool
	dryRun         bool
	noWrite        bool
	format         string
	windowDays     int
	crmDB          string
	suppressionCSV string
}

func (f reportFlags) resolve(cmd *cobra.Command, cnf *config.Configuration) outreach.ReportOptions {
	opts := outreach.ReportOptions{
		CrmDB:          cnf.DataSource.Path,
		SuppressionCSV: cnf.Feeds.SuppressionCSV,
		OutputDir:      cnf.Report.OutputDir,
		Format:         cnf.Report.Format,
		WindowDays:     cnf.Attribution.WindowDays,
		DryRun:         f.dryRun,
		NoWrite:        f.noWrite,
	}
	if f.crmDB != "" {
		opts.CrmDB = f.crmDB
	}
	if f.suppressionCSV != "" {
		opts.SuppressionCSV = f.suppressionCSV
	}
	if f.format != "" {
		opts.Format = f.format
	}
	if cmd.Flags().Changed("attribution-window-days") {
		opts.WindowDays = f.windowDays
	}
	return opts
}

func opsReportCommand(o *outreachInstance) *cobra.Command {
	var flags reportFlags

	cmd := &cobra.Command{
		Use:   "ops-report",
		Short: "Compute the 7 and 30 day cohort report",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := flags.resolve(cmd, o.cnf)
			out := cmd.OutOrStdout()

			if err := outreach.ValidateReportFormat(opts.Format); err != nil {
				return err
			}

			if flags.printConfig {
				artifactPath, latestPath := outreach.ReportPaths(opts.OutputDir, time.Now())
				if opts.NoWrite {
					artifactPath, latestPath = outreach.NoWritePath, outreach.NoWritePath
				}
				const token = "PASS_OPS_REPORT_PRINT_CONFIG"
				printLine(out, token, "ops_report_schema_version=%s", model.ReportSchemaVersion)
				printLine(out, token, "crm_db=%s", opts.CrmDB)
				printLine(out, token, "suppression_csv=%s", opts.SuppressionCSV)
				printLine(out, token, "attribution_window_days=%d", opts.WindowDays)
				printLine(out, token, "output_format=%s", opts.Format)
				printLine(out, token, "artifact_path=%s", artifactPath)
				printLine(out, token, "latest_path=%s", latestPath)
				printLine(out, token, "dry_run=%t", opts.DryRun)
				printLine(out, token, "no_write=%t", opts.NoWrite)
				return nil
			}

			ctx := cmd.Context()
			ds, err := outreach.OpenReportStore(ctx, opts.CrmDB)
			if err != nil {
				return err
			}
			defer ds.Close()

			app, err := outreach.NewOutreach(ds)
			if err != nil {
				return err
			}
			bm, err := backupManager(ctx, o.cnf)
			if err != nil {
				return err
			}
			app.WithBackups(bm)

			result, err := app.OpsReport(ctx, opts)
			if err != nil {
				return err
			}

			rendered, err := outreach.RenderReport(result.Report, opts.Format)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, rendered)

			if opts.Format == outreach.ReportFormatText {
				latest := result.LatestPath
				if opts.NoWrite {
					latest = outreach.NoWritePath
				}
				printLine(out, "PASS_OPS_REPORT", "json_path=%s latest_path=%s notes=%d",
					result.Report.JSONPath, latest, len(result.Report.Notes))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&flags.printConfig, "print-config", false, "Print the resolved inputs and exit")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "Skip uploads and metrics")
	cmd.Flags().BoolVar(&flags.noWrite, "no-write", false, "Do not write report artifacts")
	cmd.Flags().StringVar(&flags.format, "format", "", "Output format, text or json")
	cmd.Flags().IntVar(&flags.windowDays, "attribution-window-days", config.DEFAULT_ATTRIBUTION_WINDOW, "Attribution window in days")
	cmd.Flags().StringVar(&flags.crmDB, "crm-db", "", "Store to report on")
	cmd.Flags().StringVar(&flags.suppressionCSV, "suppression-csv", "", "Suppression evidence CSV")

	return cmd
}
