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
	"github.com/spf13/cobra"

	"github.com/blnkfinance/outreach"
)

// crmCommands groups the operator commands that maintain prospects.
func crmCommands(o *outreachInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crm",
		Short: "Seed prospects and record lifecycle events",
	}

	cmd.AddCommand(crmSeedCommand(o))
	cmd.AddCommand(crmMarkCommand(o))

	return cmd
}

func crmSeedCommand(o *outreachInstance) *cobra.Command {
	var opts outreach.SeedOptions

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Import prospects from a CSV or JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, ds, err := openOutreach(o.cnf.DataSource.Path)
			if err != nil {
				return err
			}
			defer ds.Close()

			summary, err := app.SeedProspects(cmd.Context(), opts)
			if err != nil {
				return err
			}

			archived := summary.ArchivedTo
			if archived == "" {
				archived = "(none)"
			}
			printLine(cmd.OutOrStdout(), "PASS_CRM_SEED", "crm_db=%s inserted_count=%d updated_count=%d skipped_count=%d archived_to=%s",
				o.cnf.DataSource.Path, summary.Inserted, summary.Updated, summary.Skipped, archived)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Input, "input", "", "Prospect file to import")
	cmd.Flags().StringVar(&opts.ArchiveDir, "archive-dir", "", "Directory the input is moved to after import")
	cmd.Flags().BoolVar(&opts.NoArchive, "no-archive", false, "Leave the input file in place")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func crmMarkCommand(o *outreachInstance) *cobra.Command {
	var opts outreach.MarkOptions

	cmd := &cobra.Command{
		Use:   "mark",
		Short: "Record a reply, trial, conversion or do-not-contact for a prospect",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, ds, err := openOutreach(o.cnf.DataSource.Path)
			if err != nil {
				return err
			}
			defer ds.Close()

			result, err := app.MarkProspect(cmd.Context(), opts)
			if err != nil {
				return err
			}

			printLine(cmd.OutOrStdout(), "PASS_CRM_MARK", "crm_db=%s prospect_id=%s event=%s status=%s event_id=%d",
				o.cnf.DataSource.Path, result.ProspectID, result.Event, result.Status, result.EventID)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.ProspectID, "prospect-id", "", "Prospect to mark")
	cmd.Flags().StringVar(&opts.Event, "event", "", "replied, trial_started, converted or do_not_contact")
	cmd.Flags().StringVar(&opts.TerritoryCode, "territory-code", outreach.DefaultTerritoryCode, "Trial territory")
	cmd.Flags().StringVar(&opts.Note, "note", "", "Free text note stored with the event")
	_ = cmd.MarkFlagRequired("prospect-id")
	_ = cmd.MarkFlagRequired("event")

	return cmd
}
