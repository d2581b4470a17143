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

/*
Package main provides the CLI commands for managing the store schema.
This includes commands for applying and rolling back migrations.
*/

package main

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blnkfinance/outreach/database"
)

// migrateCommands creates the root command for migration-related operations.
func migrateCommands(o *outreachInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "manage the outreach store schema",
	}

	// Add subcommands for migrating up and down.
	cmd.AddCommand(migrateStep(o, "up", "Applied", database.Migrate))
	cmd.AddCommand(migrateStep(o, "down", "Rolled back", database.Rollback))

	return cmd
}

// migrateStep creates the command that runs one migration direction.
func migrateStep(o *outreachInstance, use, verb string, run func(db *sql.DB) (int, error)) *cobra.Command {
	return &cobra.Command{
		Use: use,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := database.ConnectDB(o.cnf.DataSource.Path)
			if err != nil {
				return fmt.Errorf("error connecting to database: %w", err)
			}
			defer db.Close()

			n, err := run(db)
			if err != nil {
				return fmt.Errorf("error migrating %s: %w", use, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d migrations!\n", verb, n)
			return nil
		},
	}
}
