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

	"github.com/spf13/cobra"

	"github.com/blnkfinance/outreach/config"
	"github.com/blnkfinance/outreach/database"
	"github.com/blnkfinance/outreach/internal/backups"
)

// backupManager returns a manager when a backup directory or bucket is
// configured, and nil otherwise.
func backupManager(ctx context.Context, cnf *config.Configuration) (*backups.BackupManager, error) {
	if cnf.BackupDir == "" && cnf.S3BucketName == "" {
		return nil, nil
	}
	return backups.NewBackupManager(ctx, cnf)
}

func backupCommands(o *outreachInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "snapshot the outreach store",
	}

	cmd.AddCommand(backupCommand(o, "drive", false))
	cmd.AddCommand(backupCommand(o, "s3", true))

	return cmd
}

func backupCommand(o *outreachInstance, use string, upload bool) *cobra.Command {
	cmd := &cobra.Command{
		Use: use,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			bm, err := backups.NewBackupManager(ctx, o.cnf)
			if err != nil {
				return err
			}
			ds, err := database.OpenDataSource(o.cnf.DataSource.Path)
			if err != nil {
				return err
			}
			defer ds.Close()

			snapshot := bm.BackupToDisk
			if upload {
				snapshot = bm.BackupToS3
			}
			path, err := snapshot(ctx, ds)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	return cmd
}
