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

package database

import (
	"database/sql"
	"embed"

	"github.com/pkg/errors"
	migrate "github.com/rubenv/sql-migrate"
)

//go:embed sql/*.sql
var SQLFiles embed.FS

// MigrationSource returns the embedded schema migrations.
func MigrationSource() migrate.MigrationSource {
	return migrate.EmbedFileSystemMigrationSource{
		FileSystem: SQLFiles,
		Root:       "sql",
	}
}

// Migrate applies pending migrations and then adds any attribution columns a
// legacy store is missing. It returns the number of migrations applied.
func Migrate(db *sql.DB) (int, error) {
	n, err := migrate.Exec(db, driverName, MigrationSource(), migrate.Up)
	if err != nil {
		return n, errors.Wrap(err, "applying migrations")
	}
	if _, err := EnsureColumns(db); err != nil {
		return n, err
	}
	return n, nil
}

// Rollback reverts every applied migration.
func Rollback(db *sql.DB) (int, error) {
	n, err := migrate.Exec(db, driverName, MigrationSource(), migrate.Down)
	if err != nil {
		return n, errors.Wrap(err, "rolling back migrations")
	}
	return n, nil
}
