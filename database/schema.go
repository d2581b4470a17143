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
	"context"
	"database/sql"
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

// RequiredTables must all exist before a report can run.
var RequiredTables = []string{"prospects", "outreach_events", "suppression", "trials"}

// AttributionColumns are the nullable linkage columns of outreach_events.
var AttributionColumns = []string{
	"attributed_send_event_id",
	"attributed_batch_id",
	"attributed_state_at_send",
	"attributed_model",
}

type columnDef struct {
	table  string
	column string
	ddl    string
}

// additiveColumns are added to stores created before the columns existed.
// Existing rows keep NULL or the declared default.
var additiveColumns = []columnDef{
	{"outreach_events", "attributed_send_event_id", "INTEGER"},
	{"outreach_events", "attributed_batch_id", "TEXT"},
	{"outreach_events", "attributed_state_at_send", "TEXT"},
	{"outreach_events", "attributed_model", "TEXT"},
	{"suppression", "source", "TEXT NOT NULL DEFAULT ''"},
}

// MissingTables returns the names in tables that do not exist in the store.
func (s store) MissingTables(ctx context.Context, tables ...string) ([]string, error) {
	ctx, span := otel.Tracer("Schema").Start(ctx, "Checking required tables")
	defer span.End()

	var missing []string
	for _, name := range tables {
		var found int
		err := s.q.QueryRowContext(ctx,
			`SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ? LIMIT 1`, name,
		).Scan(&found)
		if err == sql.ErrNoRows {
			missing = append(missing, name)
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "checking table %s", name)
		}
	}
	return missing, nil
}

// TableColumns returns the column names of table. A missing table yields an empty set.
func (s store) TableColumns(ctx context.Context, table string) (map[string]bool, error) {
	ctx, span := otel.Tracer("Schema").Start(ctx, "Reading table columns")
	defer span.End()

	rows, err := s.q.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, errors.Wrapf(err, "reading columns of %s", table)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// EnsureColumns adds missing additive columns and returns the ones it added.
func EnsureColumns(db *sql.DB) ([]string, error) {
	ctx := context.Background()
	s := store{q: db}
	existing := make(map[string]map[string]bool)
	var added []string
	for _, def := range additiveColumns {
		cols, ok := existing[def.table]
		if !ok {
			var err error
			cols, err = s.TableColumns(ctx, def.table)
			if err != nil {
				return added, err
			}
			existing[def.table] = cols
		}
		if len(cols) == 0 || cols[def.column] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", def.table, def.column, def.ddl)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return added, errors.Wrapf(err, "adding column %s.%s", def.table, def.column)
		}
		cols[def.column] = true
		added = append(added, def.table+"."+def.column)
	}
	if len(added) > 0 {
		logrus.Infof("added columns to legacy store: %v", added)
	}
	return added, nil
}

func hasColumns(cols map[string]bool, names ...string) bool {
	for _, name := range names {
		if !cols[name] {
			return false
		}
	}
	return true
}
