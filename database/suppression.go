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

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/blnkfinance/outreach/model"
)

// GetSuppressionEntries returns the suppression table. Rows whose timestamp does
// not parse come back with HasTimestamp false.
func (s store) GetSuppressionEntries(ctx context.Context) ([]model.SuppressionEntry, error) {
	ctx, span := otel.Tracer("Suppression").Start(ctx, "Fetching suppression entries")
	defer span.End()

	sourceColumn := "source"
	if !s.suppressionSource {
		sourceColumn = "''"
	}
	rows, err := s.q.QueryContext(ctx, `SELECT email, reason, ts, `+sourceColumn+` FROM suppression ORDER BY email`)
	if err != nil {
		return nil, errors.Wrap(err, "fetching suppression entries")
	}
	defer rows.Close()

	var out []model.SuppressionEntry
	for rows.Next() {
		var email, reason, ts, source sql.NullString
		if err := rows.Scan(&email, &reason, &ts, &source); err != nil {
			return nil, err
		}
		entry := model.SuppressionEntry{
			Email:  model.NormalizeEmail(email.String),
			Reason: reason.String,
			Source: nullString(source),
		}
		entry.Timestamp, entry.HasTimestamp = model.ParseTimestamp(ts.String)
		out = append(out, entry)
	}
	return out, rows.Err()
}

// UpsertSuppression keys the entry by normalized email; the last write wins.
func (s store) UpsertSuppression(ctx context.Context, entry model.SuppressionEntry) error {
	ctx, span := otel.Tracer("Suppression").Start(ctx, "Upserting suppression entry")
	defer span.End()

	email := model.NormalizeEmail(entry.Email)
	if email == "" {
		return errors.New("suppression entry has no email")
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO suppression(email, reason, ts, source)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			reason = excluded.reason,
			ts = excluded.ts,
			source = excluded.source`,
		email, entry.Reason, model.FormatTimestamp(entry.Timestamp), entry.Source,
	)
	if err != nil {
		return errors.Wrapf(err, "upserting suppression for %s", email)
	}
	return nil
}
