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
	"github.com/wacul/ptr"
	"go.opentelemetry.io/otel"

	"github.com/blnkfinance/outreach/model"
)

const prospectColumns = `prospect_id, firm, contact_name, email, title, city, state, website, source,
	score, status, created_at, last_contacted_at`

func scanProspect(row scanner) (model.Prospect, error) {
	var (
		p                            model.Prospect
		firm, contact, email, title  sql.NullString
		city, state, website, source sql.NullString
		status, createdAt            sql.NullString
		lastContacted                sql.NullString
		score                        sql.NullInt64
	)
	err := row.Scan(&p.ProspectID, &firm, &contact, &email, &title, &city, &state, &website, &source,
		&score, &status, &createdAt, &lastContacted)
	if err != nil {
		return p, err
	}
	p.Firm = nullString(firm)
	p.ContactName = nullString(contact)
	p.Email = model.NormalizeEmail(email.String)
	p.Title = nullString(title)
	p.City = nullString(city)
	p.State = nullString(state)
	p.Website = nullString(website)
	p.Source = nullString(source)
	p.Score = int(score.Int64)
	p.Status = nullString(status)
	if ts, ok := model.ParseTimestamp(createdAt.String); ok {
		p.CreatedAt = ts
	}
	if ts, ok := model.ParseTimestamp(lastContacted.String); ok {
		p.LastContactedAt = ptr.Time(ts)
	}
	return p, nil
}

// GetProspectByID returns nil when no prospect has the id.
func (s store) GetProspectByID(ctx context.Context, prospectID string) (*model.Prospect, error) {
	ctx, span := otel.Tracer("Prospects").Start(ctx, "Fetching prospect by id")
	defer span.End()

	p, err := scanProspect(s.q.QueryRowContext(ctx,
		`SELECT `+prospectColumns+` FROM prospects WHERE prospect_id = ?`, prospectID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "fetching prospect %s", prospectID)
	}
	return &p, nil
}

// GetProspectByEmail matches on the normalized address and returns nil when
// there is no match.
func (s store) GetProspectByEmail(ctx context.Context, email string) (*model.Prospect, error) {
	ctx, span := otel.Tracer("Prospects").Start(ctx, "Fetching prospect by email")
	defer span.End()

	p, err := scanProspect(s.q.QueryRowContext(ctx,
		`SELECT `+prospectColumns+` FROM prospects WHERE lower(trim(email)) = ? LIMIT 1`, model.NormalizeEmail(email)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "fetching prospect by email")
	}
	return &p, nil
}

func (s store) GetAllProspects(ctx context.Context) ([]model.Prospect, error) {
	ctx, span := otel.Tracer("Prospects").Start(ctx, "Fetching all prospects")
	defer span.End()

	rows, err := s.q.QueryContext(ctx, `SELECT `+prospectColumns+` FROM prospects ORDER BY prospect_id`)
	if err != nil {
		return nil, errors.Wrap(err, "fetching prospects")
	}
	defer rows.Close()

	var out []model.Prospect
	for rows.Next() {
		p, err := scanProspect(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertProspect inserts the prospect or updates the row with the same id. A
// row's created_at is never changed and last_contacted_at is only overwritten
// by a non-empty value. It reports whether the row already existed.
func (s store) UpsertProspect(ctx context.Context, prospect *model.Prospect) (bool, error) {
	ctx, span := otel.Tracer("Prospects").Start(ctx, "Upserting prospect")
	defer span.End()

	var found int
	err := s.q.QueryRowContext(ctx, `SELECT 1 FROM prospects WHERE prospect_id = ?`, prospect.ProspectID).Scan(&found)
	if err != nil && err != sql.ErrNoRows {
		return false, errors.Wrapf(err, "checking prospect %s", prospect.ProspectID)
	}
	existed := err == nil

	var lastContacted *string
	if prospect.LastContactedAt != nil {
		lastContacted = ptr.String(model.FormatTimestamp(*prospect.LastContactedAt))
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO prospects(
			prospect_id, firm, contact_name, email, title, city, state, website, source,
			score, status, created_at, last_contacted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(prospect_id) DO UPDATE SET
			firm = excluded.firm,
			contact_name = excluded.contact_name,
			email = excluded.email,
			title = excluded.title,
			city = excluded.city,
			state = excluded.state,
			website = excluded.website,
			source = excluded.source,
			score = excluded.score,
			status = excluded.status,
			last_contacted_at = COALESCE(excluded.last_contacted_at, prospects.last_contacted_at)`,
		prospect.ProspectID, prospect.Firm, prospect.ContactName, model.NormalizeEmail(prospect.Email),
		prospect.Title, prospect.City, prospect.State, prospect.Website, prospect.Source,
		prospect.Score, prospect.Status, model.FormatTimestamp(prospect.CreatedAt), lastContacted,
	)
	if err != nil {
		return existed, errors.Wrapf(err, "upserting prospect %s", prospect.ProspectID)
	}
	return existed, nil
}

// UpdateProspectStatus changes only the status column.
func (s store) UpdateProspectStatus(ctx context.Context, prospectID, status string) error {
	ctx, span := otel.Tracer("Prospects").Start(ctx, "Updating prospect status")
	defer span.End()

	_, err := s.q.ExecContext(ctx, `UPDATE prospects SET status = ? WHERE prospect_id = ?`, status, prospectID)
	if err != nil {
		return errors.Wrapf(err, "updating status of %s", prospectID)
	}
	return nil
}
