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

// GetTrial returns nil when the prospect has no trial for the territory.
func (s store) GetTrial(ctx context.Context, prospectID, territoryCode string) (*model.Trial, error) {
	ctx, span := otel.Tracer("Trials").Start(ctx, "Fetching trial")
	defer span.End()

	var (
		trial     model.Trial
		startedAt string
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT prospect_id, territory_code, started_at, status
		FROM trials WHERE prospect_id = ? AND territory_code = ?`,
		prospectID, territoryCode,
	).Scan(&trial.ProspectID, &trial.TerritoryCode, &startedAt, &trial.Status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "fetching trial of %s", prospectID)
	}
	trial.StartedAt, _ = model.ParseTimestamp(startedAt)
	return &trial, nil
}

func (s store) UpsertTrial(ctx context.Context, trial model.Trial) error {
	ctx, span := otel.Tracer("Trials").Start(ctx, "Upserting trial")
	defer span.End()

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO trials(prospect_id, territory_code, started_at, status)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(prospect_id, territory_code) DO UPDATE SET
			started_at = excluded.started_at,
			status = excluded.status`,
		trial.ProspectID, trial.TerritoryCode, model.FormatTimestamp(trial.StartedAt), trial.Status,
	)
	if err != nil {
		return errors.Wrapf(err, "upserting trial of %s", trial.ProspectID)
	}
	return nil
}

// UpdateTrialStatus returns the number of trials changed.
func (s store) UpdateTrialStatus(ctx context.Context, prospectID, territoryCode, status string) (int64, error) {
	ctx, span := otel.Tracer("Trials").Start(ctx, "Updating trial status")
	defer span.End()

	result, err := s.q.ExecContext(ctx,
		`UPDATE trials SET status = ? WHERE prospect_id = ? AND territory_code = ?`,
		status, prospectID, territoryCode,
	)
	if err != nil {
		return 0, errors.Wrapf(err, "updating trial of %s", prospectID)
	}
	return result.RowsAffected()
}
