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

package outreach

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/blnkfinance/outreach/internal/files"
	"github.com/blnkfinance/outreach/internal/runerror"
	"github.com/blnkfinance/outreach/model"
)

const (
	DefaultTerritoryCode = "OUTREACH_AUTO"
	seedSource           = "csv_seed"
)

// titleScores weight title keywords when a seed row has no explicit score.
var titleScores = []struct {
	token  string
	points int
}{
	{"partner", 4},
	{"owner", 4},
	{"founder", 3},
	{"osha", 2},
	{"safety", 2},
}

// markStatuses lists the events an operator can record and the status each sets.
var markStatuses = map[model.EventType]string{
	model.EventReplied:      model.StatusReplied,
	model.EventTrialStarted: model.StatusTrialStarted,
	model.EventConverted:    model.StatusConverted,
	model.EventDoNotContact: model.StatusDoNotContact,
}

type SeedOptions struct {
	Input      string
	ArchiveDir string
	NoArchive  bool
}

type SeedSummary struct {
	Inserted   int
	Updated    int
	Skipped    int
	ArchivedTo string
}

type MarkOptions struct {
	ProspectID    string
	Event         string
	TerritoryCode string
	Note          string
}

type MarkResult struct {
	ProspectID string
	Event      model.EventType
	Status     string
	EventID    int64
}

// TitleScore sums the keyword weights found in a job title.
func TitleScore(title string) int {
	text := strings.ToLower(strings.TrimSpace(title))
	score := 0
	for _, ts := range titleScores {
		if strings.Contains(text, ts.token) {
			score += ts.points
		}
	}
	return score
}

func seedProspect(row files.Row, line int, now time.Time) (*model.Prospect, bool) {
	email := model.NormalizeEmail(row.Get("email"))
	if email == "" || !strings.Contains(email, "@") {
		return nil, false
	}
	p := &model.Prospect{
		ProspectID:  row.Get("prospect_id"),
		Firm:        row.Get("firm"),
		ContactName: row.Get("contact_name"),
		Email:       email,
		Title:       row.Get("title"),
		City:        row.Get("city"),
		State:       strings.ToUpper(row.Get("state")),
		Website:     row.Get("website"),
		Source:      row.Get("source"),
		Status:      strings.ToLower(row.Get("status")),
		CreatedAt:   now,
	}
	if p.ProspectID == "" {
		p.ProspectID = fmt.Sprintf("seed_%d", line)
	}
	if p.ContactName == "" {
		p.ContactName = strings.TrimSpace(row.Get("first_name") + " " + row.Get("last_name"))
	}
	if p.Source == "" {
		p.Source = seedSource
	}
	if p.Status == "" {
		p.Status = model.StatusNew
	}
	if score, err := strconv.Atoi(row.Get("score")); err == nil {
		p.Score = score
	} else {
		p.Score = TitleScore(p.Title)
	}
	if ts, ok := model.ParseTimestamp(row.Get("created_at")); ok {
		p.CreatedAt = ts
	}
	if ts, ok := model.ParseTimestamp(row.Get("last_contacted_at")); ok {
		p.LastContactedAt = &ts
	}
	return p, true
}

// SeedProspects imports a prospects csv. Rows without a usable email, or whose
// email already belongs to another prospect, are skipped. The input is moved
// to the archive directory afterwards unless NoArchive is set.
func (o *Outreach) SeedProspects(ctx context.Context, opts SeedOptions) (*SeedSummary, error) {
	ctx, span := otel.Tracer("Outreach").Start(ctx, "Seed prospects")
	defer span.End()

	table, err := files.ReadTable(ctx, opts.Input)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, runerror.NewRunError(runerror.ErrCRMInputMissing, runerror.KindInput,
			fmt.Sprintf("path=%s", opts.Input), err)
	}
	if err != nil {
		return nil, runerror.NewRunError(runerror.ErrCRMInputMissing, runerror.KindInput,
			fmt.Sprintf("path=%s err=%v", opts.Input, err), err)
	}

	now := o.clock()
	tx, err := o.datasource.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	summary := &SeedSummary{}
	for i, row := range table.Rows {
		p, ok := seedProspect(row, i+1, now)
		if !ok {
			summary.Skipped++
			continue
		}
		owner, err := tx.GetProspectByEmail(ctx, p.Email)
		if err != nil {
			return nil, err
		}
		if owner != nil && owner.ProspectID != p.ProspectID {
			logrus.WithFields(logrus.Fields{"email": p.Email, "owner": owner.ProspectID}).Debug("seed row skipped, email taken")
			summary.Skipped++
			continue
		}
		existed, err := tx.UpsertProspect(ctx, p)
		if err != nil {
			return nil, err
		}
		if existed {
			summary.Updated++
		} else {
			summary.Inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, pkgerrors.Wrap(err, "committing seed")
	}

	if !opts.NoArchive {
		archiveDir := opts.ArchiveDir
		if archiveDir == "" {
			archiveDir = filepath.Join(filepath.Dir(opts.Input), "archived_prospects")
		}
		dest, err := archiveInput(opts.Input, archiveDir, model.FormatTimestamp(now))
		if err != nil {
			return nil, pkgerrors.Wrap(err, "archiving seed input")
		}
		summary.ArchivedTo = dest
	}
	return summary, nil
}

func archiveInput(input, archiveDir, stamp string) (string, error) {
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", err
	}
	ext := filepath.Ext(input)
	stem := strings.TrimSuffix(filepath.Base(input), ext)
	stamp = strings.NewReplacer(":", "-", "+", "Z").Replace(stamp)
	dest := filepath.Join(archiveDir, fmt.Sprintf("%s_%s%s", stem, stamp, ext))
	return dest, os.Rename(input, dest)
}

// MarkProspect records an operator observed lifecycle event. Marks carry no
// attribution columns, so reports place them through persisted linkage only.
func (o *Outreach) MarkProspect(ctx context.Context, opts MarkOptions) (*MarkResult, error) {
	ctx, span := otel.Tracer("Outreach").Start(ctx, "Mark prospect")
	defer span.End()

	eventType := model.EventType(strings.ToLower(strings.TrimSpace(opts.Event)))
	status, ok := markStatuses[eventType]
	if !ok {
		return nil, runerror.NewRunError(runerror.ErrCRMMarkMissing, runerror.KindInput,
			fmt.Sprintf("unsupported_event=%s", eventType), nil)
	}
	territory := strings.TrimSpace(opts.TerritoryCode)
	if territory == "" {
		territory = DefaultTerritoryCode
	}

	tx, err := o.datasource.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	prospect, err := tx.GetProspectByID(ctx, opts.ProspectID)
	if err != nil {
		return nil, err
	}
	if prospect == nil {
		return nil, runerror.NewRunError(runerror.ErrCRMMarkMissing, runerror.KindInput,
			fmt.Sprintf("prospect_id=%s", opts.ProspectID), nil)
	}

	now := o.clock()
	if err := tx.UpdateProspectStatus(ctx, prospect.ProspectID, status); err != nil {
		return nil, err
	}
	eventID, err := tx.AppendEvent(ctx, &model.OutreachEvent{
		ProspectID: prospect.ProspectID,
		Timestamp:  now,
		EventType:  eventType,
		BatchID:    territory,
		Metadata: model.EventMetadata{
			Source:        model.SuppressionSourceCRM,
			Note:          opts.Note,
			TerritoryCode: territory,
			MatchedEmail:  prospect.Email,
		},
	})
	if err != nil {
		return nil, err
	}

	switch eventType {
	case model.EventTrialStarted:
		err = tx.UpsertTrial(ctx, model.Trial{
			ProspectID:    prospect.ProspectID,
			TerritoryCode: territory,
			StartedAt:     now,
			Status:        model.TrialActive,
		})
	case model.EventConverted:
		var changed int64
		changed, err = tx.UpdateTrialStatus(ctx, prospect.ProspectID, territory, model.TrialConverted)
		if err == nil && changed == 0 {
			logrus.WithField("prospect_id", prospect.ProspectID).Debug("conversion without an active trial")
		}
	case model.EventDoNotContact:
		if prospect.Email != "" {
			err = tx.UpsertSuppression(ctx, model.SuppressionEntry{
				Email:     prospect.Email,
				Reason:    model.StatusDoNotContact,
				Timestamp: now,
				Source:    model.SuppressionSourceCRM,
			})
		}
	}
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, pkgerrors.Wrap(err, "committing mark")
	}

	return &MarkResult{
		ProspectID: prospect.ProspectID,
		Event:      eventType,
		Status:     status,
		EventID:    eventID,
	}, nil
}
