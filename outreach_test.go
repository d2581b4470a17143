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
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/outreach/config"
	"github.com/blnkfinance/outreach/database"
	"github.com/blnkfinance/outreach/model"
)

var testNow = time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

var triageHeader = []string{"timestamp", "message_id", "from_email", "subject", "category", "action"}

func newTestOutreach(t *testing.T) (*Outreach, *database.Datasource) {
	t.Helper()
	ds, err := database.OpenDataSource(filepath.Join(t.TempDir(), "crm.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ds.Close() })

	cnf := &config.Configuration{
		ProjectName: "outreach-test",
		Attribution: config.AttributionConfig{WindowDays: DefaultAttributionWindowDays},
	}
	return &Outreach{datasource: ds, config: cnf, now: func() time.Time { return testNow }}, ds
}

func addProspect(t *testing.T, w database.Writer, id, email string) *model.Prospect {
	t.Helper()
	p := &model.Prospect{
		ProspectID:  id,
		Firm:        gofakeit.Company(),
		ContactName: gofakeit.Name(),
		Email:       email,
		Title:       gofakeit.JobTitle(),
		City:        gofakeit.City(),
		State:       "TX",
		Status:      model.StatusNew,
		CreatedAt:   testNow.Add(-72 * time.Hour),
	}
	_, err := w.UpsertProspect(context.Background(), p)
	require.NoError(t, err)
	return p
}

func addSent(t *testing.T, w database.Writer, prospectID string, at time.Time, batchID, messageID, state string) int64 {
	t.Helper()
	id, err := w.AppendEvent(context.Background(), &model.OutreachEvent{
		ProspectID: prospectID,
		Timestamp:  at,
		EventType:  model.EventSent,
		BatchID:    batchID,
		Metadata:   model.EventMetadata{MessageID: messageID, State: state},
	})
	require.NoError(t, err)
	return id
}

func addEvent(t *testing.T, w database.Writer, ev model.OutreachEvent) int64 {
	t.Helper()
	id, err := w.AppendEvent(context.Background(), &ev)
	require.NoError(t, err)
	return id
}

func writeCSV(t *testing.T, path string, header []string, rows ...[]string) string {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := csv.NewWriter(f)
	require.NoError(t, w.Write(header))
	for _, row := range rows {
		require.NoError(t, w.Write(row))
	}
	w.Flush()
	require.NoError(t, w.Error())
	return path
}

func triageRow(at time.Time, messageID, from, category string) []string {
	return []string{model.FormatTimestamp(at), messageID, from, gofakeit.Sentence(4), category, "review"}
}
