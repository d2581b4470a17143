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
	"io/fs"

	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/outreach/internal/files"
	"github.com/blnkfinance/outreach/model"
)

// suppressionTimestampColumns are tried in order for the time of a feed row.
var suppressionTimestampColumns = []string{"timestamp", "ts", "created_at", "updated_at"}

func readFeed(ctx context.Context, path, name string) (*files.Table, error) {
	table, err := files.ReadTable(ctx, path)
	if errors.Is(err, fs.ErrNotExist) {
		logrus.WithField("path", path).Warnf("%s not found, treating as empty", name)
		return &files.Table{}, nil
	}
	return table, err
}

// LoadTriageFeed reads the inbox triage log. A missing file is an empty feed.
func LoadTriageFeed(ctx context.Context, path string) ([]model.InboundSignal, error) {
	table, err := readFeed(ctx, path, "triage log")
	if err != nil {
		return nil, err
	}
	signals := make([]model.InboundSignal, 0, len(table.Rows))
	for _, row := range table.Rows {
		signals = append(signals, model.InboundSignal{
			RawTimestamp:     row.Get("timestamp"),
			InboundMessageID: row.Get("message_id"),
			FromEmail:        model.NormalizeEmail(row.Get("from_email")),
			Subject:          row.Get("subject"),
			Category:         row.Get("category"),
			Action:           row.Get("action"),
		})
	}
	return signals, nil
}

// LoadSuppressionEvidence maps evidence message ids to the address they
// suppressed. Rows missing either value are ignored; later rows win.
func LoadSuppressionEvidence(ctx context.Context, path string) (map[string]string, error) {
	table, err := readFeed(ctx, path, "suppression csv")
	if err != nil {
		return nil, err
	}
	evidence := make(map[string]string, len(table.Rows))
	for _, row := range table.Rows {
		msgID := row.Get("evidence_msg_id")
		email := model.NormalizeEmail(row.Get("email"))
		if msgID != "" && email != "" {
			evidence[msgID] = email
		}
	}
	return evidence, nil
}

// LoadSuppressionFeed reads the suppression csv as suppression entries for reporting.
func LoadSuppressionFeed(ctx context.Context, path string) ([]model.SuppressionEntry, error) {
	table, err := readFeed(ctx, path, "suppression csv")
	if err != nil {
		return nil, err
	}
	entries := make([]model.SuppressionEntry, 0, len(table.Rows))
	for _, row := range table.Rows {
		entry := model.SuppressionEntry{
			Email:  model.NormalizeEmail(row.Get("email")),
			Reason: row.Get("reason"),
			Source: model.SuppressionSourceCSV,
		}
		entry.Timestamp, entry.HasTimestamp = model.ParseTimestamp(row.Get(suppressionTimestampColumns...))
		entries = append(entries, entry)
	}
	return entries, nil
}
