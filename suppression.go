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

	"go.uber.org/multierr"

	"github.com/blnkfinance/outreach/database"
	"github.com/blnkfinance/outreach/internal/files"
	"github.com/blnkfinance/outreach/model"
)

// SuppressionSink receives suppression upserts. Implementations are keyed by
// normalized email and keep the last reason and timestamp written.
type SuppressionSink interface {
	Upsert(ctx context.Context, entry model.SuppressionEntry) error
}

// Flusher is implemented by sinks that buffer until the run has committed.
type Flusher interface {
	Flush(ctx context.Context) error
}

type storeSuppressionSink struct {
	writer database.Writer
}

// NewStoreSuppressionSink writes through w, normally the capture transaction.
func NewStoreSuppressionSink(w database.Writer) SuppressionSink {
	return &storeSuppressionSink{writer: w}
}

func (s *storeSuppressionSink) Upsert(ctx context.Context, entry model.SuppressionEntry) error {
	return s.writer.UpsertSuppression(ctx, entry)
}

var suppressionCSVHeaders = []string{"email", "reason", "timestamp", "source", "evidence_msg_id"}

type csvSuppressionSink struct {
	path    string
	pending map[string]model.SuppressionEntry
	order   []string
}

// NewCSVSuppressionSink mirrors upserts into the suppression csv at path.
// Nothing is written until Flush.
func NewCSVSuppressionSink(path string) *csvSuppressionSink {
	return &csvSuppressionSink{path: path, pending: make(map[string]model.SuppressionEntry)}
}

func (s *csvSuppressionSink) Upsert(_ context.Context, entry model.SuppressionEntry) error {
	email := model.NormalizeEmail(entry.Email)
	if email == "" {
		return errors.New("suppression email is empty")
	}
	entry.Email = email
	if _, seen := s.pending[email]; !seen {
		s.order = append(s.order, email)
	}
	s.pending[email] = entry
	return nil
}

// Flush merges the buffered entries into the csv. Existing rows and columns
// are preserved; rows for a buffered email are updated in place.
func (s *csvSuppressionSink) Flush(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}
	table, err := files.ReadTable(ctx, s.path)
	if errors.Is(err, fs.ErrNotExist) {
		table, err = &files.Table{}, nil
	}
	if err != nil {
		return err
	}
	table.Headers = mergeHeaders(table.Headers, suppressionCSVHeaders)

	written := make(map[string]bool, len(s.pending))
	for _, row := range table.Rows {
		email := model.NormalizeEmail(row.Get("email"))
		entry, ok := s.pending[email]
		if !ok {
			continue
		}
		fillSuppressionRow(row, entry)
		written[email] = true
	}
	for _, email := range s.order {
		if written[email] {
			continue
		}
		row := files.Row{}
		fillSuppressionRow(row, s.pending[email])
		table.Rows = append(table.Rows, row)
	}

	if err := files.WriteTable(s.path, table); err != nil {
		return err
	}
	s.pending = make(map[string]model.SuppressionEntry)
	s.order = nil
	return nil
}

func fillSuppressionRow(row files.Row, entry model.SuppressionEntry) {
	row["email"] = entry.Email
	row["reason"] = entry.Reason
	row["timestamp"] = model.FormatTimestamp(entry.Timestamp)
	row["source"] = entry.Source
	if entry.EvidenceMsgID != "" {
		row["evidence_msg_id"] = entry.EvidenceMsgID
	}
}

func mergeHeaders(existing, required []string) []string {
	seen := make(map[string]bool, len(existing))
	out := make([]string, 0, len(existing)+len(required))
	for _, h := range existing {
		seen[files.NormalizeHeader(h)] = true
		out = append(out, h)
	}
	for _, h := range required {
		if !seen[h] {
			out = append(out, h)
		}
	}
	return out
}

// multiSuppressionSink fans every upsert out to all sinks.
type multiSuppressionSink []SuppressionSink

func NewMultiSuppressionSink(sinks ...SuppressionSink) SuppressionSink {
	return multiSuppressionSink(sinks)
}

func (m multiSuppressionSink) Upsert(ctx context.Context, entry model.SuppressionEntry) error {
	for _, sink := range m {
		if err := sink.Upsert(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

// Flush flushes every buffering sink and reports all failures.
func (m multiSuppressionSink) Flush(ctx context.Context) error {
	var result error
	for _, sink := range m {
		if f, ok := sink.(Flusher); ok {
			result = multierr.Append(result, f.Flush(ctx))
		}
	}
	return result
}
