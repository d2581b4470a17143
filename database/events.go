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
	"github.com/wacul/ptr"
	"go.opentelemetry.io/otel"

	"github.com/blnkfinance/outreach/model"
)

// captureEventTypes are the event types capture sync writes.
var captureEventTypes = []model.EventType{model.EventReplied, model.EventDoNotContact, model.EventBounced}

// metadataField extracts key from metadata_json, treating malformed documents
// as empty. The text must match the expression indexes in 0002_indexes.sql.
func metadataField(key string) string {
	return fmt.Sprintf("json_extract(CASE WHEN json_valid(metadata_json) THEN metadata_json ELSE '{}' END, '$.%s')", key)
}

func (s store) eventColumns() string {
	if s.attributionColumns {
		return `event_id, prospect_id, ts, event_type, batch_id, metadata_json,
			attributed_send_event_id, attributed_batch_id, attributed_state_at_send, attributed_model`
	}
	return `event_id, prospect_id, ts, event_type, batch_id, metadata_json,
			NULL, NULL, NULL, NULL`
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row scanner) (model.OutreachEvent, error) {
	var (
		event                     model.OutreachEvent
		prospectID, ts, eventType sql.NullString
		batchID, metadataJSON     sql.NullString
		sendEventID               sql.NullInt64
		attrBatch, attrState      sql.NullString
		attrModel                 sql.NullString
	)
	err := row.Scan(
		&event.EventID, &prospectID, &ts, &eventType, &batchID, &metadataJSON,
		&sendEventID, &attrBatch, &attrState, &attrModel,
	)
	if err != nil {
		return event, err
	}

	event.ProspectID = nullString(prospectID)
	event.RawTimestamp = nullString(ts)
	if parsed, ok := model.ParseTimestamp(event.RawTimestamp); ok {
		event.Timestamp = parsed
	}
	event.EventType = model.EventType(nullString(eventType))
	event.BatchID = nullString(batchID)
	event.Metadata = model.ParseMetadata(metadataJSON.String)

	if sendEventID.Valid {
		event.Attribution.SendEventID = ptr.Int64(sendEventID.Int64)
	}
	if attrBatch.Valid {
		event.Attribution.BatchID = ptr.String(attrBatch.String)
	}
	if attrState.Valid {
		event.Attribution.StateAtSend = ptr.String(attrState.String)
	}
	if attrModel.Valid {
		event.Attribution.Model = ptr.String(attrModel.String)
	}
	return event, nil
}

func (s store) queryEvents(ctx context.Context, query string, args ...interface{}) ([]model.OutreachEvent, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.OutreachEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, event)
	}
	return out, rows.Err()
}

// AppendEvent inserts an event and sets its EventID. Attribution fields are
// written once here and never updated.
func (s store) AppendEvent(ctx context.Context, event *model.OutreachEvent) (int64, error) {
	ctx, span := otel.Tracer("Events").Start(ctx, "Appending event to db")
	defer span.End()

	ts := event.RawTimestamp
	if !event.Timestamp.IsZero() {
		ts = model.FormatTimestamp(event.Timestamp)
	}
	result, err := s.q.ExecContext(ctx,
		`INSERT INTO outreach_events(
			prospect_id, ts, event_type, batch_id, metadata_json,
			attributed_send_event_id, attributed_batch_id, attributed_state_at_send, attributed_model
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ProspectID, ts, string(event.EventType), event.BatchID, event.Metadata.JSON(),
		event.Attribution.SendEventID, event.Attribution.BatchID, event.Attribution.StateAtSend, event.Attribution.Model,
	)
	if err != nil {
		return 0, errors.Wrapf(err, "appending %s event for %s", event.EventType, event.ProspectID)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	event.EventID = id
	return id, nil
}

func (s store) GetEventsByType(ctx context.Context, types ...model.EventType) ([]model.OutreachEvent, error) {
	ctx, span := otel.Tracer("Events").Start(ctx, "Fetching events by type")
	defer span.End()

	if len(types) == 0 {
		return nil, nil
	}
	args := make([]interface{}, len(types))
	for i, t := range types {
		args[i] = string(t)
	}
	query := fmt.Sprintf(`SELECT %s FROM outreach_events WHERE event_type IN (%s) ORDER BY event_id`,
		s.eventColumns(), placeholders(len(types)))
	events, err := s.queryEvents(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "fetching events by type")
	}
	return events, nil
}

func (s store) GetEventsByProspect(ctx context.Context, prospectID string) ([]model.OutreachEvent, error) {
	ctx, span := otel.Tracer("Events").Start(ctx, "Fetching events by prospect")
	defer span.End()

	query := fmt.Sprintf(`SELECT %s FROM outreach_events WHERE prospect_id = ? ORDER BY event_id`, s.eventColumns())
	events, err := s.queryEvents(ctx, query, prospectID)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching events of prospect %s", prospectID)
	}
	return events, nil
}

// GetEventsByMessageID returns events whose metadata names messageID as their
// outbound message, under either message_id or send_message_id.
func (s store) GetEventsByMessageID(ctx context.Context, messageID string) ([]model.OutreachEvent, error) {
	ctx, span := otel.Tracer("Events").Start(ctx, "Fetching events by message id")
	defer span.End()

	query := fmt.Sprintf(`SELECT %s FROM outreach_events WHERE %s = ? OR %s = ? ORDER BY event_id`,
		s.eventColumns(), metadataField("message_id"), metadataField("send_message_id"))
	events, err := s.queryEvents(ctx, query, messageID, messageID)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching events for message %s", messageID)
	}
	return events, nil
}

// ListSentEvents returns every sent event in event_id order. The email is the
// prospect's, else the one recorded in the send metadata.
func (s store) ListSentEvents(ctx context.Context) ([]model.SentEvent, error) {
	ctx, span := otel.Tracer("Events").Start(ctx, "Loading sent index")
	defer span.End()

	rows, err := s.q.QueryContext(ctx, `
		SELECT e.event_id, e.prospect_id, e.ts, e.batch_id, e.metadata_json, p.email
		FROM outreach_events e
		LEFT JOIN prospects p ON p.prospect_id = e.prospect_id
		WHERE e.event_type = 'sent'
		ORDER BY e.event_id`)
	if err != nil {
		return nil, errors.Wrap(err, "loading sent events")
	}
	defer rows.Close()

	var out []model.SentEvent
	for rows.Next() {
		var (
			sent                          model.SentEvent
			prospectID, ts, batchID, meta sql.NullString
			prospectEmail                 sql.NullString
		)
		if err := rows.Scan(&sent.EventID, &prospectID, &ts, &batchID, &meta, &prospectEmail); err != nil {
			return nil, err
		}
		metadata := model.ParseMetadata(meta.String)
		sent.ProspectID = nullString(prospectID)
		if parsed, ok := model.ParseTimestamp(ts.String); ok {
			sent.Timestamp = parsed
		}
		sent.BatchID = nullString(batchID)
		sent.StateAtSend = model.SentStateAtSend(metadata, sent.BatchID)
		sent.MessageID = metadata.MessageID
		sent.Email = model.NormalizeEmail(prospectEmail.String)
		if sent.Email == "" {
			sent.Email = model.NormalizeEmail(metadata.Email)
		}
		out = append(out, sent)
	}
	return out, rows.Err()
}

// GetCaptureLinkage returns the earliest capture event recorded for an inbound
// message id from source, or nil when there is none.
func (s store) GetCaptureLinkage(ctx context.Context, source, inboundMessageID string) (*model.OutreachEvent, error) {
	ctx, span := otel.Tracer("Events").Start(ctx, "Fetching persisted linkage")
	defer span.End()

	args := []interface{}{source, inboundMessageID}
	for _, t := range captureEventTypes {
		args = append(args, string(t))
	}
	query := fmt.Sprintf(`SELECT %s FROM outreach_events
		WHERE %s = ? AND %s = ? AND event_type IN (%s)
		ORDER BY event_id LIMIT 1`,
		s.eventColumns(), metadataField("source"), metadataField("inbound_message_id"), placeholders(len(captureEventTypes)))

	event, err := scanEvent(s.q.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "fetching linkage for %s", inboundMessageID)
	}
	return &event, nil
}

func (s store) CaptureKeyExists(ctx context.Context, captureKey string) (bool, error) {
	ctx, span := otel.Tracer("Events").Start(ctx, "Checking capture key")
	defer span.End()

	var found int
	err := s.q.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT 1 FROM outreach_events WHERE %s = ? LIMIT 1`, metadataField("capture_key")),
		captureKey,
	).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "checking capture key")
	}
	return true, nil
}
