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

package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type EventType string

const (
	EventSent          EventType = "sent"
	EventDelivered     EventType = "delivered"
	EventBounce        EventType = "bounce"
	EventBounced       EventType = "bounced"
	EventReplied       EventType = "replied"
	EventDoNotContact  EventType = "do_not_contact"
	EventTrialStarted  EventType = "trial_started"
	EventConverted     EventType = "converted"
	EventSendFailed    EventType = "send_failed"
	EventTypeUndefined EventType = ""
)

// IsBounce reports whether the event confirms a bounce. The sender logs "bounce",
// capture sync records "bounced".
func (t EventType) IsBounce() bool {
	return t == EventBounce || t == EventBounced
}

// IsLifecycle reports whether the event is a funnel step that must only be
// attributed through persisted linkage when reporting.
func (t EventType) IsLifecycle() bool {
	return t == EventReplied || t == EventTrialStarted || t == EventConverted
}

// IsSuppressionWorthy reports whether recording the event must also suppress the address.
func (t EventType) IsSuppressionWorthy() bool {
	return t == EventDoNotContact || t == EventBounced
}

// OutreachEvent is one immutable row of the outreach event log.
type OutreachEvent struct {
	EventID      int64         `json:"event_id"`
	ProspectID   string        `json:"prospect_id"`
	Timestamp    time.Time     `json:"ts"`
	RawTimestamp string        `json:"-"`
	EventType    EventType     `json:"event_type"`
	BatchID      string        `json:"batch_id"`
	Metadata     EventMetadata `json:"metadata"`
	Attribution  Attribution   `json:"attribution"`
}

// Attribution holds the nullable attribution columns of an event. They are
// written once, by capture sync or a CRM mark, and never updated.
type Attribution struct {
	SendEventID *int64  `json:"attributed_send_event_id,omitempty"`
	BatchID     *string `json:"attributed_batch_id,omitempty"`
	StateAtSend *string `json:"attributed_state_at_send,omitempty"`
	Model       *string `json:"attributed_model,omitempty"`
}

func (a Attribution) SendEvent() int64 {
	if a.SendEventID == nil {
		return 0
	}
	return *a.SendEventID
}

func (a Attribution) Batch() string {
	if a.BatchID == nil {
		return ""
	}
	return strings.TrimSpace(*a.BatchID)
}

func (a Attribution) State() string {
	if a.StateAtSend == nil {
		return ""
	}
	return strings.TrimSpace(*a.StateAtSend)
}

func (a Attribution) ModelName() string {
	if a.Model == nil {
		return ""
	}
	return strings.TrimSpace(*a.Model)
}

// EventMetadata is the documented key set of the metadata_json column.
//
// sent events carry message_id, email and state. Capture sync events carry
// source, capture_key, inbound_message_id, triage_category, triage_action,
// matched_email and attribution_method. CRM marks carry note and territory_code.
// Keys outside this set are ignored when reading.
type EventMetadata struct {
	Source            string `json:"source,omitempty"`
	CaptureKey        string `json:"capture_key,omitempty"`
	InboundMessageID  string `json:"inbound_message_id,omitempty"`
	TriageCategory    string `json:"triage_category,omitempty"`
	TriageAction      string `json:"triage_action,omitempty"`
	MatchedEmail      string `json:"matched_email,omitempty"`
	AttributionMethod string `json:"attribution_method,omitempty"`
	MessageID         string `json:"message_id,omitempty"`
	SendMessageID     string `json:"send_message_id,omitempty"`
	Email             string `json:"email,omitempty"`
	State             string `json:"state,omitempty"`
	Note              string `json:"note,omitempty"`
	TerritoryCode     string `json:"territory_code,omitempty"`
}

// ParseMetadata decodes a metadata_json value. Malformed documents decode to
// the zero value and non-string scalars are rendered as text, so a single bad
// row never fails a run.
func ParseMetadata(raw string) EventMetadata {
	text := strings.TrimSpace(raw)
	if text == "" {
		return EventMetadata{}
	}
	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return EventMetadata{}
	}
	get := func(key string) string {
		v, ok := fields[key]
		if !ok || v == nil {
			return ""
		}
		if s, ok := v.(string); ok {
			return strings.TrimSpace(s)
		}
		return strings.TrimSpace(fmt.Sprint(v))
	}
	return EventMetadata{
		Source:            get("source"),
		CaptureKey:        get("capture_key"),
		InboundMessageID:  get("inbound_message_id"),
		TriageCategory:    get("triage_category"),
		TriageAction:      get("triage_action"),
		MatchedEmail:      get("matched_email"),
		AttributionMethod: get("attribution_method"),
		MessageID:         get("message_id"),
		SendMessageID:     get("send_message_id"),
		Email:             get("email"),
		State:             get("state"),
		Note:              get("note"),
		TerritoryCode:     get("territory_code"),
	}
}

// JSON encodes the metadata compactly for storage.
func (m EventMetadata) JSON() string {
	data, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// OutboundMessageID returns the outbound message id a delivery-class event refers to.
func (m EventMetadata) OutboundMessageID() string {
	if m.MessageID != "" {
		return m.MessageID
	}
	return m.SendMessageID
}

// SentEvent is a sent row joined with its prospect, the unit every attribution
// strategy resolves to.
type SentEvent struct {
	EventID     int64     `json:"event_id"`
	ProspectID  string    `json:"prospect_id"`
	Timestamp   time.Time `json:"ts"`
	BatchID     string    `json:"batch_id"`
	StateAtSend string    `json:"state_at_send"`
	MessageID   string    `json:"message_id"`
	Email       string    `json:"email"`
}

// SentStateAtSend derives the state a send was made for: the metadata state
// when present, else a "_XX" batch suffix. The value is not case folded.
func SentStateAtSend(meta EventMetadata, batchID string) string {
	if meta.State != "" {
		return meta.State
	}
	return StateFromBatch(batchID)
}
