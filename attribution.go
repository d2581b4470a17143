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
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/wacul/ptr"

	"github.com/blnkfinance/outreach/database"
	"github.com/blnkfinance/outreach/model"
)

// AttributionModel names the strategy that linked a signal to a send.
type AttributionModel string

const (
	ModelPersistedLinkage AttributionModel = "persisted_linkage"
	ModelMessageID        AttributionModel = "message_id"
	ModelLastTouchWindow  AttributionModel = "last_touch_window"
	ModelEmailDirect      AttributionModel = "email_direct"
	ModelUnknown          AttributionModel = "unknown"
)

// CohortBasis names how the report placed an event in its cohort.
type CohortBasis string

const (
	BasisEventBatch           CohortBasis = "event_batch"
	BasisPersistedSendEventID CohortBasis = "persisted_send_event_id"
	BasisPersistedBatchState  CohortBasis = "persisted_batch_state"
	BasisMessageID            CohortBasis = "message_id"
	BasisLastTouchWindow      CohortBasis = "last_touch_window"
	BasisUnknown              CohortBasis = "unknown"
)

const DefaultAttributionWindowDays = 30

// Attribution is the outcome of resolving an inbound signal. An empty
// ProspectID means nothing could be resolved.
type Attribution struct {
	ProspectID  string
	Email       string
	SendEventID int64
	BatchID     string
	StateAtSend string
	Model       AttributionModel
}

func (a Attribution) Resolved() bool {
	return a.ProspectID != ""
}

// Persisted converts the attribution to the nullable event columns. A zero
// send id is stored as NULL.
func (a Attribution) Persisted() model.Attribution {
	out := model.Attribution{
		BatchID:     ptr.String(a.BatchID),
		StateAtSend: ptr.String(a.StateAtSend),
		Model:       ptr.String(string(a.Model)),
	}
	if a.SendEventID > 0 {
		out.SendEventID = ptr.Int64(a.SendEventID)
	}
	return out
}

func fromSent(sent model.SentEvent, m AttributionModel) Attribution {
	return Attribution{
		ProspectID:  sent.ProspectID,
		Email:       sent.Email,
		SendEventID: sent.EventID,
		BatchID:     sent.BatchID,
		StateAtSend: sent.StateAtSend,
		Model:       m,
	}
}

// SentIndex holds every sent event keyed the ways attribution looks them up.
// Per-email and per-prospect lists are ordered by (timestamp, event_id).
type SentIndex struct {
	byID        map[int64]model.SentEvent
	byMessageID map[string]model.SentEvent
	byEmail     map[string][]model.SentEvent
	byProspect  map[string][]model.SentEvent
	all         []model.SentEvent
}

func NewSentIndex(sents []model.SentEvent) *SentIndex {
	ordered := make([]model.SentEvent, len(sents))
	copy(ordered, sents)
	sort.SliceStable(ordered, func(i, j int) bool {
		return sentBefore(ordered[i], ordered[j])
	})

	idx := &SentIndex{
		byID:        make(map[int64]model.SentEvent, len(ordered)),
		byMessageID: make(map[string]model.SentEvent),
		byEmail:     make(map[string][]model.SentEvent),
		byProspect:  make(map[string][]model.SentEvent),
		all:         ordered,
	}
	for _, sent := range ordered {
		idx.byID[sent.EventID] = sent
		if id := strings.TrimSpace(sent.MessageID); id != "" {
			idx.byMessageID[id] = sent
		}
		if sent.Timestamp.IsZero() {
			continue
		}
		if sent.Email != "" {
			idx.byEmail[sent.Email] = append(idx.byEmail[sent.Email], sent)
		}
		if sent.ProspectID != "" {
			idx.byProspect[sent.ProspectID] = append(idx.byProspect[sent.ProspectID], sent)
		}
	}
	return idx
}

func sentBefore(a, b model.SentEvent) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.EventID < b.EventID
}

// All returns the sent events ordered by (timestamp, event_id).
func (x *SentIndex) All() []model.SentEvent {
	return x.all
}

func (x *SentIndex) ByID(id int64) (model.SentEvent, bool) {
	sent, ok := x.byID[id]
	return sent, ok
}

// ByMessageID returns the latest send carrying the outbound message id.
func (x *SentIndex) ByMessageID(messageID string) (model.SentEvent, bool) {
	sent, ok := x.byMessageID[strings.TrimSpace(messageID)]
	return sent, ok
}

// LastTouchByEmail returns the latest send to email within windowDays before at.
func (x *SentIndex) LastTouchByEmail(email string, at time.Time, windowDays int) (model.SentEvent, bool) {
	return lastTouch(x.byEmail[model.NormalizeEmail(email)], at, windowDays)
}

// LastTouchByProspect returns the latest send to the prospect within windowDays before at.
func (x *SentIndex) LastTouchByProspect(prospectID string, at time.Time, windowDays int) (model.SentEvent, bool) {
	return lastTouch(x.byProspect[strings.TrimSpace(prospectID)], at, windowDays)
}

func lastTouch(candidates []model.SentEvent, at time.Time, windowDays int) (model.SentEvent, bool) {
	if windowDays < 1 {
		windowDays = 1
	}
	lower := at.Add(-time.Duration(windowDays) * 24 * time.Hour)
	for i := len(candidates) - 1; i >= 0; i-- {
		sent := candidates[i]
		if sent.Timestamp.After(at) {
			continue
		}
		if sent.Timestamp.Before(lower) {
			break
		}
		return sent, true
	}
	return model.SentEvent{}, false
}

// Resolver links signals and events to the send that caused them.
type Resolver struct {
	store      database.Reader
	index      *SentIndex
	windowDays int
	source     string
}

func NewResolver(store database.Reader, index *SentIndex, windowDays int) *Resolver {
	if windowDays < 1 {
		windowDays = DefaultAttributionWindowDays
	}
	return &Resolver{store: store, index: index, windowDays: windowDays, source: CaptureSource}
}

// ResolveSignal attributes an inbound signal, trying persisted linkage,
// outbound message id, last touch within the window and finally a prospect
// with the same address. The first strategy that finds a prospect wins.
func (r *Resolver) ResolveSignal(ctx context.Context, inboundMessageID, email string, at time.Time) (Attribution, error) {
	inboundMessageID = strings.TrimSpace(inboundMessageID)
	email = model.NormalizeEmail(email)

	if inboundMessageID != "" {
		prior, err := r.store.GetCaptureLinkage(ctx, r.source, inboundMessageID)
		if err != nil {
			return Attribution{}, errors.Wrap(err, "persisted linkage")
		}
		if prior != nil && strings.TrimSpace(prior.ProspectID) != "" {
			return Attribution{
				ProspectID:  strings.TrimSpace(prior.ProspectID),
				Email:       email,
				SendEventID: prior.Attribution.SendEvent(),
				BatchID:     prior.Attribution.Batch(),
				StateAtSend: prior.Attribution.State(),
				Model:       ModelPersistedLinkage,
			}, nil
		}

		if sent, ok := r.index.ByMessageID(inboundMessageID); ok && sent.ProspectID != "" {
			attr := fromSent(sent, ModelMessageID)
			if attr.Email == "" {
				attr.Email = email
			}
			return attr, nil
		}
	}

	if email == "" {
		return Attribution{}, nil
	}

	if sent, ok := r.index.LastTouchByEmail(email, at, r.windowDays); ok && sent.ProspectID != "" {
		attr := fromSent(sent, ModelLastTouchWindow)
		attr.Email = email
		return attr, nil
	}

	prospect, err := r.store.GetProspectByEmail(ctx, email)
	if err != nil {
		return Attribution{}, errors.Wrap(err, "email lookup")
	}
	if prospect != nil {
		return Attribution{ProspectID: prospect.ProspectID, Email: email, Model: ModelEmailDirect}, nil
	}
	return Attribution{Email: email}, nil
}

// ResolveEventCohort places a stored event in its report cohort.
//
// Delivered and bounce events logged against their own batch keep it, taking
// the state recorded at capture when neither metadata nor the batch suffix has one.
// Persisted attribution comes next: a send event id resolves through the
// index, a bare batch is used with its recorded state. Lifecycle events stop
// there, so a missing link lands in UNKNOWN instead of being guessed. Other
// events fall back to the outbound message id and then last touch by prospect.
func (r *Resolver) ResolveEventCohort(ev model.OutreachEvent) (model.Cohort, CohortBasis) {
	preferBatch := ev.EventType == model.EventDelivered || ev.EventType.IsBounce()
	batch := strings.TrimSpace(ev.BatchID)

	if preferBatch && batch != "" {
		state := model.SentStateAtSend(ev.Metadata, batch)
		if state == "" && ev.Attribution.Batch() == batch {
			state = ev.Attribution.State()
		}
		return model.NewCohort(batch, state), BasisEventBatch
	}

	if id := ev.Attribution.SendEvent(); id > 0 {
		if sent, ok := r.index.ByID(id); ok {
			return model.NewCohort(sent.BatchID, sent.StateAtSend), BasisPersistedSendEventID
		}
		return model.UnknownCohort, BasisUnknown
	}

	if attributed := ev.Attribution.Batch(); attributed != "" {
		return model.NewCohort(attributed, ev.Attribution.State()), BasisPersistedBatchState
	}

	if ev.EventType.IsLifecycle() {
		return model.UnknownCohort, BasisUnknown
	}

	if msgID := ev.Metadata.OutboundMessageID(); msgID != "" {
		if sent, ok := r.index.ByMessageID(msgID); ok {
			return model.NewCohort(sent.BatchID, sent.StateAtSend), BasisMessageID
		}
	}

	if ev.Timestamp.IsZero() {
		return model.UnknownCohort, BasisUnknown
	}

	if sent, ok := r.index.LastTouchByProspect(ev.ProspectID, ev.Timestamp, r.windowDays); ok {
		return model.NewCohort(sent.BatchID, sent.StateAtSend), BasisLastTouchWindow
	}
	return model.UnknownCohort, BasisUnknown
}

// ResolveEmailCohort attributes an address-only signal by last touch.
func (r *Resolver) ResolveEmailCohort(email string, at time.Time) model.Cohort {
	if sent, ok := r.index.LastTouchByEmail(email, at, r.windowDays); ok {
		return model.NewCohort(sent.BatchID, sent.StateAtSend)
	}
	return model.UnknownCohort
}
