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

	"github.com/blnkfinance/outreach/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	Writer
	schema // Interface for schema inspection
	Begin(ctx context.Context) (Transaction, error)
	Snapshot(ctx context.Context, dest string) error
	Close() error
}

// Reader groups every read the engine performs against the store.
type Reader interface {
	events      // Interface for event log reads
	prospects   // Interface for prospect reads
	suppression // Interface for suppression list reads
	trials      // Interface for trial reads
}

// Writer extends Reader with the mutating operations.
type Writer interface {
	Reader
	eventWriter       // Interface for appending to the event log
	prospectWriter    // Interface for prospect mutations
	suppressionWriter // Interface for suppression upserts
	trialWriter       // Interface for trial mutations
}

// Transaction is a Writer bound to one database transaction. Nothing it writes
// is visible to other connections until Commit.
type Transaction interface {
	Writer
	Commit() error
	Rollback() error
}

// events defines read methods on the outreach event log.
type events interface {
	// GetEventsByType retrieves events of the given types in event_id order.
	GetEventsByType(ctx context.Context, types ...model.EventType) ([]model.OutreachEvent, error)
	// GetEventsByProspect retrieves all events of a prospect.
	GetEventsByProspect(ctx context.Context, prospectID string) ([]model.OutreachEvent, error)
	// GetEventsByMessageID retrieves events referencing an outbound message id.
	GetEventsByMessageID(ctx context.Context, messageID string) ([]model.OutreachEvent, error)
	// ListSentEvents retrieves every sent event joined with its prospect.
	ListSentEvents(ctx context.Context) ([]model.SentEvent, error)
	// GetCaptureLinkage retrieves the first event recorded for an inbound message.
	GetCaptureLinkage(ctx context.Context, source, inboundMessageID string) (*model.OutreachEvent, error)
	// CaptureKeyExists checks whether a capture key was already recorded.
	CaptureKeyExists(ctx context.Context, captureKey string) (bool, error)
}

type eventWriter interface {
	// AppendEvent appends an event and returns its store-assigned id.
	AppendEvent(ctx context.Context, event *model.OutreachEvent) (int64, error)
}

// prospects defines read methods on prospects.
type prospects interface {
	GetProspectByID(ctx context.Context, prospectID string) (*model.Prospect, error)
	GetProspectByEmail(ctx context.Context, email string) (*model.Prospect, error)
	GetAllProspects(ctx context.Context) ([]model.Prospect, error)
}

type prospectWriter interface {
	// UpsertProspect inserts or updates by prospect_id, reports whether it existed.
	UpsertProspect(ctx context.Context, prospect *model.Prospect) (bool, error)
	// UpdateProspectStatus sets the lifecycle status of a prospect.
	UpdateProspectStatus(ctx context.Context, prospectID, status string) error
}

type suppression interface {
	GetSuppressionEntries(ctx context.Context) ([]model.SuppressionEntry, error)
}

type suppressionWriter interface {
	UpsertSuppression(ctx context.Context, entry model.SuppressionEntry) error // Inserts or replaces the entry for a normalized email
}

type trials interface {
	GetTrial(ctx context.Context, prospectID, territoryCode string) (*model.Trial, error)
}

type trialWriter interface {
	UpsertTrial(ctx context.Context, trial model.Trial) error
	UpdateTrialStatus(ctx context.Context, prospectID, territoryCode, status string) (int64, error)
}

// schema defines store inspection used before reporting.
type schema interface {
	MissingTables(ctx context.Context, tables ...string) ([]string, error)
	TableColumns(ctx context.Context, table string) (map[string]bool, error)
}
