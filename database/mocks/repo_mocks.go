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
package mocks

import (
	"context"

	"github.com/blnkfinance/outreach/database"
	"github.com/blnkfinance/outreach/model"
	"github.com/stretchr/testify/mock"
)

// MockStore is a mock implementation of the database.Writer interface
type MockStore struct {
	mock.Mock
}

// Event methods

func (m *MockStore) AppendEvent(ctx context.Context, event *model.OutreachEvent) (int64, error) {
	args := m.Called(ctx, event)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) GetEventsByType(ctx context.Context, types ...model.EventType) ([]model.OutreachEvent, error) {
	args := m.Called(ctx, types)
	return eventsArg(args, 0), args.Error(1)
}

func (m *MockStore) GetEventsByProspect(ctx context.Context, prospectID string) ([]model.OutreachEvent, error) {
	args := m.Called(ctx, prospectID)
	return eventsArg(args, 0), args.Error(1)
}

func (m *MockStore) GetEventsByMessageID(ctx context.Context, messageID string) ([]model.OutreachEvent, error) {
	args := m.Called(ctx, messageID)
	return eventsArg(args, 0), args.Error(1)
}

func (m *MockStore) ListSentEvents(ctx context.Context) ([]model.SentEvent, error) {
	args := m.Called(ctx)
	if v := args.Get(0); v != nil {
		return v.([]model.SentEvent), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) GetCaptureLinkage(ctx context.Context, source, inboundMessageID string) (*model.OutreachEvent, error) {
	args := m.Called(ctx, source, inboundMessageID)
	if v := args.Get(0); v != nil {
		return v.(*model.OutreachEvent), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) CaptureKeyExists(ctx context.Context, captureKey string) (bool, error) {
	args := m.Called(ctx, captureKey)
	return args.Bool(0), args.Error(1)
}

// Prospect methods

func (m *MockStore) GetProspectByID(ctx context.Context, prospectID string) (*model.Prospect, error) {
	args := m.Called(ctx, prospectID)
	if v := args.Get(0); v != nil {
		return v.(*model.Prospect), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) GetProspectByEmail(ctx context.Context, email string) (*model.Prospect, error) {
	args := m.Called(ctx, email)
	if v := args.Get(0); v != nil {
		return v.(*model.Prospect), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) GetAllProspects(ctx context.Context) ([]model.Prospect, error) {
	args := m.Called(ctx)
	if v := args.Get(0); v != nil {
		return v.([]model.Prospect), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) UpsertProspect(ctx context.Context, prospect *model.Prospect) (bool, error) {
	args := m.Called(ctx, prospect)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) UpdateProspectStatus(ctx context.Context, prospectID, status string) error {
	args := m.Called(ctx, prospectID, status)
	return args.Error(0)
}

// Suppression methods

func (m *MockStore) GetSuppressionEntries(ctx context.Context) ([]model.SuppressionEntry, error) {
	args := m.Called(ctx)
	if v := args.Get(0); v != nil {
		return v.([]model.SuppressionEntry), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) UpsertSuppression(ctx context.Context, entry model.SuppressionEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

// Trial methods

func (m *MockStore) GetTrial(ctx context.Context, prospectID, territoryCode string) (*model.Trial, error) {
	args := m.Called(ctx, prospectID, territoryCode)
	if v := args.Get(0); v != nil {
		return v.(*model.Trial), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) UpsertTrial(ctx context.Context, trial model.Trial) error {
	args := m.Called(ctx, trial)
	return args.Error(0)
}

func (m *MockStore) UpdateTrialStatus(ctx context.Context, prospectID, territoryCode, status string) (int64, error) {
	args := m.Called(ctx, prospectID, territoryCode, status)
	return args.Get(0).(int64), args.Error(1)
}

// MockTransaction is a mock implementation of the database.Transaction interface
type MockTransaction struct {
	MockStore
}

func (m *MockTransaction) Commit() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockTransaction) Rollback() error {
	args := m.Called()
	return args.Error(0)
}

// MockDataSource is a mock implementation of the database.IDataSource interface
type MockDataSource struct {
	MockStore
}

func (m *MockDataSource) Begin(ctx context.Context) (database.Transaction, error) {
	args := m.Called(ctx)
	if v := args.Get(0); v != nil {
		return v.(database.Transaction), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDataSource) Snapshot(ctx context.Context, dest string) error {
	args := m.Called(ctx, dest)
	return args.Error(0)
}

func (m *MockDataSource) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockDataSource) MissingTables(ctx context.Context, tables ...string) ([]string, error) {
	args := m.Called(ctx, tables)
	if v := args.Get(0); v != nil {
		return v.([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDataSource) TableColumns(ctx context.Context, table string) (map[string]bool, error) {
	args := m.Called(ctx, table)
	if v := args.Get(0); v != nil {
		return v.(map[string]bool), args.Error(1)
	}
	return nil, args.Error(1)
}

func eventsArg(args mock.Arguments, i int) []model.OutreachEvent {
	if v := args.Get(i); v != nil {
		return v.([]model.OutreachEvent)
	}
	return nil
}

var (
	_ database.IDataSource = (*MockDataSource)(nil)
	_ database.Transaction = (*MockTransaction)(nil)
)
