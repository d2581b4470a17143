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
	"time"

	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/outreach/config"
	"github.com/blnkfinance/outreach/database"
	"github.com/blnkfinance/outreach/internal/backups"
	"github.com/blnkfinance/outreach/internal/metrics"
)

// CaptureSource tags every event and suppression row written by capture sync.
const CaptureSource = "capture_sync"

// RunLocker serializes capture sync runs that share a store.
type RunLocker interface {
	Acquire(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

// lockOwner is implemented by run locks that can name the run holding them.
type lockOwner interface {
	Key() string
	Holder(ctx context.Context) (string, error)
}

// Outreach runs the attribution jobs against one store.
type Outreach struct {
	datasource database.IDataSource
	config     *config.Configuration
	runLock    RunLocker
	backups    *backups.BackupManager
	metrics    *metrics.RunMetrics
	now        func() time.Time
}

// NewOutreach creates an Outreach bound to db using the loaded configuration.
func NewOutreach(db database.IDataSource) (*Outreach, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	return &Outreach{datasource: db, config: configuration, metrics: metrics.New()}, nil
}

// WithRunLock makes capture sync hold l for the duration of a run.
func (o *Outreach) WithRunLock(l RunLocker) *Outreach {
	o.runLock = l
	return o
}

// WithBackups enables pre-apply snapshots and artifact uploads.
func (o *Outreach) WithBackups(bm *backups.BackupManager) *Outreach {
	o.backups = bm
	return o
}

func (o *Outreach) clock() time.Time {
	if o.now != nil {
		return o.now().UTC()
	}
	return time.Now().UTC()
}

func (o *Outreach) writeMetrics() {
	if o.metrics == nil || o.config.Metrics.TextfilePath == "" {
		return
	}
	if err := o.metrics.WriteTextfile(o.config.Metrics.TextfilePath); err != nil {
		logrus.Warnf("metrics textfile not written: %v", err)
	}
}
