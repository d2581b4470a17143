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
	"net/url"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

const driverName = "sqlite3"

// Datasource is the SQLite backed store. The pool is capped at one connection,
// so while a Transaction is open every read must go through it.
type Datasource struct {
	store
	Conn     *sql.DB
	Path     string
	ReadOnly bool
}

// OpenDataSource connects to the store file at path, creating it when needed,
// and brings the schema up to date.
func OpenDataSource(path string) (*Datasource, error) {
	con, err := ConnectDB(path)
	if err != nil {
		return nil, err
	}
	if _, err := Migrate(con); err != nil {
		_ = con.Close()
		return nil, err
	}
	return newDatasource(con, path, false), nil
}

// OpenReadOnly opens an existing store without creating, migrating or writing
// it. Missing attribution columns on outreach_events are read as NULL.
func OpenReadOnly(ctx context.Context, path string) (*Datasource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	con, err := open(path, true)
	if err != nil {
		return nil, err
	}
	ds := newDatasource(con, path, true)
	cols, err := ds.TableColumns(ctx, "outreach_events")
	if err != nil {
		_ = con.Close()
		return nil, err
	}
	ds.attributionColumns = hasColumns(cols, AttributionColumns...)
	if !ds.attributionColumns {
		logrus.Warnf("store %s has no attribution columns, persisted attribution reads as empty", path)
	}
	suppressionCols, err := ds.TableColumns(ctx, "suppression")
	if err != nil {
		_ = con.Close()
		return nil, err
	}
	ds.suppressionSource = suppressionCols["source"]
	return ds, nil
}

// ConnectDB opens a read-write connection to the SQLite file at path.
func ConnectDB(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "creating store directory")
	}
	return open(path, false)
}

func open(path string, readOnly bool) (*sql.DB, error) {
	db, err := sql.Open(driverName, dsn(path, readOnly))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	err = db.Ping()
	if err != nil {
		logrus.Errorf("database connection error: %v", err)
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func dsn(path string, readOnly bool) string {
	params := url.Values{}
	params.Set("_busy_timeout", "5000")
	if readOnly {
		params.Set("mode", "ro")
	} else {
		params.Set("_foreign_keys", "on")
	}
	return "file:" + path + "?" + params.Encode()
}

func newDatasource(con *sql.DB, path string, readOnly bool) *Datasource {
	return &Datasource{
		store:    store{q: con, attributionColumns: true, suppressionSource: true},
		Conn:     con,
		Path:     path,
		ReadOnly: readOnly,
	}
}

// Begin starts the single write transaction of a run.
func (d *Datasource) Begin(ctx context.Context) (Transaction, error) {
	if d.ReadOnly {
		return nil, errors.New("store opened read-only")
	}
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "beginning transaction")
	}
	return &Tx{
		store: store{q: tx, attributionColumns: d.attributionColumns, suppressionSource: d.suppressionSource},
		tx:    tx,
	}, nil
}

func (d *Datasource) Close() error {
	return d.Conn.Close()
}

// Tx is a Transaction over the store.
type Tx struct {
	store
	tx *sql.Tx
}

func (t *Tx) Commit() error {
	return t.tx.Commit()
}

func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}

// Snapshot writes a consistent copy of the store to dest with VACUUM INTO.
// dest must not exist.
func (d *Datasource) Snapshot(ctx context.Context, dest string) error {
	ctx, span := otel.Tracer("Datasource").Start(ctx, "Snapshotting store")
	defer span.End()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return errors.Wrap(err, "creating snapshot directory")
	}
	if _, err := d.Conn.ExecContext(ctx, `VACUUM INTO ?`, dest); err != nil {
		return errors.Wrapf(err, "snapshotting store to %s", dest)
	}
	return nil
}
