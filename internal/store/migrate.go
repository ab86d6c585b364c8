// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package store implements the aggregator's optional durable side-store: a
// sqlite database that checkpoints each series' last-ingested timestamp
// and running daily accumulator, plus every alert key's cool-down
// deadline and each series' missing-data failure counter, so a restart
// does not lose alert state. Startup still replays each series' CSV
// history in full and only compares the result with the saved checkpoint.
// The CSV files remain the sole durability requirement the spec places on
// series data; this store is an alert-state convenience and a consistency
// check, never a second copy of record truth.
package store

import (
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/kaloix/home-sensor/pkg/log"
)

const schemaVersion uint = 2

//go:embed migrations/*
var migrationFiles embed.FS

// migrate applies every pending migration, creating the database file and
// schema on first run.
func (s *Store) migrate() error {
	driver, err := sqlite3.WithInstance(s.db.DB, &sqlite3.Config{})
	if err != nil {
		return err
	}
	src, err := iofs.New(migrationFiles, "migrations/sqlite3")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("store: migrate: %w", err)
	}

	v, _, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return err
	}
	log.Infof("store: schema at version %d (supported %d)", v, schemaVersion)
	return nil
}
