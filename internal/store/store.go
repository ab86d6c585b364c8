// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package store

import (
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/qustavo/sqlhooks/v2"
)

// Store is a sqlite-backed checkpoint store. A single open connection is
// used throughout, since sqlite does not benefit from connection pooling
// and concurrent writers would just serialize on its file lock anyway.
type Store struct {
	db      *sqlx.DB
	builder sq.StatementBuilderType
}

var driverRegistered bool

// Open creates (if necessary) and migrates the sqlite database at path.
func Open(path string) (*Store, error) {
	if !driverRegistered {
		sql.Register("sqlite3_with_hooks", sqlhooks.Wrap(&sqlite3.SQLiteDriver{}, &queryHooks{}))
		driverRegistered = true
	}

	db, err := sqlx.Open("sqlite3_with_hooks", fmt.Sprintf("%s?_foreign_keys=on", path))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, builder: sq.StatementBuilder.PlaceholderFormat(sq.Question)}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Checkpoint persists a series' last-ingested timestamp and running daily
// accumulator. It satisfies series.Checkpointer.
func (s *Store) Checkpoint(seriesName string, lastTimestamp time.Time, accDate time.Time, accMin, accMax float64) error {
	_, err := s.builder.Replace("series_checkpoint").
		Columns("series_name", "last_ts", "acc_date", "acc_min", "acc_max").
		Values(seriesName, lastTimestamp.Unix(), accDate.Unix(), accMin, accMax).
		RunWith(s.db).
		Exec()
	return err
}

// LoadCheckpoint returns the last saved checkpoint for a series, or
// found=false if none exists yet. It satisfies series.Checkpointer.
func (s *Store) LoadCheckpoint(seriesName string) (lastTimestamp, accDate time.Time, accMin, accMax float64, found bool, err error) {
	row := s.builder.Select("last_ts", "acc_date", "acc_min", "acc_max").
		From("series_checkpoint").
		Where(sq.Eq{"series_name": seriesName}).
		RunWith(s.db).
		QueryRow()

	var lastTS, accDateUnix int64
	if scanErr := row.Scan(&lastTS, &accDateUnix, &accMin, &accMax); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return time.Time{}, time.Time{}, 0, 0, false, nil
		}
		return time.Time{}, time.Time{}, 0, 0, false, scanErr
	}
	return time.Unix(lastTS, 0).UTC(), time.Unix(accDateUnix, 0).UTC(), accMin, accMax, true, nil
}

// SaveCooldown persists one alert key's cool-down deadline. It satisfies
// alert.Checkpointer.
func (s *Store) SaveCooldown(key uint64, until time.Time) error {
	_, err := s.builder.Replace("alert_cooldown").
		Columns("alert_key", "until").
		Values(int64(key), until.Unix()).
		RunWith(s.db).
		Exec()
	return err
}

// LoadCooldowns returns every persisted cool-down deadline, keyed by alert
// key. It satisfies alert.Checkpointer.
func (s *Store) LoadCooldowns() (map[uint64]time.Time, error) {
	rows, err := s.builder.Select("alert_key", "until").From("alert_cooldown").RunWith(s.db).Query()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uint64]time.Time)
	for rows.Next() {
		var key int64
		var until int64
		if err := rows.Scan(&key, &until); err != nil {
			return nil, err
		}
		out[uint64(key)] = time.Unix(until, 0).UTC()
	}
	return out, rows.Err()
}

// SaveFailureCount persists a series' monotonically increasing missing-data
// failure counter. It satisfies alert.Checkpointer. A count of 0 clears the
// row rather than storing a tombstone, since the counter starts back at one
// on the next outage either way.
func (s *Store) SaveFailureCount(seriesName string, count int) error {
	if count <= 0 {
		_, err := s.builder.Delete("alert_failure_counter").
			Where(sq.Eq{"series_name": seriesName}).
			RunWith(s.db).
			Exec()
		return err
	}
	_, err := s.builder.Replace("alert_failure_counter").
		Columns("series_name", "count").
		Values(seriesName, count).
		RunWith(s.db).
		Exec()
	return err
}

// LoadFailureCounts returns every persisted missing-data failure counter,
// keyed by series name. It satisfies alert.Checkpointer.
func (s *Store) LoadFailureCounts() (map[string]int, error) {
	rows, err := s.builder.Select("series_name", "count").From("alert_failure_counter").RunWith(s.db).Query()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var name string
		var count int
		if err := rows.Scan(&name, &count); err != nil {
			return nil, err
		}
		out[name] = count
	}
	return out, rows.Err()
}
