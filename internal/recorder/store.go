package recorder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"gopkg.in/yaml.v3"

	"groundlink/fclink"
)

var errStoreClosed = errors.New("store closed")

// Session is a recorded connection
type Session struct {
	ID        int64
	StartTime time.Time
	Port      string
	Config    *string
}

// SqliteStore keeps recorded flights in a SQLite database. The
// database is opened, and its schema created, on first use.
type SqliteStore struct {
	dbPath string

	db     *sql.DB
	dbOnce sync.Once
	dbErr  error

	closeOnce sync.Once
	closeErr  error
}

// NewSqliteStore returns a store for the database at dbPath
func NewSqliteStore(dbPath string) *SqliteStore {
	return &SqliteStore{dbPath: dbPath}
}

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

func (s *SqliteStore) getDB() (*sql.DB, error) {
	s.dbOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL"))
		if err != nil {
			s.dbErr = fmt.Errorf("opening database: %w", err)
			return
		}
		// A single connection serializes the writers
		db.SetMaxOpenConns(1)

		if _, err = db.Exec(initSchemaSQL); err != nil {
			_ = db.Close()
			s.dbErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.db = db
	})

	if s.db == nil && s.dbErr == nil {
		return nil, errStoreClosed
	}
	return s.db, s.dbErr
}

// CreateSession starts a new session for the given port. config,
// if not nil, is stored as YAML.
func (s *SqliteStore) CreateSession(ctx context.Context, port string, config any) (sessionID int64, err error) {
	var configData sql.NullString
	if config != nil {
		var p []byte
		if p, err = yaml.Marshal(config); err != nil {
			err = fmt.Errorf("marshaling config: %w", err)
			return
		}
		configData.Valid = true
		configData.String = string(p)
	}

	db, err := s.getDB()
	if err != nil {
		return
	}

	result, err := db.ExecContext(ctx, insertSessionSQL, time.Now().UTC(), port, configData)
	if err != nil {
		err = fmt.Errorf("inserting session: %w", err)
		return
	}

	sessionID, err = result.LastInsertId()
	if err != nil {
		err = fmt.Errorf("getting session ID: %w", err)
	}
	return
}

// Sessions returns every recorded session, oldest first
func (s *SqliteStore) Sessions(ctx context.Context) (sessions []*Session, err error) {
	db, err := s.getDB()
	if err != nil {
		return
	}

	rows, err := db.QueryContext(ctx, selectSessionsSQL)
	if err != nil {
		err = fmt.Errorf("querying sessions: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var sess Session
		var config sql.NullString
		if err = rows.Scan(&sess.ID, &sess.StartTime, &sess.Port, &config); err != nil {
			err = fmt.Errorf("scanning session: %w", err)
			return
		}
		if config.Valid {
			sess.Config = &config.String
		}
		sessions = append(sessions, &sess)
	}
	err = rows.Err()
	return
}

// StoreTelemetry appends a telemetry record to the session
func (s *SqliteStore) StoreTelemetry(ctx context.Context, sessionID int64, rec *fclink.TelemetryRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, insertTelemetrySQL,
		sessionID,
		rec.Received.UTC(),
		rec.TimestampMs,
		rec.From,
		rec.RSSI,
		rec.SNR,
		rec.Roll,
		rec.Pitch,
		rec.Yaw,
		rec.Altitude,
		rec.BatteryVoltage,
		uint8(rec.State),
		rec.Encode(),
	)
	if err != nil {
		return fmt.Errorf("inserting telemetry: %w", err)
	}
	return nil
}

// StoreLog appends a log entry to the session
func (s *SqliteStore) StoreLog(ctx context.Context, sessionID int64, entry fclink.LogEntry) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	if _, err = db.ExecContext(ctx, insertLogSQL, sessionID, entry.Time.UTC(), entry.Message); err != nil {
		return fmt.Errorf("inserting log: %w", err)
	}
	return nil
}

// Telemetry returns the records of a session in arrival order
func (s *SqliteStore) Telemetry(ctx context.Context, sessionID int64) (records []fclink.TelemetryRecord, err error) {
	db, err := s.getDB()
	if err != nil {
		return
	}

	rows, err := db.QueryContext(ctx, selectTelemetrySQL, sessionID)
	if err != nil {
		err = fmt.Errorf("querying telemetry: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var received time.Time
		var source uint16
		var rssi, snr int
		var payload string
		if err = rows.Scan(&received, &source, &rssi, &snr, &payload); err != nil {
			err = fmt.Errorf("scanning telemetry: %w", err)
			return
		}
		var rec *fclink.TelemetryRecord
		if rec, err = fclink.DecodeTelemetry(payload); err != nil {
			return
		}
		rec.Received = received
		rec.From = source
		rec.RSSI = rssi
		rec.SNR = snr
		records = append(records, *rec)
	}
	err = rows.Err()
	return
}

// Logs returns the log entries of a session in arrival order
func (s *SqliteStore) Logs(ctx context.Context, sessionID int64) (entries []fclink.LogEntry, err error) {
	db, err := s.getDB()
	if err != nil {
		return
	}

	rows, err := db.QueryContext(ctx, selectLogsSQL, sessionID)
	if err != nil {
		err = fmt.Errorf("querying logs: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var entry fclink.LogEntry
		if err = rows.Scan(&entry.Time, &entry.Message); err != nil {
			err = fmt.Errorf("scanning log: %w", err)
			return
		}
		entries = append(entries, entry)
	}
	err = rows.Err()
	return
}

// Close creates the query indexes and closes the database
func (s *SqliteStore) Close() error {
	s.closeOnce.Do(func() {
		if s.db != nil {
			_, _ = s.db.Exec(initIndexesSQL)
			s.closeErr = s.db.Close()
			s.db = nil
		}
	})

	return s.closeErr
}
