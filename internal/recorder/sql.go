package recorder

const (
	initSchemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    start_time TIMESTAMP NOT NULL,
    port       TEXT NOT NULL,
    config     TEXT
);

CREATE TABLE IF NOT EXISTS telemetry (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id   INTEGER NOT NULL REFERENCES sessions (id),
    received     TIMESTAMP NOT NULL,
    timestamp_ms INTEGER NOT NULL,
    source       INTEGER NOT NULL,
    rssi         INTEGER NOT NULL,
    snr          INTEGER NOT NULL,
    roll         REAL NOT NULL,
    pitch        REAL NOT NULL,
    yaw          REAL NOT NULL,
    altitude     REAL NOT NULL,
    battery      REAL NOT NULL,
    state        INTEGER NOT NULL,
    payload      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS logs (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id INTEGER NOT NULL REFERENCES sessions (id),
    time       TIMESTAMP NOT NULL,
    message    TEXT NOT NULL
);`

	initIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_telemetry_session ON telemetry (session_id, received);
CREATE INDEX IF NOT EXISTS idx_logs_session ON logs (session_id, time);`

	insertSessionSQL = `
INSERT INTO sessions (
                      start_time,
                      port,
                      config)
VALUES (?, ?, ?)`

	selectSessionsSQL = `
SELECT
    id,
    start_time,
    port,
    config
FROM sessions
ORDER BY id`

	insertTelemetrySQL = `
INSERT INTO telemetry (session_id,
                       received,
                       timestamp_ms,
                       source,
                       rssi,
                       snr,
                       roll,
                       pitch,
                       yaw,
                       altitude,
                       battery,
                       state,
                       payload)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectTelemetrySQL = `
SELECT
    received,
    source,
    rssi,
    snr,
    payload
FROM telemetry
WHERE
    session_id = ?
ORDER BY id`

	insertLogSQL = `
INSERT INTO logs (session_id,
                  time,
                  message)
VALUES (?, ?, ?)`

	selectLogsSQL = `
SELECT
    time,
    message
FROM logs
WHERE
    session_id = ?
ORDER BY id`
)
