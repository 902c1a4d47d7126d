package journal

import (
	"database/sql"

	"codeberg.org/mutker/pifan/internal/errors"
	"codeberg.org/mutker/pifan/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS fan_events (
	       seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	       id           TEXT NOT NULL UNIQUE,
	       timestamp    INTEGER NOT NULL CHECK (typeof(timestamp) = 'integer'),
	       source       TEXT NOT NULL CHECK (source IN ('sync', 'control', 'policy')),
	       action       TEXT NOT NULL,
	       mode         TEXT NOT NULL,
	       status       TEXT NOT NULL CHECK (status IN ('on', 'off', '')),
	       temperature  REAL NOT NULL
	   );`

	insertEventSQL = `
    INSERT INTO fan_events (
        id, timestamp, source, action, mode, status, temperature
    ) VALUES (?, ?, ?, ?, ?, ?, ?)`

	pruneEventsSQL = `
    DELETE FROM fan_events
    WHERE seq <= (SELECT MAX(seq) FROM fan_events) - ?`

	recentEventsSQL = `
    SELECT id, timestamp, source, action, mode, status, temperature
    FROM fan_events
    ORDER BY seq DESC
    LIMIT ?`
)

// InitSchema creates the journal tables and records the schema version.
func InitSchema(db *sql.DB) error {
	errFactory := errors.New()

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				logger.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			SQL   string
		}{
			Error: err.Error(),
			SQL:   createTablesSQL,
		})
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "record_version",
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	logger.Debug().
		Int("version", SchemaVersion).
		Msg("Journal schema initialized")

	return nil
}
