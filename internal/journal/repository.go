package journal

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"codeberg.org/mutker/pifan/internal/errors"
	"codeberg.org/mutker/pifan/internal/logger"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// The journal is process-resident: every restart starts empty.
const memoryDSN = ":memory:"

type repository struct {
	db            *sql.DB
	cfg           Config
	mu            sync.Mutex
	buffer        []Event
	closed        bool
	flushTicker   *time.Ticker
	shutdownChan  chan struct{}
	flushDoneChan chan struct{}
	now           func() time.Time
}

// New opens an in-memory journal and starts its background flusher.
func New(cfg Config) (Journal, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", memoryDSN)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}

	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	// A fresh ":memory:" database is always empty, so the schema is created
	// once per open.
	if err := InitSchema(db); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "init_schema",
			Error: err.Error(),
		})
	}

	repo := &repository{
		db:            db,
		cfg:           cfg,
		buffer:        make([]Event, 0, cfg.BatchSize),
		flushTicker:   time.NewTicker(cfg.FlushInterval),
		shutdownChan:  make(chan struct{}),
		flushDoneChan: make(chan struct{}),
		now:           time.Now,
	}

	go repo.flusher()

	logger.Debug().
		Int("capacity", cfg.Capacity).
		Int("batch_size", cfg.BatchSize).
		Dur("flush_interval", cfg.FlushInterval).
		Int("schema_version", SchemaVersion).
		Msg("Event journal initialized")

	return repo, nil
}

// Record buffers an event, assigning an id and timestamp when missing.
func (r *repository) Record(ctx context.Context, event Event) error {
	errFactory := errors.New()

	if !event.Source.IsValid() {
		return errFactory.WithData(ErrInvalidEvent, event.Source)
	}

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errFactory.New(ErrJournalClosed)
	}

	r.buffer = append(r.buffer, event)

	if len(r.buffer) >= r.cfg.BatchSize {
		return r.flush()
	}

	return nil
}

// Recent returns up to limit events, newest first. Buffered events are
// flushed first so callers always see what was recorded.
func (r *repository) Recent(ctx context.Context, limit int) ([]Event, error) {
	errFactory := errors.New()
	limit = ClampLimit(limit)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, errFactory.New(ErrJournalClosed)
	}
	err := r.flush()
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, recentEventsSQL, limit)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageQuery, err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			e      Event
			millis int64
			source string
		)
		if err := rows.Scan(&e.ID, &millis, &source, &e.Action, &e.Mode, &e.Status, &e.Temperature); err != nil {
			return nil, errFactory.Wrap(ErrStorageQuery, err)
		}
		e.Source = Source(source)
		e.Timestamp = time.UnixMilli(millis)
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageQuery, err)
	}

	return events, nil
}

func (r *repository) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	close(r.shutdownChan)
	r.flushTicker.Stop()
	<-r.flushDoneChan

	if err := r.db.Close(); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "close_database",
			Error: err.Error(),
		})
	}

	logger.Debug().Msg("Event journal closed")

	return nil
}

func (r *repository) flusher() {
	defer close(r.flushDoneChan)

	for {
		select {
		case <-r.flushTicker.C:
			r.mu.Lock()
			_ = r.flush()
			r.mu.Unlock()
		case <-r.shutdownChan:
			r.mu.Lock()
			_ = r.flush()
			r.mu.Unlock()
			return
		}
	}
}

// flush writes the buffer in one transaction and prunes beyond capacity.
// Callers hold r.mu.
func (r *repository) flush() error {
	if len(r.buffer) == 0 {
		return nil
	}

	errFactory := errors.New()

	tx, err := r.db.Begin()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to begin transaction")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	stmt, err := tx.Prepare(insertEventSQL)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to prepare statement")
		if err := tx.Rollback(); err != nil {
			logger.Error().Err(err).Msg("Failed to roll back transaction")
		}
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer stmt.Close()

	for _, e := range r.buffer {
		if _, err := stmt.Exec(
			e.ID,
			e.Timestamp.UnixMilli(),
			string(e.Source),
			e.Action,
			e.Mode,
			e.Status,
			e.Temperature,
		); err != nil {
			logger.Error().Err(err).Str("id", e.ID).Msg("Failed to insert event")
			if err := tx.Rollback(); err != nil {
				logger.Error().Err(err).Msg("Failed to roll back transaction")
			}
			// A rejected batch is discarded.
			r.buffer = r.buffer[:0]
			return errFactory.Wrap(ErrTransactionFailed, err)
		}
	}

	if _, err := tx.Exec(pruneEventsSQL, r.cfg.Capacity); err != nil {
		if err := tx.Rollback(); err != nil {
			logger.Error().Err(err).Msg("Failed to roll back transaction")
		}
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	if err := tx.Commit(); err != nil {
		logger.Error().Err(err).Msg("Failed to commit transaction")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	logger.Debug().Int("records", len(r.buffer)).Msg("Flushed events to journal")
	r.buffer = r.buffer[:0]

	return nil
}
