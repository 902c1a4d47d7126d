package journal

import "codeberg.org/mutker/pifan/internal/errors"

const (
	ErrInvalidConfig = errors.ErrInvalidConfig

	// Schema Errors
	ErrSchemaInitFailed  = errors.ErrorCode("journal_schema_init_failed")
	ErrTransactionFailed = errors.ErrorCode("journal_transaction_failed")

	// Storage Errors
	ErrStorageInit   = errors.ErrInitFailed
	ErrStorageClose  = errors.ErrShutdownFailed
	ErrStorageQuery  = errors.ErrorCode("journal_query_failed")
	ErrJournalClosed = errors.ErrorCode("journal_closed")

	// Event Errors
	ErrInvalidEvent = errors.ErrorCode("journal_invalid_event")

	ErrOperationTimeout = errors.ErrTimeout
)
