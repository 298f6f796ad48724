package errors

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"net"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// MapStoreError maps persistence backend errors to AppError instances.
// It handles the error surfaces of both job store backends:
// - sql.ErrNoRows / pgx.ErrNoRows → NotFound
// - Unique and primary key violations → Conflict
// - Connection, I/O, and corruption classes → StoreUnavailable
// - Context timeouts/cancellations → Timeout/Canceled
//
// If the error is not a recognized backend error, it returns the original error.
func MapStoreError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &AppError{
			Code:    ErrCodeTimeout,
			Message: "store operation timed out",
			Cause:   err,
		}
	}
	if errors.Is(err, context.Canceled) {
		return &AppError{
			Code:    ErrCodeCanceled,
			Message: "store operation was canceled",
			Cause:   err,
		}
	}

	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows) {
		return &AppError{
			Code:    ErrCodeNotFound,
			Message: "record not found",
			Cause:   err,
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return mapPgError(pgErr)
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return mapSQLiteError(sqliteErr)
	}

	// Dial failures and missing store files surface before any driver error code.
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &AppError{
			Code:    ErrCodeStoreUnavailable,
			Message: "store is unreachable",
			Cause:   err,
		}
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return &AppError{
			Code:    ErrCodeStoreUnavailable,
			Message: "store file is not accessible",
			Cause:   err,
		}
	}

	return err
}

// mapPgError maps PostgreSQL-specific errors to AppError instances.
func mapPgError(pgErr *pgconn.PgError) error {
	code := pgErr.Code
	switch {
	case code == pgerrcode.UniqueViolation:
		return &AppError{
			Code:    ErrCodeConflict,
			Message: "a record with this id already exists",
			Cause:   pgErr,
		}
	case code == pgerrcode.SerializationFailure, code == pgerrcode.DeadlockDetected:
		return &AppError{
			Code:    ErrCodeConflict,
			Message: "concurrent mutation detected, retry the operation",
			Cause:   pgErr,
		}
	case code == pgerrcode.CheckViolation, code == pgerrcode.NotNullViolation:
		return &AppError{
			Code:    ErrCodeValidation,
			Message: "record violates a store constraint",
			Cause:   pgErr,
		}
	case pgerrcode.IsConnectionException(code),
		pgerrcode.IsOperatorIntervention(code),
		pgerrcode.IsInsufficientResources(code),
		code == pgerrcode.InvalidCatalogName:
		return &AppError{
			Code:    ErrCodeStoreUnavailable,
			Message: "store is unavailable",
			Cause:   pgErr,
		}
	default:
		return &AppError{
			Code:    ErrCodeInternal,
			Message: "store operation failed",
			Cause:   pgErr,
		}
	}
}

// mapSQLiteError maps embedded store errors to AppError instances.
// The primary result code lives in the low byte; extended codes refine it.
func mapSQLiteError(sqliteErr *sqlite.Error) error {
	switch sqliteErr.Code() & 0xff {
	case sqlite3.SQLITE_CONSTRAINT:
		return &AppError{
			Code:    ErrCodeConflict,
			Message: "a record with this id already exists",
			Cause:   sqliteErr,
		}
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return &AppError{
			Code:    ErrCodeConflict,
			Message: "store is busy, retry the operation",
			Cause:   sqliteErr,
		}
	case sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB,
		sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_IOERR,
		sqlite3.SQLITE_FULL, sqlite3.SQLITE_READONLY:
		return &AppError{
			Code:    ErrCodeStoreUnavailable,
			Message: "store file is unavailable or corrupt",
			Cause:   sqliteErr,
		}
	default:
		return &AppError{
			Code:    ErrCodeInternal,
			Message: "store operation failed",
			Cause:   sqliteErr,
		}
	}
}
