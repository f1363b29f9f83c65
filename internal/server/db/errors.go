package db

import (
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrUnavailable marks any account store failure. The wrapped message keeps
// the underlying cause for logs; UserMessage derives what end users see.
var ErrUnavailable = errors.New("account store unavailable")

// ErrNotFound is returned by operations that target a specific account.
var ErrNotFound = errors.New("account not found")

// ErrInvalidTransition is returned when an administrative status change
// would leave the pending -> approved|denied state machine.
var ErrInvalidTransition = errors.New("illegal status transition")

// storeError wraps a low-level database error with its operation.
func storeError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

// UserMessage maps a store failure onto a user-presentable sentence. The
// class is derived from the primary SQLite result code.
func UserMessage(err error) string {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return "Account store is busy. Please try again in a moment."
		case sqlite3.SQLITE_FULL:
			return "Account store is out of capacity. Please contact support."
		case sqlite3.SQLITE_IOERR, sqlite3.SQLITE_CANTOPEN:
			return "Account store connection failed. Please try again later."
		case sqlite3.SQLITE_CONSTRAINT:
			return "Unable to update the account record due to a conflict. Please contact support."
		}
	}
	return "Account store error. Please contact support if this persists."
}
