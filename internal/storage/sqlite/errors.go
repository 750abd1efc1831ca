package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	sqlite3 "github.com/ncruces/go-sqlite3"

	"github.com/stoneforge-ai/stoneforge/internal/types"
)

// wrapDBError converts low-level database errors into the structured
// taxonomy, preserving the operation context.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return types.WrapError(types.KindNotFound, types.CodeNotFound, op, err)
	}
	var serr *sqlite3.Error
	if errors.As(err, &serr) {
		switch serr.Code() {
		case sqlite3.CONSTRAINT:
			return types.WrapError(types.KindConflict, types.CodeAlreadyExists, op, err)
		case sqlite3.CORRUPT, sqlite3.NOTADB:
			return types.WrapError(types.KindStorage, types.CodeIntegrityFailure, op, err)
		}
	}
	// Structured errors from our own layers pass through untouched.
	var tErr *types.Error
	if errors.As(err, &tErr) {
		return err
	}
	return types.WrapError(types.KindStorage, types.CodeDatabaseError, op, err)
}

// wrapDBErrorf is wrapDBError with a formatted operation string.
func wrapDBErrorf(err error, format string, args ...any) error {
	return wrapDBError(fmt.Sprintf(format, args...), err)
}
