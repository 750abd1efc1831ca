package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite3 "github.com/ncruces/go-sqlite3"

	"github.com/stoneforge-ai/stoneforge/internal/storage"
)

// beginStatement maps the isolation level onto a raw BEGIN statement.
// database/sql has no notion of SQLite's transaction modes, so the
// statement is issued directly on a dedicated connection.
func beginStatement(iso storage.Isolation) (string, error) {
	switch iso {
	case storage.Deferred, "":
		return "BEGIN DEFERRED", nil
	case storage.Immediate:
		return "BEGIN IMMEDIATE", nil
	case storage.Exclusive:
		return "BEGIN EXCLUSIVE", nil
	}
	return "", fmt.Errorf("unknown isolation level: %s", iso)
}

// Transaction executes fn with all Store calls routed through one
// transaction on a dedicated connection.
//
// Lifecycle:
//  1. Serialize on the process-wide write mutex.
//  2. Acquire a dedicated connection from the pool.
//  3. BEGIN <mode>, retrying SQLITE_BUSY with backoff.
//  4. Run fn against a transactional Store view.
//  5. COMMIT on success; ROLLBACK on error or panic (panics re-raise).
//
// Nested calls join the enclosing transaction.
func (s *Store) Transaction(ctx context.Context, iso storage.Isolation, fn func(tx storage.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	stmt, err := beginStatement(iso)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return wrapDBError("acquire transaction connection", err)
	}
	defer func() { _ = conn.Close() }()

	if err := beginWithRetry(ctx, conn, stmt, 5, 10*time.Millisecond); err != nil {
		return wrapDBError("begin transaction", err)
	}

	committed := false
	defer func() {
		if !committed {
			// Background context so rollback survives ctx cancellation.
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	txStore := &Store{
		db:      s.db,
		q:       conn,
		dbPath:  s.dbPath,
		writeMu: s.writeMu,
		inTx:    true,
	}

	if err := fn(txStore); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return wrapDBError("commit transaction", err)
	}
	committed = true
	return nil
}

// beginWithRetry issues the BEGIN statement, backing off exponentially
// on SQLITE_BUSY. Another process can hold the file write lock even
// with the in-process mutex held.
func beginWithRetry(ctx context.Context, conn *sql.Conn, stmt string, attempts int, initialDelay time.Duration) error {
	delay := initialDelay
	var err error
	for i := 0; i < attempts; i++ {
		_, err = conn.ExecContext(ctx, stmt)
		if err == nil {
			return nil
		}
		if !isBusy(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

// isBusy reports whether err is SQLITE_BUSY or SQLITE_LOCKED.
func isBusy(err error) bool {
	var serr *sqlite3.Error
	if errors.As(err, &serr) {
		code := serr.Code()
		return code == sqlite3.BUSY || code == sqlite3.LOCKED
	}
	return strings.Contains(err.Error(), "database is locked")
}
