package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/oreon-chat/oreon/internal/types"
)

const uniqueViolation = "23505"

// sqlState extracts the SQLSTATE code from either driver's error type.
func sqlState(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, true
	}

	return "", false
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}

	if code, ok := sqlState(err); ok {
		switch {
		case strings.HasPrefix(code, "08"), // connection exception
			code == "40001", // serialization_failure
			code == "40P01", // deadlock_detected
			code == "53300", // too_many_connections
			strings.HasPrefix(code, "57P"):
			return true
		}
		return false
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// classify maps a driver error onto the core's error kinds. onUnique is the
// kind reported for a unique constraint violation.
func classify(err error, onUnique error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return types.ErrNotFound
	case isTransient(err):
		return fmt.Errorf("%w: %v", types.ErrStorageUnavailable, err)
	}

	if code, ok := sqlState(err); ok && code == uniqueViolation && onUnique != nil {
		return fmt.Errorf("%w: %v", onUnique, err)
	}

	return err
}
