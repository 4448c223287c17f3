package db

import (
	"context"
	"errors"
	"strings"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	if hasSQLState(err, "23505") || hasMySQLCode(err, 1062) {
		return true
	}

	// PostgreSQL (error code 23505)
	if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
		return true
	}

	// MySQL (error code 1062)
	if strings.Contains(err.Error(), "Error 1062") {
		return true
	}

	// SQLite (error code 2067)
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}

	return false
}

// IsLockTimeoutErr reports whether err means a lock wait ran out of time.
func IsLockTimeoutErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	// 55P03 lock_not_available, 57014 query_canceled (statement or lock timeout)
	if hasSQLState(err, "55P03") || hasSQLState(err, "57014") {
		return true
	}
	// 1205 lock wait timeout, 3572 nowait
	if hasMySQLCode(err, 1205) || hasMySQLCode(err, 3572) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// IsSerializationErr reports serialization failures and deadlocks.
func IsSerializationErr(err error) bool {
	if err == nil {
		return false
	}
	if hasSQLState(err, "40001") || hasSQLState(err, "40P01") {
		return true
	}
	return hasMySQLCode(err, 1213)
}

func hasSQLState(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == code
	}
	return false
}

func hasMySQLCode(err error, code uint16) bool {
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == code
	}
	return false
}
