package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"arenaoj/pkg/utils/logger"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
)

const mysqlDuplicateEntry = 1062

// Querier is what Database and Transaction have in common.
type Querier interface {
	Query(ctx context.Context, query string, args ...interface{}) (Rows, error)
	QueryRow(ctx context.Context, query string, args ...interface{}) Row
	Exec(ctx context.Context, query string, args ...interface{}) (Result, error)
}

// QuerierFor runs statements inside tx when one is open.
func QuerierFor(database Database, tx Transaction) Querier {
	if tx != nil {
		return tx
	}
	return database
}

// IsNoRows reports a lookup that matched nothing.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// DuplicateKey returns the index a MySQL duplicate-entry error tripped on.
func DuplicateKey(err error) (string, bool) {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) || myErr.Number != mysqlDuplicateEntry {
		return "", false
	}
	// Message: Duplicate entry '<value>' for key '<index>'
	_, key, found := strings.Cut(myErr.Message, "for key ")
	if !found {
		return "", true
	}
	return strings.Trim(strings.TrimSpace(key), "`\"'"), true
}

// InsertOnce folds a duplicate-entry error from an append-only insert into a replay.
// replayed is true when the row already existed; err is then nil.
func InsertOnce(ctx context.Context, table string, err error) (replayed bool, _ error) {
	key, dup := DuplicateKey(err)
	if !dup {
		return false, err
	}
	logger.Info(ctx, "insert replayed, row already recorded", zap.String("table", table), zap.String("key", key))
	return true, nil
}
