package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/3Eeeecho/go-filevault/internal/pkg/xerr"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// queryContext 为单次数据库调用加上超时，timeout <= 0 时只继承调用方 ctx
func queryContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// dbError 包装数据库错误，调用方可以用 errors.Is(err, xerr.ErrDatabaseError) 判断依赖故障
func dbError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, xerr.ErrDatabaseError, err)
}

// isTransientLockError 判断是否为可重试的锁冲突
// MySQL 死锁/锁等待超时，Postgres 序列化失败/死锁，SQLite busy/locked
func isTransientLockError(err error) bool {
	if err == nil {
		return false
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1213 || myErr.Number == 1205
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "sqlite_busy")
}

// isDuplicateKeyError 唯一索引冲突
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}

	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
