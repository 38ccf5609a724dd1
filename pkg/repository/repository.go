package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	// DBX: Database Error
	ErrGeneric = errors.New("DBX: Internal server error")

	// DBXO: Bad operation
	// DBXQ: Bad query
	ErrDuplicate        = errors.New("DBXO: Duplicate")
	ErrNotFound         = errors.New("DBXQ: Not found")
	ErrRelationNotExist = errors.New("DBXO: Relation not exists")
)

// Class 23: integrity constraint violation
// https://github.com/jackc/pgerrcode/blob/master/errcode.go
const (
	UniqueViolation     = "23505"
	ForeignKeyViolation = "23503"
)

type Repository[T any] interface {
	Find(ctx context.Context, options FindOptions) ([]*T, error)
}

// gorm generic repository
type repository[T any] struct {
	db *gorm.DB
}

func NewRepository[T any](db *gorm.DB) Repository[T] {
	return &repository[T]{db: db}
}

// WrapError maps driver errors onto the package sentinels. Unknown errors
// keep their text but match ErrGeneric.
func WrapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case UniqueViolation:
			return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
		case ForeignKeyViolation:
			return fmt.Errorf("%w: %s", ErrRelationNotExist, pgErr.ConstraintName)
		}
	}
	return fmt.Errorf("%w: %w", ErrGeneric, err)
}

func HealthCheck(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).Exec("SELECT 1").Error; err != nil {
		return fmt.Errorf("DB is not healthy: %w", err)
	}
	return nil
}

func applyFindOptions(db *gorm.DB, options FindOptions) *gorm.DB {
	isSelectAll := len(options.Select) == 1 && options.Select[0] == "*"
	if options.Select != nil && !isSelectAll {
		db = db.Select(strings.Join(options.Select, ","))
	}

	if options.Where != nil {
		db = db.Where(map[string]any(options.Where))
	}

	for _, o := range options.Order {
		db = db.Order(fmt.Sprintf("%s %s", o.Field, o.Direction))
	}

	if options.Limit != 0 {
		db = db.Limit(int(options.Limit))
	}

	if options.Offset != 0 {
		db = db.Offset(int(options.Offset))
	}

	return db
}

func (r *repository[T]) Find(ctx context.Context, options FindOptions) ([]*T, error) {
	var results []*T
	db := applyFindOptions(r.db.WithContext(ctx).Model(new(T)), options)

	if err := db.Find(&results).Error; err != nil {
		return nil, WrapError(err)
	}
	return results, nil
}
