package common

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// GetByID - универсальная функция для получения сущности по ID.
// Устраняет дубликаты кода GetByID во всех репозиториях.
func GetByID[T any](ctx context.Context, db *sqlx.DB, table string, id interface{}, notFoundErr error) (*T, error) {
	var entity T
	query := fmt.Sprintf("SELECT * FROM %s WHERE id = $1", table)

	if err := db.GetContext(ctx, &entity, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundErr
		}
		return nil, fmt.Errorf("get by id from %s: %w", table, err)
	}

	return &entity, nil
}

// Executor возвращает исполнителя запросов: переданную транзакцию, если она
// открыта, иначе собственное соединение репозитория.
func Executor(db *sqlx.DB, ext sqlx.ExtContext) sqlx.ExtContext {
	if ext != nil {
		return ext
	}
	return db
}

// ListByField - универсальная функция для выборки сущностей по полю.
func ListByField[T any](ctx context.Context, db *sqlx.DB, table, field string, value interface{}) ([]T, error) {
	var entities []T
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = $1 ORDER BY created_at", table, field)

	if err := db.SelectContext(ctx, &entities, query, value); err != nil {
		return nil, fmt.Errorf("list by %s from %s: %w", field, table, err)
	}

	return entities, nil
}

// WithTransaction выполняет функцию внутри транзакции с правильной обработкой ошибок.
func WithTransaction(ctx context.Context, db *sqlx.DB, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p) // re-throw panic after rollback
		}
	}()

	err = fn(tx)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx error: %w, rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}
