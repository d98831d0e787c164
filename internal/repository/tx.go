package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/trustwork/escrow-engine/internal/repository/common"
)

// TxManager открывает транзакции хранилища для сервисного слоя: записи
// нескольких репозиториев внутри одного вызова коммитятся или откатываются
// целиком.
type TxManager struct {
	db *sqlx.DB
}

func NewTxManager(db *sqlx.DB) *TxManager {
	return &TxManager{db: db}
}

func (m *TxManager) WithTransaction(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return common.WithTransaction(ctx, m.db, fn)
}
