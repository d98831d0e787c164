package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/trustwork/escrow-engine/internal/models"
	"github.com/trustwork/escrow-engine/internal/repository/common"
)

var ErrContractNotFound = errors.New("contract not found")

type ContractRepository struct {
	db *sqlx.DB
}

func NewContractRepository(db *sqlx.DB) *ContractRepository {
	return &ContractRepository{db: db}
}

func (r *ContractRepository) Create(ctx context.Context, c *models.Contract) error {
	query := `
		INSERT INTO contracts (client_id, freelancer_id, total, currency, status, start_date, end_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	return r.db.QueryRowContext(ctx, query,
		c.ClientID, c.FreelancerID, c.Total, c.Currency, c.Status, c.StartDate, c.EndDate).
		Scan(&c.ID, &c.CreatedAt)
}

func (r *ContractRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Contract, error) {
	return common.GetByID[models.Contract](ctx, r.db, "contracts", id, ErrContractNotFound)
}

func (r *ContractRepository) ListByClientID(ctx context.Context, clientID uuid.UUID) ([]models.Contract, error) {
	return common.ListByField[models.Contract](ctx, r.db, "contracts", "client_id", clientID)
}

func (r *ContractRepository) ListByFreelancerID(ctx context.Context, freelancerID uuid.UUID) ([]models.Contract, error) {
	return common.ListByField[models.Contract](ctx, r.db, "contracts", "freelancer_id", freelancerID)
}

// UpdateStatus - единственная мутация контракта после выхода из draft.
// ext - открытая транзакция либо nil для записи вне транзакции.
func (r *ContractRepository) UpdateStatus(ctx context.Context, ext sqlx.ExtContext, id uuid.UUID, status string) error {
	res, err := common.Executor(r.db, ext).ExecContext(ctx, `UPDATE contracts SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("contract repository: update status %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrContractNotFound
	}
	return nil
}

// UpdateTotal меняет сумму контракта. Проверка, что контракт ещё в draft,
// выполняется сервисом под блокировкой контракта.
func (r *ContractRepository) UpdateTotal(ctx context.Context, id uuid.UUID, total float64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE contracts SET total = $2 WHERE id = $1`, id, total)
	if err != nil {
		return fmt.Errorf("contract repository: update total %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrContractNotFound
	}
	return nil
}
