package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/trustwork/escrow-engine/internal/models"
	"github.com/trustwork/escrow-engine/internal/repository/common"
)

var (
	ErrPaymentNotFound  = errors.New("escrow payment not found")
	ErrNoActivePayment  = errors.New("no active escrow payment for milestone")
	ErrPaymentNotActive = errors.New("escrow payment is not active")
)

type EscrowRepository struct {
	db *sqlx.DB
}

func NewEscrowRepository(db *sqlx.DB) *EscrowRepository {
	return &EscrowRepository{db: db}
}

func (r *EscrowRepository) Create(ctx context.Context, p *models.EscrowPayment) error {
	query := `
		INSERT INTO escrow_payments (milestone_id, contract_id, payer_id, payee_id, amount, external_ref, deposited_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	return r.db.QueryRowContext(ctx, query,
		p.MilestoneID, p.ContractID, p.PayerID, p.PayeeID, p.Amount, p.ExternalRef, p.DepositedAt).
		Scan(&p.ID)
}

func (r *EscrowRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.EscrowPayment, error) {
	return common.GetByID[models.EscrowPayment](ctx, r.db, "escrow_payments", id, ErrPaymentNotFound)
}

// GetActiveByMilestoneID возвращает действующий (не выплаченный и не закрытый)
// депозит этапа. По инварианту такой депозит может быть только один.
func (r *EscrowRepository) GetActiveByMilestoneID(ctx context.Context, milestoneID uuid.UUID) (*models.EscrowPayment, error) {
	var p models.EscrowPayment
	err := r.db.GetContext(ctx, &p, `
		SELECT * FROM escrow_payments
		WHERE milestone_id = $1 AND released_at IS NULL AND closed_at IS NULL
	`, milestoneID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoActivePayment
	}
	if err != nil {
		return nil, fmt.Errorf("escrow repository: get active payment %w", err)
	}
	return &p, nil
}

// GetReleasedByMilestoneID возвращает выплаченный депозит этапа, если он есть.
func (r *EscrowRepository) GetReleasedByMilestoneID(ctx context.Context, milestoneID uuid.UUID) (*models.EscrowPayment, error) {
	var p models.EscrowPayment
	err := r.db.GetContext(ctx, &p, `
		SELECT * FROM escrow_payments
		WHERE milestone_id = $1 AND released_at IS NOT NULL
		ORDER BY released_at DESC LIMIT 1
	`, milestoneID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("escrow repository: get released payment %w", err)
	}
	return &p, nil
}

func (r *EscrowRepository) ListByContractID(ctx context.Context, contractID uuid.UUID) ([]models.EscrowPayment, error) {
	var payments []models.EscrowPayment
	err := r.db.SelectContext(ctx, &payments, `
		SELECT * FROM escrow_payments WHERE contract_id = $1 ORDER BY deposited_at
	`, contractID)
	if err != nil {
		return nil, fmt.Errorf("escrow repository: list by contract %w", err)
	}
	return payments, nil
}

// ListActiveByContractID возвращает все удерживаемые депозиты контракта.
func (r *EscrowRepository) ListActiveByContractID(ctx context.Context, contractID uuid.UUID) ([]models.EscrowPayment, error) {
	var payments []models.EscrowPayment
	err := r.db.SelectContext(ctx, &payments, `
		SELECT * FROM escrow_payments
		WHERE contract_id = $1 AND released_at IS NULL AND closed_at IS NULL
		ORDER BY deposited_at
	`, contractID)
	if err != nil {
		return nil, fmt.Errorf("escrow repository: list active by contract %w", err)
	}
	return payments, nil
}

// MarkReleased фиксирует выплату. Условие по released_at/closed_at делает запись
// однократной: повторная выплата или выплата закрытого платежа не проходят.
// ext - открытая транзакция либо nil.
func (r *EscrowRepository) MarkReleased(ctx context.Context, ext sqlx.ExtContext, id uuid.UUID, releasedAt time.Time, externalRef *string) error {
	res, err := common.Executor(r.db, ext).ExecContext(ctx, `
		UPDATE escrow_payments SET released_at = $2, external_ref = COALESCE($3, external_ref)
		WHERE id = $1 AND released_at IS NULL AND closed_at IS NULL
	`, id, releasedAt, externalRef)
	if err != nil {
		return fmt.Errorf("escrow repository: mark released %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrPaymentNotActive
	}
	return nil
}

// MarkClosed закрывает платёж возвратом без выплаты (реверс по спору или отмене).
func (r *EscrowRepository) MarkClosed(ctx context.Context, ext sqlx.ExtContext, id uuid.UUID, closedAt time.Time, externalRef *string) error {
	res, err := common.Executor(r.db, ext).ExecContext(ctx, `
		UPDATE escrow_payments SET closed_at = $2, external_ref = COALESCE($3, external_ref)
		WHERE id = $1 AND released_at IS NULL AND closed_at IS NULL
	`, id, closedAt, externalRef)
	if err != nil {
		return fmt.Errorf("escrow repository: mark closed %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrPaymentNotActive
	}
	return nil
}
