package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/trustwork/escrow-engine/internal/models"
	"github.com/trustwork/escrow-engine/internal/repository/common"
)

var ErrMilestoneNotFound = errors.New("milestone not found")

type MilestoneRepository struct {
	db *sqlx.DB
}

func NewMilestoneRepository(db *sqlx.DB) *MilestoneRepository {
	return &MilestoneRepository{db: db}
}

func (r *MilestoneRepository) Create(ctx context.Context, m *models.Milestone) error {
	query := `
		INSERT INTO milestones (contract_id, amount, status, due_date)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	return r.db.QueryRowContext(ctx, query, m.ContractID, m.Amount, m.Status, m.DueDate).
		Scan(&m.ID, &m.CreatedAt)
}

func (r *MilestoneRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Milestone, error) {
	return common.GetByID[models.Milestone](ctx, r.db, "milestones", id, ErrMilestoneNotFound)
}

func (r *MilestoneRepository) ListByContractID(ctx context.Context, contractID uuid.UUID) ([]models.Milestone, error) {
	return common.ListByField[models.Milestone](ctx, r.db, "milestones", "contract_id", contractID)
}

// UpdateStatus меняет статус этапа. ext - открытая транзакция либо nil.
func (r *MilestoneRepository) UpdateStatus(ctx context.Context, ext sqlx.ExtContext, id uuid.UUID, status string) error {
	res, err := common.Executor(r.db, ext).ExecContext(ctx, `UPDATE milestones SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("milestone repository: update status %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrMilestoneNotFound
	}
	return nil
}

// MarkApproved переводит этап в ready_for_payment и фиксирует момент приёмки.
func (r *MilestoneRepository) MarkApproved(ctx context.Context, ext sqlx.ExtContext, id uuid.UUID, approvedAt time.Time) error {
	res, err := common.Executor(r.db, ext).ExecContext(ctx, `
		UPDATE milestones SET status = $2, approved_at = $3 WHERE id = $1
	`, id, models.MilestoneStatusReadyForPayment, approvedAt)
	if err != nil {
		return fmt.Errorf("milestone repository: mark approved %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrMilestoneNotFound
	}
	return nil
}

// MarkCompleted переводит этап в completed и выставляет completed_at ровно один раз:
// условие completed_at IS NULL отсекает повторное завершение на уровне хранилища.
func (r *MilestoneRepository) MarkCompleted(ctx context.Context, id uuid.UUID, completedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE milestones SET status = $2, completed_at = $3
		WHERE id = $1 AND completed_at IS NULL
	`, id, models.MilestoneStatusCompleted, completedAt)
	if err != nil {
		return fmt.Errorf("milestone repository: mark completed %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrMilestoneNotFound
	}
	return nil
}
