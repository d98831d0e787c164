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

var ErrDisputeNotFound = errors.New("dispute not found")

type DisputeRepository struct {
	db *sqlx.DB
}

func NewDisputeRepository(db *sqlx.DB) *DisputeRepository {
	return &DisputeRepository{db: db}
}

// Create вставляет спор. ext - открытая транзакция либо nil.
func (r *DisputeRepository) Create(ctx context.Context, ext sqlx.ExtContext, d *models.Dispute) error {
	query := `
		INSERT INTO disputes (contract_id, milestone_id, initiator_id, respondent_id, reason, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	return common.Executor(r.db, ext).QueryRowxContext(ctx, query,
		d.ContractID, d.MilestoneID, d.InitiatorID, d.RespondentID, d.Reason, d.Status).
		Scan(&d.ID, &d.CreatedAt)
}

func (r *DisputeRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	return common.GetByID[models.Dispute](ctx, r.db, "disputes", id, ErrDisputeNotFound)
}

// GetOpenByMilestoneID возвращает неразрешённый спор по этапу, если он есть.
func (r *DisputeRepository) GetOpenByMilestoneID(ctx context.Context, milestoneID uuid.UUID) (*models.Dispute, error) {
	var d models.Dispute
	err := r.db.GetContext(ctx, &d, `
		SELECT * FROM disputes
		WHERE milestone_id = $1 AND status IN ($2, $3)
	`, milestoneID, models.DisputeStatusOpen, models.DisputeStatusUnderReview)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDisputeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("dispute repository: get open by milestone %w", err)
	}
	return &d, nil
}

func (r *DisputeRepository) ListByContractID(ctx context.Context, contractID uuid.UUID) ([]models.Dispute, error) {
	return common.ListByField[models.Dispute](ctx, r.db, "disputes", "contract_id", contractID)
}

func (r *DisputeRepository) ListByInitiatorID(ctx context.Context, initiatorID uuid.UUID) ([]models.Dispute, error) {
	return common.ListByField[models.Dispute](ctx, r.db, "disputes", "initiator_id", initiatorID)
}

// AssignModerator назначает модератора и переводит спор в under_review.
func (r *DisputeRepository) AssignModerator(ctx context.Context, id, moderatorID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE disputes SET moderator_id = $2, status = $3 WHERE id = $1
	`, id, moderatorID, models.DisputeStatusUnderReview)
	if err != nil {
		return fmt.Errorf("dispute repository: assign moderator %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDisputeNotFound
	}
	return nil
}

// Resolve переводит спор в терминальный статус. resolved_at выставляется
// ровно один раз: уже разрешённый спор условие IS NULL не пропустит.
func (r *DisputeRepository) Resolve(ctx context.Context, ext sqlx.ExtContext, id uuid.UUID, status, resolution string, resolvedAt time.Time) error {
	res, err := common.Executor(r.db, ext).ExecContext(ctx, `
		UPDATE disputes SET status = $2, resolution = $3, resolved_at = $4
		WHERE id = $1 AND resolved_at IS NULL
	`, id, status, resolution, resolvedAt)
	if err != nil {
		return fmt.Errorf("dispute repository: resolve %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDisputeNotFound
	}
	return nil
}
