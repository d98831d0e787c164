package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/trustwork/escrow-engine/internal/models"
	"github.com/trustwork/escrow-engine/internal/repository/common"
)

var ErrReviewNotFound = errors.New("review not found")

type ReviewRepository struct {
	db *sqlx.DB
}

func NewReviewRepository(db *sqlx.DB) *ReviewRepository {
	return &ReviewRepository{db: db}
}

func (r *ReviewRepository) Create(ctx context.Context, review *models.Review) error {
	query := `
		INSERT INTO reviews (contract_id, reviewer_id, receiver_id, rating, comment)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	return r.db.QueryRowContext(ctx, query,
		review.ContractID, review.ReviewerID, review.ReceiverID, review.Rating, review.Comment).
		Scan(&review.ID, &review.CreatedAt)
}

func (r *ReviewRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Review, error) {
	return common.GetByID[models.Review](ctx, r.db, "reviews", id, ErrReviewNotFound)
}

// GetByContractAndReviewer возвращает отзыв пользователя по контракту.
// nil без ошибки означает, что отзыва ещё нет.
func (r *ReviewRepository) GetByContractAndReviewer(ctx context.Context, contractID, reviewerID uuid.UUID) (*models.Review, error) {
	var review models.Review
	err := r.db.GetContext(ctx, &review, `
		SELECT * FROM reviews WHERE contract_id = $1 AND reviewer_id = $2
	`, contractID, reviewerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("review repository: get by contract and reviewer %w", err)
	}
	return &review, nil
}

func (r *ReviewRepository) ListByReceiverID(ctx context.Context, receiverID uuid.UUID, limit, offset int) ([]models.Review, error) {
	var reviews []models.Review
	err := r.db.SelectContext(ctx, &reviews, `
		SELECT * FROM reviews WHERE receiver_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, receiverID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("review repository: list by receiver %w", err)
	}
	return reviews, nil
}

// GetAverageRating возвращает средний рейтинг и количество отзывов о пользователе.
func (r *ReviewRepository) GetAverageRating(ctx context.Context, userID uuid.UUID) (float64, int, error) {
	var row struct {
		Avg   sql.NullFloat64 `db:"avg"`
		Count int             `db:"count"`
	}
	err := r.db.GetContext(ctx, &row, `
		SELECT AVG(rating) AS avg, COUNT(*) AS count FROM reviews WHERE receiver_id = $1
	`, userID)
	if err != nil {
		return 0, 0, fmt.Errorf("review repository: average rating %w", err)
	}
	return row.Avg.Float64, row.Count, nil
}
