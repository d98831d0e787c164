package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/trustwork/escrow-engine/internal/models"
	"github.com/trustwork/escrow-engine/internal/pkg/apperror"
	"github.com/trustwork/escrow-engine/internal/repository"
)

// ReviewRepository описывает хранилище отзывов со стороны сервисов.
type ReviewRepository interface {
	Create(ctx context.Context, review *models.Review) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Review, error)
	GetByContractAndReviewer(ctx context.Context, contractID, reviewerID uuid.UUID) (*models.Review, error)
	ListByReceiverID(ctx context.Context, receiverID uuid.UUID, limit, offset int) ([]models.Review, error)
	GetAverageRating(ctx context.Context, userID uuid.UUID) (float64, int, error)
}

// ReviewService содержит бизнес-логику отзывов по завершённым контрактам.
type ReviewService struct {
	reviews   ReviewRepository
	contracts ContractRepository
}

func NewReviewService(reviews ReviewRepository, contracts ContractRepository) *ReviewService {
	return &ReviewService{reviews: reviews, contracts: contracts}
}

// CreateReview создаёт отзыв после завершения контракта. Один отзыв на пару
// (контракт, автор) - жёсткий инвариант: дубликаты накручивали бы балл доверия.
func (s *ReviewService) CreateReview(ctx context.Context, contractID, reviewerID uuid.UUID, rating int, comment *string) (*models.Review, error) {
	if rating < 1 || rating > 5 {
		return nil, apperror.New(apperror.ErrCodeValidation, "рейтинг должен быть от 1 до 5")
	}

	contract, err := s.contracts.GetByID(ctx, contractID)
	if err != nil {
		if errors.Is(err, repository.ErrContractNotFound) {
			return nil, apperror.ErrContractNotFound
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось получить контракт")
	}

	if contract.Status != models.ContractStatusCompleted {
		return nil, apperror.New(apperror.ErrCodePreconditionFailed,
			"отзыв можно оставить только после завершения контракта")
	}

	var receiverID uuid.UUID
	switch reviewerID {
	case contract.ClientID:
		receiverID = contract.FreelancerID
	case contract.FreelancerID:
		receiverID = contract.ClientID
	default:
		return nil, apperror.New(apperror.ErrCodeValidation, "вы не участник этого контракта")
	}

	existing, err := s.reviews.GetByContractAndReviewer(ctx, contractID, reviewerID)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось проверить существующие отзывы")
	}
	if existing != nil {
		return nil, apperror.New(apperror.ErrCodeInvariantViolation,
			"вы уже оставили отзыв по этому контракту")
	}

	review := &models.Review{
		ContractID: contractID,
		ReviewerID: reviewerID,
		ReceiverID: receiverID,
		Rating:     rating,
		Comment:    comment,
	}
	if err := s.reviews.Create(ctx, review); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось создать отзыв")
	}

	return review, nil
}

// ListUserReviews возвращает отзывы о пользователе.
func (s *ReviewService) ListUserReviews(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Review, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.reviews.ListByReceiverID(ctx, userID, limit, offset)
}

// GetUserRating возвращает средний рейтинг и количество отзывов.
func (s *ReviewService) GetUserRating(ctx context.Context, userID uuid.UUID) (float64, int, error) {
	return s.reviews.GetAverageRating(ctx, userID)
}
