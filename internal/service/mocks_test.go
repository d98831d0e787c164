package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/mock"

	"github.com/trustwork/escrow-engine/internal/models"
	"github.com/trustwork/escrow-engine/internal/oracle"
)

// stubTxManager выполняет функцию транзакции с общим маркером tx: по нему
// проверяется, что записи одного перехода идут одним исполнителем. Ошибка
// функции возвращается как откат.
type stubTxManager struct {
	tx      *sqlx.Tx
	calls   int
	lastErr error
}

func newStubTxManager() *stubTxManager {
	return &stubTxManager{tx: new(sqlx.Tx)}
}

func (m *stubTxManager) WithTransaction(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	m.calls++
	m.lastErr = fn(m.tx)
	return m.lastErr
}

type mockContractRepo struct {
	mock.Mock
}

func (m *mockContractRepo) Create(ctx context.Context, c *models.Contract) error {
	args := m.Called(ctx, c)
	if args.Error(0) == nil {
		c.ID = uuid.New()
	}
	return args.Error(0)
}

func (m *mockContractRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Contract, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Contract), args.Error(1)
}

func (m *mockContractRepo) ListByClientID(ctx context.Context, clientID uuid.UUID) ([]models.Contract, error) {
	args := m.Called(ctx, clientID)
	return args.Get(0).([]models.Contract), args.Error(1)
}

func (m *mockContractRepo) ListByFreelancerID(ctx context.Context, freelancerID uuid.UUID) ([]models.Contract, error) {
	args := m.Called(ctx, freelancerID)
	return args.Get(0).([]models.Contract), args.Error(1)
}

func (m *mockContractRepo) UpdateStatus(ctx context.Context, ext sqlx.ExtContext, id uuid.UUID, status string) error {
	args := m.Called(ctx, ext, id, status)
	return args.Error(0)
}

func (m *mockContractRepo) UpdateTotal(ctx context.Context, id uuid.UUID, total float64) error {
	args := m.Called(ctx, id, total)
	return args.Error(0)
}

type mockMilestoneRepo struct {
	mock.Mock
}

func (m *mockMilestoneRepo) Create(ctx context.Context, ms *models.Milestone) error {
	args := m.Called(ctx, ms)
	if args.Error(0) == nil {
		ms.ID = uuid.New()
	}
	return args.Error(0)
}

func (m *mockMilestoneRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Milestone, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Milestone), args.Error(1)
}

func (m *mockMilestoneRepo) ListByContractID(ctx context.Context, contractID uuid.UUID) ([]models.Milestone, error) {
	args := m.Called(ctx, contractID)
	return args.Get(0).([]models.Milestone), args.Error(1)
}

func (m *mockMilestoneRepo) UpdateStatus(ctx context.Context, ext sqlx.ExtContext, id uuid.UUID, status string) error {
	args := m.Called(ctx, ext, id, status)
	return args.Error(0)
}

func (m *mockMilestoneRepo) MarkApproved(ctx context.Context, ext sqlx.ExtContext, id uuid.UUID, approvedAt time.Time) error {
	args := m.Called(ctx, ext, id, approvedAt)
	return args.Error(0)
}

func (m *mockMilestoneRepo) MarkCompleted(ctx context.Context, id uuid.UUID, completedAt time.Time) error {
	args := m.Called(ctx, id, completedAt)
	return args.Error(0)
}

type mockEscrowRepo struct {
	mock.Mock
}

func (m *mockEscrowRepo) Create(ctx context.Context, p *models.EscrowPayment) error {
	args := m.Called(ctx, p)
	if args.Error(0) == nil {
		p.ID = uuid.New()
	}
	return args.Error(0)
}

func (m *mockEscrowRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.EscrowPayment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EscrowPayment), args.Error(1)
}

func (m *mockEscrowRepo) GetActiveByMilestoneID(ctx context.Context, milestoneID uuid.UUID) (*models.EscrowPayment, error) {
	args := m.Called(ctx, milestoneID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EscrowPayment), args.Error(1)
}

func (m *mockEscrowRepo) GetReleasedByMilestoneID(ctx context.Context, milestoneID uuid.UUID) (*models.EscrowPayment, error) {
	args := m.Called(ctx, milestoneID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EscrowPayment), args.Error(1)
}

func (m *mockEscrowRepo) ListByContractID(ctx context.Context, contractID uuid.UUID) ([]models.EscrowPayment, error) {
	args := m.Called(ctx, contractID)
	return args.Get(0).([]models.EscrowPayment), args.Error(1)
}

func (m *mockEscrowRepo) ListActiveByContractID(ctx context.Context, contractID uuid.UUID) ([]models.EscrowPayment, error) {
	args := m.Called(ctx, contractID)
	return args.Get(0).([]models.EscrowPayment), args.Error(1)
}

func (m *mockEscrowRepo) MarkReleased(ctx context.Context, ext sqlx.ExtContext, id uuid.UUID, releasedAt time.Time, externalRef *string) error {
	args := m.Called(ctx, ext, id, releasedAt, externalRef)
	return args.Error(0)
}

func (m *mockEscrowRepo) MarkClosed(ctx context.Context, ext sqlx.ExtContext, id uuid.UUID, closedAt time.Time, externalRef *string) error {
	args := m.Called(ctx, ext, id, closedAt, externalRef)
	return args.Error(0)
}

type mockDisputeRepo struct {
	mock.Mock
}

func (m *mockDisputeRepo) Create(ctx context.Context, ext sqlx.ExtContext, d *models.Dispute) error {
	args := m.Called(ctx, ext, d)
	if args.Error(0) == nil {
		d.ID = uuid.New()
	}
	return args.Error(0)
}

func (m *mockDisputeRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Dispute), args.Error(1)
}

func (m *mockDisputeRepo) GetOpenByMilestoneID(ctx context.Context, milestoneID uuid.UUID) (*models.Dispute, error) {
	args := m.Called(ctx, milestoneID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Dispute), args.Error(1)
}

func (m *mockDisputeRepo) ListByContractID(ctx context.Context, contractID uuid.UUID) ([]models.Dispute, error) {
	args := m.Called(ctx, contractID)
	return args.Get(0).([]models.Dispute), args.Error(1)
}

func (m *mockDisputeRepo) ListByInitiatorID(ctx context.Context, initiatorID uuid.UUID) ([]models.Dispute, error) {
	args := m.Called(ctx, initiatorID)
	return args.Get(0).([]models.Dispute), args.Error(1)
}

func (m *mockDisputeRepo) AssignModerator(ctx context.Context, id, moderatorID uuid.UUID) error {
	args := m.Called(ctx, id, moderatorID)
	return args.Error(0)
}

func (m *mockDisputeRepo) Resolve(ctx context.Context, ext sqlx.ExtContext, id uuid.UUID, status, resolution string, resolvedAt time.Time) error {
	args := m.Called(ctx, ext, id, status, resolution, resolvedAt)
	return args.Error(0)
}

type mockReviewRepo struct {
	mock.Mock
}

func (m *mockReviewRepo) Create(ctx context.Context, review *models.Review) error {
	args := m.Called(ctx, review)
	if args.Error(0) == nil {
		review.ID = uuid.New()
	}
	return args.Error(0)
}

func (m *mockReviewRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Review, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Review), args.Error(1)
}

func (m *mockReviewRepo) GetByContractAndReviewer(ctx context.Context, contractID, reviewerID uuid.UUID) (*models.Review, error) {
	args := m.Called(ctx, contractID, reviewerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Review), args.Error(1)
}

func (m *mockReviewRepo) ListByReceiverID(ctx context.Context, receiverID uuid.UUID, limit, offset int) ([]models.Review, error) {
	args := m.Called(ctx, receiverID, limit, offset)
	return args.Get(0).([]models.Review), args.Error(1)
}

func (m *mockReviewRepo) GetAverageRating(ctx context.Context, userID uuid.UUID) (float64, int, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(float64), args.Int(1), args.Error(2)
}

type mockRail struct {
	mock.Mock
}

func (m *mockRail) Deposit(ctx context.Context, amount float64) (string, error) {
	args := m.Called(ctx, amount)
	return args.String(0), args.Error(1)
}

func (m *mockRail) Release(ctx context.Context, amount float64, recipient uuid.UUID) (string, error) {
	args := m.Called(ctx, amount, recipient)
	return args.String(0), args.Error(1)
}

func (m *mockRail) Refund(ctx context.Context, amount float64, recipient uuid.UUID) (string, error) {
	args := m.Called(ctx, amount, recipient)
	return args.String(0), args.Error(1)
}

type mockRiskOracle struct {
	mock.Mock
}

func (m *mockRiskOracle) AssessMessage(ctx context.Context, text string, msgContext map[string]string) (*oracle.Assessment, error) {
	args := m.Called(ctx, text, msgContext)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*oracle.Assessment), args.Error(1)
}

type mockTrustProvider struct {
	mock.Mock
}

func (m *mockTrustProvider) GetProfile(ctx context.Context, userID uuid.UUID, role string) (*models.TrustProfile, error) {
	args := m.Called(ctx, userID, role)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TrustProfile), args.Error(1)
}
