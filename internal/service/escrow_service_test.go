package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/trustwork/escrow-engine/internal/models"
	"github.com/trustwork/escrow-engine/internal/pkg/apperror"
	"github.com/trustwork/escrow-engine/internal/pkg/lockmgr"
	"github.com/trustwork/escrow-engine/internal/repository"
)

func newEscrowService(escrows *mockEscrowRepo, milestones *mockMilestoneRepo, contracts *mockContractRepo, rail *mockRail) *EscrowService {
	return NewEscrowService(escrows, milestones, contracts, rail, lockmgr.New(), nil)
}

func TestEscrowService_Deposit_Success(t *testing.T) {
	escrows := new(mockEscrowRepo)
	milestones := new(mockMilestoneRepo)
	contracts := new(mockContractRepo)
	rail := new(mockRail)
	svc := newEscrowService(escrows, milestones, contracts, rail)
	ctx := context.Background()

	contractID := uuid.New()
	milestoneID := uuid.New()
	payerID := uuid.New()
	payeeID := uuid.New()

	milestones.On("GetByID", ctx, milestoneID).Return(&models.Milestone{
		ID: milestoneID, ContractID: contractID, Amount: 500, Status: models.MilestoneStatusInProgress,
	}, nil)
	contracts.On("GetByID", ctx, contractID).Return(&models.Contract{ID: contractID, Status: models.ContractStatusActive}, nil)
	escrows.On("GetActiveByMilestoneID", ctx, milestoneID).Return(nil, repository.ErrNoActivePayment)
	rail.On("Deposit", ctx, 500.0).Return("ref-dep-1", nil)
	escrows.On("Create", ctx, mock.AnythingOfType("*models.EscrowPayment")).Return(nil)

	p, err := svc.Deposit(ctx, milestoneID, 500, payerID, payeeID)

	assert.NoError(t, err)
	assert.Equal(t, contractID, p.ContractID)
	assert.Equal(t, payeeID, p.PayeeID)
	if assert.NotNil(t, p.ExternalRef) {
		assert.Equal(t, "ref-dep-1", *p.ExternalRef)
	}
	assert.Nil(t, p.ReleasedAt)
}

func TestEscrowService_Deposit_AmountMismatch(t *testing.T) {
	escrows := new(mockEscrowRepo)
	milestones := new(mockMilestoneRepo)
	contracts := new(mockContractRepo)
	rail := new(mockRail)
	svc := newEscrowService(escrows, milestones, contracts, rail)
	ctx := context.Background()

	contractID := uuid.New()
	milestoneID := uuid.New()

	milestones.On("GetByID", ctx, milestoneID).Return(&models.Milestone{
		ID: milestoneID, ContractID: contractID, Amount: 500, Status: models.MilestoneStatusInProgress,
	}, nil)
	contracts.On("GetByID", ctx, contractID).Return(&models.Contract{ID: contractID, Status: models.ContractStatusActive}, nil)

	_, err := svc.Deposit(ctx, milestoneID, 400, uuid.New(), uuid.New())

	assert.True(t, apperror.IsInvariantViolation(err))
	rail.AssertNotCalled(t, "Deposit", mock.Anything, mock.Anything)
}

func TestEscrowService_Deposit_DuplicateActive(t *testing.T) {
	escrows := new(mockEscrowRepo)
	milestones := new(mockMilestoneRepo)
	contracts := new(mockContractRepo)
	rail := new(mockRail)
	svc := newEscrowService(escrows, milestones, contracts, rail)
	ctx := context.Background()

	contractID := uuid.New()
	milestoneID := uuid.New()

	milestones.On("GetByID", ctx, milestoneID).Return(&models.Milestone{
		ID: milestoneID, ContractID: contractID, Amount: 500, Status: models.MilestoneStatusInProgress,
	}, nil)
	contracts.On("GetByID", ctx, contractID).Return(&models.Contract{ID: contractID, Status: models.ContractStatusActive}, nil)
	escrows.On("GetActiveByMilestoneID", ctx, milestoneID).Return(&models.EscrowPayment{ID: uuid.New()}, nil)

	_, err := svc.Deposit(ctx, milestoneID, 500, uuid.New(), uuid.New())

	assert.True(t, apperror.IsInvariantViolation(err))
	assert.Contains(t, err.Error(), "уже есть действующий депозит")
	rail.AssertNotCalled(t, "Deposit", mock.Anything, mock.Anything)
	escrows.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestEscrowService_Deposit_ContractNotFunded(t *testing.T) {
	escrows := new(mockEscrowRepo)
	milestones := new(mockMilestoneRepo)
	contracts := new(mockContractRepo)
	svc := newEscrowService(escrows, milestones, contracts, new(mockRail))
	ctx := context.Background()

	contractID := uuid.New()
	milestoneID := uuid.New()

	milestones.On("GetByID", ctx, milestoneID).Return(&models.Milestone{
		ID: milestoneID, ContractID: contractID, Amount: 500, Status: models.MilestoneStatusNotStarted,
	}, nil)
	contracts.On("GetByID", ctx, contractID).Return(&models.Contract{ID: contractID, Status: models.ContractStatusDraft}, nil)

	_, err := svc.Deposit(ctx, milestoneID, 500, uuid.New(), uuid.New())

	assert.True(t, apperror.IsPreconditionFailed(err))
}

func TestEscrowService_Deposit_RailFailure(t *testing.T) {
	escrows := new(mockEscrowRepo)
	milestones := new(mockMilestoneRepo)
	contracts := new(mockContractRepo)
	rail := new(mockRail)
	svc := newEscrowService(escrows, milestones, contracts, rail)
	ctx := context.Background()

	contractID := uuid.New()
	milestoneID := uuid.New()

	milestones.On("GetByID", ctx, milestoneID).Return(&models.Milestone{
		ID: milestoneID, ContractID: contractID, Amount: 500, Status: models.MilestoneStatusInProgress,
	}, nil)
	contracts.On("GetByID", ctx, contractID).Return(&models.Contract{ID: contractID, Status: models.ContractStatusActive}, nil)
	escrows.On("GetActiveByMilestoneID", ctx, milestoneID).Return(nil, repository.ErrNoActivePayment)
	rail.On("Deposit", ctx, 500.0).Return("", errors.New("rail down"))

	_, err := svc.Deposit(ctx, milestoneID, 500, uuid.New(), uuid.New())

	assert.True(t, apperror.Is(err, apperror.ErrCodeExternalService))
	escrows.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestEscrowService_Release_Success(t *testing.T) {
	escrows := new(mockEscrowRepo)
	rail := new(mockRail)
	svc := newEscrowService(escrows, new(mockMilestoneRepo), new(mockContractRepo), rail)
	ctx := context.Background()

	paymentID := uuid.New()
	payeeID := uuid.New()
	depositedAt := time.Now().Add(-time.Hour)

	escrows.On("GetByID", ctx, paymentID).Return(&models.EscrowPayment{
		ID: paymentID, ContractID: uuid.New(), PayeeID: payeeID, Amount: 500, DepositedAt: depositedAt,
	}, nil)
	rail.On("Release", ctx, 500.0, payeeID).Return("ref-rel-1", nil)
	escrows.On("MarkReleased", ctx, mock.Anything, paymentID, mock.AnythingOfType("time.Time"), mock.AnythingOfType("*string")).Return(nil)

	p, err := svc.Release(ctx, paymentID, time.Time{})

	assert.NoError(t, err)
	assert.NotNil(t, p.ReleasedAt)
	if assert.NotNil(t, p.ExternalRef) {
		assert.Equal(t, "ref-rel-1", *p.ExternalRef)
	}
}

func TestEscrowService_Release_AlreadyReleased(t *testing.T) {
	escrows := new(mockEscrowRepo)
	rail := new(mockRail)
	svc := newEscrowService(escrows, new(mockMilestoneRepo), new(mockContractRepo), rail)
	ctx := context.Background()

	paymentID := uuid.New()
	released := time.Now()

	escrows.On("GetByID", ctx, paymentID).Return(&models.EscrowPayment{
		ID: paymentID, ContractID: uuid.New(), Amount: 500, ReleasedAt: &released,
	}, nil)

	_, err := svc.Release(ctx, paymentID, time.Time{})

	assert.True(t, apperror.IsInvalidTransition(err))
	rail.AssertNotCalled(t, "Release", mock.Anything, mock.Anything, mock.Anything)
}

func TestEscrowService_Release_BeforeDeposit(t *testing.T) {
	escrows := new(mockEscrowRepo)
	svc := newEscrowService(escrows, new(mockMilestoneRepo), new(mockContractRepo), new(mockRail))
	ctx := context.Background()

	paymentID := uuid.New()
	depositedAt := time.Now()

	escrows.On("GetByID", ctx, paymentID).Return(&models.EscrowPayment{
		ID: paymentID, ContractID: uuid.New(), Amount: 500, DepositedAt: depositedAt,
	}, nil)

	_, err := svc.Release(ctx, paymentID, depositedAt.Add(-time.Minute))

	assert.True(t, apperror.IsInvariantViolation(err))
}

func TestEscrowService_Release_RailFailure(t *testing.T) {
	escrows := new(mockEscrowRepo)
	rail := new(mockRail)
	svc := newEscrowService(escrows, new(mockMilestoneRepo), new(mockContractRepo), rail)
	ctx := context.Background()

	paymentID := uuid.New()
	payeeID := uuid.New()

	escrows.On("GetByID", ctx, paymentID).Return(&models.EscrowPayment{
		ID: paymentID, ContractID: uuid.New(), PayeeID: payeeID, Amount: 500, DepositedAt: time.Now().Add(-time.Hour),
	}, nil)
	rail.On("Release", ctx, 500.0, payeeID).Return("", errors.New("rail down"))

	_, err := svc.Release(ctx, paymentID, time.Time{})

	assert.True(t, apperror.Is(err, apperror.ErrCodeExternalService))
	escrows.AssertNotCalled(t, "MarkReleased", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestEscrowService_Reverse_OnlyActive(t *testing.T) {
	escrows := new(mockEscrowRepo)
	rail := new(mockRail)
	svc := newEscrowService(escrows, new(mockMilestoneRepo), new(mockContractRepo), rail)
	ctx := context.Background()

	paymentID := uuid.New()
	released := time.Now()

	escrows.On("GetByID", ctx, paymentID).Return(&models.EscrowPayment{
		ID: paymentID, ContractID: uuid.New(), Amount: 500, ReleasedAt: &released,
	}, nil)

	_, err := svc.Reverse(ctx, paymentID)

	assert.True(t, apperror.IsInvalidTransition(err))
	rail.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything, mock.Anything)
}

func TestEscrowService_Reverse_ClosesPayment(t *testing.T) {
	escrows := new(mockEscrowRepo)
	rail := new(mockRail)
	svc := newEscrowService(escrows, new(mockMilestoneRepo), new(mockContractRepo), rail)
	ctx := context.Background()

	paymentID := uuid.New()
	payerID := uuid.New()

	escrows.On("GetByID", ctx, paymentID).Return(&models.EscrowPayment{
		ID: paymentID, ContractID: uuid.New(), PayerID: payerID, Amount: 500, DepositedAt: time.Now().Add(-time.Hour),
	}, nil)
	rail.On("Refund", ctx, 500.0, payerID).Return("ref-refund-1", nil)
	escrows.On("MarkClosed", ctx, mock.Anything, paymentID, mock.AnythingOfType("time.Time"), mock.AnythingOfType("*string")).Return(nil)

	p, err := svc.Reverse(ctx, paymentID)

	assert.NoError(t, err)
	assert.NotNil(t, p.ClosedAt)
	assert.Nil(t, p.ReleasedAt)
}
