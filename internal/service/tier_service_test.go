package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/trustwork/escrow-engine/internal/models"
)

func goldProfile(userID uuid.UUID) *models.TrustProfile {
	return &models.TrustProfile{
		UserID:       userID,
		Role:         models.RoleFreelancer,
		OverallScore: 80,
		Tier:         models.ResolveTier(80),
	}
}

func TestTierService_ApplyBenefit_FeeDiscount(t *testing.T) {
	trust := new(mockTrustProvider)
	svc := NewTierService(trust)
	ctx := context.Background()

	userID := uuid.New()
	trust.On("GetProfile", ctx, userID, models.RoleFreelancer).Return(goldProfile(userID), nil)

	// gold даёт скидку 10%: комиссия 100 превращается в 90.
	got, err := svc.ApplyBenefit(ctx, userID, models.RoleFreelancer, BenefitFee, 100)

	assert.NoError(t, err)
	assert.Equal(t, 90.0, got)
}

func TestTierService_ApplyBenefit_PayoutAndPolicies(t *testing.T) {
	trust := new(mockTrustProvider)
	svc := NewTierService(trust)
	ctx := context.Background()

	userID := uuid.New()
	trust.On("GetProfile", ctx, userID, models.RoleFreelancer).Return(goldProfile(userID), nil)

	payout, err := svc.ApplyBenefit(ctx, userID, models.RoleFreelancer, BenefitPayout, 0)
	assert.NoError(t, err)
	assert.Equal(t, 24, payout)

	strictness, err := svc.ApplyBenefit(ctx, userID, models.RoleFreelancer, BenefitEscrow, 0)
	assert.NoError(t, err)
	assert.Equal(t, models.EscrowStrictnessPartial, strictness)

	verification, err := svc.ApplyBenefit(ctx, userID, models.RoleFreelancer, BenefitVerification, 0)
	assert.NoError(t, err)
	assert.Equal(t, models.VerificationLevelLight, verification)
}

func TestTierService_ApplyBenefit_UnknownOperation(t *testing.T) {
	trust := new(mockTrustProvider)
	svc := NewTierService(trust)
	ctx := context.Background()

	userID := uuid.New()
	trust.On("GetProfile", ctx, userID, models.RoleFreelancer).Return(goldProfile(userID), nil)

	got, err := svc.ApplyBenefit(ctx, userID, models.RoleFreelancer, "teleport", 42)

	assert.NoError(t, err)
	assert.Equal(t, 42.0, got)
}

func TestTierService_ResolveTier(t *testing.T) {
	trust := new(mockTrustProvider)
	svc := NewTierService(trust)
	ctx := context.Background()

	userID := uuid.New()
	trust.On("GetProfile", ctx, userID, models.RoleClient).Return(&models.TrustProfile{
		UserID: userID, Role: models.RoleClient, OverallScore: 95, Tier: models.ResolveTier(95),
	}, nil)

	tier, err := svc.ResolveTier(ctx, userID, models.RoleClient)

	assert.NoError(t, err)
	assert.Equal(t, "platinum", tier.Name)
	assert.True(t, tier.PrioritySupport)
}
