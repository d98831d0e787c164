package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/trustwork/escrow-engine/internal/domain/valueobject"
	"github.com/trustwork/escrow-engine/internal/logger"
	"github.com/trustwork/escrow-engine/internal/models"
)

// Операции, к которым применяются привилегии ступени.
const (
	BenefitFee          = "fee"
	BenefitPayout       = "payout"
	BenefitEscrow       = "escrow"
	BenefitVerification = "verification"
)

// TrustProvider - источник профиля доверия для резолвера привилегий.
type TrustProvider interface {
	GetProfile(ctx context.Context, userID uuid.UUID, role string) (*models.TrustProfile, error)
}

// TierService применяет привилегии ступени к запросам платформенной политики.
type TierService struct {
	trust TrustProvider
}

func NewTierService(trust TrustProvider) *TierService {
	return &TierService{trust: trust}
}

// ResolveTier возвращает ступень пользователя по текущему баллу доверия.
func (s *TierService) ResolveTier(ctx context.Context, userID uuid.UUID, role string) (*models.Tier, error) {
	profile, err := s.trust.GetProfile(ctx, userID, role)
	if err != nil {
		return nil, err
	}
	tier := profile.Tier
	return &tier, nil
}

// ApplyBenefit применяет привилегию ступени к операции. Для fee входная
// сумма умножается на (1 - скидка/100); payout, escrow и verification
// возвращают политику ступени как есть. Неизвестная операция - явный no-op,
// а не ошибка: новые операции не должны ломать старых вызывающих.
func (s *TierService) ApplyBenefit(ctx context.Context, userID uuid.UUID, role, operation string, value float64) (interface{}, error) {
	profile, err := s.trust.GetProfile(ctx, userID, role)
	if err != nil {
		return nil, err
	}
	tier := profile.Tier

	switch operation {
	case BenefitFee:
		return valueobject.Money{Amount: value}.ApplyDiscount(tier.FeeDiscountPercent).Amount, nil
	case BenefitPayout:
		return tier.PayoutHours, nil
	case BenefitEscrow:
		return tier.EscrowStrictness, nil
	case BenefitVerification:
		return tier.VerificationLevel, nil
	default:
		if logger.Log != nil {
			logger.Log.WithField("operation", operation).Debug("неизвестная операция привилегии, возвращаем вход без изменений")
		}
		return value, nil
	}
}
