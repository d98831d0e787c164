package service

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/trustwork/escrow-engine/internal/logger"
	"github.com/trustwork/escrow-engine/internal/models"
	"github.com/trustwork/escrow-engine/internal/oracle"
	"github.com/trustwork/escrow-engine/internal/pkg/apperror"
)

// ReviewReader - часть хранилища отзывов, нужная расчёту доверия.
type ReviewReader interface {
	GetAverageRating(ctx context.Context, userID uuid.UUID) (float64, int, error)
}

// RiskOracle - внешний оракул рисков. Может отвечать с ошибкой или таймаутом;
// ядро в этом случае обязано перейти на локальную эвристику.
type RiskOracle interface {
	AssessMessage(ctx context.Context, text string, msgContext map[string]string) (*oracle.Assessment, error)
}

// TrustService пересчитывает профиль доверия по запросу из истории четырёх
// агрегатов. Профиль никогда не кэшируется и не мутируется независимо -
// пересчёт из источника истины исключает расхождение.
type TrustService struct {
	contracts     ContractRepository
	milestones    MilestoneRepository
	escrows       EscrowRepository
	disputes      DisputeRepository
	reviews       ReviewReader
	riskOracle    RiskOracle
	releaseWindow time.Duration
}

func NewTrustService(contracts ContractRepository, milestones MilestoneRepository, escrows EscrowRepository, disputes DisputeRepository, reviews ReviewReader, riskOracle RiskOracle, releaseWindow time.Duration) *TrustService {
	if releaseWindow <= 0 {
		releaseWindow = 72 * time.Hour
	}
	return &TrustService{
		contracts:     contracts,
		milestones:    milestones,
		escrows:       escrows,
		disputes:      disputes,
		reviews:       reviews,
		riskOracle:    riskOracle,
		releaseWindow: releaseWindow,
	}
}

// GetProfile собирает счётчики истории пользователя в заданной роли и выводит
// из них балл доверия и ступень. Чтения не берут блокировку контракта:
// допустим неточный снимок, но писатели не должны ждать читателей.
func (s *TrustService) GetProfile(ctx context.Context, userID uuid.UUID, role string) (*models.TrustProfile, error) {
	stats, err := s.collectStats(ctx, userID, role)
	if err != nil {
		return nil, err
	}

	ratingFactor, reliabilityFactor, disputeFactor, score := CalculateScore(*stats)

	tier := models.ResolveTier(score)
	next, points := models.NextTier(score)

	return &models.TrustProfile{
		UserID:            userID,
		Role:              role,
		OverallScore:      score,
		RatingFactor:      ratingFactor,
		ReliabilityFactor: reliabilityFactor,
		DisputeFactor:     disputeFactor,
		Tier:              tier,
		NextTier:          next,
		PointsToNext:      points,
		Stats:             *stats,
	}, nil
}

// AssessMessage оценивает сообщение на риски. Один ограниченный по времени
// вызов оракула; любой его сбой переводит расчёт на детерминированную
// локальную эвристику, и источник оценки явно помечается в результате.
func (s *TrustService) AssessMessage(ctx context.Context, text string, msgContext map[string]string) (*oracle.Assessment, error) {
	if text == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "текст сообщения обязателен")
	}

	if s.riskOracle == nil {
		return oracle.HeuristicAssess(text), nil
	}

	assessment, err := s.riskOracle.AssessMessage(ctx, text, msgContext)
	if err != nil {
		if logger.Log != nil {
			logger.Log.WithError(err).Warn("оракул рисков недоступен, используется локальная эвристика")
		}
		return oracle.HeuristicAssess(text), nil
	}
	return assessment, nil
}

// collectStats агрегирует историю пользователя по контрактам роли.
func (s *TrustService) collectStats(ctx context.Context, userID uuid.UUID, role string) (*models.TrustStats, error) {
	var contracts []models.Contract
	var err error

	switch role {
	case models.RoleClient:
		contracts, err = s.contracts.ListByClientID(ctx, userID)
	case models.RoleFreelancer:
		contracts, err = s.contracts.ListByFreelancerID(ctx, userID)
	default:
		return nil, apperror.New(apperror.ErrCodeValidation, "неизвестная роль пользователя")
	}
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось получить контракты пользователя")
	}

	stats := &models.TrustStats{}

	avg, count, err := s.reviews.GetAverageRating(ctx, userID)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось получить рейтинг пользователя")
	}
	stats.AverageRating = avg
	stats.ReviewCount = count

	for i := range contracts {
		c := &contracts[i]

		switch c.Status {
		case models.ContractStatusCompleted:
			stats.ContractsCompleted++
		case models.ContractStatusCancelled:
			stats.ContractsCancelled++
		}

		if err := s.collectDisputes(ctx, c, userID, role, stats); err != nil {
			return nil, err
		}
		if err := s.collectTimeliness(ctx, c, role, stats); err != nil {
			return nil, err
		}
	}

	return stats, nil
}

// collectDisputes учитывает инициированные и проигранные споры. Роль берётся
// из стороны контракта, а не из изменяемого поля пользователя: смена типа
// аккаунта не переписывает историю.
func (s *TrustService) collectDisputes(ctx context.Context, c *models.Contract, userID uuid.UUID, role string, stats *models.TrustStats) error {
	disputes, err := s.disputes.ListByContractID(ctx, c.ID)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось получить споры контракта")
	}

	for i := range disputes {
		d := &disputes[i]
		if d.InitiatorID == userID {
			stats.DisputesInitiated++
		}

		switch {
		case role == models.RoleFreelancer && d.Status == models.DisputeStatusResolvedForClient:
			stats.DisputesLost++
		case role == models.RoleClient && d.Status == models.DisputeStatusResolvedForFreelancer:
			stats.DisputesLost++
		}
	}
	return nil
}

// collectTimeliness считает счётчики своевременности для роли: фрилансеру -
// сдачу этапов к дедлайну, клиенту - релиз средств в пределах окна после
// приёмки работы.
func (s *TrustService) collectTimeliness(ctx context.Context, c *models.Contract, role string, stats *models.TrustStats) error {
	milestones, err := s.milestones.ListByContractID(ctx, c.ID)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось получить этапы контракта")
	}

	if role == models.RoleFreelancer {
		for i := range milestones {
			m := &milestones[i]
			if m.CompletedAt == nil {
				continue
			}
			if !m.CompletedAt.After(m.DueDate) {
				stats.OnTime++
			} else {
				stats.Late++
			}
		}
		return nil
	}

	approvedAt := make(map[uuid.UUID]time.Time, len(milestones))
	for i := range milestones {
		if milestones[i].ApprovedAt != nil {
			approvedAt[milestones[i].ID] = *milestones[i].ApprovedAt
		}
	}

	payments, err := s.escrows.ListByContractID(ctx, c.ID)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось получить платежи контракта")
	}

	for i := range payments {
		p := &payments[i]
		if p.ReleasedAt == nil {
			continue
		}
		approved, ok := approvedAt[p.MilestoneID]
		if !ok {
			continue
		}
		if !p.ReleasedAt.After(approved.Add(s.releaseWindow)) {
			stats.OnTime++
		} else {
			stats.Late++
		}
	}
	return nil
}

// CalculateScore - чистая функция счётчиков истории. Одинаковый вход всегда
// даёт одинаковый балл: никакого скрытого машинного взвешивания.
// Нейтральный дефолт 0.5 при отсутствии данных не штрафует новичков.
func CalculateScore(stats models.TrustStats) (ratingFactor, reliabilityFactor, disputeFactor float64, score int) {
	ratingFactor = 0.5
	if stats.ReviewCount > 0 {
		ratingFactor = clampFactor(stats.AverageRating / 5)
	}

	reliabilityFactor = 0.5
	if total := stats.OnTime + stats.Late; total > 0 {
		reliabilityFactor = float64(stats.OnTime) / float64(total)
	}

	disputeFactor = 0.5
	if denom := stats.ContractsCompleted + stats.ContractsCancelled; denom > 0 {
		disputeFactor = clampFactor(1 - float64(stats.DisputesLost)/float64(denom))
	}

	score = int(math.Round(100 * (0.4*ratingFactor + 0.4*reliabilityFactor + 0.2*disputeFactor)))
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return ratingFactor, reliabilityFactor, disputeFactor, score
}

func clampFactor(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
