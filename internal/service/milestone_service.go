package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/trustwork/escrow-engine/internal/domain/valueobject"
	"github.com/trustwork/escrow-engine/internal/models"
	"github.com/trustwork/escrow-engine/internal/pkg/apperror"
	"github.com/trustwork/escrow-engine/internal/pkg/lockmgr"
	"github.com/trustwork/escrow-engine/internal/repository"
)

// MilestoneRepository описывает хранилище этапов со стороны сервисов.
type MilestoneRepository interface {
	Create(ctx context.Context, m *models.Milestone) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Milestone, error)
	ListByContractID(ctx context.Context, contractID uuid.UUID) ([]models.Milestone, error)
	UpdateStatus(ctx context.Context, ext sqlx.ExtContext, id uuid.UUID, status string) error
	MarkApproved(ctx context.Context, ext sqlx.ExtContext, id uuid.UUID, approvedAt time.Time) error
	MarkCompleted(ctx context.Context, id uuid.UUID, completedAt time.Time) error
}

// MilestoneService управляет жизненным циклом этапа внутри контракта.
type MilestoneService struct {
	milestones MilestoneRepository
	contracts  ContractRepository
	escrows    EscrowRepository
	locks      *lockmgr.ContractLocks
	notifier   Notifier
}

func NewMilestoneService(milestones MilestoneRepository, contracts ContractRepository, escrows EscrowRepository, locks *lockmgr.ContractLocks, notifier Notifier) *MilestoneService {
	return &MilestoneService{
		milestones: milestones,
		contracts:  contracts,
		escrows:    escrows,
		locks:      locks,
		notifier:   notifier,
	}
}

// AddMilestone добавляет этап к контракту. Сумма этапа положительна и не
// превышает сумму контракта; сумма всех этапов с суммой контракта совпадать
// не обязана.
func (s *MilestoneService) AddMilestone(ctx context.Context, contractID uuid.UUID, amount float64, dueDate time.Time) (*models.Milestone, error) {
	money, err := valueobject.NewMoney(amount, "")
	if err != nil {
		return nil, err
	}

	release, err := s.locks.Acquire(ctx, contractID)
	if err != nil {
		return nil, err
	}
	defer release()

	contract, err := s.contracts.GetByID(ctx, contractID)
	if err != nil {
		if errors.Is(err, repository.ErrContractNotFound) {
			return nil, apperror.ErrContractNotFound
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось получить контракт")
	}

	status := valueobject.ContractStatus(contract.Status)
	if status.IsTerminal() || status == valueobject.ContractStatusDisputed {
		return nil, apperror.New(apperror.ErrCodePreconditionFailed,
			"нельзя добавить этап к завершённому, отменённому или спорному контракту")
	}
	if money.Amount > contract.Total {
		return nil, apperror.New(apperror.ErrCodeInvariantViolation,
			"сумма этапа не может превышать сумму контракта")
	}

	m := &models.Milestone{
		ContractID: contractID,
		Amount:     money.Amount,
		Status:     models.MilestoneStatusNotStarted,
		DueDate:    dueDate,
	}
	if err := s.milestones.Create(ctx, m); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось создать этап")
	}
	return m, nil
}

// GetMilestone возвращает этап по ID.
func (s *MilestoneService) GetMilestone(ctx context.Context, id uuid.UUID) (*models.Milestone, error) {
	return s.getMilestone(ctx, id)
}

// Start переводит этап в работу.
func (s *MilestoneService) Start(ctx context.Context, id uuid.UUID) (*models.Milestone, error) {
	return s.transition(ctx, id, valueobject.MilestoneStatusInProgress)
}

// SubmitForReview отправляет результат этапа на приёмку.
func (s *MilestoneService) SubmitForReview(ctx context.Context, id uuid.UUID) (*models.Milestone, error) {
	return s.transition(ctx, id, valueobject.MilestoneStatusPendingReview)
}

// Approve фиксирует приёмку работы: этап становится ready_for_payment,
// approved_at служит точкой отсчёта для своевременности релиза средств.
func (s *MilestoneService) Approve(ctx context.Context, id uuid.UUID) (*models.Milestone, error) {
	m, err := s.getMilestone(ctx, id)
	if err != nil {
		return nil, err
	}

	release, err := s.locks.Acquire(ctx, m.ContractID)
	if err != nil {
		return nil, err
	}
	defer release()

	m, err = s.getMilestone(ctx, id)
	if err != nil {
		return nil, err
	}

	current := valueobject.MilestoneStatus(m.Status)
	if !current.CanTransitionTo(valueobject.MilestoneStatusReadyForPayment) {
		return nil, apperror.New(apperror.ErrCodeInvalidTransition,
			"переход этапа "+m.Status+" -> "+models.MilestoneStatusReadyForPayment+" не разрешён")
	}

	now := time.Now()
	if err := s.milestones.MarkApproved(ctx, nil, id, now); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось принять этап")
	}
	m.Status = models.MilestoneStatusReadyForPayment
	m.ApprovedAt = &now
	return m, nil
}

// Complete завершает этап. Требования: статус ready_for_payment и выплаченный
// escrow-платёж по этапу. completed_at выставляется ровно один раз, повторное
// завершение отклоняется.
func (s *MilestoneService) Complete(ctx context.Context, id uuid.UUID, completedAt time.Time) (*models.Milestone, error) {
	m, err := s.getMilestone(ctx, id)
	if err != nil {
		return nil, err
	}

	release, err := s.locks.Acquire(ctx, m.ContractID)
	if err != nil {
		return nil, err
	}
	defer release()

	m, err = s.getMilestone(ctx, id)
	if err != nil {
		return nil, err
	}

	if m.Status == models.MilestoneStatusCompleted {
		return nil, apperror.New(apperror.ErrCodeInvariantViolation, "этап уже завершён")
	}
	if m.Status != models.MilestoneStatusReadyForPayment {
		return nil, apperror.New(apperror.ErrCodePreconditionFailed,
			"завершить можно только этап в статусе ready_for_payment")
	}

	payment, err := s.escrows.GetReleasedByMilestoneID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			return nil, apperror.New(apperror.ErrCodePreconditionFailed,
				"завершение этапа требует выплаченного escrow-платежа")
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось проверить выплату по этапу")
	}

	if completedAt.IsZero() {
		completedAt = time.Now()
	}
	if err := s.milestones.MarkCompleted(ctx, id, completedAt); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось завершить этап")
	}
	m.Status = models.MilestoneStatusCompleted
	m.CompletedAt = &completedAt

	emitAsync(s.notifier, payment.PayeeID, models.EventMilestoneCompleted, map[string]interface{}{
		"milestone_id": m.ID,
		"contract_id":  m.ContractID,
	})

	return m, nil
}

// ListContractMilestones возвращает этапы контракта в порядке создания.
func (s *MilestoneService) ListContractMilestones(ctx context.Context, contractID uuid.UUID) ([]models.Milestone, error) {
	return s.milestones.ListByContractID(ctx, contractID)
}

// transition выполняет обычный переход этапа по графу состояний.
func (s *MilestoneService) transition(ctx context.Context, id uuid.UUID, newStatus valueobject.MilestoneStatus) (*models.Milestone, error) {
	m, err := s.getMilestone(ctx, id)
	if err != nil {
		return nil, err
	}

	release, err := s.locks.Acquire(ctx, m.ContractID)
	if err != nil {
		return nil, err
	}
	defer release()

	m, err = s.getMilestone(ctx, id)
	if err != nil {
		return nil, err
	}

	current := valueobject.MilestoneStatus(m.Status)
	if !current.CanTransitionTo(newStatus) {
		return nil, apperror.New(apperror.ErrCodeInvalidTransition,
			"переход этапа "+m.Status+" -> "+string(newStatus)+" не разрешён")
	}

	if err := s.milestones.UpdateStatus(ctx, nil, id, string(newStatus)); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось обновить статус этапа")
	}
	m.Status = string(newStatus)
	return m, nil
}

func (s *MilestoneService) getMilestone(ctx context.Context, id uuid.UUID) (*models.Milestone, error) {
	m, err := s.milestones.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrMilestoneNotFound) {
			return nil, apperror.ErrMilestoneNotFound
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось получить этап")
	}
	return m, nil
}
