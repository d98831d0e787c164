package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/trustwork/escrow-engine/internal/models"
	"github.com/trustwork/escrow-engine/internal/pkg/apperror"
	"github.com/trustwork/escrow-engine/internal/pkg/lockmgr"
	"github.com/trustwork/escrow-engine/internal/repository"
)

// EscrowRepository описывает хранилище escrow-платежей со стороны сервисов.
type EscrowRepository interface {
	Create(ctx context.Context, p *models.EscrowPayment) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.EscrowPayment, error)
	GetActiveByMilestoneID(ctx context.Context, milestoneID uuid.UUID) (*models.EscrowPayment, error)
	GetReleasedByMilestoneID(ctx context.Context, milestoneID uuid.UUID) (*models.EscrowPayment, error)
	ListByContractID(ctx context.Context, contractID uuid.UUID) ([]models.EscrowPayment, error)
	ListActiveByContractID(ctx context.Context, contractID uuid.UUID) ([]models.EscrowPayment, error)
	MarkReleased(ctx context.Context, ext sqlx.ExtContext, id uuid.UUID, releasedAt time.Time, externalRef *string) error
	MarkClosed(ctx context.Context, ext sqlx.ExtContext, id uuid.UUID, closedAt time.Time, externalRef *string) error
}

// EscrowService - ledger депозитов и выплат по этапам. Сервис не трогает
// статусы этапов: машина состояний этапа сама читает ledger как предусловие.
type EscrowService struct {
	escrows    EscrowRepository
	milestones MilestoneRepository
	contracts  ContractRepository
	rail       PaymentRail
	locks      *lockmgr.ContractLocks
	notifier   Notifier
}

func NewEscrowService(escrows EscrowRepository, milestones MilestoneRepository, contracts ContractRepository, rail PaymentRail, locks *lockmgr.ContractLocks, notifier Notifier) *EscrowService {
	return &EscrowService{
		escrows:    escrows,
		milestones: milestones,
		contracts:  contracts,
		rail:       rail,
		locks:      locks,
		notifier:   notifier,
	}
}

// Deposit депонирует средства под этап. Сумма обязана совпадать с текущей
// суммой этапа, действующий депозит по этапу может быть только один.
func (s *EscrowService) Deposit(ctx context.Context, milestoneID uuid.UUID, amount float64, payerID, payeeID uuid.UUID) (*models.EscrowPayment, error) {
	m, err := s.getMilestone(ctx, milestoneID)
	if err != nil {
		return nil, err
	}

	release, err := s.locks.Acquire(ctx, m.ContractID)
	if err != nil {
		return nil, err
	}
	defer release()

	// Перечитываем этап уже под блокировкой контракта.
	m, err = s.getMilestone(ctx, milestoneID)
	if err != nil {
		return nil, err
	}

	contract, err := s.contracts.GetByID(ctx, m.ContractID)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось получить контракт этапа")
	}
	if contract.Status != models.ContractStatusPending && contract.Status != models.ContractStatusActive {
		return nil, apperror.New(apperror.ErrCodePreconditionFailed,
			"депонировать можно только по контракту в статусе pending или active")
	}
	if m.Status == models.MilestoneStatusDisputed {
		return nil, apperror.New(apperror.ErrCodePreconditionFailed, "этап находится в споре")
	}

	if amount != m.Amount {
		return nil, apperror.New(apperror.ErrCodeInvariantViolation,
			"сумма депозита должна совпадать с суммой этапа")
	}

	if _, err := s.escrows.GetActiveByMilestoneID(ctx, milestoneID); err == nil {
		return nil, apperror.New(apperror.ErrCodeInvariantViolation,
			"по этапу уже есть действующий депозит")
	} else if !errors.Is(err, repository.ErrNoActivePayment) {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось проверить депозиты этапа")
	}

	// Сначала подтверждение рейла, затем запись в ledger: депозит без receipt
	// не существует для ядра.
	ref, err := s.rail.Deposit(ctx, amount)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeExternalService, "платёжный рейл отклонил депозит")
	}

	p := &models.EscrowPayment{
		MilestoneID: milestoneID,
		ContractID:  m.ContractID,
		PayerID:     payerID,
		PayeeID:     payeeID,
		Amount:      amount,
		ExternalRef: &ref,
		DepositedAt: time.Now(),
	}
	if err := s.escrows.Create(ctx, p); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось записать escrow-платёж")
	}

	emitAsync(s.notifier, payeeID, models.EventEscrowDeposited, map[string]interface{}{
		"payment_id":   p.ID,
		"milestone_id": milestoneID,
		"amount":       amount,
	})

	return p, nil
}

// Release выплачивает удерживаемые средства получателю. Сбой рейла прерывает
// операцию без записи: выплата, которой не было, в ledger не попадает.
func (s *EscrowService) Release(ctx context.Context, paymentID uuid.UUID, releasedAt time.Time) (*models.EscrowPayment, error) {
	p, err := s.getPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	release, err := s.locks.Acquire(ctx, p.ContractID)
	if err != nil {
		return nil, err
	}
	defer release()

	p, err = s.getPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	if p.IsReleased() {
		return nil, apperror.New(apperror.ErrCodeInvalidTransition, "платёж уже выплачен")
	}
	if p.ClosedAt != nil {
		return nil, apperror.New(apperror.ErrCodeInvalidTransition, "платёж закрыт возвратом")
	}

	if releasedAt.IsZero() {
		releasedAt = time.Now()
	}
	if releasedAt.Before(p.DepositedAt) {
		return nil, apperror.New(apperror.ErrCodeInvariantViolation,
			"момент выплаты не может предшествовать депонированию")
	}

	ref, err := s.rail.Release(ctx, p.Amount, p.PayeeID)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeExternalService, "платёжный рейл отклонил выплату")
	}

	if err := s.escrows.MarkReleased(ctx, nil, p.ID, releasedAt, &ref); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось зафиксировать выплату")
	}
	p.ReleasedAt = &releasedAt
	p.ExternalRef = &ref

	emitAsync(s.notifier, p.PayeeID, models.EventEscrowReleased, map[string]interface{}{
		"payment_id":   p.ID,
		"milestone_id": p.MilestoneID,
		"amount":       p.Amount,
	})

	return p, nil
}

// Reverse закрывает действующий депозит возвратом плательщику без выплаты.
// Запись платежа не переписывается: этап получает право на новый цикл
// депонирования, а закрытый платёж остаётся в аудиторском следе.
func (s *EscrowService) Reverse(ctx context.Context, paymentID uuid.UUID) (*models.EscrowPayment, error) {
	p, err := s.getPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	release, err := s.locks.Acquire(ctx, p.ContractID)
	if err != nil {
		return nil, err
	}
	defer release()

	p, err = s.getPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !p.IsActive() {
		return nil, apperror.New(apperror.ErrCodeInvalidTransition, "реверс возможен только для действующего депозита")
	}

	ref, err := s.rail.Refund(ctx, p.Amount, p.PayerID)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeExternalService, "платёжный рейл отклонил возврат")
	}

	now := time.Now()
	if err := s.escrows.MarkClosed(ctx, nil, p.ID, now, &ref); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось закрыть escrow-платёж")
	}
	p.ClosedAt = &now
	p.ExternalRef = &ref

	return p, nil
}

// ListContractPayments возвращает все платежи контракта в порядке депонирования.
func (s *EscrowService) ListContractPayments(ctx context.Context, contractID uuid.UUID) ([]models.EscrowPayment, error) {
	return s.escrows.ListByContractID(ctx, contractID)
}

func (s *EscrowService) getPayment(ctx context.Context, id uuid.UUID) (*models.EscrowPayment, error) {
	p, err := s.escrows.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			return nil, apperror.ErrPaymentNotFound
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось получить escrow-платёж")
	}
	return p, nil
}

func (s *EscrowService) getMilestone(ctx context.Context, id uuid.UUID) (*models.Milestone, error) {
	m, err := s.milestones.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrMilestoneNotFound) {
			return nil, apperror.ErrMilestoneNotFound
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось получить этап")
	}
	return m, nil
}
