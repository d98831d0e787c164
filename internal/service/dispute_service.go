package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/ulule/limiter/v3"

	"github.com/trustwork/escrow-engine/internal/domain/valueobject"
	"github.com/trustwork/escrow-engine/internal/logger"
	"github.com/trustwork/escrow-engine/internal/models"
	"github.com/trustwork/escrow-engine/internal/pkg/apperror"
	"github.com/trustwork/escrow-engine/internal/pkg/lockmgr"
	"github.com/trustwork/escrow-engine/internal/repository"
)

// DisputeRepository описывает хранилище споров со стороны сервисов.
type DisputeRepository interface {
	Create(ctx context.Context, ext sqlx.ExtContext, d *models.Dispute) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	GetOpenByMilestoneID(ctx context.Context, milestoneID uuid.UUID) (*models.Dispute, error)
	ListByContractID(ctx context.Context, contractID uuid.UUID) ([]models.Dispute, error)
	ListByInitiatorID(ctx context.Context, initiatorID uuid.UUID) ([]models.Dispute, error)
	AssignModerator(ctx context.Context, id, moderatorID uuid.UUID) error
	Resolve(ctx context.Context, ext sqlx.ExtContext, id uuid.UUID, status, resolution string, resolvedAt time.Time) error
}

// DisputeService ведёт спор от жалобы до разрешения. Разрешение - единственное
// место, где workflow пишет в состояние этапа, контракта и escrow: движения
// средств сначала подтверждаются рейлом, затем все записи хранилища коммитятся
// одной транзакцией под блокировкой контракта.
type DisputeService struct {
	disputes   DisputeRepository
	contracts  ContractRepository
	milestones MilestoneRepository
	escrows    EscrowRepository
	rail       PaymentRail
	tx         TxManager
	locks      *lockmgr.ContractLocks
	notifier   Notifier
	rateLimit  *limiter.Limiter
}

func NewDisputeService(disputes DisputeRepository, contracts ContractRepository, milestones MilestoneRepository, escrows EscrowRepository, rail PaymentRail, tx TxManager, locks *lockmgr.ContractLocks, notifier Notifier, rateLimit *limiter.Limiter) *DisputeService {
	return &DisputeService{
		disputes:   disputes,
		contracts:  contracts,
		milestones: milestones,
		escrows:    escrows,
		rail:       rail,
		tx:         tx,
		locks:      locks,
		notifier:   notifier,
		rateLimit:  rateLimit,
	}
}

// Open открывает спор по контракту, опционально привязывая его к этапу.
// Контракт обязан быть active или disputed; активный контракт переходит в
// disputed. Частота открытия споров одним инициатором ограничена.
func (s *DisputeService) Open(ctx context.Context, contractID uuid.UUID, milestoneID *uuid.UUID, initiatorID uuid.UUID, reason string) (*models.Dispute, error) {
	if reason == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "причина спора обязательна")
	}

	if s.rateLimit != nil {
		lctx, err := s.rateLimit.Get(ctx, initiatorID.String())
		if err != nil {
			if logger.Log != nil {
				logger.Log.WithError(err).Warn("не удалось проверить лимит открытия споров")
			}
		} else if lctx.Reached {
			return nil, apperror.New(apperror.ErrCodeValidation,
				"превышен лимит открытия споров, попробуйте позже")
		}
	}

	release, err := s.locks.Acquire(ctx, contractID)
	if err != nil {
		return nil, err
	}
	defer release()

	contract, err := s.getContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if contract.Status != models.ContractStatusActive && contract.Status != models.ContractStatusDisputed {
		return nil, apperror.New(apperror.ErrCodePreconditionFailed,
			"спор можно открыть только по контракту в статусе active или disputed")
	}

	var respondentID uuid.UUID
	switch initiatorID {
	case contract.ClientID:
		respondentID = contract.FreelancerID
	case contract.FreelancerID:
		respondentID = contract.ClientID
	default:
		return nil, apperror.New(apperror.ErrCodeValidation, "инициатор не является участником контракта")
	}

	var disputedMilestone *models.Milestone
	if milestoneID != nil {
		m, err := s.getMilestone(ctx, *milestoneID)
		if err != nil {
			return nil, err
		}
		if m.ContractID != contractID {
			return nil, apperror.New(apperror.ErrCodeInvariantViolation,
				"этап относится к другому контракту")
		}
		if _, err := s.disputes.GetOpenByMilestoneID(ctx, *milestoneID); err == nil {
			return nil, apperror.New(apperror.ErrCodeInvariantViolation,
				"по этапу уже открыт спор")
		} else if !errors.Is(err, repository.ErrDisputeNotFound) {
			return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось проверить споры этапа")
		}

		if !m.IsTerminal() && m.Status != models.MilestoneStatusDisputed {
			disputedMilestone = m
		}
	}

	d := &models.Dispute{
		ContractID:   contractID,
		MilestoneID:  milestoneID,
		InitiatorID:  initiatorID,
		RespondentID: respondentID,
		Status:       models.DisputeStatusOpen,
		Reason:       reason,
	}

	txErr := s.tx.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		if disputedMilestone != nil {
			if err := s.milestones.UpdateStatus(ctx, tx, disputedMilestone.ID, models.MilestoneStatusDisputed); err != nil {
				return apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось перевести этап в спор")
			}
		}
		if err := s.disputes.Create(ctx, tx, d); err != nil {
			return apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось создать спор")
		}
		if contract.Status == models.ContractStatusActive {
			if err := s.contracts.UpdateStatus(ctx, tx, contractID, models.ContractStatusDisputed); err != nil {
				return apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось перевести контракт в спор")
			}
		}
		return nil
	})
	if txErr != nil {
		return nil, asAppError(txErr, "не удалось открыть спор")
	}

	emitAsync(s.notifier, respondentID, models.EventDisputeOpened, map[string]interface{}{
		"dispute_id":  d.ID,
		"contract_id": contractID,
	})

	return d, nil
}

// AssignModerator назначает модератора; допустимо только из open.
func (s *DisputeService) AssignModerator(ctx context.Context, disputeID, moderatorID uuid.UUID) (*models.Dispute, error) {
	d, err := s.getDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}

	release, err := s.locks.Acquire(ctx, d.ContractID)
	if err != nil {
		return nil, err
	}
	defer release()

	d, err = s.getDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if d.Status != models.DisputeStatusOpen {
		return nil, apperror.New(apperror.ErrCodeInvalidTransition,
			"назначить модератора можно только открытому спору")
	}

	if err := s.disputes.AssignModerator(ctx, disputeID, moderatorID); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось назначить модератора")
	}
	d.ModeratorID = &moderatorID
	d.Status = models.DisputeStatusUnderReview
	return d, nil
}

// Resolve разрешает спор и выполняет компенсирующие действия над этапом,
// контрактом и escrow. Сначала все движения средств подтверждаются рейлом,
// затем записи ledger, статусы этапа и контракта и фиксация исхода коммитятся
// одной транзакцией: сбой любой записи откатывает разрешение целиком.
// Повторный вызов для уже разрешённого спора отклоняется, состояние не меняется.
func (s *DisputeService) Resolve(ctx context.Context, disputeID uuid.UUID, outcome, resolution string, releaseAmount *float64) (*models.Dispute, error) {
	if _, ok := models.DisputeOutcomes[outcome]; !ok {
		return nil, apperror.New(apperror.ErrCodeValidation, "неизвестный исход спора")
	}

	d, err := s.getDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}

	release, err := s.locks.Acquire(ctx, d.ContractID)
	if err != nil {
		return nil, err
	}
	defer release()

	d, err = s.getDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}

	current := valueobject.DisputeStatus(d.Status)
	if !current.CanTransitionTo(valueobject.DisputeStatus(outcome)) {
		return nil, apperror.New(apperror.ErrCodeInvalidTransition, "спор уже разрешён")
	}

	contract, err := s.getContract(ctx, d.ContractID)
	if err != nil {
		return nil, err
	}

	var milestone *models.Milestone
	if d.MilestoneID != nil {
		milestone, err = s.getMilestone(ctx, *d.MilestoneID)
		if err != nil {
			return nil, err
		}
	}

	now := time.Now()

	var apply func(tx *sqlx.Tx) error
	switch outcome {
	case models.DisputeStatusResolvedForFreelancer:
		apply, err = s.planForFreelancer(ctx, contract, milestone, now)
	case models.DisputeStatusResolvedForClient:
		apply, err = s.planForClient(ctx, contract, milestone, now)
	case models.DisputeStatusResolvedCompromise:
		apply, err = s.planCompromise(ctx, contract, milestone, releaseAmount, now)
	}
	if err != nil {
		return nil, err
	}

	txErr := s.tx.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		if err := apply(tx); err != nil {
			return err
		}
		if err := s.disputes.Resolve(ctx, tx, disputeID, outcome, resolution, now); err != nil {
			return apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось зафиксировать разрешение спора")
		}
		return nil
	})
	if txErr != nil {
		return nil, asAppError(txErr, "не удалось зафиксировать разрешение спора")
	}
	d.Status = outcome
	d.Resolution = &resolution
	d.ResolvedAt = &now

	data := map[string]interface{}{"dispute_id": d.ID, "outcome": outcome}
	emitAsync(s.notifier, d.InitiatorID, models.EventDisputeResolved, data)
	emitAsync(s.notifier, d.RespondentID, models.EventDisputeResolved, data)

	return d, nil
}

// planForFreelancer выплачивает удерживаемые депозиты в полном объёме через
// рейл и возвращает функцию, которая фиксирует выплаты, возвращает этап в
// ready_for_payment и выводит контракт из disputed.
func (s *DisputeService) planForFreelancer(ctx context.Context, contract *models.Contract, milestone *models.Milestone, now time.Time) (func(tx *sqlx.Tx) error, error) {
	payments, err := s.pendingPayments(ctx, contract, milestone)
	if err != nil {
		return nil, err
	}

	released := make([]paymentReceipt, 0, len(payments))
	for i := range payments {
		p := payments[i]
		ref, err := s.rail.Release(ctx, p.Amount, p.PayeeID)
		if err != nil {
			return nil, apperror.Wrap(err, apperror.ErrCodeExternalService, "платёжный рейл отклонил выплату")
		}
		released = append(released, paymentReceipt{id: p.ID, ref: ref})
	}

	target, err := s.settleTarget(ctx, contract, true)
	if err != nil {
		return nil, err
	}

	return func(tx *sqlx.Tx) error {
		for i := range released {
			r := released[i]
			if err := s.escrows.MarkReleased(ctx, tx, r.id, now, &r.ref); err != nil {
				return apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось зафиксировать выплату")
			}
		}
		if milestone != nil && !milestone.IsTerminal() {
			if err := s.moveMilestoneToReady(ctx, tx, milestone, now); err != nil {
				return err
			}
		}
		return s.applySettle(ctx, tx, contract, target)
	}, nil
}

// planForClient возвращает удерживаемые депозиты плательщику через рейл и
// возвращает функцию, которая закрывает платежи и отправляет этап на
// переработку с нуля.
func (s *DisputeService) planForClient(ctx context.Context, contract *models.Contract, milestone *models.Milestone, now time.Time) (func(tx *sqlx.Tx) error, error) {
	payments, err := s.pendingPayments(ctx, contract, milestone)
	if err != nil {
		return nil, err
	}

	refunded := make([]paymentReceipt, 0, len(payments))
	for i := range payments {
		p := payments[i]
		ref, err := s.rail.Refund(ctx, p.Amount, p.PayerID)
		if err != nil {
			return nil, apperror.Wrap(err, apperror.ErrCodeExternalService, "платёжный рейл отклонил возврат")
		}
		refunded = append(refunded, paymentReceipt{id: p.ID, ref: ref})
	}

	target, err := s.settleTarget(ctx, contract, false)
	if err != nil {
		return nil, err
	}

	return func(tx *sqlx.Tx) error {
		for i := range refunded {
			r := refunded[i]
			if err := s.escrows.MarkClosed(ctx, tx, r.id, now, &r.ref); err != nil {
				return apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось закрыть escrow-платёж")
			}
		}
		if milestone != nil && !milestone.IsTerminal() {
			if err := s.milestones.UpdateStatus(ctx, tx, milestone.ID, models.MilestoneStatusNotStarted); err != nil {
				return apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось вернуть этап в работу")
			}
		}
		return s.applySettle(ctx, tx, contract, target)
	}, nil
}

// planCompromise выплачивает часть удерживаемой суммы и возвращает остаток.
// Полная сумма эквивалентна исходу в пользу фрилансера; частичная отправляет
// этап на переработку.
func (s *DisputeService) planCompromise(ctx context.Context, contract *models.Contract, milestone *models.Milestone, releaseAmount *float64, now time.Time) (func(tx *sqlx.Tx) error, error) {
	if releaseAmount == nil {
		return nil, apperror.New(apperror.ErrCodeValidation, "компромиссный исход требует суммы выплаты")
	}
	if milestone == nil {
		return nil, apperror.New(apperror.ErrCodeValidation, "компромиссный исход требует спора по этапу")
	}

	p, err := s.escrows.GetActiveByMilestoneID(ctx, milestone.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNoActivePayment) {
			return nil, apperror.New(apperror.ErrCodePreconditionFailed, "по этапу нет удерживаемого депозита")
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось получить депозит этапа")
	}

	amount := *releaseAmount
	if amount <= 0 || amount > p.Amount {
		return nil, apperror.New(apperror.ErrCodeInvariantViolation,
			"сумма выплаты должна быть в пределах удерживаемого депозита")
	}

	if amount == p.Amount {
		ref, err := s.rail.Release(ctx, amount, p.PayeeID)
		if err != nil {
			return nil, apperror.Wrap(err, apperror.ErrCodeExternalService, "платёжный рейл отклонил выплату")
		}
		target, err := s.settleTarget(ctx, contract, false)
		if err != nil {
			return nil, err
		}
		return func(tx *sqlx.Tx) error {
			if err := s.escrows.MarkReleased(ctx, tx, p.ID, now, &ref); err != nil {
				return apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось зафиксировать выплату")
			}
			if !milestone.IsTerminal() {
				if err := s.moveMilestoneToReady(ctx, tx, milestone, now); err != nil {
					return err
				}
			}
			return s.applySettle(ctx, tx, contract, target)
		}, nil
	}

	// Частичная выплата: рейл переводит часть получателю и возвращает остаток,
	// платёж закрывается без release - новый цикл депонирования возможен.
	if _, err := s.rail.Release(ctx, amount, p.PayeeID); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeExternalService, "платёжный рейл отклонил выплату")
	}
	ref, err := s.rail.Refund(ctx, p.Amount-amount, p.PayerID)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeExternalService, "платёжный рейл отклонил возврат остатка")
	}

	target, err := s.settleTarget(ctx, contract, false)
	if err != nil {
		return nil, err
	}

	return func(tx *sqlx.Tx) error {
		if err := s.escrows.MarkClosed(ctx, tx, p.ID, now, &ref); err != nil {
			return apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось закрыть escrow-платёж")
		}
		if !milestone.IsTerminal() {
			if err := s.milestones.UpdateStatus(ctx, tx, milestone.ID, models.MilestoneStatusNotStarted); err != nil {
				return apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось вернуть этап в работу")
			}
		}
		return s.applySettle(ctx, tx, contract, target)
	}, nil
}

// pendingPayments возвращает удерживаемые депозиты, которых касается спор:
// депозит этапа для спора по этапу, все депозиты контракта для спора по
// контракту в целом.
func (s *DisputeService) pendingPayments(ctx context.Context, contract *models.Contract, milestone *models.Milestone) ([]models.EscrowPayment, error) {
	if milestone != nil {
		p, err := s.escrows.GetActiveByMilestoneID(ctx, milestone.ID)
		if err != nil {
			if errors.Is(err, repository.ErrNoActivePayment) {
				return nil, nil
			}
			return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось получить депозит этапа")
		}
		return []models.EscrowPayment{*p}, nil
	}

	payments, err := s.escrows.ListActiveByContractID(ctx, contract.ID)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось получить депозиты контракта")
	}
	return payments, nil
}

// moveMilestoneToReady переводит этап в ready_for_payment, сохраняя момент
// первой приёмки, если она уже была.
func (s *DisputeService) moveMilestoneToReady(ctx context.Context, tx *sqlx.Tx, milestone *models.Milestone, now time.Time) error {
	if milestone.ApprovedAt == nil {
		if err := s.milestones.MarkApproved(ctx, tx, milestone.ID, now); err != nil {
			return apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось принять этап")
		}
		return nil
	}
	if err := s.milestones.UpdateStatus(ctx, tx, milestone.ID, models.MilestoneStatusReadyForPayment); err != nil {
		return apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось обновить статус этапа")
	}
	return nil
}

// settleTarget вычисляет, куда выходит контракт из disputed: в completed, если
// все этапы завершены и исход это допускает, иначе обратно в active. Пустая
// строка - контракт не в disputed, запись не нужна.
func (s *DisputeService) settleTarget(ctx context.Context, contract *models.Contract, allowCompleted bool) (string, error) {
	if contract.Status != models.ContractStatusDisputed {
		return "", nil
	}

	target := models.ContractStatusActive
	if allowCompleted {
		milestones, err := s.milestones.ListByContractID(ctx, contract.ID)
		if err != nil {
			return "", apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось получить этапы контракта")
		}
		if len(milestones) > 0 {
			done := true
			for i := range milestones {
				if milestones[i].Status != models.MilestoneStatusCompleted {
					done = false
					break
				}
			}
			if done {
				target = models.ContractStatusCompleted
			}
		}
	}
	return target, nil
}

func (s *DisputeService) applySettle(ctx context.Context, tx *sqlx.Tx, contract *models.Contract, target string) error {
	if target == "" {
		return nil
	}
	if err := s.contracts.UpdateStatus(ctx, tx, contract.ID, target); err != nil {
		return apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось обновить статус контракта")
	}
	contract.Status = target
	return nil
}

// GetDispute возвращает спор по ID.
func (s *DisputeService) GetDispute(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	return s.getDispute(ctx, id)
}

// ListContractDisputes возвращает споры контракта.
func (s *DisputeService) ListContractDisputes(ctx context.Context, contractID uuid.UUID) ([]models.Dispute, error) {
	return s.disputes.ListByContractID(ctx, contractID)
}

func (s *DisputeService) getDispute(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	d, err := s.disputes.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrDisputeNotFound) {
			return nil, apperror.ErrDisputeNotFound
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось получить спор")
	}
	return d, nil
}

func (s *DisputeService) getContract(ctx context.Context, id uuid.UUID) (*models.Contract, error) {
	c, err := s.contracts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrContractNotFound) {
			return nil, apperror.ErrContractNotFound
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось получить контракт")
	}
	return c, nil
}

func (s *DisputeService) getMilestone(ctx context.Context, id uuid.UUID) (*models.Milestone, error) {
	m, err := s.milestones.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrMilestoneNotFound) {
			return nil, apperror.ErrMilestoneNotFound
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось получить этап")
	}
	return m, nil
}
