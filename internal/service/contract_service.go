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

// ContractRepository описывает хранилище контрактов со стороны сервисов.
type ContractRepository interface {
	Create(ctx context.Context, c *models.Contract) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Contract, error)
	ListByClientID(ctx context.Context, clientID uuid.UUID) ([]models.Contract, error)
	ListByFreelancerID(ctx context.Context, freelancerID uuid.UUID) ([]models.Contract, error)
	UpdateStatus(ctx context.Context, ext sqlx.ExtContext, id uuid.UUID, status string) error
	UpdateTotal(ctx context.Context, id uuid.UUID, total float64) error
}

// PaymentRail - внешний платёжный контур. Ядро фиксирует только те движения
// средств, которые рейл подтвердил receipt'ом.
type PaymentRail interface {
	Deposit(ctx context.Context, amount float64) (string, error)
	Release(ctx context.Context, amount float64, recipient uuid.UUID) (string, error)
	Refund(ctx context.Context, amount float64, recipient uuid.UUID) (string, error)
}

// TxManager выполняет набор записей хранилища в одной транзакции.
type TxManager interface {
	WithTransaction(ctx context.Context, fn func(tx *sqlx.Tx) error) error
}

// paymentReceipt - подтверждённое рейлом движение средств, ожидающее записи
// в ledger.
type paymentReceipt struct {
	id  uuid.UUID
	ref string
}

// asAppError пропускает уже типизированную ошибку из транзакции и оборачивает
// остальные (begin/commit) как внутренние.
func asAppError(err error, message string) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperror.Wrap(err, apperror.ErrCodeInternal, message)
}

// ContractService управляет жизненным циклом контракта.
type ContractService struct {
	contracts ContractRepository
	escrows   EscrowRepository
	rail      PaymentRail
	tx        TxManager
	locks     *lockmgr.ContractLocks
	notifier  Notifier
}

func NewContractService(contracts ContractRepository, escrows EscrowRepository, rail PaymentRail, tx TxManager, locks *lockmgr.ContractLocks, notifier Notifier) *ContractService {
	return &ContractService{
		contracts: contracts,
		escrows:   escrows,
		rail:      rail,
		tx:        tx,
		locks:     locks,
		notifier:  notifier,
	}
}

// CreateContract создаёт контракт в статусе draft.
func (s *ContractService) CreateContract(ctx context.Context, clientID, freelancerID uuid.UUID, total float64, currency string, startDate, endDate time.Time) (*models.Contract, error) {
	money, err := valueobject.NewMoney(total, currency)
	if err != nil {
		return nil, err
	}
	if clientID == freelancerID {
		return nil, apperror.New(apperror.ErrCodeValidation, "клиент и фрилансер не могут совпадать")
	}
	if endDate.Before(startDate) {
		return nil, apperror.New(apperror.ErrCodeValidation, "дата окончания раньше даты начала")
	}

	c := &models.Contract{
		ClientID:     clientID,
		FreelancerID: freelancerID,
		Total:        money.Amount,
		Currency:     money.Currency,
		Status:       models.ContractStatusDraft,
		StartDate:    startDate,
		EndDate:      endDate,
	}
	if err := s.contracts.Create(ctx, c); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось создать контракт")
	}
	return c, nil
}

// GetContract возвращает контракт по ID.
func (s *ContractService) GetContract(ctx context.Context, id uuid.UUID) (*models.Contract, error) {
	return s.getContract(ctx, id)
}

// UpdateTotal меняет сумму контракта. Сумма неизменяема после выхода из draft.
func (s *ContractService) UpdateTotal(ctx context.Context, id uuid.UUID, total float64) (*models.Contract, error) {
	money, err := valueobject.NewMoney(total, "")
	if err != nil {
		return nil, err
	}

	release, err := s.locks.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	c, err := s.getContract(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != models.ContractStatusDraft {
		return nil, apperror.New(apperror.ErrCodeInvariantViolation, "сумма контракта неизменяема после выхода из draft")
	}

	if err := s.contracts.UpdateTotal(ctx, id, money.Amount); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось обновить сумму контракта")
	}
	c.Total = money.Amount
	return c, nil
}

// SetStatus выполняет переход контракта по графу жизненного цикла.
// Активация из pending требует удерживаемого (не выплаченного и не закрытого)
// депозита; отмена возвращает все удерживаемые депозиты через платёжный рейл.
func (s *ContractService) SetStatus(ctx context.Context, id uuid.UUID, newStatus string) (*models.Contract, error) {
	ns, err := valueobject.NewContractStatus(newStatus)
	if err != nil {
		return nil, err
	}

	release, err := s.locks.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	c, err := s.getContract(ctx, id)
	if err != nil {
		return nil, err
	}

	current := valueobject.ContractStatus(c.Status)
	if !current.CanTransitionTo(ns) {
		return nil, apperror.New(apperror.ErrCodeInvalidTransition,
			"переход контракта "+c.Status+" -> "+newStatus+" не разрешён")
	}

	if ns == valueobject.ContractStatusActive && current == valueobject.ContractStatusPending {
		// Считаются только удерживаемые депозиты: выплаченный или возвращённый
		// платёж контракт не обеспечивает.
		payments, err := s.escrows.ListActiveByContractID(ctx, id)
		if err != nil {
			return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось проверить escrow по контракту")
		}
		if len(payments) == 0 {
			return nil, apperror.New(apperror.ErrCodePreconditionFailed,
				"нельзя активировать контракт без удерживаемого escrow-депозита")
		}
	}

	if ns == valueobject.ContractStatusCancelled {
		// Каскад отмены: возвраты подтверждаются рейлом до любых записей,
		// затем закрытие платежей и смена статуса коммитятся одной транзакцией.
		// Сбой рейла прерывает переход целиком, статус не меняется.
		closeDeposits, err := s.refundActiveDeposits(ctx, c)
		if err != nil {
			return nil, err
		}
		txErr := s.tx.WithTransaction(ctx, func(tx *sqlx.Tx) error {
			if err := closeDeposits(tx); err != nil {
				return err
			}
			if err := s.contracts.UpdateStatus(ctx, tx, id, string(ns)); err != nil {
				return apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось обновить статус контракта")
			}
			return nil
		})
		if txErr != nil {
			return nil, asAppError(txErr, "не удалось отменить контракт")
		}
	} else {
		if err := s.contracts.UpdateStatus(ctx, nil, id, string(ns)); err != nil {
			return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось обновить статус контракта")
		}
	}
	c.Status = string(ns)

	data := map[string]interface{}{"contract_id": c.ID, "status": c.Status}
	emitAsync(s.notifier, c.ClientID, models.EventContractStatusChanged, data)
	emitAsync(s.notifier, c.FreelancerID, models.EventContractStatusChanged, data)

	return c, nil
}

// refundActiveDeposits проводит возвраты через рейл и возвращает функцию,
// закрывающую платежи в переданной транзакции.
func (s *ContractService) refundActiveDeposits(ctx context.Context, c *models.Contract) (func(tx *sqlx.Tx) error, error) {
	payments, err := s.escrows.ListActiveByContractID(ctx, c.ID)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось получить удерживаемые депозиты")
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

	now := time.Now()
	return func(tx *sqlx.Tx) error {
		for i := range refunded {
			r := refunded[i]
			if err := s.escrows.MarkClosed(ctx, tx, r.id, now, &r.ref); err != nil {
				return apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось закрыть escrow-платёж")
			}
		}
		return nil
	}, nil
}

func (s *ContractService) getContract(ctx context.Context, id uuid.UUID) (*models.Contract, error) {
	c, err := s.contracts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrContractNotFound) {
			return nil, apperror.ErrContractNotFound
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось получить контракт")
	}
	return c, nil
}
