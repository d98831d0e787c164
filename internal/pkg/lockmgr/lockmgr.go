package lockmgr

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/trustwork/escrow-engine/internal/pkg/apperror"
)

// ContractLocks выдаёт эксклюзивные блокировки по идентификатору контракта.
// Любая мутация, затрагивающая контракт и его агрегаты (этапы, escrow, споры),
// выполняется под такой блокировкой; операции над разными контрактами не
// конкурируют между собой.
type ContractLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*contractLock
}

type contractLock struct {
	sem  chan struct{}
	refs int
}

func New() *ContractLocks {
	return &ContractLocks{locks: make(map[uuid.UUID]*contractLock)}
}

// Acquire берёт блокировку контракта, ожидая её освобождения. Отмена контекста
// во время ожидания возвращает ConcurrencyConflict, блокировка при этом не берётся.
func (c *ContractLocks) Acquire(ctx context.Context, contractID uuid.UUID) (func(), error) {
	l := c.retain(contractID)

	select {
	case l.sem <- struct{}{}:
		return func() {
			<-l.sem
			c.release(contractID)
		}, nil
	case <-ctx.Done():
		c.release(contractID)
		return nil, apperror.Wrap(ctx.Err(), apperror.ErrCodeConcurrencyConflict,
			"не удалось дождаться блокировки контракта")
	}
}

// TryAcquire берёт блокировку без ожидания; занятый контракт - ConcurrencyConflict.
func (c *ContractLocks) TryAcquire(contractID uuid.UUID) (func(), error) {
	l := c.retain(contractID)

	select {
	case l.sem <- struct{}{}:
		return func() {
			<-l.sem
			c.release(contractID)
		}, nil
	default:
		c.release(contractID)
		return nil, apperror.New(apperror.ErrCodeConcurrencyConflict,
			"контракт занят другой операцией")
	}
}

func (c *ContractLocks) retain(contractID uuid.UUID) *contractLock {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.locks[contractID]
	if !ok {
		l = &contractLock{sem: make(chan struct{}, 1)}
		c.locks[contractID] = l
	}
	l.refs++
	return l
}

func (c *ContractLocks) release(contractID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.locks[contractID]
	if !ok {
		return
	}
	l.refs--
	if l.refs == 0 {
		delete(c.locks, contractID)
	}
}
