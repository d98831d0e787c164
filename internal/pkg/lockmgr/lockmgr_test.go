package lockmgr

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/trustwork/escrow-engine/internal/pkg/apperror"
)

func TestContractLocks_AcquireRelease(t *testing.T) {
	locks := New()
	id := uuid.New()

	release, err := locks.Acquire(context.Background(), id)
	assert.NoError(t, err)
	release()

	// Повторный захват после освобождения проходит без ожидания.
	release, err = locks.Acquire(context.Background(), id)
	assert.NoError(t, err)
	release()
}

func TestContractLocks_TryAcquire_Conflict(t *testing.T) {
	locks := New()
	id := uuid.New()

	release, err := locks.Acquire(context.Background(), id)
	assert.NoError(t, err)
	defer release()

	_, err = locks.TryAcquire(id)
	assert.True(t, apperror.IsConcurrencyConflict(err))
}

func TestContractLocks_IndependentContracts(t *testing.T) {
	locks := New()

	releaseA, err := locks.Acquire(context.Background(), uuid.New())
	assert.NoError(t, err)
	defer releaseA()

	// Блокировка одного контракта не мешает другому.
	releaseB, err := locks.TryAcquire(uuid.New())
	assert.NoError(t, err)
	releaseB()
}

func TestContractLocks_AcquireCancelledContext(t *testing.T) {
	locks := New()
	id := uuid.New()

	release, err := locks.Acquire(context.Background(), id)
	assert.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = locks.Acquire(ctx, id)
	assert.True(t, apperror.IsConcurrencyConflict(err))
}

func TestContractLocks_SerializesWriters(t *testing.T) {
	locks := New()
	id := uuid.New()

	var counter int
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locks.Acquire(context.Background(), id)
			if err != nil {
				t.Error(err)
				return
			}
			defer release()
			counter++
		}()
	}

	wg.Wait()
	assert.Equal(t, 50, counter)
}
