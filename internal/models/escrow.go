package models

import (
	"time"

	"github.com/google/uuid"
)

// EscrowPayment представляет депозит средств под конкретный этап.
// Статус выводится из таймстемпов: депонирован (released_at и closed_at пусты),
// выплачен (released_at установлен) или закрыт возвратом без выплаты
// (closed_at установлен). Записи не переписываются - реверс по спору закрывает
// текущий платёж и допускает новый цикл депонирования, сохраняя аудиторский след.
type EscrowPayment struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	MilestoneID uuid.UUID  `db:"milestone_id" json:"milestone_id"`
	ContractID  uuid.UUID  `db:"contract_id" json:"contract_id"`
	PayerID     uuid.UUID  `db:"payer_id" json:"payer_id"`
	PayeeID     uuid.UUID  `db:"payee_id" json:"payee_id"`
	Amount      float64    `db:"amount" json:"amount"`
	ExternalRef *string    `db:"external_ref" json:"external_ref,omitempty"`
	DepositedAt time.Time  `db:"deposited_at" json:"deposited_at"`
	ReleasedAt  *time.Time `db:"released_at" json:"released_at,omitempty"`
	ClosedAt    *time.Time `db:"closed_at" json:"closed_at,omitempty"`
}

// IsActive сообщает, удерживаются ли средства по платежу прямо сейчас.
func (p *EscrowPayment) IsActive() bool {
	return p.ReleasedAt == nil && p.ClosedAt == nil
}

// IsReleased сообщает, выплачены ли средства получателю.
func (p *EscrowPayment) IsReleased() bool {
	return p.ReleasedAt != nil
}
