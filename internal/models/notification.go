package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// События, по которым ядро создаёт уведомления. Доставка - забота внешнего слоя.
const (
	EventContractStatusChanged = "contract.status_changed"
	EventMilestoneCompleted    = "milestone.completed"
	EventEscrowDeposited       = "escrow.deposited"
	EventEscrowReleased        = "escrow.released"
	EventDisputeOpened         = "dispute.opened"
	EventDisputeResolved       = "dispute.resolved"
)

// Notification представляет персистентное уведомление пользователя.
type Notification struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	UserID    uuid.UUID       `db:"user_id" json:"user_id"`
	Payload   json.RawMessage `db:"payload" json:"payload"`
	IsRead    bool            `db:"is_read" json:"is_read"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}
