package models

import (
	"time"

	"github.com/google/uuid"
)

// Статусы этапа работ
const (
	MilestoneStatusNotStarted      = "not_started"
	MilestoneStatusInProgress      = "in_progress"
	MilestoneStatusPendingReview   = "pending_review"
	MilestoneStatusReadyForPayment = "ready_for_payment"
	MilestoneStatusCompleted       = "completed"
	MilestoneStatusDisputed        = "disputed"
)

// Milestone представляет оплачиваемый этап работ внутри контракта.
// ApprovedAt фиксирует приёмку работы (вход в ready_for_payment) и служит
// точкой отсчёта для оценки своевременности релиза средств клиентом.
// CompletedAt выставляется ровно один раз при входе в completed.
type Milestone struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	ContractID  uuid.UUID  `db:"contract_id" json:"contract_id"`
	Amount      float64    `db:"amount" json:"amount"`
	Status      string     `db:"status" json:"status"`
	DueDate     time.Time  `db:"due_date" json:"due_date"`
	ApprovedAt  *time.Time `db:"approved_at" json:"approved_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// IsTerminal сообщает, достиг ли этап конечного статуса.
func (m *Milestone) IsTerminal() bool {
	return m.Status == MilestoneStatusCompleted
}
