package models

import (
	"time"

	"github.com/google/uuid"
)

// Статусы контракта
const (
	ContractStatusDraft     = "draft"
	ContractStatusPending   = "pending"
	ContractStatusActive    = "active"
	ContractStatusCompleted = "completed"
	ContractStatusCancelled = "cancelled"
	ContractStatusDisputed  = "disputed"
)

// ValidContractStatuses список валидных статусов контракта
var ValidContractStatuses = map[string]struct{}{
	ContractStatusDraft:     {},
	ContractStatusPending:   {},
	ContractStatusActive:    {},
	ContractStatusCompleted: {},
	ContractStatusCancelled: {},
	ContractStatusDisputed:  {},
}

// Contract представляет договор между клиентом и фрилансером.
// После выхода из draft изменяться может только статус.
type Contract struct {
	ID           uuid.UUID `db:"id" json:"id"`
	ClientID     uuid.UUID `db:"client_id" json:"client_id"`
	FreelancerID uuid.UUID `db:"freelancer_id" json:"freelancer_id"`
	Total        float64   `db:"total" json:"total"`
	Currency     string    `db:"currency" json:"currency"`
	Status       string    `db:"status" json:"status"`
	StartDate    time.Time `db:"start_date" json:"start_date"`
	EndDate      time.Time `db:"end_date" json:"end_date"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
