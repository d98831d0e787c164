package models

import (
	"time"

	"github.com/google/uuid"
)

// Review представляет отзыв участника контракта о второй стороне.
type Review struct {
	ID         uuid.UUID `db:"id" json:"id"`
	ContractID uuid.UUID `db:"contract_id" json:"contract_id"`
	ReviewerID uuid.UUID `db:"reviewer_id" json:"reviewer_id"`
	ReceiverID uuid.UUID `db:"receiver_id" json:"receiver_id"`
	Rating     int       `db:"rating" json:"rating"`
	Comment    *string   `db:"comment" json:"comment,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
