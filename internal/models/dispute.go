package models

import (
	"time"

	"github.com/google/uuid"
)

// Статусы спора; три resolved-статуса терминальны.
const (
	DisputeStatusOpen                  = "open"
	DisputeStatusUnderReview           = "under_review"
	DisputeStatusResolvedForClient     = "resolved_for_client"
	DisputeStatusResolvedForFreelancer = "resolved_for_freelancer"
	DisputeStatusResolvedCompromise    = "resolved_compromise"
)

// DisputeOutcomes перечисляет допустимые исходы разрешения спора.
var DisputeOutcomes = map[string]struct{}{
	DisputeStatusResolvedForClient:     {},
	DisputeStatusResolvedForFreelancer: {},
	DisputeStatusResolvedCompromise:    {},
}

// Dispute представляет формальное разногласие по контракту или его этапу.
type Dispute struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	ContractID   uuid.UUID  `db:"contract_id" json:"contract_id"`
	MilestoneID  *uuid.UUID `db:"milestone_id" json:"milestone_id,omitempty"`
	InitiatorID  uuid.UUID  `db:"initiator_id" json:"initiator_id"`
	RespondentID uuid.UUID  `db:"respondent_id" json:"respondent_id"`
	ModeratorID  *uuid.UUID `db:"moderator_id" json:"moderator_id,omitempty"`
	Status       string     `db:"status" json:"status"`
	Reason       string     `db:"reason" json:"reason"`
	Resolution   *string    `db:"resolution" json:"resolution,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	ResolvedAt   *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
}

// IsResolved сообщает, достиг ли спор терминального статуса.
func (d *Dispute) IsResolved() bool {
	_, ok := DisputeOutcomes[d.Status]
	return ok
}
