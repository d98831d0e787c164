package valueobject

import "github.com/trustwork/escrow-engine/internal/pkg/apperror"

type ContractStatus string

const (
	ContractStatusDraft     ContractStatus = "draft"
	ContractStatusPending   ContractStatus = "pending"
	ContractStatusActive    ContractStatus = "active"
	ContractStatusCompleted ContractStatus = "completed"
	ContractStatusCancelled ContractStatus = "cancelled"
	ContractStatusDisputed  ContractStatus = "disputed"
)

func (s ContractStatus) IsValid() bool {
	switch s {
	case ContractStatusDraft, ContractStatusPending, ContractStatusActive,
		ContractStatusCompleted, ContractStatusCancelled, ContractStatusDisputed:
		return true
	}
	return false
}

func (s ContractStatus) IsTerminal() bool {
	return s == ContractStatusCompleted || s == ContractStatusCancelled
}

// CanTransitionTo проверяет переход по графу жизненного цикла контракта.
// Перескакивать через состояния нельзя: draft обязан пройти pending и active.
func (s ContractStatus) CanTransitionTo(newStatus ContractStatus) bool {
	transitions := map[ContractStatus][]ContractStatus{
		ContractStatusDraft:     {ContractStatusPending},
		ContractStatusPending:   {ContractStatusActive},
		ContractStatusActive:    {ContractStatusCompleted, ContractStatusCancelled, ContractStatusDisputed},
		ContractStatusDisputed:  {ContractStatusActive, ContractStatusCompleted, ContractStatusCancelled},
		ContractStatusCompleted: {},
		ContractStatusCancelled: {},
	}

	allowed, ok := transitions[s]
	if !ok {
		return false
	}

	for _, status := range allowed {
		if status == newStatus {
			return true
		}
	}
	return false
}

func NewContractStatus(status string) (ContractStatus, error) {
	s := ContractStatus(status)
	if !s.IsValid() {
		return "", apperror.New(apperror.ErrCodeValidation, "некорректный статус контракта")
	}
	return s, nil
}

type MilestoneStatus string

const (
	MilestoneStatusNotStarted      MilestoneStatus = "not_started"
	MilestoneStatusInProgress      MilestoneStatus = "in_progress"
	MilestoneStatusPendingReview   MilestoneStatus = "pending_review"
	MilestoneStatusReadyForPayment MilestoneStatus = "ready_for_payment"
	MilestoneStatusCompleted       MilestoneStatus = "completed"
	MilestoneStatusDisputed        MilestoneStatus = "disputed"
)

func (s MilestoneStatus) IsValid() bool {
	switch s {
	case MilestoneStatusNotStarted, MilestoneStatusInProgress, MilestoneStatusPendingReview,
		MilestoneStatusReadyForPayment, MilestoneStatusCompleted, MilestoneStatusDisputed:
		return true
	}
	return false
}

func (s MilestoneStatus) IsTerminal() bool {
	return s == MilestoneStatusCompleted
}

// CanTransitionTo проверяет переход по жизненному циклу этапа. Любой
// нетерминальный статус может уйти в disputed; выход из disputed определяется
// исходом спора (возврат в работу либо ready_for_payment).
func (s MilestoneStatus) CanTransitionTo(newStatus MilestoneStatus) bool {
	transitions := map[MilestoneStatus][]MilestoneStatus{
		MilestoneStatusNotStarted:      {MilestoneStatusInProgress, MilestoneStatusDisputed},
		MilestoneStatusInProgress:      {MilestoneStatusPendingReview, MilestoneStatusDisputed},
		MilestoneStatusPendingReview:   {MilestoneStatusReadyForPayment, MilestoneStatusDisputed},
		MilestoneStatusReadyForPayment: {MilestoneStatusCompleted, MilestoneStatusDisputed},
		MilestoneStatusDisputed:        {MilestoneStatusNotStarted, MilestoneStatusInProgress, MilestoneStatusReadyForPayment},
		MilestoneStatusCompleted:       {},
	}

	allowed, ok := transitions[s]
	if !ok {
		return false
	}

	for _, status := range allowed {
		if status == newStatus {
			return true
		}
	}
	return false
}

func NewMilestoneStatus(status string) (MilestoneStatus, error) {
	s := MilestoneStatus(status)
	if !s.IsValid() {
		return "", apperror.New(apperror.ErrCodeValidation, "некорректный статус этапа")
	}
	return s, nil
}

type DisputeStatus string

const (
	DisputeStatusOpen                  DisputeStatus = "open"
	DisputeStatusUnderReview           DisputeStatus = "under_review"
	DisputeStatusResolvedForClient     DisputeStatus = "resolved_for_client"
	DisputeStatusResolvedForFreelancer DisputeStatus = "resolved_for_freelancer"
	DisputeStatusResolvedCompromise    DisputeStatus = "resolved_compromise"
)

func (s DisputeStatus) IsValid() bool {
	switch s {
	case DisputeStatusOpen, DisputeStatusUnderReview, DisputeStatusResolvedForClient,
		DisputeStatusResolvedForFreelancer, DisputeStatusResolvedCompromise:
		return true
	}
	return false
}

func (s DisputeStatus) IsTerminal() bool {
	switch s {
	case DisputeStatusResolvedForClient, DisputeStatusResolvedForFreelancer, DisputeStatusResolvedCompromise:
		return true
	}
	return false
}

// CanTransitionTo проверяет переход спора. Быстрое разрешение без модератора
// допускается прямо из open.
func (s DisputeStatus) CanTransitionTo(newStatus DisputeStatus) bool {
	transitions := map[DisputeStatus][]DisputeStatus{
		DisputeStatusOpen: {DisputeStatusUnderReview, DisputeStatusResolvedForClient,
			DisputeStatusResolvedForFreelancer, DisputeStatusResolvedCompromise},
		DisputeStatusUnderReview: {DisputeStatusResolvedForClient,
			DisputeStatusResolvedForFreelancer, DisputeStatusResolvedCompromise},
		DisputeStatusResolvedForClient:     {},
		DisputeStatusResolvedForFreelancer: {},
		DisputeStatusResolvedCompromise:    {},
	}

	allowed, ok := transitions[s]
	if !ok {
		return false
	}

	for _, status := range allowed {
		if status == newStatus {
			return true
		}
	}
	return false
}
