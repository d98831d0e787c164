package models

import "github.com/google/uuid"

// Роли участия в контракте. Роль передаётся в расчёт явно и применяется к той
// стороне контрактов, где пользователь реально выступал в этой роли.
const (
	RoleClient     = "client"
	RoleFreelancer = "freelancer"
)

// TrustStats - сырые счётчики истории пользователя, из которых детерминированно
// выводится балл доверия. Счётчики полностью определяют результат.
type TrustStats struct {
	ContractsCompleted int
	ContractsCancelled int
	AverageRating      float64
	ReviewCount        int
	DisputesInitiated  int
	DisputesLost       int
	OnTime             int
	Late               int
}

// TrustProfile - производный профиль доверия. Никогда не персистится и не
// мутируется независимо: всегда пересчитывается из истории агрегатов.
type TrustProfile struct {
	UserID            uuid.UUID `json:"user_id"`
	Role              string    `json:"role"`
	OverallScore      int       `json:"overall_score"`
	RatingFactor      float64   `json:"rating_factor"`
	ReliabilityFactor float64   `json:"reliability_factor"`
	DisputeFactor     float64   `json:"dispute_factor"`
	Tier              Tier      `json:"tier"`
	NextTier          *Tier     `json:"next_tier,omitempty"`
	PointsToNext      int       `json:"points_to_next,omitempty"`
	Stats             TrustStats `json:"stats"`
}
