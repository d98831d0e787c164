package models

// Уровни строгости escrow
const (
	EscrowStrictnessFull    = "full"
	EscrowStrictnessPartial = "partial"
	EscrowStrictnessMinimal = "minimal"
)

// Уровни верификации
const (
	VerificationLevelStandard = "standard"
	VerificationLevelLight    = "light"
	VerificationLevelMinimal  = "minimal"
)

// Уровни доступа к шаблонам
const (
	TemplateAccessBasic    = "basic"
	TemplateAccessStandard = "standard"
	TemplateAccessExtended = "extended"
	TemplateAccessFull     = "full"
)

// Tier - ступень программы лояльности, привязанная к баллу доверия.
type Tier struct {
	Name               string  `json:"name"`
	MinScore           int     `json:"min_score"`
	FeeDiscountPercent float64 `json:"fee_discount_percent"`
	PayoutHours        int     `json:"payout_hours"`
	EscrowStrictness   string  `json:"escrow_strictness"`
	VerificationLevel  string  `json:"verification_level"`
	PrioritySupport    bool    `json:"priority_support"`
	TemplateAccess     string  `json:"template_access"`
}

// Tiers - фиксированная таблица ступеней, упорядоченная по возрастанию MinScore.
var Tiers = []Tier{
	{
		Name:               "bronze",
		MinScore:           0,
		FeeDiscountPercent: 0,
		PayoutHours:        72,
		EscrowStrictness:   EscrowStrictnessFull,
		VerificationLevel:  VerificationLevelStandard,
		PrioritySupport:    false,
		TemplateAccess:     TemplateAccessBasic,
	},
	{
		Name:               "silver",
		MinScore:           50,
		FeeDiscountPercent: 5,
		PayoutHours:        48,
		EscrowStrictness:   EscrowStrictnessFull,
		VerificationLevel:  VerificationLevelStandard,
		PrioritySupport:    false,
		TemplateAccess:     TemplateAccessStandard,
	},
	{
		Name:               "gold",
		MinScore:           75,
		FeeDiscountPercent: 10,
		PayoutHours:        24,
		EscrowStrictness:   EscrowStrictnessPartial,
		VerificationLevel:  VerificationLevelLight,
		PrioritySupport:    true,
		TemplateAccess:     TemplateAccessExtended,
	},
	{
		Name:               "platinum",
		MinScore:           90,
		FeeDiscountPercent: 20,
		PayoutHours:        6,
		EscrowStrictness:   EscrowStrictnessMinimal,
		VerificationLevel:  VerificationLevelMinimal,
		PrioritySupport:    true,
		TemplateAccess:     TemplateAccessFull,
	},
}

// ResolveTier возвращает старшую ступень, чей порог не превышает балл.
// Балл ниже нижнего порога (после clamp такого не бывает) даёт bronze.
func ResolveTier(score int) Tier {
	tier := Tiers[0]
	for _, t := range Tiers {
		if score >= t.MinScore {
			tier = t
		}
	}
	return tier
}

// NextTier возвращает следующую ступень и недостающие баллы,
// либо nil если балл уже на верхней ступени.
func NextTier(score int) (*Tier, int) {
	for i := range Tiers {
		if score < Tiers[i].MinScore {
			t := Tiers[i]
			return &t, t.MinScore - score
		}
	}
	return nil, 0
}
