package valueobject

import (
	"fmt"

	"github.com/trustwork/escrow-engine/internal/pkg/apperror"
)

// Money - денежная сумма в фиксированной валюте платформы.
type Money struct {
	Amount   float64
	Currency string
}

func NewMoney(amount float64, currency string) (Money, error) {
	if amount <= 0 {
		return Money{}, apperror.New(apperror.ErrCodeValidation, "сумма должна быть положительной")
	}
	if currency == "" {
		currency = "USD"
	}
	return Money{Amount: amount, Currency: currency}, nil
}

func (m Money) String() string {
	return fmt.Sprintf("%s %.2f", m.Currency, m.Amount)
}

// ApplyDiscount возвращает сумму со скидкой в процентах.
func (m Money) ApplyDiscount(percent float64) Money {
	return Money{Amount: m.Amount * (1 - percent/100), Currency: m.Currency}
}
