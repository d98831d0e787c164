package oracle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeuristicAssess_Deterministic(t *testing.T) {
	text := "Вы мошенник, я не заплачу и перенесу сроки"

	a1 := HeuristicAssess(text)
	a2 := HeuristicAssess(text)

	assert.Equal(t, a1, a2)
	assert.Equal(t, SourceHeuristicFallback, a1.Source)
}

func TestHeuristicAssess_NeutralText(t *testing.T) {
	a := HeuristicAssess("Добрый день, высылаю результат первого этапа")

	assert.Equal(t, 0.0, a.Toxicity)
	assert.Equal(t, 0.0, a.PaymentRisk)
	assert.Equal(t, 0.0, a.DelayRisk)
	assert.Empty(t, a.SuggestedActions)
}

func TestHeuristicAssess_MarkersRaiseScores(t *testing.T) {
	a := HeuristicAssess("Ты идиот и мошенник, это обман")

	// Три маркера токсичности дают насыщение шкалы.
	assert.Equal(t, 1.0, a.Toxicity)
	assert.Contains(t, a.SuggestedActions, "передать переписку модератору")
}

func TestHeuristicAssess_PaymentRiskAction(t *testing.T) {
	a := HeuristicAssess("Я не заплачу, требую вернуть деньги")

	assert.GreaterOrEqual(t, a.PaymentRisk, 0.5)
	assert.Contains(t, a.SuggestedActions, "проверить состояние escrow по контракту")
}
