package oracle

import "strings"

// Ключевые маркеры для локальной эвристики. Подбор грубый намеренно:
// эвристика - страховочный путь при недоступном оракуле, а не его замена.
var (
	toxicityMarkers   = []string{"идиот", "мошенник", "обман", "угрожаю", "scam", "fraud", "idiot"}
	scopeCreepMarkers = []string{"ещё одну", "заодно", "добавим", "расширим", "дополнительно", "extra feature", "while you're at it"}
	delayMarkers      = []string{"задерж", "не успе", "перенос", "позже", "delay", "postpone", "late"}
	paymentMarkers    = []string{"не заплачу", "вернуть деньги", "без оплаты", "бесплатно", "won't pay", "refund", "chargeback"}
)

// HeuristicAssess - детерминированная локальная оценка сообщения.
// Чистая функция текста: одинаковый вход всегда даёт одинаковый результат.
func HeuristicAssess(text string) *Assessment {
	lower := strings.ToLower(text)

	assessment := &Assessment{
		Toxicity:       scoreMarkers(lower, toxicityMarkers),
		ScopeCreepRisk: scoreMarkers(lower, scopeCreepMarkers),
		DelayRisk:      scoreMarkers(lower, delayMarkers),
		PaymentRisk:    scoreMarkers(lower, paymentMarkers),
		Narrative:      "локальная эвристическая оценка (оракул недоступен)",
		Source:         SourceHeuristicFallback,
	}

	if assessment.Toxicity >= 0.5 {
		assessment.SuggestedActions = append(assessment.SuggestedActions, "передать переписку модератору")
	}
	if assessment.PaymentRisk >= 0.5 {
		assessment.SuggestedActions = append(assessment.SuggestedActions, "проверить состояние escrow по контракту")
	}
	if assessment.DelayRisk >= 0.5 {
		assessment.SuggestedActions = append(assessment.SuggestedActions, "уточнить сроки этапа")
	}

	return assessment
}

// scoreMarkers считает долю сработавших маркеров с насыщением:
// каждое совпадение добавляет 0.34, три и больше дают максимум.
func scoreMarkers(text string, markers []string) float64 {
	var hits int
	for _, m := range markers {
		if strings.Contains(text, m) {
			hits++
		}
	}
	score := float64(hits) * 0.34
	return clamp01(score)
}
