package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"
)

// Источник оценки: внешний оракул либо локальная детерминированная эвристика.
const (
	SourceOracle            = "oracle"
	SourceHeuristicFallback = "heuristic_fallback"
)

// Assessment - результат анализа сообщения на риски.
type Assessment struct {
	Toxicity         float64  `json:"toxicity"`
	ScopeCreepRisk   float64  `json:"scope_creep_risk"`
	DelayRisk        float64  `json:"delay_risk"`
	PaymentRisk      float64  `json:"payment_risk"`
	Narrative        string   `json:"narrative"`
	SuggestedActions []string `json:"suggested_actions"`
	Source           string   `json:"source"`
}

// Client реализует клиента внешнего оракула рисков.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient создаёт экземпляр клиента. Таймаут ограничивает каждый вызов:
// зависший оракул не должен блокировать транзакции ядра.
func NewClient(baseURL string, timeout time.Duration) *Client {
	apiKey := os.Getenv("RISK_ORACLE_API_KEY")

	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type assessRequest struct {
	Text    string            `json:"text"`
	Context map[string]string `json:"context,omitempty"`
}

// AssessMessage запрашивает оценку сообщения у оракула. Один вызов, без ретраев:
// политика повторов и фолбэка - на стороне вызывающего.
func (c *Client) AssessMessage(ctx context.Context, text string, msgContext map[string]string) (*Assessment, error) {
	payload, err := json.Marshal(assessRequest{Text: text, Context: msgContext})
	if err != nil {
		return nil, fmt.Errorf("oracle: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/assess", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("oracle: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oracle: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oracle: unexpected status %d", resp.StatusCode)
	}

	var assessment Assessment
	if err := json.NewDecoder(resp.Body).Decode(&assessment); err != nil {
		return nil, fmt.Errorf("oracle: decode response: %w", err)
	}

	assessment.Toxicity = clamp01(assessment.Toxicity)
	assessment.ScopeCreepRisk = clamp01(assessment.ScopeCreepRisk)
	assessment.DelayRisk = clamp01(assessment.DelayRisk)
	assessment.PaymentRisk = clamp01(assessment.PaymentRisk)
	assessment.Source = SourceOracle

	return &assessment, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
