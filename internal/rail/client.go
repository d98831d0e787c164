package rail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Client реализует клиента внешнего платёжного рейла. Ядро не занимается
// расчётами: оно лишь фиксирует в ledger состояние, которое рейл подтвердил,
// и хранит опорную ссылку (receipt) для сверки.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient создаёт экземпляр клиента с ограниченным таймаутом на вызов.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type railRequest struct {
	Amount    float64    `json:"amount"`
	Recipient *uuid.UUID `json:"recipient,omitempty"`
}

type railResponse struct {
	Reference string `json:"reference"`
}

// Deposit подтверждает приём средств в удержание, возвращает receipt.
func (c *Client) Deposit(ctx context.Context, amount float64) (string, error) {
	return c.post(ctx, "/v1/deposit", railRequest{Amount: amount})
}

// Release подтверждает выплату получателю, возвращает receipt.
func (c *Client) Release(ctx context.Context, amount float64, recipient uuid.UUID) (string, error) {
	return c.post(ctx, "/v1/release", railRequest{Amount: amount, Recipient: &recipient})
}

// Refund подтверждает возврат плательщику, возвращает receipt.
func (c *Client) Refund(ctx context.Context, amount float64, recipient uuid.UUID) (string, error) {
	return c.post(ctx, "/v1/refund", railRequest{Amount: amount, Recipient: &recipient})
}

func (c *Client) post(ctx context.Context, path string, body railRequest) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("rail: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("rail: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("rail: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("rail: unexpected status %d", resp.StatusCode)
	}

	var out railResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("rail: decode response: %w", err)
	}
	if out.Reference == "" {
		return "", fmt.Errorf("rail: empty reference in response")
	}

	return out.Reference, nil
}
