package rail

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestClient_Deposit_ReturnsReference(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/deposit", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req railRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 500.0, req.Amount)
		assert.Nil(t, req.Recipient)

		json.NewEncoder(w).Encode(railResponse{Reference: "dep-abc-123"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key", time.Second)
	ref, err := client.Deposit(context.Background(), 500)

	assert.NoError(t, err)
	assert.Equal(t, "dep-abc-123", ref)
}

func TestClient_Release_SendsRecipient(t *testing.T) {
	recipient := uuid.New()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/release", r.URL.Path)

		var req railRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if assert.NotNil(t, req.Recipient) {
			assert.Equal(t, recipient, *req.Recipient)
		}

		json.NewEncoder(w).Encode(railResponse{Reference: "rel-abc-123"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", time.Second)
	ref, err := client.Release(context.Background(), 500, recipient)

	assert.NoError(t, err)
	assert.Equal(t, "rel-abc-123", ref)
}

func TestClient_EmptyReference(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(railResponse{})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", time.Second)
	_, err := client.Refund(context.Background(), 500, uuid.New())

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "empty reference")
}

func TestClient_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", time.Second)
	_, err := client.Deposit(context.Background(), 500)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status")
}
