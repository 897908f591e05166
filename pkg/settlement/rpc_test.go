package settlement

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"veilpool/pkg/config"
)

func newTestClient(endpoint string) *RPCClient {
	return NewRPCClient(PoolConfig{
		Endpoint:    endpoint,
		PoolAddress: "POOL-1",
		SecretKey:   "test-secret",
		Timeout:     500 * time.Millisecond,
	})
}

func TestTransfer(t *testing.T) {
	var got transferRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/transfers", r.URL.Path)
		require.Equal(t, "Bearer test-secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		json.NewEncoder(w).Encode(transferResponse{Reference: "REF-123"})
	}))
	defer srv.Close()

	ref, err := newTestClient(srv.URL).Transfer(context.Background(), "addr-1", decimal.NewFromInt(42))
	require.NoError(t, err)
	require.Equal(t, "REF-123", ref)

	require.Equal(t, "POOL-1", got.From)
	require.Equal(t, "addr-1", got.To)
	require.Equal(t, "42", got.Amount)
	require.NotEmpty(t, got.IdempotencyKey)
}

func TestTransferRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(transferResponse{Error: "insufficient pool funds"})
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Transfer(context.Background(), "addr-1", decimal.NewFromInt(42))
	var serr *Error
	require.ErrorAs(t, err, &serr)
	require.Equal(t, "insufficient pool funds", serr.Reason)
}

func TestTransferMissingReference(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(transferResponse{})
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Transfer(context.Background(), "addr-1", decimal.NewFromInt(1))
	require.Error(t, err)
}

func TestTransferTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := newTestClient(srv.URL).Transfer(ctx, "addr-1", decimal.NewFromInt(1))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProvideClientUnconfigured(t *testing.T) {
	client := ProvideClient(&config.Config{})
	require.Nil(t, client)
}
