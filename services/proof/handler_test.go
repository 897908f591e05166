package proof

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"veilpool/pkg/health"
	"veilpool/pkg/middleware"
)

func newTestRouter(t *testing.T) (*gin.Engine, *Service) {
	t.Helper()

	gin.SetMode(gin.TestMode)
	settle := &stubSettlement{}
	svc := newTestService(t, settle)

	router := gin.New()
	router.Use(middleware.Error())

	hc := health.ProvideHealth(health.HealthParams{Settlement: settle})
	NewHandler(svc).Register(router, hc)

	return router, svc
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestGenerateEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/zkproofs/generate", `{"ownerKey":"wallet-1"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp GenerateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Regexp(t, `^ZKP-[0-9A-F]{20}$`, resp.Identifier)
	require.Len(t, resp.SecretNote, 64)
}

func TestGenerateEndpointBadBody(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/zkproofs/generate", `{"ownerKey":`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "VALIDATION_FAILED")
}

func TestWithdrawEndpointFlow(t *testing.T) {
	router, svc := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/zkproofs/generate", `{"ownerKey":"wallet-1"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var gen GenerateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &gen))

	w = doJSON(t, router, http.MethodPost, "/api/deposits", fmt.Sprintf(
		`{"ownerKey":"wallet-1","identifier":%q,"amount":"100"}`, gen.Identifier))
	require.Equal(t, http.StatusOK, w.Code)

	// Wrong note is rejected without leaking which part failed.
	w = doJSON(t, router, http.MethodPost, "/api/withdrawals", fmt.Sprintf(
		`{"identifier":%q,"secretNote":"wrong","amount":"10","recipient":"addr-1"}`, gen.Identifier))
	require.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/withdrawals", fmt.Sprintf(
		`{"identifier":%q,"secretNote":%q,"amount":"10","recipient":"addr-1"}`, gen.Identifier, gen.SecretNote))
	require.Equal(t, http.StatusAccepted, w.Code)

	var wr WithdrawResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &wr))
	require.Equal(t, StatusPending, wr.Status)
	require.NotEmpty(t, wr.TransactionID)

	require.NoError(t, svc.Settle(context.Background(), wr.TransactionID))

	w = doJSON(t, router, http.MethodGet, "/api/history?wallet=wallet-1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var items []*HistoryItem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &items))
	require.Len(t, items, 2)
	require.Equal(t, StatusConfirmed, items[0].Status)
}

func TestListEndpointMissingWallet(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/api/zkproofs", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp health.Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.OK)
	require.Equal(t, "POOL-TEST", resp.PoolAddress)
}
