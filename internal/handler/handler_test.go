package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"corracoins/internal/config"
	"corracoins/internal/infrastructure/lock"
	"corracoins/internal/monitoring"
	"corracoins/internal/repository"
	"corracoins/internal/service"
	"corracoins/internal/testutil"
	"corracoins/pkg/response"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	t      *testing.T
	router *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db := testutil.NewDB(t)
	testutil.SeedUser(t, db, 1)
	testutil.SeedBrand(t, db, 10, 10)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := config.Default()
	locker := lock.NewRedisLocker(client, config.RedisConfig{
		LockTTL:        10 * time.Second,
		LockRetry:      2 * time.Millisecond,
		LockMaxRetries: 500,
	})
	registry := prometheus.NewRegistry()
	metrics := monitoring.NewLedgerMetrics(registry)

	users := repository.NewUserRepository(db)
	brands := repository.NewBrandRepository(db)
	engine := service.NewBalanceEngine(db, metrics)
	validator := service.NewValidator(db, users, brands, cfg.Ledger)
	h := NewHandler(
		service.NewRewardService(db, locker, validator, users, cfg, metrics),
		service.NewApprovalService(db, locker, engine, cfg, metrics),
		service.NewBalanceService(db, locker, engine, users, cfg),
	)
	return &testServer{t: t, router: SetupRouter(h, metrics, registry)}
}

func (s *testServer) do(method, path string, headers map[string]string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	s.t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

var (
	asUser  = map[string]string{HeaderUserID: "1"}
	asAdmin = map[string]string{HeaderAdminID: "900"}
)

func rewardBody(bill int64) gin.H {
	return gin.H{
		"brand_id":    10,
		"bill_amount": bill,
		"bill_date":   time.Now().UTC().AddDate(0, 0, -1).Format(billDateLayout),
		"receipt_url": "s3://receipts/1.jpg",
	}
}

func createdID(t *testing.T, env envelope) int64 {
	t.Helper()
	var result struct {
		Transaction struct {
			ID     int64  `json:"id"`
			Status string `json:"status"`
		} `json:"transaction"`
		NewBalance string `json:"new_balance"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &result))
	require.NotZero(t, result.Transaction.ID)
	return result.Transaction.ID
}

func TestRewardLifecycle(t *testing.T) {
	s := newTestServer(t)

	w, env := s.do(http.MethodPost, "/api/v1/coins/rewards", asUser, rewardBody(1000))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, response.CodeSuccess, env.Code)
	id := createdID(t, env)

	w, env = s.do(http.MethodGet, "/api/v1/coins/pending", asUser, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"pending_count":1`)

	w, env = s.do(http.MethodPost, fmt.Sprintf("/api/v1/admin/transactions/%d/approve", id), asAdmin, gin.H{"notes": "ok"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, string(env.Data), `"status":"PAID"`)

	w, env = s.do(http.MethodGet, "/api/v1/coins/balance", asUser, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"balance":"100"`)

	w, env = s.do(http.MethodPost, fmt.Sprintf("/api/v1/admin/transactions/%d/approve", id), asAdmin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, response.CodeNotPending, env.Code)

	w, env = s.do(http.MethodGet, "/api/v1/coins/transactions?status=PAID", asUser, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Total int64 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Equal(t, int64(1), page.Total)
}

func TestCreateReward_Validation(t *testing.T) {
	s := newTestServer(t)

	body := rewardBody(1000)
	body["bill_date"] = "14/03/2026"
	w, env := s.do(http.MethodPost, "/api/v1/coins/rewards", asUser, body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, response.CodeParamError, env.Code)

	body = rewardBody(1000)
	body["coins_to_redeem"] = 10
	body["upi_id"] = "not a upi"
	w, env = s.do(http.MethodPost, "/api/v1/coins/rewards", asUser, body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, response.CodeParamError, env.Code)

	w, env = s.do(http.MethodPost, "/api/v1/coins/rewards", asUser, rewardBody(100001))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, response.CodeInvalidBill, env.Code)

	body = rewardBody(1000)
	body["coins_to_redeem"] = 10
	body["upi_id"] = "alice@okbank"
	w, env = s.do(http.MethodPost, "/api/v1/coins/rewards", asUser, body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, response.CodeInsufficientBalance, env.Code)
	assert.Contains(t, env.Message, "you have 0 coins")

	s.do(http.MethodPost, "/api/v1/coins/rewards", asUser, rewardBody(1000))
	w, env = s.do(http.MethodPost, "/api/v1/coins/rewards", asUser, rewardBody(1000))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, response.CodeDuplicateRequest, env.Code)

	body = rewardBody(1000)
	body["brand_id"] = 99
	w, _ = s.do(http.MethodPost, "/api/v1/coins/rewards", asUser, body)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionSubmissionAndClaim(t *testing.T) {
	s := newTestServer(t)
	guest := map[string]string{HeaderSessionID: "web-1"}

	w, env := s.do(http.MethodPost, "/api/v1/coins/rewards/preview", guest, rewardBody(1000))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"coins_earned":100`)

	w, env = s.do(http.MethodPost, "/api/v1/coins/rewards", guest, rewardBody(1000))
	require.Equal(t, http.StatusCreated, w.Code)
	id := createdID(t, env)

	w, env = s.do(http.MethodPost, fmt.Sprintf("/api/v1/admin/transactions/%d/approve", id), asAdmin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, response.CodeNoOwner, env.Code)

	w, env = s.do(http.MethodPost, "/api/v1/coins/claim", asUser, gin.H{"session_id": "web-1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"claimed":1`)

	w, _ = s.do(http.MethodPost, fmt.Sprintf("/api/v1/admin/transactions/%d/approve", id), asAdmin, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminOperations(t *testing.T) {
	s := newTestServer(t)

	w, env := s.do(http.MethodPost, "/api/v1/admin/users/1/adjust", asAdmin, gin.H{"delta": 500, "reason": "migration"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, string(env.Data), `"status":"COMPLETED"`)

	body := rewardBody(1000)
	body["coins_to_redeem"] = 200
	body["upi_id"] = "alice@okbank"
	w, env = s.do(http.MethodPost, "/api/v1/coins/rewards", asUser, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := createdID(t, env)
	base := fmt.Sprintf("/api/v1/admin/transactions/%d", id)

	w, env = s.do(http.MethodPost, base+"/reject", asAdmin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, response.CodeBusinessError, env.Code)

	w, env = s.do(http.MethodPost, base+"/approve", asAdmin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"status":"UNPAID"`)

	w, env = s.do(http.MethodPost, base+"/paid", asAdmin, gin.H{"payment_reference": "UTR-1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, string(env.Data), `"payment_reference":"UTR-1"`)

	w, env = s.do(http.MethodPost, base+"/payout-failed", asAdmin, gin.H{"reason": "bounced"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, response.CodeBusinessError, env.Code)

	w, env = s.do(http.MethodGet, "/api/v1/admin/transactions?user_id=1&type=ADJUSTMENT", asAdmin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"total":1`)

	w, _ = s.do(http.MethodGet, "/api/v1/admin/transactions?status=SETTLED", asAdmin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(http.MethodPost, "/api/v1/admin/transactions/abc/approve", asAdmin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(http.MethodPost, "/api/v1/admin/transactions/999/approve", asAdmin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWelcomeBonus(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(http.MethodPost, "/api/v1/coins/welcome-bonus", asUser, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, env := s.do(http.MethodPost, "/api/v1/coins/welcome-bonus", asUser, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, response.CodeBusinessError, env.Code)
}

func TestAuthHeaders(t *testing.T) {
	s := newTestServer(t)

	cases := []struct {
		method, path string
		headers      map[string]string
	}{
		{http.MethodGet, "/api/v1/coins/balance", nil},
		{http.MethodGet, "/api/v1/coins/balance", map[string]string{HeaderUserID: "abc"}},
		{http.MethodGet, "/api/v1/coins/balance", map[string]string{HeaderSessionID: "web-1"}},
		{http.MethodPost, "/api/v1/coins/rewards", nil},
		{http.MethodPost, "/api/v1/admin/transactions/1/approve", asUser},
	}
	for _, c := range cases {
		w, env := s.do(c.method, c.path, c.headers, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, "%s %s", c.method, c.path)
		assert.Equal(t, response.CodeUnauthorized, env.Code)
	}

	w, _ := s.do(http.MethodGet, "/api/v1/coins/balance", map[string]string{HeaderUserID: "404"}, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w, _ = s.do(http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `corra_http_requests_total{method="GET",route="/health",status_code="200"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(http.MethodOptions, "/api/v1/coins/rewards", nil, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
