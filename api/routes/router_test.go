package routes

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/creditledger-backend/internal/ledger"
	"github.com/angelmondragon/creditledger-backend/internal/spend"
	pkgAuth "github.com/angelmondragon/creditledger-backend/pkg/auth"
	"github.com/angelmondragon/creditledger-backend/pkg/config"
	"github.com/angelmondragon/creditledger-backend/pkg/db/models"
	"github.com/angelmondragon/creditledger-backend/pkg/enums"
	"github.com/angelmondragon/creditledger-backend/pkg/metrics"
	"github.com/angelmondragon/creditledger-backend/pkg/pagination"
	"github.com/angelmondragon/creditledger-backend/pkg/retry"
)

type stubLedger struct{}

func (stubLedger) EnsureAccount(_ context.Context, id uuid.UUID) (*models.AccountCreditState, bool, error) {
	return &models.AccountCreditState{AccountID: id, TrialRemaining: 3, SubscriptionStatus: enums.SubscriptionStatusNone}, true, nil
}

func (stubLedger) GetAccount(_ context.Context, id uuid.UUID) (*models.AccountCreditState, error) {
	return &models.AccountCreditState{AccountID: id, TrialRemaining: 3, SubscriptionStatus: enums.SubscriptionStatusNone}, nil
}

func (stubLedger) ListTransactions(context.Context, uuid.UUID, pagination.Params) (*ledger.TransactionPage, error) {
	return &ledger.TransactionPage{}, nil
}

type countingSpender struct {
	calls    int
	outcomes int
}

func (c *countingSpender) Spend(_ context.Context, id uuid.UUID) (*spend.Receipt, error) {
	c.calls++
	return &spend.Receipt{AccountID: id, FundingSource: enums.FundingSourceSubscription, IssuedAt: time.Now()}, nil
}

func (c *countingSpender) ReportOutcome(context.Context, spend.Receipt, enums.WorkOutcome) (*spend.OutcomeResult, error) {
	c.outcomes++
	return &spend.OutcomeResult{}, nil
}

type memoryIdempotency struct {
	data map[string]string
}

func (m *memoryIdempotency) Get(_ context.Context, key string) (string, error) {
	return m.data[key], nil
}

func (m *memoryIdempotency) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.data[key] = value.(string)
	return nil
}

func (m *memoryIdempotency) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = value.(string)
	return true, nil
}

func (m *memoryIdempotency) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memoryIdempotency) IdempotencyKey(scope, id string) string {
	return scope + ":" + id
}

type allowAll struct{}

func (allowAll) FixedWindowAllow(context.Context, string, int64, time.Duration) (bool, int64, error) {
	return true, 1, nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "dev"},
		JWT: config.JWTConfig{Secret: "secret", Issuer: "creditledger", ExpirationMinutes: 10},
		HTTP: config.HTTPConfig{
			RateLimit:       100,
			SpendRateLimit:  100,
			RateLimitWindow: time.Minute,
		},
	}
}

func newTestRouter(t *testing.T, spender *countingSpender) (http.Handler, *config.Config) {
	t.Helper()
	cfg := testConfig()
	reg := prometheus.NewRegistry()
	metrics.NewLedgerMetrics(reg).Spend("trial", "ok")

	return NewRouter(Deps{
		Config:      cfg,
		Gatherer:    reg,
		Idempotency: &memoryIdempotency{data: map[string]string{}},
		RateLimiter: allowAll{},
		SpendPolicy: retry.Default(),
		Ledger:      stubLedger{},
		Spend:       spender,
	}), cfg
}

func bearer(t *testing.T, cfg *config.Config, accountID uuid.UUID) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(cfg.JWT, time.Now(), accountID)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestHealthLive(t *testing.T) {
	router, _ := newTestRouter(t, &countingSpender{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, &countingSpender{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "creditledger_spend_total")
}

func TestCreditsRequireAuth(t *testing.T) {
	router, _ := newTestRouter(t, &countingSpender{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/credits", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBalanceRoute(t *testing.T) {
	router, cfg := newTestRouter(t, &countingSpender{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/credits", nil)
	req.Header.Set("Authorization", bearer(t, cfg, uuid.New()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"funding_source":"trial"`)
}

func TestSpendRouteIsIdempotent(t *testing.T) {
	spender := &countingSpender{}
	router, cfg := newTestRouter(t, spender)
	auth := bearer(t, cfg, uuid.New())

	missing := httptest.NewRequest(http.MethodPost, "/api/v1/credits/spend", strings.NewReader(`{}`))
	missing.Header.Set("Authorization", auth)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, missing)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/credits/spend", strings.NewReader(`{}`))
		req.Header.Set("Authorization", auth)
		req.Header.Set("Idempotency-Key", "work-1")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusCreated, rec.Code)
	}
	assert.Equal(t, 1, spender.calls)
}

func TestOutcomeRouteRequiresServiceRole(t *testing.T) {
	spender := &countingSpender{}
	router, cfg := newTestRouter(t, spender)
	accountID := uuid.New()
	body := fmt.Sprintf(`{"receipt":{"account_id":%q,"funding_source":"trial","transaction_id":%q,"issued_at":"2026-01-01T00:00:00Z"},"outcome":"failure"}`,
		accountID.String(), uuid.NewString())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/credits/outcomes", strings.NewReader(body))
	req.Header.Set("Authorization", bearer(t, cfg, accountID))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
	assert.Zero(t, spender.outcomes)

	serviceToken, err := pkgAuth.MintServiceToken(cfg.JWT, time.Now(), accountID)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/api/v1/credits/outcomes", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+serviceToken)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, spender.outcomes)
}

func TestStripeWebhookRouteUnconfigured(t *testing.T) {
	router, _ := newTestRouter(t, &countingSpender{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
