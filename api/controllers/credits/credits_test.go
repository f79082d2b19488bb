package credits

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/creditledger-backend/api/middleware"
	"github.com/angelmondragon/creditledger-backend/internal/autoreload"
	"github.com/angelmondragon/creditledger-backend/internal/ledger"
	"github.com/angelmondragon/creditledger-backend/internal/purchases"
	"github.com/angelmondragon/creditledger-backend/internal/spend"
	"github.com/angelmondragon/creditledger-backend/pkg/db/models"
	"github.com/angelmondragon/creditledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/creditledger-backend/pkg/errors"
	"github.com/angelmondragon/creditledger-backend/pkg/pagination"
	"github.com/angelmondragon/creditledger-backend/pkg/retry"
)

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func authed(req *http.Request, accountID uuid.UUID) *http.Request {
	return req.WithContext(middleware.WithAccountID(req.Context(), accountID))
}

type fakeLedger struct {
	state   *models.AccountCreditState
	created bool
	txns    []models.Transaction
	params  pagination.Params
	err     error
}

func (f *fakeLedger) EnsureAccount(_ context.Context, _ uuid.UUID) (*models.AccountCreditState, bool, error) {
	return f.state, f.created, f.err
}

func (f *fakeLedger) GetAccount(_ context.Context, _ uuid.UUID) (*models.AccountCreditState, error) {
	return f.state, f.err
}

func (f *fakeLedger) ListTransactions(_ context.Context, _ uuid.UUID, params pagination.Params) (*ledger.TransactionPage, error) {
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	return &ledger.TransactionPage{Transactions: f.txns, NextCursor: "next"}, nil
}

type fakeSpender struct {
	receipt  *spend.Receipt
	err      error
	calls    int
	outcome  enums.WorkOutcome
	reported *spend.Receipt
}

func (f *fakeSpender) Spend(_ context.Context, _ uuid.UUID) (*spend.Receipt, error) {
	f.calls++
	return f.receipt, f.err
}

func (f *fakeSpender) ReportOutcome(_ context.Context, receipt spend.Receipt, outcome enums.WorkOutcome) (*spend.OutcomeResult, error) {
	f.reported = &receipt
	f.outcome = outcome
	return &spend.OutcomeResult{Refunded: outcome == enums.WorkOutcomeFailure}, nil
}

func TestCreateAccountStatusReflectsProvisioning(t *testing.T) {
	accountID := uuid.New()
	svc := &fakeLedger{state: &models.AccountCreditState{AccountID: accountID, TrialRemaining: 3}, created: true}

	rec := httptest.NewRecorder()
	CreateAccount(svc, nil).ServeHTTP(rec, authed(httptest.NewRequest(http.MethodPost, "/api/v1/credits/account", nil), accountID))
	assert.Equal(t, http.StatusCreated, rec.Code)

	svc.created = false
	rec = httptest.NewRecorder()
	CreateAccount(svc, nil).ServeHTTP(rec, authed(httptest.NewRequest(http.MethodPost, "/api/v1/credits/account", nil), accountID))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBalanceReportsFundingSource(t *testing.T) {
	accountID := uuid.New()
	svc := &fakeLedger{state: &models.AccountCreditState{
		AccountID:          accountID,
		TokenBalance:       4,
		SubscriptionStatus: enums.SubscriptionStatusNone,
	}}

	rec := httptest.NewRecorder()
	Balance(svc, nil).ServeHTTP(rec, authed(httptest.NewRequest(http.MethodGet, "/api/v1/credits", nil), accountID))
	require.Equal(t, http.StatusOK, rec.Code)

	var body balanceResponse
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &body))
	require.NotNil(t, body.FundingSource)
	assert.Equal(t, enums.FundingSourceToken, *body.FundingSource)
	assert.Equal(t, int64(4), body.TokenBalance)
}

func TestBalanceWithNothingToSpendHasNullSource(t *testing.T) {
	accountID := uuid.New()
	svc := &fakeLedger{state: &models.AccountCreditState{AccountID: accountID, SubscriptionStatus: enums.SubscriptionStatusNone}}

	rec := httptest.NewRecorder()
	Balance(svc, nil).ServeHTTP(rec, authed(httptest.NewRequest(http.MethodGet, "/api/v1/credits", nil), accountID))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"funding_source":null`)
}

func TestBalanceRequiresAccountContext(t *testing.T) {
	rec := httptest.NewRecorder()
	Balance(&fakeLedger{}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/credits", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTransactionsHonoursLimit(t *testing.T) {
	accountID := uuid.New()
	svc := &fakeLedger{txns: []models.Transaction{{
		ID:           uuid.New(),
		AccountID:    accountID,
		Kind:         enums.TransactionTokenDebit,
		Amount:       -1,
		BalanceAfter: 2,
		CreatedAt:    time.Now(),
	}}}

	rec := httptest.NewRecorder()
	Transactions(svc, nil).ServeHTTP(rec, authed(httptest.NewRequest(http.MethodGet, "/api/v1/credits/transactions?limit=5&cursor=abc", nil), accountID))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, pagination.Params{Limit: 5, Cursor: "abc"}, svc.params)
	assert.Contains(t, rec.Body.String(), `"kind":"token_debit"`)
	assert.Contains(t, rec.Body.String(), `"next_cursor":"next"`)

	rec = httptest.NewRecorder()
	Transactions(svc, nil).ServeHTTP(rec, authed(httptest.NewRequest(http.MethodGet, "/api/v1/credits/transactions?limit=500", nil), accountID))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSpendReturnsReceipt(t *testing.T) {
	accountID := uuid.New()
	txnID := uuid.New()
	svc := &fakeSpender{receipt: &spend.Receipt{AccountID: accountID, FundingSource: enums.FundingSourceTrial, TransactionID: &txnID}}

	rec := httptest.NewRecorder()
	Spend(svc, retry.Default(), nil).ServeHTTP(rec, authed(httptest.NewRequest(http.MethodPost, "/api/v1/credits/spend", nil), accountID))
	require.Equal(t, http.StatusCreated, rec.Code)

	var receipt spend.Receipt
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &receipt))
	assert.Equal(t, enums.FundingSourceTrial, receipt.FundingSource)
	require.NotNil(t, receipt.TransactionID)
	assert.Equal(t, txnID, *receipt.TransactionID)
}

func TestSpendInsufficientFundsOffersActions(t *testing.T) {
	svc := &fakeSpender{err: ledger.ErrInsufficientFunds()}

	rec := httptest.NewRecorder()
	Spend(svc, retry.Default(), nil).ServeHTTP(rec, authed(httptest.NewRequest(http.MethodPost, "/api/v1/credits/spend", nil), uuid.New()))
	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	env := decode(t, rec)
	assert.Equal(t, string(pkgerrors.CodeInsufficientFunds), env.Error.Code)
	assert.Equal(t, []any{"purchase_tokens", "upgrade_plan"}, env.Error.Details["actions"])
	assert.Equal(t, 1, svc.calls)
}

func TestSpendRetriesLockContention(t *testing.T) {
	svc := &fakeSpender{err: pkgerrors.New(pkgerrors.CodeLockContention, "busy")}
	policy := retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1}

	rec := httptest.NewRecorder()
	Spend(svc, policy, nil).ServeHTTP(rec, authed(httptest.NewRequest(http.MethodPost, "/api/v1/credits/spend", nil), uuid.New()))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, 3, svc.calls)
}

func TestOutcomeRejectsForeignReceipt(t *testing.T) {
	svc := &fakeSpender{}
	body := `{"outcome":"failure","receipt":{"account_id":"` + uuid.NewString() + `","funding_source":"token","transaction_id":"` + uuid.NewString() + `","issued_at":"2026-10-18T12:00:00Z"}}`

	rec := httptest.NewRecorder()
	Outcome(svc, nil).ServeHTTP(rec, authed(httptest.NewRequest(http.MethodPost, "/api/v1/credits/outcomes", strings.NewReader(body)), uuid.New()))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Nil(t, svc.reported)
}

func TestOutcomeForwardsFailure(t *testing.T) {
	accountID := uuid.New()
	svc := &fakeSpender{}
	body := `{"outcome":"failure","receipt":{"account_id":"` + accountID.String() + `","funding_source":"token","transaction_id":"` + uuid.NewString() + `","issued_at":"2026-10-18T12:00:00Z"}}`

	rec := httptest.NewRecorder()
	Outcome(svc, nil).ServeHTTP(rec, authed(httptest.NewRequest(http.MethodPost, "/api/v1/credits/outcomes", strings.NewReader(body)), accountID))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, enums.WorkOutcomeFailure, svc.outcome)
	assert.JSONEq(t, `{"data":{"refunded":true}}`, rec.Body.String())
}

func TestOutcomeValidatesOutcomeValue(t *testing.T) {
	accountID := uuid.New()
	body := `{"outcome":"maybe","receipt":{"account_id":"` + accountID.String() + `","funding_source":"subscription"}}`

	rec := httptest.NewRecorder()
	Outcome(&fakeSpender{}, nil).ServeHTTP(rec, authed(httptest.NewRequest(http.MethodPost, "/api/v1/credits/outcomes", strings.NewReader(body)), accountID))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type fakePurchaser struct {
	tokens int64
	key    string
}

func (f *fakePurchaser) Start(_ context.Context, _ uuid.UUID, tokens int64, key string) (*purchases.Purchase, error) {
	f.tokens = tokens
	f.key = key
	return &purchases.Purchase{ID: "pi_123", ClientSecret: "pi_123_secret", Status: "requires_payment_method"}, nil
}

func TestPurchaseStartsPaymentIntent(t *testing.T) {
	svc := &fakePurchaser{}
	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/credits/purchases", strings.NewReader(`{"tokens":25}`)), uuid.New())
	req.Header.Set(middleware.IdempotencyHeader, "buy-1")

	rec := httptest.NewRecorder()
	Purchase(svc, nil).ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, int64(25), svc.tokens)
	assert.Equal(t, "buy-1", svc.key)
	assert.Contains(t, rec.Body.String(), `"client_secret":"pi_123_secret"`)
}

func TestPurchaseRejectsNonPositiveTokens(t *testing.T) {
	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/credits/purchases", strings.NewReader(`{"tokens":0}`)), uuid.New())
	rec := httptest.NewRecorder()
	Purchase(&fakePurchaser{}, nil).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type fakeAutoReload struct {
	got autoreload.Config
}

func (f *fakeAutoReload) Configure(_ context.Context, _ uuid.UUID, cfg autoreload.Config) (*models.AutoReloadConfig, error) {
	f.got = cfg
	return &models.AutoReloadConfig{Enabled: cfg.Enabled, Threshold: cfg.Threshold, TopUpAmount: cfg.TopUpAmount}, nil
}

func TestConfigureAutoReload(t *testing.T) {
	svc := &fakeAutoReload{}
	body := `{"enabled":true,"threshold":2,"top_up_amount":50,"payment_method_id":"  pm_card  "}`
	req := authed(httptest.NewRequest(http.MethodPut, "/api/v1/credits/auto-reload", strings.NewReader(body)), uuid.New())

	rec := httptest.NewRecorder()
	ConfigureAutoReload(svc, nil).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, autoreload.Config{Enabled: true, Threshold: 2, TopUpAmount: 50, PaymentMethodID: "pm_card"}, svc.got)
}

func TestConfigureAutoReloadRejectsUnknownFields(t *testing.T) {
	body := `{"enabled":true,"threshold":2,"top_up_amount":50,"extra":1}`
	req := authed(httptest.NewRequest(http.MethodPut, "/api/v1/credits/auto-reload", strings.NewReader(body)), uuid.New())

	rec := httptest.NewRecorder()
	ConfigureAutoReload(&fakeAutoReload{}, nil).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
