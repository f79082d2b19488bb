package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

type countingLimiter struct {
	counts map[string]int64
	err    error
}

func (c *countingLimiter) FixedWindowAllow(_ context.Context, scope string, limit int64, _ time.Duration) (bool, int64, error) {
	if c.err != nil {
		return false, 0, c.err
	}
	if c.counts == nil {
		c.counts = map[string]int64{}
	}
	c.counts[scope]++
	return c.counts[scope] <= limit, c.counts[scope], nil
}

func TestRateLimitBlocksAfterLimit(t *testing.T) {
	store := &countingLimiter{}
	mw := RateLimit(RateLimitPolicy{Name: "spend", Limit: 2, Window: time.Minute}, store, nil)(okHandler())
	accountID := uuid.New()

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/credits/spend", nil)
		req = req.WithContext(WithAccountID(req.Context(), accountID))
		resp := httptest.NewRecorder()
		mw.ServeHTTP(resp, req)
		codes = append(codes, resp.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Equal(t, int64(3), store.counts["spend:account:"+accountID.String()])
}

func TestRateLimitFallsBackToClientIP(t *testing.T) {
	store := &countingLimiter{}
	mw := RateLimit(RateLimitPolicy{Limit: 5, Window: time.Minute}, store, nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	resp := httptest.NewRecorder()
	mw.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "4", resp.Header().Get("X-RateLimit-Remaining"))
	assert.Contains(t, store.counts, "api:ip:203.0.113.7")
}

func TestRateLimitFailsOpenOnStoreError(t *testing.T) {
	store := &countingLimiter{err: errors.New("redis down")}
	mw := RateLimit(RateLimitPolicy{Limit: 1, Window: time.Minute}, store, nil)(okHandler())

	resp := httptest.NewRecorder()
	mw.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestRateLimitDisabledPolicyPassesThrough(t *testing.T) {
	mw := RateLimit(RateLimitPolicy{}, &countingLimiter{}, nil)(okHandler())
	resp := httptest.NewRecorder()
	mw.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, resp.Code)
}
