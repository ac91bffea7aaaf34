package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

// authedRequest はClerkのユーザーIDを持つリクエストを生成する。
func authedRequest(method, path, clerkID string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	return req.WithContext(ContextWithClaims(req.Context(), claimsFor(clerkID)))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func testRateLimiterConfig(generalBurst, sessionBurst int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:        1,
		GeneralBurst:       generalBurst,
		SessionCreateRate:  0.5,
		SessionCreateBurst: sessionBurst,
		CleanupInterval:    time.Minute,
	}
}

// --- API全般 ---

func TestRateLimitMiddleware_AllowsRequestsWithinLimit(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(5, 10))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	// バースト内の5リクエストは全て通る
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, authedRequest(http.MethodGet, "/api/sessions/active", "user_1"))

		if w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}
}

// TestRateLimitMiddleware_Returns429WithRetryAfter は上限超過時に429とRetry-Afterを返すことを検証する。
func TestRateLimitMiddleware_Returns429WithRetryAfter(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(2, 10))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), authedRequest(http.MethodGet, "/api/sessions/active", "user_limit"))
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, authedRequest(http.MethodGet, "/api/sessions/active", "user_limit"))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil || retryAfter < 1 {
		t.Errorf("Retry-After = %q, want positive integer", w.Header().Get("Retry-After"))
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Code != "RATE_LIMIT_EXCEEDED" {
		t.Errorf("code = %q, want %q", body.Code, "RATE_LIMIT_EXCEEDED")
	}
	if body.Category != "system" {
		t.Errorf("category = %q, want %q", body.Category, "system")
	}
}

func TestRateLimitMiddleware_IsolatesUsers(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(1, 10))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	handler.ServeHTTP(httptest.NewRecorder(), authedRequest(http.MethodGet, "/api/sessions/active", "user_a"))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, authedRequest(http.MethodGet, "/api/sessions/active", "user_b"))
	if w.Code != http.StatusOK {
		t.Errorf("user_b status = %d, want %d", w.Code, http.StatusOK)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, authedRequest(http.MethodGet, "/api/sessions/active", "user_a"))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("user_a status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	if got := rl.GeneralLimiterCount(); got != 2 {
		t.Errorf("GeneralLimiterCount = %d, want 2", got)
	}
}

func TestRateLimitMiddleware_NoClerkID_Returns401(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(5, 10))
	defer rl.Stop()

	w := httptest.NewRecorder()
	rl.GeneralMiddleware()(okHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sessions/active", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

// --- セッション作成 ---

// TestSessionCreateRateLimit_IndependentFromGeneral はセッション作成の制限がAPI全般と独立していることを検証する。
func TestSessionCreateRateLimit_IndependentFromGeneral(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(100, 1))
	defer rl.Stop()

	general := rl.GeneralMiddleware()(okHandler())
	create := rl.GeneralMiddleware()(rl.SessionCreateMiddleware()(okHandler()))

	w := httptest.NewRecorder()
	create.ServeHTTP(w, authedRequest(http.MethodPost, "/api/sessions", "user_c"))
	if w.Code != http.StatusOK {
		t.Fatalf("first create status = %d, want %d", w.Code, http.StatusOK)
	}

	w = httptest.NewRecorder()
	create.ServeHTTP(w, authedRequest(http.MethodPost, "/api/sessions", "user_c"))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("second create status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	// API全般は引き続き利用できる
	w = httptest.NewRecorder()
	general.ServeHTTP(w, authedRequest(http.MethodGet, "/api/sessions/active", "user_c"))
	if w.Code != http.StatusOK {
		t.Errorf("general status = %d, want %d", w.Code, http.StatusOK)
	}

	if got := rl.SessionCreateLimiterCount(); got != 1 {
		t.Errorf("SessionCreateLimiterCount = %d, want 1", got)
	}
}

// --- クリーンアップ ---

func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(5, 5))
	defer rl.Stop()

	rl.GeneralMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), authedRequest(http.MethodGet, "/api/sessions/active", "user_old"))
	rl.SessionCreateMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), authedRequest(http.MethodPost, "/api/sessions", "user_old"))

	// TTL（CleanupIntervalの2倍）以内は残る
	rl.cleanup(time.Now().Add(time.Minute))
	if rl.GeneralLimiterCount() != 1 || rl.SessionCreateLimiterCount() != 1 {
		t.Fatalf("entries removed before ttl: general=%d session=%d", rl.GeneralLimiterCount(), rl.SessionCreateLimiterCount())
	}

	rl.cleanup(time.Now().Add(3 * time.Minute))
	if rl.GeneralLimiterCount() != 0 || rl.SessionCreateLimiterCount() != 0 {
		t.Errorf("entries remain after ttl: general=%d session=%d", rl.GeneralLimiterCount(), rl.SessionCreateLimiterCount())
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(1, 1))
	rl.Stop()
	rl.Stop()
}

// --- 設定値 ---

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()

	if cfg.GeneralRate != 2.0 { // 120/60
		t.Errorf("GeneralRate = %f, want 2.0", cfg.GeneralRate)
	}
	if cfg.GeneralBurst != 120 {
		t.Errorf("GeneralBurst = %d, want 120", cfg.GeneralBurst)
	}
	if cfg.SessionCreateBurst != 10 {
		t.Errorf("SessionCreateBurst = %d, want 10", cfg.SessionCreateBurst)
	}
	if cfg.SessionCreateRate == 0 {
		t.Error("SessionCreateRate should not be 0")
	}
}

func TestNewRateLimiterConfig_NonPositiveValues(t *testing.T) {
	cfg := NewRateLimiterConfig(0, -5)

	if cfg.GeneralBurst != 1 || cfg.SessionCreateBurst != 1 {
		t.Errorf("bursts = %d/%d, want 1/1", cfg.GeneralBurst, cfg.SessionCreateBurst)
	}
	if cfg.GeneralRate <= 0 || cfg.SessionCreateRate <= 0 {
		t.Errorf("rates = %f/%f, want positive", cfg.GeneralRate, cfg.SessionCreateRate)
	}
}
