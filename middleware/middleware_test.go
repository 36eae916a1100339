package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/cppla/districtwars/config"
	"github.com/cppla/districtwars/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setup(t *testing.T) {
	t.Helper()
	config.Set(config.AppConfig{JWTSecret: "middleware-secret"})
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	utils.UseRedis(rc)
}

func serve(r *gin.Engine, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimiterBurst(t *testing.T) {
	rl := NewRateLimiter(4)
	now := time.Now()
	for i := 0; i < 2; i++ {
		if !rl.allow("k", now) {
			t.Fatalf("request %d within burst rejected", i)
		}
	}
	if rl.allow("k", now) {
		t.Fatalf("burst exceeded but allowed")
	}
	if !rl.allow("other", now) {
		t.Fatalf("keys must not share a bucket")
	}
	if !rl.allow("k", now.Add(15*time.Second)) {
		t.Fatalf("bucket did not refill")
	}
}

func TestRateLimiterHandler(t *testing.T) {
	r := gin.New()
	r.GET("/", NewRateLimiter(2).Handler("test"), func(ctx *gin.Context) { ctx.Status(http.StatusOK) })

	if w := serve(r, nil); w.Code != http.StatusOK {
		t.Fatalf("first request: %d", w.Code)
	}
	if w := serve(r, nil); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: %d", w.Code)
	}
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(ctx *gin.Context) {
		ctx.String(http.StatusOK, ctx.GetString(utils.ContextRequestIDKey))
	})

	w := serve(r, nil)
	if _, err := uuid.Parse(w.Body.String()); err != nil || w.Header().Get(RequestIDHeader) != w.Body.String() {
		t.Fatalf("generated id %q / header %q", w.Body.String(), w.Header().Get(RequestIDHeader))
	}

	given := uuid.NewString()
	if w := serve(r, http.Header{RequestIDHeader: {given}}); w.Body.String() != given {
		t.Fatalf("client id not reused: %q", w.Body.String())
	}
	if w := serve(r, http.Header{RequestIDHeader: {"not-a-uuid"}}); w.Body.String() == "not-a-uuid" {
		t.Fatalf("malformed client id reused")
	}
}

func TestAuthRequired(t *testing.T) {
	setup(t)
	r := gin.New()
	r.GET("/", AuthRequired(), func(ctx *gin.Context) {
		id, _ := PlayerID(ctx)
		ctx.JSON(http.StatusOK, gin.H{"id": id})
	})

	token, err := utils.GenerateToken(7, "alice", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	revoked, _ := utils.GenerateToken(8, "bob", time.Hour)
	utils.BlacklistToken(context.Background(), revoked, time.Now().Add(time.Hour))

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"empty token", "Bearer  ", http.StatusUnauthorized},
		{"garbage", "Bearer nope", http.StatusUnauthorized},
		{"revoked", "Bearer " + revoked, http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := http.Header{}
			if tc.header != "" {
				h.Set("Authorization", tc.header)
			}
			if w := serve(r, h); w.Code != tc.status {
				t.Fatalf("status %d, want %d: %s", w.Code, tc.status, w.Body.String())
			}
		})
	}
}

func TestOptionalAuth(t *testing.T) {
	setup(t)
	r := gin.New()
	r.GET("/", OptionalAuth(), func(ctx *gin.Context) {
		if _, ok := PlayerID(ctx); ok {
			ctx.Status(http.StatusOK)
			return
		}
		ctx.Status(http.StatusNoContent)
	})

	if w := serve(r, nil); w.Code != http.StatusNoContent {
		t.Fatalf("anonymous: %d", w.Code)
	}
	if w := serve(r, http.Header{"Authorization": {"Bearer nope"}}); w.Code != http.StatusNoContent {
		t.Fatalf("bad token should pass through anonymously: %d", w.Code)
	}
	token, _ := utils.GenerateToken(3, "carol", time.Hour)
	if w := serve(r, http.Header{"Authorization": {"Bearer " + token}}); w.Code != http.StatusOK {
		t.Fatalf("valid token: %d", w.Code)
	}
}
