package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"protoforge/internal/config"
	"protoforge/internal/model"
	"protoforge/pkg/token"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type stubUsers map[string]*model.User

func (s stubUsers) GetProfile(username string) (*model.User, error) {
	if u, ok := s[username]; ok {
		return u, nil
	}
	return nil, errors.New("not found")
}

func newRouter(jwt *token.JWTManager, users stubUsers, extra ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers := append([]gin.HandlerFunc{AuthMiddleware(jwt, users)}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		u, _ := c.Get("user")
		c.String(http.StatusOK, u.(*model.User).Username)
	})
	r.GET("/p", handlers...)
	return r
}

func do(r http.Handler, target, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	jwt := token.NewJWTManager("k", 1, 1)
	users := stubUsers{"alice": {ID: 1, Username: "alice", Role: "USER"}}
	r := newRouter(jwt, users)

	access, _ := jwt.GenerateToken(1, "alice", "USER")
	refresh, _ := jwt.GenerateRefreshToken(1, "alice", "USER")
	ghost, _ := jwt.GenerateToken(2, "ghost", "USER")

	cases := []struct {
		name, target, header string
		want                 int
	}{
		{"bearer header", "/p", "Bearer " + access, http.StatusOK},
		{"query token", "/p?token=" + access, "", http.StatusOK},
		{"missing", "/p", "", http.StatusUnauthorized},
		{"bad scheme", "/p", "Token " + access, http.StatusUnauthorized},
		{"refresh token", "/p", "Bearer " + refresh, http.StatusUnauthorized},
		{"unknown user", "/p", "Bearer " + ghost, http.StatusUnauthorized},
		{"garbage", "/p", "Bearer abc", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if w := do(r, tc.target, tc.header); w.Code != tc.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tc.want, w.Body.String())
			}
		})
	}
}

func TestAdminAuthMiddleware(t *testing.T) {
	jwt := token.NewJWTManager("k", 1, 1)
	users := stubUsers{
		"root": {ID: 1, Username: "root", Role: "ADMIN"},
		"bob":  {ID: 2, Username: "bob", Role: "USER"},
	}
	r := newRouter(jwt, users, AdminAuthMiddleware())

	adminTok, _ := jwt.GenerateToken(1, "root", "ADMIN")
	userTok, _ := jwt.GenerateToken(2, "bob", "USER")
	if w := do(r, "/p", "Bearer "+adminTok); w.Code != http.StatusOK {
		t.Errorf("admin status = %d", w.Code)
	}
	if w := do(r, "/p", "Bearer "+userTok); w.Code != http.StatusForbidden {
		t.Errorf("user status = %d, want 403", w.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	l := NewRateLimiter(config.RateLimitConfig{RequestsPerMinute: 60, Burst: 2})
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	if !l.Allow("a") || !l.Allow("a") {
		t.Fatal("burst not honoured")
	}
	if l.Allow("a") {
		t.Error("third request within burst window allowed")
	}
	if !l.Allow("b") {
		t.Error("limiter shared across keys")
	}
	now = now.Add(time.Second)
	if !l.Allow("a") {
		t.Error("token not refilled after one second")
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := NewRateLimiter(config.RateLimitConfig{RequestsPerMinute: 1, Burst: 1})
	r := gin.New()
	r.GET("/g", func(c *gin.Context) {
		c.Set("user", &model.User{Username: "alice"})
		c.Next()
	}, l.Middleware(), func(c *gin.Context) { c.Status(http.StatusOK) })

	if w := do(r, "/g", ""); w.Code != http.StatusOK {
		t.Fatalf("first status = %d", w.Code)
	}
	if w := do(r, "/g", ""); w.Code != http.StatusTooManyRequests {
		t.Errorf("second status = %d, want 429", w.Code)
	}
}

func TestRateLimiter_Unlimited(t *testing.T) {
	l := NewRateLimiter(config.RateLimitConfig{})
	for i := 0; i < 100; i++ {
		if !l.Allow("x") {
			t.Fatalf("request %d rejected with no limit configured", i)
		}
	}
}
