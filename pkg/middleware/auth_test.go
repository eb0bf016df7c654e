package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"payout-engine/pkg/config"
	"payout-engine/pkg/errutil"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func init() {
	zap.ReplaceGlobals(zap.NewNop())
	gin.SetMode(gin.TestMode)
}

func signToken(t *testing.T, secret, subject, role string, expiry time.Time) string {
	t.Helper()
	sig, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: []byte(secret)}, (&jose.SignerOptions{}).WithType("JWT"))
	require.NoError(t, err)

	raw, err := jwt.Signed(sig).
		Claims(jwt.Claims{Subject: subject, Issuer: "idp", Expiry: jwt.NewNumericDate(expiry)}).
		Claims(map[string]any{"role": role}).
		Serialize()
	require.NoError(t, err)
	return raw
}

func testVerifier() *TokenVerifier {
	cfg := &config.Config{}
	cfg.Auth.JWTSecret = testSecret
	cfg.Auth.Issuer = "idp"
	return NewTokenVerifier(cfg)
}

func TestVerify(t *testing.T) {
	v := testVerifier()

	p, err := v.Verify(signToken(t, testSecret, "user_1", RoleAdmin, time.Now().Add(time.Hour)))
	require.NoError(t, err)
	require.Equal(t, "user_1", p.Subject)
	require.Equal(t, RoleAdmin, p.Role)

	_, err = v.Verify(signToken(t, testSecret, "user_1", RoleAdmin, time.Now().Add(-time.Hour)))
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Verify(signToken(t, "another-secret-another-secret-00", "user_1", RoleAdmin, time.Now().Add(time.Hour)))
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Verify("not-a-token")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	e, err := NewEnforcer()
	require.NoError(t, err)

	r := gin.New()
	r.Use(Error())
	api := r.Group("/api", Authenticate(testVerifier()), Authorize(e))
	ok := func(c *gin.Context) { c.Status(http.StatusNoContent) }
	api.GET("/admin/payouts/queue", ok)
	api.POST("/events/sales", ok)
	api.GET("/affiliates/me", ok)
	api.GET("/admin/missing", func(c *gin.Context) { _ = c.Error(errutil.NotFound("nope", nil)) })
	return r
}

func TestAuthorization(t *testing.T) {
	r := newRouter(t)
	admin := signToken(t, testSecret, "admin_1", RoleAdmin, time.Now().Add(time.Hour))
	aff := signToken(t, testSecret, "user_2", RoleAffiliate, time.Now().Add(time.Hour))

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"no token", http.MethodGet, "/api/admin/payouts/queue", "", http.StatusUnauthorized},
		{"admin queue", http.MethodGet, "/api/admin/payouts/queue", admin, http.StatusNoContent},
		{"affiliate queue", http.MethodGet, "/api/admin/payouts/queue", aff, http.StatusForbidden},
		{"admin sends events", http.MethodPost, "/api/events/sales", admin, http.StatusNoContent},
		{"affiliate sends events", http.MethodPost, "/api/events/sales", aff, http.StatusForbidden},
		{"affiliate self", http.MethodGet, "/api/affiliates/me", aff, http.StatusNoContent},
		{"admin not found", http.MethodGet, "/api/admin/missing", admin, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			if tc.token != "" {
				req.Header.Set("Authorization", "Bearer "+tc.token)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			require.Equal(t, tc.want, w.Code)
		})
	}
}

func TestErrorHidesInternalDetails(t *testing.T) {
	r := gin.New()
	r.Use(Error())
	r.GET("/boom", func(c *gin.Context) { _ = c.Error(errors.New("db exploded")) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotContains(t, w.Body.String(), "db exploded")
}
