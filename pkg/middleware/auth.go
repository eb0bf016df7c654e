package middleware

import (
	"errors"
	"strings"
	"time"

	"payout-engine/pkg/config"
	"payout-engine/pkg/errutil"

	"github.com/gin-gonic/gin"
	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

const (
	RoleAdmin     = "admin"
	RoleAffiliate = "affiliate"
	RoleSystem    = "system"

	principalKey = "principal"
)

var ErrInvalidToken = errors.New("invalid bearer token")

// Principal is the authenticated caller, taken from identity-provider tokens.
type Principal struct {
	Subject string `json:"sub"`
	Role    string `json:"role"`
}

type roleClaims struct {
	Role string `json:"role"`
}

// TokenVerifier checks HS256 tokens issued by the identity provider.
type TokenVerifier struct {
	key    []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
}

func NewTokenVerifier(cfg *config.Config) *TokenVerifier {
	return &TokenVerifier{
		key:    []byte(cfg.Auth.JWTSecret),
		issuer: cfg.Auth.Issuer,
		leeway: time.Minute,
		now:    time.Now,
	}
}

func (v *TokenVerifier) Verify(raw string) (*Principal, error) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}

	var claims jwt.Claims
	var role roleClaims
	if err := tok.Claims(v.key, &claims, &role); err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}

	expected := jwt.Expected{Time: v.now()}
	if v.issuer != "" {
		expected.Issuer = v.issuer
	}
	if err := claims.ValidateWithLeeway(expected, v.leeway); err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	if claims.Subject == "" || role.Role == "" {
		return nil, ErrInvalidToken
	}

	return &Principal{Subject: claims.Subject, Role: role.Role}, nil
}

// Authenticate requires a valid bearer token and stores its principal on the
// request context.
func Authenticate(v *TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			_ = c.Error(errutil.Unauthorized("missing bearer token", nil))
			c.Abort()
			return
		}

		p, err := v.Verify(strings.TrimSpace(raw))
		if err != nil {
			_ = c.Error(errutil.Unauthorized("invalid bearer token", nil))
			c.Abort()
			return
		}

		c.Set(principalKey, p)
		c.Next()
	}
}

func PrincipalFrom(c *gin.Context) (*Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil, false
	}
	p, ok := v.(*Principal)
	return p, ok
}
