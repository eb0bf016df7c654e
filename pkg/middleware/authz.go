package middleware

import (
	"payout-engine/pkg/errutil"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const rbacModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && keyMatch2(r.obj, p.obj) && regexMatch(r.act, p.act)
`

var defaultPolicies = [][]string{
	{RoleAdmin, "/api/admin/*", "GET|POST|PUT|PATCH|DELETE"},
	{RoleSystem, "/api/events/*", "POST"},
	{RoleAffiliate, "/api/affiliates", "POST"},
	{RoleAffiliate, "/api/affiliates/me", "GET"},
	{RoleAffiliate, "/api/affiliates/me/*", "GET|PUT"},
}

// NewEnforcer builds the role policy for the HTTP API. Admins may also send
// sale events.
func NewEnforcer() (*casbin.Enforcer, error) {
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, err
	}

	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, err
	}
	if _, err := e.AddPolicies(defaultPolicies); err != nil {
		return nil, err
	}
	if _, err := e.AddGroupingPolicy(RoleAdmin, RoleSystem); err != nil {
		return nil, err
	}
	return e, nil
}

// Authorize checks the principal's role against the request path and method.
func Authorize(e *casbin.Enforcer) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := PrincipalFrom(c)
		if !ok {
			_ = c.Error(errutil.Unauthorized("unauthenticated", nil))
			c.Abort()
			return
		}

		allowed, err := e.Enforce(p.Role, c.Request.URL.Path, c.Request.Method)
		if err != nil {
			zap.L().Error("authorization check failed", zap.Error(err))
			_ = c.Error(errutil.Internal("authorization check failed", err))
			c.Abort()
			return
		}
		if !allowed {
			_ = c.Error(errutil.Forbidden("not allowed", nil))
			c.Abort()
			return
		}
		c.Next()
	}
}
