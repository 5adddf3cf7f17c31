package ratelimit

import (
	"strconv"

	"leadintel_backend/platform/apperr"
	"leadintel_backend/platform/config"
	"leadintel_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
)

// Budgets maps route classes to their limits.
type Budgets map[string]config.RateBudget

// Middleware gates a route group by route class. Unknown classes fall back
// to the api budget.
func (l *Limiter) Middleware(routeClass string, budgets Budgets) gin.HandlerFunc {
	budget, ok := budgets[routeClass]
	if !ok {
		budget = budgets[ClassAPI]
	}
	return func(c *gin.Context) {
		d, err := l.Admit(c.Request.Context(), Identity(c), routeClass, budget.Limit, budget.Window)
		if err != nil {
			httpkit.HandleError(c, err)
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

		if !d.Allowed {
			httpkit.HandleError(c, apperr.RateLimited(routeClass, d.ResetAt))
			return
		}
		c.Next()
	}
}

// Identity keys authenticated callers by tenant and user, everyone else by IP.
func Identity(c *gin.Context) string {
	id := httpkit.GetIdentity(c)
	if !id.IsAuthenticated() {
		return "ip:" + c.ClientIP()
	}
	if tenant := id.TenantID(); tenant != nil {
		return "tenant:" + tenant.String() + ":user:" + id.UserID().String()
	}
	return "user:" + id.UserID().String()
}
