package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"payout-engine/pkg/errutil"
	"payout-engine/pkg/middleware"
	"payout-engine/services/affiliate"
	"payout-engine/services/commission"
	"payout-engine/services/ledger"
	"payout-engine/services/payout"
	"payout-engine/services/task"

	"github.com/casbin/casbin/v2"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

type Handler struct {
	settings   *commission.Service
	affiliates *affiliate.Service
	ledger     *ledger.Service
	payouts    *payout.Service
	tasks      *task.Service
	now        func() time.Time
}

type Params struct {
	fx.In
	Settings   *commission.Service
	Affiliates *affiliate.Service
	Ledger     *ledger.Service
	Payouts    *payout.Service
	Tasks      *task.Service
}

func NewHandler(p Params) *Handler {
	return &Handler{
		settings:   p.Settings,
		affiliates: p.Affiliates,
		ledger:     p.Ledger,
		payouts:    p.Payouts,
		tasks:      p.Tasks,
		now:        time.Now,
	}
}

// Register mounts every API route behind authentication and role checks.
func Register(r *gin.Engine, h *Handler, verifier *middleware.TokenVerifier, enforcer *casbin.Enforcer) {
	api := r.Group("/api", middleware.Authenticate(verifier), middleware.Authorize(enforcer))

	admin := api.Group("/admin")
	{
		admin.GET("/payouts/queue", h.payoutQueue)
		admin.POST("/payouts/bulk", h.bulkPayout)
		admin.POST("/payouts/affiliates/:id", h.processPayout)
		admin.GET("/payouts/:id", h.getPayout)
		admin.POST("/holds/release", h.releaseHolds)
		admin.GET("/jobs", h.jobRuns)

		admin.GET("/settings", h.getSettings)
		admin.PUT("/settings", h.updateSettings)
		admin.GET("/settings/audits", h.settingsAudits)

		admin.GET("/affiliates", h.listAffiliates)
		admin.GET("/affiliates/:id", h.getAffiliate)
		admin.POST("/affiliates/:id/approve", h.approveAffiliate)
		admin.POST("/affiliates/:id/reject", h.rejectAffiliate)
		admin.PUT("/affiliates/:id/custom-rate", h.setCustomRate)
		admin.PUT("/affiliates/:id/level", h.setLevel)
		admin.PUT("/affiliates/:id/destination", h.setDestination)
		admin.PUT("/affiliates/:id/tax-form", h.setTaxForm)
		admin.POST("/affiliates/:id/recompute", h.recomputeTotals)
		admin.GET("/affiliates/:id/audit", h.auditAmounts)
		admin.GET("/affiliates/:id/entries", h.listEntries)
		admin.GET("/affiliates/:id/payouts", h.listPayouts)

		admin.POST("/entries/:id/cancel", h.cancelEntry)
		admin.POST("/refunds", h.refund)
	}

	events := api.Group("/events")
	{
		events.POST("/sales", h.recordSale)
	}

	self := api.Group("/affiliates")
	{
		self.POST("", h.apply)
		self.GET("/me", h.me)
		self.GET("/me/payouts", h.myPayouts)
		self.PUT("/me/destination", h.setMyDestination)
	}
}

// detached keeps request values such as the trace but ignores client
// disconnects; money movement must run to completion.
func detached(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return false
	}
	return true
}

func queryLimit(c *gin.Context, fallback int) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(fallback)))
	if err != nil || limit <= 0 || limit > 500 {
		return fallback
	}
	return limit
}

func respond(c *gin.Context, code int, data any, err error) {
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(code, gin.H{"data": data})
}

func ok(c *gin.Context, data any, err error) {
	respond(c, http.StatusOK, data, err)
}
