package httpapi

import (
	"net/http"

	"payout-engine/pkg/db/pagination"
	"payout-engine/pkg/errutil"
	"payout-engine/pkg/middleware"
	"payout-engine/pkg/taskname"
	"payout-engine/services/affiliate"
	"payout-engine/services/commission"
	"payout-engine/services/ledger"
	"payout-engine/services/task"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type affiliateView struct {
	Affiliate  *affiliate.Affiliate   `json:"affiliate"`
	Resolution commission.Resolution  `json:"commission"`
	Balance    *ledger.BalanceSummary `json:"balance"`
}

func (h *Handler) payoutQueue(c *gin.Context) {
	queue, err := h.payouts.PayoutQueue(c.Request.Context())
	ok(c, queue, err)
}

type bulkPayoutRequest struct {
	AffiliateIDs []string `json:"affiliate_ids"`
	Async        bool     `json:"async"`
}

func (h *Handler) bulkPayout(c *gin.Context) {
	var req bulkPayoutRequest
	if c.Request.ContentLength > 0 && !bind(c, &req) {
		return
	}

	if req.Async {
		id, err := h.tasks.EnqueueBulkPayout(detached(c), req.AffiliateIDs)
		respond(c, http.StatusAccepted, gin.H{"task_id": id}, err)
		return
	}

	result, err := h.payouts.BulkProcessPayouts(detached(c), req.AffiliateIDs)
	ok(c, result, err)
}

func (h *Handler) processPayout(c *gin.Context) {
	result, err := h.payouts.ProcessPayout(detached(c), c.Param("id"))
	ok(c, result, err)
}

func (h *Handler) getPayout(c *gin.Context) {
	p, err := h.payouts.Get(c.Request.Context(), c.Param("id"))
	ok(c, p, err)
}

func (h *Handler) releaseHolds(c *gin.Context) {
	run, err := h.tasks.RunHoldRelease(detached(c), task.TriggerManual, h.now())
	ok(c, run, err)
}

func (h *Handler) jobRuns(c *gin.Context) {
	name := c.DefaultQuery("name", taskname.PayoutHoldRelease)
	runs, err := h.tasks.Runs(c.Request.Context(), name, queryLimit(c, 50))
	ok(c, runs, err)
}

func (h *Handler) getSettings(c *gin.Context) {
	s, err := h.settings.Settings(c.Request.Context())
	ok(c, s, err)
}

func (h *Handler) updateSettings(c *gin.Context) {
	var in commission.SettingsInput
	if !bind(c, &in) {
		return
	}
	p, _ := middleware.PrincipalFrom(c)
	s, err := h.settings.UpdateSettings(c.Request.Context(), p.Subject, in)
	ok(c, s, err)
}

func (h *Handler) settingsAudits(c *gin.Context) {
	audits, err := h.settings.Audits(c.Request.Context(), queryLimit(c, 50))
	ok(c, audits, err)
}

func (h *Handler) listAffiliates(c *gin.Context) {
	list, err := h.affiliates.List(c.Request.Context(), affiliate.Status(c.Query("status")))
	ok(c, list, err)
}

func (h *Handler) view(c *gin.Context, a *affiliate.Affiliate) (*affiliateView, error) {
	ctx := c.Request.Context()
	settings, err := h.settings.Settings(ctx)
	if err != nil {
		return nil, err
	}
	summary, err := h.ledger.Summary(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	return &affiliateView{
		Affiliate:  a,
		Resolution: commission.Resolve(a, settings),
		Balance:    summary,
	}, nil
}

func (h *Handler) getAffiliate(c *gin.Context) {
	a, err := h.affiliates.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	v, err := h.view(c, a)
	ok(c, v, err)
}

func (h *Handler) approveAffiliate(c *gin.Context) {
	a, err := h.affiliates.Approve(c.Request.Context(), c.Param("id"))
	ok(c, a, err)
}

func (h *Handler) rejectAffiliate(c *gin.Context) {
	a, err := h.affiliates.Reject(c.Request.Context(), c.Param("id"))
	ok(c, a, err)
}

type customRateRequest struct {
	Rate *decimal.Decimal `json:"rate"`
}

func (h *Handler) setCustomRate(c *gin.Context) {
	var req customRateRequest
	if !bind(c, &req) {
		return
	}
	a, err := h.affiliates.SetCustomRate(c.Request.Context(), c.Param("id"), req.Rate)
	ok(c, a, err)
}

type levelRequest struct {
	Level commission.Level `json:"level" binding:"required"`
}

func (h *Handler) setLevel(c *gin.Context) {
	var req levelRequest
	if !bind(c, &req) {
		return
	}
	a, err := h.affiliates.SetCommissionLevel(c.Request.Context(), c.Param("id"), req.Level)
	ok(c, a, err)
}

type destinationRequest struct {
	AccountID string                        `json:"account_id"`
	Status    affiliate.PayoutAccountStatus `json:"status"`
}

func (h *Handler) setDestination(c *gin.Context) {
	var req destinationRequest
	if !bind(c, &req) {
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")

	var (
		a   *affiliate.Affiliate
		err error
	)
	if req.AccountID != "" {
		if a, err = h.affiliates.SetPayoutAccount(ctx, id, req.AccountID); err != nil {
			_ = c.Error(err)
			return
		}
	}
	if req.Status != "" {
		a, err = h.affiliates.MarkPayoutAccountStatus(ctx, id, req.Status)
	}
	if a == nil && err == nil {
		err = errutil.BadRequest("account_id or status is required", nil)
	}
	ok(c, a, err)
}

type taxFormRequest struct {
	Completed bool `json:"completed"`
}

func (h *Handler) setTaxForm(c *gin.Context) {
	var req taxFormRequest
	if !bind(c, &req) {
		return
	}
	a, err := h.affiliates.MarkTaxFormCompleted(c.Request.Context(), c.Param("id"), req.Completed)
	ok(c, a, err)
}

func (h *Handler) recomputeTotals(c *gin.Context) {
	summary, err := h.ledger.RecomputeTotals(c.Request.Context(), c.Param("id"))
	ok(c, summary, err)
}

func (h *Handler) auditAmounts(c *gin.Context) {
	out, err := h.ledger.AuditAmounts(c.Request.Context(), c.Param("id"))
	ok(c, out, err)
}

func (h *Handler) listEntries(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		_ = c.Error(errutil.BadRequest("invalid pagination", err))
		return
	}

	entries, info, err := h.ledger.EntriesPage(c.Request.Context(), c.Param("id"), ledger.Status(c.Query("status")), page)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": entries, "page_info": info})
}

func (h *Handler) listPayouts(c *gin.Context) {
	payouts, err := h.payouts.Payouts(c.Request.Context(), c.Param("id"))
	ok(c, payouts, err)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) cancelEntry(c *gin.Context) {
	var req cancelRequest
	if c.Request.ContentLength > 0 && !bind(c, &req) {
		return
	}
	e, err := h.ledger.CancelEntry(c.Request.Context(), c.Param("id"), req.Reason)
	ok(c, e, err)
}

type refundRequest struct {
	SourcePaymentID string `json:"source_payment_id" binding:"required"`
	Reason          string `json:"reason"`
}

func (h *Handler) refund(c *gin.Context) {
	var req refundRequest
	if !bind(c, &req) {
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "refund"
	}
	result, err := h.ledger.CancelBySourcePayment(c.Request.Context(), req.SourcePaymentID, reason)
	ok(c, result, err)
}
