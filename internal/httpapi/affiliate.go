package httpapi

import (
	"net/http"

	"payout-engine/pkg/middleware"
	"payout-engine/services/affiliate"

	"github.com/gin-gonic/gin"
)

type applyRequest struct {
	DisplayName string `json:"display_name" binding:"required"`
}

func (h *Handler) apply(c *gin.Context) {
	var req applyRequest
	if !bind(c, &req) {
		return
	}
	p, _ := middleware.PrincipalFrom(c)
	a, err := h.affiliates.Apply(c.Request.Context(), affiliate.ApplyParams{
		UserID:      p.Subject,
		DisplayName: req.DisplayName,
	})
	respond(c, http.StatusCreated, a, err)
}

func (h *Handler) current(c *gin.Context) (*affiliate.Affiliate, bool) {
	p, _ := middleware.PrincipalFrom(c)
	a, err := h.affiliates.GetByUserID(c.Request.Context(), p.Subject)
	if err != nil {
		_ = c.Error(err)
		return nil, false
	}
	return a, true
}

func (h *Handler) me(c *gin.Context) {
	a, found := h.current(c)
	if !found {
		return
	}
	v, err := h.view(c, a)
	ok(c, v, err)
}

func (h *Handler) myPayouts(c *gin.Context) {
	a, found := h.current(c)
	if !found {
		return
	}
	payouts, err := h.payouts.Payouts(c.Request.Context(), a.ID)
	ok(c, payouts, err)
}

type myDestinationRequest struct {
	AccountID string `json:"account_id" binding:"required"`
}

// setMyDestination stores the account as pending; it becomes usable once the
// processor reports it verified.
func (h *Handler) setMyDestination(c *gin.Context) {
	var req myDestinationRequest
	if !bind(c, &req) {
		return
	}
	a, found := h.current(c)
	if !found {
		return
	}
	updated, err := h.affiliates.SetPayoutAccount(c.Request.Context(), a.ID, req.AccountID)
	ok(c, updated, err)
}
