package httpapi

import (
	"net/http"

	"payout-engine/services/ledger"

	"github.com/gin-gonic/gin"
)

func (h *Handler) recordSale(c *gin.Context) {
	var req ledger.SaleParams
	if !bind(c, &req) {
		return
	}
	entry, err := h.ledger.RecordSale(detached(c), req)
	respond(c, http.StatusCreated, entry, err)
}
