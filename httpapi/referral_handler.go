package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"agencyflow/referral"
)

type referralHandler struct {
	svc ReferralService
}

// statement defaults to the caller; staff may pass referrer_id.
func (h *referralHandler) statement(c *gin.Context) {
	actor := actorFrom(c)
	referrerID := c.DefaultQuery("referrer_id", actor.UserID)
	items, err := h.svc.Statement(c.Request.Context(), referrerID, actor)
	if err != nil {
		abort(c, err)
		return
	}
	out := make([]statementView, 0, len(items))
	for _, s := range items {
		out = append(out, newStatementView(s))
	}
	c.JSON(http.StatusOK, out)
}

func (h *referralHandler) requestPayout(c *gin.Context) {
	actor := actorFrom(c)
	res, err := h.svc.RequestPayout(c.Request.Context(), referral.RequestPayoutParams{ReferrerID: actor.UserID, Actor: actor})
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, newPayoutView(res))
}

func (h *referralHandler) adminPayout(c *gin.Context) {
	res, err := h.svc.AdminPayout(c.Request.Context(), referral.AdminPayoutParams{TrackingID: c.Param("id"), Actor: actorFrom(c)})
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, newPayoutView(res))
}
