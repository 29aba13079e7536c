package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"agencyflow/changerequest"
)

type changeRequestHandler struct {
	svc ChangeRequestService
}

type proposeRequest struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Amount      *string `json:"amount"`
}

func (h *changeRequestHandler) propose(c *gin.Context) {
	var req proposeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	amount, err := optionalAmount(req.Amount)
	if err != nil {
		abort(c, err)
		return
	}
	cr, err := h.svc.Propose(c.Request.Context(), changerequest.ProposeParams{
		ProjectID:   c.Param("id"),
		Title:       req.Title,
		Description: req.Description,
		Amount:      amount,
		Actor:       actorFrom(c),
	})
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, newChangeRequestView(cr))
}

type editRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Amount      *string `json:"amount"`
}

func (h *changeRequestHandler) edit(c *gin.Context) {
	var req editRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	amount, err := optionalAmount(req.Amount)
	if err != nil {
		abort(c, err)
		return
	}
	cr, err := h.svc.Edit(c.Request.Context(), changerequest.EditParams{
		ChangeRequestID: c.Param("id"),
		Title:           req.Title,
		Description:     req.Description,
		Amount:          amount,
		Actor:           actorFrom(c),
	})
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, newChangeRequestView(cr))
}

type changeAcceptanceResponse struct {
	ChangeRequest changeRequestView `json:"change_request"`
	Milestone     *milestoneView    `json:"milestone,omitempty"`
	Order         *orderView        `json:"order,omitempty"`
	Replayed      bool              `json:"replayed"`
}

func (h *changeRequestHandler) accept(c *gin.Context) {
	res, err := h.svc.Accept(c.Request.Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		abort(c, err)
		return
	}
	out := changeAcceptanceResponse{ChangeRequest: newChangeRequestView(res.ChangeRequest), Replayed: res.Replayed}
	if res.Milestone != nil {
		v := newMilestoneView(*res.Milestone)
		out.Milestone = &v
	}
	if res.Order != nil {
		v := newOrderView(*res.Order)
		out.Order = &v
	}
	c.JSON(http.StatusOK, out)
}

func (h *changeRequestHandler) reject(c *gin.Context) {
	cr, err := h.svc.Reject(c.Request.Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, newChangeRequestView(cr))
}

func (h *changeRequestHandler) list(c *gin.Context) {
	items, err := h.svc.List(c.Request.Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		abort(c, err)
		return
	}
	out := make([]changeRequestView, 0, len(items))
	for _, cr := range items {
		out = append(out, newChangeRequestView(cr))
	}
	c.JSON(http.StatusOK, out)
}
