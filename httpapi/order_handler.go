package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"agencyflow/money"
	"agencyflow/order"
)

type orderHandler struct {
	svc   OrderService
	users AuthService
}

type placeOrderRequest struct {
	// UserID defaults to the caller. Staff may place for a client.
	UserID   string `json:"user_id"`
	Title    string `json:"title" binding:"required"`
	Currency string `json:"currency"`
	Total    string `json:"total" binding:"required"`
}

type placementResponse struct {
	Order        orderView `json:"order"`
	ProjectID    string    `json:"project_id"`
	CommissionID *string   `json:"commission_id,omitempty"`
}

func (h *orderHandler) place(c *gin.Context) {
	var req placeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	total, err := money.Parse(req.Total)
	if err != nil {
		abort(c, err)
		return
	}
	actor := actorFrom(c)
	userID := req.UserID
	if userID == "" {
		userID = actor.UserID
	}
	if !actor.Owns(userID) {
		abort(c, order.ErrForbidden)
		return
	}
	buyer, err := h.users.GetUserByID(c.Request.Context(), userID)
	if err != nil {
		abort(c, err)
		return
	}

	placement, err := h.svc.PlaceDirect(c.Request.Context(), order.PlaceParams{
		UserID:    buyer.ID,
		UserEmail: buyer.Email,
		Title:     req.Title,
		Currency:  req.Currency,
		Total:     total,
		Actor:     actor,
	})
	if err != nil {
		abort(c, err)
		return
	}
	res := placementResponse{Order: newOrderView(placement.Order), ProjectID: placement.Project.ID}
	if placement.Commission != nil {
		res.CommissionID = &placement.Commission.ID
	}
	c.JSON(http.StatusCreated, res)
}

func (h *orderHandler) get(c *gin.Context) {
	o, err := h.svc.Get(c.Request.Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderView(o))
}

func (h *orderHandler) listMine(c *gin.Context) {
	orders, err := h.svc.ListMine(c.Request.Context(), actorFrom(c))
	if err != nil {
		abort(c, err)
		return
	}
	out := make([]orderView, 0, len(orders))
	for _, o := range orders {
		out = append(out, newOrderView(o))
	}
	c.JSON(http.StatusOK, out)
}

func (h *orderHandler) cancel(c *gin.Context) {
	o, err := h.svc.Cancel(c.Request.Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderView(o))
}

type correctTotalRequest struct {
	Total string `json:"total" binding:"required"`
}

func (h *orderHandler) correctTotal(c *gin.Context) {
	var req correctTotalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	total, err := money.Parse(req.Total)
	if err != nil {
		abort(c, err)
		return
	}
	o, err := h.svc.CorrectTotal(c.Request.Context(), order.CorrectTotalParams{
		OrderID: c.Param("id"),
		Total:   total,
		Actor:   actorFrom(c),
	})
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderView(o))
}
