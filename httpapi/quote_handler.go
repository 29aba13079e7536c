package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"agencyflow/money"
	"agencyflow/quote"
)

type quoteHandler struct {
	svc QuoteService
}

type issueQuoteRequest struct {
	RequestID string     `json:"request_id" binding:"required"`
	Amount    string     `json:"amount" binding:"required"`
	Currency  string     `json:"currency"`
	Scope     string     `json:"scope"`
	ExpiresAt *time.Time `json:"expires_at"`
	Send      bool       `json:"send"`
}

// issuedResponse carries the plaintext token exactly once.
type issuedResponse struct {
	Quote quoteView `json:"quote"`
	Token string    `json:"token"`
}

func (h *quoteHandler) issue(c *gin.Context) {
	var req issueQuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	amount, err := money.Parse(req.Amount)
	if err != nil {
		abort(c, err)
		return
	}
	issued, err := h.svc.Issue(c.Request.Context(), quote.IssueParams{
		RequestID: req.RequestID,
		Amount:    amount,
		Currency:  req.Currency,
		Scope:     req.Scope,
		ExpiresAt: req.ExpiresAt,
		Send:      req.Send,
		Actor:     actorFrom(c),
	})
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, issuedResponse{Quote: newQuoteView(issued.Quote), Token: issued.Token})
}

func (h *quoteHandler) send(c *gin.Context) {
	issued, err := h.svc.MarkSent(c.Request.Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, issuedResponse{Quote: newQuoteView(issued.Quote), Token: issued.Token})
}

type redeemRequest struct {
	Token string `json:"token" binding:"required"`
}

type redemptionResponse struct {
	Quote quoteView `json:"quote"`
	User  userView  `json:"user"`
}

func (h *quoteHandler) redeem(c *gin.Context) {
	var req redeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.svc.Redeem(c.Request.Context(), req.Token)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, redemptionResponse{Quote: newQuoteView(res.Quote), User: newUserView(res.User)})
}

type acceptanceResponse struct {
	Quote     quoteView `json:"quote"`
	OrderID   string    `json:"order_id"`
	ProjectID string    `json:"project_id"`
	Replayed  bool      `json:"replayed"`
}

func (h *quoteHandler) accept(c *gin.Context) {
	res, err := h.svc.Accept(c.Request.Context(), quote.DecisionParams{QuoteID: c.Param("id"), Actor: actorFrom(c)})
	if err != nil {
		abort(c, err)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, acceptanceResponse{
		Quote:     newQuoteView(res.Quote),
		OrderID:   res.OrderID,
		ProjectID: res.ProjectID,
		Replayed:  res.Replayed,
	})
}

func (h *quoteHandler) reject(c *gin.Context) {
	q, err := h.svc.Reject(c.Request.Context(), quote.DecisionParams{QuoteID: c.Param("id"), Actor: actorFrom(c)})
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, newQuoteView(q))
}

func (h *quoteHandler) archive(c *gin.Context) {
	q, err := h.svc.Archive(c.Request.Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, newQuoteView(q))
}

func (h *quoteHandler) list(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	quotes, err := h.svc.ListActive(c.Request.Context(), actorFrom(c), limit)
	if err != nil {
		abort(c, err)
		return
	}
	out := make([]quoteView, 0, len(quotes))
	for _, q := range quotes {
		out = append(out, newQuoteView(q))
	}
	c.JSON(http.StatusOK, out)
}

func (h *quoteHandler) get(c *gin.Context) {
	q, err := h.svc.Get(c.Request.Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, newQuoteView(q))
}

// optionalAmount parses an amount field that may be omitted.
func optionalAmount(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := money.Parse(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
