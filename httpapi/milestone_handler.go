package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"agencyflow/milestone"
	"agencyflow/money"
)

type milestoneHandler struct {
	svc MilestoneService
}

type submitProofRequest struct {
	Label    string  `json:"label"`
	Amount   *string `json:"amount"`
	ProofRef string  `json:"proof_ref"`
}

func (h *milestoneHandler) submitProof(c *gin.Context) {
	var req submitProofRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	amount, err := optionalAmount(req.Amount)
	if err != nil {
		abort(c, err)
		return
	}
	m, err := h.svc.SubmitProof(c.Request.Context(), milestone.SubmitProofParams{
		ProjectID: c.Param("id"),
		Label:     req.Label,
		Amount:    amount,
		ProofRef:  req.ProofRef,
		Actor:     actorFrom(c),
	})
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, newMilestoneView(m))
}

type planRequest struct {
	Label   string  `json:"label"`
	Amount  string  `json:"amount" binding:"required"`
	PhaseID *string `json:"phase_id"`
}

func (h *milestoneHandler) plan(c *gin.Context) {
	var req planRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	amount, err := money.Parse(req.Amount)
	if err != nil {
		abort(c, err)
		return
	}
	m, err := h.svc.Plan(c.Request.Context(), milestone.PlanParams{
		ProjectID: c.Param("id"),
		Label:     req.Label,
		Amount:    amount,
		PhaseID:   req.PhaseID,
		Actor:     actorFrom(c),
	})
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, newMilestoneView(m))
}

type attachProofRequest struct {
	ProofRef string `json:"proof_ref"`
}

func (h *milestoneHandler) attachProof(c *gin.Context) {
	var req attachProofRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	m, err := h.svc.AttachProof(c.Request.Context(), milestone.AttachProofParams{
		MilestoneID: c.Param("id"),
		ProofRef:    req.ProofRef,
		Actor:       actorFrom(c),
	})
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, newMilestoneView(m))
}

type reviewRequest struct {
	Decision milestone.Status `json:"decision" binding:"required"`
}

func (h *milestoneHandler) review(c *gin.Context) {
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	m, err := h.svc.Review(c.Request.Context(), milestone.ReviewParams{
		MilestoneID: c.Param("id"),
		Decision:    req.Decision,
		Actor:       actorFrom(c),
	})
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, newMilestoneView(m))
}

type archiveRequest struct {
	Archived *bool `json:"archived"`
}

// archive defaults to archiving when the body omits the flag.
func (h *milestoneHandler) archive(c *gin.Context) {
	var req archiveRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	archived := req.Archived == nil || *req.Archived
	m, err := h.svc.Archive(c.Request.Context(), milestone.ArchiveParams{
		MilestoneID: c.Param("id"),
		Archived:    archived,
		Actor:       actorFrom(c),
	})
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, newMilestoneView(m))
}

func (h *milestoneHandler) list(c *gin.Context) {
	includeArchived := c.Query("include_archived") == "true"
	items, err := h.svc.List(c.Request.Context(), c.Param("id"), includeArchived, actorFrom(c))
	if err != nil {
		abort(c, err)
		return
	}
	out := make([]milestoneView, 0, len(items))
	for _, m := range items {
		out = append(out, newMilestoneView(m))
	}
	c.JSON(http.StatusOK, out)
}

func (h *milestoneHandler) totals(c *gin.Context) {
	t, err := h.svc.Totals(c.Request.Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, newTotalsView(t))
}
