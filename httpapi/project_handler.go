package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"agencyflow/project"
)

type projectHandler struct {
	svc       ProjectService
	portfolio PortfolioService
}

func (h *projectHandler) get(c *gin.Context) {
	detail, err := h.svc.Get(c.Request.Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, newProjectView(detail.Project, detail.Phases))
}

type addPhaseRequest struct {
	Group project.Stage `json:"group" binding:"required"`
	Title string        `json:"title"`
}

func (h *projectHandler) addPhase(c *gin.Context) {
	var req addPhaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ph, err := h.svc.AddPhase(c.Request.Context(), project.AddPhaseParams{
		ProjectID: c.Param("id"),
		Group:     req.Group,
		Title:     req.Title,
		Actor:     actorFrom(c),
	})
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, newPhaseView(ph))
}

type setPhaseStatusRequest struct {
	Status project.PhaseStatus `json:"status" binding:"required"`
}

type phaseStatusResponse struct {
	Phase     phaseView   `json:"phase"`
	Project   projectView `json:"project"`
	Delivered bool        `json:"delivered"`
}

func (h *projectHandler) setPhaseStatus(c *gin.Context) {
	var req setPhaseStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.svc.SetPhaseStatus(c.Request.Context(), project.SetPhaseStatusParams{
		ProjectID: c.Param("id"),
		PhaseID:   c.Param("phaseID"),
		Status:    req.Status,
		Actor:     actorFrom(c),
	})
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, phaseStatusResponse{
		Phase:     newPhaseView(res.Phase),
		Project:   newProjectView(res.Project, nil),
		Delivered: res.Delivered,
	})
}

func (h *projectHandler) portfolioDraft(c *gin.Context) {
	d, err := h.portfolio.GetByProjectID(c.Request.Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, newDraftView(d))
}

func (h *projectHandler) listPortfolio(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	drafts, err := h.portfolio.List(c.Request.Context(), limit, actorFrom(c))
	if err != nil {
		abort(c, err)
		return
	}
	out := make([]draftView, 0, len(drafts))
	for _, d := range drafts {
		out = append(out, newDraftView(d))
	}
	c.JSON(http.StatusOK, out)
}
