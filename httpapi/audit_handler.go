package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"agencyflow/apperror"
	"agencyflow/audit"
	"agencyflow/money"
)

var (
	errStaffOnly         = apperror.Unauthorized("staff_only", "staff only")
	errUnknownEntityType = apperror.Validation("entity_type_invalid", "unknown entity type")
	errInvalidEntityID   = apperror.Validation("entity_id_invalid", "entity id must be a uuid")
)

type auditHandler struct {
	svc AuditService
}

type auditView struct {
	ID         int64     `json:"id"`
	Action     string    `json:"action"`
	ActorID    *string   `json:"actor_id,omitempty"`
	FromStatus *string   `json:"from_status,omitempty"`
	ToStatus   *string   `json:"to_status,omitempty"`
	Amount     *string   `json:"amount,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (h *auditHandler) trail(c *gin.Context) {
	if !actorFrom(c).IsStaff() {
		abort(c, errStaffOnly)
		return
	}
	entityType := audit.EntityType(c.Param("type"))
	if !entityType.Valid() {
		abort(c, errUnknownEntityType.WithField("type"))
		return
	}
	if _, err := uuid.Parse(c.Param("id")); err != nil {
		abort(c, errInvalidEntityID.WithField("id"))
		return
	}
	records, err := h.svc.Trail(c.Request.Context(), entityType, c.Param("id"))
	if err != nil {
		abort(c, err)
		return
	}
	out := make([]auditView, 0, len(records))
	for _, r := range records {
		out = append(out, auditView{
			ID:         r.ID,
			Action:     r.Action,
			ActorID:    r.ActorID,
			FromStatus: r.FromStatus,
			ToStatus:   r.ToStatus,
			Amount:     money.NullString(r.Amount),
			CreatedAt:  r.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, out)
}
