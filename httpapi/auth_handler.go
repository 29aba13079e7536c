package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"agencyflow/auth"
)

type authHandler struct {
	svc AuthService
}

func (h *authHandler) register(c *gin.Context) {
	var req auth.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	user, err := h.svc.Register(c.Request.Context(), req)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, newUserView(*user))
}

type loginResponse struct {
	Token string   `json:"token"`
	User  userView `json:"user"`
}

// login accepts a password or a one-time quote token in the password field.
func (h *authHandler) login(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.svc.Login(c.Request.Context(), req)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, loginResponse{Token: res.Token, User: newUserView(res.User)})
}

func (h *authHandler) me(c *gin.Context) {
	user, err := h.svc.GetUserByID(c.Request.Context(), actorFrom(c).UserID)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, newUserView(*user))
}
