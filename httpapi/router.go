// Package httpapi exposes the ledger operations over JSON/HTTP with gin.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Options struct {
	CORSOrigins []string
	Logger      *zap.Logger
	// Ping backs /health. Nil reports healthy unconditionally.
	Ping func(ctx context.Context) error
}

// NewRouter builds the engine. svc.Auth is required: every route except
// register, login, redeem and health runs behind the bearer token check.
func NewRouter(svc Services, opts Options) *gin.Engine {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("http")

	router := gin.New()
	router.Use(gin.Recovery(), requestID(), accessLog(log))
	if len(opts.CORSOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     opts.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", requestIDHeader},
			ExposeHeaders:    []string{"Content-Length", requestIDHeader},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/health", health(opts.Ping))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")

	ah := &authHandler{svc: svc.Auth}
	api.POST("/auth/register", ah.register)
	api.POST("/auth/login", ah.login)

	if svc.Quotes != nil {
		api.POST("/quotes/redeem", (&quoteHandler{svc: svc.Quotes}).redeem)
	}

	authed := api.Group("", requireActor(svc.Auth))
	authed.GET("/me", ah.me)

	if svc.Quotes != nil {
		setupQuoteRoutes(authed, &quoteHandler{svc: svc.Quotes})
	}
	if svc.Orders != nil {
		setupOrderRoutes(authed, &orderHandler{svc: svc.Orders, users: svc.Auth})
	}
	if svc.Projects != nil {
		setupProjectRoutes(authed, &projectHandler{svc: svc.Projects, portfolio: svc.Portfolio})
	}
	if svc.Milestones != nil {
		setupMilestoneRoutes(authed, &milestoneHandler{svc: svc.Milestones})
	}
	if svc.ChangeRequests != nil {
		setupChangeRequestRoutes(authed, &changeRequestHandler{svc: svc.ChangeRequests})
	}
	if svc.Referrals != nil {
		setupReferralRoutes(authed, &referralHandler{svc: svc.Referrals})
	}
	if svc.Audit != nil {
		authed.GET("/audit/:type/:id", (&auditHandler{svc: svc.Audit}).trail)
	}

	return router
}

func setupQuoteRoutes(rg *gin.RouterGroup, h *quoteHandler) {
	quotes := rg.Group("/quotes")
	quotes.POST("", h.issue)
	quotes.GET("", h.list)
	quotes.GET("/:id", h.get)
	quotes.POST("/:id/send", h.send)
	quotes.POST("/:id/accept", h.accept)
	quotes.POST("/:id/reject", h.reject)
	quotes.POST("/:id/archive", h.archive)
}

func setupOrderRoutes(rg *gin.RouterGroup, h *orderHandler) {
	orders := rg.Group("/orders")
	orders.POST("", h.place)
	orders.GET("", h.listMine)
	orders.GET("/:id", h.get)
	orders.POST("/:id/cancel", h.cancel)
	orders.PUT("/:id/total", h.correctTotal)
}

func setupProjectRoutes(rg *gin.RouterGroup, h *projectHandler) {
	projects := rg.Group("/projects")
	projects.GET("/:id", h.get)
	projects.POST("/:id/phases", h.addPhase)
	projects.PATCH("/:id/phases/:phaseID", h.setPhaseStatus)
	if h.portfolio != nil {
		projects.GET("/:id/portfolio", h.portfolioDraft)
		rg.GET("/portfolio", h.listPortfolio)
	}
}

func setupMilestoneRoutes(rg *gin.RouterGroup, h *milestoneHandler) {
	rg.GET("/projects/:id/milestones", h.list)
	rg.GET("/projects/:id/milestones/totals", h.totals)
	rg.POST("/projects/:id/milestones", h.submitProof)
	rg.POST("/projects/:id/milestones/planned", h.plan)

	milestones := rg.Group("/milestones")
	milestones.POST("/:id/proof", h.attachProof)
	milestones.POST("/:id/review", h.review)
	milestones.POST("/:id/archive", h.archive)
}

func setupChangeRequestRoutes(rg *gin.RouterGroup, h *changeRequestHandler) {
	rg.GET("/projects/:id/change-requests", h.list)
	rg.POST("/projects/:id/change-requests", h.propose)

	crs := rg.Group("/change-requests")
	crs.PATCH("/:id", h.edit)
	crs.POST("/:id/accept", h.accept)
	crs.POST("/:id/reject", h.reject)
}

func setupReferralRoutes(rg *gin.RouterGroup, h *referralHandler) {
	rg.GET("/referrals/statement", h.statement)
	rg.POST("/referrals/payout", h.requestPayout)
	rg.POST("/commissions/:id/payout", h.adminPayout)
}

func health(ping func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ping != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
