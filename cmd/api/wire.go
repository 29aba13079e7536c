package main

import (
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"agencyflow/audit"
	"agencyflow/auth"
	"agencyflow/changerequest"
	"agencyflow/config"
	"agencyflow/httpapi"
	"agencyflow/milestone"
	"agencyflow/notify"
	"agencyflow/order"
	"agencyflow/outbox"
	"agencyflow/portfolio"
	"agencyflow/project"
	"agencyflow/quote"
	"agencyflow/referral"
)

type app struct {
	router *gin.Engine
	relay  *outbox.Relay
}

// wire builds every service over pool. Nothing here touches the database.
func wire(cfg *config.Config, pool *pgxpool.Pool, logger *zap.Logger) *app {
	auditWriter := audit.NewWriter()
	outboxWriter := outbox.NewWriter()

	var sender notify.Sender = notify.NewLogSender(logger)
	if cfg.Email.MailgunEnabled() {
		sender = notify.NewMailgunSender(cfg.Email.MailgunDomain, cfg.Email.MailgunAPIKey, cfg.Email.From, logger)
	}
	dispatcher := notify.NewDispatcher(sender, cfg.Email.AdminEmail, cfg.BaseURL, logger)

	authRepo := auth.NewRepository(pool)
	projectRepo := project.NewRepository()
	orderRepo := order.NewRepository()
	drafts := portfolio.NewRepository(pool)

	referrals := referral.NewService(pool, nil, auditWriter, outboxWriter).WithLogger(logger)
	orders := order.NewService(pool, orderRepo, projectRepo, referrals, auditWriter, outboxWriter).WithLogger(logger)
	projects := project.NewService(pool, projectRepo, orderRepo, drafts, auditWriter, outboxWriter).WithLogger(logger)
	milestones := milestone.NewService(pool, nil, projectRepo, auditWriter, outboxWriter).WithLogger(logger)
	changes := changerequest.NewService(pool, nil, projectRepo, milestones, orders, auditWriter, outboxWriter).WithLogger(logger)
	quotes := quote.NewService(pool, nil, orders, authRepo, auditWriter, outboxWriter).
		WithLinkSender(dispatcher).
		WithTTL(cfg.QuoteTTL).
		WithLogger(logger)
	authSvc := auth.NewService(authRepo, cfg.Auth.JWTSecret).
		WithTokenTTL(cfg.Auth.JWTTTL).
		WithQuoteRedeemer(quotes)

	router := httpapi.NewRouter(httpapi.Services{
		Auth:           authSvc,
		Quotes:         quotes,
		Orders:         orders,
		Projects:       projects,
		Milestones:     milestones,
		ChangeRequests: changes,
		Referrals:      referrals,
		Portfolio:      portfolio.NewService(drafts),
		Audit:          audit.NewReader(pool),
	}, httpapi.Options{
		CORSOrigins: cfg.CORSOrigins,
		Logger:      logger,
		Ping:        pool.Ping,
	})

	relay := outbox.NewRelay(pool, dispatcher, logger).
		WithBatchSize(cfg.Outbox.BatchSize).
		WithMaxAttempts(cfg.Outbox.MaxAttempts)

	return &app{router: router, relay: relay}
}
