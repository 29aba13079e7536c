package infra

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"agencyflow/audit"
	"agencyflow/auth"
	"agencyflow/changerequest"
	"agencyflow/db"
	"agencyflow/milestone"
	"agencyflow/order"
	"agencyflow/outbox"
	"agencyflow/portfolio"
	"agencyflow/project"
	"agencyflow/quote"
	"agencyflow/referral"
)

// ApplicationName tags harness connections so chaos only kills our own.
const ApplicationName = "agencyflow-test"

// Services is the full service graph over the harness pool.
type Services struct {
	Auth           *auth.Service
	Quotes         *quote.Service
	Orders         *order.Service
	Projects       *project.Service
	Milestones     *milestone.Service
	ChangeRequests *changerequest.Service
	Referrals      *referral.Service
	Portfolio      *portfolio.Service
	Audit          *audit.Reader
	Relay          *outbox.Relay
}

// Harness owns the database and the services wired against it.
type Harness struct {
	container *PGContainer
	pool      *pgxpool.Pool
	dsn       string
	Services
}

// NewHarness provides a migrated database, from a container or
// TEST_DATABASE_URL, and wires every service the way the API does.
func NewHarness(ctx context.Context, overrideDSN string) (*Harness, error) {
	pgC, dsn, err := StartPostgres16(ctx, overrideDSN)
	if err != nil {
		return nil, fmt.Errorf("start postgres: %w", err)
	}

	pool, err := db.NewPool(ctx, dsn, db.PoolOptions{
		MaxConns:        64,
		MaxConnIdleTime: 30 * time.Second,
		MaxConnLifetime: 5 * time.Minute,
		ApplicationName: ApplicationName,
	})
	if err != nil {
		_ = pgC.Terminate(ctx)
		return nil, err
	}

	h := &Harness{container: pgC, pool: pool, dsn: dsn}
	if err := db.Migrate(ctx, pool); err != nil {
		h.Close(ctx)
		return nil, err
	}
	h.Services = wire(pool)
	return h, nil
}

func wire(pool *pgxpool.Pool) Services {
	log := zap.NewNop()
	auditWriter := audit.NewWriter()
	outboxWriter := outbox.NewWriter()

	authRepo := auth.NewRepository(pool)
	projectRepo := project.NewRepository()
	orderRepo := order.NewRepository()
	drafts := portfolio.NewRepository(pool)

	referrals := referral.NewService(pool, nil, auditWriter, outboxWriter).WithLogger(log)
	orders := order.NewService(pool, orderRepo, projectRepo, referrals, auditWriter, outboxWriter).WithLogger(log)
	milestones := milestone.NewService(pool, nil, projectRepo, auditWriter, outboxWriter).WithLogger(log)
	quotes := quote.NewService(pool, nil, orders, authRepo, auditWriter, outboxWriter).WithLogger(log)

	return Services{
		Auth:           auth.NewService(authRepo, "test-secret").WithQuoteRedeemer(quotes),
		Quotes:         quotes,
		Orders:         orders,
		Projects:       project.NewService(pool, projectRepo, orderRepo, drafts, auditWriter, outboxWriter).WithLogger(log),
		Milestones:     milestones,
		ChangeRequests: changerequest.NewService(pool, nil, projectRepo, milestones, orders, auditWriter, outboxWriter).WithLogger(log),
		Referrals:      referrals,
		Portfolio:      portfolio.NewService(drafts),
		Audit:          audit.NewReader(pool),
		Relay:          outbox.NewRelay(pool, discard{}, log),
	}
}

type discard struct{}

func (discard) Notify(ctx context.Context, msg outbox.Message) error { return nil }

// Pool exposes the configured pgx pool.
func (h *Harness) Pool() *pgxpool.Pool {
	return h.pool
}

// DSN returns the connection string for direct connections (e.g., chaos).
func (h *Harness) DSN() string {
	return h.dsn
}

// Close tears down resources.
func (h *Harness) Close(ctx context.Context) {
	if h.pool != nil {
		h.pool.Close()
	}
	if h.container != nil {
		_ = h.container.Terminate(ctx)
	}
}

// Reset truncates every table so each test starts clean.
func (h *Harness) Reset(ctx context.Context) error {
	tables := []string{
		"outbox",
		"audit_entries",
		"portfolio_drafts",
		"referral_commissions",
		"milestone_payments",
		"change_requests",
		"project_phases",
		"quotes",
		"projects",
		"orders",
		"project_requests",
		"users",
	}
	if _, err := h.pool.Exec(ctx, "TRUNCATE TABLE "+strings.Join(tables, ", ")+" CASCADE"); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return nil
}

// SeedUser inserts a user directly and returns its actor.
func (h *Harness) SeedUser(ctx context.Context, email string, role auth.Role, referredBy *string) (auth.Actor, error) {
	var id string
	err := h.pool.QueryRow(ctx, `
		INSERT INTO users (email, full_name, role, referred_by)
		VALUES ($1, $2, $3, $4)
		RETURNING id`, email, strings.Split(email, "@")[0], role, referredBy).Scan(&id)
	if err != nil {
		return auth.Actor{}, fmt.Errorf("seed user: %w", err)
	}
	return auth.Actor{UserID: id, Role: role}, nil
}

// SeedRequest inserts a reviewed inbound request.
func (h *Harness) SeedRequest(ctx context.Context, email, fullName, description string) (string, error) {
	var id string
	err := h.pool.QueryRow(ctx, `
		INSERT INTO project_requests (email, full_name, description)
		VALUES ($1, $2, $3)
		RETURNING id`, email, fullName, description).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("seed request: %w", err)
	}
	return id, nil
}

// PlaceOrder places a direct order for buyer through the order service.
func (h *Harness) PlaceOrder(ctx context.Context, staff auth.Actor, buyer auth.Actor, email string, total decimal.Decimal) (order.Placement, error) {
	return h.Orders.PlaceDirect(ctx, order.PlaceParams{
		UserID:    buyer.UserID,
		UserEmail: email,
		Title:     "Website",
		Currency:  "USD",
		Total:     total,
		Actor:     staff,
	})
}
