package quote

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"agencyflow/apperror"
	"agencyflow/audit"
	"agencyflow/auth"
	"agencyflow/db"
	"agencyflow/metrics"
	"agencyflow/money"
	"agencyflow/order"
	"agencyflow/outbox"
)

const DefaultTTL = 7 * 24 * time.Hour

var (
	ErrQuoteNotFound   = apperror.NotFound("quote_not_found", "quote: not found")
	ErrRequestNotFound = apperror.NotFound("request_not_found", "quote: request not found")
	ErrForbidden       = apperror.Unauthorized("quote_forbidden", "quote: actor may not act on this quote")
	ErrInvalidAmount   = apperror.Validation("quote_amount_invalid", "quote: amount must be greater than zero")
	ErrScopeRequired   = apperror.Validation("quote_scope_required", "quote: scope required")
	ErrExpiryInPast    = apperror.Validation("quote_expiry_past", "quote: expiry must be in the future")
	ErrArchived        = apperror.Conflict("quote_archived", "quote: archived")
	ErrExpired         = apperror.Conflict("quote_expired", "quote: expired")
	ErrAlreadyAccepted = apperror.Conflict("quote_already_accepted", "quote: already accepted")
	ErrAlreadyRejected = apperror.Conflict("quote_already_rejected", "quote: already rejected")
	ErrInvalidToken    = apperror.InvalidToken("quote_token_invalid", "quote: invalid or expired token")
)

// OrderPlacer creates the order and initial project inside the accepting tx.
type OrderPlacer interface {
	PlaceInTx(ctx context.Context, tx pgx.Tx, params order.PlaceParams) (order.Placement, error)
}

// ClientEnsurer finds or creates the client account behind a request email.
type ClientEnsurer interface {
	EnsureClient(ctx context.Context, tx pgx.Tx, email, fullName string) (auth.User, bool, error)
}

// LinkSender delivers the plaintext acceptance link.
type LinkSender interface {
	SendQuoteLink(ctx context.Context, to, token, quoteID string) error
}

type AuditWriter interface {
	Append(ctx context.Context, tx pgx.Tx, e audit.Entry) error
}

type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

type Service struct {
	pool    db.Pool
	repo    Repository
	orders  OrderPlacer
	clients ClientEnsurer
	audit   AuditWriter
	outbox  OutboxWriter
	links   LinkSender
	ttl     time.Duration
	now     func() time.Time
	log     *zap.Logger
}

func NewService(pool db.Pool, repo Repository, orders OrderPlacer, clients ClientEnsurer, auditWriter AuditWriter, outboxWriter OutboxWriter) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	return &Service{
		pool:    pool,
		repo:    repo,
		orders:  orders,
		clients: clients,
		audit:   auditWriter,
		outbox:  outboxWriter,
		ttl:     DefaultTTL,
		now:     time.Now,
		log:     zap.NewNop(),
	}
}

func (s *Service) WithLinkSender(links LinkSender) *Service {
	s.links = links
	return s
}

func (s *Service) WithTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.ttl = ttl
	}
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Service) WithLogger(log *zap.Logger) *Service {
	s.log = log.Named("quote")
	return s
}

type IssueParams struct {
	RequestID string
	Amount    decimal.Decimal
	Currency  string
	Scope     string
	ExpiresAt *time.Time
	Send      bool
	Actor     auth.Actor
}

// Issue creates a quote for a reviewed request. The plaintext token is in the
// result and nowhere else.
func (s *Service) Issue(ctx context.Context, params IssueParams) (Issued, error) {
	if !params.Actor.IsStaff() {
		return Issued{}, ErrForbidden
	}
	if !params.Amount.IsPositive() {
		return Issued{}, ErrInvalidAmount.WithField("amount")
	}
	if !params.Amount.Equal(params.Amount.Round(money.Scale)) {
		return Issued{}, money.ErrTooManyDecimals.WithField("amount")
	}
	scope := strings.TrimSpace(params.Scope)
	if scope == "" {
		return Issued{}, ErrScopeRequired.WithField("scope")
	}
	currency, err := money.NormalizeCurrency(params.Currency)
	if err != nil {
		return Issued{}, err
	}

	now := s.now().UTC()
	expires := now.Add(s.ttl)
	if params.ExpiresAt != nil {
		expires = params.ExpiresAt.UTC()
	}
	if !expires.After(now) {
		return Issued{}, ErrExpiryInPast.WithField("expires_at")
	}

	plain, hash, err := NewToken()
	if err != nil {
		return Issued{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Issued{}, fmt.Errorf("quote: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err := s.repo.GetRequestForUpdate(ctx, tx, params.RequestID)
	if err != nil {
		return Issued{}, err
	}

	draft := Quote{
		RequestID: req.ID,
		Amount:    params.Amount,
		Currency:  currency,
		Scope:     scope,
		Status:    StatusDraft,
		TokenHash: hash,
		ExpiresAt: expires,
	}
	if params.Send {
		draft.Status = StatusSent
		draft.SentAt = &now
	}
	q, err := s.repo.Insert(ctx, tx, draft)
	if err != nil {
		return Issued{}, err
	}
	if req.Status == RequestNew {
		if err := s.repo.SetRequestStatus(ctx, tx, req.ID, RequestQuoted); err != nil {
			return Issued{}, err
		}
	}

	amount := q.Amount
	if err := s.appendAudit(ctx, tx, audit.Entry{
		EntityType: audit.EntityQuote,
		EntityID:   q.ID,
		Action:     "quote.issued",
		ActorID:    params.Actor.UserID,
		ToStatus:   string(q.Status),
		Amount:     &amount,
	}); err != nil {
		return Issued{}, err
	}
	if err := s.enqueue(ctx, tx, outbox.TopicQuoteIssued, map[string]any{
		"quote_id":   q.ID,
		"request_id": req.ID,
		"amount":     money.String(q.Amount),
		"currency":   q.Currency,
	}); err != nil {
		return Issued{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Issued{}, fmt.Errorf("quote: commit issue: %w", err)
	}
	metrics.Transition("quote", string(q.Status))

	if params.Send {
		s.sendLink(ctx, req.Email, plain, q.ID)
	}
	return Issued{Quote: q, Token: plain}, nil
}

// MarkSent dispatches a quote explicitly. The token is rotated so the new
// link can be delivered; any earlier link stops working.
func (s *Service) MarkSent(ctx context.Context, quoteID string, actor auth.Actor) (Issued, error) {
	if !actor.IsStaff() {
		return Issued{}, ErrForbidden
	}
	plain, hash, err := NewToken()
	if err != nil {
		return Issued{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Issued{}, fmt.Errorf("quote: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	q, err := s.repo.GetForUpdate(ctx, tx, quoteID)
	if err != nil {
		return Issued{}, err
	}
	now := s.now().UTC()
	if err := s.guardOpen(q, now); err != nil {
		return Issued{}, err
	}
	req, err := s.repo.GetRequest(ctx, tx, q.RequestID)
	if err != nil {
		return Issued{}, err
	}

	sent, err := s.repo.MarkSent(ctx, tx, q.ID, hash, now)
	if err != nil {
		return Issued{}, err
	}
	if err := s.appendAudit(ctx, tx, audit.Entry{
		EntityType: audit.EntityQuote,
		EntityID:   q.ID,
		Action:     "quote.sent",
		ActorID:    actor.UserID,
		FromStatus: string(q.Status),
		ToStatus:   string(sent.Status),
	}); err != nil {
		return Issued{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Issued{}, fmt.Errorf("quote: commit sent: %w", err)
	}
	if q.Status != sent.Status {
		metrics.Transition("quote", string(sent.Status))
	}

	s.sendLink(ctx, req.Email, plain, q.ID)
	return Issued{Quote: sent, Token: plain}, nil
}

// Redeem authenticates a presented token. A DRAFT quote becomes SENT, and the
// request email gets a client account linked to the request. The token stays
// valid until the quote is accepted or rejected.
func (s *Service) Redeem(ctx context.Context, token string) (Redemption, error) {
	if strings.TrimSpace(token) == "" {
		return Redemption{}, ErrInvalidToken
	}
	hash := HashToken(token)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Redemption{}, fmt.Errorf("quote: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	now := s.now().UTC()
	q, err := s.repo.FindRedeemableForUpdate(ctx, tx, hash, now)
	if err != nil {
		return Redemption{}, err
	}
	if q.Status == StatusDraft {
		sent, err := s.repo.MarkSent(ctx, tx, q.ID, q.TokenHash, now)
		if err != nil {
			return Redemption{}, err
		}
		if err := s.appendAudit(ctx, tx, audit.Entry{
			EntityType: audit.EntityQuote,
			EntityID:   q.ID,
			Action:     "quote.redeemed",
			FromStatus: string(q.Status),
			ToStatus:   string(sent.Status),
		}); err != nil {
			return Redemption{}, err
		}
		q = sent
	}

	req, err := s.repo.GetRequestForUpdate(ctx, tx, q.RequestID)
	if err != nil {
		return Redemption{}, err
	}
	user, err := s.ensureRequestUser(ctx, tx, req)
	if err != nil {
		return Redemption{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Redemption{}, fmt.Errorf("quote: commit redeem: %w", err)
	}
	metrics.Transition("quote", string(q.Status))
	return Redemption{Quote: q, User: user}, nil
}

// RedeemForLogin lets the auth service accept a quote token as a credential.
func (s *Service) RedeemForLogin(ctx context.Context, token string) (string, string, error) {
	r, err := s.Redeem(ctx, token)
	if err != nil {
		return "", "", err
	}
	return r.User.ID, r.User.Email, nil
}

type DecisionParams struct {
	QuoteID string
	Actor   auth.Actor
}

// Accept converts the quote into an order and project. Accepting an already
// accepted quote returns the original references.
func (s *Service) Accept(ctx context.Context, params DecisionParams) (Acceptance, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Acceptance{}, fmt.Errorf("quote: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	q, err := s.repo.GetForUpdate(ctx, tx, params.QuoteID)
	if err != nil {
		return Acceptance{}, err
	}
	req, err := s.repo.GetRequestForUpdate(ctx, tx, q.RequestID)
	if err != nil {
		return Acceptance{}, err
	}
	if !canDecide(params.Actor, req) {
		return Acceptance{}, ErrForbidden
	}

	now := s.now().UTC()
	switch {
	case q.Archived():
		return Acceptance{}, ErrArchived.WithState(string(q.Status))
	case q.Status == StatusAccepted:
		return Acceptance{Quote: q, OrderID: deref(q.OrderID), ProjectID: deref(q.ProjectID), Replayed: true}, nil
	case q.Status == StatusRejected:
		return Acceptance{}, ErrAlreadyRejected.WithState(string(q.Status))
	case q.ExpiredAt(now):
		return Acceptance{}, ErrExpired.WithState(string(q.Status))
	}

	buyer, err := s.ensureRequestUser(ctx, tx, req)
	if err != nil {
		return Acceptance{}, err
	}

	placement, err := s.orders.PlaceInTx(ctx, tx, order.PlaceParams{
		UserID:    buyer.ID,
		UserEmail: buyer.Email,
		QuoteID:   &q.ID,
		Title:     orderTitle(q.Scope),
		Currency:  q.Currency,
		Total:     q.Amount,
		Actor:     params.Actor,
	})
	if err != nil {
		return Acceptance{}, err
	}

	accepted, err := s.repo.MarkAccepted(ctx, tx, q.ID, placement.Order.ID, placement.Project.ID, consumed(q.TokenHash), now)
	if err != nil {
		return Acceptance{}, err
	}
	if err := s.repo.SetRequestStatus(ctx, tx, req.ID, RequestConverted); err != nil {
		return Acceptance{}, err
	}

	amount := q.Amount
	if err := s.appendAudit(ctx, tx, audit.Entry{
		EntityType: audit.EntityQuote,
		EntityID:   q.ID,
		Action:     "quote.accepted",
		ActorID:    params.Actor.UserID,
		FromStatus: string(q.Status),
		ToStatus:   string(accepted.Status),
		Amount:     &amount,
	}); err != nil {
		return Acceptance{}, err
	}
	if err := s.enqueue(ctx, tx, outbox.TopicQuoteAccepted, map[string]any{
		"quote_id":   q.ID,
		"order_id":   placement.Order.ID,
		"project_id": placement.Project.ID,
		"email":      buyer.Email,
	}); err != nil {
		return Acceptance{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Acceptance{}, fmt.Errorf("quote: commit accept: %w", err)
	}
	metrics.Transition("quote", string(accepted.Status))
	metrics.Transition("order", string(placement.Order.Status))
	s.log.Info("quote accepted",
		zap.String("quote_id", q.ID),
		zap.String("order_id", placement.Order.ID),
		zap.String("project_id", placement.Project.ID),
	)

	return Acceptance{Quote: accepted, OrderID: placement.Order.ID, ProjectID: placement.Project.ID}, nil
}

// Reject closes the quote. Rejecting twice is reported as a conflict.
func (s *Service) Reject(ctx context.Context, params DecisionParams) (Quote, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Quote{}, fmt.Errorf("quote: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	q, err := s.repo.GetForUpdate(ctx, tx, params.QuoteID)
	if err != nil {
		return Quote{}, err
	}
	req, err := s.repo.GetRequest(ctx, tx, q.RequestID)
	if err != nil {
		return Quote{}, err
	}
	if !canDecide(params.Actor, req) {
		return Quote{}, ErrForbidden
	}
	now := s.now().UTC()
	if err := s.guardOpen(q, now); err != nil {
		return Quote{}, err
	}

	rejected, err := s.repo.MarkRejected(ctx, tx, q.ID, consumed(q.TokenHash), now)
	if err != nil {
		return Quote{}, err
	}
	if err := s.appendAudit(ctx, tx, audit.Entry{
		EntityType: audit.EntityQuote,
		EntityID:   q.ID,
		Action:     "quote.rejected",
		ActorID:    params.Actor.UserID,
		FromStatus: string(q.Status),
		ToStatus:   string(rejected.Status),
	}); err != nil {
		return Quote{}, err
	}
	if err := s.enqueue(ctx, tx, outbox.TopicQuoteRejected, map[string]any{
		"quote_id": q.ID,
		"email":    req.Email,
	}); err != nil {
		return Quote{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Quote{}, fmt.Errorf("quote: commit reject: %w", err)
	}
	metrics.Transition("quote", string(rejected.Status))
	return rejected, nil
}

// Archive hides a quote from active listings and blocks further actions.
// Archiving an archived quote keeps the original timestamp.
func (s *Service) Archive(ctx context.Context, quoteID string, actor auth.Actor) (Quote, error) {
	if !actor.IsStaff() {
		return Quote{}, ErrForbidden
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Quote{}, fmt.Errorf("quote: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	q, err := s.repo.GetForUpdate(ctx, tx, quoteID)
	if err != nil {
		return Quote{}, err
	}
	if q.Archived() {
		return q, nil
	}
	archived, err := s.repo.SetArchived(ctx, tx, q.ID, s.now().UTC())
	if err != nil {
		return Quote{}, err
	}
	if err := s.appendAudit(ctx, tx, audit.Entry{
		EntityType: audit.EntityQuote,
		EntityID:   q.ID,
		Action:     "quote.archived",
		ActorID:    actor.UserID,
		FromStatus: string(q.Status),
		ToStatus:   string(archived.Status),
	}); err != nil {
		return Quote{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Quote{}, fmt.Errorf("quote: commit archive: %w", err)
	}
	return archived, nil
}

func (s *Service) ListActive(ctx context.Context, actor auth.Actor, limit int) ([]Quote, error) {
	if !actor.IsStaff() {
		return nil, ErrForbidden
	}
	return s.repo.ListActive(ctx, s.pool, limit)
}

func (s *Service) Get(ctx context.Context, quoteID string, actor auth.Actor) (Quote, error) {
	q, err := s.repo.Get(ctx, s.pool, quoteID)
	if err != nil {
		return Quote{}, err
	}
	if actor.IsStaff() {
		return q, nil
	}
	req, err := s.repo.GetRequest(ctx, s.pool, q.RequestID)
	if err != nil {
		return Quote{}, err
	}
	if !canDecide(actor, req) {
		return Quote{}, ErrForbidden
	}
	return q, nil
}

// guardOpen rejects actions on quotes that are archived, decided or expired.
func (s *Service) guardOpen(q Quote, now time.Time) error {
	switch {
	case q.Archived():
		return ErrArchived.WithState(string(q.Status))
	case q.Status == StatusAccepted:
		return ErrAlreadyAccepted.WithState(string(q.Status))
	case q.Status == StatusRejected:
		return ErrAlreadyRejected.WithState(string(q.Status))
	case q.ExpiredAt(now):
		return ErrExpired.WithState(string(q.Status))
	}
	return nil
}

func (s *Service) ensureRequestUser(ctx context.Context, tx pgx.Tx, req Request) (auth.User, error) {
	user, created, err := s.clients.EnsureClient(ctx, tx, req.Email, req.FullName)
	if err != nil {
		return auth.User{}, fmt.Errorf("quote: ensure client: %w", err)
	}
	if created {
		s.log.Info("client account created from quote", zap.String("request_id", req.ID), zap.String("user_id", user.ID))
	}
	if req.UserID == nil {
		if err := s.repo.LinkRequestUser(ctx, tx, req.ID, user.ID); err != nil {
			return auth.User{}, err
		}
	}
	return user, nil
}

func (s *Service) sendLink(ctx context.Context, to, token, quoteID string) {
	if s.links == nil || to == "" {
		return
	}
	if err := s.links.SendQuoteLink(ctx, to, token, quoteID); err != nil {
		s.log.Warn("quote link not delivered", zap.String("quote_id", quoteID), zap.Error(err))
	}
}

func (s *Service) appendAudit(ctx context.Context, tx pgx.Tx, e audit.Entry) error {
	if s.audit == nil {
		return nil
	}
	if err := s.audit.Append(ctx, tx, e); err != nil {
		return fmt.Errorf("quote: append audit: %w", err)
	}
	return nil
}

func (s *Service) enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	if s.outbox == nil {
		return nil
	}
	if err := s.outbox.Enqueue(ctx, tx, topic, payload); err != nil {
		return fmt.Errorf("quote: enqueue %s: %w", topic, err)
	}
	return nil
}

// canDecide allows staff, or the client the request is linked to.
func canDecide(actor auth.Actor, req Request) bool {
	if actor.IsStaff() {
		return true
	}
	return req.UserID != nil && actor.UserID != "" && *req.UserID == actor.UserID
}

func orderTitle(scope string) string {
	title := strings.TrimSpace(strings.SplitN(scope, "\n", 2)[0])
	if r := []rune(title); len(r) > 120 {
		title = string(r[:120])
	}
	return title
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
