package quote

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agencyflow/apperror"
	"agencyflow/audit"
	"agencyflow/auth"
	"agencyflow/db"
	"agencyflow/db/dbtest"
	"agencyflow/order"
	"agencyflow/project"
)

var (
	staff = auth.Actor{UserID: "staff-1", Role: auth.RoleStaff}
	epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
)

type harness struct {
	svc     *Service
	repo    *fakeRepo
	pool    *dbtest.FakePool
	orders  *fakePlacer
	clients *fakeClients
	links   *fakeLinks
	now     time.Time
}

func newHarness() *harness {
	h := &harness{
		repo:    newFakeRepo(),
		pool:    &dbtest.FakePool{},
		orders:  &fakePlacer{},
		clients: &fakeClients{users: map[string]auth.User{}},
		links:   &fakeLinks{},
		now:     epoch,
	}
	h.repo.requests["req-1"] = Request{ID: "req-1", Email: "ada@example.com", FullName: "Ada", Status: RequestNew}
	h.svc = NewService(h.pool, h.repo, h.orders, h.clients, &fakeAudit{}, nil).
		WithLinkSender(h.links).
		WithClock(func() time.Time { return h.now })
	return h
}

func (h *harness) issue(t *testing.T) Issued {
	t.Helper()
	issued, err := h.svc.Issue(context.Background(), IssueParams{
		RequestID: "req-1",
		Amount:    decimal.RequireFromString("2000"),
		Currency:  "usd",
		Scope:     "Marketing site\nFive pages",
		Actor:     staff,
	})
	require.NoError(t, err)
	return issued
}

func TestIssue(t *testing.T) {
	h := newHarness()
	issued := h.issue(t)

	assert.Equal(t, StatusDraft, issued.Quote.Status)
	assert.Equal(t, "USD", issued.Quote.Currency)
	assert.Equal(t, epoch.Add(DefaultTTL), issued.Quote.ExpiresAt)
	assert.Len(t, issued.Token, 64)
	assert.Equal(t, HashToken(issued.Token), h.repo.quotes[issued.Quote.ID].TokenHash)
	assert.NotEqual(t, issued.Token, h.repo.quotes[issued.Quote.ID].TokenHash)
	assert.Equal(t, RequestQuoted, h.repo.requests["req-1"].Status)
	assert.Empty(t, h.links.sent)
	assert.True(t, h.pool.Last().Committed)
}

func TestIssue_SendDispatchesLink(t *testing.T) {
	h := newHarness()
	issued, err := h.svc.Issue(context.Background(), IssueParams{
		RequestID: "req-1", Amount: decimal.NewFromInt(10), Currency: "EUR", Scope: "Logo", Send: true, Actor: staff,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusSent, issued.Quote.Status)
	require.Len(t, h.links.sent, 1)
	assert.Equal(t, "ada@example.com|"+issued.Token, h.links.sent[0])
}

func TestIssue_Validation(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	past := epoch.Add(-time.Minute)

	cases := []struct {
		name   string
		params IssueParams
		want   error
	}{
		{"client", IssueParams{RequestID: "req-1", Amount: decimal.NewFromInt(1), Currency: "USD", Scope: "x", Actor: auth.Actor{UserID: "c", Role: auth.RoleClient}}, ErrForbidden},
		{"zero amount", IssueParams{RequestID: "req-1", Amount: decimal.Zero, Currency: "USD", Scope: "x", Actor: staff}, ErrInvalidAmount},
		{"negative amount", IssueParams{RequestID: "req-1", Amount: decimal.NewFromInt(-5), Currency: "USD", Scope: "x", Actor: staff}, ErrInvalidAmount},
		{"empty scope", IssueParams{RequestID: "req-1", Amount: decimal.NewFromInt(1), Currency: "USD", Scope: "  ", Actor: staff}, ErrScopeRequired},
		{"expiry in past", IssueParams{RequestID: "req-1", Amount: decimal.NewFromInt(1), Currency: "USD", Scope: "x", ExpiresAt: &past, Actor: staff}, ErrExpiryInPast},
		{"unknown request", IssueParams{RequestID: "nope", Amount: decimal.NewFromInt(1), Currency: "USD", Scope: "x", Actor: staff}, ErrRequestNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.Issue(ctx, tc.params)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}

func TestRedeem_SendsDraftAndLinksClient(t *testing.T) {
	h := newHarness()
	issued := h.issue(t)

	r, err := h.svc.Redeem(context.Background(), issued.Token)
	require.NoError(t, err)
	assert.Equal(t, StatusSent, r.Quote.Status)
	assert.Equal(t, "ada@example.com", r.User.Email)
	require.NotNil(t, h.repo.requests["req-1"].UserID)
	assert.Equal(t, r.User.ID, *h.repo.requests["req-1"].UserID)

	// The token remains usable until a decision is made.
	again, err := h.svc.Redeem(context.Background(), issued.Token)
	require.NoError(t, err)
	assert.Equal(t, r.User.ID, again.User.ID)
	assert.Len(t, h.clients.users, 1)
}

func TestRedeem_FailuresAreIndistinguishable(t *testing.T) {
	h := newHarness()
	issued := h.issue(t)
	ctx := context.Background()

	_, errUnknown := h.svc.Redeem(ctx, "deadbeef")
	_, errEmpty := h.svc.Redeem(ctx, "")

	h.now = epoch.Add(DefaultTTL + time.Second)
	_, errExpired := h.svc.Redeem(ctx, issued.Token)

	for _, err := range []error{errUnknown, errEmpty, errExpired} {
		assert.True(t, errors.Is(err, ErrInvalidToken))
		assert.True(t, errors.Is(err, apperror.ErrInvalidToken))
		assert.Equal(t, ErrInvalidToken.Error(), err.Error())
	}
}

func TestAccept_IsIdempotent(t *testing.T) {
	h := newHarness()
	issued := h.issue(t)
	ctx := context.Background()

	first, err := h.svc.Accept(ctx, DecisionParams{QuoteID: issued.Quote.ID, Actor: staff})
	require.NoError(t, err)
	assert.False(t, first.Replayed)
	assert.Equal(t, StatusAccepted, first.Quote.Status)
	assert.Equal(t, RequestConverted, h.repo.requests["req-1"].Status)

	second, err := h.svc.Accept(ctx, DecisionParams{QuoteID: issued.Quote.ID, Actor: staff})
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, first.ProjectID, second.ProjectID)
	assert.Equal(t, 1, h.orders.calls)

	placed := h.orders.last
	assert.True(t, placed.Total.Equal(decimal.NewFromInt(2000)))
	assert.Equal(t, "Marketing site", placed.Title)
	require.NotNil(t, placed.QuoteID)
	assert.Equal(t, issued.Quote.ID, *placed.QuoteID)
}

func TestTokenIsSingleUse(t *testing.T) {
	for _, decide := range []string{"accept", "reject"} {
		t.Run(decide, func(t *testing.T) {
			h := newHarness()
			issued := h.issue(t)
			ctx := context.Background()

			_, err := h.svc.Redeem(ctx, issued.Token)
			require.NoError(t, err)

			if decide == "accept" {
				_, err = h.svc.Accept(ctx, DecisionParams{QuoteID: issued.Quote.ID, Actor: staff})
			} else {
				_, err = h.svc.Reject(ctx, DecisionParams{QuoteID: issued.Quote.ID, Actor: staff})
			}
			require.NoError(t, err)

			_, err = h.svc.Redeem(ctx, issued.Token)
			assert.True(t, errors.Is(err, ErrInvalidToken))
		})
	}
}

func TestAccept_Guards(t *testing.T) {
	ctx := context.Background()

	t.Run("archived", func(t *testing.T) {
		h := newHarness()
		issued := h.issue(t)
		_, err := h.svc.Archive(ctx, issued.Quote.ID, staff)
		require.NoError(t, err)
		_, err = h.svc.Accept(ctx, DecisionParams{QuoteID: issued.Quote.ID, Actor: staff})
		assert.True(t, errors.Is(err, ErrArchived))
	})

	t.Run("expired", func(t *testing.T) {
		h := newHarness()
		issued := h.issue(t)
		h.now = issued.Quote.ExpiresAt
		_, err := h.svc.Accept(ctx, DecisionParams{QuoteID: issued.Quote.ID, Actor: staff})
		assert.True(t, errors.Is(err, ErrExpired))
		assert.True(t, errors.Is(err, apperror.ErrConflict))
		assert.Zero(t, h.orders.calls)
	})

	t.Run("rejected", func(t *testing.T) {
		h := newHarness()
		issued := h.issue(t)
		_, err := h.svc.Reject(ctx, DecisionParams{QuoteID: issued.Quote.ID, Actor: staff})
		require.NoError(t, err)
		_, err = h.svc.Accept(ctx, DecisionParams{QuoteID: issued.Quote.ID, Actor: staff})
		assert.True(t, errors.Is(err, ErrAlreadyRejected))
	})

	t.Run("stranger", func(t *testing.T) {
		h := newHarness()
		issued := h.issue(t)
		_, err := h.svc.Accept(ctx, DecisionParams{QuoteID: issued.Quote.ID, Actor: auth.Actor{UserID: "someone", Role: auth.RoleClient}})
		assert.True(t, errors.Is(err, ErrForbidden))
	})

	t.Run("linked client", func(t *testing.T) {
		h := newHarness()
		issued := h.issue(t)
		r, err := h.svc.Redeem(ctx, issued.Token)
		require.NoError(t, err)
		res, err := h.svc.Accept(ctx, DecisionParams{QuoteID: issued.Quote.ID, Actor: auth.Actor{UserID: r.User.ID, Role: auth.RoleClient}})
		require.NoError(t, err)
		assert.Equal(t, r.User.ID, h.orders.last.UserID)
		assert.NotEmpty(t, res.OrderID)
	})
}

func TestReject_Guards(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	issued := h.issue(t)

	_, err := h.svc.Reject(ctx, DecisionParams{QuoteID: issued.Quote.ID, Actor: staff})
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, h.repo.quotes[issued.Quote.ID].Status)

	_, err = h.svc.Reject(ctx, DecisionParams{QuoteID: issued.Quote.ID, Actor: staff})
	assert.True(t, errors.Is(err, ErrAlreadyRejected))

	other := h.issue(t)
	_, err = h.svc.Accept(ctx, DecisionParams{QuoteID: other.Quote.ID, Actor: staff})
	require.NoError(t, err)
	_, err = h.svc.Reject(ctx, DecisionParams{QuoteID: other.Quote.ID, Actor: staff})
	assert.True(t, errors.Is(err, ErrAlreadyAccepted))
}

func TestMarkSent_RotatesToken(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	issued := h.issue(t)

	resent, err := h.svc.MarkSent(ctx, issued.Quote.ID, staff)
	require.NoError(t, err)
	assert.Equal(t, StatusSent, resent.Quote.Status)
	assert.NotEqual(t, issued.Token, resent.Token)
	require.Len(t, h.links.sent, 1)

	_, err = h.svc.Redeem(ctx, issued.Token)
	assert.True(t, errors.Is(err, ErrInvalidToken))
	_, err = h.svc.Redeem(ctx, resent.Token)
	require.NoError(t, err)
}

func TestListActive_ExcludesArchived(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	keep := h.issue(t)
	drop := h.issue(t)
	_, err := h.svc.Archive(ctx, drop.Quote.ID, staff)
	require.NoError(t, err)

	active, err := h.svc.ListActive(ctx, staff, 10)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, keep.Quote.ID, active[0].ID)

	_, err = h.svc.ListActive(ctx, auth.Actor{UserID: "c", Role: auth.RoleClient}, 10)
	assert.True(t, errors.Is(err, ErrForbidden))
}

type fakeRepo struct {
	requests map[string]Request
	quotes   map[string]Quote
	order    []string
	next     int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{requests: map[string]Request{}, quotes: map[string]Quote{}}
}

func (f *fakeRepo) GetRequest(ctx context.Context, q db.Querier, id string) (Request, error) {
	r, ok := f.requests[id]
	if !ok {
		return Request{}, ErrRequestNotFound
	}
	return r, nil
}

func (f *fakeRepo) GetRequestForUpdate(ctx context.Context, tx pgx.Tx, id string) (Request, error) {
	return f.GetRequest(ctx, tx, id)
}

func (f *fakeRepo) LinkRequestUser(ctx context.Context, tx pgx.Tx, requestID, userID string) error {
	r := f.requests[requestID]
	if r.UserID == nil {
		r.UserID = &userID
	}
	f.requests[requestID] = r
	return nil
}

func (f *fakeRepo) SetRequestStatus(ctx context.Context, tx pgx.Tx, requestID string, status RequestStatus) error {
	r := f.requests[requestID]
	r.Status = status
	f.requests[requestID] = r
	return nil
}

func (f *fakeRepo) Insert(ctx context.Context, tx pgx.Tx, q Quote) (Quote, error) {
	f.next++
	q.ID = fmt.Sprintf("quote-%d", f.next)
	f.quotes[q.ID] = q
	f.order = append(f.order, q.ID)
	return q, nil
}

func (f *fakeRepo) Get(ctx context.Context, q db.Querier, id string) (Quote, error) {
	quote, ok := f.quotes[id]
	if !ok {
		return Quote{}, ErrQuoteNotFound
	}
	return quote, nil
}

func (f *fakeRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Quote, error) {
	return f.Get(ctx, tx, id)
}

func (f *fakeRepo) FindRedeemableForUpdate(ctx context.Context, tx pgx.Tx, hash string, now time.Time) (Quote, error) {
	for _, q := range f.quotes {
		if q.TokenHash == hash && q.ArchivedAt == nil && q.ExpiresAt.After(now) &&
			(q.Status == StatusDraft || q.Status == StatusSent) {
			return q, nil
		}
	}
	return Quote{}, ErrInvalidToken
}

func (f *fakeRepo) MarkSent(ctx context.Context, tx pgx.Tx, id, hash string, at time.Time) (Quote, error) {
	q := f.quotes[id]
	q.Status = StatusSent
	q.TokenHash = hash
	if q.SentAt == nil {
		q.SentAt = &at
	}
	f.quotes[id] = q
	return q, nil
}

func (f *fakeRepo) MarkAccepted(ctx context.Context, tx pgx.Tx, id, orderID, projectID, hash string, at time.Time) (Quote, error) {
	q := f.quotes[id]
	q.Status = StatusAccepted
	q.OrderID = &orderID
	q.ProjectID = &projectID
	q.TokenHash = hash
	q.AcceptedAt = &at
	f.quotes[id] = q
	return q, nil
}

func (f *fakeRepo) MarkRejected(ctx context.Context, tx pgx.Tx, id, hash string, at time.Time) (Quote, error) {
	q := f.quotes[id]
	q.Status = StatusRejected
	q.TokenHash = hash
	q.RejectedAt = &at
	f.quotes[id] = q
	return q, nil
}

func (f *fakeRepo) SetArchived(ctx context.Context, tx pgx.Tx, id string, at time.Time) (Quote, error) {
	q := f.quotes[id]
	if q.ArchivedAt == nil {
		q.ArchivedAt = &at
	}
	f.quotes[id] = q
	return q, nil
}

func (f *fakeRepo) ListActive(ctx context.Context, q db.Querier, limit int) ([]Quote, error) {
	var out []Quote
	for _, id := range f.order {
		if quote := f.quotes[id]; quote.ArchivedAt == nil {
			out = append(out, quote)
		}
	}
	return out, nil
}

type fakePlacer struct {
	calls int
	last  order.PlaceParams
}

func (f *fakePlacer) PlaceInTx(ctx context.Context, tx pgx.Tx, p order.PlaceParams) (order.Placement, error) {
	f.calls++
	f.last = p
	orderID := fmt.Sprintf("order-%d", f.calls)
	return order.Placement{
		Order:   order.Order{ID: orderID, UserID: p.UserID, TotalAmount: p.Total, Status: order.StatusPlaced},
		Project: project.Project{ID: "proj-" + orderID, OrderID: orderID, Status: project.StageRequirements},
	}, nil
}

type fakeClients struct {
	users map[string]auth.User
}

func (f *fakeClients) EnsureClient(ctx context.Context, tx pgx.Tx, email, fullName string) (auth.User, bool, error) {
	if u, ok := f.users[email]; ok {
		return u, false, nil
	}
	u := auth.User{ID: fmt.Sprintf("user-%d", len(f.users)+1), Email: email, FullName: fullName, Role: auth.RoleClient}
	f.users[email] = u
	return u, true, nil
}

type fakeLinks struct{ sent []string }

func (f *fakeLinks) SendQuoteLink(ctx context.Context, to, token, quoteID string) error {
	f.sent = append(f.sent, to+"|"+token)
	return nil
}

type fakeAudit struct{ entries []audit.Entry }

func (f *fakeAudit) Append(ctx context.Context, tx pgx.Tx, e audit.Entry) error {
	f.entries = append(f.entries, e)
	return nil
}
