package order

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agencyflow/apperror"
	"agencyflow/audit"
	"agencyflow/auth"
	"agencyflow/db"
	"agencyflow/db/dbtest"
	"agencyflow/outbox"
	"agencyflow/project"
	"agencyflow/referral"
)

var (
	staff  = auth.Actor{UserID: "staff-1", Role: auth.RoleStaff}
	client = auth.Actor{UserID: "client-1", Role: auth.RoleClient}
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPlaceDirect_CreatesOrderProjectAndCommission(t *testing.T) {
	repo := newFakeRepo()
	projects := &fakeProjects{}
	grants := &fakeGrants{}
	events := &fakeOutbox{}
	pool := &dbtest.FakePool{}
	svc := NewService(pool, repo, projects, grants, &fakeAudit{}, events)

	p, err := svc.PlaceDirect(context.Background(), PlaceParams{
		UserID:    "client-1",
		UserEmail: "client@example.com",
		Title:     " Landing page ",
		Currency:  "usd",
		Total:     dec("1000"),
		Actor:     client,
	})
	require.NoError(t, err)
	assert.Equal(t, "Landing page", p.Order.Title)
	assert.Equal(t, "USD", p.Order.Currency)
	assert.Equal(t, StatusPlaced, p.Order.Status)
	assert.Equal(t, p.Order.ID, p.Project.OrderID)
	require.NotNil(t, p.Commission)
	assert.True(t, p.Commission.CommissionAmount.Equal(dec("100")))
	assert.True(t, pool.Last().Committed)
	require.Len(t, events.topics, 1)
	assert.Equal(t, outbox.TopicOrderPlaced, events.topics[0])
}

func TestPlaceDirect_Validation(t *testing.T) {
	svc := NewService(&dbtest.FakePool{}, newFakeRepo(), &fakeProjects{}, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.PlaceDirect(ctx, PlaceParams{UserID: "client-2", Title: "x", Currency: "USD", Total: dec("1"), Actor: client})
	assert.True(t, errors.Is(err, ErrForbidden))

	_, err = svc.PlaceDirect(ctx, PlaceParams{UserID: "client-1", Title: "x", Currency: "USD", Total: decimal.Zero, Actor: client})
	assert.True(t, errors.Is(err, ErrInvalidTotal))

	_, err = svc.PlaceDirect(ctx, PlaceParams{UserID: "client-1", Title: " ", Currency: "USD", Total: dec("5"), Actor: client})
	assert.True(t, errors.Is(err, ErrTitleRequired))

	_, err = svc.PlaceDirect(ctx, PlaceParams{UserID: "client-1", Title: "x", Currency: "dollars", Total: dec("5"), Actor: client})
	assert.True(t, errors.Is(err, apperror.ErrValidation))

	// Staff may place on a client's behalf.
	_, err = svc.PlaceDirect(ctx, PlaceParams{UserID: "client-2", Title: "x", Currency: "EUR", Total: dec("5"), Actor: staff})
	require.NoError(t, err)
}

func TestIncrementTotal(t *testing.T) {
	repo := newFakeRepo()
	repo.orders["o-1"] = Order{ID: "o-1", UserID: "client-1", TotalAmount: dec("2000"), Status: StatusInProgress}
	svc := NewService(&dbtest.FakePool{}, repo, nil, nil, nil, nil)
	tx := &dbtest.FakeTx{}

	o, err := svc.IncrementTotal(context.Background(), tx, "o-1", dec("500"), "staff-1")
	require.NoError(t, err)
	assert.True(t, o.TotalAmount.Equal(dec("2500")))

	repo.orders["o-2"] = Order{ID: "o-2", TotalAmount: dec("10"), Status: StatusCancelled}
	_, err = svc.IncrementTotal(context.Background(), tx, "o-2", dec("1"), "staff-1")
	assert.True(t, errors.Is(err, apperror.ErrConflict))
}

func TestCancel(t *testing.T) {
	repo := newFakeRepo()
	repo.orders["o-1"] = Order{ID: "o-1", Status: StatusPlaced}
	repo.orders["o-2"] = Order{ID: "o-2", Status: StatusDelivered}
	pool := &dbtest.FakePool{}
	svc := NewService(pool, repo, nil, nil, nil, &fakeOutbox{})
	ctx := context.Background()

	_, err := svc.Cancel(ctx, "o-1", client)
	assert.True(t, errors.Is(err, ErrForbidden))

	o, err := svc.Cancel(ctx, "o-1", staff)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, o.Status)

	o, err = svc.Cancel(ctx, "o-1", staff)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, o.Status)

	_, err = svc.Cancel(ctx, "o-2", staff)
	assert.True(t, errors.Is(err, ErrAlreadyDelivered))
	assert.True(t, pool.Last().Rolled)
}

func TestCorrectTotal(t *testing.T) {
	repo := newFakeRepo()
	repo.orders["o-1"] = Order{ID: "o-1", TotalAmount: dec("100"), Status: StatusPlaced}
	svc := NewService(&dbtest.FakePool{}, repo, nil, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.CorrectTotal(ctx, CorrectTotalParams{OrderID: "o-1", Total: dec("90"), Actor: client})
	assert.True(t, errors.Is(err, ErrForbidden))

	_, err = svc.CorrectTotal(ctx, CorrectTotalParams{OrderID: "o-1", Total: dec("-1"), Actor: staff})
	assert.True(t, errors.Is(err, apperror.ErrValidation))

	o, err := svc.CorrectTotal(ctx, CorrectTotalParams{OrderID: "o-1", Total: dec("90"), Actor: staff})
	require.NoError(t, err)
	assert.True(t, o.TotalAmount.Equal(dec("90")))
}

type fakeRepo struct {
	orders map[string]Order
	next   int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{orders: map[string]Order{}}
}

func (f *fakeRepo) Insert(ctx context.Context, tx pgx.Tx, o Order) (Order, error) {
	f.next++
	o.ID = fmt.Sprintf("order-%d", f.next)
	o.Status = StatusPlaced
	f.orders[o.ID] = o
	return o, nil
}

func (f *fakeRepo) Get(ctx context.Context, q db.Querier, id string) (Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	return o, nil
}

func (f *fakeRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Order, error) {
	return f.Get(ctx, tx, id)
}

func (f *fakeRepo) UpdateTotal(ctx context.Context, tx pgx.Tx, id string, total decimal.Decimal) (Order, error) {
	o := f.orders[id]
	o.TotalAmount = total
	f.orders[id] = o
	return o, nil
}

func (f *fakeRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status) (Order, error) {
	o := f.orders[id]
	o.Status = status
	f.orders[id] = o
	return o, nil
}

func (f *fakeRepo) MarkDelivered(ctx context.Context, tx pgx.Tx, id string) (bool, error) {
	o := f.orders[id]
	if o.Status == StatusDelivered || o.Status == StatusCancelled {
		return false, nil
	}
	o.Status = StatusDelivered
	f.orders[id] = o
	return true, nil
}

func (f *fakeRepo) ListForUser(ctx context.Context, q db.Querier, userID string) ([]Order, error) {
	var out []Order
	for _, o := range f.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

type fakeProjects struct{}

func (f *fakeProjects) Create(ctx context.Context, tx pgx.Tx, orderID, name string) (project.Project, error) {
	return project.Project{ID: "proj-" + orderID, OrderID: orderID, Name: name, Status: project.StageRequirements}, nil
}

type fakeGrants struct{}

func (f *fakeGrants) GrantOnOrder(ctx context.Context, tx pgx.Tx, p referral.GrantParams) (*referral.Tracking, error) {
	return &referral.Tracking{
		OrderID:          p.OrderID,
		CommissionAmount: p.OrderTotal.Mul(dec("0.1")).Round(2),
		Status:           referral.StatusPending,
	}, nil
}

type fakeAudit struct{ entries []audit.Entry }

func (f *fakeAudit) Append(ctx context.Context, tx pgx.Tx, e audit.Entry) error {
	f.entries = append(f.entries, e)
	return nil
}

type fakeOutbox struct{ topics []string }

func (f *fakeOutbox) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	f.topics = append(f.topics, topic)
	return nil
}
