package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agencyflow/audit"
	"agencyflow/auth"
	"agencyflow/changerequest"
	"agencyflow/commission"
	"agencyflow/milestone"
	"agencyflow/order"
	"agencyflow/quote"
	"agencyflow/referral"
)

var (
	staffActor  = auth.Actor{UserID: "staff-1", Role: auth.RoleStaff}
	clientActor = auth.Actor{UserID: "client-1", Role: auth.RoleClient}
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubAuth struct {
	AuthService
	login func(req auth.LoginRequest) (auth.LoginResult, error)
}

func (s stubAuth) VerifyToken(token string) (auth.Actor, error) {
	switch token {
	case "staff-token":
		return staffActor, nil
	case "client-token":
		return clientActor, nil
	}
	return auth.Actor{}, errors.New("bad token")
}

func (s stubAuth) Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error) {
	return s.login(req)
}

type stubQuotes struct {
	QuoteService
	issued   quote.IssueParams
	accept   func(params quote.DecisionParams) (quote.Acceptance, error)
	redeemed error
}

func (s *stubQuotes) Issue(ctx context.Context, params quote.IssueParams) (quote.Issued, error) {
	s.issued = params
	return quote.Issued{
		Quote: quote.Quote{ID: "q-1", RequestID: params.RequestID, Amount: params.Amount, Currency: "USD", Status: quote.StatusDraft},
		Token: "plain-token",
	}, nil
}

func (s *stubQuotes) Accept(ctx context.Context, params quote.DecisionParams) (quote.Acceptance, error) {
	return s.accept(params)
}

func (s *stubQuotes) Redeem(ctx context.Context, token string) (quote.Redemption, error) {
	return quote.Redemption{}, s.redeemed
}

type stubChangeRequests struct {
	ChangeRequestService
}

func (stubChangeRequests) Accept(ctx context.Context, id string, actor auth.Actor) (changerequest.Acceptance, error) {
	if !actor.IsStaff() {
		return changerequest.Acceptance{}, changerequest.ErrForbidden
	}
	return changerequest.Acceptance{
		ChangeRequest: changerequest.ChangeRequest{
			ID:     id,
			Status: changerequest.StatusAccepted,
			Amount: decimal.NewNullDecimal(decimal.NewFromInt(500)),
		},
		Milestone: &milestone.Milestone{ID: "ms-1", Amount: decimal.NewFromInt(500), Status: milestone.StatusPending},
		Order:     &order.Order{ID: "order-1", TotalAmount: decimal.NewFromInt(2500)},
	}, nil
}

type stubMilestones struct {
	MilestoneService
	submitted *milestone.SubmitProofParams
}

func (s *stubMilestones) SubmitProof(ctx context.Context, params milestone.SubmitProofParams) (milestone.Milestone, error) {
	s.submitted = &params
	if params.Amount == nil {
		return milestone.Milestone{}, milestone.ErrAmountRequired
	}
	return milestone.Milestone{ID: "ms-1", ProjectID: params.ProjectID, Amount: *params.Amount, Status: milestone.StatusUnderReview}, nil
}

type stubReferrals struct {
	ReferralService
	referrerID string
}

func (s *stubReferrals) Statement(ctx context.Context, referrerID string, actor auth.Actor) ([]referral.Statement, error) {
	s.referrerID = referrerID
	return []referral.Statement{{
		Tracking: referral.Tracking{
			ID:                "t-1",
			CommissionRate:    decimal.RequireFromString("0.1"),
			CommissionAmount:  decimal.NewFromInt(100),
			CommissionPaidOut: decimal.NewFromInt(20),
			Status:            referral.StatusEarned,
		},
		Progress:  referral.Progress{OrderTotal: decimal.NewFromInt(1000), PaidAmount: decimal.NewFromInt(500)},
		Breakdown: commission.Breakdown{EarnedSoFar: 50, Available: 30, Pending: 50, PaidOut: 20},
	}}, nil
}

type stubAudit struct {
	entityType audit.EntityType
}

func (s *stubAudit) Trail(ctx context.Context, entityType audit.EntityType, entityID string) ([]audit.Record, error) {
	s.entityType = entityType
	to := "ACCEPTED"
	return []audit.Record{{
		ID:         1,
		EntityType: entityType,
		EntityID:   entityID,
		Action:     "quote.accepted",
		ToStatus:   &to,
		Amount:     decimal.NewNullDecimal(decimal.NewFromInt(2000)),
	}}, nil
}

func newTestRouter(svc Services) *gin.Engine {
	if svc.Auth == nil {
		svc.Auth = stubAuth{}
	}
	return NewRouter(svc, Options{CORSOrigins: []string{"http://localhost:3000"}})
}

func do(t *testing.T, r http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	r := NewRouter(Services{Auth: stubAuth{}}, Options{})
	w := do(t, r, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	r = NewRouter(Services{Auth: stubAuth{}}, Options{Ping: func(ctx context.Context) error { return errors.New("down") }})
	w = do(t, r, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRequireActor(t *testing.T) {
	r := newTestRouter(Services{Quotes: &stubQuotes{}})

	w := do(t, r, http.MethodGet, "/api/v1/quotes", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "credentials_missing", decode[errorResponse](t, w).Code)

	w = do(t, r, http.MethodGet, "/api/v1/quotes", "forged", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	r := newTestRouter(Services{Auth: stubAuth{login: func(req auth.LoginRequest) (auth.LoginResult, error) {
		return auth.LoginResult{}, auth.ErrInvalidCredentials
	}}})

	w := do(t, r, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "a@example.com", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestIssueQuote(t *testing.T) {
	quotes := &stubQuotes{}
	r := newTestRouter(Services{Quotes: quotes})

	w := do(t, r, http.MethodPost, "/api/v1/quotes", "staff-token", map[string]any{
		"request_id": "req-1",
		"amount":     "2000",
		"scope":      "Landing page",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	res := decode[issuedResponse](t, w)
	assert.Equal(t, "plain-token", res.Token)
	assert.Equal(t, "2000.00", res.Quote.Amount)
	assert.Equal(t, staffActor, quotes.issued.Actor)

	w = do(t, r, http.MethodPost, "/api/v1/quotes", "staff-token", map[string]any{
		"request_id": "req-1",
		"amount":     "20.001",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "amount_precision", decode[errorResponse](t, w).Code)
}

func TestAcceptQuote_StatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		res    quote.Acceptance
		err    error
		status int
		code   string
	}{
		{name: "created", res: quote.Acceptance{OrderID: "o-1", ProjectID: "p-1"}, status: http.StatusCreated},
		{name: "replayed", res: quote.Acceptance{OrderID: "o-1", ProjectID: "p-1", Replayed: true}, status: http.StatusOK},
		{name: "expired", err: quote.ErrExpired, status: http.StatusConflict, code: "quote_expired"},
		{name: "rejected", err: quote.ErrAlreadyRejected.WithState("REJECTED"), status: http.StatusConflict, code: "quote_already_rejected"},
		{name: "forbidden", err: quote.ErrForbidden, status: http.StatusForbidden, code: "quote_forbidden"},
		{name: "missing", err: quote.ErrQuoteNotFound, status: http.StatusNotFound, code: "quote_not_found"},
		{name: "infra", err: errors.New("connection reset"), status: http.StatusInternalServerError, code: "internal"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			quotes := &stubQuotes{accept: func(params quote.DecisionParams) (quote.Acceptance, error) {
				assert.Equal(t, "q-9", params.QuoteID)
				return tc.res, tc.err
			}}
			r := newTestRouter(Services{Quotes: quotes})
			w := do(t, r, http.MethodPost, "/api/v1/quotes/q-9/accept", "client-token", nil)
			assert.Equal(t, tc.status, w.Code)
			if tc.code != "" {
				assert.Equal(t, tc.code, decode[errorResponse](t, w).Code)
			}
		})
	}
}

func TestRedeem_InvalidTokenIsUnauthorized(t *testing.T) {
	r := newTestRouter(Services{Quotes: &stubQuotes{redeemed: quote.ErrInvalidToken}})
	w := do(t, r, http.MethodPost, "/api/v1/quotes/redeem", "", map[string]string{"token": "whatever"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "quote_token_invalid", decode[errorResponse](t, w).Code)
}

func TestAcceptChangeRequest(t *testing.T) {
	r := newTestRouter(Services{ChangeRequests: stubChangeRequests{}})

	w := do(t, r, http.MethodPost, "/api/v1/change-requests/cr-1/accept", "staff-token", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[changeAcceptanceResponse](t, w)
	require.NotNil(t, res.Order)
	assert.Equal(t, "2500.00", res.Order.TotalAmount)
	require.NotNil(t, res.ChangeRequest.Amount)
	assert.Equal(t, "500.00", *res.ChangeRequest.Amount)
	assert.False(t, res.Replayed)

	w = do(t, r, http.MethodPost, "/api/v1/change-requests/cr-1/accept", "client-token", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSubmitProof_AmountHandling(t *testing.T) {
	ms := &stubMilestones{}
	r := newTestRouter(Services{Milestones: ms})

	w := do(t, r, http.MethodPost, "/api/v1/projects/p-1/milestones", "client-token", map[string]any{
		"label": "Deposit", "proof_ref": "receipt.pdf",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "milestone_amount_required", decode[errorResponse](t, w).Code)

	w = do(t, r, http.MethodPost, "/api/v1/projects/p-1/milestones", "client-token", map[string]any{
		"label": "Deposit", "amount": "abc", "proof_ref": "receipt.pdf",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "amount_invalid", decode[errorResponse](t, w).Code)

	w = do(t, r, http.MethodPost, "/api/v1/projects/p-1/milestones", "client-token", map[string]any{
		"label": "Deposit", "amount": "250.5", "proof_ref": "receipt.pdf",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "250.50", decode[milestoneView](t, w).Amount)
	assert.Equal(t, "p-1", ms.submitted.ProjectID)
}

func TestStatement_DefaultsToCaller(t *testing.T) {
	refs := &stubReferrals{}
	r := newTestRouter(Services{Referrals: refs})

	w := do(t, r, http.MethodGet, "/api/v1/referrals/statement", "client-token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "client-1", refs.referrerID)
	out := decode[[]statementView](t, w)
	require.Len(t, out, 1)
	assert.Equal(t, "30.00", out[0].Available)
	assert.Equal(t, "20.00", out[0].Commission.PaidOut)

	w = do(t, r, http.MethodGet, "/api/v1/referrals/statement?referrer_id=other", "staff-token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "other", refs.referrerID)
}

func TestRequestIDIsEchoed(t *testing.T) {
	r := newTestRouter(Services{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(requestIDHeader))
}

func TestIssuedTimesSurviveJSON(t *testing.T) {
	exp := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	v := newQuoteView(quote.Quote{ID: "q", Amount: decimal.NewFromInt(1), ExpiresAt: exp})
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"expires_at":"2025-03-01T00:00:00Z"`)
	assert.NotContains(t, string(raw), "token")
}

func TestAuditTrail(t *testing.T) {
	trail := &stubAudit{}
	r := newTestRouter(Services{Audit: trail})
	const id = "4b0b6f4e-9f0c-4a53-9d53-6f1c43b2e0aa"

	w := do(t, r, http.MethodGet, "/api/v1/audit/quote/"+id, "client-token", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, r, http.MethodGet, "/api/v1/audit/invoice/"+id, "staff-token", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "entity_type_invalid", decode[errorResponse](t, w).Code)

	w = do(t, r, http.MethodGet, "/api/v1/audit/quote/not-a-uuid", "staff-token", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodGet, "/api/v1/audit/quote/"+id, "staff-token", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, audit.EntityQuote, trail.entityType)
	out := decode[[]auditView](t, w)
	require.Len(t, out, 1)
	assert.Equal(t, "quote.accepted", out[0].Action)
	require.NotNil(t, out[0].Amount)
	assert.Equal(t, "2000.00", *out[0].Amount)
}
