package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"agencyflow/auth"
	"agencyflow/changerequest"
	"agencyflow/milestone"
	"agencyflow/project"
	"agencyflow/quote"
	"agencyflow/test/actors"
	"agencyflow/test/chaos"
	"agencyflow/test/infra"
	"agencyflow/test/oracles"
)

var (
	flDuration    = flag.Duration("duration", 20*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 4, "number of concurrent actors per kind")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flChaos       = flag.Bool("chaos", true, "terminate random backends while running")
)

type stressSeed struct {
	staff       auth.Actor
	referrer    auth.Actor
	quoteIDs    []string
	projectID   string
	phaseIDs    []string
	crIDs       []string
	milestoneID []string
}

func TestLedgerUnderContention(t *testing.T) {
	h := requireHarness(t)
	seed := *flSeed
	rand.Seed(seed)

	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	s := mustSeed(t, ctx, h)

	g, gctx := errgroup.WithContext(ctx)
	stop := make(chan struct{})
	stats := map[string]*actors.Stats{
		"quotes":     {},
		"phases":     {},
		"changes":    {},
		"milestones": {},
		"payouts":    {},
		"outbox":     {},
	}

	for i := 0; i < *flConcurrency; i++ {
		g.Go(func() error {
			return actors.QuoteDecider(gctx, h.Quotes, s.staff, s.quoteIDs, stats["quotes"], stop)
		})
		g.Go(func() error {
			return actors.PhaseToggler(gctx, h.Projects, s.staff, s.projectID, s.phaseIDs, stats["phases"], stop)
		})
		g.Go(func() error {
			return actors.ChangeRequestAccepter(gctx, h.ChangeRequests, s.staff, s.crIDs, stats["changes"], stop)
		})
		g.Go(func() error {
			return actors.MilestoneReviewer(gctx, h.Milestones, s.staff, s.milestoneID, stats["milestones"], stop)
		})
		g.Go(func() error {
			return actors.PayoutRequester(gctx, h.Referrals, s.referrer, stats["payouts"], stop)
		})
	}
	g.Go(func() error {
		return actors.OutboxDrainer(gctx, func(ctx context.Context) error {
			_, err := h.Relay.DrainOnce(ctx)
			return err
		}, stats["outbox"], stop)
	})
	if *flChaos {
		go chaos.TerminateRandomBackend(gctx, h.Pool(), infra.ApplicationName, stop)
	}

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			if name, row := checkOracles(t, gctx, h.Pool()); name != "" {
				failed = true
				dumpRecent(t, ctx, h.Pool())
				t.Errorf("oracle %s failed. First row: %s (seed=%d)", name, row, seed)
				break loop
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v", err)
		}
	}

	if !failed {
		if name, row := checkOracles(t, ctx, h.Pool()); name != "" {
			dumpRecent(t, ctx, h.Pool())
			t.Errorf("oracle %s failed after stop. First row: %s (seed=%d)", name, row, seed)
		}
	}
	for kind, st := range stats {
		t.Logf("%-10s ok=%d rejected=%d failed=%d", kind, st.OK.Load(), st.Rejected.Load(), st.Failed.Load())
	}
}

// checkOracles tolerates a killed backend; the next tick retries.
func checkOracles(t *testing.T, ctx context.Context, pool *pgxpool.Pool) (string, string) {
	t.Helper()
	name, row, err := oracles.Run(ctx, pool)
	if err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Logf("oracle run: %v", err)
		}
		return "", ""
	}
	return name, row
}

func mustSeed(t *testing.T, ctx context.Context, h *infra.Harness) stressSeed {
	t.Helper()
	var (
		s   stressSeed
		err error
	)
	if s.staff, err = h.SeedUser(ctx, "staff@stress.test", auth.RoleStaff, nil); err != nil {
		t.Fatal(err)
	}
	if s.referrer, err = h.SeedUser(ctx, "referrer@stress.test", auth.RoleClient, nil); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 12; i++ {
		reqID, err := h.SeedRequest(ctx, fmt.Sprintf("lead%d@stress.test", i), "Lead", "Site build")
		if err != nil {
			t.Fatal(err)
		}
		issued, err := h.Quotes.Issue(ctx, quote.IssueParams{
			RequestID: reqID,
			Amount:    decimal.NewFromInt(int64(1000 + 250*i)),
			Currency:  "USD",
			Scope:     "Site build",
			Actor:     s.staff,
		})
		if err != nil {
			t.Fatalf("issue quote: %v", err)
		}
		s.quoteIDs = append(s.quoteIDs, issued.Quote.ID)
	}

	// A referred buyer's project carries the phases, change requests and
	// payments the actors fight over.
	buyer, err := h.SeedUser(ctx, "buyer@stress.test", auth.RoleClient, &s.referrer.UserID)
	if err != nil {
		t.Fatal(err)
	}
	placement, err := h.PlaceOrder(ctx, s.staff, buyer, "buyer@stress.test", decimal.NewFromInt(10000))
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	s.projectID = placement.Project.ID

	for _, g := range []project.Stage{project.StageRequirements, project.StageDesign, project.StageDev, project.StageQA} {
		ph, err := h.Projects.AddPhase(ctx, project.AddPhaseParams{ProjectID: s.projectID, Group: g, Title: string(g), Actor: s.staff})
		if err != nil {
			t.Fatalf("add phase: %v", err)
		}
		s.phaseIDs = append(s.phaseIDs, ph.ID)
	}

	for i := 0; i < 4; i++ {
		amount := decimal.NewFromInt(int64(100 * (i + 1)))
		cr, err := h.ChangeRequests.Propose(ctx, changerequest.ProposeParams{
			ProjectID: s.projectID,
			Title:     fmt.Sprintf("Extra %d", i),
			Amount:    &amount,
			Actor:     buyer,
		})
		if err != nil {
			t.Fatalf("propose change request: %v", err)
		}
		s.crIDs = append(s.crIDs, cr.ID)
	}

	for i := 0; i < 6; i++ {
		amount := decimal.NewFromInt(int64(500 + 100*i))
		ms, err := h.Milestones.SubmitProof(ctx, milestone.SubmitProofParams{
			ProjectID: s.projectID,
			Label:     fmt.Sprintf("Instalment %d", i),
			Amount:    &amount,
			ProofRef:  fmt.Sprintf("receipts/%d.pdf", i),
			Actor:     buyer,
		})
		if err != nil {
			t.Fatalf("submit proof: %v", err)
		}
		s.milestoneID = append(s.milestoneID, ms.ID)
	}
	return s
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"audit_entries", `SELECT id, entity_type, entity_id, action, from_status, to_status, amount, created_at FROM audit_entries ORDER BY id DESC LIMIT 50`},
		{"outbox", `SELECT id, topic, status, attempts, created_at FROM outbox ORDER BY created_at DESC LIMIT 50`},
		{"referral_commissions", `SELECT id, order_id, commission_amount, commission_paid_out, status FROM referral_commissions`},
		{"orders", `SELECT id, quote_id, total_amount, status FROM orders ORDER BY created_at DESC LIMIT 20`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", cols[i].Name, vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
