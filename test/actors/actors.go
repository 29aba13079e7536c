package actors

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"time"

	"agencyflow/apperror"
	"agencyflow/auth"
	"agencyflow/changerequest"
	"agencyflow/milestone"
	"agencyflow/project"
	"agencyflow/quote"
	"agencyflow/referral"
)

// Stats counts actor outcomes. Rejected calls returned a classified domain
// error; Failed calls returned anything else, typically a killed backend.
type Stats struct {
	OK       atomic.Int64
	Rejected atomic.Int64
	Failed   atomic.Int64
}

func (s *Stats) record(err error) {
	switch {
	case err == nil:
		s.OK.Add(1)
	case apperror.KindOf(err) != nil:
		s.Rejected.Add(1)
	default:
		s.Failed.Add(1)
	}
}

func done(ctx context.Context, stop <-chan struct{}) (bool, error) {
	select {
	case <-ctx.Done():
		return true, ctx.Err()
	case <-stop:
		return true, nil
	default:
		return false, nil
	}
}

func pause(minMs, spreadMs int) {
	time.Sleep(time.Duration(minMs+rand.Intn(spreadMs)) * time.Millisecond)
}

func pick(ids []string) string {
	return ids[rand.Intn(len(ids))]
}

func quiet(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// QuoteDecider races accepts and rejects over the same quotes.
func QuoteDecider(ctx context.Context, svc *quote.Service, staff auth.Actor, quoteIDs []string, stats *Stats, stop <-chan struct{}) error {
	for {
		if ok, err := done(ctx, stop); ok {
			return quiet(err)
		}
		params := quote.DecisionParams{QuoteID: pick(quoteIDs), Actor: staff}
		if rand.Intn(4) == 0 {
			_, err := svc.Reject(ctx, params)
			stats.record(err)
		} else {
			_, err := svc.Accept(ctx, params)
			stats.record(err)
		}
		pause(5, 20)
	}
}

// PhaseToggler completes phases and occasionally reopens one.
func PhaseToggler(ctx context.Context, svc *project.Service, staff auth.Actor, projectID string, phaseIDs []string, stats *Stats, stop <-chan struct{}) error {
	for {
		if ok, err := done(ctx, stop); ok {
			return quiet(err)
		}
		status := project.PhaseCompleted
		if rand.Intn(6) == 0 {
			status = project.PhaseInProgress
		}
		_, err := svc.SetPhaseStatus(ctx, project.SetPhaseStatusParams{
			ProjectID: projectID,
			PhaseID:   pick(phaseIDs),
			Status:    status,
			Actor:     staff,
		})
		stats.record(err)
		pause(10, 30)
	}
}

// ChangeRequestAccepter accepts the same change requests repeatedly.
func ChangeRequestAccepter(ctx context.Context, svc *changerequest.Service, staff auth.Actor, crIDs []string, stats *Stats, stop <-chan struct{}) error {
	for {
		if ok, err := done(ctx, stop); ok {
			return quiet(err)
		}
		_, err := svc.Accept(ctx, pick(crIDs), staff)
		stats.record(err)
		pause(5, 20)
	}
}

// MilestoneReviewer approves milestones, sometimes trying to reverse a decision.
func MilestoneReviewer(ctx context.Context, svc *milestone.Service, staff auth.Actor, milestoneIDs []string, stats *Stats, stop <-chan struct{}) error {
	for {
		if ok, err := done(ctx, stop); ok {
			return quiet(err)
		}
		decision := milestone.StatusApproved
		if rand.Intn(5) == 0 {
			decision = milestone.StatusRejected
		}
		_, err := svc.Review(ctx, milestone.ReviewParams{MilestoneID: pick(milestoneIDs), Decision: decision, Actor: staff})
		stats.record(err)
		pause(10, 30)
	}
}

// PayoutRequester asks for payout as the referrer.
func PayoutRequester(ctx context.Context, svc *referral.Service, referrer auth.Actor, stats *Stats, stop <-chan struct{}) error {
	for {
		if ok, err := done(ctx, stop); ok {
			return quiet(err)
		}
		_, err := svc.RequestPayout(ctx, referral.RequestPayoutParams{ReferrerID: referrer.UserID, Actor: referrer})
		stats.record(err)
		pause(15, 40)
	}
}

// OutboxDrainer runs the relay continuously alongside the writers.
func OutboxDrainer(ctx context.Context, drain func(context.Context) error, stats *Stats, stop <-chan struct{}) error {
	for {
		if ok, err := done(ctx, stop); ok {
			return quiet(err)
		}
		stats.record(drain(ctx))
		pause(50, 100)
	}
}
