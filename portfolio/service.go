package portfolio

import (
	"context"

	"agencyflow/apperror"
	"agencyflow/auth"
)

// DraftReader abstracts repository reads for the service.
type DraftReader interface {
	GetByProjectID(ctx context.Context, projectID string) (Draft, error)
	List(ctx context.Context, limit int) ([]Draft, error)
}

var ErrForbidden = apperror.Unauthorized("portfolio_forbidden", "portfolio: staff only")

// Service exposes the read side of delivery drafts to staff.
type Service struct {
	repo DraftReader
}

func NewService(repo DraftReader) *Service {
	return &Service{repo: repo}
}

func (s *Service) GetByProjectID(ctx context.Context, projectID string, actor auth.Actor) (Draft, error) {
	if !actor.IsStaff() {
		return Draft{}, ErrForbidden
	}
	return s.repo.GetByProjectID(ctx, projectID)
}

func (s *Service) List(ctx context.Context, limit int, actor auth.Actor) ([]Draft, error) {
	if !actor.IsStaff() {
		return nil, ErrForbidden
	}
	return s.repo.List(ctx, limit)
}
