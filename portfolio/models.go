package portfolio

import "time"

type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusPublished Status = "PUBLISHED"
)

// Draft is the portfolio entry created when a project is delivered. There is
// at most one per project.
type Draft struct {
	ID        string
	ProjectID string
	Title     string
	Status    Status
	CreatedAt time.Time
}
