package project

import "time"

// Stage is both a project's lifecycle status and the group a phase belongs to.
type Stage string

const (
	StageRequirements Stage = "REQUIREMENTS"
	StageDesign       Stage = "DESIGN"
	StageDev          Stage = "DEV"
	StageQA           Stage = "QA"
	StageDelivered    Stage = "DELIVERED"
)

// Stages in lifecycle order.
var Stages = []Stage{StageRequirements, StageDesign, StageDev, StageQA, StageDelivered}

func (s Stage) Valid() bool {
	for _, st := range Stages {
		if s == st {
			return true
		}
	}
	return false
}

type PhaseStatus string

const (
	PhasePending    PhaseStatus = "PENDING"
	PhaseInProgress PhaseStatus = "IN_PROGRESS"
	PhaseCompleted  PhaseStatus = "COMPLETED"
	PhaseBlocked    PhaseStatus = "BLOCKED"
)

func (s PhaseStatus) Valid() bool {
	switch s {
	case PhasePending, PhaseInProgress, PhaseCompleted, PhaseBlocked:
		return true
	default:
		return false
	}
}

type Project struct {
	ID        string
	OrderID   string
	Name      string
	Status    Stage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Phase is a unit of work. Its Group never changes after creation.
type Phase struct {
	ID         string
	ProjectID  string
	Group      Stage
	Title      string
	Status     PhaseStatus
	OrderIndex int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Ownership links a project to its order and the client who owns it.
type Ownership struct {
	ProjectID  string
	OrderID    string
	OwnerID    string
	OwnerEmail string
}

// Detail is a project with its phases in order.
type Detail struct {
	Project Project
	Phases  []Phase
}
