package project

// DeriveStatus returns the first stage, in lifecycle order, that still has a
// phase which is not COMPLETED, or DELIVERED when every phase is complete.
// The boolean is false when there are no phases, in which case the current
// status must be left alone.
func DeriveStatus(phases []Phase) (Stage, bool) {
	if len(phases) == 0 {
		return "", false
	}
	for _, stage := range Stages {
		for _, p := range phases {
			if p.Group == stage && p.Status != PhaseCompleted {
				return stage, true
			}
		}
	}
	return StageDelivered, true
}
