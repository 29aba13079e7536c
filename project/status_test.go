package project

import "testing"

func phase(group Stage, status PhaseStatus) Phase {
	return Phase{Group: group, Status: status}
}

func TestDeriveStatus(t *testing.T) {
	cases := []struct {
		name   string
		phases []Phase
		want   Stage
		ok     bool
	}{
		{
			name:   "no phases",
			phases: nil,
			ok:     false,
		},
		{
			name: "first incomplete stage wins",
			phases: []Phase{
				phase(StageRequirements, PhaseCompleted),
				phase(StageDesign, PhaseCompleted),
				phase(StageDev, PhaseInProgress),
			},
			want: StageDev,
			ok:   true,
		},
		{
			name: "order of phases in the slice does not matter",
			phases: []Phase{
				phase(StageQA, PhasePending),
				phase(StageDesign, PhaseBlocked),
				phase(StageRequirements, PhaseCompleted),
			},
			want: StageDesign,
			ok:   true,
		},
		{
			name: "stages without phases are skipped",
			phases: []Phase{
				phase(StageRequirements, PhaseCompleted),
				phase(StageQA, PhasePending),
			},
			want: StageQA,
			ok:   true,
		},
		{
			name: "all complete is delivered",
			phases: []Phase{
				phase(StageRequirements, PhaseCompleted),
				phase(StageDev, PhaseCompleted),
			},
			want: StageDelivered,
			ok:   true,
		},
		{
			name: "reopened early phase pulls status back",
			phases: []Phase{
				phase(StageRequirements, PhaseInProgress),
				phase(StageDev, PhaseCompleted),
				phase(StageQA, PhaseCompleted),
			},
			want: StageRequirements,
			ok:   true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := DeriveStatus(tc.phases)
			if ok != tc.ok {
				t.Fatalf("ok: expected %v got %v", tc.ok, ok)
			}
			if got != tc.want {
				t.Fatalf("status: expected %q got %q", tc.want, got)
			}
		})
	}
}

func TestStageValid(t *testing.T) {
	for _, s := range Stages {
		if !s.Valid() {
			t.Fatalf("expected %s to be valid", s)
		}
	}
	if Stage("LAUNCH").Valid() {
		t.Fatal("unexpected stage accepted")
	}
	if PhaseStatus("DONE").Valid() {
		t.Fatal("unexpected phase status accepted")
	}
}
