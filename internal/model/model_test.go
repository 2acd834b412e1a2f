package model

import "testing"

func TestRemoveActiveJobTrimsAndClearsProcessing(t *testing.T) {
	j1 := &Job{ID: 1}
	j2 := &Job{ID: 2}
	p := &Printer{ActiveJobs: []*Job{j1, j2}, ProcessingJob: j1}

	p.RemoveActiveJob(j1)

	if len(p.ActiveJobs) != 1 || p.ActiveJobs[0] != j2 {
		t.Fatalf("ActiveJobs = %v, want [j2]", p.ActiveJobs)
	}
	if p.ProcessingJob != nil {
		t.Fatalf("ProcessingJob = %v, want nil", p.ProcessingJob)
	}
}

func TestRemoveActiveJobLeavesProcessingWhenDifferentJob(t *testing.T) {
	j1 := &Job{ID: 1}
	j2 := &Job{ID: 2}
	p := &Printer{ActiveJobs: []*Job{j1, j2}, ProcessingJob: j2}

	p.RemoveActiveJob(j1)

	if p.ProcessingJob != j2 {
		t.Fatalf("ProcessingJob = %v, want j2", p.ProcessingJob)
	}
}

func TestRemoveActiveJobNoOpWhenAbsent(t *testing.T) {
	j1 := &Job{ID: 1}
	other := &Job{ID: 2}
	p := &Printer{ActiveJobs: []*Job{j1}}

	p.RemoveActiveJob(other)

	if len(p.ActiveJobs) != 1 || p.ActiveJobs[0] != j1 {
		t.Fatalf("ActiveJobs = %v, want unchanged [j1]", p.ActiveJobs)
	}
}

func TestJobStateIsTerminal(t *testing.T) {
	cases := []struct {
		state JobState
		want  bool
	}{
		{JobPending, false},
		{JobHeld, false},
		{JobProcessing, false},
		{JobStopped, false},
		{JobCanceled, true},
		{JobAborted, true},
		{JobCompleted, true},
	}
	for _, c := range cases {
		if got := c.state.IsTerminal(); got != c.want {
			t.Errorf("JobState(%d).IsTerminal() = %v, want %v", c.state, got, c.want)
		}
	}
}
