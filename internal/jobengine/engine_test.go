package jobengine

import (
	"context"
	"testing"
	"time"

	"github.com/thilo-hub/ippsample/internal/model"
)

func TestPickJobPrefersHigherPriority(t *testing.T) {
	p := &model.Printer{}
	low := &model.Job{ID: 1, State: model.JobPending, Filename: "spooled", Priority: 10}
	high := &model.Job{ID: 2, State: model.JobPending, Filename: "spooled", Priority: 90}
	p.ActiveJobs = []*model.Job{low, high}

	got := pickJob(p)
	if got != high {
		t.Fatalf("pickJob() picked job %d, want the higher-priority job %d", got.ID, high.ID)
	}
}

func TestPickJobSkipsHeldAndUnspooledJobs(t *testing.T) {
	p := &model.Printer{}
	held := &model.Job{ID: 1, State: model.JobHeld, Filename: "spooled"}
	unspooled := &model.Job{ID: 2, State: model.JobPending}
	future := &model.Job{ID: 3, State: model.JobPending, Filename: "spooled", HoldUntil: time.Now().Add(time.Hour)}
	ready := &model.Job{ID: 4, State: model.JobPending, Filename: "spooled"}
	p.ActiveJobs = []*model.Job{held, unspooled, future, ready}

	got := pickJob(p)
	if got != ready {
		t.Fatalf("pickJob() = job %v, want job 4", got)
	}
}

func TestPickJobReturnsNilWhenNoneDue(t *testing.T) {
	p := &model.Printer{}
	p.ActiveJobs = []*model.Job{{ID: 1, State: model.JobHeld}}

	if got := pickJob(p); got != nil {
		t.Fatalf("pickJob() = %v, want nil", got)
	}
}

func TestFinishPrinterRemovesTerminalJobFromActiveJobs(t *testing.T) {
	e := &Engine{}
	j := &model.Job{ID: 1, State: model.JobCompleted}
	p := &model.Printer{
		IsAccepting:   true,
		State:         model.PrinterProcessing,
		ActiveJobs:    []*model.Job{j},
		ProcessingJob: j,
	}

	e.finishPrinter(context.Background(), p, j)

	if len(p.ActiveJobs) != 0 {
		t.Fatalf("ActiveJobs = %v, want empty after a terminal job finishes", p.ActiveJobs)
	}
	if p.ProcessingJob != nil {
		t.Fatalf("ProcessingJob = %v, want nil", p.ProcessingJob)
	}
	if p.State != model.PrinterIdle {
		t.Fatalf("State = %v, want PrinterIdle", p.State)
	}
}

func TestFinishPrinterKeepsNonTerminalJobActive(t *testing.T) {
	e := &Engine{}
	j := &model.Job{ID: 1, State: model.JobHeld}
	p := &model.Printer{
		ActiveJobs:    []*model.Job{j},
		ProcessingJob: j,
	}

	e.finishPrinter(context.Background(), p, j)

	if len(p.ActiveJobs) != 1 || p.ActiveJobs[0] != j {
		t.Fatalf("ActiveJobs = %v, want [j] since job isn't terminal", p.ActiveJobs)
	}
}
