package store

import (
	"sort"
	"sync"
	"testing"

	"github.com/run-ci/matrix/workflow"
)

func TestMemoryPipelines(t *testing.T) {
	st := NewMemory()

	for _, p := range []*Pipeline{
		{Name: "ci", Remote: "//a.git"},
		{Name: "nightly", Remote: "//a.git"},
		{Name: "ci", Remote: "//b.git"},
	} {
		if err := st.CreatePipeline(p); err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
	}

	ps, err := st.GetPipelines("//a.git")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(ps) != 2 {
		t.Fatalf("expected 2 pipelines, got %v", len(ps))
	}
	if ps[0].ID != 1 || ps[1].ID != 2 {
		t.Fatalf("expected pipelines 1 and 2, got %+v", ps)
	}

	all, _ := st.GetPipelines("")
	if len(all) != 3 {
		t.Fatalf("expected 3 pipelines, got %v", len(all))
	}

	id, err := st.GetPipelineID("//b.git", "ci")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if id != 3 {
		t.Fatalf("expected id 3, got %v", id)
	}

	if err := st.CreatePipeline(&Pipeline{Name: "ci", Remote: "//a.git"}); err != ErrPipelineExists {
		t.Fatalf("expected %v, got %v", ErrPipelineExists, err)
	}

	if _, err := st.GetPipelineID("//c.git", "ci"); err != ErrNoPipelines {
		t.Fatalf("expected %v, got %v", ErrNoPipelines, err)
	}

	if _, err := st.GetPipeline(42); err != ErrPipelineNotFound {
		t.Fatalf("expected %v, got %v", ErrPipelineNotFound, err)
	}

	p := Pipeline{ID: 1}
	p.MarkSuccess(false)
	if err := st.UpdatePipeline(&p); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	got, _ := st.GetPipeline(1)
	if !got.Failed() {
		t.Fatalf("expected pipeline to be failed, got %+v", got)
	}
}

func TestMemoryRunTree(t *testing.T) {
	st := NewMemory()

	p := Pipeline{Name: "ci", Remote: "//a.git"}
	st.CreatePipeline(&p)

	for i := 1; i <= 2; i++ {
		r := Run{
			PipelineID: p.ID,
			Event:      workflow.Event{Kind: workflow.EventPush, Branch: "master"},
		}
		r.SetStart()

		if err := st.CreateRun(&r); err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
		if r.Count != i {
			t.Fatalf("expected run count %v, got %v", i, r.Count)
		}
	}

	if err := st.CreateRun(&Run{PipelineID: 9}); err != ErrPipelineNotFound {
		t.Fatalf("expected %v, got %v", ErrPipelineNotFound, err)
	}

	got, _ := st.GetPipeline(p.ID)
	if len(got.Runs) != 2 {
		t.Fatalf("expected 2 runs, got %v", len(got.Runs))
	}

	for _, v := range []string{"3.6", "3.7"} {
		j := Job{PipelineID: p.ID, RunCount: 2, PythonVersion: v, Status: "pending"}
		if err := st.CreateJob(&j); err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
	}

	j := Job{ID: 1, Status: "failure", Error: "BuildFailure", Message: "install exited with status 1"}
	j.SetEnd()
	if err := st.UpdateJob(&j); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	s := Step{JobID: 1, Name: "install"}
	s.SetStart()
	if err := st.CreateStep(&s); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	s.MarkSuccess(false)
	s.ExitCode = 1
	s.SetEnd()
	if err := st.UpdateStep(&s); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	r, err := st.GetRun(p.ID, 2)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(r.Jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %v", len(r.Jobs))
	}
	if r.Jobs[0].Error != "BuildFailure" || r.Jobs[1].Status != "pending" {
		t.Fatalf("expected jobs to be independent, got %+v", r.Jobs)
	}

	gotJob, err := st.GetJob(1)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(gotJob.Steps) != 1 || gotJob.Steps[0].ExitCode != 1 {
		t.Fatalf("expected failed install step, got %+v", gotJob.Steps)
	}

	if _, err := st.GetRun(p.ID, 3); err != ErrRunNotFound {
		t.Fatalf("expected %v, got %v", ErrRunNotFound, err)
	}
	if _, err := st.GetJob(3); err != ErrJobNotFound {
		t.Fatalf("expected %v, got %v", ErrJobNotFound, err)
	}
	if _, err := st.GetStep(2); err != ErrStepNotFound {
		t.Fatalf("expected %v, got %v", ErrStepNotFound, err)
	}
	if err := st.CreateStep(&Step{JobID: 7}); err != ErrJobNotFound {
		t.Fatalf("expected %v, got %v", ErrJobNotFound, err)
	}
}

func TestMemoryUsers(t *testing.T) {
	st := NewMemory()

	u := User{Name: "test", Email: "test@example.com", Password: "hunter2"}
	if err := st.CreateUser(&u); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if err := st.CreateUser(&u); err != ErrUserExists {
		t.Fatalf("expected %v, got %v", ErrUserExists, err)
	}

	if err := st.Authenticate("test@example.com", "hunter2"); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if err := st.Authenticate("test@example.com", "wrong"); err != ErrNotAuthenticated {
		t.Fatalf("expected %v, got %v", ErrNotAuthenticated, err)
	}

	if err := st.Authenticate("nobody@example.com", "hunter2"); err != ErrNotAuthenticated {
		t.Fatalf("expected %v, got %v", ErrNotAuthenticated, err)
	}
}

func TestMemoryConcurrentRuns(t *testing.T) {
	st := NewMemory()

	p := Pipeline{Name: "ci", Remote: "//a.git"}
	if err := st.CreatePipeline(&p); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	const n = 10

	var mu sync.Mutex
	var counts []int

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			r := Run{PipelineID: p.ID, Event: workflow.Event{Kind: workflow.EventPush, Branch: "master"}}
			if err := st.CreateRun(&r); err != nil {
				t.Errorf("expected nil error, got %v", err)
				return
			}

			mu.Lock()
			counts = append(counts, r.Count)
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Ints(counts)
	for i, c := range counts {
		if c != i+1 {
			t.Fatalf("expected counts 1 to %v, got %v", n, counts)
		}
	}
}
