package jobs

import (
	"fmt"
	"testing"
	"time"
)

func TestCreateAndGet(t *testing.T) {
	r := NewRegistry(time.Hour)

	job := &Job{ID: "j1", VideoID: "abc", Stage: StageQueued, CreatedAt: time.Now()}
	if err := r.Create(job); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, ok := r.Get("j1")
	if !ok {
		t.Fatal("job not found after Create")
	}
	if got.VideoID != "abc" || got.Stage != StageQueued {
		t.Errorf("unexpected job: %+v", got)
	}
}

func TestCreateDuplicate(t *testing.T) {
	r := NewRegistry(time.Hour)
	if err := r.Create(&Job{ID: "j1"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := r.Create(&Job{ID: "j1"}); err != ErrJobExists {
		t.Errorf("expected ErrJobExists, got %v", err)
	}
}

func TestUpdateMissingIsNoOp(t *testing.T) {
	r := NewRegistry(time.Hour)
	called := false
	r.Update("nope", func(j *Job) { called = true })
	if called {
		t.Error("update fn must not run for a missing job")
	}
}

func TestGetReturnsSnapshot(t *testing.T) {
	r := NewRegistry(time.Hour)
	r.Create(&Job{ID: "j1", Logs: []string{"one"}})

	got, _ := r.Get("j1")
	got.Logs[0] = "mutated"
	got.Percent = 99

	again, _ := r.Get("j1")
	if again.Logs[0] != "one" || again.Percent != 0 {
		t.Error("Get must return an isolated copy")
	}
}

func TestAppendLogTrimsBuffer(t *testing.T) {
	r := NewRegistry(time.Hour)
	r.Create(&Job{ID: "j1"})

	for i := 0; i < maxLogLines+1; i++ {
		r.AppendLog("j1", fmt.Sprintf("line %d", i))
	}

	got, _ := r.Get("j1")
	if len(got.Logs) != keepLogLines {
		t.Fatalf("got %d log lines, want %d after trim", len(got.Logs), keepLogLines)
	}
	wantFirst := fmt.Sprintf("line %d", maxLogLines+1-keepLogLines)
	if got.Logs[0] != wantFirst {
		t.Errorf("oldest surviving line = %q, want %q", got.Logs[0], wantFirst)
	}
	wantLast := fmt.Sprintf("line %d", maxLogLines)
	if got.Logs[len(got.Logs)-1] != wantLast {
		t.Errorf("newest line = %q, want %q", got.Logs[len(got.Logs)-1], wantLast)
	}
}

func TestRetentionEvictsFinishedJobs(t *testing.T) {
	r := NewRegistry(time.Hour)
	current := time.Now()
	r.now = func() time.Time { return current }

	r.Create(&Job{ID: "old", Done: true, FinishedAt: current.Add(-2 * time.Hour)})
	r.Create(&Job{ID: "fresh", Done: true, FinishedAt: current.Add(-time.Minute)})
	r.Create(&Job{ID: "running", Running: true})

	if _, ok := r.Get("old"); ok {
		t.Error("finished job past retention should be evicted")
	}
	if _, ok := r.Get("fresh"); !ok {
		t.Error("recently finished job must survive")
	}
	if _, ok := r.Get("running"); !ok {
		t.Error("running job must never be evicted")
	}
}

func TestListNewestFirst(t *testing.T) {
	r := NewRegistry(time.Hour)
	base := time.Now()
	r.Create(&Job{ID: "a", CreatedAt: base})
	r.Create(&Job{ID: "b", CreatedAt: base.Add(time.Second)})
	r.Create(&Job{ID: "c", CreatedAt: base.Add(2 * time.Second)})

	jobs := r.List()
	if len(jobs) != 3 {
		t.Fatalf("got %d jobs, want 3", len(jobs))
	}
	if jobs[0].ID != "c" || jobs[2].ID != "a" {
		t.Errorf("unexpected order: %s, %s, %s", jobs[0].ID, jobs[1].ID, jobs[2].ID)
	}
}
