package store_test

import (
	"context"
	"testing"

	"github.com/Nanguage/executor-engine/job"
	"github.com/Nanguage/executor-engine/store"
)

func pendingJob(t *testing.T, name string) *job.Job {
	t.Helper()
	j := job.New(name, func(_ context.Context, _ ...any) (any, error) { return nil, nil })
	if err := j.MarkPending(false); err != nil {
		t.Fatalf("mark pending: %v", err)
	}
	return j
}

func TestAddAndGet(t *testing.T) {
	s := store.New()
	j := pendingJob(t, "a")
	s.Add(j)

	got, ok := s.GetByID(j.ID())
	if !ok {
		t.Fatal("expected job to be found")
	}
	if got.ID() != j.ID() {
		t.Errorf("got job %s, want %s", got.ID(), j.ID())
	}

	status, ok := s.JobStatus(j.ID())
	if !ok || status != job.StatusPending {
		t.Errorf("JobStatus = %v, %v; want pending, true", status, ok)
	}
}

func TestMoveKeepsSingleBucket(t *testing.T) {
	s := store.New()
	j := pendingJob(t, "a")
	s.Add(j)

	if err := j.MarkRunning(); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	if err := s.Move(j, job.StatusPending, job.StatusRunning); err != nil {
		t.Fatalf("move: %v", err)
	}

	if n := s.Count(job.StatusPending); n != 0 {
		t.Errorf("pending count = %d, want 0", n)
	}
	if n := s.Count(job.StatusRunning); n != 1 {
		t.Errorf("running count = %d, want 1", n)
	}

	// The job must appear in exactly one bucket.
	total := 0
	for _, status := range store.Statuses {
		total += s.Count(status)
	}
	if total != 1 {
		t.Errorf("job appears in %d buckets, want 1", total)
	}
}

func TestMoveMissingJob(t *testing.T) {
	s := store.New()
	j := pendingJob(t, "a")
	if err := s.Move(j, job.StatusPending, job.StatusRunning); err == nil {
		t.Error("expected error moving a job the store does not hold")
	}
}

func TestInsertionOrder(t *testing.T) {
	s := store.New()
	names := []string{"first", "second", "third"}
	for _, name := range names {
		s.Add(pendingJob(t, name))
	}

	got := s.ByStatus(job.StatusPending)
	if len(got) != len(names) {
		t.Fatalf("got %d jobs, want %d", len(got), len(names))
	}
	for i, j := range got {
		if j.Name() != names[i] {
			t.Errorf("position %d: got %q, want %q", i, j.Name(), names[i])
		}
	}
}

func TestRemove(t *testing.T) {
	s := store.New()
	j := pendingJob(t, "a")
	s.Add(j)
	s.Remove(j.ID())

	if _, ok := s.GetByID(j.ID()); ok {
		t.Error("expected job to be gone after Remove")
	}
}

func TestClearNonActive(t *testing.T) {
	s := store.New()
	active := pendingJob(t, "active")
	finished := pendingJob(t, "finished")
	s.Add(active)
	s.Add(finished)

	if err := finished.MarkRunning(); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	if err := s.Move(finished, job.StatusPending, job.StatusRunning); err != nil {
		t.Fatalf("move: %v", err)
	}
	if err := finished.MarkDone(nil); err != nil {
		t.Fatalf("mark done: %v", err)
	}
	if err := s.Move(finished, job.StatusRunning, job.StatusDone); err != nil {
		t.Fatalf("move: %v", err)
	}

	s.ClearNonActive()

	if _, ok := s.GetByID(finished.ID()); ok {
		t.Error("done job should be cleared")
	}
	if _, ok := s.GetByID(active.ID()); !ok {
		t.Error("pending job should survive")
	}
}

func TestDiskSnapshotterRoundTrip(t *testing.T) {
	ctx := context.Background()
	disk, err := store.NewDisk(t.TempDir())
	if err != nil {
		t.Fatalf("new disk: %v", err)
	}

	j := job.New("snap", nil, job.WithArgs(1, "two"), job.WithKind(job.KindProcess))
	rec := store.Capture(j)

	if err := disk.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := disk.Load(ctx, rec.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Name != "snap" || loaded.Kind != string(job.KindProcess) {
		t.Errorf("loaded record mismatch: %+v", loaded)
	}
	if loaded.Status != string(job.StatusCreated) {
		t.Errorf("loaded status = %q, want created", loaded.Status)
	}

	ids, err := disk.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 1 || ids[0] != rec.ID {
		t.Errorf("List = %v, want [%s]", ids, rec.ID)
	}

	if err := disk.Delete(ctx, rec.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := disk.Load(ctx, rec.ID); err == nil {
		t.Error("expected load after delete to fail")
	}
}

func TestCaptureReplacesFutures(t *testing.T) {
	producer := job.New("p", nil)
	consumer := job.New("c", nil, job.WithArgs(producer.Future(), 4))

	rec := store.Capture(consumer)
	if len(rec.Args) == 0 {
		t.Fatal("expected args to serialize once futures are replaced")
	}
}
