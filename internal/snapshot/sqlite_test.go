package snapshot

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"trainhub/internal/job"
	"trainhub/internal/testutil"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.db")
	store, err := NewStore(path, discardLogger())
	if err != nil {
		t.Fatalf("Failed to open snapshot store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleJob(id string, status job.Status, createdAt time.Time) job.Job {
	return job.Job{
		ID:     id,
		Name:   "detector-" + id,
		Status: status,
		Config: job.Request{
			ID:       id,
			Training: job.TrainingConfig{Model: "yolov8n", Epochs: 100},
			Dataset:  "s3://bucket/dataset",
		},
		Progress:  job.Progress{Percentage: 40, CurrentStep: 40, TotalSteps: 100, Phase: job.PhaseTraining},
		CreatedAt: createdAt,
	}
}

func TestStore_SaveAndLoad(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	base := time.Now().UTC().Truncate(time.Second)
	jobs := []job.Job{
		sampleJob("job-a", job.StatusQueued, base),
		sampleJob("job-b", job.StatusTraining, base.Add(time.Second)),
	}

	if err := store.Save(jobs); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(loaded) != 2 {
		t.Fatalf("Expected 2 jobs, got %d", len(loaded))
	}

	// Oldest first, so queued work is re-admitted in submission order.
	if loaded[0].ID != "job-a" || loaded[1].ID != "job-b" {
		t.Errorf("Expected jobs in creation order, got %s then %s", loaded[0].ID, loaded[1].ID)
	}

	if loaded[1].Status != job.StatusTraining {
		t.Errorf("Expected status %s, got %s", job.StatusTraining, loaded[1].Status)
	}
	if loaded[0].Config.Training.Model != "yolov8n" {
		t.Errorf("Expected config to round-trip, got model %q", loaded[0].Config.Training.Model)
	}
	if loaded[0].Progress.CurrentStep != 40 {
		t.Errorf("Expected progress to round-trip, got step %d", loaded[0].Progress.CurrentStep)
	}
}

func TestStore_SaveReplacesPrevious(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	now := time.Now().UTC()
	if err := store.Save([]job.Job{sampleJob("old", job.StatusCompleted, now)}); err != nil {
		t.Fatalf("First save failed: %v", err)
	}
	if err := store.Save([]job.Job{sampleJob("new", job.StatusQueued, now)}); err != nil {
		t.Fatalf("Second save failed: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(loaded) != 1 || loaded[0].ID != "new" {
		t.Fatalf("Expected only the latest snapshot, got %d jobs", len(loaded))
	}
}

func TestStore_LoadEmpty(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded) != 0 {
		t.Errorf("Expected no jobs, got %d", len(loaded))
	}
}

type staticSource struct {
	jobs []job.Job
}

func (s *staticSource) Snapshot() []job.Job { return s.jobs }

func TestSnapshotter_PeriodicSave(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	source := &staticSource{jobs: []job.Job{sampleJob("periodic", job.StatusQueued, time.Now().UTC())}}
	sn := NewSnapshotter(store, source, 10*time.Millisecond, discardLogger())
	go sn.Run()
	defer sn.Close(context.Background())

	testutil.MustWaitFor(t, func() bool {
		loaded, err := store.Load()
		return err == nil && len(loaded) == 1
	})
}

func TestSnapshotter_CloseWritesFinalSnapshot(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	// Interval far beyond the test's lifetime; only Close can write.
	source := &staticSource{jobs: []job.Job{sampleJob("final", job.StatusCompleted, time.Now().UTC())}}
	sn := NewSnapshotter(store, source, time.Hour, discardLogger())
	go sn.Run()

	if err := sn.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded) != 1 || loaded[0].ID != "final" {
		t.Fatalf("Expected final snapshot with 1 job, got %d", len(loaded))
	}
}
