package job

import (
	"errors"
	"testing"
	"time"

	"trainhub/internal/apperrors"
)

func newStoreWith(t *testing.T, ids ...string) *Store {
	t.Helper()
	s := NewStore()
	base := time.Now()
	for i, id := range ids {
		j := &Job{ID: id, Status: StatusQueued, CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := s.Create(j); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	return s
}

func TestStoreCreateDuplicate(t *testing.T) {
	t.Parallel()

	s := newStoreWith(t, "a")
	err := s.Create(&Job{ID: "a", Status: StatusQueued})
	if !errors.Is(err, apperrors.ErrConflict) {
		t.Errorf("error = %v, want ErrConflict", err)
	}
}

func TestStoreGetReturnsSnapshot(t *testing.T) {
	t.Parallel()

	s := newStoreWith(t, "a")
	got, err := s.Get("a")
	if err != nil {
		t.Fatal(err)
	}
	got.Status = StatusFailed
	got2, _ := s.Get("a")
	if got2.Status != StatusQueued {
		t.Error("Get exposed internal state")
	}

	if _, err := s.Get("missing"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestStoreListOrderAndFilter(t *testing.T) {
	t.Parallel()

	s := newStoreWith(t, "a", "b", "c")
	if _, err := s.Transition("c", StatusTraining, nil); err != nil {
		t.Fatal(err)
	}

	all := s.List(ListFilter{})
	if len(all) != 3 {
		t.Fatalf("len = %d", len(all))
	}
	// Newest first.
	if all[0].ID != "c" || all[2].ID != "a" {
		t.Errorf("order = %s,%s,%s", all[0].ID, all[1].ID, all[2].ID)
	}

	queued := s.List(ListFilter{Status: StatusQueued})
	if len(queued) != 2 {
		t.Errorf("queued len = %d", len(queued))
	}

	page := s.List(ListFilter{Limit: 1, Offset: 1})
	if len(page) != 1 || page[0].ID != "b" {
		t.Errorf("page = %+v", page)
	}
}

func TestStoreTransitionEnforcesEdges(t *testing.T) {
	t.Parallel()

	s := newStoreWith(t, "a")
	if _, err := s.Transition("a", StatusCompleted, nil); !errors.Is(err, apperrors.ErrConflict) {
		t.Errorf("queued -> completed error = %v, want ErrConflict", err)
	}
	if _, err := s.Transition("a", StatusTraining, func(j *Job) {
		now := time.Now()
		j.StartedAt = &now
	}); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get("a")
	if got.Status != StatusTraining || got.StartedAt == nil {
		t.Errorf("job = %+v", got)
	}
}

func TestStoreUpdateRejectsTerminal(t *testing.T) {
	t.Parallel()

	s := newStoreWith(t, "a")
	if _, err := s.Transition("a", StatusTraining, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Transition("a", StatusCompleted, nil); err != nil {
		t.Fatal(err)
	}
	_, err := s.Update("a", func(j *Job) { j.Progress.Percentage = 10 })
	if !errors.Is(err, apperrors.ErrConflict) {
		t.Errorf("error = %v, want ErrConflict", err)
	}

	// Callback exhaustion is delivery metadata and stays writable.
	s.MarkCallbackExhausted("a")
	got, _ := s.Get("a")
	if !got.CallbackExhausted {
		t.Error("CallbackExhausted not set")
	}
}

func TestStoreCountByStatus(t *testing.T) {
	t.Parallel()

	s := newStoreWith(t, "a", "b")
	if _, err := s.Transition("b", StatusTraining, nil); err != nil {
		t.Fatal(err)
	}
	counts := s.CountByStatus()
	if counts[StatusQueued] != 1 || counts[StatusTraining] != 1 {
		t.Errorf("counts = %v", counts)
	}
}
