package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/xraph/loom"
	"github.com/xraph/loom/id"
	"github.com/xraph/loom/run"
)

func newHandle(t *testing.T) (*Handle, *MemoryStore) {
	t.Helper()

	store := NewMemoryStore()
	m := NewManager(store)
	h := m.Handle(id.NewRunID())
	if err := h.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	return h, store
}

func TestInitializeCreatesPendingState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h, store := newHandle(t)

	st, err := h.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if st.Status != run.StatusPending {
		t.Errorf("Status = %q, want %q", st.Status, run.StatusPending)
	}
	if len(st.Active)+len(st.Completed)+len(st.Failed) != 0 {
		t.Error("fresh state has non-empty step sets")
	}

	// Fresh state is persisted before Initialize returns.
	if _, err := store.Load(ctx, h.RunID()); err != nil {
		t.Errorf("Load after Initialize: %v", err)
	}
}

func TestInitializeIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h, _ := newHandle(t)

	if err := h.SetStatus(ctx, run.StatusRunning); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if err := h.Initialize(ctx); err != nil {
		t.Fatalf("second Initialize: %v", err)
	}

	st, err := h.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if st.Status != run.StatusRunning {
		t.Errorf("re-initialize reset status to %q", st.Status)
	}
}

func TestInitializeResumesPersistedState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	runID := id.NewRunID()
	stepID := id.NewStepID()

	h := NewManager(store).Handle(runID)
	if err := h.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := h.SetStatus(ctx, run.StatusRunning); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if err := h.StartStep(ctx, stepID); err != nil {
		t.Fatalf("StartStep: %v", err)
	}

	// A cold start sees exactly what was last written.
	h2 := NewManager(store).Handle(runID)
	if err := h2.Initialize(ctx); err != nil {
		t.Fatalf("Initialize after restart: %v", err)
	}

	st, err := h2.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if st.Status != run.StatusRunning {
		t.Errorf("Status = %q, want %q", st.Status, run.StatusRunning)
	}
	if !contains(st.Active, stepID) {
		t.Error("active set lost across restart")
	}
}

func TestMutationsBeforeInitialize(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := NewManager(NewMemoryStore()).Handle(id.NewRunID())
	stepID := id.NewStepID()

	tests := []struct {
		name string
		op   func() error
	}{
		{"SetStatus", func() error { return h.SetStatus(ctx, run.StatusRunning) }},
		{"StartStep", func() error { return h.StartStep(ctx, stepID) }},
		{"CompleteStep", func() error { return h.CompleteStep(ctx, stepID) }},
		{"FailStep", func() error { return h.FailStep(ctx, stepID) }},
		{"SetMetadata", func() error { return h.SetMetadata(ctx, "k", "v") }},
	}
	for _, tt := range tests {
		if err := tt.op(); !errors.Is(err, loom.ErrNotInitialized) {
			t.Errorf("%s before Initialize: err = %v, want ErrNotInitialized", tt.name, err)
		}
	}

	if h.CanAcceptSteps() {
		t.Error("CanAcceptSteps() = true before Initialize")
	}
	if _, err := h.Snapshot(); !errors.Is(err, loom.ErrNotInitialized) {
		t.Errorf("Snapshot before Initialize: err = %v, want ErrNotInitialized", err)
	}
}

func TestStepSetMoves(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h, _ := newHandle(t)
	s1, s2 := id.NewStepID(), id.NewStepID()

	if err := h.StartStep(ctx, s1); err != nil {
		t.Fatalf("StartStep: %v", err)
	}
	if err := h.StartStep(ctx, s1); err != nil {
		t.Fatalf("StartStep again: %v", err)
	}
	if err := h.StartStep(ctx, s2); err != nil {
		t.Fatalf("StartStep s2: %v", err)
	}
	if err := h.CompleteStep(ctx, s1); err != nil {
		t.Fatalf("CompleteStep: %v", err)
	}
	if err := h.FailStep(ctx, s2); err != nil {
		t.Fatalf("FailStep: %v", err)
	}

	st, err := h.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	if len(st.Active) != 0 {
		t.Errorf("Active = %v, want empty", st.Active)
	}
	if !contains(st.Completed, s1) || len(st.Completed) != 1 {
		t.Errorf("Completed = %v, want exactly [%s]", st.Completed, s1)
	}
	if !contains(st.Failed, s2) || len(st.Failed) != 1 {
		t.Errorf("Failed = %v, want exactly [%s]", st.Failed, s2)
	}
}

func TestStepSetsStayDisjoint(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h, _ := newHandle(t)
	s := id.NewStepID()

	// Fail, retry, complete: the id must live in exactly one set at
	// every point.
	steps := []func() error{
		func() error { return h.StartStep(ctx, s) },
		func() error { return h.FailStep(ctx, s) },
		func() error { return h.StartStep(ctx, s) },
		func() error { return h.CompleteStep(ctx, s) },
	}
	for i, op := range steps {
		if err := op(); err != nil {
			t.Fatalf("op %d: %v", i, err)
		}

		st, err := h.Snapshot()
		if err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
		n := 0
		for _, set := range [][]id.StepID{st.Active, st.Completed, st.Failed} {
			if contains(set, s) {
				n++
			}
		}
		if n != 1 {
			t.Fatalf("after op %d: step in %d sets, want 1", i, n)
		}
	}
}

func TestCompleteUnknownStepIsPermitted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h, _ := newHandle(t)
	s := id.NewStepID()

	if err := h.CompleteStep(ctx, s); err != nil {
		t.Fatalf("CompleteStep of unknown step: %v", err)
	}

	st, _ := h.Snapshot()
	if !contains(st.Completed, s) {
		t.Error("unknown step not inserted into completed set")
	}
}

func TestCanAcceptSteps(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	tests := []struct {
		status run.Status
		want   bool
	}{
		{run.StatusPending, true},
		{run.StatusRunning, true},
		{run.StatusCompleted, false},
		{run.StatusFailed, false},
		{run.StatusCancelled, false},
		{run.StatusPaused, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(string(tt.status), func(t *testing.T) {
			t.Parallel()

			h, _ := newHandle(t)
			if err := h.SetStatus(ctx, tt.status); err != nil {
				t.Fatalf("SetStatus: %v", err)
			}
			if got := h.CanAcceptSteps(); got != tt.want {
				t.Errorf("CanAcceptSteps() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSetStatusRejectsUnknownValue(t *testing.T) {
	t.Parallel()

	h, _ := newHandle(t)
	if err := h.SetStatus(context.Background(), run.Status("sleeping")); err == nil {
		t.Error("SetStatus accepted an unknown status")
	}
}

func TestMetadata(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h, _ := newHandle(t)

	if _, ok := h.GetMetadata("region"); ok {
		t.Error("GetMetadata found value on fresh state")
	}

	if err := h.SetMetadata(ctx, "region", "eu-west"); err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}
	if v, ok := h.GetMetadata("region"); !ok || v != "eu-west" {
		t.Errorf("GetMetadata = (%q, %v), want (eu-west, true)", v, ok)
	}

	// The returned map is a copy.
	m := h.Metadata()
	m["region"] = "tampered"
	if v, _ := h.GetMetadata("region"); v != "eu-west" {
		t.Error("mutating the returned metadata map changed handle state")
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h, _ := newHandle(t)
	s := id.NewStepID()

	if err := h.StartStep(ctx, s); err != nil {
		t.Fatalf("StartStep: %v", err)
	}
	if err := h.SetMetadata(ctx, "k", "v"); err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}

	st, err := h.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	st.Active[0] = id.NewStepID()
	st.Metadata["k"] = "tampered"

	fresh, _ := h.Snapshot()
	if !contains(fresh.Active, s) {
		t.Error("mutating a snapshot changed the handle's active set")
	}
	if fresh.Metadata["k"] != "v" {
		t.Error("mutating a snapshot changed the handle's metadata")
	}
}

func TestEveryMutationWritesThrough(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h, store := newHandle(t)
	s := id.NewStepID()

	ops := []func() error{
		func() error { return h.SetStatus(ctx, run.StatusRunning) },
		func() error { return h.StartStep(ctx, s) },
		func() error { return h.CompleteStep(ctx, s) },
		func() error { return h.SetMetadata(ctx, "k", "v") },
	}
	for i, op := range ops {
		if err := op(); err != nil {
			t.Fatalf("op %d: %v", i, err)
		}

		want, err := h.Snapshot()
		if err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
		got, err := store.Load(ctx, h.RunID())
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if got.Status != want.Status ||
			len(got.Active) != len(want.Active) ||
			len(got.Completed) != len(want.Completed) ||
			len(got.Metadata) != len(want.Metadata) {
			t.Errorf("op %d: persisted state diverges from live state", i)
		}
	}
}

// failStore fails every Save after an initial grace count.
type failStore struct {
	Store
	saves    int
	failFrom int
}

func (f *failStore) Save(ctx context.Context, runID id.RunID, st *State) error {
	f.saves++
	if f.saves > f.failFrom {
		return errors.New("disk on fire")
	}

	return f.Store.Save(ctx, runID, st)
}

func TestFailedPersistLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &failStore{Store: NewMemoryStore(), failFrom: 1}
	h := NewManager(store).Handle(id.NewRunID())
	if err := h.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if err := h.SetStatus(ctx, run.StatusRunning); err == nil {
		t.Fatal("SetStatus succeeded with a failing store")
	}

	st, err := h.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if st.Status != run.StatusPending {
		t.Errorf("Status = %q after failed persist, want pending", st.Status)
	}
}

func TestManagerHandsOutOneHandlePerRun(t *testing.T) {
	t.Parallel()

	m := NewManager(NewMemoryStore())
	a, b := id.NewRunID(), id.NewRunID()

	if m.Handle(a) != m.Handle(a) {
		t.Error("same run id produced different handles")
	}
	if m.Handle(a) == m.Handle(b) {
		t.Error("different run ids share a handle")
	}

	if m.Len() != 2 {
		t.Errorf("Len() = %d, want 2", m.Len())
	}
	m.Release(a)
	if m.Len() != 1 {
		t.Errorf("Len() after Release = %d, want 1", m.Len())
	}
}

func TestConcurrentStepStartsSerialize(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h, _ := newHandle(t)

	const n = 32
	ids := make([]id.StepID, n)
	for i := range ids {
		ids[i] = id.NewStepID()
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.StartStep(ctx, ids[i]); err != nil {
				t.Errorf("StartStep: %v", err)
			}
		}()
	}
	wg.Wait()

	st, err := h.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(st.Active) != n {
		t.Errorf("Active has %d entries, want %d", len(st.Active), n)
	}
	for _, s := range ids {
		if !contains(st.Active, s) {
			t.Errorf("step %s missing from active set", s)
		}
	}
}
