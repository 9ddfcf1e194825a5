package jobs

import (
	"context"
	"testing"
	"time"
)

func newTestController(t *testing.T) (*Controller, *MemoryStore, *MemoryRegistry) {
	t.Helper()
	store := NewMemoryStore()
	registry := NewMemoryRegistry(testResolver())
	c := NewController(store, registry, testResolver(), DefaultConfig(), nil)
	return c, store, registry
}

func TestControllerScheduleRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, store, registry := newTestController(t)

	j := validIntervalJob()
	ok, err := c.Schedule(ctx, j)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if !ok {
		t.Fatal("eligible job must be scheduled")
	}
	if j.TaskID == "" {
		t.Fatal("scheduling must record the task id")
	}

	pending, err := registry.Exists(ctx, j.TaskID)
	if err != nil || !pending {
		t.Fatalf("queue entry missing: %v %v", pending, err)
	}

	saved, err := store.Get(ctx, j.Name)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if saved.TaskID != j.TaskID {
		t.Fatalf("persisted task id %q does not match %q", saved.TaskID, j.TaskID)
	}
}

func TestControllerScheduleIneligible(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestController(t)

	j := validIntervalJob()
	j.Enabled = false
	ok, err := c.Schedule(ctx, j)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if ok || j.TaskID != "" {
		t.Fatal("disabled job must not be scheduled")
	}

	j.Enabled = true
	j.TaskID = "already-pending"
	ok, err = c.Schedule(ctx, j)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if ok {
		t.Fatal("job with a pending entry must not be scheduled twice")
	}
}

func TestControllerScheduleExhausted(t *testing.T) {
	ctx := context.Background()
	c, store, _ := newTestController(t)

	j := intervalJob(time.Now().Add(-20*time.Hour), Repeats(10))
	j.Queue = "default"
	if err := store.Save(ctx, j); err != nil {
		t.Fatalf("save: %v", err)
	}

	ok, err := c.Schedule(ctx, j)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if ok {
		t.Fatal("exhausted job must not be scheduled")
	}
	if j.TaskID != "" {
		t.Fatal("exhausted job must not hold a task id")
	}
}

func TestControllerUnscheduleIdempotent(t *testing.T) {
	ctx := context.Background()
	c, store, registry := newTestController(t)

	j := validIntervalJob()
	if _, err := c.Schedule(ctx, j); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	taskID := j.TaskID

	ok, err := c.Unschedule(ctx, j)
	if err != nil || !ok {
		t.Fatalf("unschedule: %v %v", ok, err)
	}
	if pending, _ := registry.Exists(ctx, taskID); pending {
		t.Fatal("queue entry must be cancelled")
	}
	saved, _ := store.Get(ctx, j.Name)
	if saved.TaskID != "" {
		t.Fatal("persisted task id must be cleared")
	}

	// Unscheduling a job with no pending entry reports success as well.
	ok, err = c.Unschedule(ctx, j)
	if err != nil || !ok {
		t.Fatalf("second unschedule: %v %v", ok, err)
	}
}

func TestControllerSaveSchedulesEnabled(t *testing.T) {
	ctx := context.Background()
	c, store, _ := newTestController(t)

	j := validIntervalJob()
	if err := c.Save(ctx, j); err != nil {
		t.Fatalf("save: %v", err)
	}
	if j.TaskID == "" {
		t.Fatal("saving an enabled job must schedule it")
	}

	j.Enabled = false
	if err := c.Save(ctx, j); err != nil {
		t.Fatalf("save: %v", err)
	}
	if j.TaskID != "" {
		t.Fatal("saving a disabled job must unschedule it")
	}
	saved, _ := store.Get(ctx, j.Name)
	if saved.Enabled {
		t.Fatal("disabled flag must be persisted")
	}
}

func TestControllerSaveRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	c, store, _ := newTestController(t)

	j := validIntervalJob()
	j.Callable = "tasks.missing"
	if err := c.Save(ctx, j); err == nil {
		t.Fatal("invalid job must not be saved")
	}
	if _, err := store.Get(ctx, j.Name); err == nil {
		t.Fatal("invalid job must not reach the store")
	}
}

func TestControllerRunSyncReschedulesWithFreshTaskID(t *testing.T) {
	ctx := context.Background()
	c, store, registry := newTestController(t)

	j := validIntervalJob()
	j.Repeat = Repeats(2)
	if err := c.Save(ctx, j); err != nil {
		t.Fatalf("save: %v", err)
	}
	first := j.TaskID

	if err := registry.RunSync(ctx, first); err != nil {
		t.Fatalf("run: %v", err)
	}

	saved, err := store.Get(ctx, j.Name)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if saved.TaskID == "" {
		t.Fatal("job with repeats left must be rescheduled")
	}
	if saved.TaskID == first {
		t.Fatal("rescheduling must mint a fresh task id")
	}
	if saved.Repeat == nil || *saved.Repeat != 1 {
		t.Fatalf("want 1 remaining repeat, got %v", saved.Repeat)
	}
	if pending, _ := registry.Exists(ctx, saved.TaskID); !pending {
		t.Fatal("fresh entry must be pending")
	}
}

func TestControllerRunSyncExhaustsOneOff(t *testing.T) {
	ctx := context.Background()
	c, store, registry := newTestController(t)

	j := &Job{
		Name:     "once",
		Kind:     KindOneOff,
		Queue:    "default",
		Callable: "tasks.noop",
		Enabled:  true,
		FireAt:   time.Now().Add(time.Hour),
	}
	if err := c.Save(ctx, j); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := registry.RunSync(ctx, j.TaskID); err != nil {
		t.Fatalf("run: %v", err)
	}

	saved, _ := store.Get(ctx, j.Name)
	if saved == nil {
		t.Fatal("exhausted job must keep its record")
	}
	if saved.TaskID != "" {
		t.Fatal("exhausted job must not hold a task id")
	}
}

func TestControllerRunSyncLastRepeat(t *testing.T) {
	ctx := context.Background()
	c, store, registry := newTestController(t)

	// A zero repeat count still owes one last fire; running it spends the job.
	j := validIntervalJob()
	j.Repeat = Repeats(0)
	if err := c.Save(ctx, j); err != nil {
		t.Fatalf("save: %v", err)
	}
	if j.TaskID == "" {
		t.Fatal("zero remaining repeats must still schedule the last fire")
	}

	if err := registry.RunSync(ctx, j.TaskID); err != nil {
		t.Fatalf("run: %v", err)
	}
	saved, _ := store.Get(ctx, j.Name)
	if saved.TaskID != "" {
		t.Fatal("job must be spent after its last fire")
	}
}

func TestControllerScheduleAllHealsStaleTaskID(t *testing.T) {
	ctx := context.Background()
	c, store, registry := newTestController(t)

	j := validIntervalJob()
	j.TaskID = "vanished-entry"
	if err := store.Save(ctx, j); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := c.ScheduleAll(ctx); err != nil {
		t.Fatalf("schedule all: %v", err)
	}

	saved, _ := store.Get(ctx, j.Name)
	if saved.TaskID == "" || saved.TaskID == "vanished-entry" {
		t.Fatalf("stale id must be replaced, got %q", saved.TaskID)
	}
	if pending, _ := registry.Exists(ctx, saved.TaskID); !pending {
		t.Fatal("healed job must have a pending entry")
	}
}

func TestControllerScheduleAllSkipsPending(t *testing.T) {
	ctx := context.Background()
	c, store, _ := newTestController(t)

	j := validIntervalJob()
	if err := c.Save(ctx, j); err != nil {
		t.Fatalf("save: %v", err)
	}
	first := j.TaskID

	if err := c.ScheduleAll(ctx); err != nil {
		t.Fatalf("schedule all: %v", err)
	}
	saved, _ := store.Get(ctx, j.Name)
	if saved.TaskID != first {
		t.Fatal("a job with a live entry must not be resubmitted")
	}
}

func TestControllerRunNowLeavesScheduleAlone(t *testing.T) {
	ctx := context.Background()
	c, store, registry := newTestController(t)

	j := validIntervalJob()
	if err := c.Save(ctx, j); err != nil {
		t.Fatalf("save: %v", err)
	}
	scheduled := j.TaskID

	id, err := c.RunNow(ctx, j)
	if err != nil {
		t.Fatalf("run now: %v", err)
	}
	if id == scheduled {
		t.Fatal("immediate run must get its own task id")
	}
	if pending, _ := registry.Exists(ctx, scheduled); !pending {
		t.Fatal("scheduled entry must survive an immediate run")
	}
	saved, _ := store.Get(ctx, j.Name)
	if saved.TaskID != scheduled {
		t.Fatal("immediate run must not touch the recorded task id")
	}
}

func TestControllerRunNowExecutionLeavesRecurrenceAlone(t *testing.T) {
	ctx := context.Background()
	c, store, registry := newTestController(t)

	j := validIntervalJob()
	j.Repeat = Repeats(5)
	if err := c.Save(ctx, j); err != nil {
		t.Fatalf("save: %v", err)
	}
	scheduled := j.TaskID
	fireAt := j.FireAt

	adhoc, err := c.RunNow(ctx, j)
	if err != nil {
		t.Fatalf("run now: %v", err)
	}
	if err := registry.RunSync(ctx, adhoc); err != nil {
		t.Fatalf("run: %v", err)
	}

	pending := registry.Pending()
	if len(pending) != 1 || pending[0] != scheduled {
		t.Fatalf("scheduled entry must be the only pending one, got %v", pending)
	}
	saved, err := store.Get(ctx, j.Name)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if saved.TaskID != scheduled {
		t.Fatalf("recorded task id must survive an ad-hoc run, got %q", saved.TaskID)
	}
	if saved.Repeat == nil || *saved.Repeat != 5 {
		t.Fatalf("ad-hoc run must not consume a repeat, got %v", saved.Repeat)
	}
	if !saved.FireAt.Equal(fireAt) {
		t.Fatalf("ad-hoc run must not move the fire time, got %v", saved.FireAt)
	}
}

func TestControllerReconcileIgnoresSupersededEntry(t *testing.T) {
	ctx := context.Background()
	c, store, _ := newTestController(t)

	j := validIntervalJob()
	j.Repeat = Repeats(3)
	if err := c.Save(ctx, j); err != nil {
		t.Fatalf("save: %v", err)
	}

	// A completion report for an id the record no longer holds is a no-op.
	if err := c.ReconcileAfterExecution(ctx, j.Name, "some-older-entry", time.Now()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	saved, _ := store.Get(ctx, j.Name)
	if saved.TaskID != j.TaskID {
		t.Fatalf("task id must be untouched, got %q", saved.TaskID)
	}
	if saved.Repeat == nil || *saved.Repeat != 3 {
		t.Fatalf("repeat must be untouched, got %v", saved.Repeat)
	}
}

func TestControllerReconcilePersistsExhaustedRecurrence(t *testing.T) {
	ctx := context.Background()
	_, store, registry := newTestController(t)

	// One repeat left, ten intervals behind: the post-run advance cannot
	// catch up, so reconciliation ends in exhaustion and the decremented
	// count must still land in the store.
	j := intervalJob(time.Now().Add(-10*time.Hour), Repeats(1))
	id, err := registry.Submit(ctx, Task{JobName: j.Name, Callable: "tasks.noop"}, time.Now(), SubmitOptions{})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	j.TaskID = id
	if err := store.Save(ctx, j); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := registry.RunSync(ctx, id); err != nil {
		t.Fatalf("run: %v", err)
	}

	saved, err := store.Get(ctx, j.Name)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if saved.TaskID != "" {
		t.Fatalf("spent job must not hold a task id, got %q", saved.TaskID)
	}
	if saved.Repeat == nil || *saved.Repeat != 0 {
		t.Fatalf("want persisted remaining count 0, got %v", saved.Repeat)
	}
}

// interceptRegistry triggers a one-shot callback on the first Exists call, to
// interleave work between the reconciliation pass's unlocked check and its
// locked reschedule.
type interceptRegistry struct {
	*MemoryRegistry
	onExists func(taskID string)
}

func (r *interceptRegistry) Exists(ctx context.Context, taskID string) (bool, error) {
	if r.onExists != nil {
		fn := r.onExists
		r.onExists = nil
		fn(taskID)
	}
	return r.MemoryRegistry.Exists(ctx, taskID)
}

func TestControllerScheduleAllRechecksUnderLock(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	inner := NewMemoryRegistry(testResolver())
	registry := &interceptRegistry{MemoryRegistry: inner}
	c := NewController(store, registry, testResolver(), DefaultConfig(), nil)

	j := validIntervalJob()
	j.TaskID = "consumed-at-run-start"
	if err := store.Save(ctx, j); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Between the pass's pending check and the lock, a completion hook
	// re-submits the job and records the new id.
	var resubmitted string
	registry.onExists = func(string) {
		id, err := inner.Submit(ctx, Task{JobName: j.Name, Callable: "tasks.noop"}, time.Now().Add(time.Hour), SubmitOptions{})
		if err != nil {
			t.Errorf("submit: %v", err)
			return
		}
		resubmitted = id
		if err := store.UpdateTaskID(ctx, j.Name, id); err != nil {
			t.Errorf("update task id: %v", err)
		}
	}

	if err := c.ScheduleAll(ctx); err != nil {
		t.Fatalf("schedule all: %v", err)
	}

	pending := inner.Pending()
	if len(pending) != 1 || pending[0] != resubmitted {
		t.Fatalf("the re-submitted entry must be the only pending one, got %v", pending)
	}
	saved, _ := store.Get(ctx, j.Name)
	if saved.TaskID != resubmitted {
		t.Fatalf("pass must not clobber the hook's task id, got %q", saved.TaskID)
	}
}

func TestControllerEnableDisable(t *testing.T) {
	ctx := context.Background()
	c, store, _ := newTestController(t)

	a := validIntervalJob()
	a.Name = "a"
	a.Enabled = false
	b := validIntervalJob()
	b.Name = "b"
	b.Enabled = false
	for _, j := range []*Job{a, b} {
		if err := store.Save(ctx, j); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	if err := c.Enable(ctx, "a", "b"); err != nil {
		t.Fatalf("enable: %v", err)
	}
	for _, name := range []string{"a", "b"} {
		saved, _ := store.Get(ctx, name)
		if !saved.Enabled || saved.TaskID == "" {
			t.Fatalf("job %s must be enabled and scheduled, got %+v", name, saved)
		}
	}

	if err := c.Disable(ctx, "a"); err != nil {
		t.Fatalf("disable: %v", err)
	}
	saved, _ := store.Get(ctx, "a")
	if saved.Enabled || saved.TaskID != "" {
		t.Fatalf("job a must be disabled and unscheduled, got %+v", saved)
	}
}

func TestControllerDelete(t *testing.T) {
	ctx := context.Background()
	c, store, registry := newTestController(t)

	j := validIntervalJob()
	if err := c.Save(ctx, j); err != nil {
		t.Fatalf("save: %v", err)
	}
	taskID := j.TaskID

	if err := c.Delete(ctx, j); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if pending, _ := registry.Exists(ctx, taskID); pending {
		t.Fatal("deleting a job must cancel its entry")
	}
	if _, err := store.Get(ctx, j.Name); err == nil {
		t.Fatal("record must be gone")
	}
}

func TestControllerIsScheduled(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestController(t)

	j := validIntervalJob()
	ok, err := c.IsScheduled(ctx, j)
	if err != nil || ok {
		t.Fatalf("job without a task id must not read as scheduled: %v %v", ok, err)
	}

	if _, err := c.Schedule(ctx, j); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	ok, err = c.IsScheduled(ctx, j)
	if err != nil || !ok {
		t.Fatalf("scheduled job must read as scheduled: %v %v", ok, err)
	}

	j.TaskID = "stale"
	ok, err = c.IsScheduled(ctx, j)
	if err != nil || ok {
		t.Fatalf("stale id must read as not scheduled: %v %v", ok, err)
	}
}

func TestControllerTaskMeta(t *testing.T) {
	ctx := context.Background()
	c, _, registry := newTestController(t)

	j := validIntervalJob() // 15 minutes
	j.Repeat = Repeats(4)
	if _, err := c.Schedule(ctx, j); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	pending := registry.Pending()
	if len(pending) != 1 {
		t.Fatalf("want one pending entry, got %d", len(pending))
	}
	registry.mutex.RLock()
	entry := registry.entries[pending[0]]
	registry.mutex.RUnlock()
	if entry.Task.Meta.Interval != 900 {
		t.Fatalf("want interval 900 seconds in meta, got %v", entry.Task.Meta.Interval)
	}
	if entry.Task.Meta.Repeat == nil || *entry.Task.Meta.Repeat != 4 {
		t.Fatalf("want repeat 4 in meta, got %v", entry.Task.Meta.Repeat)
	}
}
