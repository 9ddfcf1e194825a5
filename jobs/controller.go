package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ProfBIT-develop/rqscheduler/observability"
)

// Controller is the single write path that keeps a job record and its
// delayed-queue entry in lockstep. Every read-then-write of a job's task id
// runs under that job's lock, so at most one pending entry exists per job.
type Controller struct {
	store    JobStore
	registry TaskRegistry
	resolver CallableResolver
	config   Config
	logger   observability.Logger
	locks    sync.Map // job name -> *sync.Mutex
	now      func() time.Time
}

// NewController creates a controller and registers it as the registry's
// completion hook, so executions drive post-run rescheduling.
func NewController(store JobStore, registry TaskRegistry, resolver CallableResolver, config Config, logger observability.Logger) *Controller {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	c := &Controller{
		store:    store,
		registry: registry,
		resolver: resolver,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
	registry.SetCompletionHook(c.taskCompleted)
	return c
}

func (c *Controller) jobLock(name string) *sync.Mutex {
	mu, _ := c.locks.LoadOrStore(name, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Schedule submits the job to the delayed queue if it is due. It returns
// false without side effects when the job is ineligible, and false after
// clearing the task id when the recurrence is exhausted.
func (c *Controller) Schedule(ctx context.Context, job *Job) (bool, error) {
	mu := c.jobLock(job.Name)
	mu.Lock()
	defer mu.Unlock()
	return c.schedule(ctx, job)
}

// schedule is Schedule without the lock; callers must hold the job's lock.
func (c *Controller) schedule(ctx context.Context, job *Job) (bool, error) {
	if !job.IsEligibleToSchedule() {
		return false, nil
	}

	occ, err := NextOccurrence(job, c.now())
	if err != nil {
		return false, err
	}
	if occ.Exhausted {
		// Persist the whole record, not just the cleared id: the caller
		// may have advanced FireAt and Repeat before exhaustion was
		// detected, and the stored remaining count must reflect that.
		job.TaskID = ""
		job.Repeat = occ.Repeat
		if err := c.store.Save(ctx, job); err != nil {
			return false, fmt.Errorf("failed to persist exhausted job %q: %w", job.Name, err)
		}
		return false, nil
	}

	if job.Kind != KindCron {
		job.FireAt = occ.FireAt
	}
	job.Repeat = occ.Repeat

	task, err := c.buildTask(job)
	if err != nil {
		return false, err
	}

	taskID, err := c.registry.Submit(ctx, task, occ.FireAt, c.submitOptions(job))
	if err != nil {
		// The job's task id stays empty, so the next daemon pass retries.
		return false, fmt.Errorf("failed to submit job %q: %w", job.Name, err)
	}

	job.TaskID = taskID
	if err := c.store.Save(ctx, job); err != nil {
		// Undo the submission rather than leave an entry no record owns.
		if cancelErr := c.registry.Cancel(ctx, taskID); cancelErr != nil && !errors.Is(cancelErr, ErrTaskNotFound) {
			c.logger.Error("failed to cancel orphaned task", cancelErr,
				observability.NewField("job", job.Name),
				observability.NewField("task_id", taskID))
		}
		job.TaskID = ""
		return false, fmt.Errorf("failed to persist job %q: %w", job.Name, err)
	}
	return true, nil
}

// Unschedule cancels any pending queue entry and clears the task id. It is
// idempotent and always reports true.
func (c *Controller) Unschedule(ctx context.Context, job *Job) (bool, error) {
	mu := c.jobLock(job.Name)
	mu.Lock()
	defer mu.Unlock()
	return c.unschedule(ctx, job)
}

func (c *Controller) unschedule(ctx context.Context, job *Job) (bool, error) {
	if job.TaskID != "" {
		if err := c.registry.Cancel(ctx, job.TaskID); err != nil && !errors.Is(err, ErrTaskNotFound) {
			return true, fmt.Errorf("failed to cancel task for job %q: %w", job.Name, err)
		}
	}
	job.TaskID = ""
	if err := c.store.UpdateTaskID(ctx, job.Name, ""); err != nil && !errors.Is(err, ErrJobNotFound) {
		return true, err
	}
	return true, nil
}

// IsScheduled reports whether the job currently has a pending queue entry.
// A stale task id whose entry is gone reads as not scheduled.
func (c *Controller) IsScheduled(ctx context.Context, job *Job) (bool, error) {
	if job.TaskID == "" {
		return false, nil
	}
	return c.registry.Exists(ctx, job.TaskID)
}

// Save validates and persists the job, then schedules it when enabled or
// unschedules it when disabled.
func (c *Controller) Save(ctx context.Context, job *Job) error {
	if err := job.Validate(c.resolver, c.config); err != nil {
		return err
	}
	if err := c.store.Save(ctx, job); err != nil {
		return fmt.Errorf("failed to persist job %q: %w", job.Name, err)
	}
	if job.Enabled {
		_, err := c.Schedule(ctx, job)
		return err
	}
	_, err := c.Unschedule(ctx, job)
	return err
}

// Delete unschedules the job and removes it from storage; argument records
// are removed with it.
func (c *Controller) Delete(ctx context.Context, job *Job) error {
	mu := c.jobLock(job.Name)
	mu.Lock()
	defer mu.Unlock()

	if _, err := c.unschedule(ctx, job); err != nil {
		return err
	}
	if err := c.store.Delete(ctx, job.Name); err != nil && !errors.Is(err, ErrJobNotFound) {
		return fmt.Errorf("failed to delete job %q: %w", job.Name, err)
	}
	return nil
}

// Enable flips the named jobs on and schedules each.
func (c *Controller) Enable(ctx context.Context, names ...string) error {
	return c.setEnabled(ctx, true, names)
}

// Disable flips the named jobs off and unschedules each.
func (c *Controller) Disable(ctx context.Context, names ...string) error {
	return c.setEnabled(ctx, false, names)
}

func (c *Controller) setEnabled(ctx context.Context, enabled bool, names []string) error {
	var firstErr error
	for _, name := range names {
		job, err := c.store.Get(ctx, name)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("job %q: %w", name, err)
			}
			continue
		}
		job.Enabled = enabled
		if err := c.Save(ctx, job); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// RunNow submits an immediate zero-delay task from the job's current
// callable and arguments, independent of its recurrence state. The pending
// scheduled entry, if any, is left untouched, and completion of the ad-hoc
// run does not consume a repeat or move the fire time.
func (c *Controller) RunNow(ctx context.Context, job *Job) (string, error) {
	task, err := c.buildTask(job)
	if err != nil {
		return "", err
	}
	return c.registry.Submit(ctx, task, c.now(), c.submitOptions(job))
}

// ScheduleAll performs one reconciliation pass: every enabled job whose
// queue entry is missing (never scheduled, cancelled out-of-band, or edited
// while enqueued) is re-derived and re-submitted. Failures are logged per
// job and the pass continues.
func (c *Controller) ScheduleAll(ctx context.Context) error {
	enabled, err := c.store.List(ctx, EnabledOnly())
	if err != nil {
		return fmt.Errorf("failed to list enabled jobs: %w", err)
	}

	for _, job := range enabled {
		if err := ctx.Err(); err != nil {
			return err
		}
		// Unlocked fast path on the listing snapshot; jobs with a live
		// entry are skipped without taking their lock.
		scheduled, err := c.IsScheduled(ctx, job)
		if err != nil {
			c.logger.Error("failed to check job schedule state", err,
				observability.NewField("job", job.Name))
			continue
		}
		if scheduled {
			continue
		}

		mu := c.jobLock(job.Name)
		mu.Lock()
		err = c.reschedule(ctx, job.Name)
		mu.Unlock()
		if err != nil {
			c.logger.Error("failed to schedule job", err,
				observability.NewField("job", job.Name))
		}
	}
	return nil
}

// reschedule re-reads the job and re-checks its queue entry under the lock.
// A completion hook may have re-submitted between the unlocked check and
// here; deciding on the fresh record keeps its entry from being orphaned and
// its fields from being overwritten by a stale snapshot. Callers must hold
// the job's lock.
func (c *Controller) reschedule(ctx context.Context, name string) error {
	job, err := c.store.Get(ctx, name)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			return nil
		}
		return err
	}
	scheduled, err := c.IsScheduled(ctx, job)
	if err != nil {
		return err
	}
	if scheduled || !job.Enabled {
		return nil
	}
	// The entry is gone, so the stored id no longer means "pending".
	job.TaskID = ""
	_, err = c.schedule(ctx, job)
	return err
}

// ReconcileAfterExecution recomputes the job's next occurrence after the
// entry taskID finished at completedAt. Exhausted jobs keep their record but
// lose their task id; live jobs are re-submitted under a fresh id. Runs whose
// id is not the job's recorded one (ad-hoc immediate runs, superseded
// entries) never advance recurrence state.
func (c *Controller) ReconcileAfterExecution(ctx context.Context, name string, taskID string, completedAt time.Time) error {
	mu := c.jobLock(name)
	mu.Lock()
	defer mu.Unlock()

	job, err := c.store.Get(ctx, name)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			return nil // deleted while running
		}
		return err
	}
	if job.TaskID != taskID {
		return nil
	}

	occ, err := AfterExecution(job, completedAt)
	if err != nil {
		return err
	}

	job.TaskID = ""
	if occ.Exhausted {
		job.Repeat = occ.Repeat
		if err := c.store.Save(ctx, job); err != nil {
			return fmt.Errorf("failed to persist exhausted job %q: %w", name, err)
		}
		return nil
	}

	job.FireAt = occ.FireAt
	job.Repeat = occ.Repeat
	_, err = c.schedule(ctx, job)
	return err
}

// taskCompleted is the registry completion hook.
func (c *Controller) taskCompleted(ctx context.Context, taskID string, task Task, completedAt time.Time) {
	if err := c.ReconcileAfterExecution(ctx, task.JobName, taskID, completedAt); err != nil {
		c.logger.Error("failed to reconcile job after execution", err,
			observability.NewField("job", task.JobName))
	}
}

func (c *Controller) buildTask(job *Job) (Task, error) {
	args, err := job.ArgValues()
	if err != nil {
		return Task{}, fmt.Errorf("job %q: %w", job.Name, err)
	}
	kwargs, err := job.KwargValues()
	if err != nil {
		return Task{}, fmt.Errorf("job %q: %w", job.Name, err)
	}

	task := Task{
		JobName:  job.Name,
		Queue:    job.Queue,
		Callable: job.Callable,
		Args:     args,
		Kwargs:   kwargs,
	}
	switch job.Kind {
	case KindInterval:
		task.Meta = TaskMeta{Interval: job.IntervalSeconds(), Repeat: job.Repeat}
	case KindCron:
		task.Meta = TaskMeta{Repeat: job.Repeat}
	}
	return task, nil
}

func (c *Controller) submitOptions(job *Job) SubmitOptions {
	opts := SubmitOptions{
		Timeout:   job.Timeout,
		ResultTTL: job.ResultTTL,
		AtFront:   job.AtFront,
	}
	if opts.Timeout == 0 {
		opts.Timeout = c.config.DefaultTimeout
	}
	if opts.ResultTTL == 0 {
		opts.ResultTTL = c.config.DefaultResultTTL
	}
	return opts
}
