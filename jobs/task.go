package jobs

import (
	"context"
	"time"
)

// TaskMeta travels with a recurring task so workers and admins can see the
// recurrence the task was submitted under.
type TaskMeta struct {
	// Interval is the spacing in seconds, for interval jobs.
	Interval float64 `json:"interval,omitempty"`

	// Repeat is the remaining repeat count at submission time.
	Repeat *int64 `json:"repeat,omitempty"`
}

// Task is the payload submitted to the delayed-task registry: a snapshot of
// the job's callable and resolved arguments at scheduling time.
type Task struct {
	// JobName identifies the owning job so an execution can be reconciled
	// back to its record.
	JobName string `json:"job_name"`

	Queue    string              `json:"queue"`
	Callable string              `json:"callable"`
	Args     []ArgValue          `json:"args,omitempty"`
	Kwargs   map[string]ArgValue `json:"kwargs,omitempty"`
	Meta     TaskMeta            `json:"meta"`
}

// SubmitOptions are pass-through execution options for a submission.
type SubmitOptions struct {
	// Timeout bounds the execution; zero means the registry default.
	Timeout time.Duration

	// ResultTTL is how long the registry retains the result after a run.
	// Zero drops it immediately, negative keeps it indefinitely.
	ResultTTL time.Duration

	// AtFront asks the queue to place the task at the front when it
	// becomes due. Opaque to scheduling policy.
	AtFront bool
}

// CompletionHook is invoked after a task has been executed, regardless of
// the execution outcome. taskID names the registry entry that ran, so the
// scheduling controller can tell a scheduled occurrence apart from an ad-hoc
// immediate run before advancing recurrence state.
type CompletionHook func(ctx context.Context, taskID string, task Task, completedAt time.Time)

// TaskRegistry is the delayed-queue collaborator: it holds tasks scheduled
// for future execution, keyed by task id, queryable and cancellable before
// they fire. Implementations are expected to be safe for concurrent use.
type TaskRegistry interface {
	// Submit registers a task to fire at fireAt and returns its fresh id.
	Submit(ctx context.Context, task Task, fireAt time.Time, opts SubmitOptions) (string, error)

	// Cancel removes a pending entry. Returns ErrTaskNotFound when no
	// entry exists for the id.
	Cancel(ctx context.Context, taskID string) error

	// Exists reports whether the id has a pending entry.
	Exists(ctx context.Context, taskID string) (bool, error)

	// RunSync executes a pending entry immediately on the calling
	// goroutine and fires the completion hook. Test and debug hook; in
	// production the external worker performs this.
	RunSync(ctx context.Context, taskID string) error

	// SetCompletionHook installs the hook invoked after each execution.
	SetCompletionHook(hook CompletionHook)

	// Close releases the registry's resources.
	Close() error
}
