package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRegistry is an in-process delayed-task registry, primarily for
// testing and development.
type MemoryRegistry struct {
	resolver CallableResolver
	hook     CompletionHook
	entries  map[string]*memoryEntry
	mutex    sync.RWMutex
	closed   bool
}

type memoryEntry struct {
	Task   Task
	FireAt time.Time
	Opts   SubmitOptions
	Result interface{}
	Err    error
	Done   bool
}

// NewMemoryRegistry creates a new in-memory registry. The resolver is used
// by RunSync to turn a task's callable reference into an invocable.
func NewMemoryRegistry(resolver CallableResolver) *MemoryRegistry {
	return &MemoryRegistry{
		resolver: resolver,
		entries:  make(map[string]*memoryEntry),
	}
}

// SetCompletionHook implements TaskRegistry.
func (r *MemoryRegistry) SetCompletionHook(hook CompletionHook) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.hook = hook
}

// Submit implements TaskRegistry.
func (r *MemoryRegistry) Submit(ctx context.Context, task Task, fireAt time.Time, opts SubmitOptions) (string, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		return "", ErrRegistryClosed
	}

	id := uuid.NewString()
	r.entries[id] = &memoryEntry{Task: task, FireAt: fireAt, Opts: opts}
	return id, nil
}

// Cancel implements TaskRegistry.
func (r *MemoryRegistry) Cancel(ctx context.Context, taskID string) error {
	if taskID == "" {
		return ErrInvalidTaskID
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	entry, ok := r.entries[taskID]
	if !ok || entry.Done {
		return ErrTaskNotFound
	}
	delete(r.entries, taskID)
	return nil
}

// Exists implements TaskRegistry.
func (r *MemoryRegistry) Exists(ctx context.Context, taskID string) (bool, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	entry, ok := r.entries[taskID]
	return ok && !entry.Done, nil
}

// Pending returns the ids of all pending entries, ordered arbitrarily.
func (r *MemoryRegistry) Pending() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	ids := make([]string, 0, len(r.entries))
	for id, entry := range r.entries {
		if !entry.Done {
			ids = append(ids, id)
		}
	}
	return ids
}

// RunSync implements TaskRegistry: it executes the entry on the calling
// goroutine, retains or drops the result per the submission options, and
// fires the completion hook.
func (r *MemoryRegistry) RunSync(ctx context.Context, taskID string) error {
	r.mutex.Lock()
	entry, ok := r.entries[taskID]
	if !ok || entry.Done {
		r.mutex.Unlock()
		return ErrTaskNotFound
	}
	entry.Done = true
	hook := r.hook
	r.mutex.Unlock()

	result, err := r.execute(ctx, entry)

	r.mutex.Lock()
	if entry.Opts.ResultTTL == 0 {
		delete(r.entries, taskID)
	} else {
		entry.Result = result
		entry.Err = err
	}
	r.mutex.Unlock()

	if hook != nil {
		hook(ctx, taskID, entry.Task, time.Now())
	}
	return err
}

func (r *MemoryRegistry) execute(ctx context.Context, entry *memoryEntry) (interface{}, error) {
	fn, err := r.resolver.Resolve(entry.Task.Callable)
	if err != nil {
		return nil, err
	}

	if timeout := entry.Opts.Timeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	args := make([]interface{}, len(entry.Task.Args))
	for i, v := range entry.Task.Args {
		args[i] = v.Interface()
	}
	kwargs := make(map[string]interface{}, len(entry.Task.Kwargs))
	for k, v := range entry.Task.Kwargs {
		kwargs[k] = v.Interface()
	}

	result, err := fn(ctx, args, kwargs)
	if err != nil {
		return nil, fmt.Errorf("task %q: %w", entry.Task.Callable, err)
	}
	return result, nil
}

// Result returns the retained result of an executed entry, if any.
func (r *MemoryRegistry) Result(taskID string) (interface{}, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	entry, ok := r.entries[taskID]
	if !ok || !entry.Done {
		return nil, ErrTaskNotFound
	}
	return entry.Result, entry.Err
}

// Close implements TaskRegistry.
func (r *MemoryRegistry) Close() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.closed = true
	return nil
}
