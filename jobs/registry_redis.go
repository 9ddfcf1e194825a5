package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ProfBIT-develop/rqscheduler/observability"
)

// RedisRegistryConfig contains configuration for the Redis-backed registry.
type RedisRegistryConfig struct {
	// Address is the Redis server address.
	Address string `yaml:"address" json:"address"`

	// Password is the Redis server password.
	Password string `yaml:"password" json:"password"`

	// Database is the Redis database number.
	Database int `yaml:"database" json:"database"`

	// Namespace is the key prefix for registry keys.
	Namespace string `yaml:"namespace" json:"namespace"`
}

// RedisRegistry implements TaskRegistry on Redis. Each entry is a JSON blob
// under its task-id key plus a member of a scheduled set scored by fire time,
// so pending entries can be queried and cancelled before they fire.
type RedisRegistry struct {
	client    *redis.Client
	namespace string
	resolver  CallableResolver
	logger    observability.Logger
	hook      CompletionHook
	mutex     sync.RWMutex
	closed    bool
}

type redisTaskEntry struct {
	Task      Task          `json:"task"`
	FireAt    time.Time     `json:"fire_at"`
	Timeout   time.Duration `json:"timeout,omitempty"`
	ResultTTL time.Duration `json:"result_ttl,omitempty"`
	AtFront   bool          `json:"at_front,omitempty"`
	Result    []byte        `json:"result,omitempty"`
	Error     string        `json:"error,omitempty"`
	RanAt     *time.Time    `json:"ran_at,omitempty"`
}

// NewRedisRegistry creates a Redis-backed delayed-task registry.
func NewRedisRegistry(config RedisRegistryConfig, resolver CallableResolver, logger observability.Logger) (*RedisRegistry, error) {
	if config.Address == "" {
		return nil, errors.New("task registry: Redis address is required")
	}
	if config.Namespace == "" {
		config.Namespace = "rqscheduler:tasks"
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.Database,
	})

	return &RedisRegistry{
		client:    client,
		namespace: config.Namespace,
		resolver:  resolver,
		logger:    logger,
	}, nil
}

// SetCompletionHook implements TaskRegistry.
func (r *RedisRegistry) SetCompletionHook(hook CompletionHook) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.hook = hook
}

// Submit implements TaskRegistry.
func (r *RedisRegistry) Submit(ctx context.Context, task Task, fireAt time.Time, opts SubmitOptions) (string, error) {
	r.mutex.RLock()
	if r.closed {
		r.mutex.RUnlock()
		return "", ErrRegistryClosed
	}
	r.mutex.RUnlock()

	id := uuid.NewString()
	entry := redisTaskEntry{
		Task:      task,
		FireAt:    fireAt,
		Timeout:   opts.Timeout,
		ResultTTL: opts.ResultTTL,
		AtFront:   opts.AtFront,
	}

	entryData, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("failed to serialize task entry: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.Set(ctx, r.taskKey(id), entryData, 0)
	pipe.ZAdd(ctx, r.scheduledKey(), redis.Z{
		Score:  float64(fireAt.UnixNano()),
		Member: id,
	})

	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to submit task: %w", err)
	}
	return id, nil
}

// Cancel implements TaskRegistry.
func (r *RedisRegistry) Cancel(ctx context.Context, taskID string) error {
	if taskID == "" {
		return ErrInvalidTaskID
	}

	removed, err := r.client.ZRem(ctx, r.scheduledKey(), taskID).Result()
	if err != nil {
		return fmt.Errorf("failed to cancel task: %w", err)
	}
	if removed == 0 {
		return ErrTaskNotFound
	}
	if err := r.client.Del(ctx, r.taskKey(taskID)).Err(); err != nil {
		return fmt.Errorf("failed to delete task entry: %w", err)
	}
	return nil
}

// Exists implements TaskRegistry: an entry is pending iff it is still a
// member of the scheduled set.
func (r *RedisRegistry) Exists(ctx context.Context, taskID string) (bool, error) {
	if taskID == "" {
		return false, nil
	}
	_, err := r.client.ZScore(ctx, r.scheduledKey(), taskID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check task: %w", err)
	}
	return true, nil
}

// Due returns the ids of entries whose fire time is at or before now.
func (r *RedisRegistry) Due(ctx context.Context, now time.Time) ([]string, error) {
	ids, err := r.client.ZRangeByScore(ctx, r.scheduledKey(), &redis.ZRangeBy{
		Min: "0",
		Max: fmt.Sprintf("%d", now.UnixNano()),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list due tasks: %w", err)
	}
	return ids, nil
}

// RunSync implements TaskRegistry: it claims the entry, executes it on the
// calling goroutine, retains the result per the submission's retention, and
// fires the completion hook.
func (r *RedisRegistry) RunSync(ctx context.Context, taskID string) error {
	entry, err := r.getEntry(ctx, taskID)
	if err != nil {
		return err
	}

	// Claim: remove from the scheduled set so a concurrent runner cannot
	// pick the same entry.
	removed, err := r.client.ZRem(ctx, r.scheduledKey(), taskID).Result()
	if err != nil {
		return fmt.Errorf("failed to claim task: %w", err)
	}
	if removed == 0 {
		return ErrTaskNotFound
	}

	result, execErr := r.execute(ctx, entry)
	now := time.Now()

	if entry.ResultTTL == 0 {
		if err := r.client.Del(ctx, r.taskKey(taskID)).Err(); err != nil {
			r.logger.Warn("failed to drop task entry", observability.NewField("task_id", taskID))
		}
	} else {
		entry.RanAt = &now
		if execErr != nil {
			entry.Error = execErr.Error()
		} else if data, err := json.Marshal(result); err == nil {
			entry.Result = data
		}
		entryData, _ := json.Marshal(entry)
		ttl := entry.ResultTTL
		if ttl < 0 {
			ttl = 0 // no expiry, keep indefinitely
		}
		if err := r.client.Set(ctx, r.taskKey(taskID), entryData, ttl).Err(); err != nil {
			r.logger.Warn("failed to retain task result", observability.NewField("task_id", taskID))
		}
	}

	r.mutex.RLock()
	hook := r.hook
	r.mutex.RUnlock()
	if hook != nil {
		hook(ctx, taskID, entry.Task, now)
	}
	return execErr
}

func (r *RedisRegistry) execute(ctx context.Context, entry *redisTaskEntry) (interface{}, error) {
	fn, err := r.resolver.Resolve(entry.Task.Callable)
	if err != nil {
		return nil, err
	}

	if timeout := entry.Timeout; timeout > 0 {
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

func (r *RedisRegistry) getEntry(ctx context.Context, taskID string) (*redisTaskEntry, error) {
	if taskID == "" {
		return nil, ErrInvalidTaskID
	}
	data, err := r.client.Get(ctx, r.taskKey(taskID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task entry: %w", err)
	}
	var entry redisTaskEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to deserialize task entry: %w", err)
	}
	return &entry, nil
}

// Close implements TaskRegistry.
func (r *RedisRegistry) Close() error {
	r.mutex.Lock()
	if r.closed {
		r.mutex.Unlock()
		return nil
	}
	r.closed = true
	r.mutex.Unlock()

	return r.client.Close()
}

func (r *RedisRegistry) taskKey(taskID string) string {
	return fmt.Sprintf("%s:task:%s", r.namespace, taskID)
}

func (r *RedisRegistry) scheduledKey() string {
	return fmt.Sprintf("%s:scheduled", r.namespace)
}
