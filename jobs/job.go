package jobs

import (
	"fmt"
	"strings"
	"time"
)

// JobKind is the closed set of job specializations.
type JobKind string

const (
	// KindOneOff fires once at a fixed time and never reschedules.
	KindOneOff JobKind = "one_off"

	// KindInterval fires on a fixed interval, optionally a limited number
	// of times.
	KindInterval JobKind = "interval"

	// KindCron fires on a 5-field cron expression.
	KindCron JobKind = "cron"
)

// IntervalUnit is the unit of an interval job's spacing.
type IntervalUnit string

const (
	UnitSeconds IntervalUnit = "seconds"
	UnitMinutes IntervalUnit = "minutes"
	UnitHours   IntervalUnit = "hours"
	UnitDays    IntervalUnit = "days"
	UnitWeeks   IntervalUnit = "weeks"
)

// Seconds returns the unit's multiplier in seconds, or 0 for an unknown unit.
func (u IntervalUnit) Seconds() int64 {
	switch u {
	case UnitSeconds:
		return 1
	case UnitMinutes:
		return 60
	case UnitHours:
		return 3600
	case UnitDays:
		return 86400
	case UnitWeeks:
		return 604800
	}
	return 0
}

// minSecondsInterval is the queue's minimum scheduling granularity. Intervals
// expressed in seconds must be at least this long and a multiple of it.
const minSecondsInterval = 10

// Job is a persisted description of one-off or recurring work. Kind selects
// which recurrence fields apply; the scheduling behavior is shared.
type Job struct {
	// Name is the unique display key.
	Name string

	Kind JobKind

	// Queue names one of the configured queues.
	Queue string

	// Callable is a dotted reference resolvable through a CallableResolver.
	Callable string

	Enabled bool

	// AtFront asks the queue to enqueue at the front when the task fires.
	// It is passed through opaquely and never consulted by recurrence.
	AtFront bool

	// Timeout bounds a single execution; zero means the queue default.
	Timeout time.Duration

	// ResultTTL is how long the queue retains an execution result.
	// Zero means unset, negative means keep indefinitely.
	ResultTTL time.Duration

	// TaskID is the external queue's identifier for the currently pending
	// entry. Empty means no entry is pending; this is the single source of
	// truth for "is this job currently scheduled".
	TaskID string

	// FireAt is the next fire time for one-off and interval kinds.
	FireAt time.Time

	// IntervalValue and IntervalUnit define the spacing for interval kind.
	IntervalValue int64
	IntervalUnit  IntervalUnit

	// CronExpr is the 5-field cron expression for cron kind.
	CronExpr string

	// Repeat is the remaining repetition count for interval and cron
	// kinds. Nil means repeat forever. Zero means one last fire remains.
	Repeat *int64

	// Args and Kwargs are owned by the job and deleted with it.
	Args   []Arg
	Kwargs []Kwarg
}

// Repeats is a convenience constructor for a finite Repeat field.
func Repeats(n int64) *int64 { return &n }

// IsEligibleToSchedule reports whether the job may be submitted: enabled and
// not already holding a pending queue entry.
func (j *Job) IsEligibleToSchedule() bool {
	return j.Enabled && j.TaskID == ""
}

// IntervalSeconds returns the interval length in seconds.
func (j *Job) IntervalSeconds() float64 {
	return float64(j.IntervalValue * j.IntervalUnit.Seconds())
}

// IntervalDisplay renders the interval for humans, e.g. "15 minutes".
func (j *Job) IntervalDisplay() string {
	unit := string(j.IntervalUnit)
	if j.IntervalValue == 1 {
		unit = strings.TrimSuffix(unit, "s")
	}
	return fmt.Sprintf("%d %s", j.IntervalValue, unit)
}

// ArgValues resolves the positional arguments in order.
func (j *Job) ArgValues() ([]ArgValue, error) {
	values := make([]ArgValue, 0, len(j.Args))
	for i, a := range j.Args {
		v, err := a.ResolveValue()
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		values = append(values, v)
	}
	return values, nil
}

// KwargValues resolves the keyword arguments by key.
func (j *Job) KwargValues() (map[string]ArgValue, error) {
	values := make(map[string]ArgValue, len(j.Kwargs))
	for _, k := range j.Kwargs {
		v, err := k.ResolveValue()
		if err != nil {
			return nil, fmt.Errorf("keyword argument %q: %w", k.Key, err)
		}
		values[k.Key] = v
	}
	return values, nil
}

// DiagnosticCallString renders callable(arg1, arg2, ..., key=value, ...) for
// admin display. It is never used by scheduling.
func (j *Job) DiagnosticCallString() string {
	parts := make([]string, 0, len(j.Args)+len(j.Kwargs))
	for _, a := range j.Args {
		parts = append(parts, a.Literal())
	}
	for _, k := range j.Kwargs {
		parts = append(parts, k.Key+"="+k.Arg.Literal())
	}
	return fmt.Sprintf("%s(%s)", j.Callable, strings.Join(parts, ", "))
}

// Clone returns a deep copy, so stores can hand out jobs without sharing
// argument slices with callers.
func (j *Job) Clone() *Job {
	cp := *j
	if j.Repeat != nil {
		r := *j.Repeat
		cp.Repeat = &r
	}
	cp.Args = make([]Arg, len(j.Args))
	for i, a := range j.Args {
		cp.Args[i] = cloneArg(a)
	}
	cp.Kwargs = make([]Kwarg, len(j.Kwargs))
	for i, k := range j.Kwargs {
		cp.Kwargs[i] = Kwarg{Arg: cloneArg(k.Arg), Key: k.Key}
	}
	return &cp
}

func cloneArg(a Arg) Arg {
	cp := a
	if a.IntVal != nil {
		n := *a.IntVal
		cp.IntVal = &n
	}
	if a.TimeVal != nil {
		t := *a.TimeVal
		cp.TimeVal = &t
	}
	return cp
}
