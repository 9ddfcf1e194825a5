package jobs

import (
	"time"

	"github.com/robfig/cron/v3"
)

// Validate runs the full clean pass for a job: callable reference, queue
// name, kind-specific recurrence fields, and every owned argument. All
// failures are aggregated into a single ValidationError.
func (j *Job) Validate(resolver CallableResolver, cfg Config) error {
	var ve ValidationError

	if j.Name == "" {
		ve.add("name", "must not be empty")
	}
	j.validateCallable(resolver, &ve)
	j.validateQueue(cfg, &ve)

	switch j.Kind {
	case KindOneOff:
		if j.FireAt.IsZero() {
			ve.add("fire_at", "must be set")
		}
	case KindInterval:
		j.validateInterval(&ve)
		j.validateResultTTL(&ve)
	case KindCron:
		j.validateCronExpr(&ve)
		if j.Repeat != nil && *j.Repeat < 0 {
			ve.add("repeat", "must not be negative")
		}
	default:
		ve.add("kind", "unknown job kind %q", j.Kind)
	}

	for i, a := range j.Args {
		if err := a.Validate(); err != nil {
			ve.add("args", "argument %d: %v", i, err)
		}
	}
	for _, k := range j.Kwargs {
		if k.Key == "" {
			ve.add("kwargs", "keyword argument key must not be empty")
			continue
		}
		if err := k.Validate(); err != nil {
			ve.add("kwargs", "keyword argument %q: %v", k.Key, err)
		}
	}

	return ve.orNil()
}

func (j *Job) validateCallable(resolver CallableResolver, ve *ValidationError) {
	if j.Callable == "" {
		ve.add("callable", "must not be empty")
		return
	}
	if resolver == nil {
		return
	}
	if _, err := resolver.Resolve(j.Callable); err != nil {
		ve.add("callable", "%q does not resolve to a callable", j.Callable)
	}
}

func (j *Job) validateQueue(cfg Config, ve *ValidationError) {
	if !cfg.HasQueue(j.Queue) {
		ve.add("queue", "%q is not a configured queue", j.Queue)
	}
}

func (j *Job) validateInterval(ve *ValidationError) {
	if j.FireAt.IsZero() {
		ve.add("fire_at", "must be set")
	}
	if j.IntervalValue <= 0 {
		ve.add("interval", "must be positive")
	}
	if j.IntervalUnit.Seconds() == 0 {
		ve.add("interval_unit", "unknown unit %q", j.IntervalUnit)
		return
	}
	if j.IntervalUnit == UnitSeconds {
		if j.IntervalValue < minSecondsInterval {
			ve.add("interval_unit", "an interval in seconds must be at least %d seconds", minSecondsInterval)
		} else if j.IntervalValue%minSecondsInterval != 0 {
			ve.add("interval_unit", "an interval in seconds must be a multiple of %d", minSecondsInterval)
		}
	}
	if j.Repeat != nil && *j.Repeat < 0 {
		ve.add("repeat", "must not be negative")
	}
}

// A finite result retention must outlive one full interval, otherwise the
// result is gone before the next occurrence is computed.
func (j *Job) validateResultTTL(ve *ValidationError) {
	if j.ResultTTL <= 0 {
		return
	}
	if j.IntervalValue <= 0 || j.IntervalUnit.Seconds() == 0 {
		return
	}
	if j.ResultTTL < time.Duration(j.IntervalSeconds())*time.Second {
		ve.add("result_ttl", "finite result retention must be at least one interval (%s)", j.IntervalDisplay())
	}
}

func (j *Job) validateCronExpr(ve *ValidationError) {
	if j.CronExpr == "" {
		ve.add("cron_expression", "must not be empty")
		return
	}
	if _, err := cron.ParseStandard(j.CronExpr); err != nil {
		ve.add("cron_expression", "invalid cron expression %q: %v", j.CronExpr, err)
	}
}
