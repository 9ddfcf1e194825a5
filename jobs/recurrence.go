package jobs

import (
	"fmt"
	"math"
	"time"

	"github.com/robfig/cron/v3"
)

// Occurrence is the outcome of a recurrence computation: the next fire time
// and remaining repeat count, or exhaustion.
type Occurrence struct {
	FireAt    time.Time
	Repeat    *int64
	Exhausted bool
}

// NextOccurrence computes when a job should next be enqueued given its
// persisted recurrence state and the current time. It is a pure function:
// the job is not mutated and no collaborator is touched.
//
// Catch-up arithmetic for a past fire time is ceiling-based: the job advances
// by gap = ceil(elapsed/interval) intervals and consumes gap repeats. A
// remaining count of exactly zero with a future fire time means one last
// fire is still owed; exhaustion is only decided when the owed repeats
// cannot cover the gap.
func NextOccurrence(j *Job, now time.Time) (Occurrence, error) {
	switch j.Kind {
	case KindOneOff:
		if j.FireAt.After(now) {
			return Occurrence{FireAt: j.FireAt}, nil
		}
		return Occurrence{Exhausted: true}, nil

	case KindInterval:
		return nextIntervalOccurrence(j, now)

	case KindCron:
		if j.Repeat != nil && *j.Repeat < 0 {
			return Occurrence{Exhausted: true, Repeat: j.Repeat}, nil
		}
		sched, err := cron.ParseStandard(j.CronExpr)
		if err != nil {
			return Occurrence{}, fmt.Errorf("cron expression %q: %w", j.CronExpr, err)
		}
		return Occurrence{FireAt: sched.Next(now), Repeat: j.Repeat}, nil
	}
	return Occurrence{}, fmt.Errorf("unknown job kind %q", j.Kind)
}

func nextIntervalOccurrence(j *Job, now time.Time) (Occurrence, error) {
	secs := j.IntervalValue * j.IntervalUnit.Seconds()
	if secs <= 0 {
		return Occurrence{}, fmt.Errorf("interval job %q has non-positive interval", j.Name)
	}
	interval := time.Duration(secs) * time.Second

	// Future (or exactly current) fire time: due as-is, repeats untouched.
	if !j.FireAt.Before(now) {
		return Occurrence{FireAt: j.FireAt, Repeat: j.Repeat}, nil
	}

	elapsed := now.Sub(j.FireAt)
	gap := int64(math.Ceil(elapsed.Seconds() / float64(secs)))
	if gap < 1 {
		gap = 1
	}

	if j.Repeat == nil {
		return Occurrence{FireAt: j.FireAt.Add(time.Duration(gap) * interval)}, nil
	}
	if *j.Repeat >= gap {
		rem := *j.Repeat - gap
		return Occurrence{FireAt: j.FireAt.Add(time.Duration(gap) * interval), Repeat: &rem}, nil
	}
	// The owed repeats cannot reach past now: the job is spent.
	return Occurrence{Exhausted: true, Repeat: j.Repeat}, nil
}

// AfterExecution computes the follow-up occurrence once an execution has
// completed. One repeat is consumed per run; a remaining count at or below
// zero means the run that just finished was the last one.
//
// The returned fire time is one step past the previous one; Schedule applies
// NextOccurrence on top of it, which absorbs any drift past completedAt.
func AfterExecution(j *Job, completedAt time.Time) (Occurrence, error) {
	switch j.Kind {
	case KindOneOff:
		return Occurrence{Exhausted: true}, nil

	case KindInterval:
		if j.Repeat != nil && *j.Repeat <= 0 {
			return Occurrence{Exhausted: true, Repeat: j.Repeat}, nil
		}
		secs := j.IntervalValue * j.IntervalUnit.Seconds()
		if secs <= 0 {
			return Occurrence{}, fmt.Errorf("interval job %q has non-positive interval", j.Name)
		}
		occ := Occurrence{FireAt: j.FireAt.Add(time.Duration(secs) * time.Second)}
		if j.Repeat != nil {
			rem := *j.Repeat - 1
			occ.Repeat = &rem
		}
		return occ, nil

	case KindCron:
		if j.Repeat != nil && *j.Repeat <= 0 {
			return Occurrence{Exhausted: true, Repeat: j.Repeat}, nil
		}
		sched, err := cron.ParseStandard(j.CronExpr)
		if err != nil {
			return Occurrence{}, fmt.Errorf("cron expression %q: %w", j.CronExpr, err)
		}
		occ := Occurrence{FireAt: sched.Next(completedAt)}
		if j.Repeat != nil {
			rem := *j.Repeat - 1
			occ.Repeat = &rem
		}
		return occ, nil
	}
	return Occurrence{}, fmt.Errorf("unknown job kind %q", j.Kind)
}
