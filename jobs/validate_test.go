package jobs

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testResolver() *CallableRegistry {
	r := NewCallableRegistry()
	r.Register("tasks.noop", func(ctx context.Context, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
		return nil, nil
	})
	return r
}

func validIntervalJob() *Job {
	return &Job{
		Name:          "report",
		Kind:          KindInterval,
		Queue:         "default",
		Callable:      "tasks.noop",
		Enabled:       true,
		FireAt:        time.Now().Add(time.Hour),
		IntervalValue: 15,
		IntervalUnit:  UnitMinutes,
	}
}

func fieldErr(t *testing.T, err error, field string) {
	t.Helper()
	if err == nil {
		t.Fatalf("want a %q validation failure, got nil", field)
	}
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("want ValidationError, got %T: %v", err, err)
	}
	if !ve.Has(field) {
		t.Fatalf("want failure on %q, got %v", field, err)
	}
}

func TestValidateAcceptsWellFormedJob(t *testing.T) {
	j := validIntervalJob()
	if err := j.Validate(testResolver(), DefaultConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateUnresolvedCallable(t *testing.T) {
	j := validIntervalJob()
	j.Callable = "tasks.missing"
	fieldErr(t, j.Validate(testResolver(), DefaultConfig()), "callable")
}

func TestValidateUnknownQueue(t *testing.T) {
	j := validIntervalJob()
	j.Queue = "nope"
	fieldErr(t, j.Validate(testResolver(), DefaultConfig()), "queue")
}

func TestValidateTooFrequentSecondsInterval(t *testing.T) {
	j := validIntervalJob()
	j.IntervalValue = 2
	j.IntervalUnit = UnitSeconds
	fieldErr(t, j.Validate(testResolver(), DefaultConfig()), "interval_unit")
}

func TestValidateSecondsIntervalNotMultiple(t *testing.T) {
	j := validIntervalJob()
	j.IntervalValue = 121
	j.IntervalUnit = UnitSeconds
	fieldErr(t, j.Validate(testResolver(), DefaultConfig()), "interval_unit")
}

func TestValidateSecondsIntervalAccepted(t *testing.T) {
	j := validIntervalJob()
	j.IntervalValue = 30
	j.IntervalUnit = UnitSeconds
	if err := j.Validate(testResolver(), DefaultConfig()); err != nil {
		t.Fatalf("30 seconds must be valid: %v", err)
	}
}

func TestValidateShortResultTTL(t *testing.T) {
	j := validIntervalJob() // 15 minutes
	j.ResultTTL = 10 * time.Minute
	fieldErr(t, j.Validate(testResolver(), DefaultConfig()), "result_ttl")

	j.ResultTTL = 15 * time.Minute
	if err := j.Validate(testResolver(), DefaultConfig()); err != nil {
		t.Fatalf("retention of one interval must be valid: %v", err)
	}

	j.ResultTTL = -1
	if err := j.Validate(testResolver(), DefaultConfig()); err != nil {
		t.Fatalf("indefinite retention must be valid: %v", err)
	}
}

func TestValidateNegativeRepeat(t *testing.T) {
	j := validIntervalJob()
	j.Repeat = Repeats(-1)
	fieldErr(t, j.Validate(testResolver(), DefaultConfig()), "repeat")
}

func TestValidateOneOffNeedsFireAt(t *testing.T) {
	j := &Job{Name: "once", Kind: KindOneOff, Queue: "default", Callable: "tasks.noop"}
	fieldErr(t, j.Validate(testResolver(), DefaultConfig()), "fire_at")
}

func TestValidateCronExpression(t *testing.T) {
	j := &Job{Name: "nightly", Kind: KindCron, Queue: "default", Callable: "tasks.noop", CronExpr: "0 3 * * *"}
	if err := j.Validate(testResolver(), DefaultConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	j.CronExpr = "0 3 * *"
	fieldErr(t, j.Validate(testResolver(), DefaultConfig()), "cron_expression")
}

func TestValidateAggregatesFailures(t *testing.T) {
	j := &Job{Kind: KindInterval}
	err := j.Validate(testResolver(), DefaultConfig())
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("want ValidationError, got %T", err)
	}
	for _, field := range []string{"name", "callable", "queue", "interval"} {
		if !ve.Has(field) {
			t.Fatalf("missing failure on %q: %v", field, err)
		}
	}
}

func TestValidateBadArgInsideJob(t *testing.T) {
	j := validIntervalJob()
	j.Args = []Arg{{Kind: ArgInt, StrVal: "oops"}}
	fieldErr(t, j.Validate(testResolver(), DefaultConfig()), "args")

	j = validIntervalJob()
	j.Kwargs = []Kwarg{{Key: "", Arg: Arg{Kind: ArgString, StrVal: "x"}}}
	fieldErr(t, j.Validate(testResolver(), DefaultConfig()), "kwargs")
}
