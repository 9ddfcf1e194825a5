package jobs

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ArgKind selects which typed field of an argument record holds the value.
type ArgKind string

const (
	ArgString ArgKind = "string"
	ArgInt    ArgKind = "int"
	ArgBool   ArgKind = "bool"
	ArgTime   ArgKind = "timestamp"
)

// ArgValue is a resolved argument: exactly one typed value, tagged by kind.
// Values are constructed through the typed constructors, so a zero ArgValue
// is the only way to hold "no value" and never leaves this package.
type ArgValue struct {
	kind ArgKind
	str  string
	num  int64
	flag bool
	ts   time.Time
}

// StringValue returns an ArgValue holding a string.
func StringValue(s string) ArgValue { return ArgValue{kind: ArgString, str: s} }

// IntValue returns an ArgValue holding an integer.
func IntValue(n int64) ArgValue { return ArgValue{kind: ArgInt, num: n} }

// BoolValue returns an ArgValue holding a boolean.
func BoolValue(b bool) ArgValue { return ArgValue{kind: ArgBool, flag: b} }

// TimeValue returns an ArgValue holding a timestamp.
func TimeValue(t time.Time) ArgValue { return ArgValue{kind: ArgTime, ts: t} }

// Kind returns the tag of the populated value.
func (v ArgValue) Kind() ArgKind { return v.kind }

// Interface returns the populated value as its native Go type.
func (v ArgValue) Interface() interface{} {
	switch v.kind {
	case ArgString:
		return v.str
	case ArgInt:
		return v.num
	case ArgBool:
		return v.flag
	case ArgTime:
		return v.ts
	}
	return nil
}

// Render produces the display form of the value.
func (v ArgValue) Render() string {
	switch v.kind {
	case ArgString:
		return v.str
	case ArgInt:
		return strconv.FormatInt(v.num, 10)
	case ArgBool:
		return strconv.FormatBool(v.flag)
	case ArgTime:
		return v.ts.Format(time.RFC3339)
	}
	return ""
}

// Literal produces a literal-style representation, used when rendering
// diagnostic function-call strings.
func (v ArgValue) Literal() string {
	switch v.kind {
	case ArgString:
		return strconv.Quote(v.str)
	case ArgInt:
		return strconv.FormatInt(v.num, 10)
	case ArgBool:
		return strconv.FormatBool(v.flag)
	case ArgTime:
		return strconv.Quote(v.ts.Format(time.RFC3339))
	}
	return "<nil>"
}

// argValueJSON is the wire envelope for an ArgValue. Keeping the kind tag on
// the wire lets a registry round-trip values without losing their types.
type argValueJSON struct {
	Kind ArgKind `json:"kind"`
	Str  *string `json:"str,omitempty"`
	Int  *int64  `json:"int,omitempty"`
	Bool *bool   `json:"bool,omitempty"`
	Time *string `json:"time,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (v ArgValue) MarshalJSON() ([]byte, error) {
	env := argValueJSON{Kind: v.kind}
	switch v.kind {
	case ArgString:
		env.Str = &v.str
	case ArgInt:
		env.Int = &v.num
	case ArgBool:
		env.Bool = &v.flag
	case ArgTime:
		s := v.ts.Format(time.RFC3339Nano)
		env.Time = &s
	}
	return json.Marshal(env)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *ArgValue) UnmarshalJSON(data []byte) error {
	var env argValueJSON
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	switch env.Kind {
	case ArgString:
		if env.Str == nil {
			return fmt.Errorf("argument value: missing string payload")
		}
		*v = StringValue(*env.Str)
	case ArgInt:
		if env.Int == nil {
			return fmt.Errorf("argument value: missing int payload")
		}
		*v = IntValue(*env.Int)
	case ArgBool:
		if env.Bool == nil {
			return fmt.Errorf("argument value: missing bool payload")
		}
		*v = BoolValue(*env.Bool)
	case ArgTime:
		if env.Time == nil {
			return fmt.Errorf("argument value: missing time payload")
		}
		t, err := time.Parse(time.RFC3339Nano, *env.Time)
		if err != nil {
			return fmt.Errorf("argument value: bad time payload: %w", err)
		}
		*v = TimeValue(t)
	default:
		return fmt.Errorf("argument value: unknown kind %q", env.Kind)
	}
	return nil
}

// Arg is a persisted positional argument record. The four value fields are
// nullable storage columns; ResolveValue enforces that exactly one is set.
// Positional order is insertion order within the owning job.
type Arg struct {
	ID      int64
	JobName string
	Kind    ArgKind
	StrVal  string
	IntVal  *int64
	BoolVal bool
	TimeVal *time.Time
}

// ResolveValue returns the single populated value as an ArgValue. A bool
// field at its default (false) counts as populated only when Kind is bool;
// every other kind's default means "empty".
func (a Arg) ResolveValue() (ArgValue, error) {
	var (
		values []ArgValue
		ve     ValidationError
	)
	if a.StrVal != "" {
		values = append(values, StringValue(a.StrVal))
	}
	if a.IntVal != nil {
		values = append(values, IntValue(*a.IntVal))
	}
	if a.BoolVal || a.Kind == ArgBool {
		values = append(values, BoolValue(a.BoolVal))
	}
	if a.TimeVal != nil {
		values = append(values, TimeValue(*a.TimeVal))
	}
	if len(values) != 1 {
		ve.add("value", "exactly one of the typed value fields must be set, found %d", len(values))
		return ArgValue{}, &ve
	}
	return values[0], nil
}

// Validate resolves the single value and checks it matches the declared kind.
func (a Arg) Validate() error {
	v, err := a.ResolveValue()
	if err != nil {
		return err
	}
	if v.Kind() != a.Kind {
		var ve ValidationError
		ve.add("kind", "declared kind %q does not match populated %q field", a.Kind, v.Kind())
		return &ve
	}
	return nil
}

// Render returns the display form of the argument's value.
func (a Arg) Render() string {
	v, err := a.ResolveValue()
	if err != nil {
		return ""
	}
	return v.Render()
}

// Literal returns the literal-style form of the argument's value.
func (a Arg) Literal() string {
	v, err := a.ResolveValue()
	if err != nil {
		return "<invalid>"
	}
	return v.Literal()
}

// Kwarg is a persisted keyword argument record: an Arg attached by key
// instead of by position.
type Kwarg struct {
	Arg
	Key string
}

// Render returns the key=value display form.
func (k Kwarg) Render() string {
	return k.Key + "=" + k.Arg.Render()
}

// Literal returns the ("key", value) pair form.
func (k Kwarg) Literal() string {
	return "(" + strconv.Quote(k.Key) + ", " + k.Arg.Literal() + ")"
}
