package intent

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Validator checks one present field value.
type Validator interface {
	Validate(v any) error
	// Describe renders the constraint for oracle prompts.
	Describe() string
}

// Range accepts numbers (or numeric strings) within [Min, Max].
type Range struct {
	Min, Max float64
}

func (r Range) Validate(v any) error {
	n, ok := AsFloat(v)
	if !ok {
		return fmt.Errorf("must be a number")
	}
	if n < r.Min || n > r.Max {
		return fmt.Errorf("must be between %g and %g", r.Min, r.Max)
	}
	return nil
}

func (r Range) Describe() string { return fmt.Sprintf("number %g-%g", r.Min, r.Max) }

// Enum accepts one of a fixed set of strings, compared case-insensitively.
type Enum []string

func (e Enum) Validate(v any) error {
	s, ok := v.(string)
	if ok {
		s = strings.ToLower(strings.TrimSpace(s))
		for _, allowed := range e {
			if s == allowed {
				return nil
			}
		}
	}
	return fmt.Errorf("must be one of %s", strings.Join(e, ", "))
}

func (e Enum) Describe() string { return "one of " + strings.Join(e, "|") }

// NonEmpty accepts any string with visible characters.
type NonEmpty struct{}

func (NonEmpty) Validate(v any) error {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return fmt.Errorf("must be non-empty text")
	}
	return nil
}

func (NonEmpty) Describe() string { return "text" }

// DateLayouts lists the accepted date encodings in preference order.
var DateLayouts = []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02"}

// Date accepts a time.Time or a string in one of DateLayouts.
type Date struct{}

func (Date) Validate(v any) error {
	if _, ok := AsTime(v); !ok {
		return fmt.Errorf("must be a date (YYYY-MM-DD)")
	}
	return nil
}

func (Date) Describe() string { return "date YYYY-MM-DD" }

// StringList accepts a list of strings or a comma separated string.
type StringList struct{}

func (StringList) Validate(v any) error {
	if _, ok := AsStrings(v); !ok {
		return fmt.Errorf("must be a list of text values")
	}
	return nil
}

func (StringList) Describe() string { return "list of text" }

// AsFloat converts JSON-decoded numbers, Go numbers and numeric strings.
func AsFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		var err error
		if f, err = n.Float64(); err != nil {
			return 0, false
		}
	case string:
		var err error
		if f, err = strconv.ParseFloat(strings.TrimSpace(n), 64); err != nil {
			return 0, false
		}
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// AsTime converts a time.Time or a date string.
func AsTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range DateLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

// AsStrings converts []string, []any of strings, or a comma separated string.
func AsStrings(v any) ([]string, bool) {
	switch l := v.(type) {
	case []string:
		return l, true
	case []any:
		out := make([]string, 0, len(l))
		for _, item := range l {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	case string:
		var out []string
		for _, part := range strings.Split(l, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		return out, true
	}
	return nil, false
}
