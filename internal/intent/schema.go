package intent

import (
	"fmt"
	"sort"
	"strings"
)

// Field declares one collectible value of an intent.
type Field struct {
	Name        string
	Required    bool
	Description string
	Validator   Validator
}

// Schema is the field contract of one intent.
type Schema struct {
	Description string
	Fields      []Field
}

// schemas is indexed by Intent so adding a variant without a schema entry
// stays a visible gap in this table.
var schemas = [numIntents]Schema{
	Unknown:           {Description: "the request could not be classified"},
	PendingExtraction: {Description: "free input awaiting classification"},
	CheckIn: {
		Description: "start-of-session check-in: how much time and energy the learner has",
		Fields: []Field{
			{Name: "timeAvailable", Required: true, Description: "how long the learner can spend", Validator: Enum{"quick", "focused", "deep"}},
			{Name: "energyLevel", Required: true, Description: "current energy", Validator: Range{Min: 0, Max: 100}},
			{Name: "mindset", Description: "how the learner feels going in", Validator: NonEmpty{}},
			{Name: "environment", Description: "where the learner is", Validator: NonEmpty{}},
			{Name: "intentionStrength", Description: "how committed the learner is today", Validator: Enum{"low", "moderate", "strong"}},
		},
	},
	PracticeSetup: {
		Description: "set up a practice scenario",
		Fields: []Field{
			{Name: "scenario_type", Required: true, Description: "kind of scenario to practice", Validator: NonEmpty{}},
			{Name: "difficulty", Description: "scenario difficulty", Validator: Enum{"easy", "medium", "hard"}},
			{Name: "focus_area", Description: "skill to focus on", Validator: NonEmpty{}},
			{Name: "duration", Description: "minutes to spend", Validator: Range{Min: 1, Max: 240}},
		},
	},
	Verification: {
		Description: "learner explains or applies a concept to prove understanding",
		Fields: []Field{
			{Name: "explanation", Required: true, Description: "the learner's explanation in their own words", Validator: NonEmpty{}},
			{Name: "example", Description: "a concrete example or application", Validator: NonEmpty{}},
			{Name: "confidence_self_rating", Description: "self-rated confidence", Validator: Range{Min: 1, Max: 5}},
		},
	},
	OutcomeDiscovery: {
		Description: "the learner describes what they want to be able to do",
		Fields: []Field{
			{Name: "goal", Required: true, Description: "the concrete outcome", Validator: NonEmpty{}},
			{Name: "deadline", Description: "when it is needed by", Validator: Date{}},
			{Name: "motivation", Description: "why it matters", Validator: NonEmpty{}},
			{Name: "current_level", Description: "self-assessed starting point", Validator: Enum{"beginner", "intermediate", "advanced"}},
		},
	},
	ApplicationEvent: {
		Description: "a real-world situation where the learner will use what they learned",
		Fields: []Field{
			{Name: "context", Required: true, Description: "what the situation is", Validator: NonEmpty{}},
			{Name: "planned_date", Required: true, Description: "when it happens", Validator: Date{}},
			{Name: "concepts", Description: "concepts the learner expects to use", Validator: StringList{}},
			{Name: "importance", Description: "how much is at stake", Validator: Enum{"low", "medium", "high"}},
		},
	},
	General: {Description: "general conversation or question"},
}

// SchemaFor returns the schema of i. Out-of-range values get the Unknown schema.
func SchemaFor(i Intent) Schema {
	if i >= numIntents {
		return schemas[Unknown]
	}
	return schemas[i]
}

// Required returns the required field names in declaration order.
func (s Schema) Required() []string {
	var out []string
	for _, f := range s.Fields {
		if f.Required {
			out = append(out, f.Name)
		}
	}
	return out
}

// Optional returns the optional field names in declaration order.
func (s Schema) Optional() []string {
	var out []string
	for _, f := range s.Fields {
		if !f.Required {
			out = append(out, f.Name)
		}
	}
	return out
}

// Result is the outcome of validating data against a schema.
type Result struct {
	Complete         bool
	MissingFields    []string
	ValidationErrors []string
}

// Present reports whether key holds a usable value in data. Nil and blank
// strings count as absent.
func Present(data map[string]any, key string) bool {
	v, ok := data[key]
	if !ok || v == nil {
		return false
	}
	if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
		return false
	}
	return true
}

// Validate checks data against s. Complete is true iff every required field
// is present and every validator on a present field passes. Keys outside the
// schema are ignored.
func (s Schema) Validate(data map[string]any) Result {
	res := Result{MissingFields: []string{}, ValidationErrors: []string{}}
	for _, f := range s.Fields {
		if !Present(data, f.Name) {
			if f.Required {
				res.MissingFields = append(res.MissingFields, f.Name)
			}
			continue
		}
		if f.Validator == nil {
			continue
		}
		if err := f.Validator.Validate(data[f.Name]); err != nil {
			res.ValidationErrors = append(res.ValidationErrors, fmt.Sprintf("%s: %v", f.Name, err))
		}
	}
	res.Complete = len(res.MissingFields) == 0 && len(res.ValidationErrors) == 0
	return res
}

// Describe renders the schema for inclusion in an oracle prompt.
func (s Schema) Describe() string {
	if len(s.Fields) == 0 {
		return "no fields"
	}
	fields := make([]Field, len(s.Fields))
	copy(fields, s.Fields)
	sort.SliceStable(fields, func(i, j int) bool { return fields[i].Required && !fields[j].Required })

	var sb strings.Builder
	for _, f := range fields {
		req := "optional"
		if f.Required {
			req = "required"
		}
		constraint := ""
		if f.Validator != nil {
			constraint = ", " + f.Validator.Describe()
		}
		fmt.Fprintf(&sb, "    - %s (%s%s): %s\n", f.Name, req, constraint, f.Description)
	}
	return strings.TrimRight(sb.String(), "\n")
}
