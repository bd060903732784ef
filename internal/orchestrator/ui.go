package orchestrator

import (
	"strings"

	"github.com/nidhogg/nuka-tutor/internal/intent"
)

// UIField is one input of a rendered form.
type UIField struct {
	Name     string   `json:"name"`
	Label    string   `json:"label"`
	Kind     string   `json:"kind"`
	Options  []string `json:"options,omitempty"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	Required bool     `json:"required"`
	Value    any      `json:"value,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// UIDescription is a renderer-agnostic UI tree. VoiceText is always set so
// every UI has a spoken equivalent.
type UIDescription struct {
	Type      string    `json:"type"` // "form" or "card"
	FormID    string    `json:"form_id,omitempty"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	Fields    []UIField `json:"fields,omitempty"`
	VoiceText string    `json:"voice_text"`
}

// FormUI renders the schema of in as a form prefilled with collected values,
// marking fields that failed validation.
func FormUI(in intent.Intent, collected map[string]any, validationErrors []string, voiceText string) *UIDescription {
	schema := intent.SchemaFor(in)
	errs := fieldErrors(validationErrors)

	ui := &UIDescription{
		Type:      "form",
		FormID:    strings.ReplaceAll(in.String(), "_", "-"),
		Title:     humanize(in.String()),
		Body:      schema.Description,
		VoiceText: voiceText,
	}
	for _, f := range schema.Fields {
		field := UIField{
			Name:     f.Name,
			Label:    humanize(f.Name),
			Kind:     "text",
			Required: f.Required,
			Error:    errs[f.Name],
		}
		if intent.Present(collected, f.Name) {
			field.Value = collected[f.Name]
		}
		switch v := f.Validator.(type) {
		case intent.Enum:
			field.Kind = "select"
			field.Options = append([]string(nil), v...)
		case intent.Range:
			field.Kind = "number"
			lo, hi := v.Min, v.Max
			field.Min, field.Max = &lo, &hi
		case intent.Date:
			field.Kind = "date"
		case intent.StringList:
			field.Kind = "tags"
		}
		ui.Fields = append(ui.Fields, field)
	}
	return ui
}

// CardUI renders a plain message card.
func CardUI(title, body string) *UIDescription {
	return &UIDescription{Type: "card", Title: title, Body: body, VoiceText: body}
}

func fieldErrors(errs []string) map[string]string {
	out := make(map[string]string, len(errs))
	for _, e := range errs {
		name, msg, ok := strings.Cut(e, ": ")
		if ok {
			out[name] = msg
		}
	}
	return out
}

// humanize turns "scenario_type" or "timeAvailable" into "Scenario type" /
// "Time available".
func humanize(name string) string {
	var sb strings.Builder
	for i, r := range name {
		switch {
		case r == '_' || r == '-':
			sb.WriteByte(' ')
		case r >= 'A' && r <= 'Z' && i > 0:
			sb.WriteByte(' ')
			sb.WriteRune(r + ('a' - 'A'))
		default:
			sb.WriteRune(r)
		}
	}
	s := sb.String()
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
