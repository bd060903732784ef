package intent

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/nidhogg/nuka-tutor/internal/oracle"
	"go.uber.org/zap"
)

// Extraction is the classifier's answer for one piece of free text.
type Extraction struct {
	Intent        Intent         `json:"intent"`
	Data          map[string]any `json:"data"`
	Confidence    float64        `json:"confidence"`
	MissingFields []string       `json:"missing_fields"`
}

// PendingContext is what earlier turns already collected.
type PendingContext struct {
	Intent Intent
	Data   map[string]any
}

const extractSchemaHint = `{"intent": "<intent name>", "data": {"<field>": <value>}, "confidence": <0.0-1.0>, "missing_fields": ["<field>"]}`

// Extractor classifies free text with the oracle.
type Extractor struct {
	oracle  oracle.Oracle
	timeout time.Duration
	logger  *zap.Logger
}

// NewExtractor creates an Extractor. A zero timeout means the caller's
// context alone bounds the oracle call.
func NewExtractor(o oracle.Oracle, timeout time.Duration, logger *zap.Logger) *Extractor {
	return &Extractor{oracle: o, timeout: timeout, logger: logger}
}

// Extract never returns an error. When the oracle fails or answers with
// something unparsable the result is Unknown with confidence 0 and the
// pending fields carried over unchanged.
func (e *Extractor) Extract(ctx context.Context, text string, pending *PendingContext) Extraction {
	fallback := Extraction{Intent: Unknown, Data: map[string]any{}, MissingFields: []string{}}
	if pending != nil {
		maps.Copy(fallback.Data, pending.Data)
		if pending.Intent.Known() {
			fallback.MissingFields = SchemaFor(pending.Intent).Validate(fallback.Data).MissingFields
		}
	}

	callCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	raw, err := e.oracle.Complete(callCtx, oracle.Request{
		Purpose:     oracle.PurposeIntent,
		System:      "You classify what a learner is trying to do and pull out structured fields. Never invent values the learner did not give.",
		Prompt:      BuildExtractionPrompt(text, pending),
		SchemaHint:  extractSchemaHint,
		MaxTokens:   512,
		Temperature: 0,
	})
	if err != nil {
		e.logger.Warn("intent extraction failed", zap.Error(err))
		return fallback
	}

	var parsed struct {
		Intent        string         `json:"intent"`
		Data          map[string]any `json:"data"`
		Confidence    float64        `json:"confidence"`
		MissingFields []string       `json:"missing_fields"`
	}
	if err := oracle.DecodeJSON(raw, &parsed); err != nil {
		e.logger.Warn("intent extraction unparsable", zap.Error(err), zap.Int("chars", len(raw)))
		return fallback
	}

	out := Extraction{
		Intent:        Parse(parsed.Intent),
		Data:          parsed.Data,
		Confidence:    clamp01(parsed.Confidence),
		MissingFields: parsed.MissingFields,
	}
	if out.Data == nil {
		out.Data = map[string]any{}
	}
	if out.Intent == PendingExtraction {
		out.Intent = Unknown
	}

	if out.Intent.Known() {
		merged := make(map[string]any, len(out.Data))
		if pending != nil && (pending.Intent == out.Intent || !pending.Intent.Known()) {
			maps.Copy(merged, pending.Data)
		}
		maps.Copy(merged, out.Data)
		out.MissingFields = SchemaFor(out.Intent).Validate(merged).MissingFields
	}
	if out.MissingFields == nil {
		out.MissingFields = []string{}
	}

	e.logger.Debug("intent extracted",
		zap.Stringer("intent", out.Intent),
		zap.Float64("confidence", out.Confidence),
		zap.Strings("missing", out.MissingFields))
	return out
}

// BuildExtractionPrompt lists every intent with its schema, the previously
// collected block when present, and the learner's text.
func BuildExtractionPrompt(text string, pending *PendingContext) string {
	var sb strings.Builder
	sb.WriteString("## Intents\n")
	for _, i := range All() {
		s := SchemaFor(i)
		fmt.Fprintf(&sb, "- %s: %s\n%s\n", i, s.Description, s.Describe())
	}

	if pending != nil && len(pending.Data) > 0 {
		sb.WriteString("\n## Previously collected\n")
		fmt.Fprintf(&sb, "intent: %s\n", pending.Intent)
		for _, k := range sortedKeys(pending.Data) {
			fmt.Fprintf(&sb, "- %s: %v\n", k, pending.Data[k])
		}
		sb.WriteString("If the new message continues this request, keep the same intent and only report new or changed fields.\n")
	}

	sb.WriteString("\n## Learner message\n")
	sb.WriteString(text)
	sb.WriteString("\n\nReply with one JSON object: the best matching intent, the fields you found, your confidence, and which required fields are still missing.")
	return sb.String()
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

func sortedKeys(m map[string]any) []string {
	return slices.Sorted(maps.Keys(m))
}
