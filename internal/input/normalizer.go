// Package input turns a request from any modality into one Normalized record.
package input

import (
	"fmt"
	"maps"
	"strings"

	"github.com/nidhogg/nuka-tutor/internal/intent"
)

// Modality is the channel a turn arrived through.
type Modality string

const (
	Form   Modality = "form"
	Voice  Modality = "voice"
	Chat   Modality = "chat"
	Hybrid Modality = "hybrid"
)

// ParseModality validates a wire modality name.
func ParseModality(s string) (Modality, error) {
	switch m := Modality(strings.ToLower(strings.TrimSpace(s))); m {
	case Form, Voice, Chat, Hybrid:
		return m, nil
	case "":
		return Chat, nil
	default:
		return "", fmt.Errorf("unknown modality %q", s)
	}
}

// Normalized is the modality-independent form of one request. It is built
// once per request and not mutated afterwards.
type Normalized struct {
	Intent           intent.Intent  `json:"intent"`
	Data             map[string]any `json:"data"`
	DataComplete     bool           `json:"data_complete"`
	MissingFields    []string       `json:"missing_fields"`
	ValidationErrors []string       `json:"validation_errors"`
	SourceModality   Modality       `json:"source_modality"`
	RawInput         string         `json:"raw_input"`
}

// Normalize builds a Normalized record. Form submissions are classified by
// form id and validated; every other modality is left pending extraction with
// the raw text and any prefill data carried forward.
func Normalize(raw string, modality Modality, formID string, formData map[string]any) Normalized {
	n := Normalized{
		Data:             maps.Clone(formData),
		MissingFields:    []string{},
		ValidationErrors: []string{},
		SourceModality:   modality,
		RawInput:         raw,
	}
	if n.Data == nil {
		n.Data = map[string]any{}
	}

	if modality != Form {
		n.Intent = intent.PendingExtraction
		return n
	}

	n.Intent = intent.FromFormID(formID)
	return n.validated()
}

// WithExtraction resolves a pending record with the extractor's answer. The
// extracted fields are layered over any prefill data already on n.
func (n Normalized) WithExtraction(ex intent.Extraction) Normalized {
	out := n
	out.Intent = ex.Intent
	out.Data = maps.Clone(n.Data)
	if out.Data == nil {
		out.Data = map[string]any{}
	}
	maps.Copy(out.Data, ex.Data)
	return out.validated()
}

// MergeWithPending layers newInput over data collected by earlier turns. New
// values overwrite old ones. The merged record is validated against the new
// intent when it is resolved, otherwise against the carried intent.
func MergeWithPending(newInput Normalized, pendingData map[string]any, pendingIntent intent.Intent) Normalized {
	out := newInput
	out.Data = make(map[string]any, len(pendingData)+len(newInput.Data))
	maps.Copy(out.Data, pendingData)
	maps.Copy(out.Data, newInput.Data)

	if !resolved(newInput.Intent) {
		out.Intent = pendingIntent
	}
	return out.validated()
}

// resolved reports whether an intent should win over a carried one. An
// Unknown from a failed extraction does not discard the pending request.
func resolved(i intent.Intent) bool {
	return i != intent.PendingExtraction && i != intent.Unknown
}

func (n Normalized) validated() Normalized {
	if n.Intent == intent.PendingExtraction {
		n.DataComplete = false
		n.MissingFields = []string{}
		n.ValidationErrors = []string{}
		return n
	}
	res := intent.SchemaFor(n.Intent).Validate(n.Data)
	n.DataComplete = res.Complete
	n.MissingFields = res.MissingFields
	n.ValidationErrors = res.ValidationErrors
	return n
}
