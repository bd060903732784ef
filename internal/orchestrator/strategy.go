// Package orchestrator decides, turn by turn, whether a request has enough
// data to be processed and how the answer should be rendered.
package orchestrator

import (
	"github.com/nidhogg/nuka-tutor/internal/input"
	"github.com/nidhogg/nuka-tutor/internal/intent"
)

// OutputStrategy selects how a response is rendered.
type OutputStrategy string

const (
	RichUI    OutputStrategy = "rich_ui"
	VoiceText OutputStrategy = "voice_text"
	PlainText OutputStrategy = "plain_text"
	Hybrid    OutputStrategy = "hybrid"
)

type strategyKey struct {
	intent   intent.Intent
	modality input.Modality
}

var strategies = map[strategyKey]OutputStrategy{
	{intent.CheckIn, input.Form}:   RichUI,
	{intent.CheckIn, input.Voice}:  VoiceText,
	{intent.CheckIn, input.Hybrid}: Hybrid,

	{intent.PracticeSetup, input.Form}:   RichUI,
	{intent.PracticeSetup, input.Voice}:  VoiceText,
	{intent.PracticeSetup, input.Hybrid}: Hybrid,

	{intent.Verification, input.Form}:  RichUI,
	{intent.Verification, input.Voice}: VoiceText,

	{intent.OutcomeDiscovery, input.Form}:   RichUI,
	{intent.OutcomeDiscovery, input.Voice}:  VoiceText,
	{intent.OutcomeDiscovery, input.Hybrid}: Hybrid,

	{intent.ApplicationEvent, input.Form}:   RichUI,
	{intent.ApplicationEvent, input.Voice}:  VoiceText,
	{intent.ApplicationEvent, input.Hybrid}: Hybrid,

	{intent.General, input.Voice}: VoiceText,
}

// StrategyFor looks up the rendering strategy of an (intent, modality) pair.
// Unmapped pairs render as plain text.
func StrategyFor(in intent.Intent, m input.Modality) OutputStrategy {
	if s, ok := strategies[strategyKey{in, m}]; ok {
		return s
	}
	return PlainText
}

// WantsUI reports whether s carries a UI description.
func (s OutputStrategy) WantsUI() bool { return s == RichUI || s == Hybrid }
