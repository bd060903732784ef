package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nidhogg/nuka-tutor/internal/learnctx"
	"github.com/nidhogg/nuka-tutor/internal/mode"
	"go.uber.org/zap"
)

// SectionPriority orders prompt sections for trimming (higher = trimmed last).
type SectionPriority int

const (
	PriorityConversation SectionPriority = 1 // trimmed first, oldest lines
	PriorityApplications SectionPriority = 2
	PriorityKnowledge    SectionPriority = 3
	PriorityContext      SectionPriority = 4
	PriorityAdaptation   SectionPriority = 5
	PriorityFixed        SectionPriority = 6 // never trimmed
)

// Section is one titled block of the turn prompt.
type Section struct {
	Title    string
	Priority SectionPriority
	Lines    []string
	// TrimHead drops the oldest lines first instead of the last ones.
	TrimHead bool
}

func (s *Section) tokens() int {
	n := learnctx.EstimateTokens(s.Title)
	for _, l := range s.Lines {
		n += learnctx.EstimateTokens(l)
	}
	return n
}

func (s *Section) render(b *strings.Builder) {
	if len(s.Lines) == 0 {
		return
	}
	if s.Title != "" {
		fmt.Fprintf(b, "## %s\n", s.Title)
	}
	for _, l := range s.Lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
}

// Prompt is the assembled request for one turn.
type Prompt struct {
	System   string
	Sections []*Section
	Tokens   int
}

// Body renders every non-empty section in order.
func (p *Prompt) Body() string {
	var b strings.Builder
	for _, s := range p.Sections {
		s.render(&b)
	}
	return strings.TrimSpace(b.String())
}

// fit trims sections, lowest priority first, until the prompt fits budget.
// Returns the number of tokens freed.
func (p *Prompt) fit(budget int, logger *zap.Logger) int {
	total := learnctx.EstimateTokens(p.System)
	for _, s := range p.Sections {
		total += s.tokens()
	}
	p.Tokens = total
	if budget <= 0 || total <= budget {
		return 0
	}

	logger.Debug("prompt exceeds budget, trimming", zap.Int("total", total), zap.Int("budget", budget))
	before := total
	for prio := PriorityConversation; prio < PriorityFixed && total > budget; prio++ {
		for _, s := range p.Sections {
			if s.Priority != prio {
				continue
			}
			for total > budget && len(s.Lines) > 1 {
				var dropped string
				if s.TrimHead {
					dropped, s.Lines = s.Lines[0], s.Lines[1:]
				} else {
					dropped, s.Lines = s.Lines[len(s.Lines)-1], s.Lines[:len(s.Lines)-1]
				}
				total -= learnctx.EstimateTokens(dropped)
			}
		}
	}
	p.Tokens = total
	return before - total
}

// BuildPrompt turns a turn context and the learner's input into the oracle
// prompt.
func BuildPrompt(tc *learnctx.TurnContext, in TurnInput) *Prompt {
	p := &Prompt{System: systemPrompt(tc.Mode)}

	adaptation := &Section{Title: "Adaptation", Priority: PriorityAdaptation}
	sc := tc.SessionContext
	if sc.EnergyLevel > 0 {
		adaptation.Lines = append(adaptation.Lines, fmt.Sprintf("Energy: %d/100", sc.EnergyLevel))
	}
	if sc.TimeAvailable != "" {
		adaptation.Lines = append(adaptation.Lines, "Time available: "+sc.TimeAvailable)
	}
	if sc.IntentionStrength != "" {
		adaptation.Lines = append(adaptation.Lines, "Intention: "+sc.IntentionStrength)
	}
	if sc.Environment != "" {
		adaptation.Lines = append(adaptation.Lines, "Environment: "+sc.Environment)
	}

	ctxSec := &Section{Title: "Context", Priority: PriorityContext}
	if tc.LearnerName != "" {
		ctxSec.Lines = append(ctxSec.Lines, "Learner: "+tc.LearnerName)
	}
	if tc.DaysSinceLastSession >= 0 {
		ctxSec.Lines = append(ctxSec.Lines, fmt.Sprintf("Days since last session: %d", tc.DaysSinceLastSession))
	} else {
		ctxSec.Lines = append(ctxSec.Lines, "This is the learner's first session.")
	}
	if o := tc.Outcome; o != nil {
		ctxSec.Lines = append(ctxSec.Lines,
			fmt.Sprintf("Active outcome: %s", o.Description),
			fmt.Sprintf("Progress: %d of %d concepts understood, %d being taught, %d identified", o.Understood, o.Total, o.Teaching, o.Identified))
	} else {
		ctxSec.Lines = append(ctxSec.Lines, "No active outcome yet.")
	}
	if f := tc.UrgentFollowup; f != nil {
		ctxSec.Lines = append(ctxSec.Lines, fmt.Sprintf("Pending follow-up [%s]: %q planned %s (%d days ago)",
			f.ApplicationID, f.Context, f.PlannedDate.Format("2006-01-02"), f.DaysOverdue))
	}

	known := &Section{Title: "Knowledge", Priority: PriorityKnowledge}
	if c := tc.CurrentConcept; c != nil {
		line := fmt.Sprintf("Current concept: %s (%s)", c.Name, c.Status)
		if c.NeedsReverify {
			line += ", needs re-verification"
		}
		known.Lines = append(known.Lines, line)
	}
	for _, r := range tc.RelatedConcepts {
		line := fmt.Sprintf("Related: %s (strength %.2f", r.Name, r.Strength)
		if r.Proven {
			line += ", understood"
		}
		line += ")"
		if r.Relationship != "" {
			line += ": " + r.Relationship
		}
		known.Lines = append(known.Lines, line)
	}
	for _, pc := range tc.ProvenConcepts {
		line := fmt.Sprintf("Understood: %s (confidence %.2f)", pc.Name, pc.Confidence)
		if pc.NeedsReverify {
			line += ", re-verify before building on it"
		}
		known.Lines = append(known.Lines, line)
	}

	apps := &Section{Title: "Past applications", Priority: PriorityApplications}
	for _, a := range tc.RelevantApplications {
		line := "- " + a.Context
		if a.WhatWorked != "" {
			line += "; worked: " + a.WhatWorked
		}
		if a.WhatStruggled != "" {
			line += "; struggled: " + a.WhatStruggled
		}
		apps.Lines = append(apps.Lines, line)
	}

	hints := &Section{Title: "Hints", Priority: PriorityAdaptation}
	for _, h := range tc.Hints {
		hints.Lines = append(hints.Lines, "- "+h)
	}

	convo := &Section{Title: "Recent conversation", Priority: PriorityConversation, TrimHead: true}
	for _, m := range tc.RecentMessages {
		convo.Lines = append(convo.Lines, fmt.Sprintf("%s: %s", m.Role, m.Content))
	}

	user := &Section{Title: "Learner says", Priority: PriorityFixed, Lines: []string{in.Text}}

	p.Sections = []*Section{adaptation, ctxSec, known, apps, hints, convo, collected(in), user}
	return p
}

// collected lists structured fields gathered for the turn, sorted by key.
func collected(in TurnInput) *Section {
	sec := &Section{Title: "Collected", Priority: PriorityFixed}
	if len(in.Data) == 0 {
		return sec
	}
	keys := make([]string, 0, len(in.Data))
	for k := range in.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if in.Intent != "" {
		sec.Lines = append(sec.Lines, "Intent: "+in.Intent)
	}
	for _, k := range keys {
		sec.Lines = append(sec.Lines, fmt.Sprintf("%s: %v", k, in.Data[k]))
	}
	return sec
}

func systemPrompt(m mode.Mode) string {
	def, _ := mode.Lookup(m)
	next := make([]string, len(def.Next))
	for i, n := range def.Next {
		next[i] = string(n)
	}

	var b strings.Builder
	b.WriteString("You are a patient tutor who teaches toward concrete outcomes the learner cares about. ")
	b.WriteString("Teach one concept at a time, build on what the learner already understands and ask before you tell.\n\n")
	fmt.Fprintf(&b, "Current mode: %s\n", m)
	fmt.Fprintf(&b, "Goal: %s\n", def.Goal)
	fmt.Fprintf(&b, "Expected output: %s\n", def.ExpectedOutput)
	if len(next) > 0 {
		fmt.Fprintf(&b, "When the goal is met, propose one of these next modes: %s\n", strings.Join(next, ", "))
	}
	b.WriteString(modeInstructions[m])
	b.WriteString("\nAnswer with a single JSON object.")
	return b.String()
}

var modeInstructions = map[mode.Mode]string{
	mode.CheckIn:          "Keep it to one or two warm questions. Report what you learn as state_change.",
	mode.Followup:         "Ask about the pending follow-up. Report the learner's account as followup_response and list any gaps it revealed.",
	mode.OutcomeDiscovery: "Help the learner name one concrete outcome. Report it as outcome_defined once they agree.",
	mode.Framing:          "Describe what success looks like for the outcome and check the learner agrees.",
	mode.Probing:          "Ask questions that reveal what blocks the outcome. Report each gap as gap_identified.",
	mode.Teaching:         "Explain the current concept with an example from the learner's world. Bridge from concepts they already understand and report any connection_discovered.",
	mode.Verification:     "Ask the learner to explain or apply the concept. Only report proof_earned when the answer shows real understanding.",
	mode.OutcomeCheck:     "Check whether the learner can now achieve the outcome. Set outcome_achieved only when they clearly can.",
}
