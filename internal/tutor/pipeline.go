package tutor

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/nidhogg/nuka-tutor/internal/engine"
	"github.com/nidhogg/nuka-tutor/internal/input"
	"github.com/nidhogg/nuka-tutor/internal/intent"
	"github.com/nidhogg/nuka-tutor/internal/knowledge"
	"github.com/nidhogg/nuka-tutor/internal/mode"
	"github.com/nidhogg/nuka-tutor/internal/orchestrator"
	"github.com/nidhogg/nuka-tutor/internal/persist"
	"github.com/nidhogg/nuka-tutor/internal/sessionstate"
	"go.uber.org/zap"
)

// Request is one inbound turn from any transport.
type Request struct {
	SessionID string         `json:"session_id"`
	Text      string         `json:"text"`
	Modality  input.Modality `json:"modality"`
	FormID    string         `json:"form_id,omitempty"`
	FormData  map[string]any `json:"form_data,omitempty"`
	// OnChunk receives partial reply text for streaming transports.
	OnChunk func(string) `json:"-"`
}

// Response is the reply plus the structured side channel.
type Response struct {
	SessionID       string                           `json:"session_id"`
	Message         string                           `json:"message"`
	Intent          intent.Intent                    `json:"intent"`
	Action          orchestrator.Action              `json:"action"`
	Strategy        orchestrator.OutputStrategy      `json:"output_strategy"`
	Mode            mode.Mode                        `json:"mode"`
	Extraction      *intent.Extraction               `json:"extraction,omitempty"`
	Pending         *sessionstate.PendingDataRequest `json:"pending_request,omitempty"`
	UI              *orchestrator.UIDescription      `json:"ui,omitempty"`
	CheckInComplete bool                             `json:"check_in_complete"`
	Turn            *engine.TurnResult               `json:"turn,omitempty"`
}

func (s *Service) handle(ctx context.Context, req Request) (*Response, error) {
	sid := req.SessionID
	status, err := s.engine.Status(ctx, sid)
	if err != nil {
		return nil, err
	}
	if req.Modality == "" {
		req.Modality = s.state.Get(ctx, sid).ModalityPreference
	}

	n := input.Normalize(req.Text, req.Modality, req.FormID, req.FormData)
	st := s.state.Get(ctx, sid)
	pending, hasPending := s.state.GetPending(ctx, sid)
	resp := &Response{SessionID: sid, Mode: status.Mode}

	if n.Intent == intent.PendingExtraction {
		if !st.CheckInComplete || hasPending {
			var pc *intent.PendingContext
			if hasPending {
				pc = &intent.PendingContext{Intent: pending.Intent, Data: pending.CollectedData}
			}
			ex := s.extractor.Extract(ctx, req.Text, pc)
			resp.Extraction = &ex
			n = n.WithExtraction(ex)
		} else {
			n = n.WithExtraction(intent.Extraction{Intent: intent.General})
		}
	}
	// An unknown extraction keeps the pending request alive; a different
	// resolved intent starts over.
	if hasPending && (n.Intent == pending.Intent || n.Intent == intent.Unknown) {
		n = input.MergeWithPending(n, pending.CollectedData, pending.Intent)
	}
	resp.Intent = n.Intent

	userText := req.Text
	if strings.TrimSpace(userText) == "" {
		userText = describe(n)
	}
	s.state.AppendMessage(ctx, sid, "user", userText, req.Modality)
	if n.Intent == intent.CheckIn {
		s.state.MergeCollected(ctx, sid, intent.CheckIn, n.Data)
	}

	d := s.orch.Decide(ctx, n, sid)
	resp.Action = d.Action
	resp.Strategy = d.Strategy
	if d.Action == orchestrator.RequestMore {
		resp.Message = d.FollowUp
		resp.Pending = d.Pending
		resp.UI = d.UI
		s.state.AppendMessage(ctx, sid, "assistant", resp.Message, req.Modality)
		return resp, nil
	}

	if n.Intent == intent.CheckIn && !st.CheckInComplete {
		next, err := s.engine.CompleteCheckIn(ctx, sid, checkInContext(n.Data))
		if err != nil {
			return nil, fmt.Errorf("complete check-in: %w", err)
		}
		s.state.CompleteCheckIn(ctx, sid, n.Data)
		resp.Mode = next
		s.logger.Info("Check-in processed", zap.String("session", sid), zap.String("next", string(next)))
	}
	resp.CheckInComplete = s.state.Get(ctx, sid).CheckInComplete

	turn, err := s.engine.ProcessTurn(ctx, sid, engine.TurnInput{
		Text:   userText,
		Intent: n.Intent.String(),
		Data:   n.Data,
	}, req.OnChunk)
	if err != nil {
		return nil, err
	}
	resp.Turn = turn
	resp.Message = turn.Message
	resp.Mode = turn.Mode
	if d.Strategy.WantsUI() {
		resp.UI = orchestrator.CardUI(modeTitle(turn.Mode), turn.Message)
	}
	s.index(ctx, turn.Commit)
	s.state.AppendMessage(ctx, sid, "assistant", turn.Message, req.Modality)
	return resp, nil
}

// index hands the applications a turn touched to the recall indexer.
func (s *Service) index(ctx context.Context, commit *persist.Result) {
	if s.indexer == nil || commit == nil {
		return
	}
	apps := append([]knowledge.ApplicationEvent(nil), commit.Applications...)
	if commit.Followup != nil {
		apps = append(apps, commit.Followup.Application)
	}
	if len(apps) == 0 {
		return
	}
	if err := s.indexer.IndexApplications(ctx, apps...); err != nil {
		s.logger.Warn("Application indexing failed", zap.Int("count", len(apps)), zap.Error(err))
	}
}

// checkInContext converts check-in fields into the session context.
func checkInContext(data map[string]any) knowledge.SessionContext {
	var sc knowledge.SessionContext
	if v, ok := intent.AsFloat(data["energyLevel"]); ok {
		sc.EnergyLevel = int(v)
	}
	sc.TimeAvailable, _ = data["timeAvailable"].(string)
	sc.Mindset, _ = data["mindset"].(string)
	sc.Environment, _ = data["environment"].(string)
	sc.IntentionStrength, _ = data["intentionStrength"].(string)
	return sc
}

// describe renders structured input as a line the conversation can read.
func describe(n input.Normalized) string {
	keys := make([]string, 0, len(n.Data))
	for k := range n.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", k, n.Data[k]))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("[%s]", n.Intent)
	}
	return fmt.Sprintf("[%s] %s", n.Intent, strings.Join(parts, "; "))
}

func modeTitle(m mode.Mode) string {
	s := strings.ReplaceAll(string(m), "_", " ")
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
