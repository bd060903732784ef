package tutor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nidhogg/nuka-tutor/internal/engine"
	"github.com/nidhogg/nuka-tutor/internal/input"
	"github.com/nidhogg/nuka-tutor/internal/intent"
	"github.com/nidhogg/nuka-tutor/internal/knowledge"
	"github.com/nidhogg/nuka-tutor/internal/learnctx"
	"github.com/nidhogg/nuka-tutor/internal/mode"
	"github.com/nidhogg/nuka-tutor/internal/oracle"
	"github.com/nidhogg/nuka-tutor/internal/oracle/oracletest"
	"github.com/nidhogg/nuka-tutor/internal/orchestrator"
	"github.com/nidhogg/nuka-tutor/internal/sessionstate"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

type fixture struct {
	svc     *Service
	mem     *knowledge.MemoryStore
	learner *knowledge.Learner
}

func newFixture(t *testing.T, o oracle.Oracle, cfg Config, indexer Indexer) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()
	mem := knowledge.NewMemoryStore()
	l := &knowledge.Learner{Name: "Ada"}
	require.NoError(t, mem.CreateLearner(ctx, l))
	out := &knowledge.Outcome{LearnerID: l.ID, Description: "negotiate a raise"}
	require.NoError(t, mem.CreateOutcome(ctx, out))
	l.ActiveOutcomeID = out.ID
	require.NoError(t, mem.UpdateLearner(ctx, l))

	builder := learnctx.NewBuilder(learnctx.DefaultBuilderConfig(), nil, logger)
	eng := engine.New(mem, o, builder, engine.Config{}, logger)
	state := sessionstate.NewManager(nil, logger)
	svc := New(eng,
		intent.NewExtractor(o, time.Second, logger),
		orchestrator.New(state, o, time.Second, logger),
		state, indexer, cfg, logger)
	t.Cleanup(svc.Close)
	return &fixture{svc: svc, mem: mem, learner: l}
}

func (f *fixture) start(t *testing.T, m input.Modality) string {
	t.Helper()
	st, err := f.svc.StartSession(context.Background(), f.learner.ID, "", m)
	require.NoError(t, err)
	require.Equal(t, mode.CheckIn, st.Mode)
	return st.SessionID
}

func TestFormCheckInMovesToProbing(t *testing.T) {
	o := oracletest.Text(`{"message":"What usually happens when you ask for more?"}`)
	f := newFixture(t, o, Config{}, nil)
	sid := f.start(t, input.Form)

	resp, err := f.svc.HandleTurn(context.Background(), Request{
		SessionID: sid,
		Modality:  input.Form,
		FormID:    "daily-check-in",
		FormData:  map[string]any{"timeAvailable": "focused", "energyLevel": 75.0},
	})
	require.NoError(t, err)
	require.Equal(t, intent.CheckIn, resp.Intent)
	require.Equal(t, orchestrator.Process, resp.Action)
	require.Equal(t, orchestrator.RichUI, resp.Strategy)
	require.True(t, resp.CheckInComplete)
	require.Equal(t, mode.Probing, resp.Mode)
	require.NotNil(t, resp.UI)
	require.Equal(t, resp.Message, resp.UI.VoiceText)
	require.Equal(t, 1, o.Calls(), "form input needs no extraction")

	s, err := f.mem.GetSession(context.Background(), sid)
	require.NoError(t, err)
	require.Equal(t, 75, s.Context.EnergyLevel)
	require.Equal(t, "focused", s.Context.TimeAvailable)

	st := f.svc.State().Get(context.Background(), sid)
	require.Len(t, st.Messages, 2)
	require.Equal(t, input.Form, st.Messages[0].Modality)
}

func TestVoiceCheckInCollectsAcrossTurns(t *testing.T) {
	ctx := context.Background()
	o := oracletest.Text(
		`{"intent":"check_in","data":{"timeAvailable":"quick"},"confidence":0.8}`,
		`And how's your energy right now?`,
		`{"intent":"check_in","data":{"energyLevel":40},"confidence":0.9}`,
		`{"message":"Let's keep it light today."}`,
	)
	f := newFixture(t, o, Config{}, nil)
	sid := f.start(t, input.Voice)

	first, err := f.svc.HandleTurn(ctx, Request{SessionID: sid, Text: "I only have a few minutes"})
	require.NoError(t, err)
	require.Equal(t, orchestrator.RequestMore, first.Action)
	require.Equal(t, orchestrator.VoiceText, first.Strategy)
	require.Equal(t, "And how's your energy right now?", first.Message)
	require.Equal(t, []string{"energyLevel"}, first.Pending.MissingFields)
	require.Equal(t, mode.CheckIn, first.Mode)

	// The learner switches to chat mid-collection.
	second, err := f.svc.HandleTurn(ctx, Request{SessionID: sid, Text: "pretty tired, maybe 40", Modality: input.Chat})
	require.NoError(t, err)
	require.Equal(t, orchestrator.Process, second.Action)
	require.Equal(t, mode.Probing, second.Mode)
	require.Equal(t, "Let's keep it light today.", second.Message)

	_, stillPending := f.svc.State().GetPending(ctx, sid)
	require.False(t, stillPending)
	s, _ := f.mem.GetSession(ctx, sid)
	require.Equal(t, 40, s.Context.EnergyLevel)
	require.Equal(t, "quick", s.Context.TimeAvailable)

	reqs := o.Requests()
	require.Equal(t, oracle.PurposeIntent, reqs[0].Purpose)
	require.Equal(t, oracle.PurposeFollowup, reqs[1].Purpose)
	require.Contains(t, reqs[2].Prompt, "timeAvailable", "pending data is shown to the extractor")
	require.Equal(t, oracle.PurposeTurn, reqs[3].Purpose)
}

func TestChatAfterCheckInSkipsExtraction(t *testing.T) {
	ctx := context.Background()
	o := oracletest.Text(`{"message":"Great."}`, `{"message":"Tell me more."}`)
	f := newFixture(t, o, Config{}, nil)
	sid := f.start(t, input.Chat)

	_, err := f.svc.HandleTurn(ctx, Request{SessionID: sid, Modality: input.Form, FormID: "check-in",
		FormData: map[string]any{"timeAvailable": "deep", "energyLevel": 90}})
	require.NoError(t, err)

	resp, err := f.svc.HandleTurn(ctx, Request{SessionID: sid, Text: "I freeze when they say no"})
	require.NoError(t, err)
	require.Equal(t, intent.General, resp.Intent)
	require.Nil(t, resp.Extraction)
	require.Equal(t, "Tell me more.", resp.Message)
	require.Equal(t, 2, o.Calls())
}

func TestUnknownSessionIsNotFound(t *testing.T) {
	f := newFixture(t, oracletest.Text(), Config{}, nil)
	_, err := f.svc.HandleTurn(context.Background(), Request{SessionID: "missing", Text: "hi"})
	require.True(t, knowledge.IsNotFound(err), "got %v", err)
}

type recordingIndexer struct {
	mu   sync.Mutex
	apps []knowledge.ApplicationEvent
}

func (r *recordingIndexer) IndexApplications(_ context.Context, apps ...knowledge.ApplicationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apps = append(r.apps, apps...)
	return nil
}

func TestDetectedApplicationIsIndexed(t *testing.T) {
	ctx := context.Background()
	o := oracletest.Text(`{"message":"Good luck on Friday!","application_detected":{"context":"salary review with my manager","planned_date":"2026-11-06"}}`)
	idx := &recordingIndexer{}
	f := newFixture(t, o, Config{}, idx)
	sid := f.start(t, input.Chat)

	_, err := f.svc.HandleTurn(ctx, Request{SessionID: sid, Modality: input.Form, FormID: "check-in",
		FormData: map[string]any{"timeAvailable": "quick", "energyLevel": 60}})
	require.NoError(t, err)
	require.Len(t, idx.apps, 1)
	require.Equal(t, "salary review with my manager", idx.apps[0].Context)
}

func TestEndSessionThroughWorker(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, oracletest.Text(), Config{}, nil)
	sid := f.start(t, input.Chat)

	s, err := f.svc.EndSession(ctx, sid, knowledge.EndingInterrupted)
	require.NoError(t, err)
	require.Equal(t, knowledge.EndingInterrupted, s.EndingState)

	_, err = f.svc.EndSession(ctx, sid, "")
	require.ErrorIs(t, err, engine.ErrSessionEnded)
}

func TestTurnsAreSerializedPerSession(t *testing.T) {
	defer goleak.VerifyNone(t)

	var (
		mu      sync.Mutex
		active  = map[string]int{}
		overlap atomic.Bool
	)
	o := oracle.Func(func(ctx context.Context, req oracle.Request) (string, error) {
		mu.Lock()
		sid := sessionMarker(req.Prompt)
		active[sid]++
		if active[sid] > 1 {
			overlap.Store(true)
		}
		mu.Unlock()

		time.Sleep(2 * time.Millisecond)

		mu.Lock()
		active[sid]--
		mu.Unlock()
		return `{"message":"ok"}`, nil
	})

	f := newFixture(t, o, Config{MaxConcurrentTurns: 4}, nil)
	sessions := []string{f.start(t, input.Form), f.start(t, input.Form)}

	var wg sync.WaitGroup
	for _, sid := range sessions {
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.svc.HandleTurn(context.Background(), Request{
					SessionID: sid, Modality: input.Form, FormID: "general",
					FormData: map[string]any{"session": sid},
				})
				if err != nil {
					t.Errorf("turn: %v", err)
				}
			}()
		}
	}
	wg.Wait()
	require.False(t, overlap.Load(), "turns of one session overlapped")

	for _, sid := range sessions {
		st, err := f.svc.Status(context.Background(), sid)
		require.NoError(t, err)
		require.Equal(t, 10, st.Messages)
	}
	f.svc.Close()
}

// sessionMarker pulls the "session: <id>" line the form turn puts into the
// prompt.
func sessionMarker(prompt string) string {
	const tag = "session: "
	i := strings.Index(prompt, tag)
	if i < 0 {
		return ""
	}
	rest := prompt[i+len(tag):]
	for j, r := range rest {
		if r == '\n' || r == ';' {
			return rest[:j]
		}
	}
	return rest
}

func TestIdleWorkersExitAndCloseRejects(t *testing.T) {
	defer goleak.VerifyNone(t)

	o := oracletest.New().Always(`{"message":"ok"}`)
	f := newFixture(t, o, Config{WorkerIdle: 10 * time.Millisecond}, nil)
	sid := f.start(t, input.Form)

	_, err := f.svc.HandleTurn(context.Background(), Request{SessionID: sid, Modality: input.Form, FormID: "general"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		f.svc.mu.Lock()
		defer f.svc.mu.Unlock()
		return len(f.svc.workers) == 0
	}, time.Second, 5*time.Millisecond)

	f.svc.Close()
	_, err = f.svc.HandleTurn(context.Background(), Request{SessionID: sid, Text: "hi"})
	require.True(t, errors.Is(err, ErrClosed))
	_, err = f.svc.StartSession(context.Background(), f.learner.ID, "", input.Chat)
	require.ErrorIs(t, err, ErrClosed)
}

func TestCallerTimeoutDoesNotCancelTurn(t *testing.T) {
	o := oracle.Func(func(ctx context.Context, req oracle.Request) (string, error) {
		select {
		case <-time.After(200 * time.Millisecond):
			return `{"message":"real answer"}`, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})
	f := newFixture(t, o, Config{}, nil)
	sid := f.start(t, input.Chat)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.svc.HandleTurn(ctx, Request{SessionID: sid, Modality: input.Form, FormID: "check-in",
		FormData: map[string]any{"timeAvailable": "quick", "energyLevel": 60}})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The turn keeps running and commits the oracle's reply, not a fallback.
	require.Eventually(t, func() bool {
		s, err := f.mem.GetSession(context.Background(), sid)
		if err != nil || len(s.Messages) == 0 {
			return false
		}
		return s.Messages[len(s.Messages)-1].Content == "real answer"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestCollectedDataReachesTurnPrompt(t *testing.T) {
	ctx := context.Background()
	o := oracletest.Text(
		`{"message":"Ready when you are."}`,
		`{"intent":"practice_setup","data":{"scenario_type":"negotiation"},"confidence":0.9}`,
		`{"message":"Let's rehearse a tough negotiation."}`,
	)
	f := newFixture(t, o, Config{}, nil)
	sid := f.start(t, input.Chat)

	_, err := f.svc.HandleTurn(ctx, Request{SessionID: sid, Modality: input.Form, FormID: "check-in",
		FormData: map[string]any{"timeAvailable": "focused", "energyLevel": 70}})
	require.NoError(t, err)

	setup, err := f.svc.HandleTurn(ctx, Request{SessionID: sid, Modality: input.Form, FormID: "practice-setup",
		FormData: map[string]any{"difficulty": "hard"}})
	require.NoError(t, err)
	require.Equal(t, orchestrator.RequestMore, setup.Action)

	resp, err := f.svc.HandleTurn(ctx, Request{SessionID: sid, Modality: input.Voice, Text: "a salary negotiation please"})
	require.NoError(t, err)
	require.Equal(t, orchestrator.Process, resp.Action)
	require.Equal(t, intent.PracticeSetup, resp.Intent)

	reqs := o.Requests()
	last := reqs[len(reqs)-1]
	require.Equal(t, oracle.PurposeTurn, last.Purpose)
	require.Contains(t, last.Prompt, "Intent: practice_setup")
	require.Contains(t, last.Prompt, "difficulty: hard")
	require.Contains(t, last.Prompt, "scenario_type: negotiation")
}
