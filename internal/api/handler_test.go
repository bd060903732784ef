package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nidhogg/nuka-tutor/internal/engine"
	"github.com/nidhogg/nuka-tutor/internal/gateway"
	"github.com/nidhogg/nuka-tutor/internal/intent"
	"github.com/nidhogg/nuka-tutor/internal/knowledge"
	"github.com/nidhogg/nuka-tutor/internal/learnctx"
	"github.com/nidhogg/nuka-tutor/internal/notify"
	"github.com/nidhogg/nuka-tutor/internal/oracle/oracletest"
	"github.com/nidhogg/nuka-tutor/internal/orchestrator"
	"github.com/nidhogg/nuka-tutor/internal/sessionstate"
	"github.com/nidhogg/nuka-tutor/internal/tutor"
	"go.uber.org/zap"
)

// newTestServer wires a Handler over in-memory deps (no Postgres/Neo4j/Redis).
func newTestServer(t *testing.T, o *oracletest.Scripted, opts Options) *httptest.Server {
	t.Helper()
	logger := zap.NewNop()
	mem := knowledge.NewMemoryStore()
	builder := learnctx.NewBuilder(learnctx.DefaultBuilderConfig(), nil, logger)
	eng := engine.New(mem, o, builder, engine.Config{}, logger)
	state := sessionstate.NewManager(nil, logger)
	svc := tutor.New(eng,
		intent.NewExtractor(o, time.Second, logger),
		orchestrator.New(state, o, time.Second, logger),
		state, nil, tutor.Config{}, logger)
	t.Cleanup(svc.Close)

	ts := httptest.NewServer(NewHandler(svc, mem, opts, logger).Router())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func putJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPut, ts.URL+path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT %s: %v", path, err)
	}
	return resp
}

func getJSON(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func deleteReq(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodDelete, ts.URL+path, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE %s: %v", path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("expected %d, got %d: %s", want, resp.StatusCode, body)
	}
}

// createSession registers a learner with an active outcome and opens a session.
func createSession(t *testing.T, ts *httptest.Server, modality string) (learnerID, sessionID string) {
	t.Helper()
	resp := postJSON(t, ts, "/api/learners", map[string]string{"name": "Ada", "outcome": "negotiate a raise"})
	expectStatus(t, resp, http.StatusCreated)
	var lr learnerResponse
	decodeJSON(t, resp, &lr)
	if lr.Outcome == nil || lr.Learner.ActiveOutcomeID != lr.Outcome.ID {
		t.Fatalf("learner = %+v", lr)
	}

	resp = postJSON(t, ts, "/api/sessions", map[string]string{"learner_id": lr.Learner.ID, "modality": modality})
	expectStatus(t, resp, http.StatusCreated)
	var st engine.Status
	decodeJSON(t, resp, &st)
	if st.Mode != "check_in" || st.OutcomeID != lr.Outcome.ID {
		t.Fatalf("status = %+v", st)
	}
	return lr.Learner.ID, st.SessionID
}

// --- Tests ---

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t, oracletest.Text(), Options{})

	resp := getJSON(t, ts, "/api/health")
	expectStatus(t, resp, http.StatusOK)
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
}

func TestSessionLifecycle(t *testing.T) {
	ts := newTestServer(t, oracletest.Text(`{"message":"What happens when you ask for more?"}`), Options{})
	_, sid := createSession(t, ts, "form")

	resp := postJSON(t, ts, "/api/sessions/"+sid+"/turns", map[string]interface{}{
		"modality":  "form",
		"form_id":   "check-in",
		"form_data": map[string]interface{}{"energyLevel": 70, "timeAvailable": "focused"},
	})
	expectStatus(t, resp, http.StatusOK)
	var turn tutor.Response
	decodeJSON(t, resp, &turn)
	if turn.Message != "What happens when you ask for more?" || turn.Mode != "probing" || !turn.CheckInComplete {
		t.Fatalf("turn = %+v", turn)
	}
	if turn.UI == nil || turn.UI.VoiceText != turn.Message {
		t.Fatalf("rich UI missing voice text: %+v", turn.UI)
	}

	resp = getJSON(t, ts, "/api/sessions/"+sid)
	expectStatus(t, resp, http.StatusOK)
	var st engine.Status
	decodeJSON(t, resp, &st)
	if st.Messages != 2 {
		t.Errorf("expected 2 messages, got %d", st.Messages)
	}

	resp = postJSON(t, ts, "/api/sessions/"+sid+"/end", map[string]string{"ending_state": "natural"})
	expectStatus(t, resp, http.StatusOK)
	var ended knowledge.Session
	decodeJSON(t, resp, &ended)
	if ended.EndingState != knowledge.EndingNatural || ended.EndedAt == nil {
		t.Fatalf("ended = %+v", ended)
	}

	resp = postJSON(t, ts, "/api/sessions/"+sid+"/end", map[string]string{})
	expectStatus(t, resp, http.StatusConflict)
	resp.Body.Close()
}

func TestRequestErrors(t *testing.T) {
	ts := newTestServer(t, oracletest.Text(), Options{})
	learnerID, sid := createSession(t, ts, "chat")

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
	}{
		{"missing name", http.MethodPost, "/api/learners", map[string]string{}, http.StatusUnprocessableEntity},
		{"missing learner id", http.MethodPost, "/api/sessions", map[string]string{}, http.StatusUnprocessableEntity},
		{"bad modality", http.MethodPost, "/api/sessions", map[string]string{"learner_id": learnerID, "modality": "telepathy"}, http.StatusUnprocessableEntity},
		{"unknown learner", http.MethodPost, "/api/sessions", map[string]string{"learner_id": "nobody"}, http.StatusNotFound},
		{"unknown session", http.MethodGet, "/api/sessions/missing", nil, http.StatusNotFound},
		{"turn on unknown session", http.MethodPost, "/api/sessions/missing/turns", map[string]string{"text": "hi"}, http.StatusNotFound},
		{"empty turn", http.MethodPost, "/api/sessions/" + sid + "/turns", map[string]string{}, http.StatusUnprocessableEntity},
		{"bad ending state", http.MethodPost, "/api/sessions/" + sid + "/end", map[string]string{"ending_state": "exploded"}, http.StatusUnprocessableEntity},
		{"unknown learner apps", http.MethodGet, "/api/learners/nobody/applications", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp *http.Response
			switch tt.method {
			case http.MethodGet:
				resp = getJSON(t, ts, tt.path)
			default:
				resp = postJSON(t, ts, tt.path, tt.body)
			}
			expectStatus(t, resp, tt.want)
			resp.Body.Close()
		})
	}

	resp, err := http.Post(ts.URL+"/api/sessions", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatal(err)
	}
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestSessionStateEndpoints(t *testing.T) {
	ts := newTestServer(t, oracletest.Text(), Options{})
	_, sid := createSession(t, ts, "chat")
	base := "/api/sessions/" + sid

	resp := putJSON(t, ts, base+"/modality", map[string]string{"modality": "voice"})
	expectStatus(t, resp, http.StatusOK)
	var st sessionstate.State
	decodeJSON(t, resp, &st)
	if st.ModalityPreference != "voice" {
		t.Errorf("modality = %q", st.ModalityPreference)
	}

	resp = putJSON(t, ts, base+"/modality", map[string]string{"modality": "smoke"})
	expectStatus(t, resp, http.StatusUnprocessableEntity)
	resp.Body.Close()

	resp = postJSON(t, ts, base+"/collected", map[string]interface{}{
		"intent": "check_in",
		"data":   map[string]interface{}{"energyLevel": 50},
	})
	expectStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp, &st)
	if st.CheckInData.EnergyLevel == nil || *st.CheckInData.EnergyLevel != 50 {
		t.Fatalf("check-in data = %+v", st.CheckInData)
	}
	if st.Pending == nil || len(st.Pending.MissingFields) == 0 {
		t.Fatalf("pending = %+v", st.Pending)
	}

	resp = getJSON(t, ts, base+"/prefill/check_in")
	expectStatus(t, resp, http.StatusOK)
	var prefill struct {
		Intent string                 `json:"intent"`
		Data   map[string]interface{} `json:"data"`
	}
	decodeJSON(t, resp, &prefill)
	if prefill.Intent != "check_in" || prefill.Data["energyLevel"] != float64(50) {
		t.Fatalf("prefill = %+v", prefill)
	}

	resp = getJSON(t, ts, base+"/prefill/astrology")
	expectStatus(t, resp, http.StatusUnprocessableEntity)
	resp.Body.Close()

	resp = deleteReq(t, ts, base+"/state")
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = getJSON(t, ts, base+"/state")
	expectStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp, &st)
	if st.Pending != nil || st.ModalityPreference != "chat" {
		t.Fatalf("state after clear = %+v", st)
	}

	resp = getJSON(t, ts, "/api/sessions/missing/state")
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestStreamTurn(t *testing.T) {
	ts := newTestServer(t, oracletest.Text(`{"message":"Streaming works."}`), Options{})
	_, sid := createSession(t, ts, "form")

	b, _ := json.Marshal(map[string]interface{}{
		"form_id":   "check-in",
		"form_data": map[string]interface{}{"energyLevel": 60, "timeAvailable": "quick"},
	})
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/sessions/"+sid+"/turns", bytes.NewReader(b))
	req.Header.Set("Accept", "text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "event: chunk") || !strings.Contains(string(body), "event: done") {
		t.Fatalf("stream = %s", body)
	}
	if !strings.Contains(string(body), "Streaming works.") {
		t.Fatalf("final message missing: %s", body)
	}
}

type fakeEvents struct{ events []*notify.Event }

func (f *fakeEvents) Subscribe(_ context.Context, _ string) <-chan *notify.Event {
	ch := make(chan *notify.Event, len(f.events))
	for _, e := range f.events {
		ch <- e
	}
	close(ch)
	return ch
}

type fakeSweeper struct{ n int }

func (f *fakeSweeper) SweepNow(context.Context) int { return f.n }

func TestOptionalCollaborators(t *testing.T) {
	ts := newTestServer(t, oracletest.Text(), Options{})
	for _, path := range []string{"/api/gateway/status", "/api/learners/x/events"} {
		resp := getJSON(t, ts, path)
		expectStatus(t, resp, http.StatusServiceUnavailable)
		resp.Body.Close()
	}
	resp := postJSON(t, ts, "/api/followups/sweep", nil)
	expectStatus(t, resp, http.StatusServiceUnavailable)
	resp.Body.Close()

	gw := gateway.NewGateway(zap.NewNop())
	rest := gateway.NewRESTAdapter(zap.NewNop())
	gw.Register(rest)
	events := &fakeEvents{events: []*notify.Event{{Type: notify.EventFollowupDue, Text: "How did it go?"}}}
	ts = newTestServer(t, oracletest.Text(), Options{Gateway: gw, RESTGW: rest, Events: events, Sweeper: &fakeSweeper{n: 3}})

	resp = getJSON(t, ts, "/api/gateway/status")
	expectStatus(t, resp, http.StatusOK)
	var statuses []gateway.AdapterStatus
	decodeJSON(t, resp, &statuses)
	if len(statuses) != 1 || statuses[0].Platform != "rest" {
		t.Fatalf("statuses = %+v", statuses)
	}

	resp = postJSON(t, ts, "/api/followups/sweep", nil)
	expectStatus(t, resp, http.StatusOK)
	var swept map[string]int
	decodeJSON(t, resp, &swept)
	if swept["promoted"] != 3 {
		t.Fatalf("sweep = %v", swept)
	}

	learnerID, _ := createSession(t, ts, "chat")
	resp = getJSON(t, ts, "/api/learners/"+learnerID+"/events")
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "event: followup_due") || !strings.Contains(string(body), "How did it go?") {
		t.Fatalf("events = %s", body)
	}
}
