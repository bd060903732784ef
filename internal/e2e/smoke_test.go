//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

var baseURL string

func TestMain(m *testing.M) {
	baseURL = os.Getenv("TUTOR_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	// Wait for server readiness (up to 30s)
	ready := false
	for i := 0; i < 30; i++ {
		resp, err := http.Get(baseURL + "/api/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				ready = true
				break
			}
		}
		time.Sleep(1 * time.Second)
	}
	if !ready {
		fmt.Fprintf(os.Stderr, "server at %s not ready after 30s\n", baseURL)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

var client = &http.Client{Timeout: 90 * time.Second}

// call sends a JSON request and decodes the JSON reply into out.
func call(t *testing.T, method, path string, body, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, baseURL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			t.Fatalf("unmarshal response: %v (body: %s)", err, string(raw))
		}
	}
	return resp.StatusCode
}

// sendMessage posts a chat message through the REST gateway and returns the reply.
func sendMessage(t *testing.T, content string) string {
	t.Helper()
	var msg struct {
		Content string `json:"content"`
	}
	status := call(t, http.MethodPost, "/api/gateway/rest/message", map[string]string{
		"user_id":   "smoke-test",
		"user_name": "smokebot",
		"content":   content,
	}, &msg)
	if status != http.StatusOK {
		t.Fatalf("unexpected status %d", status)
	}
	return msg.Content
}

func TestChatCommands(t *testing.T) {
	reply := sendMessage(t, "/start")
	if !strings.HasPrefix(reply, "New session started") {
		t.Errorf("expected a new session, got: %s", reply)
	}
	if reply := sendMessage(t, "/status"); !strings.Contains(reply, "Mode:") {
		t.Errorf("expected status with mode, got: %s", reply)
	}
	if reply := sendMessage(t, "/end"); !strings.HasPrefix(reply, "Session ended.") {
		t.Errorf("expected session end, got: %s", reply)
	}
}

func TestPlainMessage(t *testing.T) {
	reply := sendMessage(t, "I have about an hour and I'm feeling sharp today")
	if len(reply) <= 10 {
		t.Errorf("expected meaningful response (len > 10), got len=%d: %s", len(reply), reply)
	}
	t.Logf("reply: %.300s", reply)
}

func TestSessionOverAPI(t *testing.T) {
	var created struct {
		Learner struct {
			ID string `json:"id"`
		} `json:"learner"`
		Outcome struct {
			ID string `json:"id"`
		} `json:"outcome"`
	}
	if status := call(t, http.MethodPost, "/api/learners", map[string]string{
		"name":    "Smoke Learner",
		"outcome": "Give clear code review feedback",
	}, &created); status != http.StatusCreated {
		t.Fatalf("create learner: status %d", status)
	}

	var session struct {
		SessionID string `json:"session_id"`
		Mode      string `json:"mode"`
	}
	if status := call(t, http.MethodPost, "/api/sessions", map[string]string{
		"learner_id": created.Learner.ID,
		"outcome_id": created.Outcome.ID,
	}, &session); status != http.StatusCreated {
		t.Fatalf("start session: status %d", status)
	}

	var turn struct {
		Message string `json:"message"`
		Mode    string `json:"mode"`
	}
	path := "/api/sessions/" + session.SessionID
	if status := call(t, http.MethodPost, path+"/turns", map[string]string{
		"text": "About thirty minutes, energy is ok",
	}, &turn); status != http.StatusOK {
		t.Fatalf("turn: status %d", status)
	}
	if turn.Message == "" {
		t.Error("expected a tutor message")
	}
	t.Logf("mode=%s reply: %.200s", turn.Mode, turn.Message)

	if status := call(t, http.MethodPost, path+"/end", map[string]string{"ending_state": "natural"}, nil); status != http.StatusOK {
		t.Fatalf("end session: status %d", status)
	}
	if status := call(t, http.MethodPost, path+"/turns", map[string]string{"text": "hello?"}, nil); status != http.StatusConflict {
		t.Errorf("turn after end: expected 409, got %d", status)
	}
}
