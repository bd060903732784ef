package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestRESTRoundTrip(t *testing.T) {
	gw := NewGateway(zap.NewNop())
	rest := NewRESTAdapter(zap.NewNop())
	gw.Register(rest)
	gw.SetHandler(func(msg *InboundMessage) {
		gw.Send(context.Background(), &OutboundMessage{
			Platform:  msg.Platform,
			ChannelID: msg.ChannelID,
			Content:   "echo: " + msg.Content,
		})
	})

	ts := httptest.NewServer(rest.Routes())
	defer ts.Close()

	body, _ := json.Marshal(map[string]string{"user_id": "u1", "content": "hi"})
	resp, err := http.Post(ts.URL+"/message", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out OutboundMessage
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Content != "echo: hi" {
		t.Fatalf("reply = %q", out.Content)
	}

	st := gw.StatusAll()
	if len(st) != 1 || !st[0].Connected || !strings.Contains(st[0].Details, "served=1") {
		t.Fatalf("status = %+v", st)
	}
}

func TestRESTRejectsMissingUser(t *testing.T) {
	rest := NewRESTAdapter(zap.NewNop())
	ts := httptest.NewServer(rest.Routes())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/message", "application/json", strings.NewReader(`{"content":"hi"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestSendUnknownPlatform(t *testing.T) {
	gw := NewGateway(zap.NewNop())
	if err := gw.Send(context.Background(), &OutboundMessage{Platform: "irc"}); err == nil {
		t.Fatal("expected error for unregistered platform")
	}
}

func TestSplitMessage(t *testing.T) {
	long := strings.Repeat("a", 15) + "\n" + strings.Repeat("b", 15)
	parts := splitMessage(long, 20)
	if len(parts) != 2 || parts[0] != strings.Repeat("a", 15)+"\n" {
		t.Fatalf("parts = %q", parts)
	}
	if got := splitMessage("short", 20); len(got) != 1 {
		t.Fatalf("short split = %q", got)
	}
	if strings.Join(splitMessage(strings.Repeat("x", 45), 20), "") != strings.Repeat("x", 45) {
		t.Fatal("split lost content")
	}
}
