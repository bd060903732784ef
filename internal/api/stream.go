package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nidhogg/nuka-tutor/internal/tutor"
	"go.uber.org/zap"
)

func wantsStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream") || r.URL.Query().Get("stream") == "1"
}

// sse writes server-sent events.
type sse struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSE(w http.ResponseWriter) (*sse, bool) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	return &sse{w: w, flusher: f}, true
}

func (s *sse) send(event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sse) comment(text string) {
	fmt.Fprintf(s.w, ": %s\n\n", text)
	s.flusher.Flush()
}

// streamTurn runs a turn and streams the reply as "chunk" events followed by
// one "done" event carrying the full response, or an "error" event.
func (h *Handler) streamTurn(w http.ResponseWriter, r *http.Request, req tutor.Request) {
	// Reject unknown sessions before committing to an event stream.
	if _, err := h.svc.Status(r.Context(), req.SessionID); err != nil {
		h.fail(w, err)
		return
	}
	stream, ok := newSSE(w)
	if !ok {
		writeJSON(w, http.StatusNotAcceptable, map[string]string{"error": "streaming unsupported"})
		return
	}

	// Chunks arrive on the session worker; the handler goroutine owns the
	// response writer.
	chunks := make(chan string, 64)
	req.OnChunk = func(c string) {
		select {
		case chunks <- c:
		case <-r.Context().Done():
		}
	}

	type outcome struct {
		resp *tutor.Response
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		resp, err := h.svc.HandleTurn(r.Context(), req)
		done <- outcome{resp, err}
	}()

	for {
		select {
		case c := <-chunks:
			if err := stream.send("chunk", map[string]string{"text": c}); err != nil {
				h.logger.Debug("stream client went away", zap.Error(err))
			}
		case out := <-done:
		drain:
			for {
				select {
				case c := <-chunks:
					stream.send("chunk", map[string]string{"text": c})
				default:
					break drain
				}
			}
			if out.err != nil {
				stream.send("error", map[string]any{"error": out.err.Error(), "status": statusFor(out.err)})
				return
			}
			stream.send("done", out.resp)
			return
		}
	}
}

// streamEvents follows a learner's notification stream.
func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	if h.opts.Events == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "event stream not configured"})
		return
	}
	learnerID := chi.URLParam(r, "id")
	if _, err := h.store.GetLearner(r.Context(), learnerID); err != nil {
		h.fail(w, err)
		return
	}
	stream, ok := newSSE(w)
	if !ok {
		writeJSON(w, http.StatusNotAcceptable, map[string]string{"error": "streaming unsupported"})
		return
	}
	stream.comment("subscribed")

	events := h.opts.Events.Subscribe(r.Context(), learnerID)
	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := stream.send(string(ev.Type), ev); err != nil {
				return
			}
		case <-keepalive.C:
			stream.comment("keepalive")
		case <-r.Context().Done():
			return
		}
	}
}
