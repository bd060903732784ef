// Package api is the HTTP surface of the tutor: learners, sessions, turns
// and the cross-modality session state.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/nuka-tutor/internal/engine"
	"github.com/nidhogg/nuka-tutor/internal/gateway"
	"github.com/nidhogg/nuka-tutor/internal/input"
	"github.com/nidhogg/nuka-tutor/internal/intent"
	"github.com/nidhogg/nuka-tutor/internal/knowledge"
	"github.com/nidhogg/nuka-tutor/internal/notify"
	"github.com/nidhogg/nuka-tutor/internal/tutor"
	"go.uber.org/zap"
)

// EventSource streams learner events.
type EventSource interface {
	Subscribe(ctx context.Context, learnerID string) <-chan *notify.Event
}

// Sweeper runs a follow-up sweep on demand.
type Sweeper interface {
	SweepNow(ctx context.Context) int
}

// Options carries the optional collaborators of a Handler.
type Options struct {
	Gateway *gateway.Gateway
	RESTGW  *gateway.RESTAdapter
	Events  EventSource
	Sweeper Sweeper
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	svc    *tutor.Service
	store  knowledge.Store
	opts   Options
	logger *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(svc *tutor.Service, store knowledge.Store, opts Options, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, store: store, opts: opts, logger: logger}
}

// validationError marks a request the server understood but refuses.
type validationError struct{ msg string }

func (e *validationError) Error() string { return e.msg }

func invalid(format string, args ...any) error {
	return &validationError{msg: fmt.Sprintf(format, args...)}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Post("/learners", h.createLearner)
		r.Get("/learners/{id}", h.getLearner)
		r.Get("/learners/{id}/applications", h.listApplications)
		r.Get("/learners/{id}/events", h.streamEvents)

		r.Post("/sessions", h.startSession)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", h.sessionStatus)
			r.Post("/end", h.endSession)
			r.Post("/turns", h.turn)

			r.Get("/state", h.getState)
			r.Delete("/state", h.clearState)
			r.Put("/modality", h.setModality)
			r.Post("/collected", h.mergeCollected)
			r.Get("/prefill/{intent}", h.prefill)
		})

		r.Post("/followups/sweep", h.sweep)

		if h.opts.RESTGW != nil {
			r.Mount("/gateway/rest", h.opts.RESTGW.Routes())
		}
		r.Get("/gateway/status", h.gatewayStatus)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "tutor"})
}

type learnerRequest struct {
	Name    string `json:"name"`
	Outcome string `json:"outcome,omitempty"`
}

type learnerResponse struct {
	Learner *knowledge.Learner `json:"learner"`
	Outcome *knowledge.Outcome `json:"outcome,omitempty"`
}

func (h *Handler) createLearner(w http.ResponseWriter, r *http.Request) {
	var req learnerRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		h.fail(w, invalid("name is required"))
		return
	}

	ctx := r.Context()
	l := &knowledge.Learner{Name: strings.TrimSpace(req.Name)}
	if err := h.store.CreateLearner(ctx, l); err != nil {
		h.fail(w, err)
		return
	}
	resp := learnerResponse{Learner: l}
	if d := strings.TrimSpace(req.Outcome); d != "" {
		o := &knowledge.Outcome{LearnerID: l.ID, Description: d, Status: knowledge.OutcomeActive}
		if err := h.store.CreateOutcome(ctx, o); err != nil {
			h.fail(w, err)
			return
		}
		l.ActiveOutcomeID = o.ID
		if err := h.store.UpdateLearner(ctx, l); err != nil {
			h.fail(w, err)
			return
		}
		resp.Outcome = o
	}
	h.logger.Info("Learner created", zap.String("learner", l.ID))
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) getLearner(w http.ResponseWriter, r *http.Request) {
	l, err := h.store.GetLearner(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	resp := learnerResponse{Learner: l}
	if l.ActiveOutcomeID != "" {
		o, err := h.store.GetOutcome(r.Context(), l.ActiveOutcomeID)
		if err != nil && !knowledge.IsNotFound(err) {
			h.fail(w, err)
			return
		}
		resp.Outcome = o
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listApplications(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.store.GetLearner(r.Context(), id); err != nil {
		h.fail(w, err)
		return
	}
	apps, err := h.store.ListApplications(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	if apps == nil {
		apps = []knowledge.ApplicationEvent{}
	}
	writeJSON(w, http.StatusOK, apps)
}

type startRequest struct {
	LearnerID string `json:"learner_id"`
	OutcomeID string `json:"outcome_id,omitempty"`
	Modality  string `json:"modality,omitempty"`
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decode(w, r, &req) {
		return
	}
	if req.LearnerID == "" {
		h.fail(w, invalid("learner_id is required"))
		return
	}
	m, err := input.ParseModality(req.Modality)
	if err != nil {
		h.fail(w, invalid("%v", err))
		return
	}
	st, err := h.svc.StartSession(r.Context(), req.LearnerID, req.OutcomeID, m)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (h *Handler) sessionStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type endRequest struct {
	EndingState knowledge.EndingState `json:"ending_state"`
}

func (h *Handler) endSession(w http.ResponseWriter, r *http.Request) {
	var req endRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	switch req.EndingState {
	case knowledge.EndingNone, knowledge.EndingNatural, knowledge.EndingInterrupted,
		knowledge.EndingOutcomeAchieved, knowledge.EndingAbandoned:
	default:
		h.fail(w, invalid("unknown ending_state %q", req.EndingState))
		return
	}
	s, err := h.svc.EndSession(r.Context(), chi.URLParam(r, "id"), req.EndingState)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

type turnRequest struct {
	Text     string         `json:"text"`
	Modality string         `json:"modality,omitempty"`
	FormID   string         `json:"form_id,omitempty"`
	FormData map[string]any `json:"form_data,omitempty"`
}

func (h *Handler) turn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if !decode(w, r, &req) {
		return
	}
	var m input.Modality
	if req.Modality != "" {
		var err error
		if m, err = input.ParseModality(req.Modality); err != nil {
			h.fail(w, invalid("%v", err))
			return
		}
	}
	if strings.TrimSpace(req.Text) == "" && req.FormID == "" && len(req.FormData) == 0 {
		h.fail(w, invalid("text or form data is required"))
		return
	}
	treq := tutor.Request{
		SessionID: chi.URLParam(r, "id"),
		Text:      req.Text,
		Modality:  m,
		FormID:    req.FormID,
		FormData:  req.FormData,
	}

	if wantsStream(r) {
		h.streamTurn(w, r, treq)
		return
	}
	resp, err := h.svc.HandleTurn(r.Context(), treq)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getState(w http.ResponseWriter, r *http.Request) {
	id, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.svc.State().Get(r.Context(), id))
}

func (h *Handler) clearState(w http.ResponseWriter, r *http.Request) {
	id, ok := h.session(w, r)
	if !ok {
		return
	}
	h.svc.State().Clear(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}

type modalityRequest struct {
	Modality string `json:"modality"`
}

func (h *Handler) setModality(w http.ResponseWriter, r *http.Request) {
	id, ok := h.session(w, r)
	if !ok {
		return
	}
	var req modalityRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Modality == "" {
		h.fail(w, invalid("modality is required"))
		return
	}
	m, err := input.ParseModality(req.Modality)
	if err != nil {
		h.fail(w, invalid("%v", err))
		return
	}
	writeJSON(w, http.StatusOK, h.svc.State().SetModality(r.Context(), id, m))
}

type collectedRequest struct {
	Intent string         `json:"intent"`
	Data   map[string]any `json:"data"`
}

func (h *Handler) mergeCollected(w http.ResponseWriter, r *http.Request) {
	id, ok := h.session(w, r)
	if !ok {
		return
	}
	var req collectedRequest
	if !decode(w, r, &req) {
		return
	}
	in := intent.Parse(req.Intent)
	if !in.Known() {
		h.fail(w, invalid("unknown intent %q", req.Intent))
		return
	}
	writeJSON(w, http.StatusOK, h.svc.State().MergeCollected(r.Context(), id, in, req.Data))
}

func (h *Handler) prefill(w http.ResponseWriter, r *http.Request) {
	id, ok := h.session(w, r)
	if !ok {
		return
	}
	in := intent.Parse(chi.URLParam(r, "intent"))
	if !in.Known() {
		h.fail(w, invalid("unknown intent %q", chi.URLParam(r, "intent")))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"intent": in,
		"data":   h.svc.State().Prefill(r.Context(), id, in),
	})
}

func (h *Handler) sweep(w http.ResponseWriter, r *http.Request) {
	if h.opts.Sweeper == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "followup sweeper not running"})
		return
	}
	n := h.opts.Sweeper.SweepNow(r.Context())
	writeJSON(w, http.StatusOK, map[string]int{"promoted": n})
}

func (h *Handler) gatewayStatus(w http.ResponseWriter, r *http.Request) {
	if h.opts.Gateway == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "gateway not initialized"})
		return
	}
	writeJSON(w, http.StatusOK, h.opts.Gateway.StatusAll())
}

// session resolves the {id} URL parameter to a live session.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if _, err := h.svc.Status(r.Context(), id); err != nil {
		h.fail(w, err)
		return "", false
	}
	return id, true
}

// fail maps err onto an HTTP status.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	var ve *validationError
	switch {
	case knowledge.IsNotFound(err):
		return http.StatusNotFound
	case errors.As(err, &ve):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrSessionEnded):
		return http.StatusConflict
	case errors.Is(err, tutor.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
