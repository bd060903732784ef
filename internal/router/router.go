// Package router turns chat-platform messages into tutor turns. Each
// platform user maps to one learner; the learner's latest open session is
// resumed, or a new one is started in the chat modality.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/nuka-tutor/internal/engine"
	"github.com/nidhogg/nuka-tutor/internal/gateway"
	"github.com/nidhogg/nuka-tutor/internal/input"
	"github.com/nidhogg/nuka-tutor/internal/knowledge"
	"github.com/nidhogg/nuka-tutor/internal/notify"
	"github.com/nidhogg/nuka-tutor/internal/tutor"
	"go.uber.org/zap"
)

const helpText = "Just talk to me to continue your session.\n" +
	"/start  begin a new session\n" +
	"/end    finish the current session\n" +
	"/status show where we are"

const noSession = "There is no open session. Send /start to begin one."

// Sender delivers replies to a platform channel.
type Sender interface {
	Send(ctx context.Context, msg *gateway.OutboundMessage) error
}

// binding is where a learner was last seen and which session they are in.
type binding struct {
	LearnerID string
	SessionID string
	Platform  string
	ChannelID string
	ReplyTo   string
}

// MessageRouter routes inbound chat messages to the tutor service.
type MessageRouter struct {
	svc     *tutor.Service
	store   knowledge.Store
	out     Sender
	timeout time.Duration
	logger  *zap.Logger

	mu       sync.Mutex
	bindings map[string]*binding // learnerID -> binding
}

// New creates a MessageRouter.
func New(svc *tutor.Service, store knowledge.Store, out Sender, logger *zap.Logger) *MessageRouter {
	return &MessageRouter{
		svc:      svc,
		store:    store,
		out:      out,
		timeout:  2 * time.Minute,
		logger:   logger,
		bindings: make(map[string]*binding),
	}
}

// LearnerID is the stable learner id of a platform user.
func LearnerID(platform, userID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("tutor:"+platform+":"+userID)).String()
}

// Handle routes an inbound message and sends exactly one reply.
// Signature matches gateway.MessageHandler.
func (mr *MessageRouter) Handle(msg *gateway.InboundMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), mr.timeout)
	defer cancel()

	mr.logger.Info("routing message",
		zap.String("platform", msg.Platform),
		zap.String("channel", msg.ChannelID),
		zap.String("user", msg.UserName),
	)

	reply, err := mr.route(ctx, msg)
	if err != nil {
		mr.logger.Error("tutor turn failed",
			zap.String("platform", msg.Platform),
			zap.String("user", msg.UserID),
			zap.Error(err))
		reply = "Sorry, something went wrong on my side. Please try again."
	}
	mr.sendReply(ctx, msg, reply)
}

func (mr *MessageRouter) route(ctx context.Context, msg *gateway.InboundMessage) (string, error) {
	learnerID, err := mr.learner(ctx, msg)
	if err != nil {
		return "", err
	}
	mr.bind(learnerID, msg)

	text := strings.TrimSpace(msg.Content)
	if strings.HasPrefix(text, "/") {
		return mr.command(ctx, learnerID, text)
	}
	if text == "" {
		return helpText, nil
	}

	sid, err := mr.session(ctx, learnerID)
	if err != nil {
		return "", err
	}
	resp, err := mr.svc.HandleTurn(ctx, tutor.Request{SessionID: sid, Text: text, Modality: input.Chat})
	if errors.Is(err, engine.ErrSessionEnded) || knowledge.IsNotFound(err) {
		// The bound session went away underneath us; start over once.
		mr.setSession(learnerID, "")
		if sid, err = mr.session(ctx, learnerID); err != nil {
			return "", err
		}
		resp, err = mr.svc.HandleTurn(ctx, tutor.Request{SessionID: sid, Text: text, Modality: input.Chat})
	}
	if err != nil {
		return "", err
	}
	return resp.Message, nil
}

func (mr *MessageRouter) command(ctx context.Context, learnerID, text string) (string, error) {
	name, _, _ := strings.Cut(strings.TrimPrefix(text, "/"), " ")
	name = strings.ToLower(name)
	if name != "start" && name != "end" && name != "status" {
		return helpText, nil
	}
	sid, err := mr.current(ctx, learnerID)
	if err != nil {
		return "", err
	}

	switch name {
	case "start":
		if sid != "" {
			if _, err := mr.svc.EndSession(ctx, sid, knowledge.EndingInterrupted); err != nil &&
				!errors.Is(err, engine.ErrSessionEnded) && !knowledge.IsNotFound(err) {
				return "", err
			}
		}
		mr.setSession(learnerID, "")
		if _, err := mr.start(ctx, learnerID); err != nil {
			return "", err
		}
		return "New session started. How is your energy today, and how much time do you have?", nil

	case "end":
		if sid == "" {
			return noSession, nil
		}
		s, err := mr.svc.EndSession(ctx, sid, knowledge.EndingNatural)
		mr.setSession(learnerID, "")
		if errors.Is(err, engine.ErrSessionEnded) || knowledge.IsNotFound(err) {
			return "That session had already ended.", nil
		}
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Session ended. We explored %d concept(s) and you earned %d proof(s).",
			len(s.ConceptsExplored), len(s.ProofsEarned)), nil

	default:
		if sid == "" {
			return noSession, nil
		}
		st, err := mr.svc.Status(ctx, sid)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Mode: %s\nMessages: %d\nPending follow-ups: %d", st.Mode, st.Messages, st.Followups), nil
	}
}

// learner loads or creates the learner behind a platform user.
func (mr *MessageRouter) learner(ctx context.Context, msg *gateway.InboundMessage) (string, error) {
	id := LearnerID(msg.Platform, msg.UserID)
	_, err := mr.store.GetLearner(ctx, id)
	if err == nil {
		return id, nil
	}
	if !knowledge.IsNotFound(err) {
		return "", fmt.Errorf("load learner: %w", err)
	}
	name := msg.UserName
	if name == "" {
		name = msg.UserID
	}
	if err := mr.store.CreateLearner(ctx, &knowledge.Learner{ID: id, Name: name}); err != nil {
		return "", fmt.Errorf("create learner: %w", err)
	}
	mr.logger.Info("learner registered",
		zap.String("learner", id),
		zap.String("platform", msg.Platform),
		zap.String("user", msg.UserID))
	return id, nil
}

// bind records where the learner was last seen.
func (mr *MessageRouter) bind(learnerID string, msg *gateway.InboundMessage) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	b, ok := mr.bindings[learnerID]
	if !ok {
		b = &binding{LearnerID: learnerID}
		mr.bindings[learnerID] = b
	}
	b.Platform = msg.Platform
	b.ChannelID = msg.ChannelID
	b.ReplyTo = msg.ReplyTo
}

func (mr *MessageRouter) setSession(learnerID, sessionID string) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	if b, ok := mr.bindings[learnerID]; ok {
		b.SessionID = sessionID
	}
}

// current returns the bound session, falling back to the learner's latest
// open session after a restart. It returns "" when there is none.
func (mr *MessageRouter) current(ctx context.Context, learnerID string) (string, error) {
	mr.mu.Lock()
	sid := mr.bindings[learnerID].SessionID
	mr.mu.Unlock()
	if sid != "" {
		return sid, nil
	}

	latest, err := mr.store.LatestSession(ctx, learnerID, "")
	switch {
	case knowledge.IsNotFound(err):
		return "", nil
	case err != nil:
		return "", fmt.Errorf("latest session: %w", err)
	case latest.Ended():
		return "", nil
	}
	mr.setSession(learnerID, latest.ID)
	return latest.ID, nil
}

// session returns the current session or starts a new one.
func (mr *MessageRouter) session(ctx context.Context, learnerID string) (string, error) {
	sid, err := mr.current(ctx, learnerID)
	if err != nil || sid != "" {
		return sid, err
	}
	return mr.start(ctx, learnerID)
}

func (mr *MessageRouter) start(ctx context.Context, learnerID string) (string, error) {
	st, err := mr.svc.StartSession(ctx, learnerID, "", input.Chat)
	if err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}
	mr.setSession(learnerID, st.SessionID)
	return st.SessionID, nil
}

// FollowupDue messages the learner on the channel they last used. Learners
// who never wrote through a chat platform are skipped.
func (mr *MessageRouter) FollowupDue(ctx context.Context, app knowledge.ApplicationEvent) error {
	mr.mu.Lock()
	b, ok := mr.bindings[app.LearnerID]
	var target binding
	if ok {
		target = *b
	}
	mr.mu.Unlock()
	if !ok {
		mr.logger.Debug("no chat channel bound for followup", zap.String("learner", app.LearnerID))
		return nil
	}
	err := mr.out.Send(ctx, &gateway.OutboundMessage{
		Platform:  target.Platform,
		ChannelID: target.ChannelID,
		Content:   notify.FollowupText(app),
	})
	if err != nil {
		return fmt.Errorf("followup to %s/%s: %w", target.Platform, target.ChannelID, err)
	}
	return nil
}

// sendReply sends a text reply back to the originating platform/channel.
func (mr *MessageRouter) sendReply(ctx context.Context, orig *gateway.InboundMessage, text string) {
	err := mr.out.Send(ctx, &gateway.OutboundMessage{
		Platform:  orig.Platform,
		ChannelID: orig.ChannelID,
		Content:   text,
		ReplyTo:   orig.ReplyTo,
	})
	if err != nil {
		mr.logger.Error("send reply failed", zap.Error(err))
	}
}
