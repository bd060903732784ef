// Package notify delivers learner-facing events raised outside a turn, such
// as an application follow-up becoming due.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nidhogg/nuka-tutor/internal/knowledge"
)

// EventType categorizes events.
type EventType string

const (
	EventFollowupDue EventType = "followup_due"
)

// Event is one notification for a learner.
type Event struct {
	ID            string    `json:"id"`
	Type          EventType `json:"type"`
	LearnerID     string    `json:"learner_id"`
	ApplicationID string    `json:"application_id,omitempty"`
	Text          string    `json:"text"`
	Timestamp     time.Time `json:"timestamp"`
}

// FollowupNotifier is told about application events that just became due.
type FollowupNotifier interface {
	FollowupDue(ctx context.Context, app knowledge.ApplicationEvent) error
}

// Fanout forwards each follow-up to every notifier and joins their errors.
type Fanout []FollowupNotifier

// FollowupDue implements FollowupNotifier.
func (f Fanout) FollowupDue(ctx context.Context, app knowledge.ApplicationEvent) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.FollowupDue(ctx, app); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FollowupText is the nudge sent when an application is due.
func FollowupText(app knowledge.ApplicationEvent) string {
	if app.PlannedDate.IsZero() {
		return fmt.Sprintf("How did it go: %s? Tell me what worked and what was hard.", app.Context)
	}
	return fmt.Sprintf("You planned to %s on %s. How did it go? Tell me what worked and what was hard.",
		app.Context, app.PlannedDate.Format("Jan 2"))
}

// FollowupEvent builds the event for a due application.
func FollowupEvent(app knowledge.ApplicationEvent, now time.Time) Event {
	return Event{
		Type:          EventFollowupDue,
		LearnerID:     app.LearnerID,
		ApplicationID: app.ID,
		Text:          FollowupText(app),
		Timestamp:     now,
	}
}
