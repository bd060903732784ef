package knowledge

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// ErrInvalidTransition is matched by every rejected application status change.
var ErrInvalidTransition = errors.New("invalid application transition")

var validAppTransitions = map[ApplicationStatus][]ApplicationStatus{
	AppUpcoming:        {AppPendingFollowup, AppSkipped},
	AppPendingFollowup: {AppCompleted, AppSkipped},
}

// Advance moves a to status `to`, stamping CompletedAt on terminal states.
func (a *ApplicationEvent) Advance(to ApplicationStatus, now time.Time) error {
	if !slices.Contains(validAppTransitions[a.Status], to) {
		return fmt.Errorf("application %s: %q → %q: %w", a.ID, a.Status, to, ErrInvalidTransition)
	}
	a.Status = to
	if to == AppCompleted || to == AppSkipped {
		t := now
		a.CompletedAt = &t
	}
	return nil
}
