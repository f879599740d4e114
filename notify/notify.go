package notify

import (
	"context"
	"fmt"

	"remindly/reminder"
)

const (
	// maxActions is the platform cap on interactive actions per alert.
	maxActions = 4
	// maxFollowUpActions is how many follow-up slots may displace the
	// default actions. Follow-ups are placed first on purpose: when both
	// slots are used, only done and snooze5 survive the cut.
	maxFollowUpActions = 2

	fallbackBody         = "Tap to view reminder"
	fallbackFollowUpBody = "Follow-up action triggered"
)

// Default action identifiers. Snooze identifiers carry their minute
// count and are decoded by the action handler.
const (
	ActionDone     = "done"
	ActionSnooze5  = "snooze5"
	ActionSnooze15 = "snooze15"
	ActionSnooze60 = "snooze60"
)

// FollowUpPrefix prefixes the action identifier of a follow-up slot.
const FollowUpPrefix = "followup_"

var defaultActions = []Action{
	{ID: ActionDone, Label: "✅ Done"},
	{ID: ActionSnooze5, Label: "⏰ 5 min"},
	{ID: ActionSnooze15, Label: "⏰ 15 min"},
	{ID: ActionSnooze60, Label: "⏰ 1 hour"},
}

// Action is one interactive button on a displayed alert.
type Action struct {
	ID    string `json:"action"`
	Label string `json:"title"`
}

// Metadata rides along with a displayed alert and comes back verbatim
// when the user interacts with it. Follow-up resolution reads this, not
// the store.
type Metadata struct {
	ReminderID string              `json:"reminderId"`
	FollowUps  []reminder.FollowUp `json:"followUps"`
}

// Payload is everything the platform needs to display one alert.
type Payload struct {
	Title              string   `json:"title"`
	Body               string   `json:"body"`
	Tag                string   `json:"tag"`
	Renotify           bool     `json:"renotify"`
	RequireInteraction bool     `json:"requireInteraction"`
	Actions            []Action `json:"actions"`
	Data               Metadata `json:"data"`
}

// Presenter displays and dismisses alerts on some delivery platform.
type Presenter interface {
	Show(ctx context.Context, p Payload) error
	Dismiss(ctx context.Context, tag string) error
}

// Tag returns the stable alert tag for a reminder, so a repeated firing
// replaces the previous alert instead of stacking.
func Tag(reminderID string) string {
	return "reminder-" + reminderID
}

// FollowUpTag returns the distinct tag for a follow-up alert.
func FollowUpTag(reminderID, followUpID string) string {
	return fmt.Sprintf("followup-%s-%s", reminderID, followUpID)
}

// Build composes the alert payload for a due reminder: up to two
// follow-up actions first, then the defaults, truncated to four total.
func Build(r reminder.Reminder) Payload {
	actions := make([]Action, 0, maxActions)
	for _, fu := range r.FollowUps {
		if len(actions) == maxFollowUpActions {
			break
		}
		actions = append(actions, Action{ID: FollowUpPrefix + fu.ID, Label: fu.Label})
	}
	actions = append(actions, defaultActions...)
	if len(actions) > maxActions {
		actions = actions[:maxActions]
	}

	body := r.Description
	if body == "" {
		body = fallbackBody
	}

	return Payload{
		Title:              r.Title,
		Body:               body,
		Tag:                Tag(r.ID),
		Renotify:           true,
		RequireInteraction: true,
		Actions:            actions,
		Data:               Metadata{ReminderID: r.ID, FollowUps: r.FollowUps},
	}
}

// BuildFollowUp composes the secondary alert shown when a follow-up
// action is invoked. It carries a single done action and no reminder
// metadata, so acting on it never mutates the originating reminder.
func BuildFollowUp(reminderID string, fu reminder.FollowUp) Payload {
	body := fu.Description
	if body == "" {
		body = fallbackFollowUpBody
	}

	return Payload{
		Title:   "Follow-up: " + fu.Label,
		Body:    body,
		Tag:     FollowUpTag(reminderID, fu.ID),
		Actions: []Action{defaultActions[0]},
	}
}
