package realtime

import "fmt"

// Trigger is an internal server-side event that other components raise
// without holding a live connection. Each kind carries a typed payload and
// translates itself into the public notification it produces, so the
// translation table is closed and checked at compile time. New internal
// triggers are added by defining a new type here.
type Trigger interface {
	notification() (event string, topic string, data map[string]any)
}

// ParticipantRegistered fires when a participant registers for an event.
type ParticipantRegistered struct {
	EventID         string
	EventTitle      string
	ParticipantName string
}

func (t ParticipantRegistered) notification() (string, string, map[string]any) {
	return "participant_registered", TopicAll, map[string]any{
		"eventId":         t.EventID,
		"participantName": t.ParticipantName,
		"message":         fmt.Sprintf("%s registered for %s", t.ParticipantName, t.EventTitle),
	}
}

// TalkSubmitted fires when a new talk is submitted.
type TalkSubmitted struct {
	EventID string
	TalkID  string
	Title   string
	Speaker string
}

func (t TalkSubmitted) notification() (string, string, map[string]any) {
	return "talk_submitted", TopicAll, map[string]any{
		"eventId": t.EventID,
		"talkId":  t.TalkID,
		"title":   t.Title,
		"speaker": t.Speaker,
		"message": fmt.Sprintf("New talk submitted: %q by %s", t.Title, t.Speaker),
	}
}

// EventUpdated fires when an event's details change.
type EventUpdated struct {
	EventID    string
	EventTitle string
}

func (t EventUpdated) notification() (string, string, map[string]any) {
	return "event_updated", TopicAll, map[string]any{
		"eventId": t.EventID,
		"message": fmt.Sprintf("Event %q was updated", t.EventTitle),
	}
}

// SystemNotification carries an operator-authored announcement.
type SystemNotification struct {
	Message string
}

func (t SystemNotification) notification() (string, string, map[string]any) {
	return "system_notification", TopicAll, map[string]any{
		"message": t.Message,
	}
}

// ChatMessage is the chat passthrough from a connected client.
type ChatMessage struct {
	Author  string
	Message string
}

func (t ChatMessage) notification() (string, string, map[string]any) {
	return "chat_message", TopicAll, map[string]any{
		"author":  t.Author,
		"message": t.Message,
	}
}
