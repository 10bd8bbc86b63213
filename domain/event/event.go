package event

import (
	"encoding/json"
	"time"
)

// Envelope is one event queued for the durable log.
// All events sharing a PartitionKey land in the log in publish order.
type Envelope struct {
	Topic        string
	PartitionKey string
	Payload      []byte
}

// ChatEvent is a message posted by a user in a conversation.
// Partitioned by sender so each sender's messages stay ordered.
type ChatEvent struct {
	SenderID       string    `json:"sender_id"`
	ConversationID string    `json:"conversation_id"`
	Body           string    `json:"body"`
	MediaRef       *string   `json:"media_ref,omitempty"`
	SentAt         time.Time `json:"sent_at"`
}

func (e ChatEvent) PartitionKey() string {
	return e.SenderID
}

// NotificationEvent targets a single user.
// Partitioned by recipient so each user's notifications stay ordered.
type NotificationEvent struct {
	RecipientUserID   string  `json:"recipient_user_id"`
	NotificationID    string  `json:"notification_id"`
	Type              string  `json:"type"`
	Title             string  `json:"title"`
	Message           string  `json:"message"`
	RelatedEntityType *string `json:"related_entity_type,omitempty"`
	RelatedEntityID   *string `json:"related_entity_id,omitempty"`
	ActionURL         *string `json:"action_url,omitempty"`
}

func (e NotificationEvent) PartitionKey() string {
	return e.RecipientUserID
}

func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func DecodeChat(data []byte) (ChatEvent, error) {
	var e ChatEvent
	err := json.Unmarshal(data, &e)
	return e, err
}

func DecodeNotification(data []byte) (NotificationEvent, error) {
	var e NotificationEvent
	err := json.Unmarshal(data, &e)
	return e, err
}
