package events

import (
	"encoding/json"
	"time"
)

// Event payload types shared between the relay, the sync watcher and the
// gateway.

// UpdateEnvelope is what the relay publishes for every remote record
// change. Consumers re-fetch the record by id rather than trusting the
// notification payload.
type UpdateEnvelope struct {
	EventID     string    `json:"eventId"`
	ChallengeID string    `json:"challengeId"`
	Timestamp   time.Time `json:"timestamp"`
}

// NotificationType classifies what a session pushes to its UI.
type NotificationType string

const (
	NotificationStateUpdated       NotificationType = "StateUpdated"
	NotificationChallengeStarted   NotificationType = "ChallengeStarted"
	NotificationChallengeCompleted NotificationType = "ChallengeCompleted"
	NotificationParticipantLost    NotificationType = "ParticipantLost"
	NotificationSyncWarning        NotificationType = "SyncWarning"
)

// Notification is the envelope the gateway broadcasts over WebSocket.
type Notification struct {
	Type        NotificationType `json:"type"`
	ChallengeID string           `json:"challenge_id,omitempty"`
	Message     string           `json:"message,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
	Data        json.RawMessage  `json:"data,omitempty"`
}
