package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// LogActor identifies who produced a session log event.
type LogActor struct {
	Kind string `bson:"kind" json:"kind"`
	ID   string `bson:"id,omitempty" json:"id,omitempty"`
}

// LogSource identifies the channel an event came through.
type LogSource struct {
	Channel   string `bson:"channel,omitempty" json:"channel,omitempty"`
	Transport string `bson:"transport,omitempty" json:"transport,omitempty"`
	OriginRef string `bson:"origin_ref,omitempty" json:"origin_ref,omitempty"`
}

// LogAction describes an operator action the event offers, if any.
type LogAction struct {
	Available bool   `bson:"available" json:"available"`
	Type      string `bson:"type,omitempty" json:"type,omitempty"`
}

// SessionLogEvent is one audit entry in a session's timeline.
type SessionLogEvent struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SessionID  primitive.ObjectID `bson:"session_id" json:"session_id"`
	ProjectID  primitive.ObjectID `bson:"project_id,omitempty" json:"project_id,omitempty"`
	EventName  string             `bson:"event_name" json:"event_name"`
	EventGroup string             `bson:"event_group" json:"event_group"`
	Status     string             `bson:"status,omitempty" json:"status,omitempty"`
	Actor      LogActor           `bson:"actor" json:"actor"`
	Source     LogSource          `bson:"source" json:"source"`
	Action     LogAction          `bson:"action" json:"action"`
	Metadata   bson.M             `bson:"metadata,omitempty" json:"metadata,omitempty"`
	RuntimeTag string             `bson:"runtime_tag,omitempty" json:"runtime_tag,omitempty"`
	CreatedAt  time.Time          `bson:"created_at" json:"created_at"`
}

// ActiveSession maps a chat/user to the session currently receiving
// their messages.
type ActiveSession struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	TelegramUserID string             `bson:"telegram_user_id,omitempty" json:"telegram_user_id,omitempty"`
	ChatID         string             `bson:"chat_id,omitempty" json:"chat_id,omitempty"`
	SessionID      primitive.ObjectID `bson:"session_id" json:"session_id"`
	RuntimeTag     string             `bson:"runtime_tag,omitempty" json:"runtime_tag,omitempty"`
	UpdatedAt      time.Time          `bson:"updated_at" json:"updated_at"`
}

// NotifyPreview is the rendered notification for a finished session.
// TelegramMessage is always exactly four newline-joined lines: event
// name, session link, session name, project name.
type NotifyPreview struct {
	EventName       string `bson:"event_name" json:"event_name"`
	TelegramMessage string `bson:"telegram_message" json:"telegram_message"`
}
