package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"voicedesk/internal/models"
	"voicedesk/internal/scopedb"
)

// EventGroupFor buckets a log event name for support queries.
func EventGroupFor(eventName string) string {
	switch {
	case strings.HasPrefix(eventName, "session_"):
		return "session"
	case strings.HasPrefix(eventName, "message_ingested_"):
		return "message_ingest"
	case strings.HasPrefix(eventName, "transcript_"), strings.HasPrefix(eventName, "transcription_"):
		return "transcript"
	case strings.HasPrefix(eventName, "categorization_"):
		return "categorization"
	case strings.HasPrefix(eventName, "notify_"):
		return "notify_webhook"
	case strings.HasPrefix(eventName, "file_"):
		return "file_flow"
	}
	return "system"
}

// Logger appends audit events to a session's timeline.
type Logger struct {
	events *scopedb.Collection
}

func NewLogger(events *scopedb.Collection) *Logger {
	return &Logger{events: events}
}

// Insert stores the event, filling event_group and created_at.
func (l *Logger) Insert(ctx context.Context, event models.SessionLogEvent) error {
	if event.EventName == "" {
		return fmt.Errorf("event_name required")
	}
	event.EventGroup = EventGroupFor(event.EventName)
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if _, err := l.events.InsertOne(ctx, event); err != nil {
		return fmt.Errorf("insert session log event %s: %w", event.EventName, err)
	}
	return nil
}
