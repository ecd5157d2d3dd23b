package pipeline

import (
	"context"
	"fmt"
	"log"

	"voicedesk/internal/models"
	"voicedesk/internal/queue"

	"go.mongodb.org/mongo-driver/bson"
)

type notifyPayload struct {
	SessionID     string               `json:"session_id"`
	UserID        string               `json:"user_id,omitempty"`
	NotifyPreview models.NotifyPreview `json:"notify_preview"`
}

// Notify delivers one completion notification. Delivery here means
// the audit trail plus a socket push; outbound telegram transport is
// handled by the bot process consuming the same log.
func (p *Pipeline) Notify(ctx context.Context, job queue.Job) error {
	var payload notifyPayload
	if err := job.DecodePayload(&payload); err != nil {
		return fmt.Errorf("decode notify payload: %w", err)
	}
	sessionID, err := parseSessionID(payload.SessionID)
	if err != nil {
		return err
	}
	sess, err := p.loadSession(ctx, sessionID)
	if err != nil {
		return err
	}

	if p.logger != nil {
		if err := p.logger.Insert(ctx, models.SessionLogEvent{
			SessionID: sessionID,
			ProjectID: sess.ProjectID,
			EventName: "notify_sent",
			Status:    "sent",
			Actor:     models.LogActor{Kind: "system"},
			Source:    models.LogSource{Channel: "worker"},
			Metadata: bson.M{
				"notify_job":       job.Name,
				"notify_event":     payload.NotifyPreview.EventName,
				"telegram_message": payload.NotifyPreview.TelegramMessage,
			},
		}); err != nil {
			log.Printf("[pipeline] notify log failed session=%s err=%v", payload.SessionID, err)
		}
	}

	return p.jobs.Enqueue(ctx, queue.QueueEvents, queue.JobSendToSocket, map[string]interface{}{
		"session_id": payload.SessionID,
		"event":      "notify",
		"payload": map[string]interface{}{
			"name":    job.Name,
			"preview": payload.NotifyPreview,
		},
	}, queue.Options{})
}
