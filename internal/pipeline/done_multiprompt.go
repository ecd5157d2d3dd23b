package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"voicedesk/internal/models"
	"voicedesk/internal/queue"
	"voicedesk/internal/session"

	"go.mongodb.org/mongo-driver/bson"
)

const postprocessingDelay = 500 * time.Millisecond

type doneMultipromptPayload struct {
	SessionID     string               `json:"session_id"`
	UserID        string               `json:"user_id,omitempty"`
	NotifyPreview models.NotifyPreview `json:"notify_preview"`
	AlreadyClosed bool                 `json:"already_closed"`
}

// DoneMultiprompt fans a finished session out into its
// postprocessing jobs and notification jobs. The notify preview from
// the payload is reused when present so the operator sees exactly
// what was shown at completion time; a bare payload rebuilds it.
func (p *Pipeline) DoneMultiprompt(ctx context.Context, job queue.Job) error {
	var payload doneMultipromptPayload
	if err := job.DecodePayload(&payload); err != nil {
		return fmt.Errorf("decode done payload: %w", err)
	}
	sessionID, err := parseSessionID(payload.SessionID)
	if err != nil {
		return err
	}
	sess, err := p.loadSession(ctx, sessionID)
	if err != nil {
		return err
	}

	preview := payload.NotifyPreview
	if preview.TelegramMessage == "" {
		preview = session.BuildNotifyPreview(session.DefaultDoneEventName, p.linkBase, sess, session.ProjectName(ctx, p.projects, sess))
	}

	for _, name := range []string{queue.JobAllCustomPrompts, queue.JobAudioMerging, queue.JobCreateTasks} {
		if err := p.jobs.Enqueue(ctx, queue.QueuePostprocessors, name, map[string]interface{}{
			"session_id": payload.SessionID,
		}, queue.Options{
			DedupID: payload.SessionID + "-" + name,
			Delay:   postprocessingDelay,
		}); err != nil {
			return fmt.Errorf("enqueue postprocessing %s: %w", name, err)
		}
	}

	for _, name := range []string{queue.JobSessionDone, queue.JobSessionReadyToSummarize} {
		if err := p.jobs.Enqueue(ctx, queue.QueueNotifies, name, map[string]interface{}{
			"session_id":     payload.SessionID,
			"user_id":        payload.UserID,
			"notify_preview": preview,
		}, queue.Options{DedupID: payload.SessionID + "-" + name}); err != nil {
			return fmt.Errorf("enqueue notify %s: %w", name, err)
		}
	}

	if !sess.ProjectID.IsZero() && p.logger != nil {
		if err := p.logger.Insert(ctx, models.SessionLogEvent{
			SessionID: sessionID,
			ProjectID: sess.ProjectID,
			EventName: "notify_requested",
			Status:    "queued",
			Actor:     models.LogActor{Kind: "system"},
			Source:    models.LogSource{Channel: "worker"},
			Action:    models.LogAction{Available: true, Type: "resend"},
			Metadata: bson.M{
				"notify_event":     preview.EventName,
				"telegram_message": preview.TelegramMessage,
			},
		}); err != nil {
			log.Printf("[pipeline] notify_requested log failed session=%s err=%v", payload.SessionID, err)
		}
	}
	return nil
}
