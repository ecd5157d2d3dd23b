package session

import (
	"context"
	"fmt"
	"log"
	"time"

	"voicedesk/internal/models"
	"voicedesk/internal/queue"
	"voicedesk/internal/scopedb"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// DoneFlow closes a session and fans out the completion work.
type DoneFlow struct {
	sessions *scopedb.Collection
	projects *scopedb.Collection
	active   *ActiveSessions
	logger   *Logger
	jobs     *queue.Client
	linkBase string
}

func NewDoneFlow(sessions, projects *scopedb.Collection, active *ActiveSessions, logger *Logger, jobs *queue.Client, linkBase string) *DoneFlow {
	return &DoneFlow{
		sessions: sessions,
		projects: projects,
		active:   active,
		logger:   logger,
		jobs:     jobs,
		linkBase: linkBase,
	}
}

// DoneParams describes one completion request.
type DoneParams struct {
	SessionID     string
	UserID        string
	Actor         models.LogActor
	Source        models.LogSource
	AlreadyClosed bool
}

// DoneResult reports the outcome plus the preview shared by the
// response, the socket event and the audit log.
type DoneResult struct {
	OK        bool                 `json:"ok"`
	SessionID string               `json:"session_id,omitempty"`
	Preview   models.NotifyPreview `json:"notify_preview,omitempty"`
	Error     string               `json:"error,omitempty"`
}

// Complete runs the done flow: soft-close the session, clear active
// pointers, enqueue the completion job and a processing kick, write
// the audit entry and emit the status event. The preview is built
// exactly once.
func (f *DoneFlow) Complete(ctx context.Context, p DoneParams) (DoneResult, error) {
	sessionID, err := primitive.ObjectIDFromHex(p.SessionID)
	if err != nil {
		return DoneResult{Error: "invalid_session_id"}, nil
	}

	var sess models.Session
	if err := f.sessions.FindOne(ctx, bson.M{"_id": sessionID, "is_deleted": bson.M{"$ne": true}}).Decode(&sess); err != nil {
		if err == mongo.ErrNoDocuments {
			return DoneResult{Error: "session_not_found"}, nil
		}
		return DoneResult{}, fmt.Errorf("load session: %w", err)
	}

	preview := BuildNotifyPreview(DefaultDoneEventName, f.linkBase, sess, ProjectName(ctx, f.projects, sess))

	if !p.AlreadyClosed {
		now := time.Now().UTC()
		if _, err := f.sessions.UpdateOne(ctx, bson.M{"_id": sessionID}, bson.M{
			"$set": bson.M{
				"is_active":   false,
				"to_finalize": true,
				"done_at":     now,
				"updated_at":  now,
			},
			"$inc": bson.M{"done_count": 1},
		}); err != nil {
			return DoneResult{}, fmt.Errorf("close session: %w", err)
		}
	}

	if err := f.jobs.Enqueue(ctx, queue.QueueCommon, queue.JobDoneMultiprompt, doneMultipromptPayload{
		SessionID:     p.SessionID,
		UserID:        p.UserID,
		NotifyPreview: preview,
		AlreadyClosed: true,
	}, queue.Options{}); err != nil {
		return DoneResult{}, fmt.Errorf("enqueue completion job: %w", err)
	}

	if err := f.jobs.Enqueue(ctx, queue.QueueCommon, queue.JobProcessing, map[string]interface{}{
		"session_id": p.SessionID,
		"reason":     "session_done",
		"limit":      1,
	}, queue.Options{DedupID: p.SessionID + "-PROCESSING-KICK"}); err != nil {
		log.Printf("[done-flow] processing kick enqueue failed session=%s err=%v", p.SessionID, err)
	}

	if err := f.active.ClearBySession(ctx, sessionID); err != nil {
		log.Printf("[done-flow] clear active by session failed session=%s err=%v", p.SessionID, err)
	}
	if p.UserID != "" {
		if err := f.active.ClearForUser(ctx, p.UserID); err != nil {
			log.Printf("[done-flow] clear active for user failed user=%s err=%v", p.UserID, err)
		}
	}

	if err := f.logger.Insert(ctx, models.SessionLogEvent{
		SessionID: sessionID,
		ProjectID: sess.ProjectID,
		EventName: "notify_requested",
		Status:    "done",
		Actor:     p.Actor,
		Source:    p.Source,
		Action:    models.LogAction{Available: true, Type: "resend"},
		Metadata: bson.M{
			"telegram_message": preview.TelegramMessage,
			"event_name":       preview.EventName,
		},
	}); err != nil {
		log.Printf("[done-flow] audit log write failed session=%s err=%v", p.SessionID, err)
	}

	_ = f.jobs.Enqueue(ctx, queue.QueueEvents, queue.JobSendToSocket, map[string]interface{}{
		"session_id": p.SessionID,
		"event":      "session_status",
		"payload": map[string]interface{}{
			"session_id": p.SessionID,
			"status":     "done_queued",
			"timestamp":  time.Now().UnixMilli(),
		},
	}, queue.Options{})

	return DoneResult{OK: true, SessionID: p.SessionID, Preview: preview}, nil
}

type doneMultipromptPayload struct {
	SessionID     string               `json:"session_id"`
	UserID        string               `json:"user_id,omitempty"`
	NotifyPreview models.NotifyPreview `json:"notify_preview"`
	AlreadyClosed bool                 `json:"already_closed"`
}
