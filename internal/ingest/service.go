package ingest

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"voicedesk/internal/models"
	"voicedesk/internal/queue"
	"voicedesk/internal/scopedb"
	"voicedesk/internal/session"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// Service resolves the target session for incoming input, appends the
// message and enqueues the next pipeline stage.
type Service struct {
	sessions *scopedb.Collection
	messages *scopedb.Collection
	active   *session.ActiveSessions
	logger   *session.Logger
	jobs     *queue.Client

	// customProcessors are declared on every new session, ahead of the
	// fixed FINAL_CUSTOM_PROMPT / CREATE_TASKS tail.
	customProcessors []string
}

func NewService(sessions, messages *scopedb.Collection, active *session.ActiveSessions, logger *session.Logger, jobs *queue.Client, customProcessors []string) *Service {
	return &Service{
		sessions:         sessions,
		messages:         messages,
		active:           active,
		logger:           logger,
		jobs:             jobs,
		customProcessors: customProcessors,
	}
}

// Input is the shared part of all ingestion payloads.
type Input struct {
	SessionID string            `json:"session_id,omitempty"`
	UserID    string            `json:"user_id"`
	ChatID    string            `json:"chat_id,omitempty"`
	Source    models.SourceType `json:"source"`
	Timestamp *time.Time        `json:"timestamp,omitempty"`
}

// VoiceInput is a voice message upload.
type VoiceInput struct {
	Input
	FileName        string  `json:"file_name"`
	FileID          string  `json:"file_id,omitempty"`
	FileUniqueID    string  `json:"file_unique_id,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

// TextInput is a typed message.
type TextInput struct {
	Input
	Text string `json:"text"`
}

// AttachmentInput is a non-voice file upload, optionally anchored to a
// transcript position.
type AttachmentInput struct {
	Input
	Attachments     []models.Attachment `json:"attachments"`
	AnchorMessageID string              `json:"anchor_message_id,omitempty"`
}

// Result reports where the input landed.
type Result struct {
	SessionID      string `json:"session_id"`
	MessageID      string `json:"message_id"`
	CreatedSession bool   `json:"created_session,omitempty"`
}

// Voice ingests a voice upload and enqueues transcription.
func (s *Service) Voice(ctx context.Context, in VoiceInput) (Result, error) {
	if strings.TrimSpace(in.FileName) == "" && in.FileID == "" {
		return Result{}, fmt.Errorf("voice input requires a file reference")
	}

	sess, created, err := s.resolveSession(ctx, in.Input, true)
	if err != nil {
		return Result{}, err
	}

	now := time.Now().UTC()
	msg := models.Message{
		SessionID:          sess.ID,
		SourceType:         in.Source,
		FileName:           in.FileName,
		FileID:             in.FileID,
		FileUniqueID:       in.FileUniqueID,
		DurationSeconds:    in.DurationSeconds,
		IsTranscribed:      false,
		ToTranscribe:       true,
		TranscribeAttempts: 0,
		MessageTimestamp:   in.Timestamp,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	res, err := s.messages.InsertOne(ctx, msg)
	if err != nil {
		return Result{}, fmt.Errorf("insert voice message: %w", err)
	}
	messageID := res.InsertedID.(primitive.ObjectID)

	if err := s.touchSession(ctx, sess.ID, messageID, now); err != nil {
		return Result{}, err
	}
	s.pointActiveSession(ctx, in.Input, sess.ID)

	if err := s.jobs.Enqueue(ctx, queue.QueueVoice, queue.JobTranscribe, map[string]string{
		"session_id": sess.ID.Hex(),
		"message_id": messageID.Hex(),
	}, queue.Options{DedupID: sess.ID.Hex() + "-" + messageID.Hex() + "-TRANSCRIBE"}); err != nil {
		return Result{}, fmt.Errorf("enqueue transcription: %w", err)
	}

	s.logIngest(ctx, sess, "message_ingested_voice", in.Input, messageID)
	s.emitNewMessage(ctx, in.Input, sess.ID, messageID)

	return Result{SessionID: sess.ID.Hex(), MessageID: messageID.Hex(), CreatedSession: created}, nil
}

// Text ingests a typed message and enqueues the categorization path.
func (s *Service) Text(ctx context.Context, in TextInput) (Result, error) {
	if strings.TrimSpace(in.Text) == "" {
		return Result{}, fmt.Errorf("text input requires text")
	}

	sess, created, err := s.resolveSession(ctx, in.Input, true)
	if err != nil {
		return Result{}, err
	}

	now := time.Now().UTC()
	msg := models.Message{
		SessionID:        sess.ID,
		SourceType:       in.Source,
		Text:             in.Text,
		IsTranscribed:    true,
		MessageTimestamp: in.Timestamp,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	// typed input is its own transcript
	msg.TranscriptionText = in.Text

	res, err := s.messages.InsertOne(ctx, msg)
	if err != nil {
		return Result{}, fmt.Errorf("insert text message: %w", err)
	}
	messageID := res.InsertedID.(primitive.ObjectID)

	if err := s.touchSession(ctx, sess.ID, messageID, now); err != nil {
		return Result{}, err
	}
	s.pointActiveSession(ctx, in.Input, sess.ID)

	if err := s.jobs.Enqueue(ctx, queue.QueueProcessors, queue.JobCategorize, map[string]string{
		"session_id": sess.ID.Hex(),
	}, queue.Options{DedupID: sess.ID.Hex() + "-CATEGORIZE"}); err != nil {
		return Result{}, fmt.Errorf("enqueue categorization: %w", err)
	}

	s.logIngest(ctx, sess, "message_ingested_text", in.Input, messageID)
	s.emitNewMessage(ctx, in.Input, sess.ID, messageID)

	return Result{SessionID: sess.ID.Hex(), MessageID: messageID.Hex(), CreatedSession: created}, nil
}

// Attachment ingests a file upload and enqueues transcript linking.
func (s *Service) Attachment(ctx context.Context, in AttachmentInput) (Result, error) {
	if len(in.Attachments) == 0 {
		return Result{}, fmt.Errorf("attachment input requires at least one file")
	}

	sess, created, err := s.resolveSession(ctx, in.Input, false)
	if err != nil {
		return Result{}, err
	}

	now := time.Now().UTC()
	msg := models.Message{
		SessionID:            sess.ID,
		SourceType:           in.Source,
		Attachments:          in.Attachments,
		IsTranscribed:        true,
		ImageAnchorMessageID: in.AnchorMessageID,
		MessageTimestamp:     in.Timestamp,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	res, err := s.messages.InsertOne(ctx, msg)
	if err != nil {
		return Result{}, fmt.Errorf("insert attachment message: %w", err)
	}
	messageID := res.InsertedID.(primitive.ObjectID)

	if err := s.touchSession(ctx, sess.ID, messageID, now); err != nil {
		return Result{}, err
	}
	s.pointActiveSession(ctx, in.Input, sess.ID)

	if err := s.jobs.Enqueue(ctx, queue.QueuePostprocessors, queue.JobLinkAttachments, map[string]string{
		"session_id": sess.ID.Hex(),
		"message_id": messageID.Hex(),
	}, queue.Options{DedupID: sess.ID.Hex() + "-" + messageID.Hex() + "-LINK_ATTACHMENTS"}); err != nil {
		return Result{}, fmt.Errorf("enqueue attachment linking: %w", err)
	}

	s.logIngest(ctx, sess, "file_uploaded", in.Input, messageID)
	s.emitNewMessage(ctx, in.Input, sess.ID, messageID)

	return Result{SessionID: sess.ID.Hex(), MessageID: messageID.Hex(), CreatedSession: created}, nil
}

// resolveSession finds the target session: an explicit id wins, then
// the sender's active mapping, then a fresh session when the input
// implies a new conversation.
func (s *Service) resolveSession(ctx context.Context, in Input, allowCreate bool) (models.Session, bool, error) {
	if in.SessionID != "" {
		id, err := primitive.ObjectIDFromHex(in.SessionID)
		if err != nil {
			return models.Session{}, false, fmt.Errorf("invalid session id %q", in.SessionID)
		}
		var sess models.Session
		if err := s.sessions.FindOne(ctx, bson.M{"_id": id, "is_deleted": bson.M{"$ne": true}}).Decode(&sess); err != nil {
			if err == mongo.ErrNoDocuments {
				return models.Session{}, false, fmt.Errorf("session %s not found", in.SessionID)
			}
			return models.Session{}, false, fmt.Errorf("load session: %w", err)
		}
		return sess, false, nil
	}

	if in.UserID != "" {
		if id, ok, err := s.active.Get(ctx, in.UserID); err != nil {
			return models.Session{}, false, err
		} else if ok {
			var sess models.Session
			err := s.sessions.FindOne(ctx, bson.M{"_id": id, "is_deleted": bson.M{"$ne": true}, "is_active": true}).Decode(&sess)
			if err == nil {
				return sess, false, nil
			}
			if err != mongo.ErrNoDocuments {
				return models.Session{}, false, fmt.Errorf("load active session: %w", err)
			}
			// stale pointer, fall through to create
		}
	}

	if !allowCreate {
		return models.Session{}, false, fmt.Errorf("no active session for user %q", in.UserID)
	}
	sess, err := s.createSession(ctx, in)
	return sess, err == nil, err
}

// createSession starts a fresh conversation in the waiting state; the
// first message flips it live.
func (s *Service) createSession(ctx context.Context, in Input) (models.Session, error) {
	now := time.Now().UTC()
	sess := models.Session{
		ChatID:              in.ChatID,
		TelegramUserID:      in.UserID,
		UserID:              in.UserID,
		AccessLevel:         models.AccessPrivate,
		IsActive:            true,
		IsWaiting:           true,
		IsMessagesProcessed: true,
		Processors:          models.CoreProcessors(),
		SessionProcessors:   models.SessionProcessors(s.customProcessors),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	res, err := s.sessions.InsertOne(ctx, sess)
	if err != nil {
		return models.Session{}, fmt.Errorf("create session: %w", err)
	}
	sess.ID = res.InsertedID.(primitive.ObjectID)

	if err := s.logger.Insert(ctx, models.SessionLogEvent{
		SessionID: sess.ID,
		EventName: "session_created",
		Status:    "done",
		Actor:     models.LogActor{Kind: "user", ID: in.UserID},
		Source:    models.LogSource{Channel: string(in.Source), Transport: "api"},
	}); err != nil {
		log.Printf("[ingest] session_created log failed session=%s err=%v", sess.ID.Hex(), err)
	}
	return sess, nil
}

// touchSession records the new message on the session and re-opens the
// processing window.
func (s *Service) touchSession(ctx context.Context, sessionID, messageID primitive.ObjectID, now time.Time) error {
	_, err := s.sessions.UpdateOne(ctx, bson.M{"_id": sessionID}, bson.M{
		"$set": bson.M{
			"is_waiting":            false,
			"is_messages_processed": false,
			"last_message_at":       now,
			"last_message_id":       messageID.Hex(),
			"updated_at":            now,
		},
	})
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

func (s *Service) pointActiveSession(ctx context.Context, in Input, sessionID primitive.ObjectID) {
	if in.UserID == "" {
		return
	}
	if err := s.active.Set(ctx, in.UserID, in.ChatID, sessionID); err != nil {
		log.Printf("[ingest] active session update failed user=%s err=%v", in.UserID, err)
	}
}

func (s *Service) logIngest(ctx context.Context, sess models.Session, eventName string, in Input, messageID primitive.ObjectID) {
	if err := s.logger.Insert(ctx, models.SessionLogEvent{
		SessionID: sess.ID,
		ProjectID: sess.ProjectID,
		EventName: eventName,
		Status:    "done",
		Actor:     models.LogActor{Kind: "user", ID: in.UserID},
		Source:    models.LogSource{Channel: string(in.Source), Transport: "api"},
		Metadata:  bson.M{"message_id": messageID.Hex()},
	}); err != nil {
		log.Printf("[ingest] %s log failed session=%s err=%v", eventName, sess.ID.Hex(), err)
	}
}

// emitNewMessage pushes a realtime event for web clients watching the
// session.
func (s *Service) emitNewMessage(ctx context.Context, in Input, sessionID, messageID primitive.ObjectID) {
	if in.Source != models.SourceWeb {
		return
	}
	_ = s.jobs.Enqueue(ctx, queue.QueueEvents, queue.JobSendToSocket, map[string]interface{}{
		"session_id": sessionID.Hex(),
		"event":      "new_message",
		"payload":    map[string]string{"message_id": messageID.Hex()},
	}, queue.Options{})
}
