package transcribe

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

// Attempt policy. Quota-blocked messages bypass the hard cap; see
// RetryReasonInsufficientQuota.
const (
	maxAttempts = 10
	retryDelay  = 10 * time.Minute
	callTimeout = 5 * time.Minute
)

// Result is a provider transcription.
type Result struct {
	Text   string
	Chunks []Chunk
}

// Transcriber is the provider boundary.
type Transcriber interface {
	Transcribe(ctx context.Context, fileRef string) (Result, error)
}

// JobPayload is the TRANSCRIBE job body.
type JobPayload struct {
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
}

// Handler runs the TRANSCRIBE job: idempotent per message, reusing
// transcripts across identical uploads, recording quota blocks as
// retryable and everything else as terminal-but-inspectable.
type Handler struct {
	sessions *scopedb.Collection
	messages *scopedb.Collection
	jobs     *queue.Client
	provider Transcriber
}

func NewHandler(sessions, messages *scopedb.Collection, jobs *queue.Client, provider Transcriber) *Handler {
	return &Handler{sessions: sessions, messages: messages, jobs: jobs, provider: provider}
}

func (h *Handler) Handle(ctx context.Context, job queue.Job) error {
	var payload JobPayload
	if err := job.DecodePayload(&payload); err != nil {
		return fmt.Errorf("decode transcribe payload: %w", err)
	}
	messageID, err := primitive.ObjectIDFromHex(payload.MessageID)
	if err != nil {
		return fmt.Errorf("invalid message id %q", payload.MessageID)
	}
	sessionID, err := primitive.ObjectIDFromHex(payload.SessionID)
	if err != nil {
		return fmt.Errorf("invalid session id %q", payload.SessionID)
	}

	var msg models.Message
	if err := h.messages.FindOne(ctx, bson.M{"_id": messageID}).Decode(&msg); err != nil {
		if err == mongo.ErrNoDocuments {
			log.Printf("[transcribe] message not found id=%s", payload.MessageID)
			return nil
		}
		return fmt.Errorf("load message: %w", err)
	}
	if msg.SessionID != sessionID {
		log.Printf("[transcribe] session mismatch message=%s job_session=%s", payload.MessageID, payload.SessionID)
		return nil
	}
	if msg.IsTranscribed {
		log.Printf("[transcribe] skipped message=%s reason=already_transcribed", payload.MessageID)
		return nil
	}

	var session models.Session
	if err := h.sessions.FindOne(ctx, bson.M{"_id": sessionID, "is_deleted": bson.M{"$ne": true}}).Decode(&session); err != nil {
		if err == mongo.ErrNoDocuments {
			log.Printf("[transcribe] session not found id=%s", payload.SessionID)
			return nil
		}
		return fmt.Errorf("load session: %w", err)
	}

	attempts := msg.TranscribeAttempts + 1
	if _, err := h.messages.UpdateOne(ctx, bson.M{"_id": messageID}, bson.M{
		"$set": bson.M{"transcribe_attempts": attempts},
	}); err != nil {
		return fmt.Errorf("bump attempts: %w", err)
	}

	quotaBlocked := msg.TranscriptionRetryReason == RetryReasonInsufficientQuota
	if attempts > maxAttempts && !quotaBlocked {
		log.Printf("[transcribe] max attempts exceeded message=%s attempts=%d", payload.MessageID, attempts)
		return h.markError(ctx, messageID, sessionID, markErrorParams{
			code:              "max_attempts_exceeded",
			message:           "message exceeded maximum transcription attempts",
			attempts:          attempts,
			skipRetrySchedule: true,
		})
	}

	result, reused, err := h.resolveTranscription(ctx, msg)
	if err != nil {
		quota := IsQuotaError(err)
		code := errorCode(err, "transcription_failed")
		if quota {
			code = RetryReasonInsufficientQuota
		}
		return h.markError(ctx, messageID, sessionID, markErrorParams{
			code:       code,
			message:    err.Error(),
			attempts:   attempts,
			quotaRetry: quota,
		})
	}

	timeline := BuildTimeline(result.Chunks, resolveDuration(msg), messageFallbackTS(msg))

	now := time.Now().UTC()
	chunks := make([]models.TranscriptionChunk, 0, len(timeline.Segments))
	for _, seg := range timeline.Segments {
		chunks = append(chunks, models.TranscriptionChunk{
			Text:            seg.Text,
			StartSeconds:    seg.Start,
			DurationSeconds: seg.End - seg.Start,
		})
	}

	update := bson.M{
		"$set": bson.M{
			"is_transcribed":       true,
			"to_transcribe":        false,
			"transcription_text":   result.Text,
			"transcription_chunks": chunks,
			"transcribe_timestamp": now,
			"transcribe_attempts":  0,
			"updated_at":           now,
		},
		"$unset": bson.M{
			"transcription_error":        1,
			"transcription_retry_reason": 1,
			"next_transcribe_attempt_at": 1,
			"error_message":              1,
			"error_timestamp":            1,
		},
	}
	if timeline.DerivedDurationSeconds > 0 && msg.DurationSeconds <= 0 {
		update["$set"].(bson.M)["duration_seconds"] = timeline.DerivedDurationSeconds
	}
	if _, err := h.messages.UpdateOne(ctx, bson.M{"_id": messageID}, update); err != nil {
		return fmt.Errorf("store transcription: %w", err)
	}

	// a successful pass also clears any quota block left on the session
	if _, err := h.sessions.UpdateOne(ctx, bson.M{"_id": sessionID}, bson.M{
		"$set": bson.M{
			"is_corrupted":          false,
			"is_messages_processed": false,
			"updated_at":            now,
		},
		"$unset": bson.M{
			"error_source":             1,
			"transcription_error":      1,
			"transcription_error_code": 1,
			"error_message":            1,
			"error_timestamp":          1,
			"error_message_id":         1,
		},
	}); err != nil {
		return fmt.Errorf("unblock session: %w", err)
	}

	if err := h.jobs.Enqueue(ctx, queue.QueueProcessors, queue.JobCategorize,
		map[string]string{"session_id": payload.SessionID},
		queue.Options{DedupID: payload.SessionID + "-CATEGORIZE"},
	); err != nil {
		return fmt.Errorf("enqueue categorization: %w", err)
	}
	_ = h.jobs.Enqueue(ctx, queue.QueueEvents, queue.JobSendToSocket, map[string]interface{}{
		"session_id": payload.SessionID,
		"event":      "session_updated",
		"payload":    map[string]string{"message_id": payload.MessageID},
	}, queue.Options{})

	log.Printf("[transcribe] done message=%s reused=%v segments=%d", payload.MessageID, reused, len(timeline.Segments))
	return nil
}

// resolveTranscription reuses an existing transcript of the same
// upload when one exists, otherwise calls the provider.
func (h *Handler) resolveTranscription(ctx context.Context, msg models.Message) (Result, bool, error) {
	if msg.FileUniqueID != "" {
		var existing models.Message
		err := h.messages.FindOne(ctx, bson.M{
			"file_unique_id": msg.FileUniqueID,
			"is_transcribed": true,
			"_id":            bson.M{"$ne": msg.ID},
		}).Decode(&existing)
		if err == nil && existing.TranscriptionText != "" {
			return Result{
				Text:   existing.TranscriptionText,
				Chunks: chunksFromModel(existing.TranscriptionChunks),
			}, true, nil
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	fileRef := msg.FileID
	if fileRef == "" {
		fileRef = msg.FileName
	}
	result, err := h.provider.Transcribe(callCtx, fileRef)
	if err != nil {
		return Result{}, false, err
	}
	return result, false, nil
}

type markErrorParams struct {
	code              string
	message           string
	attempts          int
	quotaRetry        bool
	skipRetrySchedule bool
}

// markError records a failure on the message and session. Quota
// blocks keep the message retryable (to_transcribe stays true) and do
// not corrupt the session; anything else is terminal until the
// processing loop or an operator intervenes.
func (h *Handler) markError(ctx context.Context, messageID, sessionID primitive.ObjectID, p markErrorParams) error {
	now := time.Now().UTC()
	msgUpdate := messageErrorUpdate(p, now)
	if _, err := h.messages.UpdateOne(ctx, bson.M{"_id": messageID}, msgUpdate); err != nil {
		return fmt.Errorf("mark message error: %w", err)
	}
	sessUpdate := sessionErrorUpdate(p, messageID, now)
	if _, err := h.sessions.UpdateOne(ctx, bson.M{"_id": sessionID}, sessUpdate); err != nil {
		return fmt.Errorf("mark session error: %w", err)
	}
	_ = h.jobs.Enqueue(ctx, queue.QueueEvents, queue.JobSendToSocket, map[string]interface{}{
		"session_id": sessionID.Hex(),
		"event":      "session_updated",
	}, queue.Options{})
	return nil
}

func messageErrorUpdate(p markErrorParams, now time.Time) bson.M {
	set := bson.M{
		"is_transcribed":      false,
		"transcription_error": p.code,
		"error_message":       p.message,
		"error_timestamp":     now,
		"transcribe_attempts": p.attempts,
		"updated_at":          now,
	}
	unset := bson.M{}
	switch {
	case p.skipRetrySchedule:
		set["to_transcribe"] = false
		unset["next_transcribe_attempt_at"] = 1
		unset["transcription_retry_reason"] = 1
	case p.quotaRetry:
		set["to_transcribe"] = true
		set["transcription_retry_reason"] = RetryReasonInsufficientQuota
		set["next_transcribe_attempt_at"] = now.Add(retryDelay)
	default:
		set["to_transcribe"] = false
		set["next_transcribe_attempt_at"] = now.Add(retryDelay)
		unset["transcription_retry_reason"] = 1
	}
	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	return update
}

func sessionErrorUpdate(p markErrorParams, messageID primitive.ObjectID, now time.Time) bson.M {
	set := bson.M{
		"error_source":        "transcription",
		"transcription_error": p.code,
		"error_timestamp":     now,
		"error_message_id":    messageID.Hex(),
		"updated_at":          now,
	}
	if p.quotaRetry {
		set["is_corrupted"] = false
		set["error_message"] = "provider quota reached; transcription resumes automatically after restoration"
	} else {
		set["is_corrupted"] = true
		set["error_message"] = p.message
	}
	return bson.M{"$set": set}
}

func chunksFromModel(in []models.TranscriptionChunk) []Chunk {
	out := make([]Chunk, 0, len(in))
	for _, c := range in {
		dur := c.DurationSeconds
		out = append(out, Chunk{
			Text:            c.Text,
			SegmentIndex:    c.SegmentIndex,
			Timestamp:       c.Timestamp,
			DurationSeconds: &dur,
		})
	}
	return out
}

func resolveDuration(msg models.Message) *float64 {
	if msg.DurationSeconds > 0 {
		d := msg.DurationSeconds
		return &d
	}
	return nil
}

func messageFallbackTS(msg models.Message) *float64 {
	if msg.MessageTimestamp == nil {
		return nil
	}
	ms := float64(msg.MessageTimestamp.UnixMilli())
	return &ms
}
