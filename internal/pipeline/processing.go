package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"voicedesk/internal/models"
	"voicedesk/internal/queue"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	defaultProcessingLimit = 50
	maxProcessingLimit     = 200
	maxTranscribeAttempts  = 10
)

// clampLimit bounds a caller-supplied batch size.
func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultProcessingLimit
	}
	if limit > maxProcessingLimit {
		return maxProcessingLimit
	}
	return limit
}

type processingPayload struct {
	SessionID string `json:"session_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// ProcessingCounters reports what one sweep did.
type ProcessingCounters struct {
	Scanned        int `json:"scanned"`
	RequeuedVoice  int `json:"requeued_voice"`
	UnblockedQuota int `json:"unblocked_quota"`
	ReclaimedLocks int `json:"reclaimed_locks"`
	Finalized      int `json:"finalized"`
}

// Processing is the pipeline's sweeper. It unblocks quota-paused
// transcriptions, reclaims stale processor locks, requeues pending
// voice work and finalizes sessions whose declared processors have
// all finished. One run handles at most the clamped limit of
// sessions.
func (p *Pipeline) Processing(ctx context.Context, job queue.Job) error {
	var payload processingPayload
	if len(job.Payload) > 0 {
		if err := job.DecodePayload(&payload); err != nil {
			return fmt.Errorf("decode processing payload: %w", err)
		}
	}
	limit := clampLimit(payload.Limit)

	query := bson.M{
		"is_deleted": bson.M{"$ne": true},
		"$or": []bson.M{
			{"is_active": true},
			{"to_finalize": true, "is_finalized": bson.M{"$ne": true}},
		},
	}
	if payload.SessionID != "" {
		sessionID, err := parseSessionID(payload.SessionID)
		if err != nil {
			return err
		}
		query = bson.M{"_id": sessionID, "is_deleted": bson.M{"$ne": true}}
	}

	cursor, err := p.sessions.Find(ctx, query,
		options.Find().SetSort(bson.M{"updated_at": 1}).SetLimit(int64(limit)))
	if err != nil {
		return fmt.Errorf("load processing candidates: %w", err)
	}
	var candidates []models.Session
	if err := cursor.All(ctx, &candidates); err != nil {
		return fmt.Errorf("decode processing candidates: %w", err)
	}

	var counters ProcessingCounters
	counters.Scanned = len(candidates)
	now := time.Now().UTC()

	for _, sess := range candidates {
		if err := p.sweepSession(ctx, sess, now, &counters); err != nil {
			log.Printf("[pipeline] sweep failed session=%s err=%v", sess.ID.Hex(), err)
		}
	}

	log.Printf("[pipeline] processing sweep reason=%q scanned=%d requeued_voice=%d unblocked_quota=%d reclaimed_locks=%d finalized=%d",
		payload.Reason, counters.Scanned, counters.RequeuedVoice, counters.UnblockedQuota, counters.ReclaimedLocks, counters.Finalized)
	return nil
}

func (p *Pipeline) sweepSession(ctx context.Context, sess models.Session, now time.Time, counters *ProcessingCounters) error {
	unblocked, err := p.unblockQuota(ctx, sess, now)
	if err != nil {
		return err
	}
	counters.UnblockedQuota += unblocked

	requeued, err := p.requeueTranscriptions(ctx, sess, now)
	if err != nil {
		return err
	}
	counters.RequeuedVoice += requeued

	reclaimed, err := p.reclaimStaleLocks(ctx, sess, now)
	if err != nil {
		return err
	}
	counters.ReclaimedLocks += reclaimed

	finalized, err := p.finalizeIfComplete(ctx, sess, now)
	if err != nil {
		return err
	}
	if finalized {
		counters.Finalized++
	}
	return nil
}

// unblockQuota lifts the corruption flag on sessions paused for
// provider quota once a retry slot has come due.
func (p *Pipeline) unblockQuota(ctx context.Context, sess models.Session, now time.Time) (int, error) {
	if !sess.IsCorrupted {
		return 0, nil
	}
	due, err := p.messages.CountDocuments(ctx, bson.M{
		"session_id":                 sess.ID,
		"is_deleted":                 bson.M{"$ne": true},
		"to_transcribe":              true,
		"transcription_retry_reason": "insufficient_quota",
		"next_transcribe_attempt_at": bson.M{"$lte": now},
	})
	if err != nil {
		return 0, fmt.Errorf("count quota-paused messages: %w", err)
	}
	if due == 0 {
		return 0, nil
	}
	if _, err := p.sessions.UpdateOne(ctx, bson.M{"_id": sess.ID}, bson.M{
		"$set":   bson.M{"is_corrupted": false, "updated_at": now},
		"$unset": bson.M{"transcription_error": "", "transcription_error_code": "", "error_source": ""},
	}); err != nil {
		return 0, fmt.Errorf("unblock quota-paused session: %w", err)
	}
	return int(due), nil
}

// pendingTranscriptionQuery matches voice messages still owed a
// transcript and due for another attempt. The attempt cap does not
// apply to quota-paused messages; those stay retryable until the
// provider account unblocks.
func pendingTranscriptionQuery(sessionID primitive.ObjectID, now time.Time) bson.M {
	return bson.M{
		"session_id":     sessionID,
		"is_deleted":     bson.M{"$ne": true},
		"to_transcribe":  true,
		"is_transcribed": bson.M{"$ne": true},
		"$and": []bson.M{
			{"$or": []bson.M{
				{"transcribe_attempts": bson.M{"$lt": maxTranscribeAttempts}},
				{"transcription_retry_reason": "insufficient_quota"},
			}},
			{"$or": []bson.M{
				{"next_transcribe_attempt_at": bson.M{"$exists": false}},
				{"next_transcribe_attempt_at": nil},
				{"next_transcribe_attempt_at": bson.M{"$lte": now}},
			}},
		},
	}
}

// requeueTranscriptions re-enqueues voice messages still waiting on a
// transcript. The dedup id keeps an outstanding job from doubling.
func (p *Pipeline) requeueTranscriptions(ctx context.Context, sess models.Session, now time.Time) (int, error) {
	cursor, err := p.messages.Find(ctx, pendingTranscriptionQuery(sess.ID, now))
	if err != nil {
		return 0, fmt.Errorf("load pending transcriptions: %w", err)
	}
	var pending []models.Message
	if err := cursor.All(ctx, &pending); err != nil {
		return 0, fmt.Errorf("decode pending transcriptions: %w", err)
	}

	requeued := 0
	for _, msg := range pending {
		err := p.jobs.Enqueue(ctx, queue.QueueVoice, queue.JobTranscribe, map[string]interface{}{
			"session_id": sess.ID.Hex(),
			"message_id": msg.ID.Hex(),
		}, queue.Options{DedupID: sess.ID.Hex() + "-" + msg.ID.Hex() + "-TRANSCRIBE"})
		if err != nil {
			return requeued, fmt.Errorf("requeue transcription %s: %w", msg.ID.Hex(), err)
		}
		requeued++
	}
	return requeued, nil
}

// reclaimStaleLocks clears is_processing on stages whose worker went
// quiet past the grace window, so the next sweep can requeue them.
func (p *Pipeline) reclaimStaleLocks(ctx context.Context, sess models.Session, now time.Time) (int, error) {
	set := bson.M{}
	for name, state := range sess.ProcessorsData {
		if !state.IsProcessing || state.IsProcessed {
			continue
		}
		if state.JobQueuedTimestamp != nil && now.Sub(*state.JobQueuedTimestamp) <= p.grace {
			continue
		}
		set[processorPath(name, "is_processing")] = false
	}
	if len(set) == 0 {
		return 0, nil
	}
	set["updated_at"] = now
	if _, err := p.sessions.UpdateOne(ctx, bson.M{"_id": sess.ID}, bson.M{"$set": set}); err != nil {
		return 0, fmt.Errorf("reclaim stale locks: %w", err)
	}
	return len(set) - 1, nil
}

// finalizeIfComplete flips a session into the finalized state once
// message processing is done and every declared processor finished.
func (p *Pipeline) finalizeIfComplete(ctx context.Context, sess models.Session, now time.Time) (bool, error) {
	if !sess.IsMessagesProcessed || !sess.ToFinalize || sess.IsFinalized {
		return false, nil
	}
	if !sessionProcessorsComplete(sess) {
		return false, nil
	}
	if _, err := p.sessions.UpdateOne(ctx, bson.M{"_id": sess.ID}, bson.M{
		"$set": bson.M{
			"is_finalized":      true,
			"is_postprocessing": true,
			"finalized_at":      now,
			"updated_at":        now,
		},
	}); err != nil {
		return false, fmt.Errorf("finalize session: %w", err)
	}
	return true, nil
}
