package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"voicedesk/internal/models"
	"voicedesk/internal/queue"

	"go.mongodb.org/mongo-driver/bson"
)

const summarizeInstructions = `Summarize the session transcript.
Keep decisions, open questions and agreed follow-ups. Answer in the transcript's language.`

type sessionJobPayload struct {
	SessionID string `json:"session_id"`
}

// Summarize condenses the session transcript and stores the result
// both as the stage output and as the session summary.
func (p *Pipeline) Summarize(ctx context.Context, job queue.Job) error {
	var payload sessionJobPayload
	if err := job.DecodePayload(&payload); err != nil {
		return fmt.Errorf("decode summarize payload: %w", err)
	}
	sessionID, err := parseSessionID(payload.SessionID)
	if err != nil {
		return err
	}

	if p.gen == nil {
		return p.recordAPIKeyMissing(ctx, sessionID, models.ProcessorSummarization)
	}

	transcript, err := p.sessionTranscript(ctx, sessionID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(transcript) == "" {
		return p.markProcessorDone(ctx, sessionID, models.ProcessorSummarization, bson.M{"skipped": "empty_transcript"})
	}

	summary, err := p.gen.Generate(ctx, summarizeInstructions, transcript)
	if err != nil {
		if markErr := p.markProcessorError(ctx, sessionID, models.ProcessorSummarization, err.Error()); markErr != nil {
			return markErr
		}
		return fmt.Errorf("summarize session %s: %w", payload.SessionID, err)
	}

	now := time.Now().UTC()
	if _, err := p.sessions.UpdateOne(ctx, bson.M{"_id": sessionID}, bson.M{
		"$set": bson.M{
			"summary.text":       summary,
			"summary.updated_at": now,
		},
	}); err != nil {
		return fmt.Errorf("store summary for %s: %w", payload.SessionID, err)
	}
	if err := p.markProcessorDone(ctx, sessionID, models.ProcessorSummarization, bson.M{"text": summary}); err != nil {
		return err
	}

	return p.jobs.Enqueue(ctx, queue.QueueCommon, queue.JobProcessing, map[string]interface{}{
		"session_id": payload.SessionID,
		"reason":     "summarization_done",
		"limit":      1,
	}, queue.Options{DedupID: payload.SessionID + "-PROCESSING-KICK"})
}
