package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"voicedesk/internal/llm"
	"voicedesk/internal/models"
	"voicedesk/internal/queue"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const categorizeInstructions = `Split the transcript into fragments and assign each fragment a category.
Respond with a JSON array of objects: [{"category": "...", "text": "..."}].
Categories: decision, action_item, question, context, other.`

type categorizePayload struct {
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id,omitempty"`
}

// Categorize splits transcribed messages into categorized fragments.
// With a message id set it handles that message only; otherwise it
// sweeps every transcribed, uncategorized message of the session.
// When nothing remains uncategorized the stage completes and the
// summarization job is queued.
func (p *Pipeline) Categorize(ctx context.Context, job queue.Job) error {
	var payload categorizePayload
	if err := job.DecodePayload(&payload); err != nil {
		return fmt.Errorf("decode categorize payload: %w", err)
	}
	sessionID, err := parseSessionID(payload.SessionID)
	if err != nil {
		return err
	}

	if p.gen == nil {
		return p.recordAPIKeyMissing(ctx, sessionID, models.ProcessorCategorization)
	}

	query := bson.M{
		"session_id":     sessionID,
		"is_deleted":     bson.M{"$ne": true},
		"is_transcribed": true,
		"categorization": bson.M{"$exists": false},
	}
	if payload.MessageID != "" {
		messageID, err := primitive.ObjectIDFromHex(payload.MessageID)
		if err != nil {
			return fmt.Errorf("invalid message id %q", payload.MessageID)
		}
		query["_id"] = messageID
	}

	cursor, err := p.messages.Find(ctx, query)
	if err != nil {
		return fmt.Errorf("load uncategorized messages: %w", err)
	}
	var pending []models.Message
	if err := cursor.All(ctx, &pending); err != nil {
		return fmt.Errorf("decode uncategorized messages: %w", err)
	}

	for _, msg := range pending {
		if err := p.categorizeMessage(ctx, msg); err != nil {
			if markErr := p.markProcessorError(ctx, sessionID, models.ProcessorCategorization, err.Error()); markErr != nil {
				log.Printf("[pipeline] categorization error not recorded session=%s err=%v", payload.SessionID, markErr)
			}
			return err
		}
	}

	remaining, err := p.messages.CountDocuments(ctx, bson.M{
		"session_id":     sessionID,
		"is_deleted":     bson.M{"$ne": true},
		"is_transcribed": true,
		"categorization": bson.M{"$exists": false},
	})
	if err != nil {
		return fmt.Errorf("count uncategorized messages: %w", err)
	}
	if remaining > 0 {
		return nil
	}

	if err := p.markProcessorDone(ctx, sessionID, models.ProcessorCategorization, nil); err != nil {
		return err
	}
	return p.jobs.Enqueue(ctx, queue.QueueProcessors, queue.JobSummarize, map[string]interface{}{
		"session_id": payload.SessionID,
	}, queue.Options{DedupID: payload.SessionID + "-SUMMARIZE"})
}

func (p *Pipeline) categorizeMessage(ctx context.Context, msg models.Message) error {
	text := strings.TrimSpace(msg.TranscriptionText)
	if text == "" {
		text = strings.TrimSpace(msg.Text)
	}

	rows := []models.CategorizationRow{}
	if text != "" {
		raw, err := p.gen.Generate(ctx, categorizeInstructions, text)
		if err != nil {
			return fmt.Errorf("categorize message %s: %w", msg.ID.Hex(), err)
		}
		items, err := llm.ParseJSONArray(raw)
		if err != nil {
			return fmt.Errorf("parse categorization for %s: %w", msg.ID.Hex(), err)
		}
		for _, item := range items {
			var row models.CategorizationRow
			if err := json.Unmarshal(item, &row); err != nil {
				continue
			}
			if strings.TrimSpace(row.Text) == "" {
				continue
			}
			if row.Category == "" {
				row.Category = "other"
			}
			rows = append(rows, row)
		}
	}

	_, err := p.messages.UpdateOne(ctx, bson.M{"_id": msg.ID}, bson.M{
		"$set": bson.M{
			"categorization": rows,
			"updated_at":     time.Now().UTC(),
		},
	})
	if err != nil {
		return fmt.Errorf("store categorization for %s: %w", msg.ID.Hex(), err)
	}
	return nil
}
