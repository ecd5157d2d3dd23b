package dedup

import (
	"context"
	"fmt"
	"log"
	"time"

	"voicedesk/internal/models"
	"voicedesk/internal/scopedb"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Engine scans a session's messages and applies dedup plans.
type Engine struct {
	messages *scopedb.Collection
}

func NewEngine(messages *scopedb.Collection) *Engine {
	return &Engine{messages: messages}
}

// Scan loads the session's live messages and builds the plan.
func (e *Engine) Scan(ctx context.Context, sessionID primitive.ObjectID) (Plan, error) {
	cursor, err := e.messages.Find(ctx, bson.M{
		"session_id": sessionID,
		"is_deleted": bson.M{"$ne": true},
	})
	if err != nil {
		return Plan{}, fmt.Errorf("load session messages: %w", err)
	}
	defer cursor.Close(ctx)

	var msgs []models.Message
	if err := cursor.All(ctx, &msgs); err != nil {
		return Plan{}, fmt.Errorf("decode session messages: %w", err)
	}

	return BuildPlan(sessionID.Hex(), msgs), nil
}

// Apply soft-deletes every duplicate, recording why and which message
// replaced it, and clears the transcription trigger so no worker
// spends provider quota on a dead copy.
func (e *Engine) Apply(ctx context.Context, plan Plan) error {
	now := time.Now().UTC()
	for _, group := range plan.Groups {
		for _, dupHex := range group.DuplicateIDs {
			dupID, err := primitive.ObjectIDFromHex(dupHex)
			if err != nil {
				continue
			}
			_, err = e.messages.UpdateOne(ctx, bson.M{"_id": dupID}, bson.M{
				"$set": bson.M{
					"is_deleted":      true,
					"to_transcribe":   false,
					"dedup_reason":    "duplicate_upload",
					"dedup_group_key": group.FileName,
					"replaced_by":     group.WinnerID,
					"updated_at":      now,
				},
			})
			if err != nil {
				return fmt.Errorf("mark duplicate %s: %w", dupHex, err)
			}
		}
		log.Printf("[dedup] group applied session=%s file=%s winner=%s duplicates=%d",
			group.SessionID, group.FileName, group.WinnerID, len(group.DuplicateIDs))
	}
	return nil
}
