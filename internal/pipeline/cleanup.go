package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"voicedesk/internal/models"
	"voicedesk/internal/queue"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const emptySessionTTL = 24 * time.Hour

// CleanupEmptySessions soft-deletes welcome-state sessions that never
// received a message. Runs on the hourly cron.
func (p *Pipeline) CleanupEmptySessions(ctx context.Context, job queue.Job) error {
	cutoff := time.Now().UTC().Add(-emptySessionTTL)

	cursor, err := p.sessions.Find(ctx, bson.M{
		"is_waiting": true,
		"is_deleted": bson.M{"$ne": true},
		"updated_at": bson.M{"$lt": cutoff},
	}, options.Find().SetLimit(maxProcessingLimit))
	if err != nil {
		return fmt.Errorf("load stale waiting sessions: %w", err)
	}
	var stale []models.Session
	if err := cursor.All(ctx, &stale); err != nil {
		return fmt.Errorf("decode stale waiting sessions: %w", err)
	}

	removed := 0
	for _, sess := range stale {
		count, err := p.messages.CountDocuments(ctx, bson.M{
			"session_id": sess.ID,
			"is_deleted": bson.M{"$ne": true},
		})
		if err != nil {
			return fmt.Errorf("count messages for %s: %w", sess.ID.Hex(), err)
		}
		if count > 0 {
			continue
		}
		if _, err := p.sessions.UpdateOne(ctx, bson.M{"_id": sess.ID}, bson.M{
			"$set": bson.M{
				"is_deleted":     true,
				"deleted_reason": "empty_session",
				"updated_at":     time.Now().UTC(),
			},
		}); err != nil {
			return fmt.Errorf("delete empty session %s: %w", sess.ID.Hex(), err)
		}
		removed++
	}
	if removed > 0 {
		log.Printf("[pipeline] empty sessions cleaned removed=%d scanned=%d", removed, len(stale))
	}
	return nil
}
