package pipeline

import (
	"context"
	"fmt"
	"time"

	"voicedesk/internal/models"
	"voicedesk/internal/queue"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

type linkAttachmentsPayload struct {
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
}

// LinkAttachments anchors an attachment message to the closest voice
// message of its session, so rendered transcripts can inline the file
// where it was mentioned. A session with no voice messages leaves the
// attachment unanchored; that is not an error.
func (p *Pipeline) LinkAttachments(ctx context.Context, job queue.Job) error {
	var payload linkAttachmentsPayload
	if err := job.DecodePayload(&payload); err != nil {
		return fmt.Errorf("decode link attachments payload: %w", err)
	}
	sessionID, err := parseSessionID(payload.SessionID)
	if err != nil {
		return err
	}
	messageID, err := primitive.ObjectIDFromHex(payload.MessageID)
	if err != nil {
		return fmt.Errorf("invalid message id %q", payload.MessageID)
	}

	var attachment models.Message
	if err := p.messages.FindOne(ctx, bson.M{"_id": messageID, "is_deleted": bson.M{"$ne": true}}).Decode(&attachment); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil
		}
		return fmt.Errorf("load attachment message: %w", err)
	}
	if attachment.ImageAnchorLinkedMessageID != "" {
		return nil
	}

	anchor, err := p.closestVoiceMessage(ctx, sessionID, attachment)
	if err != nil {
		return err
	}
	if anchor == nil {
		return nil
	}

	_, err = p.messages.UpdateOne(ctx, bson.M{"_id": messageID}, bson.M{
		"$set": bson.M{
			"image_anchor_linked_message_id": anchor.ID.Hex(),
			"updated_at":                     time.Now().UTC(),
		},
	})
	if err != nil {
		return fmt.Errorf("anchor attachment %s: %w", payload.MessageID, err)
	}
	return nil
}

// closestVoiceMessage picks the voice message whose timestamp is
// nearest to the attachment's.
func (p *Pipeline) closestVoiceMessage(ctx context.Context, sessionID primitive.ObjectID, attachment models.Message) (*models.Message, error) {
	cursor, err := p.messages.Find(ctx, bson.M{
		"session_id": sessionID,
		"is_deleted": bson.M{"$ne": true},
		"file_id":    bson.M{"$exists": true, "$ne": ""},
		"_id":        bson.M{"$ne": attachment.ID},
	})
	if err != nil {
		return nil, fmt.Errorf("load anchor candidates: %w", err)
	}
	var candidates []models.Message
	if err := cursor.All(ctx, &candidates); err != nil {
		return nil, fmt.Errorf("decode anchor candidates: %w", err)
	}

	ref := messageInstant(attachment)
	var best *models.Message
	var bestDelta time.Duration
	for i := range candidates {
		delta := messageInstant(candidates[i]).Sub(ref)
		if delta < 0 {
			delta = -delta
		}
		if best == nil || delta < bestDelta {
			best = &candidates[i]
			bestDelta = delta
		}
	}
	return best, nil
}

func messageInstant(m models.Message) time.Time {
	if m.MessageTimestamp != nil {
		return *m.MessageTimestamp
	}
	return m.CreatedAt
}
