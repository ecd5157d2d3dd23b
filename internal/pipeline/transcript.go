package pipeline

import (
	"context"
	"fmt"
	"strings"

	"voicedesk/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// sessionMessages loads a session's live messages in ingestion order.
func (p *Pipeline) sessionMessages(ctx context.Context, sessionID primitive.ObjectID) ([]models.Message, error) {
	cursor, err := p.messages.Find(ctx, bson.M{
		"session_id": sessionID,
		"is_deleted": bson.M{"$ne": true},
	}, options.Find().SetSort(bson.M{"created_at": 1}))
	if err != nil {
		return nil, fmt.Errorf("load messages for %s: %w", sessionID.Hex(), err)
	}
	var msgs []models.Message
	if err := cursor.All(ctx, &msgs); err != nil {
		return nil, fmt.Errorf("decode messages for %s: %w", sessionID.Hex(), err)
	}
	return msgs, nil
}

// sessionTranscript joins the transcribed text of a session's
// messages into one prompt input.
func (p *Pipeline) sessionTranscript(ctx context.Context, sessionID primitive.ObjectID) (string, error) {
	msgs, err := p.sessionMessages(ctx, sessionID)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, m := range msgs {
		text := strings.TrimSpace(m.TranscriptionText)
		if text == "" {
			text = strings.TrimSpace(m.Text)
		}
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(text)
	}
	return b.String(), nil
}
