package session

import (
	"context"
	"fmt"
	"time"

	"voicedesk/internal/models"
	"voicedesk/internal/scopedb"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ActiveSessions maps a sender to the session currently receiving
// their messages, so follow-up input without an explicit session id
// lands in the same conversation.
type ActiveSessions struct {
	coll *scopedb.Collection
}

func NewActiveSessions(coll *scopedb.Collection) *ActiveSessions {
	return &ActiveSessions{coll: coll}
}

// Set points the sender at the session, replacing any previous
// mapping.
func (a *ActiveSessions) Set(ctx context.Context, userID, chatID string, sessionID primitive.ObjectID) error {
	if userID == "" {
		return fmt.Errorf("user id required")
	}
	upsert := true
	_, err := a.coll.UpdateOne(ctx,
		bson.M{"telegram_user_id": userID},
		bson.M{"$set": bson.M{
			"chat_id":    chatID,
			"session_id": sessionID,
			"updated_at": time.Now().UTC(),
		}},
		&options.UpdateOptions{Upsert: &upsert},
	)
	if err != nil {
		return fmt.Errorf("set active session: %w", err)
	}
	return nil
}

// Get returns the sender's active session id, if any.
func (a *ActiveSessions) Get(ctx context.Context, userID string) (primitive.ObjectID, bool, error) {
	var mapping models.ActiveSession
	err := a.coll.FindOne(ctx, bson.M{"telegram_user_id": userID}).Decode(&mapping)
	if err == mongo.ErrNoDocuments {
		return primitive.NilObjectID, false, nil
	}
	if err != nil {
		return primitive.NilObjectID, false, fmt.Errorf("get active session: %w", err)
	}
	return mapping.SessionID, true, nil
}

// ClearForUser drops the sender's mapping.
func (a *ActiveSessions) ClearForUser(ctx context.Context, userID string) error {
	if userID == "" {
		return nil
	}
	if _, err := a.coll.DeleteMany(ctx, bson.M{"telegram_user_id": userID}); err != nil {
		return fmt.Errorf("clear active session for user: %w", err)
	}
	return nil
}

// ClearBySession drops every mapping pointing at the session, used
// when the session closes regardless of who owns the pointer.
func (a *ActiveSessions) ClearBySession(ctx context.Context, sessionID primitive.ObjectID) error {
	if _, err := a.coll.DeleteMany(ctx, bson.M{"session_id": sessionID}); err != nil {
		return fmt.Errorf("clear active session by session: %w", err)
	}
	return nil
}
