package realtime

import (
	"context"
	"fmt"

	"voicedesk/internal/queue"
)

type socketJobPayload struct {
	SessionID string      `json:"session_id"`
	Event     string      `json:"event"`
	Payload   interface{} `json:"payload,omitempty"`
}

// SendToSocketHandler consumes queued socket events and fans them
// out through the hub. A room with no subscribers is a success.
func SendToSocketHandler(hub *Hub) queue.HandlerFunc {
	return func(ctx context.Context, job queue.Job) error {
		var p socketJobPayload
		if err := job.DecodePayload(&p); err != nil {
			return fmt.Errorf("decode socket job payload: %w", err)
		}
		if p.SessionID == "" || p.Event == "" {
			return fmt.Errorf("socket job missing session_id or event")
		}
		hub.DispatchEvent(ctx, p.SessionID, p.Event, p.Payload)
		return nil
	}
}
