package pipeline

import (
	"context"
	"fmt"

	"voicedesk/internal/queue"

	"go.mongodb.org/mongo-driver/bson"
)

// AudioMerging records that audio merging was skipped. The job stays
// in the manifest so queued references resolve instead of failing
// with handler_not_found; merged-audio production itself is off.
func (p *Pipeline) AudioMerging(ctx context.Context, job queue.Job) error {
	var payload sessionJobPayload
	if err := job.DecodePayload(&payload); err != nil {
		return fmt.Errorf("decode audio merging payload: %w", err)
	}
	sessionID, err := parseSessionID(payload.SessionID)
	if err != nil {
		return err
	}
	return p.markProcessorDone(ctx, sessionID, "AUDIO_MERGING", bson.M{"skipped": "audio_merge_disabled"})
}
