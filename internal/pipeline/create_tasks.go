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
	"voicedesk/internal/tasks"
	"voicedesk/internal/tracker"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const createTasksInstructions = `Extract actionable follow-ups from the session transcript.
Respond with a JSON array: [{"name": "...", "description": "...", "priority": "low|medium|high|urgent", "type": "...", "assignee": "..."}].
Only include items someone explicitly agreed to do.`

const codexReviewWindow = 48 * time.Hour

// CreateTasks extracts follow-ups from the finished session, persists
// them with a deferred codex review window and mirrors each into the
// external tracker. A tracker outage does not fail the stage; the
// task simply stays unmirrored.
func (p *Pipeline) CreateTasks(ctx context.Context, job queue.Job) error {
	var payload sessionJobPayload
	if err := job.DecodePayload(&payload); err != nil {
		return fmt.Errorf("decode create tasks payload: %w", err)
	}
	sessionID, err := parseSessionID(payload.SessionID)
	if err != nil {
		return err
	}
	sess, err := p.loadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.ProcessorsData[models.ProcessorCreateTasks].IsProcessed {
		return nil
	}
	if p.gen == nil {
		return p.recordAPIKeyMissing(ctx, sessionID, models.ProcessorCreateTasks)
	}

	transcript, err := p.sessionTranscript(ctx, sessionID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(transcript) == "" {
		return p.markProcessorDone(ctx, sessionID, models.ProcessorCreateTasks, bson.M{"skipped": "empty_transcript"})
	}

	raw, err := p.gen.Generate(ctx, createTasksInstructions, transcript)
	if err != nil {
		if markErr := p.markProcessorError(ctx, sessionID, models.ProcessorCreateTasks, err.Error()); markErr != nil {
			return markErr
		}
		return fmt.Errorf("extract tasks for %s: %w", payload.SessionID, err)
	}
	items, err := llm.ParseJSONArray(raw)
	if err != nil {
		if markErr := p.markProcessorError(ctx, sessionID, models.ProcessorCreateTasks, err.Error()); markErr != nil {
			return markErr
		}
		return fmt.Errorf("parse tasks for %s: %w", payload.SessionID, err)
	}

	drafts := make([]models.TaskDraft, 0, len(items))
	for _, item := range items {
		var draft models.TaskDraft
		if err := json.Unmarshal(item, &draft); err != nil {
			continue
		}
		drafts = append(drafts, draft)
	}
	drafts = tasks.NormalizeDrafts(drafts)

	now := time.Now().UTC()
	due := now.Add(codexReviewWindow)
	created := 0
	for _, draft := range drafts {
		taskID := primitive.NewObjectID()
		task := models.Task{
			ID:               taskID,
			SessionID:        sessionID,
			ProjectID:        sess.ProjectID,
			Name:             draft.Name,
			Description:      draft.Description,
			Priority:         draft.Priority,
			Type:             draft.Type,
			Assignee:         draft.Assignee,
			Dependencies:     draft.Dependencies,
			ExternalRef:      taskID.Hex(),
			CodexReviewState: models.CodexReviewDeferred,
			CodexReviewDueAt: &due,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if _, err := p.tasks.InsertOne(ctx, task); err != nil {
			return fmt.Errorf("insert task %q: %w", draft.Name, err)
		}
		created++

		if p.mirror == nil {
			continue
		}
		issue, err := p.mirror.Create(ctx, tracker.CreateParams{
			Title:       draft.Name,
			Type:        draft.Type,
			Description: draft.Description,
			Priority:    draft.Priority,
			Assignee:    draft.Assignee,
			ExternalRef: taskID.Hex(),
		})
		if err != nil {
			log.Printf("[pipeline] tracker mirror failed task=%s err=%v", taskID.Hex(), err)
			continue
		}
		if _, err := p.tasks.UpdateOne(ctx, bson.M{"_id": taskID}, bson.M{
			"$set": bson.M{"tracker_id": issue.ID, "updated_at": time.Now().UTC()},
		}); err != nil {
			log.Printf("[pipeline] tracker id not persisted task=%s err=%v", taskID.Hex(), err)
		}
	}

	return p.markProcessorDone(ctx, sessionID, models.ProcessorCreateTasks, bson.M{"created": created})
}
