package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"voicedesk/internal/models"
	"voicedesk/internal/queue"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

const finalPromptDelay = time.Second

// AllCustomPrompts fans the session's custom processors out as
// individual jobs. Stages already holding a fresh lock or carrying a
// result are skipped; a session with no custom processors jumps
// straight to the final prompt.
func (p *Pipeline) AllCustomPrompts(ctx context.Context, job queue.Job) error {
	var payload sessionJobPayload
	if err := job.DecodePayload(&payload); err != nil {
		return fmt.Errorf("decode custom prompts payload: %w", err)
	}
	sessionID, err := parseSessionID(payload.SessionID)
	if err != nil {
		return err
	}
	sess, err := p.loadSession(ctx, sessionID)
	if err != nil {
		return err
	}

	customs := customProcessorNames(sess)
	if len(customs) == 0 {
		return p.enqueueFinalPrompt(ctx, payload.SessionID)
	}

	now := time.Now().UTC()
	queued := 0
	for _, name := range customs {
		if !lockEligible(sess.ProcessorsData[name], now, p.grace) {
			continue
		}
		if err := p.markProcessorQueued(ctx, sessionID, name); err != nil {
			return err
		}
		if err := p.jobs.Enqueue(ctx, queue.QueueProcessors, queue.JobOneCustomPrompt, map[string]interface{}{
			"session_id": payload.SessionID,
			"processor":  name,
		}, queue.Options{DedupID: payload.SessionID + "-" + name}); err != nil {
			return fmt.Errorf("enqueue custom prompt %s: %w", name, err)
		}
		queued++
	}
	log.Printf("[pipeline] custom prompts fanned out session=%s queued=%d total=%d", payload.SessionID, queued, len(customs))

	if queued == 0 && customPromptsComplete(sess) {
		return p.enqueueFinalPrompt(ctx, payload.SessionID)
	}
	return nil
}

type customPromptPayload struct {
	SessionID string `json:"session_id"`
	Processor string `json:"processor"`
}

// OneCustomPrompt runs a single custom processor and, once the last
// one lands, queues the final prompt.
func (p *Pipeline) OneCustomPrompt(ctx context.Context, job queue.Job) error {
	var payload customPromptPayload
	if err := job.DecodePayload(&payload); err != nil {
		return fmt.Errorf("decode custom prompt payload: %w", err)
	}
	if payload.Processor == "" {
		return fmt.Errorf("custom prompt job missing processor name")
	}
	sessionID, err := parseSessionID(payload.SessionID)
	if err != nil {
		return err
	}
	sess, err := p.loadSession(ctx, sessionID)
	if err != nil {
		return err
	}

	if state := sess.ProcessorsData[payload.Processor]; state.IsProcessed {
		return p.maybeEnqueueFinalPrompt(ctx, sessionID, payload.SessionID)
	}

	if p.gen == nil {
		return p.recordAPIKeyMissing(ctx, sessionID, payload.Processor)
	}

	instructions, err := p.promptInstructions(ctx, sess, payload.Processor)
	if err != nil {
		if markErr := p.markProcessorError(ctx, sessionID, payload.Processor, err.Error()); markErr != nil {
			return markErr
		}
		return err
	}

	transcript, err := p.sessionTranscript(ctx, sessionID)
	if err != nil {
		return err
	}
	result, err := p.gen.Generate(ctx, instructions, transcript)
	if err != nil {
		if markErr := p.markProcessorError(ctx, sessionID, payload.Processor, err.Error()); markErr != nil {
			return markErr
		}
		return fmt.Errorf("custom prompt %s for %s: %w", payload.Processor, payload.SessionID, err)
	}

	if err := p.markProcessorDone(ctx, sessionID, payload.Processor, bson.M{"text": result}); err != nil {
		return err
	}
	return p.maybeEnqueueFinalPrompt(ctx, sessionID, payload.SessionID)
}

// FinalCustomPrompt composes the custom stage outputs into the final
// session digest.
func (p *Pipeline) FinalCustomPrompt(ctx context.Context, job queue.Job) error {
	var payload sessionJobPayload
	if err := job.DecodePayload(&payload); err != nil {
		return fmt.Errorf("decode final prompt payload: %w", err)
	}
	sessionID, err := parseSessionID(payload.SessionID)
	if err != nil {
		return err
	}
	sess, err := p.loadSession(ctx, sessionID)
	if err != nil {
		return err
	}

	if sess.ProcessorsData[models.ProcessorFinalCustomPrompt].IsProcessed {
		return nil
	}
	if p.gen == nil {
		return p.recordAPIKeyMissing(ctx, sessionID, models.ProcessorFinalCustomPrompt)
	}

	var b strings.Builder
	for _, name := range customProcessorNames(sess) {
		text := stageText(sess.ProcessorsData[name].Data)
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "## %s\n%s\n\n", name, text)
	}
	if summaryText, ok := sess.Summary["text"].(string); ok && summaryText != "" {
		fmt.Fprintf(&b, "## Summary\n%s\n", summaryText)
	}

	input := b.String()
	if strings.TrimSpace(input) == "" {
		return p.markProcessorDone(ctx, sessionID, models.ProcessorFinalCustomPrompt, bson.M{"skipped": "no_stage_output"})
	}

	digest, err := p.gen.Generate(ctx, "Merge the stage outputs below into one coherent session digest.", input)
	if err != nil {
		if markErr := p.markProcessorError(ctx, sessionID, models.ProcessorFinalCustomPrompt, err.Error()); markErr != nil {
			return markErr
		}
		return fmt.Errorf("final prompt for %s: %w", payload.SessionID, err)
	}

	now := time.Now().UTC()
	if _, err := p.sessions.UpdateOne(ctx, bson.M{"_id": sessionID}, bson.M{
		"$set": bson.M{
			"summary.digest":     digest,
			"summary.updated_at": now,
		},
	}); err != nil {
		return fmt.Errorf("store digest for %s: %w", payload.SessionID, err)
	}
	return p.markProcessorDone(ctx, sessionID, models.ProcessorFinalCustomPrompt, bson.M{"text": digest})
}

// stageText pulls the "text" field out of a stage result regardless
// of how the driver decoded the document.
func stageText(data interface{}) string {
	switch v := data.(type) {
	case bson.M:
		if text, ok := v["text"].(string); ok {
			return strings.TrimSpace(text)
		}
	case bson.D:
		for _, e := range v {
			if e.Key == "text" {
				if text, ok := e.Value.(string); ok {
					return strings.TrimSpace(text)
				}
			}
		}
	case map[string]interface{}:
		if text, ok := v["text"].(string); ok {
			return strings.TrimSpace(text)
		}
	}
	return ""
}

// promptInstructions resolves a custom processor's prompt text from
// the session's project document.
func (p *Pipeline) promptInstructions(ctx context.Context, sess models.Session, processor string) (string, error) {
	if sess.ProjectID.IsZero() {
		return "", fmt.Errorf("prompt_not_found: session has no project")
	}
	var project struct {
		CustomPrompts map[string]string `bson:"custom_prompts"`
	}
	err := p.projects.FindOne(ctx, bson.M{"_id": sess.ProjectID}).Decode(&project)
	if err == mongo.ErrNoDocuments {
		return "", fmt.Errorf("prompt_not_found: project %s missing", sess.ProjectID.Hex())
	}
	if err != nil {
		return "", fmt.Errorf("load project %s: %w", sess.ProjectID.Hex(), err)
	}
	instructions := strings.TrimSpace(project.CustomPrompts[processor])
	if instructions == "" {
		return "", fmt.Errorf("prompt_not_found: %s", processor)
	}
	return instructions, nil
}

// maybeEnqueueFinalPrompt re-reads the session and queues the final
// prompt once every custom stage has landed.
func (p *Pipeline) maybeEnqueueFinalPrompt(ctx context.Context, sessionID primitive.ObjectID, sessionHex string) error {
	sess, err := p.loadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !customPromptsComplete(sess) {
		return nil
	}
	return p.enqueueFinalPrompt(ctx, sessionHex)
}

func (p *Pipeline) enqueueFinalPrompt(ctx context.Context, sessionHex string) error {
	return p.jobs.Enqueue(ctx, queue.QueuePostprocessors, queue.JobFinalCustomPrompt, map[string]interface{}{
		"session_id": sessionHex,
	}, queue.Options{
		DedupID: sessionHex + "-FINAL_CUSTOM_PROCESSING",
		Delay:   finalPromptDelay,
	})
}
