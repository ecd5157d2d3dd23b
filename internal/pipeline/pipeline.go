package pipeline

import (
	"context"
	"fmt"
	"time"

	"voicedesk/internal/llm"
	"voicedesk/internal/models"
	"voicedesk/internal/queue"
	"voicedesk/internal/scopedb"
	"voicedesk/internal/session"
	"voicedesk/internal/tracker"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// TaskMirror is the slice of the tracker client the task fan-out
// needs.
type TaskMirror interface {
	Create(ctx context.Context, p tracker.CreateParams) (tracker.Issue, error)
}

// Pipeline owns the session processing handlers. A nil generator
// means no provider credentials are configured; LLM-backed handlers
// then record the sentinel instead of failing.
type Pipeline struct {
	sessions *scopedb.Collection
	messages *scopedb.Collection
	projects *scopedb.Collection
	tasks    *scopedb.Collection

	jobs     *queue.Client
	gen      llm.Generator
	mirror   TaskMirror
	logger   *session.Logger
	linkBase string

	grace time.Duration
}

// Deps collects the pipeline's collaborators.
type Deps struct {
	Sessions *scopedb.Collection
	Messages *scopedb.Collection
	Projects *scopedb.Collection
	Tasks    *scopedb.Collection

	Jobs      *queue.Client
	Generator llm.Generator
	Mirror    TaskMirror
	Logger    *session.Logger
	LinkBase  string

	Grace time.Duration
}

func New(deps Deps) *Pipeline {
	if deps.Grace <= 0 {
		deps.Grace = 15 * time.Minute
	}
	return &Pipeline{
		sessions: deps.Sessions,
		messages: deps.Messages,
		projects: deps.Projects,
		tasks:    deps.Tasks,
		jobs:     deps.Jobs,
		gen:      deps.Generator,
		mirror:   deps.Mirror,
		logger:   deps.Logger,
		linkBase: deps.LinkBase,
		grace:    deps.Grace,
	}
}

func (p *Pipeline) loadSession(ctx context.Context, id primitive.ObjectID) (models.Session, error) {
	var sess models.Session
	err := p.sessions.FindOne(ctx, bson.M{"_id": id, "is_deleted": bson.M{"$ne": true}}).Decode(&sess)
	if err == mongo.ErrNoDocuments {
		return sess, fmt.Errorf("session %s not found", id.Hex())
	}
	if err != nil {
		return sess, fmt.Errorf("load session %s: %w", id.Hex(), err)
	}
	return sess, nil
}

func parseSessionID(raw string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(raw)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("invalid session id %q", raw)
	}
	return id, nil
}

func processorPath(name, field string) string {
	return "processors_data." + name + "." + field
}

// lockEligible reports whether a processor may be (re)queued. A
// processed stage never requalifies; a held lock qualifies again only
// after the grace window, covering workers that died mid-job.
func lockEligible(state models.ProcessorState, now time.Time, grace time.Duration) bool {
	if state.IsProcessed {
		return false
	}
	if !state.IsProcessing {
		return true
	}
	if state.JobQueuedTimestamp == nil {
		return true
	}
	return now.Sub(*state.JobQueuedTimestamp) > grace
}

// markProcessorQueued takes the advisory lock for one stage.
func (p *Pipeline) markProcessorQueued(ctx context.Context, sessionID primitive.ObjectID, name string) error {
	now := time.Now().UTC()
	_, err := p.sessions.UpdateOne(ctx, bson.M{"_id": sessionID}, bson.M{
		"$set": bson.M{
			processorPath(name, "is_processing"):        true,
			processorPath(name, "job_queued_timestamp"): now,
			processorPath(name, "updated_at"):           now,
			"updated_at":                                now,
		},
	})
	if err != nil {
		return fmt.Errorf("queue processor %s: %w", name, err)
	}
	return nil
}

// markProcessorDone records a stage result. is_processed only ever
// moves forward; the update never resets a previously completed
// stage.
func (p *Pipeline) markProcessorDone(ctx context.Context, sessionID primitive.ObjectID, name string, data interface{}) error {
	now := time.Now().UTC()
	set := bson.M{
		processorPath(name, "is_processing"): false,
		processorPath(name, "is_processed"):  true,
		processorPath(name, "updated_at"):    now,
		"updated_at":                         now,
	}
	if data != nil {
		set[processorPath(name, "data")] = data
	}
	_, err := p.sessions.UpdateOne(ctx, bson.M{"_id": sessionID}, bson.M{
		"$set":   set,
		"$unset": bson.M{processorPath(name, "error"): ""},
	})
	if err != nil {
		return fmt.Errorf("complete processor %s: %w", name, err)
	}
	return nil
}

// markProcessorError releases the lock and records the failure
// without touching is_processed.
func (p *Pipeline) markProcessorError(ctx context.Context, sessionID primitive.ObjectID, name, message string) error {
	now := time.Now().UTC()
	_, err := p.sessions.UpdateOne(ctx, bson.M{"_id": sessionID}, bson.M{
		"$set": bson.M{
			processorPath(name, "is_processing"): false,
			processorPath(name, "error"):         message,
			processorPath(name, "updated_at"):    now,
			"updated_at":                         now,
		},
	})
	if err != nil {
		return fmt.Errorf("record processor error %s: %w", name, err)
	}
	return nil
}

// recordAPIKeyMissing stores the credentials sentinel for a stage.
// The job itself succeeds so the queue does not spin on retries.
func (p *Pipeline) recordAPIKeyMissing(ctx context.Context, sessionID primitive.ObjectID, name string) error {
	return p.markProcessorError(ctx, sessionID, name, llm.ErrAPIKeyMissing.Error())
}

// customProcessorNames returns the session's declared processors
// minus the fixed tail stages.
func customProcessorNames(sess models.Session) []string {
	out := make([]string, 0, len(sess.SessionProcessors))
	for _, name := range sess.SessionProcessors {
		if name == models.ProcessorFinalCustomPrompt || name == models.ProcessorCreateTasks {
			continue
		}
		out = append(out, name)
	}
	return out
}

// customPromptsComplete reports whether every custom processor has a
// recorded result.
func customPromptsComplete(sess models.Session) bool {
	for _, name := range customProcessorNames(sess) {
		if !sess.ProcessorsData[name].IsProcessed {
			return false
		}
	}
	return true
}

// sessionProcessorsComplete reports whether every declared processor,
// custom and tail alike, has finished. Gate for finalization.
func sessionProcessorsComplete(sess models.Session) bool {
	for _, name := range sess.SessionProcessors {
		if !sess.ProcessorsData[name].IsProcessed {
			return false
		}
	}
	return true
}
