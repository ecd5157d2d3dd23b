package tasks

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"voicedesk/internal/models"
	"voicedesk/internal/tracker"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Codex review callbacks arrive as `cdr:<action>:<task-hex-id>`.
// Matching is case-insensitive; clients are not trusted to preserve
// the casing of forwarded callback data.
var callbackPattern = regexp.MustCompile(`(?i)^cdr:(start|cancel):([a-f0-9]{24})$`)

// Tracker issue ids minted for mirrored tasks.
var issuePattern = regexp.MustCompile(`(?i)^copilot-[a-z0-9]+$`)

const (
	CodexActionStart  = "start"
	CodexActionCancel = "cancel"
)

// ParseCodexCallback extracts the action and task id from a review
// callback payload. ok is false when the payload does not match.
func ParseCodexCallback(data string) (action string, taskID primitive.ObjectID, ok bool) {
	m := callbackPattern.FindStringSubmatch(data)
	if m == nil {
		return "", primitive.NilObjectID, false
	}
	id, err := primitive.ObjectIDFromHex(strings.ToLower(m[2]))
	if err != nil {
		return "", primitive.NilObjectID, false
	}
	return strings.ToLower(m[1]), id, true
}

// ValidIssueID reports whether s is a tracker issue id we minted.
func ValidIssueID(s string) bool {
	return issuePattern.MatchString(s)
}

// TrackerUpdater is the slice of the tracker client the review flow
// needs. Swapped in tests.
type TrackerUpdater interface {
	Update(ctx context.Context, id string, p tracker.UpdateParams) error
}

// TaskStore is the slice of the tasks collection the review flow
// needs. Swapped in tests.
type TaskStore interface {
	FindOne(ctx context.Context, query bson.M, opts ...*options.FindOneOptions) *mongo.SingleResult
	UpdateOne(ctx context.Context, query bson.M, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

// CodexReviewer resolves deferred review decisions on tasks.
type CodexReviewer struct {
	tasks   TaskStore
	tracker TrackerUpdater
}

func NewCodexReviewer(tasks TaskStore, tr TrackerUpdater) *CodexReviewer {
	return &CodexReviewer{tasks: tasks, tracker: tr}
}

// DecideResult reports what happened to the deferred review.
type DecideResult struct {
	OK      bool   `json:"ok"`
	TaskID  string `json:"task_id,omitempty"`
	State   string `json:"state,omitempty"`
	Already bool   `json:"already,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Decide applies one review callback. Start reopens the mirrored
// tracker issue and marks the review done; cancel closes the issue
// with a note and marks it canceled. A task whose review is no
// longer deferred is a no-op reported via Already.
func (r *CodexReviewer) Decide(ctx context.Context, callback, decidedBy string) (DecideResult, error) {
	action, taskID, ok := ParseCodexCallback(callback)
	if !ok {
		return DecideResult{Error: "invalid_callback"}, nil
	}

	var task models.Task
	if err := r.tasks.FindOne(ctx, bson.M{"_id": taskID}).Decode(&task); err != nil {
		if err == mongo.ErrNoDocuments {
			return DecideResult{Error: "task_not_found"}, nil
		}
		return DecideResult{}, fmt.Errorf("load task: %w", err)
	}

	if task.CodexReviewState != models.CodexReviewDeferred {
		return DecideResult{
			OK:      true,
			TaskID:  taskID.Hex(),
			State:   task.CodexReviewState,
			Already: true,
		}, nil
	}

	nextState := models.CodexReviewDone
	if task.TrackerID != "" && ValidIssueID(task.TrackerID) {
		var params tracker.UpdateParams
		switch action {
		case CodexActionStart:
			params = tracker.UpdateParams{Status: "open"}
		case CodexActionCancel:
			params = tracker.UpdateParams{Status: "closed", AppendNotes: "canceled by user"}
		}
		if err := r.tracker.Update(ctx, task.TrackerID, params); err != nil {
			return DecideResult{}, fmt.Errorf("tracker update for %s: %w", task.TrackerID, err)
		}
	} else if task.TrackerID != "" {
		log.Printf("[codex-review] task=%s has malformed tracker id %q, skipping tracker update", taskID.Hex(), task.TrackerID)
	}
	if action == CodexActionCancel {
		nextState = models.CodexReviewCanceled
	}

	now := time.Now().UTC()
	if _, err := r.tasks.UpdateOne(ctx, bson.M{"_id": taskID}, bson.M{
		"$set": bson.M{
			"codex_review_state":      nextState,
			"codex_review_decision":   action,
			"codex_review_decided_at": now,
			"codex_review_decided_by": decidedBy,
			"updated_at":              now,
		},
		"$unset": bson.M{"codex_review_due_at": ""},
	}); err != nil {
		return DecideResult{}, fmt.Errorf("persist review decision: %w", err)
	}

	return DecideResult{OK: true, TaskID: taskID.Hex(), State: nextState}, nil
}
