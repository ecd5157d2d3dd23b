package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Codex review states for a task's deferred-review cycle.
const (
	CodexReviewDeferred = "deferred"
	CodexReviewDone     = "done"
	CodexReviewCanceled = "canceled"
)

// TaskDraft is a follow-up extracted from session content before
// normalization.
type TaskDraft struct {
	Name         string   `bson:"name" json:"name"`
	Description  string   `bson:"description,omitempty" json:"description,omitempty"`
	Priority     string   `bson:"priority,omitempty" json:"priority,omitempty"`
	Type         string   `bson:"type,omitempty" json:"type,omitempty"`
	Assignee     string   `bson:"assignee,omitempty" json:"assignee,omitempty"`
	Dependencies []string `bson:"dependencies,omitempty" json:"dependencies,omitempty"`
}

// Task is a persisted follow-up, optionally mirrored to the external
// tracker.
type Task struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SessionID primitive.ObjectID `bson:"session_id,omitempty" json:"session_id,omitempty"`
	ProjectID primitive.ObjectID `bson:"project_id,omitempty" json:"project_id,omitempty"`

	Name         string   `bson:"name" json:"name"`
	Description  string   `bson:"description,omitempty" json:"description,omitempty"`
	Priority     string   `bson:"priority,omitempty" json:"priority,omitempty"`
	Type         string   `bson:"type,omitempty" json:"type,omitempty"`
	Assignee     string   `bson:"assignee,omitempty" json:"assignee,omitempty"`
	Dependencies []string `bson:"dependencies,omitempty" json:"dependencies,omitempty"`

	// TrackerID is the external tracker issue id once mirrored;
	// ExternalRef is the reference the tracker stores back to us.
	TrackerID   string `bson:"tracker_id,omitempty" json:"tracker_id,omitempty"`
	ExternalRef string `bson:"external_ref,omitempty" json:"external_ref,omitempty"`

	CodexReviewState     string     `bson:"codex_review_state,omitempty" json:"codex_review_state,omitempty"`
	CodexReviewDecision  string     `bson:"codex_review_decision,omitempty" json:"codex_review_decision,omitempty"`
	CodexReviewDecidedAt *time.Time `bson:"codex_review_decided_at,omitempty" json:"codex_review_decided_at,omitempty"`
	CodexReviewDecidedBy string     `bson:"codex_review_decided_by,omitempty" json:"codex_review_decided_by,omitempty"`
	CodexReviewDueAt     *time.Time `bson:"codex_review_due_at,omitempty" json:"codex_review_due_at,omitempty"`

	RuntimeTag string    `bson:"runtime_tag,omitempty" json:"runtime_tag,omitempty"`
	CreatedAt  time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt  time.Time `bson:"updated_at" json:"updated_at"`
}
