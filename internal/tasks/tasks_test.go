package tasks

import (
	"context"
	"reflect"
	"testing"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"voicedesk/internal/models"
	"voicedesk/internal/tracker"
)

type fakeTaskStore struct {
	task    models.Task
	findErr error
	updates []bson.M
}

func (f *fakeTaskStore) FindOne(_ context.Context, _ bson.M, _ ...*options.FindOneOptions) *mongo.SingleResult {
	if f.findErr != nil {
		return mongo.NewSingleResultFromDocument(bson.D{}, f.findErr, nil)
	}
	return mongo.NewSingleResultFromDocument(f.task, nil, nil)
}

func (f *fakeTaskStore) UpdateOne(_ context.Context, _ bson.M, update interface{}, _ ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	f.updates = append(f.updates, update.(bson.M))
	return &mongo.UpdateResult{MatchedCount: 1}, nil
}

type fakeTrackerUpdater struct {
	calls []tracker.UpdateParams
	ids   []string
	err   error
}

func (f *fakeTrackerUpdater) Update(_ context.Context, id string, p tracker.UpdateParams) error {
	f.ids = append(f.ids, id)
	f.calls = append(f.calls, p)
	return f.err
}

func TestParseCodexCallback(t *testing.T) {
	cases := []struct {
		data       string
		wantAction string
		wantOK     bool
	}{
		{"cdr:start:64f0aa11bb22cc33dd44ee55", "start", true},
		{"cdr:cancel:64f0aa11bb22cc33dd44ee55", "cancel", true},
		{"cdr:start:short", "", false},
		{"cdr:approve:64f0aa11bb22cc33dd44ee55", "", false},
		// forwarded callback data may arrive re-cased; the parsed
		// action and hex id are normalized to lowercase
		{"CDR:START:64f0aa11bb22cc33dd44ee55", "start", true},
		{"cdr:start:64F0AA11BB22CC33DD44EE55", "start", true},
		{"start:64f0aa11bb22cc33dd44ee55", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		action, id, ok := ParseCodexCallback(tc.data)
		if ok != tc.wantOK {
			t.Errorf("ParseCodexCallback(%q) ok = %v, want %v", tc.data, ok, tc.wantOK)
			continue
		}
		if !ok {
			continue
		}
		if action != tc.wantAction {
			t.Errorf("ParseCodexCallback(%q) action = %q, want %q", tc.data, action, tc.wantAction)
		}
		if id.Hex() != "64f0aa11bb22cc33dd44ee55" {
			t.Errorf("ParseCodexCallback(%q) id = %s", tc.data, id.Hex())
		}
	}
}

func TestValidIssueID(t *testing.T) {
	cases := []struct {
		id   string
		want bool
	}{
		{"copilot-a1b2", true},
		{"copilot-7", true},
		{"copilot-", false},
		{"COPILOT-A1", true},
		{"pilot-a1", false},
		{"copilot-a1 ", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := ValidIssueID(tc.id); got != tc.want {
			t.Errorf("ValidIssueID(%q) = %v, want %v", tc.id, got, tc.want)
		}
	}
}

func TestDecideStartResolvesDeferredReview(t *testing.T) {
	taskID := primitive.NewObjectID()
	store := &fakeTaskStore{task: models.Task{
		ID:               taskID,
		TrackerID:        "copilot-a1b2",
		CodexReviewState: models.CodexReviewDeferred,
	}}
	tr := &fakeTrackerUpdater{}
	r := NewCodexReviewer(store, tr)

	res, err := r.Decide(context.Background(), "cdr:start:"+taskID.Hex(), "tg-100")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if !res.OK || res.Already || res.State != models.CodexReviewDone {
		t.Fatalf("result = %+v", res)
	}
	if len(tr.calls) != 1 || tr.ids[0] != "copilot-a1b2" || tr.calls[0].Status != "open" {
		t.Fatalf("tracker calls = %v %+v", tr.ids, tr.calls)
	}
	if len(store.updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(store.updates))
	}
	set := store.updates[0]["$set"].(bson.M)
	if set["codex_review_state"] != models.CodexReviewDone || set["codex_review_decided_by"] != "tg-100" {
		t.Errorf("$set = %#v", set)
	}
	unset := store.updates[0]["$unset"].(bson.M)
	if _, ok := unset["codex_review_due_at"]; !ok {
		t.Error("decision must clear the review deadline")
	}
}

func TestDecideCancelClosesIssueWithNote(t *testing.T) {
	taskID := primitive.NewObjectID()
	store := &fakeTaskStore{task: models.Task{
		ID:               taskID,
		TrackerID:        "copilot-a1b2",
		CodexReviewState: models.CodexReviewDeferred,
	}}
	tr := &fakeTrackerUpdater{}
	r := NewCodexReviewer(store, tr)

	res, err := r.Decide(context.Background(), "cdr:cancel:"+taskID.Hex(), "tg-100")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if res.State != models.CodexReviewCanceled {
		t.Errorf("state = %q", res.State)
	}
	if len(tr.calls) != 1 || tr.calls[0].Status != "closed" || tr.calls[0].AppendNotes != "canceled by user" {
		t.Fatalf("tracker call = %+v", tr.calls)
	}
}

func TestDecideRepeatCallbackIsNoOp(t *testing.T) {
	taskID := primitive.NewObjectID()
	store := &fakeTaskStore{task: models.Task{
		ID:               taskID,
		TrackerID:        "copilot-a1b2",
		CodexReviewState: models.CodexReviewDone,
	}}
	tr := &fakeTrackerUpdater{}
	r := NewCodexReviewer(store, tr)

	res, err := r.Decide(context.Background(), "cdr:start:"+taskID.Hex(), "tg-100")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if !res.OK || !res.Already || res.State != models.CodexReviewDone {
		t.Fatalf("result = %+v", res)
	}
	if len(tr.calls) != 0 {
		t.Errorf("stale callback must not touch the tracker, got %+v", tr.calls)
	}
	if len(store.updates) != 0 {
		t.Errorf("stale callback must not rewrite the task, got %d updates", len(store.updates))
	}
}

func TestDecideMissingTask(t *testing.T) {
	store := &fakeTaskStore{findErr: mongo.ErrNoDocuments}
	r := NewCodexReviewer(store, &fakeTrackerUpdater{})

	res, err := r.Decide(context.Background(), "cdr:start:64f0aa11bb22cc33dd44ee55", "tg-100")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if res.Error != "task_not_found" {
		t.Errorf("error = %q", res.Error)
	}
}

func TestNormalizeDrafts(t *testing.T) {
	in := []models.TaskDraft{
		{Name: "  Fix login  ", Priority: "HIGH", Type: " Bug ", Dependencies: []string{"a", "a", " ", "b"}},
		{Name: "   "},
		{Name: "Write docs", Priority: "whenever"},
	}
	got := NormalizeDrafts(in)

	if len(got) != 2 {
		t.Fatalf("kept %d drafts, want 2", len(got))
	}
	if got[0].Name != "Fix login" || got[0].Priority != "high" || got[0].Type != "bug" {
		t.Errorf("first draft = %+v", got[0])
	}
	if want := []string{"a", "b"}; !reflect.DeepEqual(got[0].Dependencies, want) {
		t.Errorf("dependencies = %v, want %v", got[0].Dependencies, want)
	}
	if got[1].Priority != "medium" {
		t.Errorf("unknown priority fell back to %q, want medium", got[1].Priority)
	}
}
