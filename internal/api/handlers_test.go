package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"voicedesk/internal/dedup"
	"voicedesk/internal/ingest"
	"voicedesk/internal/models"
	"voicedesk/internal/realtime"
	"voicedesk/internal/session"
	"voicedesk/internal/tasks"
	"voicedesk/internal/tracker"
)

type fakeIngestor struct {
	lastVoice ingest.VoiceInput
	lastText  ingest.TextInput
	result    ingest.Result
	err       error
}

func (f *fakeIngestor) Voice(_ context.Context, in ingest.VoiceInput) (ingest.Result, error) {
	f.lastVoice = in
	return f.result, f.err
}

func (f *fakeIngestor) Text(_ context.Context, in ingest.TextInput) (ingest.Result, error) {
	f.lastText = in
	return f.result, f.err
}

func (f *fakeIngestor) Attachment(_ context.Context, in ingest.AttachmentInput) (ingest.Result, error) {
	return f.result, f.err
}

type fakeCloser struct {
	result session.DoneResult
	err    error
	params session.DoneParams
}

func (f *fakeCloser) Complete(_ context.Context, p session.DoneParams) (session.DoneResult, error) {
	f.params = p
	return f.result, f.err
}

type fakeDeduper struct {
	plan    dedup.Plan
	applied bool
}

func (f *fakeDeduper) Scan(_ context.Context, _ primitive.ObjectID) (dedup.Plan, error) {
	return f.plan, nil
}

func (f *fakeDeduper) Apply(_ context.Context, _ dedup.Plan) error {
	f.applied = true
	return nil
}

type fakeReviewer struct {
	result tasks.DecideResult
	err    error
}

func (f *fakeReviewer) Decide(_ context.Context, _, _ string) (tasks.DecideResult, error) {
	return f.result, f.err
}

type fakeTracker struct {
	issues []tracker.Issue
	err    error
}

func (f *fakeTracker) List(_ context.Context, _ tracker.ListParams) ([]tracker.Issue, error) {
	return f.issues, f.err
}

func (f *fakeTracker) Show(_ context.Context, _ string) (tracker.Issue, error) {
	if f.err != nil {
		return tracker.Issue{}, f.err
	}
	if len(f.issues) == 0 {
		return tracker.Issue{}, tracker.ErrNotFound
	}
	return f.issues[0], nil
}

type testServer struct {
	router   *gin.Engine
	ingestor *fakeIngestor
	closer   *fakeCloser
	deduper  *fakeDeduper
	reviewer *fakeReviewer
	tracker  *fakeTracker
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	srv := &testServer{
		ingestor: &fakeIngestor{result: ingest.Result{SessionID: "64f0aa11bb22cc33dd44ee55", MessageID: "64f0aa11bb22cc33dd44ee56"}},
		closer:   &fakeCloser{result: session.DoneResult{OK: true, SessionID: "64f0aa11bb22cc33dd44ee55"}},
		deduper:  &fakeDeduper{},
		reviewer: &fakeReviewer{result: tasks.DecideResult{OK: true, State: "done"}},
		tracker:  &fakeTracker{},
	}
	handler := NewHandler(srv.ingestor, srv.closer, srv.deduper, srv.reviewer, srv.tracker, nil, realtime.NewHub())
	srv.router = gin.New()
	handler.RegisterRoutes(srv.router)
	return srv
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d, body: %s", rec.Code, want, rec.Body.String())
	}
}

func TestIngestVoice(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSONRequest(t, srv.router, http.MethodPost, "/api/ingest/voice", map[string]interface{}{
		"user_id":   "tg-100",
		"source":    "telegram",
		"file_name": "memo.webm",
	})
	assertStatus(t, rec, http.StatusCreated)
	if srv.ingestor.lastVoice.FileName != "memo.webm" {
		t.Errorf("file_name = %q", srv.ingestor.lastVoice.FileName)
	}
	if srv.ingestor.lastVoice.UserID != "tg-100" {
		t.Errorf("user_id = %q", srv.ingestor.lastVoice.UserID)
	}
}

func TestIngestTextValidationError(t *testing.T) {
	srv := newTestServer(t)
	srv.ingestor.err = errors.New("text input requires text")

	rec := doJSONRequest(t, srv.router, http.MethodPost, "/api/ingest/text", map[string]interface{}{
		"user_id": "tg-100",
		"source":  "web",
	})
	assertStatus(t, rec, http.StatusBadRequest)
}

func TestSessionDoneStatusMapping(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSONRequest(t, srv.router, http.MethodPost, "/api/sessions/64f0aa11bb22cc33dd44ee55/done", map[string]string{
		"user_id": "tg-100",
	})
	assertStatus(t, rec, http.StatusOK)
	if srv.closer.params.SessionID != "64f0aa11bb22cc33dd44ee55" {
		t.Errorf("session id = %q", srv.closer.params.SessionID)
	}
	if srv.closer.params.Actor.ID != "tg-100" {
		t.Errorf("actor id = %q", srv.closer.params.Actor.ID)
	}

	srv.closer.result = session.DoneResult{Error: "session_not_found"}
	rec = doJSONRequest(t, srv.router, http.MethodPost, "/api/sessions/64f0aa11bb22cc33dd44ee55/done", nil)
	assertStatus(t, rec, http.StatusNotFound)

	srv.closer.result = session.DoneResult{Error: "invalid_session_id"}
	rec = doJSONRequest(t, srv.router, http.MethodPost, "/api/sessions/nope/done", nil)
	assertStatus(t, rec, http.StatusBadRequest)
}

func TestSessionDedupApplyFlag(t *testing.T) {
	srv := newTestServer(t)
	srv.deduper.plan = dedup.Plan{
		SessionID: "64f0aa11bb22cc33dd44ee55",
		Groups:    []dedup.Group{{FileName: "memo.webm", WinnerID: "a", DuplicateIDs: []string{"b"}}},
	}

	rec := doJSONRequest(t, srv.router, http.MethodPost, "/api/sessions/64f0aa11bb22cc33dd44ee55/dedup", nil)
	assertStatus(t, rec, http.StatusOK)
	if srv.deduper.applied {
		t.Error("plan applied without apply=true")
	}

	rec = doJSONRequest(t, srv.router, http.MethodPost, "/api/sessions/64f0aa11bb22cc33dd44ee55/dedup?apply=true", nil)
	assertStatus(t, rec, http.StatusOK)
	if !srv.deduper.applied {
		t.Error("apply=true did not apply the plan")
	}
}

func TestCodexIssueRoutes(t *testing.T) {
	srv := newTestServer(t)
	srv.tracker.issues = []tracker.Issue{{ID: "copilot-a1", Title: "Fix login", Status: "open"}}

	rec := doJSONRequest(t, srv.router, http.MethodGet, "/api/codex/issues", nil)
	assertStatus(t, rec, http.StatusOK)

	rec = doJSONRequest(t, srv.router, http.MethodGet, "/api/codex/issues/copilot-a1", nil)
	assertStatus(t, rec, http.StatusOK)

	// ids are matched case-insensitively
	rec = doJSONRequest(t, srv.router, http.MethodGet, "/api/codex/issues/COPILOT-A1", nil)
	assertStatus(t, rec, http.StatusOK)

	// malformed id never reaches the tracker
	rec = doJSONRequest(t, srv.router, http.MethodGet, "/api/codex/issues/issue-a1", nil)
	assertStatus(t, rec, http.StatusBadRequest)

	srv.tracker.err = tracker.ErrNotFound
	rec = doJSONRequest(t, srv.router, http.MethodGet, "/api/codex/issues/copilot-zz", nil)
	assertStatus(t, rec, http.StatusNotFound)

	srv.tracker.err = tracker.ErrUnavailable
	rec = doJSONRequest(t, srv.router, http.MethodGet, "/api/codex/issues", nil)
	assertStatus(t, rec, http.StatusBadGateway)
}

func TestCodexReviewCallback(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSONRequest(t, srv.router, http.MethodPost, "/api/codex/review", map[string]string{
		"callback":   "cdr:start:64f0aa11bb22cc33dd44ee55",
		"decided_by": "tg-100",
	})
	assertStatus(t, rec, http.StatusOK)

	srv.reviewer.result = tasks.DecideResult{Error: "invalid_callback"}
	rec = doJSONRequest(t, srv.router, http.MethodPost, "/api/codex/review", map[string]string{
		"callback": "garbage",
	})
	assertStatus(t, rec, http.StatusBadRequest)

	srv.reviewer.result = tasks.DecideResult{Error: "task_not_found"}
	rec = doJSONRequest(t, srv.router, http.MethodPost, "/api/codex/review", map[string]string{
		"callback": "cdr:cancel:64f0aa11bb22cc33dd44ee55",
	})
	assertStatus(t, rec, http.StatusNotFound)
}

func TestSessionLogRejectsBadID(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSONRequest(t, srv.router, http.MethodGet, "/api/sessions/not-an-id/log", nil)
	assertStatus(t, rec, http.StatusBadRequest)
}

func TestLogEventViewPrefixesIDs(t *testing.T) {
	eventID := primitive.NewObjectID()
	sessionID := primitive.NewObjectID()
	messageID := primitive.NewObjectID()

	view := newLogEventView(models.SessionLogEvent{
		ID:        eventID,
		SessionID: sessionID,
		EventName: "voice_received",
		Metadata:  bson.M{"message_id": messageID, "duration": 3},
	})

	if view.ID != "evt_"+eventID.Hex() {
		t.Fatalf("event id = %q", view.ID)
	}
	if view.SessionID != "se_"+sessionID.Hex() {
		t.Fatalf("session id = %q", view.SessionID)
	}
	if view.Metadata["message_id"] != "msg_"+messageID.Hex() {
		t.Fatalf("message id = %v", view.Metadata["message_id"])
	}
	if view.Metadata["duration"] != 3 {
		t.Fatalf("metadata duration = %v", view.Metadata["duration"])
	}
}
