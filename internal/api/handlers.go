package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"

	"voicedesk/internal/dedup"
	"voicedesk/internal/ingest"
	"voicedesk/internal/models"
	"voicedesk/internal/realtime"
	"voicedesk/internal/scopedb"
	"voicedesk/internal/session"
	"voicedesk/internal/tasks"
	"voicedesk/internal/tracker"
)

// Ingestor accepts incoming session input.
type Ingestor interface {
	Voice(ctx context.Context, in ingest.VoiceInput) (ingest.Result, error)
	Text(ctx context.Context, in ingest.TextInput) (ingest.Result, error)
	Attachment(ctx context.Context, in ingest.AttachmentInput) (ingest.Result, error)
}

// SessionCloser runs the completion flow.
type SessionCloser interface {
	Complete(ctx context.Context, p session.DoneParams) (session.DoneResult, error)
}

// Deduper plans and applies duplicate-upload cleanup.
type Deduper interface {
	Scan(ctx context.Context, sessionID primitive.ObjectID) (dedup.Plan, error)
	Apply(ctx context.Context, plan dedup.Plan) error
}

// Reviewer resolves deferred codex review callbacks.
type Reviewer interface {
	Decide(ctx context.Context, callback, decidedBy string) (tasks.DecideResult, error)
}

// IssueTracker is the read side of the external tracker.
type IssueTracker interface {
	List(ctx context.Context, p tracker.ListParams) ([]tracker.Issue, error)
	Show(ctx context.Context, id string) (tracker.Issue, error)
}

// Handler wires HTTP routes to the ingestion, session and tracker
// services.
type Handler struct {
	ingest   Ingestor
	done     SessionCloser
	deduper  Deduper
	reviewer Reviewer
	tracker  IssueTracker
	events   *scopedb.Collection
	hub      *realtime.Hub
}

func NewHandler(ing Ingestor, done SessionCloser, deduper Deduper, reviewer Reviewer, tr IssueTracker, events *scopedb.Collection, hub *realtime.Hub) *Handler {
	return &Handler{
		ingest:   ing,
		done:     done,
		deduper:  deduper,
		reviewer: reviewer,
		tracker:  tr,
		events:   events,
		hub:      hub,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.POST("/ingest/voice", h.ingestVoice)
	api.POST("/ingest/text", h.ingestText)
	api.POST("/ingest/attachment", h.ingestAttachment)
	api.POST("/sessions/:id/done", h.sessionDone)
	api.GET("/sessions/:id/log", h.sessionLog)
	api.POST("/sessions/:id/dedup", h.sessionDedup)
	api.GET("/sessions/:id/ws", h.sessionSocket)
	api.GET("/codex/issues", h.listIssues)
	api.GET("/codex/issues/:id", h.showIssue)
	api.POST("/codex/review", h.codexReview)
}

func (h *Handler) ingestVoice(c *gin.Context) {
	var in ingest.VoiceInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	res, err := h.ingest.Voice(c.Request.Context(), in)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) ingestText(c *gin.Context) {
	var in ingest.TextInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	res, err := h.ingest.Text(c.Request.Context(), in)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) ingestAttachment(c *gin.Context) {
	var in ingest.AttachmentInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	res, err := h.ingest.Attachment(c.Request.Context(), in)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) sessionDone(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id"`
	}
	_ = c.ShouldBindJSON(&req)

	res, err := h.done.Complete(c.Request.Context(), session.DoneParams{
		SessionID: c.Param("id"),
		UserID:    req.UserID,
		Actor:     models.LogActor{Kind: "user", ID: req.UserID},
		Source:    models.LogSource{Channel: "web", Transport: "api"},
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	switch res.Error {
	case "":
		c.JSON(http.StatusOK, res)
	case "session_not_found":
		c.JSON(http.StatusNotFound, res)
	default:
		c.JSON(http.StatusBadRequest, res)
	}
}

func (h *Handler) sessionLog(c *gin.Context) {
	sessionID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}
	limit := int64(50)
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		if parsed > 200 {
			parsed = 200
		}
		limit = parsed
	}

	cursor, err := h.events.Find(c.Request.Context(), bson.M{"session_id": sessionID},
		options.Find().SetSort(bson.M{"created_at": -1}).SetLimit(limit))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	events := make([]models.SessionLogEvent, 0)
	if err := cursor.All(c.Request.Context(), &events); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]logEventView, 0, len(events))
	for _, e := range events {
		out = append(out, newLogEventView(e))
	}
	c.JSON(http.StatusOK, gin.H{"events": out})
}

// logEventView is the public shape of a session log entry. Object ids
// are prefixed so clients never treat them as raw Mongo ids.
type logEventView struct {
	ID         string           `json:"id"`
	SessionID  string           `json:"session_id"`
	EventName  string           `json:"event_name"`
	EventGroup string           `json:"event_group"`
	Status     string           `json:"status,omitempty"`
	Actor      models.LogActor  `json:"actor"`
	Source     models.LogSource `json:"source"`
	Action     models.LogAction `json:"action"`
	Metadata   bson.M           `json:"metadata,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

func newLogEventView(e models.SessionLogEvent) logEventView {
	meta := e.Metadata
	if raw, ok := meta["message_id"]; ok {
		if oid, ok := raw.(primitive.ObjectID); ok {
			meta = cloneMeta(meta)
			meta["message_id"] = "msg_" + oid.Hex()
		}
	}
	return logEventView{
		ID:         "evt_" + e.ID.Hex(),
		SessionID:  "se_" + e.SessionID.Hex(),
		EventName:  e.EventName,
		EventGroup: e.EventGroup,
		Status:     e.Status,
		Actor:      e.Actor,
		Source:     e.Source,
		Action:     e.Action,
		Metadata:   meta,
		CreatedAt:  e.CreatedAt,
	}
}

func cloneMeta(meta bson.M) bson.M {
	out := make(bson.M, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}

func (h *Handler) sessionDedup(c *gin.Context) {
	sessionID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}
	plan, err := h.deduper.Scan(c.Request.Context(), sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	applied := false
	if c.Query("apply") == "true" && len(plan.Groups) > 0 {
		if err := h.deduper.Apply(c.Request.Context(), plan); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		applied = true
	}
	c.JSON(http.StatusOK, gin.H{"plan": plan, "applied": applied})
}

func (h *Handler) sessionSocket(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := primitive.ObjectIDFromHex(sessionID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}
	if err := h.hub.HandleSocket(c.Writer, c.Request, sessionID); err != nil {
		// the upgrade already wrote its own response
		c.Abort()
	}
}

func (h *Handler) listIssues(c *gin.Context) {
	var params tracker.ListParams
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		params.Limit = parsed
	}
	if c.Query("all") == "true" {
		params.All = true
	}
	params.Status = c.Query("status")

	issues, err := h.tracker.List(c.Request.Context(), params)
	if err != nil {
		h.trackerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"issues": issues})
}

func (h *Handler) showIssue(c *gin.Context) {
	id := c.Param("id")
	if !tasks.ValidIssueID(id) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid issue id"})
		return
	}
	issue, err := h.tracker.Show(c.Request.Context(), id)
	if err != nil {
		h.trackerError(c, err)
		return
	}
	c.JSON(http.StatusOK, issue)
}

func (h *Handler) trackerError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, tracker.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "issue not found"})
	case errors.Is(err, tracker.ErrUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": "tracker unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (h *Handler) codexReview(c *gin.Context) {
	var req struct {
		Callback  string `json:"callback"`
		DecidedBy string `json:"decided_by"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	res, err := h.reviewer.Decide(c.Request.Context(), req.Callback, req.DecidedBy)
	if err != nil {
		if errors.Is(err, tracker.ErrUnavailable) {
			c.JSON(http.StatusBadGateway, gin.H{"error": "tracker unavailable"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	switch res.Error {
	case "":
		c.JSON(http.StatusOK, res)
	case "task_not_found":
		c.JSON(http.StatusNotFound, res)
	default:
		c.JSON(http.StatusBadRequest, res)
	}
}
