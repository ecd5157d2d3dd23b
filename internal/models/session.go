package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AccessLevel controls who may read a session.
type AccessLevel string

const (
	AccessPrivate    AccessLevel = "private"
	AccessPublic     AccessLevel = "public"
	AccessRestricted AccessLevel = "restricted"
)

// ProcessorState tracks one processor's advisory lock and result on a
// session. IsProcessed never reverts to false once set; IsProcessing
// may be cleared by the grace-window reclaim.
type ProcessorState struct {
	IsProcessing       bool        `bson:"is_processing" json:"is_processing"`
	IsProcessed        bool        `bson:"is_processed" json:"is_processed"`
	JobQueuedTimestamp *time.Time  `bson:"job_queued_timestamp,omitempty" json:"job_queued_timestamp,omitempty"`
	Data               interface{} `bson:"data,omitempty" json:"data,omitempty"`
	Error              string      `bson:"error,omitempty" json:"error,omitempty"`
	UpdatedAt          *time.Time  `bson:"updated_at,omitempty" json:"updated_at,omitempty"`
}

// Session is one recorded conversation moving through the pipeline.
type Session struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name           string             `bson:"name,omitempty" json:"name"`
	ChatID         string             `bson:"chat_id,omitempty" json:"chat_id,omitempty"`
	TelegramUserID string             `bson:"telegram_user_id,omitempty" json:"telegram_user_id,omitempty"`
	UserID         string             `bson:"user_id,omitempty" json:"user_id,omitempty"`
	ProjectID      primitive.ObjectID `bson:"project_id,omitempty" json:"project_id,omitempty"`

	AccessLevel    AccessLevel `bson:"access_level,omitempty" json:"access_level,omitempty"`
	AllowedUserIDs []string    `bson:"allowed_user_ids,omitempty" json:"allowed_user_ids,omitempty"`

	IsActive            bool       `bson:"is_active" json:"is_active"`
	IsWaiting           bool       `bson:"is_waiting,omitempty" json:"is_waiting,omitempty"`
	ToFinalize          bool       `bson:"to_finalize,omitempty" json:"to_finalize,omitempty"`
	IsFinalized         bool       `bson:"is_finalized,omitempty" json:"is_finalized,omitempty"`
	IsPostprocessing    bool       `bson:"is_postprocessing,omitempty" json:"is_postprocessing,omitempty"`
	IsMessagesProcessed bool       `bson:"is_messages_processed" json:"is_messages_processed"`
	IsDeleted           bool       `bson:"is_deleted,omitempty" json:"is_deleted,omitempty"`
	DoneAt              *time.Time `bson:"done_at,omitempty" json:"done_at,omitempty"`
	DoneCount           int        `bson:"done_count,omitempty" json:"done_count,omitempty"`

	IsCorrupted            bool   `bson:"is_corrupted,omitempty" json:"is_corrupted,omitempty"`
	ErrorSource            string `bson:"error_source,omitempty" json:"error_source,omitempty"`
	TranscriptionError     string `bson:"transcription_error,omitempty" json:"transcription_error,omitempty"`
	TranscriptionErrorCode string `bson:"transcription_error_code,omitempty" json:"transcription_error_code,omitempty"`

	// SessionProcessors lists custom processors declared for this
	// session; Processors lists the core pipeline stages.
	SessionProcessors []string                  `bson:"session_processors,omitempty" json:"session_processors,omitempty"`
	Processors        []string                  `bson:"processors,omitempty" json:"processors,omitempty"`
	ProcessorsData    map[string]ProcessorState `bson:"processors_data,omitempty" json:"processors_data,omitempty"`

	Summary bson.M `bson:"summary,omitempty" json:"summary,omitempty"`

	RuntimeTag    string     `bson:"runtime_tag,omitempty" json:"runtime_tag,omitempty"`
	LastMessageAt *time.Time `bson:"last_message_at,omitempty" json:"last_message_at,omitempty"`
	LastMessageID string     `bson:"last_message_id,omitempty" json:"last_message_id,omitempty"`
	CreatedAt     time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `bson:"updated_at" json:"updated_at"`
}
