package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SourceType identifies the ingestion path a message arrived through.
type SourceType string

const (
	SourceWeb      SourceType = "web"
	SourceTelegram SourceType = "telegram"
	SourceOther    SourceType = "other"
)

// TranscriptionChunk is one provider segment of a voice message,
// positioned on the session timeline.
type TranscriptionChunk struct {
	Text            string   `bson:"text" json:"text"`
	SegmentIndex    *int     `bson:"segment_index,omitempty" json:"segment_index,omitempty"`
	Timestamp       *float64 `bson:"timestamp,omitempty" json:"timestamp,omitempty"`
	StartSeconds    float64  `bson:"start_seconds" json:"start_seconds"`
	DurationSeconds float64  `bson:"duration_seconds" json:"duration_seconds"`
}

// CategorizationRow is one categorized fragment of a transcript.
type CategorizationRow struct {
	Category string `bson:"category" json:"category"`
	Text     string `bson:"text" json:"text"`
}

// FileMetadata carries upload details preserved from the transport.
type FileMetadata struct {
	OriginalFilename string `bson:"original_filename,omitempty" json:"original_filename,omitempty"`
	MimeType         string `bson:"mime_type,omitempty" json:"mime_type,omitempty"`
	SizeBytes        int64  `bson:"size_bytes,omitempty" json:"size_bytes,omitempty"`
}

// Attachment is a non-voice file attached to a message.
type Attachment struct {
	Name     string `bson:"name,omitempty" json:"name,omitempty"`
	Filename string `bson:"filename,omitempty" json:"filename,omitempty"`
	FileID   string `bson:"file_id,omitempty" json:"file_id,omitempty"`
}

// Message is one ingested item belonging to exactly one session.
type Message struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SessionID primitive.ObjectID `bson:"session_id" json:"session_id"`

	SourceType SourceType `bson:"source_type" json:"source_type"`
	Text       string     `bson:"text,omitempty" json:"text,omitempty"`

	FileName     string        `bson:"file_name,omitempty" json:"file_name,omitempty"`
	FileID       string        `bson:"file_id,omitempty" json:"file_id,omitempty"`
	FileUniqueID string        `bson:"file_unique_id,omitempty" json:"file_unique_id,omitempty"`
	FileMetadata *FileMetadata `bson:"file_metadata,omitempty" json:"file_metadata,omitempty"`
	Attachments  []Attachment  `bson:"attachments,omitempty" json:"attachments,omitempty"`

	IsTranscribed            bool                 `bson:"is_transcribed" json:"is_transcribed"`
	ToTranscribe             bool                 `bson:"to_transcribe,omitempty" json:"to_transcribe,omitempty"`
	TranscribeAttempts       int                  `bson:"transcribe_attempts,omitempty" json:"transcribe_attempts,omitempty"`
	TranscribeTimestamp      *time.Time           `bson:"transcribe_timestamp,omitempty" json:"transcribe_timestamp,omitempty"`
	NextTranscribeAttemptAt  *time.Time           `bson:"next_transcribe_attempt_at,omitempty" json:"next_transcribe_attempt_at,omitempty"`
	TranscriptionRetryReason string               `bson:"transcription_retry_reason,omitempty" json:"transcription_retry_reason,omitempty"`
	TranscriptionText        string               `bson:"transcription_text,omitempty" json:"transcription_text,omitempty"`
	TranscriptionChunks      []TranscriptionChunk `bson:"transcription_chunks,omitempty" json:"transcription_chunks,omitempty"`
	DurationSeconds          float64              `bson:"duration_seconds,omitempty" json:"duration_seconds,omitempty"`

	Categorization []CategorizationRow `bson:"categorization,omitempty" json:"categorization,omitempty"`

	// Image anchoring ties an attachment message to the transcript
	// position where it was mentioned.
	ImageAnchorMessageID       string `bson:"image_anchor_message_id,omitempty" json:"image_anchor_message_id,omitempty"`
	ImageAnchorLinkedMessageID string `bson:"image_anchor_linked_message_id,omitempty" json:"image_anchor_linked_message_id,omitempty"`

	IsDeleted     bool   `bson:"is_deleted,omitempty" json:"is_deleted,omitempty"`
	DedupReason   string `bson:"dedup_reason,omitempty" json:"dedup_reason,omitempty"`
	DedupGroupKey string `bson:"dedup_group_key,omitempty" json:"dedup_group_key,omitempty"`
	ReplacedBy    string `bson:"replaced_by,omitempty" json:"replaced_by,omitempty"`

	MessageTimestamp *time.Time `bson:"message_timestamp,omitempty" json:"message_timestamp,omitempty"`
	RuntimeTag       string     `bson:"runtime_tag,omitempty" json:"runtime_tag,omitempty"`
	CreatedAt        time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `bson:"updated_at" json:"updated_at"`
}
