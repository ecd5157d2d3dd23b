package dedup

import (
	"testing"
	"time"

	"voicedesk/internal/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

func msgWith(id byte, mutate func(*models.Message)) models.Message {
	var oid primitive.ObjectID
	oid[11] = id
	msg := models.Message{
		ID:         oid,
		SourceType: models.SourceWeb,
		CreatedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if mutate != nil {
		mutate(&msg)
	}
	return msg
}

func TestBuildPlanCollapsesRetriedUploads(t *testing.T) {
	rich := msgWith(1, func(m *models.Message) {
		m.FileName = "Chunk-01.WEBM"
		m.IsTranscribed = true
		m.TranscriptionText = "full transcript"
		m.Categorization = []models.CategorizationRow{{Category: "idea", Text: "x"}}
	})
	emptyRetry := msgWith(2, func(m *models.Message) {
		m.FileName = "chunk-01.webm"
		m.ToTranscribe = true
	})
	telegramSameName := msgWith(3, func(m *models.Message) {
		m.SourceType = models.SourceTelegram
		m.FileName = "chunk-01.webm"
	})
	otherName := msgWith(4, func(m *models.Message) {
		m.FileName = "chunk-02.webm"
	})
	nonAudio := msgWith(5, func(m *models.Message) {
		m.FileName = "notes.txt"
	})

	plan := BuildPlan("s1", []models.Message{rich, emptyRetry, telegramSameName, otherName, nonAudio})

	if plan.Scanned != 5 {
		t.Errorf("scanned = %d, want 5", plan.Scanned)
	}
	if plan.Candidates != 3 {
		t.Errorf("candidates = %d, want 3", plan.Candidates)
	}
	if len(plan.Groups) != 1 {
		t.Fatalf("groups = %d, want 1", len(plan.Groups))
	}

	group := plan.Groups[0]
	if group.FileName != "chunk-01.webm" {
		t.Errorf("file_name = %q", group.FileName)
	}
	if group.WinnerID != rich.ID.Hex() {
		t.Errorf("winner = %s, want rich message", group.WinnerID)
	}
	if len(group.DuplicateIDs) != 1 || group.DuplicateIDs[0] != emptyRetry.ID.Hex() {
		t.Errorf("duplicates = %v, want only the empty retry", group.DuplicateIDs)
	}
}

func TestBuildPlanGroupsSortedByFileName(t *testing.T) {
	mk := func(id byte, name string) models.Message {
		return msgWith(id, func(m *models.Message) { m.FileName = name })
	}
	plan := BuildPlan("s1", []models.Message{
		mk(1, "b.webm"), mk(2, "b.webm"),
		mk(3, "a.webm"), mk(4, "a.webm"),
	})
	if len(plan.Groups) != 2 {
		t.Fatalf("groups = %d", len(plan.Groups))
	}
	if plan.Groups[0].FileName != "a.webm" || plan.Groups[1].FileName != "b.webm" {
		t.Errorf("group order: %s, %s", plan.Groups[0].FileName, plan.Groups[1].FileName)
	}
}

func TestAudioFileNameFallbacks(t *testing.T) {
	viaMetadata := msgWith(1, func(m *models.Message) {
		m.FileMetadata = &models.FileMetadata{OriginalFilename: "Voice.webm"}
	})
	if got := audioFileName(viaMetadata); got != "voice.webm" {
		t.Errorf("metadata name = %q", got)
	}

	viaAttachment := msgWith(2, func(m *models.Message) {
		m.Attachments = []models.Attachment{{Filename: "clip.webm"}}
	})
	if got := audioFileName(viaAttachment); got != "clip.webm" {
		t.Errorf("attachment name = %q", got)
	}

	if got := audioFileName(msgWith(3, nil)); got != "" {
		t.Errorf("no file name should yield empty key, got %q", got)
	}
}

func TestRicherOrdering(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	transcribedFlag := msgWith(1, func(m *models.Message) { m.IsTranscribed = true })
	withText := msgWith(2, func(m *models.Message) { m.TranscriptionText = "t" })
	if !richer(withText, transcribedFlag) {
		t.Error("transcription content outranks the bare flag")
	}

	longer := msgWith(3, func(m *models.Message) { m.TranscriptionText = "longer text" })
	shorter := msgWith(4, func(m *models.Message) { m.TranscriptionText = "short" })
	if !richer(longer, shorter) {
		t.Error("longer transcription wins")
	}

	newer := msgWith(5, func(m *models.Message) { m.UpdatedAt = base.Add(time.Hour) })
	older := msgWith(6, func(m *models.Message) { m.UpdatedAt = base })
	if !richer(newer, older) {
		t.Error("latest updated_at wins on equal content")
	}

	// full tie resolves by id so the ordering is total
	low := msgWith(7, nil)
	high := msgWith(8, nil)
	if !richer(high, low) || richer(low, high) {
		t.Error("id tiebreak must be stable")
	}
}
