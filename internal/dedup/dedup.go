package dedup

import (
	"sort"
	"strings"

	"voicedesk/internal/models"
)

const audioExtension = ".webm"

// Group is one set of retried uploads sharing a file name. The winner
// is the canonical message; duplicates are destined for cleanup.
type Group struct {
	SessionID    string   `json:"session_id"`
	FileName     string   `json:"file_name"`
	WinnerID     string   `json:"winner_id"`
	DuplicateIDs []string `json:"duplicate_ids"`
}

// Plan is the full dedup decision for a session. The planner never
// mutates data; callers decide what to do with duplicates.
type Plan struct {
	SessionID  string  `json:"session_id"`
	Groups     []Group `json:"groups"`
	Scanned    int     `json:"scanned"`
	Candidates int     `json:"candidates"`
}

// BuildPlan groups a session's messages by audio file name and picks
// the richest message of each group as winner. Telegram-sourced
// messages never enter a group: that ingestion path has independent
// identity even when file names collide.
func BuildPlan(sessionID string, messages []models.Message) Plan {
	plan := Plan{SessionID: sessionID, Scanned: len(messages)}

	byName := make(map[string][]models.Message)
	var order []string
	for _, msg := range messages {
		if msg.SourceType == models.SourceTelegram {
			continue
		}
		name := audioFileName(msg)
		if name == "" {
			continue
		}
		plan.Candidates++
		if _, seen := byName[name]; !seen {
			order = append(order, name)
		}
		byName[name] = append(byName[name], msg)
	}

	for _, name := range order {
		group := byName[name]
		if len(group) < 2 {
			continue
		}
		winner := group[0]
		for _, candidate := range group[1:] {
			if richer(candidate, winner) {
				winner = candidate
			}
		}
		out := Group{
			SessionID: sessionID,
			FileName:  name,
			WinnerID:  winner.ID.Hex(),
		}
		for _, msg := range group {
			if msg.ID != winner.ID {
				out.DuplicateIDs = append(out.DuplicateIDs, msg.ID.Hex())
			}
		}
		plan.Groups = append(plan.Groups, out)
	}

	sort.Slice(plan.Groups, func(i, j int) bool {
		return plan.Groups[i].FileName < plan.Groups[j].FileName
	})
	return plan
}

// audioFileName resolves the grouping key: the first available of the
// direct file name, the upload metadata name, or an attachment name,
// lowercased, and only when it carries the audio extension.
func audioFileName(msg models.Message) string {
	candidates := []string{msg.FileName}
	if msg.FileMetadata != nil {
		candidates = append(candidates, msg.FileMetadata.OriginalFilename)
	}
	for _, att := range msg.Attachments {
		candidates = append(candidates, att.Name, att.Filename)
	}
	for _, raw := range candidates {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name != "" && strings.HasSuffix(name, audioExtension) {
			return name
		}
	}
	return ""
}

// richer reports whether a beats b. Content presence outranks flags,
// flags outrank sizes, then recency, then id as the final tiebreak so
// the result is total and stable.
func richer(a, b models.Message) bool {
	if x, y := hasTranscription(a), hasTranscription(b); x != y {
		return x
	}
	if x, y := hasCategorization(a), hasCategorization(b); x != y {
		return x
	}
	if a.IsTranscribed != b.IsTranscribed {
		return a.IsTranscribed
	}
	if x, y := len(strings.TrimSpace(a.TranscriptionText)), len(strings.TrimSpace(b.TranscriptionText)); x != y {
		return x > y
	}
	if x, y := len(a.Categorization), len(b.Categorization); x != y {
		return x > y
	}
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	if a.MessageTimestamp != nil && b.MessageTimestamp != nil && !a.MessageTimestamp.Equal(*b.MessageTimestamp) {
		return a.MessageTimestamp.After(*b.MessageTimestamp)
	}
	if a.MessageTimestamp != nil && b.MessageTimestamp == nil {
		return true
	}
	return a.ID.Hex() > b.ID.Hex()
}

func hasTranscription(msg models.Message) bool {
	return strings.TrimSpace(msg.TranscriptionText) != ""
}

func hasCategorization(msg models.Message) bool {
	return len(msg.Categorization) > 0
}
