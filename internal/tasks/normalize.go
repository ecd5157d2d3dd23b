package tasks

import (
	"strings"

	"voicedesk/internal/models"
)

var knownPriorities = map[string]bool{
	"low":    true,
	"medium": true,
	"high":   true,
	"urgent": true,
}

// NormalizeDrafts cleans extracted follow-ups before persistence:
// whitespace is trimmed, nameless drafts are dropped, unknown
// priorities fall back to medium and dependency lists lose blanks
// and duplicates.
func NormalizeDrafts(drafts []models.TaskDraft) []models.TaskDraft {
	out := make([]models.TaskDraft, 0, len(drafts))
	for _, d := range drafts {
		d.Name = strings.TrimSpace(d.Name)
		if d.Name == "" {
			continue
		}
		d.Description = strings.TrimSpace(d.Description)
		d.Type = strings.ToLower(strings.TrimSpace(d.Type))
		d.Assignee = strings.TrimSpace(d.Assignee)

		d.Priority = strings.ToLower(strings.TrimSpace(d.Priority))
		if !knownPriorities[d.Priority] {
			d.Priority = "medium"
		}

		d.Dependencies = dedupeStrings(d.Dependencies)
		out = append(out, d)
	}
	return out
}

func dedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
