package runtimescope

import "strings"

// Collection names used across the service. Scoped collections carry a
// runtime tag; the rest hold shared reference data visible to every
// partition.
const (
	CollSessions       = "automation_voice_bot_sessions"
	CollMessages       = "automation_voice_bot_messages"
	CollTopics         = "automation_voice_bot_topics"
	CollSessionLog     = "automation_voice_bot_session_log"
	CollActiveSessions = "automation_tg_voice_sessions"
	CollTasks          = "automation_tasks"

	CollProjects   = "automation_projects"
	CollPerformers = "automation_performers"
	CollTaskTypes  = "automation_task_types"
)

var scopedCollections = map[string]struct{}{
	CollSessions:       {},
	CollMessages:       {},
	CollTopics:         {},
	CollSessionLog:     {},
	CollActiveSessions: {},
	CollTasks:          {},
}

// IsScopedCollection reports whether the named collection is
// partitioned by runtime tag.
func IsScopedCollection(name string) bool {
	_, ok := scopedCollections[strings.TrimSpace(name)]
	return ok
}
