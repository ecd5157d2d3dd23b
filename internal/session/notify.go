package session

import (
	"context"
	"strings"

	"voicedesk/internal/models"
	"voicedesk/internal/scopedb"

	"go.mongodb.org/mongo-driver/bson"
)

// DefaultDoneEventName labels a completed session in notifications.
const DefaultDoneEventName = "Session done"

// BuildNotifyPreview renders the notification for a finished session.
// The telegram message is always exactly four newline-joined lines:
// event name, session link, session name, project name. The preview is
// computed once and shared by the response, the socket event and the
// audit log so they can never disagree.
func BuildNotifyPreview(eventName, linkBase string, sess models.Session, projectName string) models.NotifyPreview {
	if eventName == "" {
		eventName = DefaultDoneEventName
	}

	link := strings.TrimRight(linkBase, "/") + "/sessions/" + sess.ID.Hex()
	name := oneLine(sess.Name)
	if name == "" {
		name = "Untitled session"
	}
	if projectName = oneLine(projectName); projectName == "" {
		projectName = "No project"
	}
	eventName = oneLine(eventName)

	return models.NotifyPreview{
		EventName:       eventName,
		TelegramMessage: strings.Join([]string{eventName, link, name, projectName}, "\n"),
	}
}

// oneLine collapses all interior whitespace, newlines included, so a
// joined value can never add lines to the message.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ProjectName resolves the display name of a session's project, empty
// when unset or missing.
func ProjectName(ctx context.Context, projects *scopedb.Collection, sess models.Session) string {
	if sess.ProjectID.IsZero() {
		return ""
	}
	var project struct {
		Name string `bson:"name"`
	}
	if err := projects.FindOne(ctx, bson.M{"_id": sess.ProjectID}).Decode(&project); err != nil {
		return ""
	}
	return project.Name
}
