package chat

// Store layout.
const (
	ConversationsRoot = "conversations"
	MessagesRoot      = "messages"
	UsersRoot         = "users"
	TypingRoot        = "typing"
	CursorsRoot       = "cursors"
	SessionsRoot      = "sessions"
	EventsRoot        = "events"
	ProjectsRoot      = "projects"
	TeamsRoot         = "teams"
)

func ConversationPath(id string) string { return ConversationsRoot + "/" + id }

func MessagesPath(conversationID string) string { return MessagesRoot + "/" + conversationID }

func MessagePath(conversationID, messageID string) string {
	return MessagesPath(conversationID) + "/" + messageID
}

func UserPath(id string) string { return UsersRoot + "/" + id }

func TypingPath(conversationID string) string { return TypingRoot + "/" + conversationID }

func TypingSignalPath(conversationID, userID string) string {
	return TypingPath(conversationID) + "/" + userID
}

func CursorPath(userID string) string { return CursorsRoot + "/" + userID }

func SessionPath(id string) string { return SessionsRoot + "/" + id }

func SessionEventsPath(sessionID string) string { return EventsRoot + "/" + sessionID }
