package cnst

// Outbound event tags emitted over a live connection.
const (
	// EventError is the tag for structured error payloads
	EventError = "error"
	// EventNotification is the tag for notification deliveries
	EventNotification = "notification"
	// EventSessionChange is the tag for session presence changes
	EventSessionChange = "session-change"
)

// Error subjects identifying which relay operation failed.
const (
	// SubjectCreateSession is reported when binding a connection to its session fails
	SubjectCreateSession = "create-session"
	// SubjectDeleteSession is reported when unbinding a connection from its session fails
	SubjectDeleteSession = "delete-session"
	// SubjectListenSession is reported on session change-feed errors
	SubjectListenSession = "listen-session-change"
	// SubjectListenNotification is reported on notification change-feed errors
	SubjectListenNotification = "listen-notification"
)

// ChangeType values carried by session-change events.
const (
	// ChangeTypeInsert marks a newly created session
	ChangeTypeInsert = "insert"
	// ChangeTypeUpdate marks a mutated session
	ChangeTypeUpdate = "update"
)
