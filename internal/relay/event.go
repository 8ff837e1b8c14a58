package relay

// Envelope is the JSON frame emitted over a live connection.
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// ErrorPayload is the body of an "error" event.
type ErrorPayload struct {
	Subject  string `json:"subject"`
	Message  string `json:"message"`
	SocketID string `json:"socketId"`
	Err      string `json:"err,omitempty"`
}

// SessionChange is the body of a "session-change" event. Status is
// only present on updates.
type SessionChange struct {
	UID        string `json:"uid"`
	ChangeType string `json:"changeType"`
	Status     string `json:"status,omitempty"`
}
