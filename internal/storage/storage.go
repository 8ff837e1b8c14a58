package storage

import (
	"context"
	"errors"
	"time"
)

// Op identifies a change-feed operation type.
type Op string

const (
	// OpInsert marks a newly created document
	OpInsert Op = "insert"
	// OpUpdate marks a mutated document
	OpUpdate Op = "update"
	// OpDelete marks a removed document
	OpDelete Op = "delete"
)

// StatusOnline is the default presence status of a fresh session.
const StatusOnline = "online"

// NeverExpires is the ExpiresAt value of a session without an expiry.
const NeverExpires int64 = -1

var (
	// ErrSessionNotFound is returned when a session does not exist
	ErrSessionNotFound = errors.New("session not found")
	// ErrUIDTaken is returned when a user already has an active session
	ErrUIDTaken = errors.New("user already has an active session")
	// ErrNotificationInvalid is returned when a notification is missing required fields
	ErrNotificationInvalid = errors.New("notification requires a message")
)

// Session is one user's durable session record. UID is unique across
// records. SocketID is empty while the user has no live connection;
// no other sentinel value is ever persisted.
type Session struct {
	ID        string    `json:"id"`
	UID       string    `json:"uid"`
	SocketID  string    `json:"socketId,omitempty"`
	Status    string    `json:"status"`
	ExpiresAt int64     `json:"expiresAt"` // unix seconds, -1 means no expiry
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Notification is one immutable notification record. An empty
// Recipients list means the notification is a broadcast.
type Notification struct {
	ID          string    `json:"id"`
	Subject     string    `json:"subject,omitempty"`
	SubjectType string    `json:"subjectType,omitempty"` // user, community, topic, content
	Message     string    `json:"message"`
	Recipients  []string  `json:"recipients"`
	Priority    int       `json:"priority"`
	CreatedAt   time.Time `json:"createdAt"`
}

// SessionEvent is one entry on the session change feed. A non-nil Err
// marks a feed-level failure; the other fields are then zero. Update
// events carry only the document key, consumers re-read the full
// record.
type SessionEvent struct {
	Op      Op
	ID      string
	Session *Session // full document, set on inserts
	Err     error
}

// NotificationEvent is one entry on the notification change feed.
type NotificationEvent struct {
	Op           Op
	Notification *Notification
	Err          error
}

// SessionStore is the durable session collection. Create and Delete
// are driven by the hosting app's login/logout flow; the relay itself
// only calls UpdateSocketID, Get and Watch.
type SessionStore interface {
	// Create inserts a new session record, enforcing UID uniqueness
	Create(ctx context.Context, s *Session) error

	// Get returns the session with the given ID
	Get(ctx context.Context, id string) (*Session, error)

	// GetByUID returns the session owned by the given user
	GetByUID(ctx context.Context, uid string) (*Session, error)

	// UpdateSocketID binds the session to a live connection. An empty
	// socketID clears the binding. Returns the updated record.
	UpdateSocketID(ctx context.Context, id, socketID string) (*Session, error)

	// UpdateStatus changes the session's presence status
	UpdateStatus(ctx context.Context, id, status string) (*Session, error)

	// Delete removes the session record
	Delete(ctx context.Context, id string) error

	// Watch subscribes to the session change feed. The channel is
	// closed when ctx is cancelled.
	Watch(ctx context.Context) (<-chan SessionEvent, error)
}

// NotificationStore is the durable notification collection. Records
// are immutable once created.
type NotificationStore interface {
	// Create inserts a new notification record
	Create(ctx context.Context, n *Notification) error

	// Watch subscribes to the notification change feed. The channel is
	// closed when ctx is cancelled.
	Watch(ctx context.Context) (<-chan NotificationEvent, error)
}
