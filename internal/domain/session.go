package domain

import (
	"crypto/rand"
	"encoding/base64"
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"
)

// SessionStatus tracks the lifecycle of an import session.
type SessionStatus string

const (
	SessionStatusUploading SessionStatus = "uploading"
	SessionStatusMapping   SessionStatus = "mapping"
	SessionStatusReviewing SessionStatus = "reviewing"
	SessionStatusImporting SessionStatus = "importing"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
)

var statusTransitions = map[SessionStatus][]SessionStatus{
	SessionStatusUploading: {SessionStatusMapping, SessionStatusFailed},
	SessionStatusMapping:   {SessionStatusMapping, SessionStatusReviewing, SessionStatusFailed},
	SessionStatusReviewing: {SessionStatusMapping, SessionStatusReviewing, SessionStatusImporting, SessionStatusFailed},
	SessionStatusImporting: {SessionStatusCompleted, SessionStatusFailed},
}

// CanTransitionTo reports whether a status change is legal.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// SessionID is an opaque, unguessable import session identifier: 22 URL-safe
// base64 characters encoding 128 random bits. Storage paths are only ever
// derived from a parsed SessionID, which closes the path-traversal hole a raw
// string would open.
type SessionID string

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{22}$`)

// NewSessionID generates a fresh random session id.
func NewSessionID() SessionID {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand never fails on supported platforms.
		panic(err)
	}
	return SessionID(base64.RawURLEncoding.EncodeToString(buf[:]))
}

// ParseSessionID validates the strict identifier format. Malformed input maps
// onto ErrSessionNotFound via InvalidSessionError.
func ParseSessionID(raw string) (SessionID, error) {
	if !sessionIDPattern.MatchString(raw) {
		return "", &InvalidSessionError{ID: raw}
	}
	return SessionID(raw), nil
}

func (id SessionID) String() string { return string(id) }

// Mapping maps a target field key to the source column it is fed from.
type Mapping map[string]string

// Column returns the source column mapped to the given field, if any.
func (m Mapping) Column(field string) (string, bool) {
	column, ok := m[field]
	return column, ok
}

// Fields returns the mapped field keys in a stable order.
func (m Mapping) Fields() []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Session identifies one in-progress import, scoped to a tenant, user, and
// target entity type. It owns its staging storage exclusively.
type Session struct {
	ID         SessionID     `json:"id"`
	TenantID   uuid.UUID     `json:"tenantId"`
	UserID     uuid.UUID     `json:"userId"`
	EntityType string        `json:"entityType"`
	FileName   string        `json:"fileName"`
	Headers    []string      `json:"headers"`
	RowCount   int           `json:"rowCount"`
	Mapping    Mapping       `json:"mapping"`
	Status     SessionStatus `json:"status"`
	CreatedAt  time.Time     `json:"createdAt"`
	UpdatedAt  time.Time     `json:"updatedAt"`
}

// NewSession creates a session in the uploading state with a fresh id.
func NewSession(tenantID, userID uuid.UUID, entityType, fileName string, headers []string) Session {
	now := time.Now().UTC()
	return Session{
		ID:         NewSessionID(),
		TenantID:   tenantID,
		UserID:     userID,
		EntityType: entityType,
		FileName:   fileName,
		Headers:    headers,
		Mapping:    Mapping{},
		Status:     SessionStatusUploading,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
