package domain

import (
	"strings"

	"github.com/google/uuid"
)

// MatchKind classifies how a candidate resolved against existing records.
type MatchKind string

const (
	// MatchNew means no existing record matched; the row will create one.
	MatchNew MatchKind = "new"
	// MatchName means exactly one record matched by exact name.
	MatchName MatchKind = "name"
	// MatchDomain means exactly one record matched by a lookup key (for
	// example a normalized email domain). Takes priority over name matches.
	MatchDomain MatchKind = "domain"
	// MatchAmbiguous means more than one record matched; the caller must not
	// guess which one.
	MatchAmbiguous MatchKind = "ambiguous"
)

// Candidate is the input to a match attempt: a display name plus auxiliary
// identifiers such as email addresses.
type Candidate struct {
	Name   string
	Emails []string
}

// EntityRef is a lightweight reference to an existing record, as returned by
// the persistence layer during matching.
type EntityRef struct {
	ID   uuid.UUID
	Name string
}

// MatchResult is the outcome of resolving one candidate. Ephemeral, computed
// per preview/commit pass, never stored.
type MatchResult struct {
	Name     string    `json:"name"`
	Kind     MatchKind `json:"kind"`
	Matches  int       `json:"matches"`
	EntityID uuid.UUID `json:"entityId,omitempty"`
}

// IsNew reports whether committing the row would create a record.
func (r MatchResult) IsNew() bool { return r.Kind == MatchNew }

// EmailDomain returns the lowercased domain of an email address, or false if
// the address is not well-formed enough to carry one. Matching and lookup-key
// persistence both normalize through this one function.
func EmailDomain(email string) (string, bool) {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return "", false
	}
	dom := strings.ToLower(email[at+1:])
	if strings.ContainsAny(dom, " \t") || !strings.Contains(dom, ".") {
		return "", false
	}
	if strings.HasPrefix(dom, ".") || strings.HasSuffix(dom, ".") {
		return "", false
	}
	return dom, true
}
