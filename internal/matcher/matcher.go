package matcher

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/mhollis/crmport/internal/domain"
)

// Resolver finds existing records a candidate may correspond to. Every query
// is scoped to a tenant; implementations must never return records from
// another tenant.
type Resolver interface {
	// FindByLookupKeys returns the records holding any of the given lookup
	// keys, deduplicated by record.
	FindByLookupKeys(ctx context.Context, tenantID uuid.UUID, entityType string, keys []string) ([]domain.EntityRef, error)
	// FindByName returns the records whose name equals the given name,
	// case-sensitively.
	FindByName(ctx context.Context, tenantID uuid.UUID, entityType, name string) ([]domain.EntityRef, error)
}

// publicDomains are free-mail providers whose email domains identify a person,
// not an organization, and are therefore excluded from lookup-key matching by
// default.
var publicDomains = map[string]struct{}{
	"gmail.com":       {},
	"googlemail.com":  {},
	"yahoo.com":       {},
	"ymail.com":       {},
	"hotmail.com":     {},
	"outlook.com":     {},
	"live.com":        {},
	"msn.com":         {},
	"icloud.com":      {},
	"me.com":          {},
	"aol.com":         {},
	"protonmail.com":  {},
	"proton.me":       {},
	"gmx.com":         {},
	"gmx.net":         {},
	"mail.com":        {},
	"yandex.com":      {},
	"zoho.com":        {},
}

// Matcher resolves import candidates against a tenant's existing records.
type Matcher struct {
	resolver      Resolver
	tenantID      uuid.UUID
	entityType    string
	includePublic bool
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithPublicDomains makes free-mail domains participate in lookup-key
// matching. Useful for person imports where a gmail address is identifying.
func WithPublicDomains() Option {
	return func(m *Matcher) {
		m.includePublic = true
	}
}

// New creates a matcher scoped to one tenant and entity type.
func New(resolver Resolver, tenantID uuid.UUID, entityType string, opts ...Option) *Matcher {
	m := &Matcher{
		resolver:   resolver,
		tenantID:   tenantID,
		entityType: entityType,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Match resolves one candidate. Lookup-key matches take priority over name
// matches: a unique lookup hit wins even when the name matches a different
// record. With no lookup hit, the name is matched exactly and
// case-sensitively.
func (m *Matcher) Match(ctx context.Context, candidate domain.Candidate) (domain.MatchResult, error) {
	name := strings.TrimSpace(candidate.Name)
	result := domain.MatchResult{Name: name}

	if name == "" {
		result.Kind = domain.MatchNew
		return result, nil
	}

	keys := m.LookupKeys(candidate.Emails)
	if len(keys) > 0 {
		refs, err := m.resolver.FindByLookupKeys(ctx, m.tenantID, m.entityType, keys)
		if err != nil {
			return domain.MatchResult{}, fmt.Errorf("failed to match by lookup keys: %w", err)
		}
		refs = dedupe(refs)
		switch len(refs) {
		case 0:
			// fall through to name matching
		case 1:
			result.Kind = domain.MatchDomain
			result.Matches = 1
			result.EntityID = refs[0].ID
			return result, nil
		default:
			result.Kind = domain.MatchAmbiguous
			result.Matches = len(refs)
			return result, nil
		}
	}

	refs, err := m.resolver.FindByName(ctx, m.tenantID, m.entityType, name)
	if err != nil {
		return domain.MatchResult{}, fmt.Errorf("failed to match by name: %w", err)
	}
	refs = dedupe(refs)
	switch len(refs) {
	case 0:
		result.Kind = domain.MatchNew
	case 1:
		result.Kind = domain.MatchName
		result.Matches = 1
		result.EntityID = refs[0].ID
	default:
		result.Kind = domain.MatchAmbiguous
		result.Matches = len(refs)
	}
	return result, nil
}

// LookupKeys extracts the normalized lookup keys from a candidate's email
// addresses: the lowercased domain part of each well-formed address.
// Malformed addresses are dropped without error; public free-mail domains are
// dropped unless the matcher was configured to include them.
func (m *Matcher) LookupKeys(emails []string) []string {
	seen := make(map[string]struct{}, len(emails))
	var keys []string
	for _, email := range emails {
		dom, ok := domain.EmailDomain(email)
		if !ok {
			continue
		}
		if !m.includePublic {
			if _, public := publicDomains[dom]; public {
				continue
			}
		}
		if _, dup := seen[dom]; dup {
			continue
		}
		seen[dom] = struct{}{}
		keys = append(keys, dom)
	}
	sort.Strings(keys)
	return keys
}

func dedupe(refs []domain.EntityRef) []domain.EntityRef {
	if len(refs) < 2 {
		return refs
	}
	seen := make(map[uuid.UUID]struct{}, len(refs))
	out := refs[:0]
	for _, ref := range refs {
		if _, dup := seen[ref.ID]; dup {
			continue
		}
		seen[ref.ID] = struct{}{}
		out = append(out, ref)
	}
	return out
}
