package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/mhollis/crmport/internal/domain"
)

// EntityRepository defines the interface for the entity reads and writes the
// import pipeline needs. Every operation is scoped by tenant.
type EntityRepository interface {
	// FindByLookupKeys returns the records holding any of the given lookup
	// keys, deduplicated by record.
	FindByLookupKeys(ctx context.Context, tenantID uuid.UUID, entityType string, keys []string) ([]domain.EntityRef, error)
	// FindByName returns the records whose name equals the given name,
	// case-sensitively.
	FindByName(ctx context.Context, tenantID uuid.UUID, entityType, name string) ([]domain.EntityRef, error)
	// CreateOrUpdate writes one record. A nil entity id creates; a non-nil id
	// updates. Lookup keys are re-derived from the written values.
	CreateOrUpdate(ctx context.Context, tenantID uuid.UUID, entityType string, entityID uuid.UUID, values map[string]string) (uuid.UUID, error)
}
