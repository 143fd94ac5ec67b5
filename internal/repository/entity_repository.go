package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mhollis/crmport/internal/db"
	"github.com/mhollis/crmport/internal/domain"
	"github.com/mhollis/crmport/pkg/validator"
)

// entityRepository implements EntityRepository over the shared CRM database
type entityRepository struct {
	conn *db.Connection
}

// NewEntityRepository creates a new entity repository
func NewEntityRepository(conn *db.Connection) EntityRepository {
	return &entityRepository{conn: conn}
}

func (r *entityRepository) FindByLookupKeys(ctx context.Context, tenantID uuid.UUID, entityType string, keys []string) ([]domain.EntityRef, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	rows, err := r.conn.Pool.Query(ctx,
		`SELECT DISTINCT e.id, e.name
		 FROM entities e
		 JOIN entity_lookup_keys k ON k.entity_id = e.id
		 WHERE e.tenant_id = $1 AND e.entity_type = $2 AND k.key = ANY($3)`,
		tenantID, entityType, keys,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find entities by lookup keys: %w", err)
	}
	defer rows.Close()
	return scanRefs(rows)
}

func (r *entityRepository) FindByName(ctx context.Context, tenantID uuid.UUID, entityType, name string) ([]domain.EntityRef, error) {
	rows, err := r.conn.Pool.Query(ctx,
		`SELECT id, name
		 FROM entities
		 WHERE tenant_id = $1 AND entity_type = $2 AND name = $3`,
		tenantID, entityType, name,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find entities by name: %w", err)
	}
	defer rows.Close()
	return scanRefs(rows)
}

func (r *entityRepository) CreateOrUpdate(ctx context.Context, tenantID uuid.UUID, entityType string, entityID uuid.UUID, values map[string]string) (uuid.UUID, error) {
	attributes, err := json.Marshal(values)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to encode entity attributes: %w", err)
	}
	name := values["name"]

	err = r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if entityID == uuid.Nil {
			entityID = uuid.New()
			if _, err := tx.Exec(ctx,
				`INSERT INTO entities (id, tenant_id, entity_type, name, attributes)
				 VALUES ($1, $2, $3, $4, $5)`,
				entityID, tenantID, entityType, name, attributes,
			); err != nil {
				return fmt.Errorf("failed to create entity: %w", err)
			}
		} else {
			tag, err := tx.Exec(ctx,
				`UPDATE entities
				 SET name = $4, attributes = attributes || $5, updated_at = now()
				 WHERE id = $1 AND tenant_id = $2 AND entity_type = $3`,
				entityID, tenantID, entityType, name, attributes,
			)
			if err != nil {
				return fmt.Errorf("failed to update entity: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("entity %s not found for tenant %s", entityID, tenantID)
			}
		}
		return r.replaceLookupKeys(ctx, tx, tenantID, entityID, values)
	})
	if err != nil {
		return uuid.Nil, err
	}
	return entityID, nil
}

// replaceLookupKeys re-derives the entity's lookup keys from its written
// values inside the same transaction as the entity write.
func (r *entityRepository) replaceLookupKeys(ctx context.Context, tx pgx.Tx, tenantID, entityID uuid.UUID, values map[string]string) error {
	if _, err := tx.Exec(ctx,
		`DELETE FROM entity_lookup_keys WHERE entity_id = $1`, entityID,
	); err != nil {
		return fmt.Errorf("failed to clear lookup keys: %w", err)
	}
	for _, key := range lookupKeysFromValues(values) {
		if _, err := tx.Exec(ctx,
			`INSERT INTO entity_lookup_keys (entity_id, tenant_id, key) VALUES ($1, $2, $3)`,
			entityID, tenantID, key,
		); err != nil {
			return fmt.Errorf("failed to store lookup key %q: %w", key, err)
		}
	}
	return nil
}

// lookupKeysFromValues extracts the normalized email-domain lookup keys from
// an entity's values: every well-formed address in any field contributes its
// lowercased domain, once.
func lookupKeysFromValues(values map[string]string) []string {
	seen := make(map[string]struct{})
	var keys []string
	for _, value := range values {
		if !strings.Contains(value, "@") {
			continue
		}
		for _, token := range validator.SplitTokens(value) {
			dom, ok := domain.EmailDomain(token)
			if !ok {
				continue
			}
			if _, dup := seen[dom]; dup {
				continue
			}
			seen[dom] = struct{}{}
			keys = append(keys, dom)
		}
	}
	sort.Strings(keys)
	return keys
}

func scanRefs(rows pgx.Rows) ([]domain.EntityRef, error) {
	var refs []domain.EntityRef
	for rows.Next() {
		var ref domain.EntityRef
		if err := rows.Scan(&ref.ID, &ref.Name); err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read entities: %w", err)
	}
	return refs, nil
}
