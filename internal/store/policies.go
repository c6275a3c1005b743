package store

import (
	"context"

	"github.com/google/uuid"
)

const policyColumns = `id, scope, org_id, audience, system_prompt, model_name, temperature`

func scanPolicy(row interface{ Scan(...any) error }) (RoutingPolicy, error) {
	var p RoutingPolicy
	err := row.Scan(&p.ID, &p.Scope, &p.OrgID, &p.Audience, &p.SystemPrompt, &p.ModelName, &p.Temperature)
	return p, err
}

const getOrgRoutingPolicy = `
SELECT ` + policyColumns + ` FROM routing_policies WHERE scope = 'org' AND org_id = $1`

// GetOrgRoutingPolicy returns the organization-specific routing policy.
// Returns pgx.ErrNoRows when none is configured.
func (q *Queries) GetOrgRoutingPolicy(ctx context.Context, orgID uuid.UUID) (RoutingPolicy, error) {
	return scanPolicy(q.db.QueryRow(ctx, getOrgRoutingPolicy, orgID))
}

const getAudienceRoutingPolicy = `
SELECT ` + policyColumns + ` FROM routing_policies WHERE scope = 'audience' AND audience = $1`

// GetAudienceRoutingPolicy returns the audience/vertical routing policy.
// Returns pgx.ErrNoRows when none is configured.
func (q *Queries) GetAudienceRoutingPolicy(ctx context.Context, audience string) (RoutingPolicy, error) {
	return scanPolicy(q.db.QueryRow(ctx, getAudienceRoutingPolicy, audience))
}

const getGlobalRoutingPolicy = `
SELECT ` + policyColumns + ` FROM routing_policies WHERE scope = 'global' ORDER BY created_at DESC LIMIT 1`

// GetGlobalRoutingPolicy returns the global default routing policy.
// Returns pgx.ErrNoRows when none is configured.
func (q *Queries) GetGlobalRoutingPolicy(ctx context.Context) (RoutingPolicy, error) {
	return scanPolicy(q.db.QueryRow(ctx, getGlobalRoutingPolicy))
}
