package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tessera-ai/tessera/internal/store"
)

// Policy is the resolved routing instruction set for one request.
type Policy struct {
	SystemPrompt string
	ModelName    string
	Temperature  float32
	// Source records which link of the chain supplied the policy:
	// org, audience, global, or builtin.
	Source string
}

// Policy sources.
const (
	SourceOrg      = "org"
	SourceAudience = "audience"
	SourceGlobal   = "global"
	SourceBuiltin  = "builtin"
)

// builtinSystemPrompt is the hardcoded last link of the policy chain. The
// router must keep working with an empty routing_policies table.
const builtinSystemPrompt = `You are a query router. Classify the user's request and choose
where it should be answered.

Destinations:
- "knowledge": questions answerable from the document knowledge base.
- "meetings": requests about meetings, recordings, or transcripts.
- "analytics": requests for metrics, trends, or quantitative reports.

Generation modes:
- "fast": short factual lookups.
- "deep": synthesis across many sources or nuanced reasoning.

Respond with the destination, the generation mode, and one sentence of reasoning.`

// PolicyReader is the slice of the store the resolver needs.
type PolicyReader interface {
	GetOrgRoutingPolicy(ctx context.Context, orgID uuid.UUID) (store.RoutingPolicy, error)
	GetAudienceRoutingPolicy(ctx context.Context, audience string) (store.RoutingPolicy, error)
	GetGlobalRoutingPolicy(ctx context.Context) (store.RoutingPolicy, error)
}

// Resolver walks the policy chain: organization, then audience, then global,
// then the builtin default. The first configured policy wins.
type Resolver struct {
	reader PolicyReader
}

// NewResolver returns a Resolver over the given policy reader.
func NewResolver(reader PolicyReader) *Resolver {
	return &Resolver{reader: reader}
}

// Resolve returns the effective policy for a caller's org and audience.
func (r *Resolver) Resolve(ctx context.Context, orgID *uuid.UUID, audience string) (Policy, error) {
	if orgID != nil {
		p, err := r.reader.GetOrgRoutingPolicy(ctx, *orgID)
		if err == nil {
			return fromRow(p, SourceOrg), nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return Policy{}, fmt.Errorf("resolve org policy: %w", err)
		}
	}

	if audience != "" {
		p, err := r.reader.GetAudienceRoutingPolicy(ctx, audience)
		if err == nil {
			return fromRow(p, SourceAudience), nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return Policy{}, fmt.Errorf("resolve audience policy: %w", err)
		}
	}

	p, err := r.reader.GetGlobalRoutingPolicy(ctx)
	if err == nil {
		return fromRow(p, SourceGlobal), nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Policy{}, fmt.Errorf("resolve global policy: %w", err)
	}

	return Policy{SystemPrompt: builtinSystemPrompt, Source: SourceBuiltin}, nil
}

func fromRow(p store.RoutingPolicy, source string) Policy {
	return Policy{
		SystemPrompt: p.SystemPrompt,
		ModelName:    p.ModelName,
		Temperature:  p.Temperature,
		Source:       source,
	}
}
