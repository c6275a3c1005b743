// Package router classifies incoming queries and hands them to the agent
// that should answer them. Classification is best-effort: a broken or
// unparseable model reply degrades to the primary destination instead of
// failing the request.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tessera-ai/tessera/internal/log"
	"github.com/tessera-ai/tessera/internal/store"
)

// Destinations the router can choose.
const (
	DestKnowledge = "knowledge"
	DestMeetings  = "meetings"
	DestAnalytics = "analytics"
)

// Generation modes.
const (
	ModeFast = "fast"
	ModeDeep = "deep"
)

// Request is one query to route.
type Request struct {
	Query     string
	OrgID     *uuid.UUID
	Audience  string
	ProjectID *uuid.UUID
	// ModeOverride, when set by the caller, wins over the model's choice.
	ModeOverride string
	// Scope bounds what the answering agent may retrieve.
	Scope store.VisibilityFilter
}

// Response is the routed and answered query.
type Response struct {
	Destination    string `json:"destination"`
	GenerationMode string `json:"generation_mode"`
	Reasoning      string `json:"reasoning"`
	Answer         string `json:"answer"`
	PolicySource   string `json:"policy_source"`
}

// AgentRequest is what a destination agent receives.
type AgentRequest struct {
	Query string
	Mode  string
	Scope store.VisibilityFilter
}

// Agent answers queries for one destination.
type Agent interface {
	Answer(ctx context.Context, req AgentRequest) (string, error)
}

// ProjectIdentityReader loads the project identity block for prompts.
type ProjectIdentityReader interface {
	GetProjectIdentity(ctx context.Context, projectID uuid.UUID) (store.ProjectIdentity, error)
}

// Router resolves a policy, asks the generator for a decision, and dispatches
// to the chosen agent.
type Router struct {
	resolver  *Resolver
	generator Generator
	projects  ProjectIdentityReader
	agents    map[string]Agent
	logger    log.Logger
}

// New builds a Router. The agents map must contain DestKnowledge; it is the
// fallback destination and the router refuses to start without it.
func New(resolver *Resolver, generator Generator, projects ProjectIdentityReader, agents map[string]Agent, logger log.Logger) (*Router, error) {
	if _, ok := agents[DestKnowledge]; !ok {
		return nil, errors.New("router: knowledge agent is required")
	}
	return &Router{
		resolver:  resolver,
		generator: generator,
		projects:  projects,
		agents:    agents,
		logger:    logger,
	}, nil
}

// Route classifies the query and produces an answer from the chosen agent.
func (r *Router) Route(ctx context.Context, req Request) (*Response, error) {
	policy, err := r.resolver.Resolve(ctx, req.OrgID, req.Audience)
	if err != nil {
		return nil, err
	}

	prompt := r.buildPrompt(ctx, req)

	decision, err := r.generator.Decide(ctx, policy, prompt)
	if err != nil {
		r.logger.Warn("routing decision failed, using fallback",
			"error", err, "policy_source", policy.Source)
		decision = fallbackDecision(err)
	}
	decision = normalize(decision)

	if req.ModeOverride != "" {
		decision.GenerationMode = req.ModeOverride
	}

	agent, ok := r.agents[decision.Destination]
	if !ok {
		// Decision named a destination nothing serves; degrade, do not fail.
		r.logger.Warn("no agent for destination, using fallback", "destination", decision.Destination)
		decision.Destination = DestKnowledge
		decision.Reasoning = "destination unavailable, answered from the knowledge base"
		agent = r.agents[DestKnowledge]
	}

	answer, err := agent.Answer(ctx, AgentRequest{
		Query: req.Query,
		Mode:  decision.GenerationMode,
		Scope: req.Scope,
	})
	if err != nil {
		return nil, fmt.Errorf("answer via %s: %w", decision.Destination, err)
	}

	r.logger.Info("query routed",
		"destination", decision.Destination, "mode", decision.GenerationMode,
		"policy_source", policy.Source)

	return &Response{
		Destination:    decision.Destination,
		GenerationMode: decision.GenerationMode,
		Reasoning:      decision.Reasoning,
		Answer:         answer,
		PolicySource:   policy.Source,
	}, nil
}

// buildPrompt frames the query with the project's identity so routing can
// account for what kind of project is asking. Missing identity degrades to a
// neutral placeholder rather than failing the request.
func (r *Router) buildPrompt(ctx context.Context, req Request) string {
	var b strings.Builder
	b.WriteString("Project context:\n")
	b.WriteString(r.projectContext(ctx, req.ProjectID))
	b.WriteString("\n\nUser query:\n")
	b.WriteString(req.Query)
	return b.String()
}

func (r *Router) projectContext(ctx context.Context, projectID *uuid.UUID) string {
	const unknown = "No project context available."
	if projectID == nil {
		return unknown
	}
	identity, err := r.projects.GetProjectIdentity(ctx, *projectID)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			r.logger.Warn("load project identity failed", "project_id", *projectID, "error", err)
		}
		return unknown
	}

	var parts []string
	if identity.MarketType != nil && *identity.MarketType != "" {
		parts = append(parts, "Market: "+*identity.MarketType)
	}
	if identity.ProjectType != nil && *identity.ProjectType != "" {
		parts = append(parts, "Type: "+*identity.ProjectType)
	}
	if identity.Description != nil && *identity.Description != "" {
		parts = append(parts, "Description: "+*identity.Description)
	}
	if len(parts) == 0 {
		return unknown
	}
	return strings.Join(parts, "\n")
}

// fallbackDecision is the safe default when the model cannot be consulted or
// its reply cannot be parsed: primary destination, cheap mode.
func fallbackDecision(cause error) Decision {
	return Decision{
		Destination:    DestKnowledge,
		GenerationMode: ModeFast,
		Reasoning:      fmt.Sprintf("fallback: %v", cause),
	}
}

// normalize clamps free-text model output onto the known vocabulary.
func normalize(d Decision) Decision {
	switch strings.ToLower(strings.TrimSpace(d.Destination)) {
	case DestKnowledge:
		d.Destination = DestKnowledge
	case DestMeetings:
		d.Destination = DestMeetings
	case DestAnalytics:
		d.Destination = DestAnalytics
	default:
		d.Destination = DestKnowledge
		if d.Reasoning == "" {
			d.Reasoning = "unrecognized destination, answered from the knowledge base"
		}
	}

	switch strings.ToLower(strings.TrimSpace(d.GenerationMode)) {
	case ModeDeep:
		d.GenerationMode = ModeDeep
	default:
		d.GenerationMode = ModeFast
	}
	return d
}

// UnavailableAgent is a placeholder for destinations that exist in the
// routing vocabulary but are not served yet. It answers with a labeled
// notice instead of an error so routing to them is observable.
type UnavailableAgent struct {
	Name string
}

// Answer reports the destination as not yet available.
func (a *UnavailableAgent) Answer(_ context.Context, _ AgentRequest) (string, error) {
	return fmt.Sprintf("The %s destination is not yet available.", a.Name), nil
}
