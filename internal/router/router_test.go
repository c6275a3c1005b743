package router

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tessera-ai/tessera/internal/log"
	"github.com/tessera-ai/tessera/internal/store"
)

type fakePolicyReader struct {
	org      map[uuid.UUID]store.RoutingPolicy
	audience map[string]store.RoutingPolicy
	global   *store.RoutingPolicy
}

func (f *fakePolicyReader) GetOrgRoutingPolicy(_ context.Context, orgID uuid.UUID) (store.RoutingPolicy, error) {
	if p, ok := f.org[orgID]; ok {
		return p, nil
	}
	return store.RoutingPolicy{}, pgx.ErrNoRows
}

func (f *fakePolicyReader) GetAudienceRoutingPolicy(_ context.Context, audience string) (store.RoutingPolicy, error) {
	if p, ok := f.audience[audience]; ok {
		return p, nil
	}
	return store.RoutingPolicy{}, pgx.ErrNoRows
}

func (f *fakePolicyReader) GetGlobalRoutingPolicy(_ context.Context) (store.RoutingPolicy, error) {
	if f.global != nil {
		return *f.global, nil
	}
	return store.RoutingPolicy{}, pgx.ErrNoRows
}

type fakeGenerator struct {
	decision Decision
	err      error
	gotPolicy Policy
	gotPrompt string
}

func (f *fakeGenerator) Decide(_ context.Context, policy Policy, prompt string) (Decision, error) {
	f.gotPolicy = policy
	f.gotPrompt = prompt
	if f.err != nil {
		return Decision{}, f.err
	}
	return f.decision, nil
}

type fakeProjects struct {
	identities map[uuid.UUID]store.ProjectIdentity
}

func (f *fakeProjects) GetProjectIdentity(_ context.Context, id uuid.UUID) (store.ProjectIdentity, error) {
	if p, ok := f.identities[id]; ok {
		return p, nil
	}
	return store.ProjectIdentity{}, pgx.ErrNoRows
}

type recordingAgent struct {
	answer string
	got    *AgentRequest
}

func (a *recordingAgent) Answer(_ context.Context, req AgentRequest) (string, error) {
	a.got = &req
	return a.answer, nil
}

func newTestRouter(t *testing.T, reader PolicyReader, gen Generator, projects ProjectIdentityReader) (*Router, *recordingAgent) {
	t.Helper()
	knowledge := &recordingAgent{answer: "from the knowledge base"}
	agents := map[string]Agent{
		DestKnowledge: knowledge,
		DestMeetings:  &UnavailableAgent{Name: DestMeetings},
		DestAnalytics: &UnavailableAgent{Name: DestAnalytics},
	}
	r, err := New(NewResolver(reader), gen, projects, agents, log.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return r, knowledge
}

func TestResolverChain(t *testing.T) {
	ctx := context.Background()
	orgID := uuid.New()
	orgPolicy := store.RoutingPolicy{SystemPrompt: "org prompt", ModelName: "org-model"}
	audiencePolicy := store.RoutingPolicy{SystemPrompt: "audience prompt"}
	globalPolicy := store.RoutingPolicy{SystemPrompt: "global prompt"}

	t.Run("org policy wins", func(t *testing.T) {
		r := NewResolver(&fakePolicyReader{
			org:      map[uuid.UUID]store.RoutingPolicy{orgID: orgPolicy},
			audience: map[string]store.RoutingPolicy{"legal": audiencePolicy},
			global:   &globalPolicy,
		})
		p, err := r.Resolve(ctx, &orgID, "legal")
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if p.Source != SourceOrg || p.SystemPrompt != "org prompt" {
			t.Errorf("resolved (%s, %q), want org policy", p.Source, p.SystemPrompt)
		}
	})

	t.Run("audience next", func(t *testing.T) {
		r := NewResolver(&fakePolicyReader{
			audience: map[string]store.RoutingPolicy{"legal": audiencePolicy},
			global:   &globalPolicy,
		})
		p, err := r.Resolve(ctx, &orgID, "legal")
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if p.Source != SourceAudience {
			t.Errorf("source = %s, want audience", p.Source)
		}
	})

	t.Run("global next", func(t *testing.T) {
		r := NewResolver(&fakePolicyReader{global: &globalPolicy})
		p, err := r.Resolve(ctx, &orgID, "legal")
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if p.Source != SourceGlobal {
			t.Errorf("source = %s, want global", p.Source)
		}
	})

	t.Run("builtin last", func(t *testing.T) {
		r := NewResolver(&fakePolicyReader{})
		p, err := r.Resolve(ctx, nil, "")
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if p.Source != SourceBuiltin {
			t.Errorf("source = %s, want builtin", p.Source)
		}
		if p.SystemPrompt == "" {
			t.Error("builtin policy has no system prompt")
		}
	})
}

func TestRouteDispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("dispatches to chosen destination", func(t *testing.T) {
		gen := &fakeGenerator{decision: Decision{
			Destination: DestKnowledge, GenerationMode: ModeDeep, Reasoning: "doc lookup",
		}}
		r, knowledge := newTestRouter(t, &fakePolicyReader{}, gen, &fakeProjects{})

		resp, err := r.Route(ctx, Request{Query: "what is the refund policy"})
		if err != nil {
			t.Fatalf("Route() error = %v", err)
		}
		if resp.Destination != DestKnowledge || resp.GenerationMode != ModeDeep {
			t.Errorf("response = (%s, %s), want (knowledge, deep)", resp.Destination, resp.GenerationMode)
		}
		if resp.Answer != "from the knowledge base" {
			t.Errorf("answer = %q", resp.Answer)
		}
		if knowledge.got == nil || knowledge.got.Mode != ModeDeep {
			t.Error("agent did not receive the chosen mode")
		}
	})

	t.Run("generator failure falls back without error", func(t *testing.T) {
		gen := &fakeGenerator{err: errors.New("model replied with prose, not JSON")}
		r, _ := newTestRouter(t, &fakePolicyReader{}, gen, &fakeProjects{})

		resp, err := r.Route(ctx, Request{Query: "anything"})
		if err != nil {
			t.Fatalf("Route() error = %v, want graceful fallback", err)
		}
		if resp.Destination != DestKnowledge {
			t.Errorf("fallback destination = %s, want knowledge", resp.Destination)
		}
		if resp.GenerationMode != ModeFast {
			t.Errorf("fallback mode = %s, want fast", resp.GenerationMode)
		}
		if !strings.Contains(resp.Reasoning, "fallback") {
			t.Errorf("reasoning = %q, want fallback marker", resp.Reasoning)
		}
	})

	t.Run("unknown destination normalized to knowledge", func(t *testing.T) {
		gen := &fakeGenerator{decision: Decision{Destination: "telepathy", GenerationMode: "??"}}
		r, _ := newTestRouter(t, &fakePolicyReader{}, gen, &fakeProjects{})

		resp, err := r.Route(ctx, Request{Query: "anything"})
		if err != nil {
			t.Fatalf("Route() error = %v", err)
		}
		if resp.Destination != DestKnowledge || resp.GenerationMode != ModeFast {
			t.Errorf("response = (%s, %s), want (knowledge, fast)", resp.Destination, resp.GenerationMode)
		}
	})

	t.Run("caller mode override wins", func(t *testing.T) {
		gen := &fakeGenerator{decision: Decision{Destination: DestKnowledge, GenerationMode: ModeFast}}
		r, knowledge := newTestRouter(t, &fakePolicyReader{}, gen, &fakeProjects{})

		resp, err := r.Route(ctx, Request{Query: "anything", ModeOverride: ModeDeep})
		if err != nil {
			t.Fatalf("Route() error = %v", err)
		}
		if resp.GenerationMode != ModeDeep {
			t.Errorf("mode = %s, want caller override deep", resp.GenerationMode)
		}
		if knowledge.got.Mode != ModeDeep {
			t.Error("override did not reach the agent")
		}
	})

	t.Run("unserved destination answers with a notice", func(t *testing.T) {
		gen := &fakeGenerator{decision: Decision{Destination: DestMeetings, GenerationMode: ModeFast}}
		r, _ := newTestRouter(t, &fakePolicyReader{}, gen, &fakeProjects{})

		resp, err := r.Route(ctx, Request{Query: "summarize my standup"})
		if err != nil {
			t.Fatalf("Route() error = %v", err)
		}
		if resp.Destination != DestMeetings {
			t.Errorf("destination = %s, want meetings", resp.Destination)
		}
		if !strings.Contains(resp.Answer, "not yet available") {
			t.Errorf("answer = %q, want unavailable notice", resp.Answer)
		}
	})

	t.Run("project identity reaches the prompt", func(t *testing.T) {
		projectID := uuid.New()
		market := "fintech"
		projects := &fakeProjects{identities: map[uuid.UUID]store.ProjectIdentity{
			projectID: {MarketType: &market},
		}}
		gen := &fakeGenerator{decision: Decision{Destination: DestKnowledge, GenerationMode: ModeFast}}
		r, _ := newTestRouter(t, &fakePolicyReader{}, gen, projects)

		if _, err := r.Route(ctx, Request{Query: "anything", ProjectID: &projectID}); err != nil {
			t.Fatalf("Route() error = %v", err)
		}
		if !strings.Contains(gen.gotPrompt, "fintech") {
			t.Errorf("prompt = %q, want project identity", gen.gotPrompt)
		}
	})

	t.Run("missing project identity degrades to placeholder", func(t *testing.T) {
		projectID := uuid.New()
		gen := &fakeGenerator{decision: Decision{Destination: DestKnowledge, GenerationMode: ModeFast}}
		r, _ := newTestRouter(t, &fakePolicyReader{}, gen, &fakeProjects{})

		if _, err := r.Route(ctx, Request{Query: "anything", ProjectID: &projectID}); err != nil {
			t.Fatalf("Route() error = %v", err)
		}
		if !strings.Contains(gen.gotPrompt, "No project context available") {
			t.Errorf("prompt = %q, want neutral placeholder", gen.gotPrompt)
		}
	})
}

func TestNewRequiresKnowledgeAgent(t *testing.T) {
	_, err := New(NewResolver(&fakePolicyReader{}), &fakeGenerator{}, &fakeProjects{}, map[string]Agent{}, log.NewNop())
	if err == nil {
		t.Error("New() without knowledge agent error = nil, want error")
	}
}
