// Package service implements business logic on top of ports.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/launchforge/launchforge/internal/domain"
	"github.com/launchforge/launchforge/internal/domain/agent"
	"github.com/launchforge/launchforge/internal/port/cache"
	"github.com/launchforge/launchforge/internal/port/store"
)

// AgentService handles the descriptive side of agents: drafts, metadata and
// deployment versions. Status, lock and blockchain fields only move through
// the orchestrator and pipeline; this service never touches them.
type AgentService struct {
	store    store.Store
	cache    cache.Cache
	cacheTTL time.Duration
	now      func() time.Time // for testing
}

// NewAgentService creates an AgentService. cache may be nil to disable the
// read cache.
func NewAgentService(st store.Store, c cache.Cache, cacheTTL time.Duration) *AgentService {
	return &AgentService{
		store:    st,
		cache:    c,
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

// CreateDraft validates the request and inserts a new DRAFT agent.
func (s *AgentService) CreateDraft(ctx context.Context, req agent.CreateRequest) (*agent.Agent, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	a := &agent.Agent{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Description:  req.Description,
		OwnerAddress: req.OwnerAddress,
		Tokenomics:   req.Tokenomics,
		Deployment:   agent.Deployment{Status: agent.StatusDraft},
	}
	if err := s.store.CreateAgent(ctx, a); err != nil {
		return nil, err
	}

	slog.Info("agent created", "agent_id", a.ID, "name", a.Name)
	return a, nil
}

// Get returns an agent, serving from the read cache when possible.
func (s *AgentService) Get(ctx context.Context, id string) (*agent.Agent, error) {
	if s.cache != nil {
		if data, ok, _ := s.cache.Get(ctx, cache.AgentKey(id)); ok {
			var a agent.Agent
			if err := json.Unmarshal(data, &a); err == nil {
				return &a, nil
			}
			// A corrupt entry falls through to the store.
			_ = s.cache.Delete(ctx, cache.AgentKey(id))
		}
	}

	a, err := s.store.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if data, err := json.Marshal(a); err == nil {
			_ = s.cache.Set(ctx, cache.AgentKey(id), data, s.cacheTTL)
		}
	}
	return a, nil
}

// List returns all agents.
func (s *AgentService) List(ctx context.Context) ([]agent.Agent, error) {
	return s.store.ListAgents(ctx)
}

// UpdateMetadata updates name, description and tokenomics. Only DRAFT agents
// are editable; once deployment starts the token parameters are frozen.
func (s *AgentService) UpdateMetadata(ctx context.Context, id string, req agent.CreateRequest) (*agent.Agent, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	a, err := s.store.UpdateMetadata(ctx, id, agent.StatusDraft, req.Name, req.Description, req.Tokenomics)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, id)
	return a, nil
}

// AddVersion appends a new deployment version. The first version of an agent
// becomes active automatically.
func (s *AgentService) AddVersion(ctx context.Context, id string, req agent.VersionRequest) (*agent.Agent, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	a, err := s.store.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, v := range a.Deployment.Versions {
		if v.Tag == req.Tag {
			return nil, fmt.Errorf("version %q already exists: %w", req.Tag, domain.ErrConflict)
		}
	}

	v := agent.Version{
		Tag:        req.Tag,
		Status:     agent.VersionDeprecated,
		Endpoint:   req.Endpoint,
		Credential: req.Credential,
		CreatedAt:  s.now().UTC(),
	}
	activeTag := a.Deployment.ActiveVersionTag
	if len(a.Deployment.Versions) == 0 {
		v.Status = agent.VersionActive
		activeTag = v.Tag
	}

	updated, err := s.store.UpdateVersions(ctx, id, a.Deployment.Status,
		append(a.Deployment.Versions, v), activeTag)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, id)
	return updated, nil
}

// ActivateVersion makes the tagged version active and deprecates the rest.
func (s *AgentService) ActivateVersion(ctx context.Context, id, tag string) (*agent.Agent, error) {
	a, err := s.store.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}

	found := false
	versions := make([]agent.Version, len(a.Deployment.Versions))
	for i, v := range a.Deployment.Versions {
		if v.Tag == tag {
			v.Status = agent.VersionActive
			found = true
		} else {
			v.Status = agent.VersionDeprecated
		}
		versions[i] = v
	}
	if !found {
		return nil, fmt.Errorf("version %q: %w", tag, domain.ErrNotFound)
	}

	updated, err := s.store.UpdateVersions(ctx, id, a.Deployment.Status, versions, tag)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, id)
	return updated, nil
}

// Audit returns the agent's audit log, oldest first.
func (s *AgentService) Audit(ctx context.Context, id string) ([]agent.AuditEntry, error) {
	if _, err := s.store.GetAgent(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListAudit(ctx, id)
}

// Invocations returns the agent's most recent invocation records.
func (s *AgentService) Invocations(ctx context.Context, id string, limit int) ([]agent.InvocationRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if _, err := s.store.GetAgent(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListInvocations(ctx, id, limit)
}

func (s *AgentService) invalidate(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cache.AgentKey(id)); err != nil {
		slog.Debug("cache invalidation failed", "agent_id", id, "error", err)
	}
}
