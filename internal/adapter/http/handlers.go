package http

import (
	"encoding/base64"
	"net/http"
	"strconv"

	"github.com/launchforge/launchforge/internal/domain/agent"
	"github.com/launchforge/launchforge/internal/domain/lifecycle"
	"github.com/launchforge/launchforge/internal/service"
)

// Handlers bundles the services the REST surface exposes.
type Handlers struct {
	Agents       *service.AgentService
	Orchestrator *service.Orchestrator
	Provisioning *service.ProvisioningService
	Invocations  *service.InvocationService
}

// ---------------------------------------------------------------------------
// Agent CRUD
// ---------------------------------------------------------------------------

// CreateAgent creates a new draft agent.
func (h *Handlers) CreateAgent(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[agent.CreateRequest](w, r)
	if !ok {
		return
	}

	a, err := h.Agents.CreateDraft(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// ListAgents returns all agents.
func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.Agents.List(r.Context())
	if err != nil {
		writeDomainError(w, err, "agents not found")
		return
	}
	if agents == nil {
		agents = []agent.Agent{}
	}
	writeJSON(w, http.StatusOK, agents)
}

// GetAgent returns one agent by ID.
func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	a, err := h.Agents.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// UpdateAgent updates a draft agent's metadata and tokenomics.
func (h *Handlers) UpdateAgent(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[agent.CreateRequest](w, r)
	if !ok {
		return
	}

	a, err := h.Agents.UpdateMetadata(r.Context(), urlParam(r, "id"), req)
	if err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ---------------------------------------------------------------------------
// Versions
// ---------------------------------------------------------------------------

// AddVersion appends a deployment version to an agent.
func (h *Handlers) AddVersion(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[agent.VersionRequest](w, r)
	if !ok {
		return
	}

	a, err := h.Agents.AddVersion(r.Context(), urlParam(r, "id"), req)
	if err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// ActivateVersion makes the tagged version the active one.
func (h *Handlers) ActivateVersion(w http.ResponseWriter, r *http.Request) {
	a, err := h.Agents.ActivateVersion(r.Context(), urlParam(r, "id"), urlParam(r, "tag"))
	if err != nil {
		writeDomainError(w, err, "agent or version not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

type transitionRequest struct {
	Event string `json:"event"`
	Error string `json:"error,omitempty"`
	Actor string `json:"actor,omitempty"`
}

// Transition fires a lifecycle event against an agent.
func (h *Handlers) Transition(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[transitionRequest](w, r)
	if !ok {
		return
	}
	if req.Event == "" {
		writeError(w, http.StatusBadRequest, "event is required")
		return
	}
	actor := req.Actor
	if actor == "" {
		actor = "api"
	}

	a, err := h.Orchestrator.Transition(r.Context(), urlParam(r, "id"),
		lifecycle.Event(req.Event), lifecycle.Context{Error: req.Error}, actor)
	if err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// GetAudit returns the agent's transition audit log.
func (h *Handlers) GetAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Agents.Audit(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	if entries == nil {
		entries = []agent.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// ---------------------------------------------------------------------------
// Provisioning pipeline
// ---------------------------------------------------------------------------

type finalizeRequest struct {
	SignedTx       string `json:"signed_tx"` // base64
	IdempotencyKey string `json:"idempotency_key"`
}

type acceptedResponse struct {
	Status string `json:"status"`
}

func (h *Handlers) prepare(kind agent.TxKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := h.Provisioning.Prepare(r.Context(), urlParam(r, "id"), kind)
		if err != nil {
			writeDomainError(w, err, "agent not found")
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}

func (h *Handlers) finalize(kind agent.TxKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := readJSON[finalizeRequest](w, r)
		if !ok {
			return
		}
		signed, err := base64.StdEncoding.DecodeString(req.SignedTx)
		if err != nil || len(signed) == 0 {
			writeError(w, http.StatusBadRequest, "signed_tx must be non-empty base64")
			return
		}

		if err := h.Provisioning.Finalize(r.Context(), urlParam(r, "id"), kind, signed, req.IdempotencyKey); err != nil {
			writeDomainError(w, err, "agent not found")
			return
		}
		// Completion is observed via the status broadcaster, not this response.
		writeJSON(w, http.StatusAccepted, acceptedResponse{Status: "accepted"})
	}
}

// PrepareTokenTransaction builds the unsigned token-creation transaction.
func (h *Handlers) PrepareTokenTransaction(w http.ResponseWriter, r *http.Request) {
	h.prepare(agent.TxKindTokenCreation)(w, r)
}

// FinalizeTokenTransaction submits the signed token-creation transaction.
func (h *Handlers) FinalizeTokenTransaction(w http.ResponseWriter, r *http.Request) {
	h.finalize(agent.TxKindTokenCreation)(w, r)
}

// PreparePoolTransaction builds the unsigned pool-creation transaction.
func (h *Handlers) PreparePoolTransaction(w http.ResponseWriter, r *http.Request) {
	h.prepare(agent.TxKindPoolCreation)(w, r)
}

// FinalizePoolTransaction submits the signed pool-creation transaction.
func (h *Handlers) FinalizePoolTransaction(w http.ResponseWriter, r *http.Request) {
	h.finalize(agent.TxKindPoolCreation)(w, r)
}

// ---------------------------------------------------------------------------
// Invocations
// ---------------------------------------------------------------------------

type invocationRequest struct {
	VersionTag string `json:"version_tag"`
	Success    bool   `json:"success"`
	DurationMs int64  `json:"duration_ms"`
	HTTPStatus int    `json:"http_status,omitempty"`
}

// RecordInvocation records one invocation outcome against a deployed agent.
func (h *Handlers) RecordInvocation(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[invocationRequest](w, r)
	if !ok {
		return
	}

	err := h.Invocations.RecordOutcome(r.Context(), urlParam(r, "id"),
		req.VersionTag, req.Success, req.DurationMs, req.HTTPStatus)
	if err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListInvocations returns the agent's most recent invocation records.
func (h *Handlers) ListInvocations(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	recs, err := h.Agents.Invocations(r.Context(), urlParam(r, "id"), limit)
	if err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	if recs == nil {
		recs = []agent.InvocationRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}
