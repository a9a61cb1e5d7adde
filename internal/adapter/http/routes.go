package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Agents
		r.Post("/agents", h.CreateAgent)
		r.Get("/agents", h.ListAgents)
		r.Get("/agents/{id}", h.GetAgent)
		r.Put("/agents/{id}", h.UpdateAgent)

		// Versions
		r.Post("/agents/{id}/versions", h.AddVersion)
		r.Post("/agents/{id}/versions/{tag}/activate", h.ActivateVersion)

		// Lifecycle
		r.Post("/agents/{id}/transitions", h.Transition)
		r.Get("/agents/{id}/audit", h.GetAudit)

		// On-chain provisioning (prepare/finalize pairs)
		r.Post("/agents/{id}/token-transaction", h.PrepareTokenTransaction)
		r.Post("/agents/{id}/token-transaction/finalize", h.FinalizeTokenTransaction)
		r.Post("/agents/{id}/pool-transaction", h.PreparePoolTransaction)
		r.Post("/agents/{id}/pool-transaction/finalize", h.FinalizePoolTransaction)

		// Invocation outcomes
		r.Post("/agents/{id}/invocations", h.RecordInvocation)
		r.Get("/agents/{id}/invocations", h.ListInvocations)
	})
}
