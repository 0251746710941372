package http

import "github.com/go-chi/chi/v5"

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api", func(r chi.Router) {
		// Execution surface
		r.Post("/execute", h.Execute)
		r.Get("/executions/{id}", h.GetExecution)
		r.Post("/executions/{id}/cancel", h.CancelExecution)

		// Worker fleet
		r.Get("/workers", h.ListWorkers)

		// Personas
		r.Get("/personas", h.ListPersonas)
		r.Post("/personas", h.CreatePersona)
		r.Get("/personas/{id}", h.GetPersona)
		r.Put("/personas/{id}", h.UpdatePersona)
		r.Delete("/personas/{id}", h.DeletePersona)
		r.Get("/personas/{id}/credentials", h.ListPersonaCredentials)
		r.Post("/personas/{id}/tools/{toolId}", h.BindTool)
		r.Delete("/personas/{id}/tools/{toolId}", h.UnbindTool)

		// Tools
		r.Get("/tools", h.ListTools)
		r.Post("/tools", h.CreateTool)
		r.Delete("/tools/{id}", h.DeleteTool)

		// Credentials
		r.Post("/credentials", h.CreateCredential)
		r.Delete("/credentials/{id}", h.DeleteCredential)

		// Subscriptions
		r.Get("/subscriptions", h.ListSubscriptions)
		r.Post("/subscriptions", h.CreateSubscription)
		r.Delete("/subscriptions/{id}", h.DeleteSubscription)

		// Triggers
		r.Get("/triggers", h.ListTriggers)
		r.Post("/triggers", h.CreateTrigger)
		r.Delete("/triggers/{id}", h.DeleteTrigger)

		// Events
		r.Post("/events", h.CreateEvent)
		r.Get("/events/{id}", h.GetEvent)
	})
}
