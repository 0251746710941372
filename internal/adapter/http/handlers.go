package http

import (
	"net/http"

	"github.com/calyptra/maestro/internal/adapter/ws"
	"github.com/calyptra/maestro/internal/domain/credential"
	"github.com/calyptra/maestro/internal/domain/event"
	"github.com/calyptra/maestro/internal/domain/execution"
	"github.com/calyptra/maestro/internal/domain/persona"
	"github.com/calyptra/maestro/internal/domain/trigger"
	"github.com/calyptra/maestro/internal/port/database"
	"github.com/calyptra/maestro/internal/service"
)

// Handlers bundles the dependencies for all HTTP endpoints.
type Handlers struct {
	Store      database.Store
	Dispatcher *service.Dispatcher
	Creds      *service.CredentialMaterializer
	Pool       *ws.Pool
}

// projectID returns the request's project scope, defaulting to "default".
func projectID(r *http.Request) string {
	if p := r.URL.Query().Get("project_id"); p != "" {
		return p
	}
	return "default"
}

// --- Executions ---

// Execute submits an execution request directly. Note: direct submits bypass
// the per-persona concurrency gate; only event-driven submits are gated.
func (h *Handlers) Execute(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[execution.Request](w, r)
	if !ok {
		return
	}

	id, err := h.Dispatcher.Submit(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "submit failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"execution_id": id})
}

// GetExecution reads execution state: the in-memory record while the
// execution is in flight or within retention, the database afterwards.
func (h *Handlers) GetExecution(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")

	if state, ok := h.Dispatcher.Get(id); ok {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":       state.Status,
			"output":       state.Output,
			"durationMs":   state.DurationMs,
			"sessionId":    state.SessionID,
			"totalCostUsd": state.TotalCostUSD,
			"error":        state.ErrorMessage,
		})
		return
	}

	rec, err := h.Store.GetExecution(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "execution not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       rec.Status,
		"output":       rec.Output,
		"durationMs":   rec.DurationMs,
		"sessionId":    rec.SessionID,
		"totalCostUsd": rec.CostUSD,
		"error":        rec.ErrorMessage,
	})
}

// CancelExecution sends an advisory cancel to the worker.
func (h *Handlers) CancelExecution(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if !h.Dispatcher.Cancel(id) {
		writeError(w, http.StatusConflict, "execution is not running")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// ListWorkers reports the connected worker fleet.
func (h *Handlers) ListWorkers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Pool.Workers())
}

// --- Personas ---

func (h *Handlers) ListPersonas(w http.ResponseWriter, r *http.Request) {
	personas, err := h.Store.ListPersonas(r.Context(), projectID(r))
	if err != nil {
		writeDomainError(w, err, "list personas failed")
		return
	}
	if personas == nil {
		personas = []persona.Persona{}
	}
	writeJSON(w, http.StatusOK, personas)
}

func (h *Handlers) GetPersona(w http.ResponseWriter, r *http.Request) {
	p, err := h.Store.GetPersona(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "persona not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handlers) CreatePersona(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[persona.CreateRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.Name, "name") {
		return
	}
	if req.ProjectID == "" {
		req.ProjectID = "default"
	}

	p, err := h.Store.CreatePersona(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "create persona failed")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handlers) UpdatePersona(w http.ResponseWriter, r *http.Request) {
	p, ok := readJSON[persona.Persona](w, r)
	if !ok {
		return
	}
	p.ID = urlParam(r, "id")

	if err := h.Store.UpdatePersona(r.Context(), &p); err != nil {
		writeDomainError(w, err, "persona not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handlers) DeletePersona(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeletePersona(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "persona not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Tools ---

func (h *Handlers) ListTools(w http.ResponseWriter, r *http.Request) {
	tools, err := h.Store.ListTools(r.Context(), projectID(r))
	if err != nil {
		writeDomainError(w, err, "list tools failed")
		return
	}
	if tools == nil {
		tools = []persona.ToolDefinition{}
	}
	writeJSON(w, http.StatusOK, tools)
}

func (h *Handlers) CreateTool(w http.ResponseWriter, r *http.Request) {
	t, ok := readJSON[persona.ToolDefinition](w, r)
	if !ok {
		return
	}
	if !requireField(w, t.Name, "name") {
		return
	}
	if t.ProjectID == "" {
		t.ProjectID = "default"
	}

	created, err := h.Store.CreateTool(r.Context(), &t)
	if err != nil {
		writeDomainError(w, err, "create tool failed")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handlers) DeleteTool(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteTool(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "tool not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) BindTool(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.BindTool(r.Context(), urlParam(r, "id"), urlParam(r, "toolId")); err != nil {
		writeDomainError(w, err, "bind tool failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) UnbindTool(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.UnbindTool(r.Context(), urlParam(r, "id"), urlParam(r, "toolId")); err != nil {
		writeDomainError(w, err, "binding not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Credentials ---

// CreateCredential encrypts the inbound secret before it reaches the store.
// Secret material is never returned by any read endpoint.
func (h *Handlers) CreateCredential(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[credential.CreateRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.PersonaID, "persona_id") || !requireField(w, req.Name, "name") ||
		!requireField(w, req.Secret, "secret") {
		return
	}

	ciphertext, iv, tag, err := h.Creds.Encrypt(req.Secret)
	if err != nil {
		writeDomainError(w, err, "encrypt failed")
		return
	}

	created, err := h.Store.CreateCredential(r.Context(), &credential.Credential{
		PersonaID:  req.PersonaID,
		Name:       req.Name,
		Ciphertext: ciphertext,
		IV:         iv,
		AuthTag:    tag,
	})
	if err != nil {
		writeDomainError(w, err, "create credential failed")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handlers) ListPersonaCredentials(w http.ResponseWriter, r *http.Request) {
	creds, err := h.Store.ListPersonaCredentials(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "list credentials failed")
		return
	}
	if creds == nil {
		creds = []credential.Credential{}
	}
	writeJSON(w, http.StatusOK, creds)
}

func (h *Handlers) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteCredential(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "credential not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Subscriptions ---

func (h *Handlers) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[event.SubscriptionRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.PersonaID, "persona_id") || !requireField(w, req.EventType, "event_type") {
		return
	}

	sub, err := h.Store.CreateSubscription(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "create subscription failed")
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (h *Handlers) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.Store.ListSubscriptions(r.Context(), projectID(r), r.URL.Query().Get("event_type"))
	if err != nil {
		writeDomainError(w, err, "list subscriptions failed")
		return
	}
	if subs == nil {
		subs = []event.Subscription{}
	}
	writeJSON(w, http.StatusOK, subs)
}

func (h *Handlers) DeleteSubscription(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteSubscription(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "subscription not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Triggers ---

func (h *Handlers) CreateTrigger(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[trigger.CreateRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.PersonaID, "persona_id") || !requireField(w, string(req.TriggerType), "trigger_type") {
		return
	}

	t, err := h.Store.CreateTrigger(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "create trigger failed")
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *Handlers) ListTriggers(w http.ResponseWriter, r *http.Request) {
	triggers, err := h.Store.ListTriggers(r.Context(), projectID(r))
	if err != nil {
		writeDomainError(w, err, "list triggers failed")
		return
	}
	if triggers == nil {
		triggers = []trigger.Trigger{}
	}
	writeJSON(w, http.StatusOK, triggers)
}

func (h *Handlers) DeleteTrigger(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteTrigger(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "trigger not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Events ---

// CreateEvent publishes a pending event for the event processor.
func (h *Handlers) CreateEvent(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[event.CreateRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.EventType, "event_type") {
		return
	}
	if req.SourceType == "" {
		req.SourceType = "api"
	}

	ev, err := h.Store.CreateEvent(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "create event failed")
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (h *Handlers) GetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := h.Store.GetEvent(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "event not found")
		return
	}
	writeJSON(w, http.StatusOK, ev)
}
