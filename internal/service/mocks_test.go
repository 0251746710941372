package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/calyptra/maestro/internal/adapter/ws"
	"github.com/calyptra/maestro/internal/domain"
	"github.com/calyptra/maestro/internal/domain/credential"
	"github.com/calyptra/maestro/internal/domain/event"
	"github.com/calyptra/maestro/internal/domain/execution"
	"github.com/calyptra/maestro/internal/domain/persona"
	"github.com/calyptra/maestro/internal/domain/trigger"
	"github.com/calyptra/maestro/internal/port/messagequeue"
)

// mockStore is an in-memory database.Store for service tests.
type mockStore struct {
	mu sync.Mutex

	personas      map[string]persona.Persona
	personaTools  map[string][]persona.ToolDefinition
	credentials   map[string][]credential.Credential
	events        map[string]*event.Event
	subscriptions []event.Subscription
	triggers      map[string]*trigger.Trigger
	executions    map[string]*execution.Record
	running       map[string]int // personaID -> running count override

	createdEvents []event.CreateRequest
}

func newMockStore() *mockStore {
	return &mockStore{
		personas:     make(map[string]persona.Persona),
		personaTools: make(map[string][]persona.ToolDefinition),
		credentials:  make(map[string][]credential.Credential),
		events:       make(map[string]*event.Event),
		triggers:     make(map[string]*trigger.Trigger),
		executions:   make(map[string]*execution.Record),
		running:      make(map[string]int),
	}
}

// --- Personas ---

func (m *mockStore) ListPersonas(_ context.Context, projectID string) ([]persona.Persona, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []persona.Persona
	for _, p := range m.personas {
		if p.ProjectID == projectID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockStore) GetPersona(_ context.Context, id string) (*persona.Persona, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.personas[id]
	if !ok {
		return nil, fmt.Errorf("get persona %s: %w", id, domain.ErrNotFound)
	}
	return &p, nil
}

func (m *mockStore) CreatePersona(_ context.Context, req persona.CreateRequest) (*persona.Persona, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := persona.Persona{
		ID:           fmt.Sprintf("persona-%d", len(m.personas)+1),
		ProjectID:    req.ProjectID,
		Name:         req.Name,
		SystemPrompt: req.SystemPrompt,
		Enabled:      true,
		MaxConcurrent: func() int {
			if req.MaxConcurrent > 0 {
				return req.MaxConcurrent
			}
			return 1
		}(),
	}
	m.personas[p.ID] = p
	return &p, nil
}

func (m *mockStore) UpdatePersona(_ context.Context, p *persona.Persona) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.personas[p.ID]; !ok {
		return domain.ErrNotFound
	}
	m.personas[p.ID] = *p
	return nil
}

func (m *mockStore) DeletePersona(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.personas, id)
	return nil
}

// --- Tools ---

func (m *mockStore) ListTools(context.Context, string) ([]persona.ToolDefinition, error) {
	return nil, nil
}

func (m *mockStore) GetTool(context.Context, string) (*persona.ToolDefinition, error) {
	return nil, domain.ErrNotFound
}

func (m *mockStore) CreateTool(_ context.Context, t *persona.ToolDefinition) (*persona.ToolDefinition, error) {
	return t, nil
}

func (m *mockStore) DeleteTool(context.Context, string) error { return nil }

func (m *mockStore) ListPersonaTools(_ context.Context, personaID string) ([]persona.ToolDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.personaTools[personaID], nil
}

func (m *mockStore) BindTool(context.Context, string, string) error   { return nil }
func (m *mockStore) UnbindTool(context.Context, string, string) error { return nil }

// --- Credentials ---

func (m *mockStore) ListPersonaCredentials(_ context.Context, personaID string) ([]credential.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.credentials[personaID], nil
}

func (m *mockStore) CreateCredential(_ context.Context, c *credential.Credential) (*credential.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credentials[c.PersonaID] = append(m.credentials[c.PersonaID], *c)
	return c, nil
}

func (m *mockStore) DeleteCredential(context.Context, string) error { return nil }

// --- Events ---

func (m *mockStore) CreateEvent(_ context.Context, req event.CreateRequest) (*event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createdEvents = append(m.createdEvents, req)
	ev := &event.Event{
		ID:              fmt.Sprintf("event-%d", len(m.events)+1),
		ProjectID:       req.ProjectID,
		EventType:       req.EventType,
		SourceType:      req.SourceType,
		SourceID:        req.SourceID,
		TargetPersonaID: req.TargetPersonaID,
		Payload:         req.Payload,
		Status:          event.StatusPending,
		UseCaseID:       req.UseCaseID,
		CreatedAt:       time.Now(),
	}
	m.events[ev.ID] = ev
	return ev, nil
}

func (m *mockStore) GetEvent(_ context.Context, id string) (*event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *ev
	return &cp, nil
}

func (m *mockStore) ListPendingEvents(_ context.Context, limit int) ([]event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []event.Event
	for _, ev := range m.events {
		if ev.Status == event.StatusPending {
			out = append(out, *ev)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *mockStore) MarkEventProcessing(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok || ev.Status != event.StatusPending {
		return false, nil
	}
	ev.Status = event.StatusProcessing
	return true, nil
}

func (m *mockStore) FinishEvent(_ context.Context, id string, status event.Status, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now()
	ev.Status = status
	ev.ErrorMessage = errorMessage
	ev.ProcessedAt = &now
	return nil
}

// --- Subscriptions ---

func (m *mockStore) ListSubscriptions(_ context.Context, projectID, eventType string) ([]event.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []event.Subscription
	for _, sub := range m.subscriptions {
		if sub.EventType != eventType {
			continue
		}
		if projectID != "" && sub.ProjectID != projectID {
			continue
		}
		out = append(out, sub)
	}
	return out, nil
}

func (m *mockStore) CreateSubscription(_ context.Context, req event.SubscriptionRequest) (*event.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub := event.Subscription{
		ID:           fmt.Sprintf("sub-%d", len(m.subscriptions)+1),
		ProjectID:    req.ProjectID,
		PersonaID:    req.PersonaID,
		EventType:    req.EventType,
		SourceFilter: req.SourceFilter,
		Enabled:      req.Enabled == nil || *req.Enabled,
	}
	m.subscriptions = append(m.subscriptions, sub)
	return &sub, nil
}

func (m *mockStore) DeleteSubscription(context.Context, string) error { return nil }

// --- Triggers ---

func (m *mockStore) ListTriggers(context.Context, string) ([]trigger.Trigger, error) {
	return nil, nil
}

func (m *mockStore) CreateTrigger(_ context.Context, req trigger.CreateRequest) (*trigger.Trigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	t := &trigger.Trigger{
		ID:            fmt.Sprintf("trigger-%d", len(m.triggers)+1),
		ProjectID:     req.ProjectID,
		PersonaID:     req.PersonaID,
		TriggerType:   req.TriggerType,
		Config:        req.Config,
		Enabled:       true,
		NextTriggerAt: &now,
		UseCaseID:     req.UseCaseID,
	}
	m.triggers[t.ID] = t
	return t, nil
}

func (m *mockStore) DeleteTrigger(context.Context, string) error { return nil }

func (m *mockStore) ListDueTriggers(_ context.Context, now time.Time) ([]trigger.Trigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []trigger.Trigger
	for _, t := range m.triggers {
		if t.Enabled && t.NextTriggerAt != nil && !t.NextTriggerAt.After(now) {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *mockStore) UpdateTriggerTimings(_ context.Context, id string, lastTriggeredAt, nextTriggerAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.triggers[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.LastTriggeredAt = &lastTriggeredAt
	t.NextTriggerAt = &nextTriggerAt
	return nil
}

// --- Executions ---

func (m *mockStore) CreateExecution(_ context.Context, rec *execution.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.executions[rec.ID] = &cp
	return nil
}

func (m *mockStore) GetExecution(_ context.Context, id string) (*execution.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.executions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *mockStore) UpdateExecutionStatus(_ context.Context, id string, status execution.Status, startedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.executions[id]
	if !ok {
		return domain.ErrNotFound
	}
	rec.Status = status
	if startedAt != nil {
		rec.StartedAt = startedAt
	}
	return nil
}

func (m *mockStore) FinishExecution(_ context.Context, fin *execution.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.executions[fin.ID]
	if !ok {
		return domain.ErrNotFound
	}
	rec.Status = fin.Status
	rec.CompletedAt = fin.CompletedAt
	rec.DurationMs = fin.DurationMs
	rec.SessionID = fin.SessionID
	rec.CostUSD = fin.CostUSD
	rec.ExitCode = fin.ExitCode
	rec.ErrorMessage = fin.ErrorMessage
	return nil
}

func (m *mockStore) AppendExecutionOutput(_ context.Context, id, chunk string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.executions[id]
	if !ok {
		return domain.ErrNotFound
	}
	rec.Output = append(rec.Output, chunk)
	return nil
}

func (m *mockStore) CountRunningExecutions(_ context.Context, personaID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.running[personaID]; ok {
		return n, nil
	}
	count := 0
	for _, rec := range m.executions {
		if rec.PersonaID == personaID && rec.Status == execution.StatusRunning {
			count++
		}
	}
	return count, nil
}

// --- mockWorkerPool ---

type assignedCall struct {
	workerID string
	assign   *ws.Assign
}

// mockWorkerPool implements WorkerPool.
type mockWorkerPool struct {
	mu         sync.Mutex
	idle       []string
	assigns    []assignedCall
	sent       []any
	assignFail bool
	sendFail   bool
}

func (p *mockWorkerPool) IdleWorker() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.idle) == 0 {
		return "", false
	}
	return p.idle[0], true
}

func (p *mockWorkerPool) Assign(workerID string, assign *ws.Assign) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.assignFail {
		return false
	}
	p.assigns = append(p.assigns, assignedCall{workerID: workerID, assign: assign})
	// The worker is busy now.
	for i, id := range p.idle {
		if id == workerID {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			break
		}
	}
	return true
}

func (p *mockWorkerPool) Send(_ string, msg any) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendFail {
		return false
	}
	p.sent = append(p.sent, msg)
	return true
}

func (p *mockWorkerPool) lastAssign() *assignedCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.assigns) == 0 {
		return nil
	}
	return &p.assigns[len(p.assigns)-1]
}

// --- mockQueue ---

type publishedMsg struct {
	subject string
	data    []byte
	key     string
}

// mockQueue implements messagequeue.Queue for testing.
type mockQueue struct {
	mu         sync.Mutex
	published  []publishedMsg
	publishErr error
}

func (q *mockQueue) Publish(_ context.Context, subject string, data []byte, key string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.publishErr != nil {
		return q.publishErr
	}
	q.published = append(q.published, publishedMsg{subject, data, key})
	return nil
}

func (q *mockQueue) Subscribe(context.Context, string, messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (q *mockQueue) Close() error      { return nil }
func (q *mockQueue) IsConnected() bool { return true }

func (q *mockQueue) bySubject(subject string) []publishedMsg {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []publishedMsg
	for _, m := range q.published {
		if m.subject == subject {
			out = append(out, m)
		}
	}
	return out
}

// --- mockSubmitter ---

// mockSubmitter records submits for event processor tests.
type mockSubmitter struct {
	mu        sync.Mutex
	requests  []execution.Request
	submitErr error
}

func (s *mockSubmitter) Submit(_ context.Context, req execution.Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitErr != nil {
		return "", s.submitErr
	}
	s.requests = append(s.requests, req)
	return req.ExecutionID, nil
}
