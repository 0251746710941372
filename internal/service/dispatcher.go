package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	maestrootel "github.com/calyptra/maestro/internal/adapter/otel"
	"github.com/calyptra/maestro/internal/adapter/ws"
	"github.com/calyptra/maestro/internal/config"
	"github.com/calyptra/maestro/internal/domain"
	"github.com/calyptra/maestro/internal/domain/execution"
	"github.com/calyptra/maestro/internal/domain/prompt"
	"github.com/calyptra/maestro/internal/port/database"
	"github.com/calyptra/maestro/internal/port/messagequeue"
)

// WorkerPool is the dispatcher's view of the worker pool.
type WorkerPool interface {
	IdleWorker() (string, bool)
	Assign(workerID string, assign *ws.Assign) bool
	Send(workerID string, msg any) bool
}

// queuedRequest is one entry in the ready queue.
type queuedRequest struct {
	req      execution.Request
	queuedAt time.Time
}

// activeExecution is the in-memory record of an in-flight execution. Terminal
// entries stay until the retention sweep removes them; the database is the
// source of truth afterwards.
type activeExecution struct {
	workerID   string
	personaID  string
	projectID  string
	startedAt  time.Time
	output     []string
	status     execution.Status
	exitCode   *int
	durationMs int64
	sessionID  string
	costUSD    float64
	errorMsg   string
	finishedAt time.Time // zero until terminal
}

// ExecutionState is a read snapshot of an in-flight execution.
type ExecutionState struct {
	ExecutionID  string           `json:"execution_id"`
	WorkerID     string           `json:"worker_id,omitempty"`
	Status       execution.Status `json:"status"`
	Output       []string         `json:"output"`
	DurationMs   int64            `json:"duration_ms,omitempty"`
	SessionID    string           `json:"session_id,omitempty"`
	TotalCostUSD float64          `json:"total_cost_usd,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
}

// Dispatcher owns the ready queue, the in-flight execution table, and the
// output fan-out. It subscribes to worker pool notifications and implements
// ws.Listener.
//
// Per-persona maxConcurrent is enforced at the event-matching gate, not here:
// a direct Submit bypasses the limit.
type Dispatcher struct {
	cfg           config.Dispatch
	pool          WorkerPool
	store         database.Store
	bus           messagequeue.Queue
	tokens        *TokenProvider
	creds         *CredentialMaterializer
	metrics       *maestrootel.Metrics
	fallbackToken string

	mu      sync.Mutex
	pending []queuedRequest
	active  map[string]*activeExecution
}

// NewDispatcher creates a Dispatcher. metrics may be nil.
func NewDispatcher(
	cfg config.Dispatch,
	pool WorkerPool,
	store database.Store,
	bus messagequeue.Queue,
	tokens *TokenProvider,
	creds *CredentialMaterializer,
	metrics *maestrootel.Metrics,
	fallbackToken string,
) *Dispatcher {
	return &Dispatcher{
		cfg:           cfg,
		pool:          pool,
		store:         store,
		bus:           bus,
		tokens:        tokens,
		creds:         creds,
		metrics:       metrics,
		fallbackToken: fallbackToken,
		active:        make(map[string]*activeExecution),
	}
}

// Submit enqueues an execution request and tries to pair it with an idle
// worker. Returns the execution id (minted here when absent).
func (d *Dispatcher) Submit(ctx context.Context, req execution.Request) (string, error) {
	if req.Prompt == "" && req.PersonaID == "" {
		return "", domain.Validationf("prompt or persona_id is required")
	}
	if req.ExecutionID == "" {
		req.ExecutionID = uuid.NewString()
	}
	if req.ProjectID == "" {
		req.ProjectID = "default"
	}

	slog.Info("execution submitted",
		"execution_id", req.ExecutionID, "persona_id", req.PersonaID, "project_id", req.ProjectID)

	rec := &execution.Record{
		ID:        req.ExecutionID,
		ProjectID: req.ProjectID,
		PersonaID: req.PersonaID,
		Status:    execution.StatusQueued,
		CreatedAt: time.Now(),
	}
	if err := d.store.CreateExecution(ctx, rec); err != nil {
		slog.Warn("create execution record failed", "execution_id", req.ExecutionID, "error", err)
	}

	d.mu.Lock()
	d.pending = append(d.pending, queuedRequest{req: req, queuedAt: time.Now()})
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.ExecutionsSubmitted.Add(ctx, 1)
	}

	d.processQueue(ctx)
	return req.ExecutionID, nil
}

// processQueue pairs queued requests with idle workers until one side runs
// out. Duplicate invocations are no-ops when nothing is pairable.
func (d *Dispatcher) processQueue(ctx context.Context) {
	for {
		d.mu.Lock()
		if len(d.pending) == 0 {
			d.mu.Unlock()
			return
		}
		workerID, ok := d.pool.IdleWorker()
		if !ok {
			d.mu.Unlock()
			return
		}
		head := d.pending[0]
		d.pending = d.pending[1:]
		d.mu.Unlock()

		if !d.dispatchToWorker(ctx, workerID, head.req) {
			return
		}
	}
}

// dispatchToWorker assembles the assignment for one request and sends it.
// On failure the request returns to the front of the queue and the worker
// slot is not consumed.
func (d *Dispatcher) dispatchToWorker(ctx context.Context, workerID string, req execution.Request) bool {
	token := d.fallbackToken
	if d.tokens != nil && d.tokens.HasToken() {
		token = d.tokens.GetValidAccessToken(ctx)
	}
	if token == "" {
		slog.Error("no bearer token available, re-queueing request", "execution_id", req.ExecutionID)
		d.requeueFront(req)
		return false
	}

	env := map[string]string{BearerEnvVar: token}
	timeoutMs := req.TimeoutMs
	promptText := req.Prompt

	if req.PersonaID != "" {
		p, err := d.store.GetPersona(ctx, req.PersonaID)
		if err != nil {
			slog.Warn("persona not found at dispatch, using request prompt as-is",
				"persona_id", req.PersonaID, "error", err)
		} else {
			tools, err := d.store.ListPersonaTools(ctx, p.ID)
			if err != nil {
				slog.Warn("list persona tools failed", "persona_id", p.ID, "error", err)
			}

			credEnv, hints, err := d.creds.Materialize(ctx, p.ID)
			if err != nil {
				slog.Warn("credential materialization failed", "persona_id", p.ID, "error", err)
			}
			for k, v := range credEnv {
				env[k] = v
			}

			ApplyModelProfile(env, p.ModelProfile)

			promptText = prompt.Assemble(p, tools, req.InputData, hints)
			if timeoutMs == 0 {
				timeoutMs = p.TimeoutMs
			}
		}
	}

	if timeoutMs == 0 {
		timeoutMs = d.cfg.DefaultTimeout.Milliseconds()
	}

	now := time.Now()
	d.mu.Lock()
	d.active[req.ExecutionID] = &activeExecution{
		workerID:  workerID,
		personaID: req.PersonaID,
		projectID: req.ProjectID,
		startedAt: now,
		output:    []string{},
		status:    execution.StatusRunning,
	}
	d.mu.Unlock()

	if err := d.store.UpdateExecutionStatus(ctx, req.ExecutionID, execution.StatusRunning, &now); err != nil {
		slog.Warn("update execution to running failed", "execution_id", req.ExecutionID, "error", err)
	}

	sent := d.pool.Assign(workerID, &ws.Assign{
		ExecutionID: req.ExecutionID,
		PersonaID:   req.PersonaID,
		Prompt:      promptText,
		Env:         env,
		Config: ws.AssignConfig{
			TimeoutMs:      timeoutMs,
			MaxOutputBytes: d.cfg.MaxOutputBytes,
		},
	})
	if !sent {
		slog.Warn("assign send failed, re-queueing request",
			"execution_id", req.ExecutionID, "worker_id", workerID)

		d.mu.Lock()
		delete(d.active, req.ExecutionID)
		d.mu.Unlock()

		if err := d.store.UpdateExecutionStatus(ctx, req.ExecutionID, execution.StatusQueued, nil); err != nil {
			slog.Warn("revert execution to queued failed", "execution_id", req.ExecutionID, "error", err)
		}
		d.requeueFront(req)
		return false
	}

	if d.metrics != nil {
		d.metrics.ExecutionsDispatched.Add(ctx, 1)
	}
	slog.Info("execution dispatched", "execution_id", req.ExecutionID, "worker_id", workerID)
	return true
}

func (d *Dispatcher) requeueFront(req execution.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = append([]queuedRequest{{req: req, queuedAt: time.Now()}}, d.pending...)
}

// Cancel sends a cancel frame to the worker running the execution. The
// authoritative terminal status arrives as a subsequent complete frame; no
// state is mutated here.
func (d *Dispatcher) Cancel(executionID string) bool {
	d.mu.Lock()
	a, ok := d.active[executionID]
	if !ok || a.status != execution.StatusRunning {
		d.mu.Unlock()
		return false
	}
	workerID := a.workerID
	d.mu.Unlock()

	return d.pool.Send(workerID, &ws.Cancel{Type: ws.MsgCancel, ExecutionID: executionID})
}

// Get returns a snapshot of an in-flight execution, or false when the id is
// unknown (terminal entries past retention live only in the database).
func (d *Dispatcher) Get(executionID string) (ExecutionState, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	a, ok := d.active[executionID]
	if !ok {
		return ExecutionState{}, false
	}
	out := make([]string, len(a.output))
	copy(out, a.output)
	return ExecutionState{
		ExecutionID:  executionID,
		WorkerID:     a.workerID,
		Status:       a.status,
		Output:       out,
		DurationMs:   a.durationMs,
		SessionID:    a.sessionID,
		TotalCostUSD: a.costUSD,
		ErrorMessage: a.errorMsg,
	}, true
}

// QueueLength reports the number of requests waiting for a worker.
func (d *Dispatcher) QueueLength() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Run performs the periodic retention sweep until ctx is cancelled. Terminal
// entries older than the retention window are dropped from memory; the
// execution records remain in the database.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweep()
		}
	}
}

func (d *Dispatcher) sweep() {
	cutoff := time.Now().Add(-d.cfg.Retention)

	d.mu.Lock()
	defer d.mu.Unlock()
	for id, a := range d.active {
		if !a.finishedAt.IsZero() && a.finishedAt.Before(cutoff) {
			delete(d.active, id)
		}
	}
}

// --- ws.Listener ---

// OnWorkerConnected pairs queued work with the new worker.
func (d *Dispatcher) OnWorkerConnected(string) {
	d.processQueue(context.Background())
}

// OnWorkerReady pairs queued work with the now-idle worker.
func (d *Dispatcher) OnWorkerReady(string) {
	d.processQueue(context.Background())
}

// OnStdout appends a stdout chunk to the execution's buffer, persists it, and
// fans it out onto the bus.
func (d *Dispatcher) OnStdout(_ string, msg *ws.Stdout) {
	d.appendOutput(msg.ExecutionID, msg.Chunk, msg.Timestamp)
}

// OnStderr behaves like OnStdout with a stream prefix.
func (d *Dispatcher) OnStderr(_ string, msg *ws.Stderr) {
	d.appendOutput(msg.ExecutionID, "[STDERR] "+msg.Chunk, msg.Timestamp)
}

func (d *Dispatcher) appendOutput(executionID, chunk string, timestamp int64) {
	d.mu.Lock()
	if a, ok := d.active[executionID]; ok {
		a.output = append(a.output, chunk)
	}
	d.mu.Unlock()

	ctx := context.Background()
	if err := d.store.AppendExecutionOutput(ctx, executionID, chunk); err != nil {
		slog.Warn("append execution output failed", "execution_id", executionID, "error", err)
	}

	d.produce(messagequeue.SubjectOutput, map[string]any{
		"executionId": executionID,
		"chunk":       chunk,
		"timestamp":   timestamp,
	}, executionID)
}

// OnPersonaEvent re-emits a worker-detected persona event onto the bus
// unchanged.
func (d *Dispatcher) OnPersonaEvent(workerID string, msg *ws.Event) {
	d.produce(messagequeue.SubjectEvents, map[string]any{
		"workerId":    workerID,
		"executionId": msg.ExecutionID,
		"eventType":   msg.EventType,
		"payload":     msg.Payload,
	}, msg.ExecutionID)
}

// OnComplete finalizes the in-flight record, persists it, emits the lifecycle
// message, and pairs the freed worker with queued work.
func (d *Dispatcher) OnComplete(_ string, msg *ws.Complete) {
	status := execution.MapWorkerStatus(msg.Status)
	now := time.Now()

	d.mu.Lock()
	a, ok := d.active[msg.ExecutionID]
	if ok {
		a.status = status
		exit := msg.ExitCode
		a.exitCode = &exit
		a.durationMs = msg.DurationMs
		a.sessionID = msg.SessionID
		a.costUSD = msg.TotalCostUSD
		a.finishedAt = now
	}
	d.mu.Unlock()

	if !ok {
		slog.Warn("complete for unknown execution", "execution_id", msg.ExecutionID)
		return
	}

	ctx := context.Background()
	exit := msg.ExitCode
	if err := d.store.FinishExecution(ctx, &execution.Record{
		ID:          msg.ExecutionID,
		Status:      status,
		CompletedAt: &now,
		DurationMs:  msg.DurationMs,
		SessionID:   msg.SessionID,
		CostUSD:     msg.TotalCostUSD,
		ExitCode:    &exit,
	}); err != nil {
		slog.Warn("finish execution failed", "execution_id", msg.ExecutionID, "error", err)
	}

	d.produce(messagequeue.SubjectLifecycle, map[string]any{
		"executionId":  msg.ExecutionID,
		"status":       status,
		"exitCode":     msg.ExitCode,
		"durationMs":   msg.DurationMs,
		"sessionId":    msg.SessionID,
		"totalCostUsd": msg.TotalCostUSD,
		"timestamp":    now.UnixMilli(),
	}, msg.ExecutionID)

	if d.metrics != nil {
		d.metrics.ExecutionsCompleted.Add(ctx, 1)
		if status == execution.StatusFailed {
			d.metrics.ExecutionsFailed.Add(ctx, 1)
		}
		d.metrics.ExecutionDuration.Record(ctx, float64(msg.DurationMs)/1000)
		if msg.TotalCostUSD > 0 {
			d.metrics.ExecutionCost.Record(ctx, msg.TotalCostUSD)
		}
	}

	slog.Info("execution finished",
		"execution_id", msg.ExecutionID, "status", status, "duration_ms", msg.DurationMs)

	d.processQueue(ctx)
}

// OnWorkerDisconnected fails the execution the worker was running, if any.
// The execution is not retried automatically.
func (d *Dispatcher) OnWorkerDisconnected(workerID, executionID string) {
	if executionID == "" {
		return
	}

	now := time.Now()
	d.mu.Lock()
	a, ok := d.active[executionID]
	if ok && a.status == execution.StatusRunning {
		a.status = execution.StatusFailed
		a.errorMsg = "Worker disconnected"
		a.finishedAt = now
	} else {
		ok = false
	}
	d.mu.Unlock()

	if !ok {
		return
	}

	ctx := context.Background()
	if err := d.store.FinishExecution(ctx, &execution.Record{
		ID:           executionID,
		Status:       execution.StatusFailed,
		CompletedAt:  &now,
		DurationMs:   0,
		ErrorMessage: "Worker disconnected",
	}); err != nil {
		slog.Warn("persist disconnect failure failed", "execution_id", executionID, "error", err)
	}

	d.produce(messagequeue.SubjectLifecycle, map[string]any{
		"executionId":  executionID,
		"status":       execution.StatusFailed,
		"durationMs":   int64(0),
		"errorMessage": "Worker disconnected",
		"timestamp":    now.UnixMilli(),
	}, executionID)

	if d.metrics != nil {
		d.metrics.ExecutionsFailed.Add(ctx, 1)
	}

	slog.Warn("execution failed: worker disconnected",
		"execution_id", executionID, "worker_id", workerID)
}

// StartExecSubscriber consumes execution requests arriving on the external
// bus and submits them.
func (d *Dispatcher) StartExecSubscriber(ctx context.Context) (cancel func(), err error) {
	return d.bus.Subscribe(ctx, messagequeue.SubjectExec, func(msgCtx context.Context, _ string, data []byte) error {
		var req execution.Request
		if err := json.Unmarshal(data, &req); err != nil {
			return fmt.Errorf("unmarshal exec request: %w", err)
		}
		_, err := d.Submit(msgCtx, req)
		return err
	})
}

// produce publishes onto the external bus. Failures are logged and never
// propagated; fan-out is best-effort.
func (d *Dispatcher) produce(subject string, v any, key string) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("marshal bus message failed", "subject", subject, "error", err)
		return
	}
	if err := d.bus.Publish(context.Background(), subject, data, key); err != nil {
		slog.Warn("bus publish failed", "subject", subject, "error", err)
	}
}
