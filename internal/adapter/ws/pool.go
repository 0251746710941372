package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/calyptra/maestro/internal/config"
)

// WorkerState tracks a worker session's lifecycle.
type WorkerState string

const (
	StateConnecting   WorkerState = "connecting"
	StateIdle         WorkerState = "idle"
	StateExecuting    WorkerState = "executing"
	StateDisconnected WorkerState = "disconnected"
)

// Listener receives worker pool notifications. Implementations must not
// block; the pool invokes callbacks from connection goroutines.
// The pool never references its subscribers beyond this interface.
type Listener interface {
	OnWorkerConnected(workerID string)
	OnWorkerReady(workerID string)
	OnStdout(workerID string, msg *Stdout)
	OnStderr(workerID string, msg *Stderr)
	OnPersonaEvent(workerID string, msg *Event)
	OnComplete(workerID string, msg *Complete)
	OnWorkerDisconnected(workerID, executionID string)
}

// WorkerInfo is a read-only snapshot of a worker session.
type WorkerInfo struct {
	ID                 string      `json:"id"`
	State              WorkerState `json:"state"`
	CurrentExecutionID string      `json:"current_execution_id,omitempty"`
	Version            string      `json:"version,omitempty"`
	Capabilities       []string    `json:"capabilities,omitempty"`
	ConnectedAt        time.Time   `json:"connected_at"`
	LastHeartbeat      time.Time   `json:"last_heartbeat"`
}

// session is one connected worker. State fields are guarded by Pool.mu;
// conn writes are serialized by writeMu.
type session struct {
	id            string
	conn          *websocket.Conn
	writeMu       sync.Mutex
	state         WorkerState
	currentExecID string
	version       string
	capabilities  []string
	connectedAt   time.Time
	lastHeartbeat time.Time
	cancel        context.CancelFunc
}

// Pool authenticates worker connections, tracks session state, routes typed
// frames, and detects heartbeat timeouts.
type Pool struct {
	cfg config.Worker

	mu        sync.RWMutex
	sessions  map[string]*session
	listeners []Listener
	closed    bool
}

// NewPool creates a worker pool with the given configuration.
func NewPool(cfg config.Worker) *Pool {
	return &Pool{
		cfg:      cfg,
		sessions: make(map[string]*session),
	}
}

// Subscribe registers a notification listener.
func (p *Pool) Subscribe(l Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, l)
}

// HandleWS upgrades an incoming connection and runs the worker session until
// it disconnects. Workers authenticate with ?token=<workerToken>.
func (p *Pool) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		slog.Error("worker accept failed", "error", err)
		return
	}

	if p.cfg.Token == "" || r.URL.Query().Get("token") != p.cfg.Token {
		slog.Warn("worker rejected: invalid token", "remote", r.RemoteAddr)
		_ = conn.Close(websocket.StatusPolicyViolation, "invalid worker token")
		return
	}

	// The request context dies when this handler returns on some stacks;
	// the session owns its own lifetime.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess, err := p.awaitHello(ctx, conn)
	if err != nil {
		slog.Warn("worker handshake failed", "remote", r.RemoteAddr, "error", err)
		_ = conn.Close(websocket.StatusPolicyViolation, "hello required")
		return
	}
	sess.cancel = cancel

	p.register(sess)
	go p.heartbeatLoop(ctx, sess)
	p.readLoop(ctx, sess)
}

// awaitHello reads frames until a valid hello arrives or the hello window
// closes. Frames before hello are discarded.
func (p *Pool) awaitHello(ctx context.Context, conn *websocket.Conn) (*session, error) {
	helloCtx, cancel := context.WithTimeout(ctx, p.cfg.HelloTimeout)
	defer cancel()

	for {
		_, data, err := conn.Read(helloCtx)
		if err != nil {
			return nil, err
		}

		msg, err := Decode(data)
		if err != nil {
			slog.Warn("dropping unparseable frame during handshake", "error", err)
			continue
		}

		hello, ok := msg.(*Hello)
		if !ok {
			slog.Warn("discarding frame received before hello")
			continue
		}
		if hello.WorkerID == "" {
			return nil, errors.New("hello missing workerId")
		}

		now := time.Now()
		return &session{
			id:            hello.WorkerID,
			conn:          conn,
			state:         StateIdle,
			version:       hello.Version,
			capabilities:  hello.Capabilities,
			connectedAt:   now,
			lastHeartbeat: now,
		}, nil
	}
}

// register installs the session, evicting any prior session with the same
// workerId, replies with ack, and publishes worker-connected.
func (p *Pool) register(sess *session) {
	var evictedExec string
	evicted := false

	p.mu.Lock()
	if old, ok := p.sessions[sess.id]; ok {
		old.cancel()
		delete(p.sessions, sess.id)
		evictedExec = old.currentExecID
		evicted = true
		go func() { _ = old.conn.Close(websocket.StatusGoingAway, "replaced by new session") }()
	}
	p.sessions[sess.id] = sess
	p.mu.Unlock()

	if evicted {
		slog.Info("worker session replaced", "worker_id", sess.id)
		p.notify(func(l Listener) { l.OnWorkerDisconnected(sess.id, evictedExec) })
	}

	p.send(sess, &Ack{Type: MsgAck, WorkerID: sess.id, SessionToken: uuid.NewString()})
	slog.Info("worker connected", "worker_id", sess.id, "version", sess.version)
	p.notify(func(l Listener) { l.OnWorkerConnected(sess.id) })
}

// readLoop consumes frames until the transport closes.
func (p *Pool) readLoop(ctx context.Context, sess *session) {
	defer p.handleDisconnect(sess)

	for {
		_, data, err := sess.conn.Read(ctx)
		if err != nil {
			return
		}

		p.mu.Lock()
		sess.lastHeartbeat = time.Now()
		p.mu.Unlock()

		msg, err := Decode(data)
		if err != nil {
			slog.Warn("dropping unparseable frame", "worker_id", sess.id, "error", err)
			continue
		}
		p.route(sess, msg)
	}
}

// route dispatches one decoded frame to the matching notification.
func (p *Pool) route(sess *session, msg any) {
	switch m := msg.(type) {
	case *Ready:
		p.mu.Lock()
		sess.state = StateIdle
		sess.currentExecID = ""
		p.mu.Unlock()
		p.notify(func(l Listener) { l.OnWorkerReady(sess.id) })

	case *Stdout:
		p.notify(func(l Listener) { l.OnStdout(sess.id, m) })

	case *Stderr:
		p.notify(func(l Listener) { l.OnStderr(sess.id, m) })

	case *Event:
		p.notify(func(l Listener) { l.OnPersonaEvent(sess.id, m) })

	case *Complete:
		p.mu.Lock()
		sess.state = StateIdle
		sess.currentExecID = ""
		p.mu.Unlock()
		p.notify(func(l Listener) { l.OnComplete(sess.id, m) })

	case *Heartbeat:
		// lastHeartbeat was already updated in the read loop.

	case *Hello:
		slog.Warn("unexpected hello on established session", "worker_id", sess.id)

	default:
		slog.Warn("dropping frame with unexpected direction", "worker_id", sess.id)
	}
}

// heartbeatLoop sends heartbeats and closes sessions that go quiet.
func (p *Pool) heartbeatLoop(ctx context.Context, sess *session) {
	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.RLock()
			last := sess.lastHeartbeat
			p.mu.RUnlock()

			if time.Since(last) > p.cfg.HeartbeatTimeout {
				slog.Warn("worker heartbeat timeout", "worker_id", sess.id)
				_ = sess.conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
			p.send(sess, &Heartbeat{Type: MsgHeartbeat, Timestamp: time.Now().UnixMilli()})
		}
	}
}

// handleDisconnect removes the session and publishes worker-disconnected with
// the execution it was running, if any. A session that was already evicted by
// a duplicate hello is skipped: eviction published its own notification.
func (p *Pool) handleDisconnect(sess *session) {
	p.mu.Lock()
	cur, ok := p.sessions[sess.id]
	if !ok || cur != sess {
		p.mu.Unlock()
		return
	}
	delete(p.sessions, sess.id)
	execID := sess.currentExecID
	sess.state = StateDisconnected
	p.mu.Unlock()

	sess.cancel()
	_ = sess.conn.Close(websocket.StatusNormalClosure, "")

	slog.Info("worker disconnected", "worker_id", sess.id, "execution_id", execID)
	p.notify(func(l Listener) { l.OnWorkerDisconnected(sess.id, execID) })
}

// Send delivers a frame to a worker. Returns false if the worker is unknown
// or the write fails. Sends are never retried.
func (p *Pool) Send(workerID string, msg any) bool {
	p.mu.RLock()
	sess, ok := p.sessions[workerID]
	p.mu.RUnlock()
	if !ok {
		return false
	}
	return p.send(sess, msg)
}

// Assign atomically transitions an idle worker to executing and sends the
// assign frame. On send failure the worker state is reverted and false is
// returned; the caller re-queues the request.
func (p *Pool) Assign(workerID string, assign *Assign) bool {
	assign.Type = MsgAssign

	p.mu.Lock()
	sess, ok := p.sessions[workerID]
	if !ok || sess.state != StateIdle {
		p.mu.Unlock()
		return false
	}
	sess.state = StateExecuting
	sess.currentExecID = assign.ExecutionID
	p.mu.Unlock()

	if !p.send(sess, assign) {
		p.mu.Lock()
		if cur, ok := p.sessions[workerID]; ok && cur == sess && sess.currentExecID == assign.ExecutionID {
			sess.state = StateIdle
			sess.currentExecID = ""
		}
		p.mu.Unlock()
		return false
	}
	return true
}

// IdleWorker returns any idle worker's id. Order is unspecified.
func (p *Pool) IdleWorker() (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for id, sess := range p.sessions {
		if sess.state == StateIdle {
			return id, true
		}
	}
	return "", false
}

// Workers returns a snapshot of all connected workers.
func (p *Pool) Workers() []WorkerInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()

	infos := make([]WorkerInfo, 0, len(p.sessions))
	for _, sess := range p.sessions {
		infos = append(infos, WorkerInfo{
			ID:                 sess.id,
			State:              sess.state,
			CurrentExecutionID: sess.currentExecID,
			Version:            sess.version,
			Capabilities:       sess.capabilities,
			ConnectedAt:        sess.connectedAt,
			LastHeartbeat:      sess.lastHeartbeat,
		})
	}
	return infos
}

// Shutdown broadcasts a shutdown frame to every worker, then stops all
// session timers and closes the transports.
func (p *Pool) Shutdown(reason string) {
	p.mu.Lock()
	p.closed = true
	sessions := make([]*session, 0, len(p.sessions))
	for _, sess := range p.sessions {
		sessions = append(sessions, sess)
	}
	p.sessions = make(map[string]*session)
	p.mu.Unlock()

	grace := p.cfg.ShutdownGrace.Milliseconds()
	for _, sess := range sessions {
		p.send(sess, &Shutdown{Type: MsgShutdown, Reason: reason, GracePeriodMs: grace})
		sess.cancel()
		_ = sess.conn.Close(websocket.StatusGoingAway, "orchestrator shutting down")
	}
	slog.Info("worker pool shut down", "workers", len(sessions))
}

// send serializes and writes one frame. Write errors report false; the
// transport close that follows is handled by the read loop.
func (p *Pool) send(sess *session, msg any) bool {
	data, err := Encode(msg)
	if err != nil {
		slog.Error("encode frame failed", "worker_id", sess.id, "error", err)
		return false
	}

	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sess.conn.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Debug("worker write failed", "worker_id", sess.id, "error", err)
		return false
	}
	return true
}

// notify invokes fn on a snapshot of the listeners, outside the pool lock.
func (p *Pool) notify(fn func(Listener)) {
	p.mu.RLock()
	listeners := make([]Listener, len(p.listeners))
	copy(listeners, p.listeners)
	p.mu.RUnlock()

	for _, l := range listeners {
		fn(l)
	}
}
