package transport

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"risk-view-engine/internal/calcnode"
	"risk-view-engine/internal/observability"
)

var (
	// ErrClientClosed is returned by Invoke after Close.
	ErrClientClosed = errors.New("remote invoker closed")

	// ErrConnectionLost fails jobs in flight when the connection drops. The
	// node keeps no state across connections so such jobs are not resumed.
	ErrConnectionLost = errors.New("connection to calculation node lost")
)

// RemoteConfig configures a RemoteInvoker.
type RemoteConfig struct {
	// Capacity is the number of jobs sent to the node concurrently.
	Capacity int
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// JobTimeout bounds the wait for one job result.
	JobTimeout time.Duration
	// ReleaseTimeout bounds the wait for a cycle release acknowledgement.
	ReleaseTimeout time.Duration
}

// DefaultRemoteConfig returns default remote invoker configuration.
func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		Capacity:          4,
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		JobTimeout:        5 * time.Minute,
		ReleaseTimeout:    30 * time.Second,
	}
}

type jobReply struct {
	result *calcnode.CalculationJobResult
	err    error
}

// RemoteInvoker sends jobs to a calculation node served by Server.
type RemoteInvoker struct {
	endpoint string
	config   RemoteConfig
	logger   *zap.Logger

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	// pending maps request ID to the channel waiting for its reply
	pending   map[string]chan jobReply
	pendingMu sync.Mutex

	done chan struct{}
	wg   sync.WaitGroup

	reconnecting atomic.Bool
}

// NewRemoteInvoker connects to the node at endpoint.
func NewRemoteInvoker(ctx context.Context, endpoint string, config *RemoteConfig, logger *zap.Logger) (*RemoteInvoker, error) {
	cfg := DefaultRemoteConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &RemoteInvoker{
		endpoint: endpoint,
		config:   cfg,
		logger:   logger.With(zap.String("endpoint", endpoint)),
		pending:  make(map[string]chan jobReply),
		done:     make(chan struct{}),
	}

	if err := r.connect(ctx); err != nil {
		return nil, err
	}

	r.wg.Add(1)
	go r.readLoop()

	r.wg.Add(1)
	go r.pingLoop()

	return r, nil
}

func (r *RemoteInvoker) connect(ctx context.Context) error {
	r.connMu.Lock()
	defer r.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, r.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(r.config.ReadTimeout))
	})

	r.conn = conn
	return nil
}

// Name implements Invoker.
func (r *RemoteInvoker) Name() string { return r.endpoint }

// Capacity implements Invoker.
func (r *RemoteInvoker) Capacity() int { return r.config.Capacity }

// Invoke implements Invoker.
func (r *RemoteInvoker) Invoke(ctx context.Context, job *calcnode.CalculationJob) (*calcnode.CalculationJobResult, error) {
	start := time.Now()
	reply, err := r.roundTrip(ctx, MessageJob, job, r.config.JobTimeout)
	if errors.Is(err, errReplyTimeout) {
		return nil, fmt.Errorf("job %s timeout after %s", job.Specification.JobID, r.config.JobTimeout)
	}
	if err != nil {
		return nil, err
	}
	observability.RecordJob(r.Name(), time.Since(start).Seconds())
	if reply.err == nil && reply.result == nil {
		return nil, errors.New("calculation node answered a job without a result")
	}
	return reply.result, reply.err
}

// ReleaseCycle asks the node to drop its caches for a finished cycle and
// waits for the acknowledgement.
func (r *RemoteInvoker) ReleaseCycle(ctx context.Context, cycleID string) error {
	reply, err := r.roundTrip(ctx, MessageRelease, ReleasePayload{CycleID: cycleID}, r.config.ReleaseTimeout)
	if errors.Is(err, errReplyTimeout) {
		return fmt.Errorf("release cycle %s timeout after %s", cycleID, r.config.ReleaseTimeout)
	}
	if err != nil {
		return err
	}
	return reply.err
}

var errReplyTimeout = errors.New("reply timeout")

// roundTrip sends one request and waits for the reply carrying its ID.
func (r *RemoteInvoker) roundTrip(ctx context.Context, typ MessageType, payload any, timeout time.Duration) (jobReply, error) {
	if r.closed.Load() {
		return jobReply{}, ErrClientClosed
	}

	reqID := strconv.FormatUint(r.requestID.Add(1), 10)
	msg, err := EncodeMessage(typ, reqID, payload)
	if err != nil {
		return jobReply{}, err
	}

	replyCh := make(chan jobReply, 1)
	r.pendingMu.Lock()
	r.pending[reqID] = replyCh
	r.pendingMu.Unlock()

	r.connMu.Lock()
	if r.conn == nil {
		r.connMu.Unlock()
		r.forget(reqID)
		return jobReply{}, ErrConnectionLost
	}
	r.conn.SetWriteDeadline(time.Now().Add(r.config.WriteTimeout))
	err = r.conn.WriteMessage(websocket.TextMessage, msg)
	r.connMu.Unlock()

	if err != nil {
		r.forget(reqID)
		return jobReply{}, fmt.Errorf("write %s: %w", typ, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-timer.C:
		r.forget(reqID)
		return jobReply{}, errReplyTimeout
	case <-r.done:
		return jobReply{}, ErrClientClosed
	case <-ctx.Done():
		r.forget(reqID)
		return jobReply{}, ctx.Err()
	}
}

func (r *RemoteInvoker) forget(reqID string) {
	r.pendingMu.Lock()
	delete(r.pending, reqID)
	r.pendingMu.Unlock()
}

// Close closes the connection. Jobs still waiting fail with ErrClientClosed.
func (r *RemoteInvoker) Close() error {
	if r.closed.Swap(true) {
		return nil
	}

	close(r.done)

	r.connMu.Lock()
	if r.conn != nil {
		r.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		r.conn.Close()
	}
	r.connMu.Unlock()

	r.failPending(ErrClientClosed)

	r.wg.Wait()
	return nil
}

func (r *RemoteInvoker) failPending(err error) {
	r.pendingMu.Lock()
	for id, ch := range r.pending {
		ch <- jobReply{err: err}
		delete(r.pending, id)
	}
	r.pendingMu.Unlock()
}

// readLoop reads replies and hands them to waiting Invoke calls. A failed
// connection is dropped and replaced with exponential backoff.
func (r *RemoteInvoker) readLoop() {
	defer r.wg.Done()

	reconnectDelay := r.config.ReconnectDelay

	for !r.closed.Load() {
		r.connMu.Lock()
		conn := r.conn
		r.connMu.Unlock()

		if conn == nil {
			if !r.reconnecting.Swap(true) {
				go r.reconnect(reconnectDelay)

				reconnectDelay = reconnectDelay * 2
				if reconnectDelay > r.config.MaxReconnectDelay {
					reconnectDelay = r.config.MaxReconnectDelay
				}
			}
			select {
			case <-r.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(r.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if r.closed.Load() {
				return
			}
			r.logger.Warn("calculation node connection lost", zap.Error(err))

			r.connMu.Lock()
			if r.conn == conn {
				r.conn.Close()
				r.conn = nil
			}
			r.connMu.Unlock()

			r.failPending(ErrConnectionLost)
			continue
		}

		reconnectDelay = r.config.ReconnectDelay

		r.handleMessage(message)
	}
}

// reconnect replaces the connection after a delay.
func (r *RemoteInvoker) reconnect(delay time.Duration) {
	defer r.reconnecting.Store(false)

	if r.closed.Load() {
		return
	}

	select {
	case <-r.done:
		return
	case <-time.After(delay):
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := r.connect(ctx); err != nil {
		// Reconnect failed, readLoop schedules the next attempt
		r.logger.Warn("reconnect failed", zap.Error(err))
		return
	}
	r.logger.Info("reconnected to calculation node")
}

func (r *RemoteInvoker) handleMessage(message []byte) {
	env, payload, err := DecodeMessage(message)
	if err != nil {
		r.logger.Warn("dropping undecodable message", zap.Error(err))
		return
	}

	var reply jobReply
	switch p := payload.(type) {
	case *calcnode.CalculationJobResult:
		reply.result = p
	case *ErrorPayload:
		reply.err = fmt.Errorf("calculation node: %s", p.Message)
	case *ReleasePayload:
		// Acknowledgement; nothing to carry.
	default:
		r.logger.Warn("unexpected message from calculation node", zap.String("type", string(env.Type)))
		return
	}

	r.pendingMu.Lock()
	ch, ok := r.pending[env.ID]
	if ok {
		delete(r.pending, env.ID)
	}
	r.pendingMu.Unlock()

	if ok {
		ch <- reply
	}
}

// pingLoop sends periodic ping frames to keep connection alive.
func (r *RemoteInvoker) pingLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.connMu.Lock()
			if r.conn != nil {
				r.conn.SetWriteDeadline(time.Now().Add(r.config.WriteTimeout))
				_ = r.conn.WriteMessage(websocket.PingMessage, nil)
			}
			r.connMu.Unlock()
		}
	}
}

var (
	_ Invoker       = (*RemoteInvoker)(nil)
	_ CycleReleaser = (*RemoteInvoker)(nil)
)
