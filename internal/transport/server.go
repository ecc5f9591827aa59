package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"risk-view-engine/internal/calcnode"
	"risk-view-engine/internal/observability"
)

// Server accepts websocket connections from dispatchers and executes the
// jobs they send on a local calculation node.
type Server struct {
	exec         JobExecutor
	sem          *semaphore.Weighted
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	logger       *zap.Logger
}

// NewServer creates a job server running at most workers jobs at a time
// across all connections.
func NewServer(exec JobExecutor, workers int, logger *zap.Logger) *Server {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		exec: exec,
		sem:  semaphore.NewWeighted(int64(workers)),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		writeTimeout: 10 * time.Second,
		logger:       logger,
	}
}

// ServeHTTP upgrades the connection and serves jobs until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	observability.DefaultMetrics.RemoteConnections.Inc()
	defer observability.DefaultMetrics.RemoteConnections.Dec()

	logger := s.logger.With(zap.String("remote", r.RemoteAddr))
	logger.Info("dispatcher connected")

	// Jobs of a dropped connection are abandoned.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var writeMu sync.Mutex
	var wg sync.WaitGroup
	defer wg.Wait()

	reply := func(typ MessageType, id string, payload any) {
		data, err := EncodeMessage(typ, id, payload)
		if err != nil {
			logger.Error("encode reply", zap.Error(err))
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			logger.Warn("write reply", zap.Error(err))
		}
	}

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("dispatcher connection closed", zap.Error(err))
			} else {
				logger.Info("dispatcher disconnected")
			}
			cancel()
			return
		}

		env, payload, err := DecodeMessage(message)
		if err != nil {
			logger.Warn("bad message", zap.Error(err))
			if env.ID != "" {
				reply(MessageError, env.ID, ErrorPayload{Message: err.Error()})
			}
			observability.DefaultMetrics.RemoteJobsServed.WithLabelValues("rejected").Inc()
			continue
		}
		if release, ok := payload.(*ReleasePayload); ok {
			wg.Add(1)
			go func(id string, cycleID string) {
				defer wg.Done()
				if err := s.release(ctx, cycleID); err != nil {
					logger.Warn("release cycle failed", zap.String("cycle_id", cycleID), zap.Error(err))
					reply(MessageError, id, ErrorPayload{Message: err.Error()})
					return
				}
				reply(MessageReleased, id, ReleasePayload{CycleID: cycleID})
			}(env.ID, release.CycleID)
			continue
		}
		job, ok := payload.(*calcnode.CalculationJob)
		if !ok {
			reply(MessageError, env.ID, ErrorPayload{Message: "expected a job, got " + string(env.Type)})
			observability.DefaultMetrics.RemoteJobsServed.WithLabelValues("rejected").Inc()
			continue
		}

		wg.Add(1)
		go func(id string, job *calcnode.CalculationJob) {
			defer wg.Done()
			if err := s.sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer s.sem.Release(1)

			result, err := s.exec.ExecuteJob(ctx, job)
			if err != nil {
				reply(MessageError, id, ErrorPayload{Message: err.Error()})
				observability.DefaultMetrics.RemoteJobsServed.WithLabelValues("error").Inc()
				return
			}
			reply(MessageResult, id, result)
			observability.DefaultMetrics.RemoteJobsServed.WithLabelValues("ok").Inc()
		}(env.ID, job)
	}
}

// release drops a finished cycle's state on the executor. Executors that
// keep none acknowledge without doing anything.
func (s *Server) release(ctx context.Context, cycleID string) error {
	if cycleID == "" {
		return errors.New("release without a cycle id")
	}
	r, ok := s.exec.(CycleReleaser)
	if !ok {
		return nil
	}
	return r.ReleaseCycle(ctx, cycleID)
}
