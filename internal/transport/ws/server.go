package ws

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vitaliisemenov/dbsync/internal/extension"
	"github.com/vitaliisemenov/dbsync/internal/message"
	"github.com/vitaliisemenov/dbsync/internal/metrics"
	"github.com/vitaliisemenov/dbsync/internal/middleware"
	"github.com/vitaliisemenov/dbsync/internal/storage/lock"
	"github.com/vitaliisemenov/dbsync/internal/syncserver"
)

// Server serves the reference wire protocol: /register, /push, /pull
// over WebSocket, plus /status, /metrics and /swagger over plain HTTP.
type Server struct {
	Handler  *syncserver.Handler
	PushLock *lock.PushLock // nil under the lite profile: no cross-replica contention to guard against
	Metrics  *metrics.Registry
	Logger   *slog.Logger
	Upgrader websocket.Upgrader

	Middleware func(http.Handler) http.Handler
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Router builds the mux.Router exposing every endpoint.
//
// @title dbsync reconciliation API
// @version 0.1.0
// @description Push/pull reconciliation endpoints for occasionally-connected nodes.
// @BasePath /
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	wrap := s.Middleware
	if wrap == nil {
		wrap = middleware.Stack(middleware.Config{Logger: s.logger(), Metrics: s.Metrics})
	}

	r.Handle("/register", wrap(http.HandlerFunc(s.handleRegister))).Methods(http.MethodGet)
	r.Handle("/push", wrap(http.HandlerFunc(s.handlePush))).Methods(http.MethodGet)
	r.Handle("/pull", wrap(http.HandlerFunc(s.handlePull))).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.PathPrefix("/swagger/").Handler(httpSwagger.WrapHandler)

	return r
}

func (s *Server) upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, bool) {
	conn, err := s.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger().Warn("websocket upgrade failed", "path", r.URL.Path, "error", err)
		return nil, false
	}
	return conn, true
}

// registerRequest is the register endpoint's request frame.
type registerRequest struct {
	ExtraData map[string]any `json:"extra_data,omitempty"`
}

// @Summary Register a new node
// @Description Opens a WebSocket, reads one {extra_data?} frame, replies {node:{...}}.
// @Router /register [get]
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.upgrade(w, r)
	if !ok {
		return
	}
	defer conn.Close()

	var req registerRequest
	if err := readJSON(conn, &req); err != nil {
		closeWithError(conn, "BadResponseError", err)
		return
	}

	node, err := s.Handler.Register(r.Context(), req.ExtraData, nil)
	if err != nil {
		closeWithError(conn, "RegistrationFailed", err)
		return
	}

	_ = writeJSON(conn, map[string]any{"node": map[string]any{
		"node_id":          node.NodeID,
		"registered":       node.RegisteredAt,
		"registry_user_id": node.RegistryUserID,
		"secret":           node.Secret,
	}})
}

// @Summary Push a node's unversioned operations
// @Description Opens a WebSocket, reads one PushMessage frame, streams the field-payload dance, replies {type:"result", new_version_id}.
// @Router /push [get]
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.upgrade(w, r)
	if !ok {
		return
	}
	defer conn.Close()

	var msg message.PushMessage
	if err := readJSON(conn, &msg); err != nil {
		closeWithError(conn, "BadResponseError", err)
		return
	}

	if err := s.runFieldPayloadDance(conn, &msg); err != nil {
		closeWithError(conn, "BadResponseError", err)
		return
	}

	ctx := r.Context()
	result, err := s.withPushLock(ctx, func(ctx context.Context) (*syncserver.PushResult, error) {
		return s.Handler.Push(ctx, msg)
	})
	if err != nil {
		s.recordPushOutcome(err)
		closeWithError(conn, extypeFor(err), err)
		return
	}

	if s.Metrics != nil {
		s.Metrics.PushTotal.WithLabelValues(outcomeFor(result)).Inc()
	}
	_ = writeJSON(conn, map[string]any{"type": "result", "new_version_id": result.NewVersionID})
}

// @Summary Pull versions since a node's latest known version
// @Description Opens a WebSocket, reads one PullRequestMessage frame, replies PullMessage.
// @Router /pull [get]
func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.upgrade(w, r)
	if !ok {
		return
	}
	defer conn.Close()

	var req message.PullRequestMessage
	if err := readJSON(conn, &req); err != nil {
		closeWithError(conn, "BadResponseError", err)
		return
	}

	pull, err := s.Handler.Pull(r.Context(), req)
	if err != nil {
		if s.Metrics != nil {
			s.Metrics.PullTotal.WithLabelValues(metrics.OutcomeError).Inc()
		}
		closeWithError(conn, "PullFailed", err)
		return
	}
	if s.Metrics != nil {
		s.Metrics.PullTotal.WithLabelValues(metrics.OutcomeApplied).Inc()
	}
	_ = writeJSON(conn, pull)
}

// @Summary Report liveness and the server's current latest version
// @Router /status [get]
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	latest, ok, err := s.Handler.Store.LatestVersionID(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	body := map[string]any{"status": "ok", "has_version": ok}
	if ok {
		body["latest_version_id"] = latest
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSONResponse(w, body)
}

func (s *Server) withPushLock(ctx context.Context, fn func(context.Context) (*syncserver.PushResult, error)) (*syncserver.PushResult, error) {
	if s.PushLock == nil {
		return fn(ctx)
	}

	start := time.Now()
	var result *syncserver.PushResult
	err := lock.WithLock(ctx, s.PushLock, func(ctx context.Context) error {
		if s.Metrics != nil {
			s.Metrics.PushLockWaitSeconds.Observe(time.Since(start).Seconds())
		}
		var innerErr error
		result, innerErr = fn(ctx)
		return innerErr
	})
	return result, err
}

// runFieldPayloadDance streams the server's {type:"request_field_payload"}
// frame for every registered Extension field of every operation's
// model, reading the client's streamed bytes back via
// ReceivePayloadFn and folding the result into msg.Payload so Push
// sees it like any other column.
func (s *Server) runFieldPayloadDance(conn *websocket.Conn, msg *message.PushMessage) error {
	for _, op := range msg.Operations {
		schema, ok := s.Handler.Registry.ByContentType(op.ContentTypeID)
		if !ok {
			continue
		}
		ext, ok := s.Handler.Extensions.Get(schema.Name)
		if !ok || len(ext.Fields) == 0 {
			continue
		}
		row, ok := msg.Payload.Find(schema.Name, op.RowID)
		if !ok {
			continue
		}
		for _, field := range ext.Fields {
			if field.ReceivePayloadFn == nil {
				continue
			}
			req := extension.NewRequestFieldPayload(schema.Name, schema.PrimaryKey, op.RowID, field.FieldName)
			if err := writeJSON(conn, req); err != nil {
				return err
			}
			reader, err := newFrameReader(conn)
			if err != nil {
				return err
			}
			value, err := field.ReceivePayloadFn(context.Background(), reader)
			if err != nil {
				return err
			}
			row.Columns[field.FieldName] = value
		}
	}
	return nil
}

func outcomeFor(result *syncserver.PushResult) string {
	if result.NewVersionID == nil {
		return metrics.OutcomeNoOp
	}
	return metrics.OutcomeApplied
}

func extypeFor(err error) string {
	switch err.(type) {
	case *message.PushRejected:
		return "PushRejected"
	case *message.PullSuggested:
		return "PullSuggested"
	case *message.UniqueConstraintError:
		return "UniqueConstraintError"
	default:
		return "PushFailed"
	}
}

func (s *Server) recordPushOutcome(err error) {
	if s.Metrics == nil {
		return
	}
	switch err.(type) {
	case *message.PushRejected:
		s.Metrics.PushTotal.WithLabelValues(metrics.OutcomePushRejected).Inc()
	case *message.PullSuggested:
		s.Metrics.PushTotal.WithLabelValues(metrics.OutcomePullSuggested).Inc()
	case *message.UniqueConstraintError:
		s.Metrics.PushTotal.WithLabelValues(metrics.OutcomeUniqueConflict).Inc()
	default:
		s.Metrics.PushTotal.WithLabelValues(metrics.OutcomeError).Inc()
	}
}
