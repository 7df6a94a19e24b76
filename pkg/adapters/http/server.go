// Package http exposes the engine triggers over a JSON HTTP API.
//
//	GET    /health
//	GET    /models
//	POST   /models/{modelID}/instances          start; ?wait=true blocks for the outcome
//	GET    /models/{modelID}/user-tasks
//	GET    /instances/{instanceID}              flow node instance records
//	DELETE /instances/{instanceID}              cancel a live instance
//	POST   /user-tasks/{flowNodeInstanceID}/finish
//	POST   /user-tasks/{flowNodeInstanceID}/fail
//	POST   /messages/{name}
//	POST   /signals/{name}
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aretw0/processengine"
	"github.com/aretw0/processengine/internal/logging"
	"github.com/aretw0/processengine/pkg/domain"
	"github.com/aretw0/processengine/pkg/ports"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Engine is the part of the process engine the API drives.
type Engine interface {
	Start(ctx context.Context, processModelID string, payload any, identity domain.Identity, opts ...processengine.StartOption) (*processengine.Instance, error)
	Cancel(processInstanceID string) error
	SendMessage(ctx context.Context, name string, payload any) error
	SendSignal(ctx context.Context, name string, payload any) error
	FinishUserTask(ctx context.Context, flowNodeInstanceID string, payload any) error
	FailUserTask(ctx context.Context, flowNodeInstanceID, code, message string) error
	SuspendedUserTasks(ctx context.Context, processModelID string) ([]*domain.FlowNodeInstance, error)
	Repository() ports.FlowNodeInstanceRepository
	Models() ports.ModelProvider
}

var _ Engine = (*processengine.Engine)(nil)

// Server holds the handlers of the API.
type Server struct {
	Engine   Engine
	Identity ports.IdentityProvider
	Logger   *slog.Logger
	Metrics  http.Handler
}

// Option configures the handler built by NewHandler.
type Option func(*Server)

// WithIdentityProvider resolves the bearer token of each request.
// Without one, requests run with an anonymous identity.
func WithIdentityProvider(p ports.IdentityProvider) Option {
	return func(s *Server) { s.Identity = p }
}

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.Logger = logger }
}

// WithMetricsHandler mounts h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.Metrics = h }
}

// NewHandler creates the HTTP handler for engine.
func NewHandler(engine Engine, opts ...Option) http.Handler {
	s := &Server{Engine: engine, Identity: ports.StaticIdentity{}}
	for _, opt := range opts {
		opt(s)
	}
	if s.Logger == nil {
		s.Logger = logging.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)

	r.Get("/health", s.GetHealth)
	if s.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.Metrics)
	}
	r.Get("/models", s.ListModels)
	r.Route("/models/{modelID}", func(r chi.Router) {
		r.Post("/instances", s.StartInstance)
		r.Get("/user-tasks", s.ListUserTasks)
	})
	r.Get("/instances/{instanceID}", s.GetInstance)
	r.Delete("/instances/{instanceID}", s.CancelInstance)
	r.Post("/user-tasks/{flowNodeInstanceID}/finish", s.FinishUserTask)
	r.Post("/user-tasks/{flowNodeInstanceID}/fail", s.FailUserTask)
	r.Post("/messages/{name}", s.SendMessage)
	r.Post("/signals/{name}", s.SendSignal)
	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// StartRequest is the body of POST /models/{modelID}/instances.
type StartRequest struct {
	Payload           any    `json:"payload"`
	CorrelationID     string `json:"correlation_id,omitempty"`
	ProcessInstanceID string `json:"process_instance_id,omitempty"`
}

// StartResponse describes a started instance. State and Token are only set
// when the request waited for the outcome.
type StartResponse struct {
	ProcessInstanceID string               `json:"process_instance_id"`
	CorrelationID     string               `json:"correlation_id"`
	State             string               `json:"state,omitempty"`
	Token             *domain.ProcessToken `json:"token,omitempty"`
	Error             string               `json:"error,omitempty"`
}

// UserTaskFailure is the body of POST /user-tasks/{id}/fail.
type UserTaskFailure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// GetHealth handles GET /health.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListModels handles GET /models.
func (s *Server) ListModels(w http.ResponseWriter, r *http.Request) {
	ids, err := s.Engine.Models().ListProcessModels(r.Context())
	if err != nil {
		s.fail(w, "list models", err)
		return
	}
	s.writeJSON(w, http.StatusOK, ids)
}

// StartInstance handles POST /models/{modelID}/instances.
func (s *Server) StartInstance(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.identify(w, r)
	if !ok {
		return
	}
	var body StartRequest
	if !s.decode(w, r, &body) {
		return
	}

	var opts []processengine.StartOption
	if body.CorrelationID != "" {
		opts = append(opts, processengine.WithCorrelationID(body.CorrelationID))
	}
	if body.ProcessInstanceID != "" {
		opts = append(opts, processengine.WithProcessInstanceID(body.ProcessInstanceID))
	}

	// The instance outlives the request unless the caller waits for it.
	inst, err := s.Engine.Start(context.WithoutCancel(r.Context()), chi.URLParam(r, "modelID"), body.Payload, identity, opts...)
	if err != nil {
		s.fail(w, "start", err)
		return
	}
	resp := StartResponse{ProcessInstanceID: inst.ID, CorrelationID: inst.CorrelationID}
	if r.URL.Query().Get("wait") != "true" {
		s.writeJSON(w, http.StatusAccepted, resp)
		return
	}

	out, err := inst.Wait(r.Context())
	if err != nil {
		s.fail(w, "wait", err)
		return
	}
	resp.State = string(out.State)
	resp.Token = &out.Token
	if out.Err != nil {
		resp.Error = out.Err.Error()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// ListUserTasks handles GET /models/{modelID}/user-tasks.
func (s *Server) ListUserTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.Engine.SuspendedUserTasks(r.Context(), chi.URLParam(r, "modelID"))
	if err != nil {
		s.fail(w, "list user tasks", err)
		return
	}
	s.writeJSON(w, http.StatusOK, tasks)
}

// GetInstance handles GET /instances/{instanceID}.
func (s *Server) GetInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "instanceID")
	recs, err := s.Engine.Repository().QueryByProcessInstance(r.Context(), id)
	if err != nil {
		s.fail(w, "get instance", err)
		return
	}
	if len(recs) == 0 {
		http.Error(w, "process instance not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, recs)
}

// CancelInstance handles DELETE /instances/{instanceID}.
func (s *Server) CancelInstance(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.identify(w, r); !ok {
		return
	}
	if err := s.Engine.Cancel(chi.URLParam(r, "instanceID")); err != nil {
		s.fail(w, "cancel", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// FinishUserTask handles POST /user-tasks/{flowNodeInstanceID}/finish.
// The whole body is the task result.
func (s *Server) FinishUserTask(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.identify(w, r); !ok {
		return
	}
	var payload any
	if !s.decode(w, r, &payload) {
		return
	}
	if err := s.Engine.FinishUserTask(r.Context(), chi.URLParam(r, "flowNodeInstanceID"), payload); err != nil {
		s.fail(w, "finish user task", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// FailUserTask handles POST /user-tasks/{flowNodeInstanceID}/fail.
func (s *Server) FailUserTask(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.identify(w, r); !ok {
		return
	}
	var body UserTaskFailure
	if !s.decode(w, r, &body) {
		return
	}
	if body.Code == "" {
		http.Error(w, "code is required", http.StatusBadRequest)
		return
	}
	if err := s.Engine.FailUserTask(r.Context(), chi.URLParam(r, "flowNodeInstanceID"), body.Code, body.Message); err != nil {
		s.fail(w, "fail user task", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// SendMessage handles POST /messages/{name}. The body is the message payload.
func (s *Server) SendMessage(w http.ResponseWriter, r *http.Request) {
	s.publish(w, r, "send message", s.Engine.SendMessage)
}

// SendSignal handles POST /signals/{name}. The body is the signal payload.
func (s *Server) SendSignal(w http.ResponseWriter, r *http.Request) {
	s.publish(w, r, "send signal", s.Engine.SendSignal)
}

func (s *Server) publish(w http.ResponseWriter, r *http.Request, op string, send func(context.Context, string, any) error) {
	if _, ok := s.identify(w, r); !ok {
		return
	}
	var payload any
	if !s.decode(w, r, &payload) {
		return
	}
	if err := send(r.Context(), chi.URLParam(r, "name"), payload); err != nil {
		s.fail(w, op, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) identify(w http.ResponseWriter, r *http.Request) (domain.Identity, bool) {
	token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	identity, err := s.Identity.Identify(r.Context(), token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		s.Logger.Warn("identity rejected", "path", r.URL.Path, "error", err)
		return domain.Identity{}, false
	}
	return identity, true
}

// decode reads a JSON body. An empty body leaves v untouched.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		s.Logger.Warn("invalid request body", "path", r.URL.Path, "error", err)
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.Logger.Error(op+" failed", "error", err)
	} else {
		s.Logger.Debug(op+" rejected", "error", err)
	}
	http.Error(w, err.Error(), status)
}

func statusFor(err error) int {
	var invalid *domain.ModelValidationError
	switch {
	case errors.Is(err, domain.ErrProcessModelNotFound),
		errors.Is(err, domain.ErrFlowNodeInstanceNotFound),
		errors.Is(err, processengine.ErrInstanceNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, processengine.ErrInstanceExists):
		return http.StatusConflict
	case errors.As(err, &invalid):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Error("response encode failed", "error", err)
	}
}
