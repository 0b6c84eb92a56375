// Package api serves the task operations over HTTP, the task channel is served with
// websockets.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/slok/orca/internal/app/input"
	"github.com/slok/orca/internal/app/start"
	"github.com/slok/orca/internal/app/status"
	"github.com/slok/orca/internal/auth"
	"github.com/slok/orca/internal/log"
	"github.com/slok/orca/internal/model"
	"github.com/slok/orca/internal/pipeline"
	"github.com/slok/orca/internal/printer"
	"github.com/slok/orca/internal/remote"
)

// TaskStarter starts and cancels tasks.
type TaskStarter interface {
	Start(ctx context.Context, req start.Request) (string, error)
	Cancel(taskID string) error
}

// TaskGetter returns task snapshots.
type TaskGetter interface {
	Run(ctx context.Context, req status.Request) (*model.Task, error)
}

// InputSubmitter answers task prompts.
type InputSubmitter interface {
	Run(ctx context.Context, req input.Request) error
}

// ChannelServer serves a task channel on an HTTP request.
type ChannelServer interface {
	ServeTask(w http.ResponseWriter, r *http.Request, taskID string)
}

// DefinitionFunc resolves the installation definition of a task.
type DefinitionFunc func(cfg model.TaskConfig) (pipeline.Definition, error)

// HandlerConfig is the API handler configuration.
type HandlerConfig struct {
	Starter    TaskStarter
	Getter     TaskGetter
	Submitter  InputSubmitter
	Channels   ChannelServer
	Definition DefinitionFunc
	// Credentials are the default host credentials, requests can override the user,
	// password and port.
	Credentials remote.Credentials
	// Authenticator is optional, without it the API is not authenticated.
	Authenticator *auth.Authenticator
	Logger        log.Logger
}

func (c *HandlerConfig) defaults() error {
	if c.Starter == nil {
		return fmt.Errorf("starter is required")
	}
	if c.Getter == nil {
		return fmt.Errorf("getter is required")
	}
	if c.Submitter == nil {
		return fmt.Errorf("submitter is required")
	}
	if c.Channels == nil {
		return fmt.Errorf("channel server is required")
	}
	if c.Definition == nil {
		return fmt.Errorf("definition func is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "api.Handler"})

	return nil
}

type handler struct {
	starter    TaskStarter
	getter     TaskGetter
	submitter  InputSubmitter
	channels   ChannelServer
	definition DefinitionFunc
	creds      remote.Credentials
	auth       *auth.Authenticator
	logger     log.Logger
}

// NewHandler returns the API HTTP handler.
func NewHandler(cfg HandlerConfig) (http.Handler, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	h := handler{
		starter:    cfg.Starter,
		getter:     cfg.Getter,
		submitter:  cfg.Submitter,
		channels:   cfg.Channels,
		definition: cfg.Definition,
		creds:      cfg.Credentials,
		auth:       cfg.Authenticator,
		logger:     cfg.Logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/tasks", h.authenticated(h.createTask))
	mux.HandleFunc("GET /api/v1/tasks/{id}", h.authenticated(h.getTask))
	mux.HandleFunc("POST /api/v1/tasks/{id}/cancel", h.authenticated(h.cancelTask))
	mux.HandleFunc("POST /api/v1/tasks/{id}/input", h.authenticated(h.submitInput))
	mux.HandleFunc("GET /api/v1/tasks/{id}/channel", h.authenticated(h.taskChannel))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return mux, nil
}

type operatorKey struct{}

func operator(ctx context.Context) string {
	op, _ := ctx.Value(operatorKey{}).(string)
	if op == "" {
		return "anonymous"
	}
	return op
}

func (h handler) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.auth == nil {
			next(w, r)
			return
		}

		claims, err := h.auth.FromRequest(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), operatorKey{}, claims.Operator)))
	}
}

type createTaskRequest struct {
	Host     string            `json:"host"`
	Modules  []string          `json:"modules,omitempty"`
	Mode     string            `json:"mode,omitempty"`
	Values   map[string]string `json:"values,omitempty"`
	User     string            `json:"user,omitempty"`
	Password string            `json:"password,omitempty"`
	Port     int               `json:"port,omitempty"`
}

type createTaskResponse struct {
	ID string `json:"id"`
}

func (h handler) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	cfg := model.TaskConfig{
		Host:    strings.TrimSpace(req.Host),
		Modules: req.Modules,
		Mode:    model.Mode(req.Mode),
		Values:  req.Values,
	}
	if err := cfg.Validate(); err != nil {
		h.writeErr(w, err)
		return
	}

	def, err := h.definition(cfg)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	creds := h.creds
	if req.User != "" {
		creds.User = req.User
	}
	if req.Password != "" {
		creds.Password = req.Password
		creds.PrivateKey = nil
	}
	if req.Port != 0 {
		creds.Port = req.Port
	}

	id, err := h.starter.Start(r.Context(), start.Request{Config: cfg, Definition: def, Credentials: creds})
	if err != nil {
		h.writeErr(w, err)
		return
	}

	h.logger.Infof("task %s on %s created by %s", id, cfg.Host, operator(r.Context()))
	writeJSON(w, http.StatusAccepted, createTaskResponse{ID: id})
}

func (h handler) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.getter.Run(r.Context(), status.Request{TaskID: r.PathValue("id")})
	if err != nil {
		h.writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, printer.NewTaskOutput(*t))
}

func (h handler) cancelTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.starter.Cancel(id); err != nil {
		h.writeErr(w, err)
		return
	}

	h.logger.Infof("task %s cancelled by %s", id, operator(r.Context()))
	w.WriteHeader(http.StatusAccepted)
}

type inputRequest struct {
	Input string `json:"input"`
}

func (h handler) submitInput(w http.ResponseWriter, r *http.Request) {
	var req inputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	if err := h.submitter.Run(r.Context(), input.Request{TaskID: r.PathValue("id"), Input: req.Input}); err != nil {
		h.writeErr(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h handler) taskChannel(w http.ResponseWriter, r *http.Request) {
	h.channels.ServeTask(w, r, r.PathValue("id"))
}

func (h handler) writeErr(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrNotValid):
		code = http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, model.ErrAlreadyExists), errors.Is(err, model.ErrNoPendingPrompt):
		code = http.StatusConflict
	}

	if code == http.StatusInternalServerError {
		h.logger.Errorf("request failed: %v", err)
	}
	writeError(w, code, err.Error())
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
