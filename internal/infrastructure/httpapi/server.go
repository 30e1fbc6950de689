// Package httpapi is the thin HTTP layer over the task registry: request
// decoding, status codes, and JSON rendering. No task logic lives here.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog"

	"browser-bridge/internal/application/port/input"
	"browser-bridge/internal/domain/entity"
)

type Server struct {
	service input.TaskService
}

func NewServer(service input.TaskService) *Server {
	return &Server{service: service}
}

// Router builds the API routes. Paths follow the original bridge API so
// existing workflow-automation callers keep working.
func (s *Server) Router(serviceName string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(httplog.RequestLogger(httplog.NewLogger(serviceName, httplog.Options{
		JSON:    true,
		Concise: true,
	})))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/run-task", s.handleRunTask)
		r.Get("/task/{taskID}", s.handleGetTask)
		r.Get("/task/{taskID}/status", s.handleGetStatus)
		r.Put("/stop-task/{taskID}", s.handleStopTask)
		r.Put("/pause-task/{taskID}", s.handlePauseTask)
		r.Put("/resume-task/{taskID}", s.handleResumeTask)
		r.Get("/list-tasks", s.handleListTasks)
		r.Get("/ping", s.handlePing)
	})
	return r
}

type runTaskRequest struct {
	Task            string `json:"task"`
	AIProvider      string `json:"ai_provider,omitempty"`
	Headful         *bool  `json:"headful,omitempty"`
	SaveScreenshots bool   `json:"save_screenshots,omitempty"`
	MaxSteps        int    `json:"max_steps,omitempty"`
}

type runTaskResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type statusResponse struct {
	Status string `json:"status"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

type stepDTO struct {
	Index          int       `json:"index"`
	Action         string    `json:"action"`
	Arguments      string    `json:"arguments,omitempty"`
	Success        bool      `json:"success"`
	Data           string    `json:"data,omitempty"`
	Error          string    `json:"error,omitempty"`
	URL            string    `json:"url,omitempty"`
	ScreenshotPath string    `json:"screenshot_path,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

type taskDTO struct {
	ID          string     `json:"id"`
	Task        string     `json:"task"`
	AIProvider  string     `json:"ai_provider,omitempty"`
	Status      string     `json:"status"`
	Reason      string     `json:"reason,omitempty"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	Steps       []stepDTO  `json:"steps"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	var req runTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	options := entity.TaskOptions{
		SaveScreenshots: req.SaveScreenshots,
		MaxSteps:        req.MaxSteps,
	}
	if req.Headful != nil {
		options.Headful = *req.Headful
	}

	task, err := s.service.Submit(r.Context(), input.SubmitRequest{
		Instruction: req.Task,
		Provider:    req.AIProvider,
		Options:     options,
	})
	if err != nil {
		switch {
		case errors.Is(err, entity.ErrEmptyInstruction):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, entity.ErrResourceExhausted):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusCreated, runTaskResponse{ID: task.ID, Status: string(task.Status)})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.service.Status(chi.URLParam(r, "taskID"))
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskDTO(task))
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	task, err := s.service.Status(chi.URLParam(r, "taskID"))
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Status: string(task.Status),
		Result: task.Result,
		Error:  task.Error,
	})
}

func (s *Server) handleStopTask(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Cancel(chi.URLParam(r, "taskID")); err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "cancellation requested"})
}

func (s *Server) handlePauseTask(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Pause(chi.URLParam(r, "taskID")); err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "pause requested"})
}

func (s *Server) handleResumeTask(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Resume(chi.URLParam(r, "taskID")); err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "resume requested"})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks := s.service.List()
	result := make([]taskDTO, 0, len(tasks))
	for _, task := range tasks {
		result = append(result, toTaskDTO(task))
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func toTaskDTO(task *entity.Task) taskDTO {
	dto := taskDTO{
		ID:         task.ID,
		Task:       task.Instruction,
		AIProvider: task.Provider,
		Status:     string(task.Status),
		Reason:     string(task.Reason),
		Result:     task.Result,
		Error:      task.Error,
		Steps:      make([]stepDTO, 0, len(task.Steps)),
		CreatedAt:  task.CreatedAt,
		StartedAt:  task.StartedAt,
		FinishedAt: task.FinishedAt,
	}
	for _, step := range task.Steps {
		dto.Steps = append(dto.Steps, stepDTO{
			Index:          step.Index,
			Action:         string(step.Action.Name),
			Arguments:      step.Action.Raw,
			Success:        step.Outcome.Success,
			Data:           step.Outcome.Data,
			Error:          step.Outcome.Error,
			URL:            step.Observation.URL,
			ScreenshotPath: step.ScreenshotPath,
			Timestamp:      step.Timestamp,
		})
	}
	return dto
}

func writeLifecycleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, entity.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, entity.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
