package controllers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"autojs-hub/backend/app/dto"
	"autojs-hub/backend/app/middleware"
	"autojs-hub/backend/app/models"
	"autojs-hub/backend/app/services"
)

type TaskController struct {
	Tasks *services.TaskService
	Log   zerolog.Logger
}

func NewTaskController(tasks *services.TaskService, log zerolog.Logger) *TaskController {
	return &TaskController{Tasks: tasks, Log: log}
}

// List accepts optional ?status= and ?limit= filters.
func (c *TaskController) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 100
	}
	tasks, err := c.Tasks.List(r.Context(), models.TaskStatus(r.URL.Query().Get("status")), limit)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	out := make([]dto.TaskResponse, 0, len(tasks))
	for i := range tasks {
		out = append(out, dto.NewTaskResponse(&tasks[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (c *TaskController) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateTaskRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	t, err := c.Tasks.Create(r.Context(), req.Model())
	if err != nil {
		msg := err.Error()
		if t != nil {
			msg = "task stored, dispatch delayed: " + msg
		}
		writeError(w, statusFor(err), msg)
		return
	}
	c.Log.Info().Str("admin", middleware.Username(r.Context())).Uint("task", t.ID).
		Str("type", string(t.TaskType)).Str("target", string(t.TargetType)).Msg("task created")
	writeJSON(w, http.StatusCreated, dto.NewTaskResponse(t))
}

func (c *TaskController) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	t, recs, err := c.Tasks.Get(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	resp := dto.TaskDetailResponse{Task: dto.NewTaskResponse(t), Executions: make([]dto.ExecutionResponse, 0, len(recs))}
	for i := range recs {
		resp.Executions = append(resp.Executions, dto.NewExecutionResponse(&recs[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (c *TaskController) Cancel(w http.ResponseWriter, r *http.Request) {
	c.command(w, r, "cancel", c.Tasks.Cancel)
}

func (c *TaskController) Pause(w http.ResponseWriter, r *http.Request) {
	c.command(w, r, "pause", c.Tasks.Pause)
}

func (c *TaskController) Resume(w http.ResponseWriter, r *http.Request) {
	c.command(w, r, "resume", c.Tasks.Resume)
}

func (c *TaskController) command(w http.ResponseWriter, r *http.Request, name string, fn func(context.Context, uint) error) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := fn(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	c.Log.Info().Str("admin", middleware.Username(r.Context())).Uint("task", id).Str("command", name).Msg("task command")
	t, _, err := c.Tasks.Get(r.Context(), id)
	if err != nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewTaskResponse(t))
}
