// Copyright (c) 2025-2026, zfonlyone and the openlist2strm contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/zfonlyone/openlist2strm/internal/models"
	"github.com/zfonlyone/openlist2strm/internal/scanner"
	"github.com/zfonlyone/openlist2strm/internal/scheduler"
)

// TaskHandler handles HTTP requests for scan tasks.
type TaskHandler struct {
	sched *scheduler.Service
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(sched *scheduler.Service) *TaskHandler {
	return &TaskHandler{sched: sched}
}

// TaskPayload is the request body for creating and updating tasks.
type TaskPayload struct {
	Name          *string `json:"name"`
	Folder        *string `json:"folder"`
	ScheduleKind  *string `json:"scheduleKind"`
	ScheduleValue *string `json:"scheduleValue"`
	Enabled       *bool   `json:"enabled"`
	OneTime       *bool   `json:"oneTime"`
}

// List returns all task definitions.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.sched.ListTasks(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("api: failed to list tasks")
		RespondError(w, http.StatusInternalServerError, "Failed to list tasks")
		return
	}
	if tasks == nil {
		tasks = []*models.TaskDefinition{}
	}
	RespondJSON(w, http.StatusOK, tasks)
}

// Create creates a new task.
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	var payload TaskPayload
	if !DecodeJSON(w, r, &payload) {
		return
	}
	if payload.Name == nil || *payload.Name == "" {
		RespondError(w, http.StatusBadRequest, "Name is required")
		return
	}
	if payload.ScheduleKind == nil {
		RespondError(w, http.StatusBadRequest, "Schedule kind is required")
		return
	}

	task := &models.TaskDefinition{
		Name:         *payload.Name,
		ScheduleKind: models.ScheduleKind(*payload.ScheduleKind),
		Enabled:      true,
	}
	if payload.Folder != nil {
		task.Folder = *payload.Folder
	}
	if payload.ScheduleValue != nil {
		task.ScheduleVal = *payload.ScheduleValue
	}
	if payload.Enabled != nil {
		task.Enabled = *payload.Enabled
	}
	if payload.OneTime != nil {
		task.OneTime = *payload.OneTime
	}

	if err := h.sched.CreateTask(r.Context(), task); err != nil {
		if respondInvalidSchedule(w, err) {
			return
		}
		log.Error().Err(err).Msg("api: failed to create task")
		RespondError(w, http.StatusInternalServerError, "Failed to create task")
		return
	}
	RespondJSON(w, http.StatusCreated, task)
}

// Get returns a single task.
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	task, ok := h.requireTask(w, r)
	if !ok {
		return
	}
	RespondJSON(w, http.StatusOK, task)
}

// Update rewrites a task definition.
func (h *TaskHandler) Update(w http.ResponseWriter, r *http.Request) {
	task, ok := h.requireTask(w, r)
	if !ok {
		return
	}

	var payload TaskPayload
	if !DecodeJSON(w, r, &payload) {
		return
	}
	if payload.Name != nil {
		task.Name = *payload.Name
	}
	if payload.Folder != nil {
		task.Folder = *payload.Folder
	}
	if payload.ScheduleKind != nil {
		task.ScheduleKind = models.ScheduleKind(*payload.ScheduleKind)
	}
	if payload.ScheduleValue != nil {
		task.ScheduleVal = *payload.ScheduleValue
	}
	if payload.Enabled != nil {
		task.Enabled = *payload.Enabled
	}
	if payload.OneTime != nil {
		task.OneTime = *payload.OneTime
	}

	if err := h.sched.UpdateTask(r.Context(), task); err != nil {
		if respondInvalidSchedule(w, err) {
			return
		}
		log.Error().Err(err).Str("taskID", task.ID).Msg("api: failed to update task")
		RespondError(w, http.StatusInternalServerError, "Failed to update task")
		return
	}
	RespondJSON(w, http.StatusOK, task)
}

// Delete removes a task definition.
func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if err := h.sched.DeleteTask(r.Context(), taskID); err != nil {
		if errors.Is(err, models.ErrTaskNotFound) {
			RespondError(w, http.StatusNotFound, "Task not found")
			return
		}
		log.Error().Err(err).Str("taskID", taskID).Msg("api: failed to delete task")
		RespondError(w, http.StatusInternalServerError, "Failed to delete task")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Enable turns a task on and schedules its next firing.
func (h *TaskHandler) Enable(w http.ResponseWriter, r *http.Request) {
	h.setState(w, r, "enable", h.sched.EnableTask)
}

// Disable turns a task off.
func (h *TaskHandler) Disable(w http.ResponseWriter, r *http.Request) {
	h.setState(w, r, "disable", h.sched.DisableTask)
}

// Pause suspends firing without losing the scheduled slot.
func (h *TaskHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.setState(w, r, "pause", h.sched.PauseTask)
}

// Resume lifts a pause.
func (h *TaskHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.setState(w, r, "resume", h.sched.ResumeTask)
}

// RunNow launches the task's scan immediately.
func (h *TaskHandler) RunNow(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	runID, err := h.sched.RunTaskNow(r.Context(), taskID)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrTaskNotFound):
			RespondError(w, http.StatusNotFound, "Task not found")
		case errors.Is(err, scanner.ErrScanActive):
			RespondError(w, http.StatusConflict, "A scan is already in progress")
		default:
			log.Error().Err(err).Str("taskID", taskID).Msg("api: failed to run task")
			RespondError(w, http.StatusInternalServerError, "Failed to run task")
		}
		return
	}
	RespondJSON(w, http.StatusAccepted, map[string]string{"runId": runID})
}

func (h *TaskHandler) setState(w http.ResponseWriter, r *http.Request, action string, fn func(context.Context, string) error) {
	taskID := chi.URLParam(r, "taskID")
	if err := fn(r.Context(), taskID); err != nil {
		if errors.Is(err, models.ErrTaskNotFound) {
			RespondError(w, http.StatusNotFound, "Task not found")
			return
		}
		log.Error().Err(err).Str("taskID", taskID).Str("action", action).Msg("api: failed to change task state")
		RespondError(w, http.StatusInternalServerError, "Failed to "+action+" task")
		return
	}

	task, err := h.sched.GetTask(r.Context(), taskID)
	if err != nil {
		log.Error().Err(err).Str("taskID", taskID).Msg("api: failed to reload task")
		RespondError(w, http.StatusInternalServerError, "Failed to reload task")
		return
	}
	RespondJSON(w, http.StatusOK, task)
}

func (h *TaskHandler) requireTask(w http.ResponseWriter, r *http.Request) (*models.TaskDefinition, bool) {
	taskID := chi.URLParam(r, "taskID")
	task, err := h.sched.GetTask(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, models.ErrTaskNotFound) {
			RespondError(w, http.StatusNotFound, "Task not found")
			return nil, false
		}
		log.Error().Err(err).Str("taskID", taskID).Msg("api: failed to get task")
		RespondError(w, http.StatusInternalServerError, "Failed to get task")
		return nil, false
	}
	return task, true
}

// respondInvalidSchedule maps schedule validation failures to 422.
func respondInvalidSchedule(w http.ResponseWriter, err error) bool {
	var invalid *models.ErrConfigInvalid
	if errors.As(err, &invalid) {
		RespondError(w, http.StatusUnprocessableEntity, invalid.Error())
		return true
	}
	return false
}
