package controllers

import (
	"errors"
	"net/http"

	"autojs-hub/backend/app/dto"
	"autojs-hub/backend/app/services"
)

type ScriptController struct{ Scripts *services.ScriptService }

func NewScriptController(scripts *services.ScriptService) *ScriptController {
	return &ScriptController{Scripts: scripts}
}

func (c *ScriptController) List(w http.ResponseWriter, r *http.Request) {
	items, err := c.Scripts.List(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	out := make([]dto.ScriptResponse, 0, len(items))
	for i := range items {
		out = append(out, dto.NewScriptResponse(&items[i], false))
	}
	writeJSON(w, http.StatusOK, out)
}

func (c *ScriptController) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	s, err := c.Scripts.FindByID(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, dto.NewScriptResponse(s, true))
}

func (c *ScriptController) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateScriptRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s, err := c.Scripts.Create(r.Context(), req.Name, req.Content, req.Timeout)
	if errors.Is(err, services.ErrInvalidScript) {
		writeError(w, http.StatusBadRequest, "name and content are required")
		return
	}
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, dto.NewScriptResponse(s, true))
}
