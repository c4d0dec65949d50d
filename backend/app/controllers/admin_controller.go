package controllers

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"autojs-hub/backend/app/dispatch"
	"autojs-hub/backend/app/dto"
	"autojs-hub/backend/app/middleware"
	"autojs-hub/backend/app/services"
)

type AdminController struct {
	Users   *services.UserService
	Devices *services.DeviceService
	Engine  *dispatch.Engine
	Log     zerolog.Logger
}

func NewAdminController(users *services.UserService, devices *services.DeviceService, engine *dispatch.Engine, log zerolog.Logger) *AdminController {
	return &AdminController{Users: users, Devices: devices, Engine: engine, Log: log}
}

func (c *AdminController) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateUserRequest
	if err := decode(w, r, &req); err != nil || req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	if err := c.Users.CreateUser(r.Context(), req.Username, req.Password, req.Role); err != nil {
		writeError(w, http.StatusConflict, "user already exists")
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (c *AdminController) ListDevices(w http.ResponseWriter, r *http.Request) {
	list, err := c.Devices.List(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	out := make([]dto.DeviceSummary, 0, len(list))
	for _, d := range list {
		s := dto.DeviceSummary{
			DeviceCode:    d.Code,
			Name:          d.Name,
			GroupID:       d.GroupID,
			AutoJsVersion: d.AutoJsVersion,
			Online:        d.Online,
			LastSeenAt:    d.LastSeenAt,
			QueueDepth:    d.QueueDepth,
		}
		if !d.LastHeartbeat.IsZero() {
			hb := d.LastHeartbeat
			s.LastHeartbeat = &hb
		}
		out = append(out, s)
	}
	writeJSON(w, http.StatusOK, out)
}

func (c *AdminController) SetDeviceGroup(w http.ResponseWriter, r *http.Request) {
	var req dto.SetGroupRequest
	if err := decode(w, r, &req); err != nil || req.DeviceCode == "" {
		writeError(w, http.StatusBadRequest, "deviceCode is required")
		return
	}
	if err := c.Devices.SetGroup(r.Context(), req.DeviceCode, req.GroupID); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeviceQueue lists a device's pending instructions without consuming them.
func (c *AdminController) DeviceQueue(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 50
	}
	depth, pending, err := c.Devices.Queue(r.Context(), code, limit)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if pending == nil {
		pending = []dispatch.DeviceInstruction{}
	}
	writeJSON(w, http.StatusOK, dto.DeviceQueueResponse{DeviceCode: code, Depth: depth, Pending: pending})
}

// SendInstruction queues an ad-hoc instruction for one device.
func (c *AdminController) SendInstruction(w http.ResponseWriter, r *http.Request) {
	var req dto.SendInstructionRequest
	if err := decode(w, r, &req); err != nil || req.DeviceCode == "" || req.Type == "" {
		writeError(w, http.StatusBadRequest, "deviceCode and type are required")
		return
	}
	inst, err := c.Engine.SendInstruction(r.Context(), req.DeviceCode, dispatch.InstructionType(req.Type), req.Data, req.Priority, req.Timeout)
	if err != nil {
		code := statusFor(err)
		if code == http.StatusUnauthorized {
			code = http.StatusNotFound
		}
		writeError(w, code, err.Error())
		return
	}
	c.Log.Info().Str("admin", middleware.Username(r.Context())).Str("device", req.DeviceCode).
		Str("type", req.Type).Str("instruction", inst.InstructionID).Msg("ad-hoc instruction queued")
	writeJSON(w, http.StatusAccepted, inst)
}
