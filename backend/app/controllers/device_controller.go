package controllers

import (
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"autojs-hub/backend/app/dispatch"
	"autojs-hub/backend/app/dto"
	"autojs-hub/backend/app/services"
)

// DeviceController serves the device protocol: long-poll heartbeats and
// execution reports, both authenticated by request signature.
type DeviceController struct {
	Engine  *dispatch.Engine
	Devices *services.DeviceService
	Log     zerolog.Logger
}

func NewDeviceController(engine *dispatch.Engine, devices *services.DeviceService, log zerolog.Logger) *DeviceController {
	return &DeviceController{Engine: engine, Devices: devices, Log: log}
}

func (c *DeviceController) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req dispatch.HeartbeatRequest
	if err := decode(w, r, &req); err != nil {
		c.heartbeatError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	resp, err := c.Engine.Heartbeat(r.Context(), req)
	if err != nil {
		code := statusFor(err)
		if code >= http.StatusInternalServerError {
			c.Log.Error().Err(err).Str("device", req.DeviceCode).Msg("heartbeat failed")
		}
		c.heartbeatError(w, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (c *DeviceController) heartbeatError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, dispatch.HeartbeatResponse{
		Status:       "error",
		Instructions: []dispatch.DeviceInstruction{},
		ServerTime:   time.Now().UnixMilli(),
		Message:      msg,
	})
}

func (c *DeviceController) Report(w http.ResponseWriter, r *http.Request) {
	var req dispatch.ReportRequest
	if err := decode(w, r, &req); err != nil {
		c.reportError(w, http.StatusBadRequest, req.InstructionID, "invalid request body")
		return
	}
	resp, err := c.Engine.Report(r.Context(), req)
	if err != nil {
		code := statusFor(err)
		if code >= http.StatusInternalServerError {
			c.Log.Error().Err(err).Str("device", req.DeviceCode).Str("instruction", req.InstructionID).Msg("report failed")
		}
		c.reportError(w, code, req.InstructionID, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (c *DeviceController) reportError(w http.ResponseWriter, code int, instructionID, msg string) {
	writeJSON(w, code, dispatch.ReportResponse{
		Status:        dispatch.ReportError,
		InstructionID: instructionID,
		ServerTime:    time.Now().UnixMilli(),
		Message:       msg,
	})
}

// Register creates a device and returns its certificate. Admin only.
func (c *DeviceController) Register(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterDeviceRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	d, err := c.Devices.Register(r.Context(), req.DeviceCode, req.Name, req.GroupID)
	if errors.Is(err, services.ErrDeviceExists) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		c.Log.Error().Err(err).Str("device", req.DeviceCode).Msg("register device")
		writeError(w, http.StatusInternalServerError, "register failed")
		return
	}
	c.Log.Info().Str("device", d.Code).Str("group", d.GroupID).Msg("device registered")
	writeJSON(w, http.StatusCreated, dto.RegisterDeviceResponse{
		DeviceCode:  d.Code,
		Name:        d.Name,
		GroupID:     d.GroupID,
		Certificate: d.Certificate,
	})
}
