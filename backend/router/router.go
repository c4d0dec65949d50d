package router

import (
	"net/http"

	"autojs-hub/backend/app/controllers"
	"autojs-hub/backend/app/middleware"
)

type Controllers struct {
	HTTP    *controllers.HTTPController
	Auth    *controllers.AuthController
	Admin   *controllers.AdminController
	Devices *controllers.DeviceController
	Scripts *controllers.ScriptController
	Tasks   *controllers.TaskController
	Events  *controllers.EventsController
}

func NewRouter(c Controllers, mw *middleware.Auth) http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern string, h http.Handler) {
		mux.Handle(pattern, middleware.Route(pattern, h))
	}
	admin := func(pattern string, h http.HandlerFunc) {
		handle(pattern, mw.RequireAdmin(h))
	}

	// public
	handle("GET /ping", http.HandlerFunc(c.HTTP.Ping))
	handle("GET /healthz", http.HandlerFunc(c.HTTP.Healthz))
	handle("GET /metrics", http.HandlerFunc(c.HTTP.ServeMetrics))
	handle("POST /login", http.HandlerFunc(c.Auth.Login))

	// device protocol, authenticated by request signature
	handle("POST /api/device/heartbeat", http.HandlerFunc(c.Devices.Heartbeat))
	handle("POST /api/device/report", http.HandlerFunc(c.Devices.Report))
	admin("POST /api/device/register", c.Devices.Register)

	// admin
	admin("POST /admin/users", c.Admin.CreateUser)
	admin("GET /admin/devices", c.Admin.ListDevices)
	admin("POST /admin/devices", c.Devices.Register)
	admin("POST /admin/devices/group", c.Admin.SetDeviceGroup)
	admin("GET /admin/devices/queue", c.Admin.DeviceQueue)
	admin("POST /admin/instructions", c.Admin.SendInstruction)

	admin("GET /admin/scripts", c.Scripts.List)
	admin("POST /admin/scripts", c.Scripts.Create)
	admin("GET /admin/scripts/{id}", c.Scripts.Get)

	admin("GET /admin/tasks", c.Tasks.List)
	admin("POST /admin/tasks", c.Tasks.Create)
	admin("GET /admin/tasks/{id}", c.Tasks.Get)
	admin("POST /admin/tasks/{id}/cancel", c.Tasks.Cancel)
	admin("POST /admin/tasks/{id}/pause", c.Tasks.Pause)
	admin("POST /admin/tasks/{id}/resume", c.Tasks.Resume)

	admin("GET /admin/events", c.Events.Stream)

	return mux
}
