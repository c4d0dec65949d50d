package controllers

import (
	"context"
	"net/http"
	"time"

	"gorm.io/gorm"

	"autojs-hub/backend/app/metrics"
	"autojs-hub/backend/app/store"
)

// HTTPController serves the unauthenticated ops endpoints.
type HTTPController struct {
	Store   store.Store
	DB      *gorm.DB
	Metrics *metrics.Metrics
}

func NewHTTPController(st store.Store, gdb *gorm.DB, m *metrics.Metrics) *HTTPController {
	return &HTTPController{Store: st, DB: gdb, Metrics: m}
}

func (c *HTTPController) Ping(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("pong"))
}

// Healthz pings the TTL store and the database.
func (c *HTTPController) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{"store": "ok", "db": "ok"}
	healthy := true
	if err := c.Store.Ping(ctx); err != nil {
		checks["store"] = err.Error()
		healthy = false
	}
	if sqlDB, err := c.DB.DB(); err != nil {
		checks["db"] = err.Error()
		healthy = false
	} else if err := sqlDB.PingContext(ctx); err != nil {
		checks["db"] = err.Error()
		healthy = false
	}
	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, checks)
}

func (c *HTTPController) ServeMetrics(w http.ResponseWriter, r *http.Request) {
	c.Metrics.Handler().ServeHTTP(w, r)
}
