package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
// Everything except /health sits behind the auth middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(
		s.requestIDMiddleware,
		s.loggingMiddleware,
		s.recoveryMiddleware,
		s.corsMiddleware,
		s.bodySizeLimitMiddleware,
	)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/metrics", s.handleMetrics)
			r.Get("/ws", s.handleWebSocket)
			r.Route("/devices", s.deviceRoutes)
			r.Route("/triggers", s.triggerRoutes)
			s.catalogRoutes(r)
		})
	})
	return r
}

func (s *Server) deviceRoutes(r chi.Router) {
	r.Get("/", s.handleListDevices)
	r.Post("/", s.handleCreateDevice)
	r.Get("/stats", s.handleDeviceStats)

	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", s.handleGetDevice)
		r.Patch("/", s.handleUpdateDevice)
		r.Delete("/", s.handleDeleteDevice)
		r.Get("/state", s.handleGetDeviceState)
		r.Get("/history", s.handleGetDeviceHistory)
		r.Get("/template", s.handleDumpTemplate)
		r.Post("/actions", s.handleDeviceAction)
		r.Post("/messages", s.handleInjectMessage)
	})
}

func (s *Server) triggerRoutes(r chi.Router) {
	r.Get("/", s.handleListTriggers)
	r.Post("/", s.handleCreateTrigger)
	r.Get("/{id}", s.handleGetTrigger)
	r.Delete("/{id}", s.handleDeleteTrigger)
}

// catalogRoutes expose what the service can be configured with: message
// types, device templates and decoders.
func (s *Server) catalogRoutes(r chi.Router) {
	r.Get("/message-types", s.handleListMessageTypes)
	r.Get("/decoders", s.handleListDecoders)
	r.Get("/templates", s.handleListTemplates)
	r.Post("/templates/{name}/devices", s.handleCreateFromTemplate)
}

// handleHealth reports liveness. With a broker attached, a lost MQTT
// connection turns the answer into 503 "degraded".
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status, code := "ok", http.StatusOK
	body := map[string]any{"version": s.version}

	if s.broker != nil {
		connected := s.broker.IsConnected()
		body["mqtt_connected"] = connected
		if !connected {
			status, code = "degraded", http.StatusServiceUnavailable
		}
	}
	body["status"] = status
	writeJSON(w, code, body)
}
