// Package api implements the HTTP REST API and WebSocket server for the
// MQTT shims service.
//
// This package provides:
//   - REST endpoints for device CRUD, state and state history
//   - Outbound device commands and message injection for testing mappings
//   - Device templates, decoder listing and trigger management
//   - WebSocket hub broadcasting state changes and fired triggers
//   - Middleware stack (request ID, logging, recovery, CORS, JWT)
//
// # Security
//
// When api.auth.jwt_secret is set every route except /health requires an
// HS256 bearer token. WebSocket clients pass the token as the token query
// parameter because browsers cannot set headers on the upgrade request.
// An empty secret disables authentication.
//
// # Graceful Degradation
//
// The server operates without MQTT: reads, injection and WebSocket
// connections work, only outbound commands fail with 503.
package api
