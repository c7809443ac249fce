// Package api implements the controller's local maintenance API.
//
// This package provides:
//   - GET /api/v1/health, unauthenticated liveness for the site monitor
//   - GET /api/v1/status, a snapshot of door, cycle, uplink and queue state
//   - GET /api/v1/access-log, the paginated access journal
//   - POST /api/v1/sync, an immediate authorization table refresh
//   - GET /api/v1/ws, a WebSocket feed of finished access attempts
//
// # Security
//
// Everything except health requires a bearer JWT signed (HS256) by the site
// server with the secret in api.jwt_secret. Browsers that cannot set headers
// on a WebSocket upgrade pass the token as ?access_token=. Refreshing the
// table needs the admin role; the other routes accept any valid token.
//
// # Graceful Degradation
//
// The journal and syncer are optional. Routes whose backend is missing answer
// 503 and the rest keep working. The API never sits on the access path: a
// stalled client cannot delay a door cycle.
package api
