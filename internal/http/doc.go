// Package http provides HTTP handlers and middleware for the presence API.
//
// The router exposes the following endpoints:
//   - GET /activity?window=day: activity report for a window. The body is the
//     `application.ActivityReport` JSON; the report version is repeated in the
//     `ETag` header.
//   - GET /activity/wait?window=day&etag=...&timeoutMs=25000: long-poll variant.
//     Returns as soon as the report version differs from `etag` (or the
//     `If-None-Match` header), or after the timeout with the current report.
//   - POST /presence/heartbeat: body {"userId","kind","isIdle"}; records an
//     activity signal and marks the user online.
//   - POST /presence/login, POST /presence/logout: body {"userId"}.
//   - GET /presence/snapshot: local tracker entries for diagnostics.
//   - GET /healthz: liveness plus a store ping.
//   - GET /metrics: Prometheus exposition, when a handler is configured.
//
// Activity responses always carry `Cache-Control: no-store`.
package http
