// Package api implements the JSON HTTP API for the dispatch service.
//
// The server exposes chat dispatch (synchronous and SSE streaming), session
// CRUD, artifact retrieval, and memory management under /api/v1, plus health
// probes at /health and /ready that bypass the middleware stack.
//
// # Identity model
//
// Users are identified by an HMAC-signed uid cookie, auto-provisioned on
// first visit. The active conversation is tracked by a sid cookie holding
// the session UUID. State-changing requests require a CSRF token from
// GET /api/v1/csrf-token in the X-CSRF-Token header; tokens are HMAC-bound
// to the uid (or a nonce, before the uid cookie exists) and expire after
// one hour.
//
// # Streaming
//
// GET/POST /api/v1/chat/stream emits Server-Sent Events:
//
//	chunk     {"text": "..."}          partial response text
//	mode      {"mode": "search"}       the dispatcher switched invocation mode
//	citations {"citations": [...]}     sources cited by search/research
//	done      {"response", "mode", "hops", "sessionId"}
//	error     {"code", "message"}
package api
