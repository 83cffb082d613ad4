package handlers

import "net/http"

// ScopeMiddleware attaches a database scope to the request context.
type ScopeMiddleware func(http.HandlerFunc) http.HandlerFunc
