package database

import (
	"context"
)

type contextKey string

const (
	// ScopeKey is the context key for storing the request-scoped database connection.
	ScopeKey contextKey = "dbScope"
)

// GetScope retrieves the scoped database connection from context.
// Returns nil and false if not present.
func GetScope(ctx context.Context) (*Scope, bool) {
	scope, ok := ctx.Value(ScopeKey).(*Scope)
	return scope, ok && scope != nil && scope.Conn != nil
}

// SetScope stores the scoped database connection in context.
func SetScope(ctx context.Context, scope *Scope) context.Context {
	return context.WithValue(ctx, ScopeKey, scope)
}

// ScopeProvider creates scoped contexts for work that does not run inside an
// HTTP request, such as scheduled syncs and CLI commands.
type ScopeProvider interface {
	WithScope(ctx context.Context) (context.Context, func(), error)
}

type poolScopeProvider struct {
	db *DB
}

// NewScopeProvider creates a ScopeProvider backed by the given pool.
func NewScopeProvider(db *DB) ScopeProvider {
	return &poolScopeProvider{db: db}
}

// WithScope returns a context carrying a fresh Scope.
// The cleanup function must be called when the scope is no longer needed.
func (p *poolScopeProvider) WithScope(ctx context.Context) (context.Context, func(), error) {
	scope, err := p.db.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	return SetScope(ctx, scope), scope.Close, nil
}
