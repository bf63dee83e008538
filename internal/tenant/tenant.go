// Package tenant defines the tenant key that scopes all per-user/project
// state and the deterministic collection naming derived from it.
package tenant

import (
	"context"
	"errors"
)

// Tenant isolation errors - fail closed.
var (
	// ErrMissingTenant is returned when tenant info is missing from context.
	ErrMissingTenant = errors.New("tenant key missing from context")

	// ErrInvalidTenant is returned when a tenant identifier is empty.
	ErrInvalidTenant = errors.New("invalid tenant key")
)

// Key identifies a tenant: the (user_id, project_id) pair. Both fields are
// opaque strings and both are required.
type Key struct {
	UserID    string
	ProjectID string
}

// Validate checks that both identifiers are present.
func (k Key) Validate() error {
	if k.UserID == "" || k.ProjectID == "" {
		return ErrInvalidTenant
	}
	return nil
}

// Metadata returns the tenant identifiers as a metadata map for storage.
func (k Key) Metadata() map[string]any {
	return map[string]any{
		"user_id":    k.UserID,
		"project_id": k.ProjectID,
	}
}

// Filter returns equality filter conditions matching this tenant's scope.
func (k Key) Filter() map[string]any {
	return map[string]any{
		"user_id":    k.UserID,
		"project_id": k.ProjectID,
	}
}

type tenantContextKey struct{}

// NewContext returns a context carrying the tenant key.
func NewContext(ctx context.Context, key Key) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, key)
}

// FromContext extracts the tenant key from a context.
// Returns ErrMissingTenant if absent - fail closed.
func FromContext(ctx context.Context) (Key, error) {
	key, ok := ctx.Value(tenantContextKey{}).(Key)
	if !ok {
		return Key{}, ErrMissingTenant
	}
	if err := key.Validate(); err != nil {
		return Key{}, err
	}
	return key, nil
}
