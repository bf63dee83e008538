// Package identity provides the tenant profile payload attached to every
// pipeline result. The provider must be always-available: it never performs
// external calls on the request path.
package identity

import (
	"context"
	"strings"
	"time"

	"github.com/fyrsmithlabs/semantixd/internal/tenant"
)

// Profile is a small tenant identity payload.
type Profile struct {
	UserID      string            `json:"user_id"`
	ProjectID   string            `json:"project_id"`
	DisplayName string            `json:"display_name"`
	Traits      map[string]string `json:"traits,omitempty"`
	GeneratedAt time.Time         `json:"generated_at"`
}

// Provider returns the tenant profile.
type Provider interface {
	Profile(ctx context.Context, key tenant.Key) (*Profile, error)
}

// StaticProvider derives the profile from the tenant key alone, optionally
// merged with operator-configured traits per user.
type StaticProvider struct {
	traits map[string]map[string]string
}

// NewStaticProvider creates a provider. traits maps user_id to free-form
// attributes; nil is fine.
func NewStaticProvider(traits map[string]map[string]string) *StaticProvider {
	return &StaticProvider{traits: traits}
}

// Profile implements Provider. It cannot fail.
func (p *StaticProvider) Profile(ctx context.Context, key tenant.Key) (*Profile, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return &Profile{
		UserID:      key.UserID,
		ProjectID:   key.ProjectID,
		DisplayName: displayName(key.UserID),
		Traits:      p.traits[key.UserID],
		GeneratedAt: time.Now().UTC(),
	}, nil
}

// displayName turns an opaque user id into something presentable:
// "jane.doe" becomes "Jane Doe".
func displayName(userID string) string {
	parts := strings.FieldsFunc(userID, func(r rune) bool {
		return r == '.' || r == '_' || r == '-'
	})
	if len(parts) == 0 {
		return userID
	}
	for i, part := range parts {
		parts[i] = strings.ToUpper(part[:1]) + part[1:]
	}
	return strings.Join(parts, " ")
}

var _ Provider = (*StaticProvider)(nil)
