package services

import (
	"context"
	"strings"
	"time"

	"github.com/kodianteach/atlas-platform-sub001/internal/models"
)

// Role is the caller's role inside its organization.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleResident Role = "RESIDENT"
	RolePorter   Role = "PORTER"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleResident || r == RolePorter
}

// Actor identifies who is calling a service. Handlers build it from the verified bearer
// token; services never read identity from ambient state.
type Actor struct {
	UserID         string
	OrganizationID string
	Role           Role
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// Clock returns the current time; tests substitute a fixed clock.
type Clock func() time.Time

func systemClock() time.Time {
	return time.Now().UTC()
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func normalisePage(page, perPage int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 || perPage > 200 {
		perPage = 50
	}
	return page, perPage
}

func stringPtr(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

// EventPublisher receives ledger rows after they are committed, e.g. the realtime gate feed.
// Implementations must not block.
type EventPublisher interface {
	PublishAccessEvents(events ...models.AccessEvent)
}

type noopPublisher struct{}

func (noopPublisher) PublishAccessEvents(...models.AccessEvent) {}
