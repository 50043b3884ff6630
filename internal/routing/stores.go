package routing

import (
	"context"

	"github.com/apversus/sauai/internal/domain"
)

// UserStore is the part of store.UserStore the router needs.
type UserStore interface {
	Get(ctx context.Context, username string) (*domain.User, error)
	CreateOrUpdate(ctx context.Context, username string, attrs domain.PlatformAttributes) (*domain.User, error)
	CreateWebUser(ctx context.Context, username, name, email string) (*domain.User, error)
	IncrementMessageCount(ctx context.Context, username string) error
}

// SessionStore is the part of store.SessionStore the router needs.
type SessionStore interface {
	GetOrCreate(ctx context.Context, username string) (*domain.Session, error)
	AppendMessage(ctx context.Context, sessionID, text string, fromUser bool) error
	RecentContext(ctx context.Context, sessionID string, limit int) (string, error)
}
