package core

import (
	"context"

	"github.com/waveroom/spaces/internal/domain"
)

// TokenProvider hands out the auth token for listing calls. A missing
// token means unauthenticated; callers fail closed.
type TokenProvider interface {
	Token() (string, bool)
}

// Listing is the external rooms API the pagination manager consumes.
type Listing interface {
	ListRooms(ctx context.Context, page, pageSize int) ([]domain.Space, error)
	RoomByHost(ctx context.Context, hostID domain.UserID) (*domain.Space, error)
}
