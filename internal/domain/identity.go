// Package domain contains entities without logic, just meta-data
// and the small invariant-preserving mutators the engine relies on.
package domain

import "fmt"

// UserID is the stable integer identifier every user carries.
type UserID int64

// SpaceID identifies a hosted room.
type SpaceID int64

// Channel derives the pub/sub channel name for an identity. The same
// scheme addresses a user's personal inbox and a host's room channel.
func Channel(id UserID) string {
	return fmt.Sprintf("user:%d", id)
}
