package core

import "github.com/waveroom/spaces/internal/domain"

// StateStore persists the small bits of engine state that survive a
// restart: per-listing scroll bookkeeping and the topics attached to
// pending join requests.
type StateStore interface {
	SavePosition(listing string, index, page int) error
	LoadPosition(listing string) (index, page int, ok bool)

	SavePendingTopic(spaceID domain.SpaceID, topic string) error
	PendingTopic(spaceID domain.SpaceID) (string, bool)
	DeletePendingTopic(spaceID domain.SpaceID) error
}
