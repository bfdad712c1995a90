package domain

import "time"

// Participant is a speaker slot in a space. PeerID is only set once the
// user has joined the live media graph; roster membership is tracked by
// Space.Speakers, never by PeerID.
type Participant struct {
	ID       UserID `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	ImageURL string `json:"imageUrl"`
	IsMuted  bool   `json:"isMuted"`
	IsOnline *bool  `json:"isOnline,omitempty"`
	PeerID   *string `json:"peerId,omitempty"`
}

// Space is one hosted audio room.
type Space struct {
	ID           SpaceID       `json:"id"`
	Title        string        `json:"title"`
	HostID       UserID        `json:"hostId"`
	Speakers     []Participant `json:"speakers"`
	Queue        Queue         `json:"queue"`
	Topics       []string      `json:"topics"`
	Categories   map[int64]struct{} `json:"-"`
	Listeners    int           `json:"listeners"`
	IsHostOnline bool          `json:"isHostOnline"`
	HostLocation *string       `json:"hostLocation,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// NewSpace keeps construction obvious and guarantees the host is present
// among the speakers from the start.
func NewSpace(id SpaceID, hostID UserID, host Participant) *Space {
	host.ID = hostID
	return &Space{
		ID:         id,
		HostID:     hostID,
		Speakers:   []Participant{host},
		Categories: make(map[int64]struct{}),
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
}

// Speaker returns the participant with the given id, if present.
func (s *Space) Speaker(id UserID) (*Participant, bool) {
	for i := range s.Speakers {
		if s.Speakers[i].ID == id {
			return &s.Speakers[i], true
		}
	}
	return nil, false
}

// UpsertSpeaker inserts or updates a speaker by id. Inbound delivery is
// at-least-once, so this must be safe to apply twice.
func (s *Space) UpsertSpeaker(p Participant) {
	for i := range s.Speakers {
		if s.Speakers[i].ID == p.ID {
			s.Speakers[i] = p
			s.UpdatedAt = time.Now()
			return
		}
	}
	s.Speakers = append(s.Speakers, p)
	s.UpdatedAt = time.Now()
}

// RemoveSpeaker drops a speaker by id. The host cannot be removed while
// the space is active.
func (s *Space) RemoveSpeaker(id UserID) bool {
	if id == s.HostID {
		return false
	}
	for i := range s.Speakers {
		if s.Speakers[i].ID == id {
			s.Speakers = append(s.Speakers[:i], s.Speakers[i+1:]...)
			s.UpdatedAt = time.Now()
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand outside the owning coordinator.
func (s *Space) Clone() *Space {
	cp := *s
	cp.Speakers = append([]Participant(nil), s.Speakers...)
	cp.Topics = append([]string(nil), s.Topics...)
	cp.Queue = s.Queue.Clone()
	cp.Categories = make(map[int64]struct{}, len(s.Categories))
	for k := range s.Categories {
		cp.Categories[k] = struct{}{}
	}
	return &cp
}
