package domain

import "sort"

// QueueUser is one entry in a space's waiting list.
type QueueUser struct {
	ID        UserID  `json:"id"`
	Name      string  `json:"name"`
	Image     string  `json:"image"`
	Topic     *string `json:"topic,omitempty"`
	IsInvited bool    `json:"isInvited"`
	HasLeft   bool    `json:"hasLeft"`
	Position  int     `json:"position"`
}

// Queue is the ordered waiting list of users wanting to become speakers.
// Entries are kept sorted by ascending position; positions are strictly
// increasing but gaps are permitted after removals.
type Queue struct {
	ID       int64       `json:"id"`
	Users    []QueueUser `json:"users"`
	IsClosed bool        `json:"isClosed"`
}

// User returns the entry with the given id, if present.
func (q *Queue) User(id UserID) (*QueueUser, bool) {
	for i := range q.Users {
		if q.Users[i].ID == id {
			return &q.Users[i], true
		}
	}
	return nil, false
}

// Upsert inserts the entry or replaces an existing one with the same id,
// then restores position order.
func (q *Queue) Upsert(u QueueUser) {
	for i := range q.Users {
		if q.Users[i].ID == u.ID {
			q.Users[i] = u
			q.sort()
			return
		}
	}
	q.Users = append(q.Users, u)
	q.sort()
}

// Append adds the user at the tail with position = max + 1. It is a no-op
// when the id is already queued.
func (q *Queue) Append(u QueueUser) bool {
	if _, ok := q.User(u.ID); ok {
		return false
	}
	u.Position = q.maxPosition() + 1
	q.Users = append(q.Users, u)
	return true
}

// Remove drops an entry by id regardless of its state. Remaining
// positions are not compacted.
func (q *Queue) Remove(id UserID) bool {
	for i := range q.Users {
		if q.Users[i].ID == id {
			q.Users = append(q.Users[:i], q.Users[i+1:]...)
			return true
		}
	}
	return false
}

// NextWaiting returns the lowest-position user that is neither invited
// nor gone. The second result is false when nobody is waiting.
func (q *Queue) NextWaiting() (*QueueUser, bool) {
	for i := range q.Users {
		if !q.Users[i].IsInvited && !q.Users[i].HasLeft {
			return &q.Users[i], true
		}
	}
	return nil, false
}

// HasOutstandingInvite reports whether an invite is pending acceptance.
// At most one entry may be in this state at a time.
func (q *Queue) HasOutstandingInvite() bool {
	for i := range q.Users {
		if q.Users[i].IsInvited && !q.Users[i].HasLeft {
			return true
		}
	}
	return false
}

func (q *Queue) maxPosition() int {
	max := 0
	for i := range q.Users {
		if q.Users[i].Position > max {
			max = q.Users[i].Position
		}
	}
	return max
}

func (q *Queue) sort() {
	sort.SliceStable(q.Users, func(i, j int) bool {
		return q.Users[i].Position < q.Users[j].Position
	})
}

// Clone returns a deep copy of the queue.
func (q Queue) Clone() Queue {
	cp := q
	cp.Users = append([]QueueUser(nil), q.Users...)
	return cp
}
