// Package store persists small engine state (scroll positions, pending
// room topics) in a buntdb file so it survives restarts.
package store

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/buntdb"

	"github.com/waveroom/spaces/internal/core"
	"github.com/waveroom/spaces/internal/domain"
)

type StateStore struct {
	db *buntdb.DB
}

var _ core.StateStore = (*StateStore)(nil)

// Open opens (or creates) the state database. Pass ":memory:" for an
// ephemeral store.
func Open(path string) (*StateStore, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, err
	}
	return &StateStore{db: db}, nil
}

func (s *StateStore) Close() error { return s.db.Close() }

type position struct {
	Index int `json:"index"`
	Page  int `json:"page"`
}

func posKey(listing string) string { return "pos:" + listing }

func topicKey(spaceID domain.SpaceID) string {
	return fmt.Sprintf("topic:%d", spaceID)
}

func (s *StateStore) SavePosition(listing string, index, page int) error {
	raw, err := json.Marshal(position{Index: index, Page: page})
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(posKey(listing), string(raw), nil)
		return err
	})
}

func (s *StateStore) LoadPosition(listing string) (index, page int, ok bool) {
	var pos position
	err := s.db.View(func(tx *buntdb.Tx) error {
		raw, err := tx.Get(posKey(listing))
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(raw), &pos)
	})
	if err != nil {
		return 0, 0, false
	}
	return pos.Index, pos.Page, true
}

func (s *StateStore) SavePendingTopic(spaceID domain.SpaceID, topic string) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(topicKey(spaceID), topic, nil)
		return err
	})
}

func (s *StateStore) PendingTopic(spaceID domain.SpaceID) (string, bool) {
	var topic string
	err := s.db.View(func(tx *buntdb.Tx) error {
		t, err := tx.Get(topicKey(spaceID))
		topic = t
		return err
	})
	if err != nil {
		return "", false
	}
	return topic, true
}

func (s *StateStore) DeletePendingTopic(spaceID domain.SpaceID) error {
	err := s.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(topicKey(spaceID))
		return err
	})
	if err == buntdb.ErrNotFound {
		return nil
	}
	return err
}
