// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package storage is a badgerhold-backed journal of Jingle sessions.
package storage

import (
	"os"
	"path"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/timshannon/badgerhold"

	"github.com/jingle-go/jingle-go/pkg/jingle"
)

const dirBadger string = "db"

// Store journals SessionSnapshots as SessionItems. It implements jingle.Journal.
type Store struct {
	bh *badgerhold.Store

	badgerDir string
}

// NewStore creates a new Store or opens an existing Store from the given path.
func NewStore(dir string) (s *Store, err error) {
	badgerDir := path.Join(dir, dirBadger)

	opts := badgerhold.DefaultOptions
	opts.Dir = badgerDir
	opts.ValueDir = badgerDir
	opts.Logger = log.StandardLogger()
	opts.Options.ValueLogFileSize = 1<<28 - 1

	if dirErr := os.MkdirAll(badgerDir, 0700); dirErr != nil {
		err = dirErr
		return
	}

	if bh, bhErr := badgerhold.Open(opts); bhErr != nil {
		err = bhErr
	} else {
		s = &Store{
			bh:        bh,
			badgerDir: badgerDir,
		}
	}
	return
}

// Close the Store. It must not be used afterwards.
func (s *Store) Close() error {
	return s.bh.Close()
}

// Record a SessionSnapshot, inserting or updating its SessionItem.
func (s *Store) Record(snap jingle.SessionSnapshot) error {
	si := NewSessionItem(snap)

	log.WithFields(log.Fields{
		"session": si.Id,
		"state":   si.State,
	}).Debug("Store records SessionItem")

	return s.bh.Upsert(si.Id, si)
}

// Get the SessionItem of a peer's session id.
func (s *Store) Get(peer jingle.Address, sid string) (si SessionItem, err error) {
	err = s.bh.Get(itemKey(peer, sid), &si)
	return
}

// Knows checks if a Session was recorded.
func (s *Store) Knows(peer jingle.Address, sid string) bool {
	_, err := s.Get(peer, sid)
	return err != badgerhold.ErrNotFound
}

// List all SessionItems, the most recently created first.
func (s *Store) List() (sis []SessionItem, err error) {
	if err = s.bh.Find(&sis, nil); err != nil {
		return
	}
	sortItems(sis)
	return
}

// QueryState fetches all SessionItems in a state, e.g., jingle.SessionTerminated.
func (s *Store) QueryState(state jingle.SessionState) (sis []SessionItem, err error) {
	if err = s.bh.Find(&sis, badgerhold.Where("State").Eq(state.String())); err != nil {
		return
	}
	sortItems(sis)
	return
}

// QueryPeer fetches all SessionItems with a peer.
func (s *Store) QueryPeer(peer jingle.Address) (sis []SessionItem, err error) {
	if err = s.bh.Find(&sis, badgerhold.Where("Peer").Eq(peer)); err != nil {
		return
	}
	sortItems(sis)
	return
}

// Delete a SessionItem. Unknown items are ignored.
func (s *Store) Delete(peer jingle.Address, sid string) error {
	key := itemKey(peer, sid)
	if err := s.bh.Delete(key, SessionItem{}); err != nil && err != badgerhold.ErrNotFound {
		return err
	}

	log.WithField("session", key).Info("Store deleted SessionItem")
	return nil
}

// DeleteTerminatedBefore removes all terminated SessionItems which were terminated before a point in time.
func (s *Store) DeleteTerminatedBefore(t time.Time) {
	var sis []SessionItem
	query := badgerhold.Where("State").Eq(jingle.SessionTerminated.String()).And("Terminated").Lt(t)
	if err := s.bh.Find(&sis, query); err != nil {
		log.WithError(err).Warn("Failed to get outdated SessionItems")
		return
	}

	for _, si := range sis {
		logger := log.WithField("session", si.Id)
		if err := s.bh.Delete(si.Id, SessionItem{}); err != nil {
			logger.WithError(err).Warn("Failed to delete outdated SessionItem")
		} else {
			logger.Info("Deleted outdated SessionItem")
		}
	}
}

func sortItems(sis []SessionItem) {
	sort.SliceStable(sis, func(i, j int) bool { return sis[i].Created.After(sis[j].Created) })
}
