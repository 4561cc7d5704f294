// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/fsnotify/fsnotify"

	"github.com/jingle-go/jingle-go/pkg/filetransfer"
	"github.com/jingle-go/jingle-go/pkg/jingle"
)

// initiator starts sessions, e.g., a jingle.Manager.
type initiator interface {
	Initiate(peer jingle.Address, proposals []jingle.ContentProposal) (*jingle.Session, error)
}

// outbox offers each file created within a directory to a peer.
type outbox struct {
	directory  string
	peer       jingle.Address
	initiator  initiator
	opts       filetransfer.OfferOptions
	knownFiles sync.Map
	watcher    *fsnotify.Watcher

	// offers tracks running offerNewFile calls.
	offers sync.WaitGroup

	closeSyn chan struct{}
	closeAck chan struct{}
}

func newOutbox(directory string, peer jingle.Address, starter initiator, opts filetransfer.OfferOptions) (ob *outbox, err error) {
	if err = os.MkdirAll(directory, 0700); err != nil {
		return
	}

	ob = &outbox{
		directory: directory,
		peer:      peer,
		initiator: starter,
		opts:      opts,

		closeSyn: make(chan struct{}),
		closeAck: make(chan struct{}),
	}

	if ob.watcher, err = fsnotify.NewWatcher(); err != nil {
		return nil, err
	}
	if err = ob.watcher.Add(directory); err != nil {
		_ = ob.watcher.Close()
		return nil, err
	}

	log.WithFields(log.Fields{
		"directory": directory,
		"peer":      peer,
	}).Info("Watching outbox directory")

	go ob.handler()
	return
}

// cleanFilepath creates a relative path from the outbox directory to a new file's path.
func (ob *outbox) cleanFilepath(f string) string {
	if rel, err := filepath.Rel(ob.directory, f); err != nil {
		log.WithField("path", f).WithError(err).Warn("Failed to clean file path")
		return f
	} else {
		return rel
	}
}

func (ob *outbox) handler() {
	defer close(ob.closeAck)

	for {
		select {
		case <-ob.closeSyn:
			return

		case e, ok := <-ob.watcher.Events:
			if !ok {
				log.Error("fsnotify's Event channel was closed")
				return
			}

			if e.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				log.WithFields(log.Fields{
					"file":      e.Name,
					"operation": e.Op.String(),
				}).Debug("Ignoring fsnotify event")
				continue
			}

			if _, known := ob.knownFiles.LoadOrStore(ob.cleanFilepath(e.Name), struct{}{}); known {
				log.WithField("file", e.Name).Debug("Skipping file; already known")
				continue
			}

			ob.offers.Add(1)
			go ob.offerNewFile(e.Name)

		case err, ok := <-ob.watcher.Errors:
			if !ok {
				log.Error("fsnotify's Errors channel was closed")
				return
			}

			log.WithError(err).Error("fsnotify errored")
			return
		}
	}
}

// offerNewFile offers a file after it was settled, retrying with an exponential backoff.
func (ob *outbox) offerNewFile(name string) {
	defer ob.offers.Done()

	logger := log.WithFields(log.Fields{
		"file": name,
		"peer": ob.peer,
	})

	for i := 0; i < 5; i++ {
		select {
		case <-ob.closeSyn:
			return
		case <-time.After(time.Duration(math.Pow(2, float64(i))) * 100 * time.Millisecond):
		}

		if fi, err := os.Stat(name); err != nil {
			logger.WithError(err).Warn("Inspecting file errored, retrying..")
		} else if !fi.Mode().IsRegular() {
			logger.Debug("Ignoring non-regular file")
			return
		} else if d, err := filetransfer.NewFileOffer(name, ob.opts); err != nil {
			logger.WithError(err).Warn("Creating file offer errored, retrying..")
		} else if s, err := ob.initiator.Initiate(ob.peer, []jingle.ContentProposal{{
			Name:        filepath.Base(name),
			Senders:     jingle.SendersInitiator,
			Description: d,
		}}); err != nil {
			logger.WithError(err).Error("Offering file errored")
			return
		} else {
			logger.WithField("session", s.ID()).Info("Offered file")
			return
		}
	}

	logger.Error("Failed to offer file, giving up.")
}

// Close stops watching the directory and waits for pending offers.
func (ob *outbox) Close() error {
	close(ob.closeSyn)
	<-ob.closeAck
	ob.offers.Wait()
	return ob.watcher.Close()
}
