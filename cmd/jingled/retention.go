// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// pruner removes outdated journal entries, e.g., a storage.Store.
type pruner interface {
	DeleteTerminatedBefore(t time.Time)
}

// janitor prunes terminated sessions older than the retention from the journal in an interval.
type janitor struct {
	journal   pruner
	retention time.Duration

	stopSyn chan struct{}
	stopAck chan struct{}
}

// retentionInterval between two prunes for a retention period, between a minute and an hour.
func retentionInterval(retention time.Duration) time.Duration {
	interval := retention / 10
	if interval < time.Minute {
		return time.Minute
	} else if interval > time.Hour {
		return time.Hour
	}
	return interval
}

// newJanitor prunes the journal once and then in each interval.
func newJanitor(journal pruner, retention, interval time.Duration) *janitor {
	j := &janitor{
		journal:   journal,
		retention: retention,
		stopSyn:   make(chan struct{}),
		stopAck:   make(chan struct{}),
	}

	log.WithFields(log.Fields{
		"retention": retention,
		"interval":  interval,
	}).Info("Started journal janitor")

	go j.loop(interval)
	return j
}

func (j *janitor) loop(interval time.Duration) {
	defer close(j.stopAck)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.prune(time.Now())

	for {
		select {
		case <-j.stopSyn:
			return

		case t := <-ticker.C:
			j.prune(t)
		}
	}
}

func (j *janitor) prune(now time.Time) {
	log.WithField("before", now.Add(-j.retention)).Debug("Pruning journal")
	j.journal.DeleteTerminatedBefore(now.Add(-j.retention))
}

// Close stops this janitor. It is only allowed to be called once.
func (j *janitor) Close() error {
	close(j.stopSyn)
	<-j.stopAck
	return nil
}
