// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// jingled negotiates Jingle file transfer sessions over a WebSocket substrate.
package main

import (
	"os"
	"os/signal"

	log "github.com/sirupsen/logrus"
)

// waitSigint blocks the current thread until a SIGINT appears.
func waitSigint() {
	signalSyn := make(chan os.Signal, 1)
	signalAck := make(chan struct{})

	signal.Notify(signalSyn, os.Interrupt)

	go func() {
		<-signalSyn
		close(signalAck)
	}()

	<-signalAck
}

func main() {
	if len(os.Args) != 2 {
		log.Fatalf("Usage: %s configuration.toml", os.Args[0])
	}

	conf, err := parseConfig(os.Args[1])
	if err != nil {
		log.WithError(err).Fatal("Failed to parse config")
	}

	d, err := newDaemon(conf)
	if err != nil {
		log.WithError(err).Fatal("Failed to start daemon")
	}

	waitSigint()
	log.Info("Shutting down..")

	if err := d.Close(); err != nil {
		log.WithError(err).Warn("Shutting down errored")
	}
}
