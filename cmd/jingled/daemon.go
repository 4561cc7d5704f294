// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-multierror"

	"github.com/jingle-go/jingle-go/pkg/api"
	"github.com/jingle-go/jingle-go/pkg/filetransfer"
	"github.com/jingle-go/jingle-go/pkg/jingle"
	"github.com/jingle-go/jingle-go/pkg/storage"
	"github.com/jingle-go/jingle-go/pkg/substrate"
	"github.com/jingle-go/jingle-go/pkg/substrate/ws"
	"github.com/jingle-go/jingle-go/pkg/transport/loopback"
	"github.com/jingle-go/jingle-go/pkg/transport/quicbs"
)

const selfTestPeer jingle.Address = "self-test@jingle-go.localhost/loopback"

// daemon bundles all components started from a configuration.
type daemon struct {
	manager *jingle.Manager
	store   *storage.Store
	outbox  *outbox

	// closers are closed in reverse order after the Manager.
	closers []io.Closer
}

// components of one Manager, used for both the daemon's and the self-test peer's Manager.
type components struct {
	adapters *jingle.Registry
	tms      *jingle.TransportManagers
	dms      *jingle.DescriptionManagers
	policy   *filetransfer.Policy
}

func newComponents(conf tomlConfig, incoming string) *components {
	c := &components{
		adapters: jingle.NewRegistry(),
		tms:      jingle.NewTransportManagers(),
		dms:      jingle.NewDescriptionManagers(),
		policy:   &filetransfer.Policy{MaxSize: conf.Files.MaxSize},
	}

	ft := &filetransfer.Adapter{
		IncomingDir: incoming,
		OnReceived: func(offer filetransfer.Offer, path string) {
			log.WithFields(log.Fields{
				"file": path,
				"size": offer.Size,
			}).Info("Received file")
		},
	}
	ft.Register(c.adapters)
	c.dms.Register(c.policy)

	return c
}

// registerTransport creates a configured transport method. The exchange is shared by all loopback methods.
func (d *daemon) registerTransport(tc transportConf, c *components, exchange *loopback.Exchange) error {
	switch tc.Protocol {
	case "quic":
		m, err := quicbs.NewMethod(quicbs.Options{
			ListenAddress: tc.Listen,
			Advertise:     tc.Advertise,
			Priority:      tc.Priority,
		})
		if err != nil {
			return err
		}
		d.closers = append(d.closers, m)
		m.Register(c.tms, c.adapters)

		log.WithFields(log.Fields{
			"address":  m.Addr(),
			"priority": tc.Priority,
		}).Info("Started QUIC transport method")

	case "loopback":
		loopback.NewMethod(exchange, loopback.Options{Priority: tc.Priority}).Register(c.tms, c.adapters)
		log.WithField("priority", tc.Priority).Info("Registered loopback transport method")

	default:
		return fmt.Errorf("unknown transport.protocol %q", tc.Protocol)
	}
	return nil
}

// newDaemon starts all configured components.
func newDaemon(conf tomlConfig) (d *daemon, err error) {
	d = &daemon{}
	defer func() {
		if err != nil {
			_ = d.Close()
			d = nil
		}
	}()

	if err = os.MkdirAll(conf.Files.Incoming, 0700); err != nil {
		return
	}

	exchange := loopback.NewExchange()
	c := newComponents(conf, conf.Files.Incoming)
	for _, tc := range conf.Transport {
		if err = d.registerTransport(tc, c, exchange); err != nil {
			return
		}
	}

	managerConf := jingle.ManagerConfig{
		Local:        jingle.Address(conf.Core.Jid),
		Adapters:     c.adapters,
		Transports:   c.tms,
		Descriptions: c.dms,
		OnIncoming:   c.policy.DecideSession,
	}

	if conf.Core.Journal != "" {
		if d.store, err = storage.NewStore(conf.Core.Journal); err != nil {
			return
		}
		d.closers = append(d.closers, d.store)
		managerConf.Journal = d.store

		var retention time.Duration
		if retention, err = conf.Core.retention(); err != nil {
			return
		} else if retention > 0 {
			d.closers = append(d.closers, newJanitor(d.store, retention, retentionInterval(retention)))
		}
	}

	var start func(*jingle.Manager) error
	if managerConf.Sender, start, err = d.substrate(conf, exchange); err != nil {
		return
	}

	if d.manager, err = jingle.NewManager(managerConf); err != nil {
		return
	}
	if err = start(d.manager); err != nil {
		return
	}

	if conf.Rest.Listen != "" {
		router := mux.NewRouter()
		api.NewRestAPI(router.PathPrefix("/rest").Subrouter(), d.manager, api.Options{
			Journal: d.journal(),
			Offer:   conf.Files.offerOptions(),
		})
		d.serveHTTP(conf.Rest.Listen, router)
	}

	if conf.Files.Outbox != "" {
		if d.outbox, err = newOutbox(conf.Files.Outbox, jingle.Address(conf.Files.OutboxPeer), d.manager, conf.Files.offerOptions()); err != nil {
			return
		}
	}

	return
}

// journal as an api.Journal, nil without a Store.
func (d *daemon) journal() api.Journal {
	if d.store == nil {
		return nil
	}
	return d.store
}

// substrate creates the configured messaging substrate as the Manager's Sender. The returned function binds the
// created Manager to the substrate.
func (d *daemon) substrate(conf tomlConfig, exchange *loopback.Exchange) (jingle.Sender, func(*jingle.Manager) error, error) {
	switch {
	case conf.Core.SelfTest:
		a, b := substrate.NewLoopback()
		d.closers = append(d.closers, a, b)

		incoming := filepath.Join(conf.Files.Incoming, "self-test")
		if err := os.MkdirAll(incoming, 0700); err != nil {
			return nil, nil, err
		}

		peer := newComponents(conf, incoming)
		for _, tc := range conf.Transport {
			if tc.Protocol != "loopback" {
				continue
			}
			loopback.NewMethod(exchange, loopback.Options{Priority: tc.Priority}).Register(peer.tms, peer.adapters)
		}

		peerManager, err := jingle.NewManager(jingle.ManagerConfig{
			Local:        selfTestPeer,
			Sender:       b,
			Adapters:     peer.adapters,
			Transports:   peer.tms,
			Descriptions: peer.dms,
			OnIncoming:   peer.policy.DecideSession,
		})
		if err != nil {
			return nil, nil, err
		}
		b.Bind(peerManager)

		log.WithField("peer", selfTestPeer).Info("Started self-test peer")
		return a, func(m *jingle.Manager) error { a.Bind(m); return nil }, nil

	case conf.Websocket.Listen != "":
		server := ws.NewServer()
		d.closers = append(d.closers, server)

		router := mux.NewRouter()
		router.Handle("/jingle", server)
		return server, func(m *jingle.Manager) error {
			server.Bind(m)
			d.serveHTTP(conf.Websocket.Listen, router)
			return nil
		}, nil

	default:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		conn, err := ws.Dial(ctx, conf.Websocket.Dial)
		if err != nil {
			return nil, nil, err
		}
		d.closers = append(d.closers, conn)

		log.WithField("url", conf.Websocket.Dial).Info("Connected to WebSocket substrate")
		return conn, func(m *jingle.Manager) error { conn.Start(m); return nil }, nil
	}
}

// serveHTTP starts a HTTP server in the background.
func (d *daemon) serveHTTP(addr string, handler http.Handler) {
	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}
	d.closers = append(d.closers, httpServer)

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).WithField("address", addr).Error("HTTP server errored")
		}
	}()

	log.WithField("address", addr).Info("Started HTTP server")
}

// Close stops the outbox, terminates all sessions and closes every other component.
func (d *daemon) Close() (errs error) {
	if d.outbox != nil {
		if err := d.outbox.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	if d.manager != nil {
		if err := d.manager.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i].Close(); err != nil && err != substrate.ErrClosed {
			errs = multierror.Append(errs, err)
		}
	}
	return
}
