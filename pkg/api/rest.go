// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package api provides a RESTful interface to inspect and control the Jingle sessions of a Manager.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/gorilla/mux"

	"github.com/jingle-go/jingle-go/pkg/filetransfer"
	"github.com/jingle-go/jingle-go/pkg/jingle"
	"github.com/jingle-go/jingle-go/pkg/storage"
)

// Journal queries and deletes recorded sessions, e.g., a storage.Store.
type Journal interface {
	List() ([]storage.SessionItem, error)
	QueryState(state jingle.SessionState) ([]storage.SessionItem, error)
	QueryPeer(peer jingle.Address) ([]storage.SessionItem, error)

	Knows(peer jingle.Address, sid string) bool
	Delete(peer jingle.Address, sid string) error
}

// Options of a RestAPI.
type Options struct {
	// Journal for /journal; might be nil.
	Journal Journal

	// Offer configures files offered by /offer.
	Offer filetransfer.OfferOptions
}

// RestAPI serves the sessions of a Manager.
type RestAPI struct {
	router  *mux.Router
	manager *jingle.Manager
	opts    Options
}

// NewRestAPI registers its handlers at the router.
func NewRestAPI(router *mux.Router, manager *jingle.Manager, opts Options) (ra *RestAPI) {
	ra = &RestAPI{
		router:  router,
		manager: manager,
		opts:    opts,
	}

	ra.router.HandleFunc("/sessions", ra.handleSessions).Methods(http.MethodGet)
	ra.router.HandleFunc("/sessions/{sid}", ra.handleSession).Queries("peer", "{peer}").Methods(http.MethodGet)
	ra.router.HandleFunc("/sessions/{sid}/terminate", ra.handleTerminate).Queries("peer", "{peer}").Methods(http.MethodPost)
	ra.router.HandleFunc("/journal", ra.handleJournal).Methods(http.MethodGet)
	ra.router.HandleFunc("/journal/{sid}", ra.handleJournalDelete).Queries("peer", "{peer}").Methods(http.MethodDelete)
	ra.router.HandleFunc("/offer", ra.handleOffer).Methods(http.MethodPost)

	return ra
}

// ServeHTTP is a http.Handler to be bound to a HTTP endpoint, e.g., /rest.
func (ra *RestAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ra.router.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("Failed to write REST response")
	}
}

func (ra *RestAPI) session(r *http.Request) (*jingle.Session, error) {
	vars := mux.Vars(r)
	if s, ok := ra.manager.Session(jingle.Address(vars["peer"]), vars["sid"]); !ok {
		return nil, fmt.Errorf("no session %s with %s", vars["sid"], vars["peer"])
	} else {
		return s, nil
	}
}

// handleSessions processes /sessions GET requests.
func (ra *RestAPI) handleSessions(w http.ResponseWriter, _ *http.Request) {
	resp := SessionsResponse{Sessions: []storage.SessionItem{}}
	for _, s := range ra.manager.Sessions() {
		resp.Sessions = append(resp.Sessions, storage.NewSessionItem(s.Snapshot()))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSession processes /sessions/{sid}?peer={peer} GET requests.
func (ra *RestAPI) handleSession(w http.ResponseWriter, r *http.Request) {
	s, err := ra.session(r)
	if err != nil {
		writeJSON(w, http.StatusNotFound, SessionResponse{Error: err.Error()})
		return
	}

	si := storage.NewSessionItem(s.Snapshot())
	writeJSON(w, http.StatusOK, SessionResponse{Session: &si})
}

// handleTerminate processes /sessions/{sid}/terminate?peer={peer} POST requests.
func (ra *RestAPI) handleTerminate(w http.ResponseWriter, r *http.Request) {
	var req TerminateRequest

	s, err := ra.session(r)
	if err != nil {
		writeJSON(w, http.StatusNotFound, TerminateResponse{Error: err.Error()})
		return
	}

	if jsonErr := json.NewDecoder(r.Body).Decode(&req); jsonErr != nil {
		writeJSON(w, http.StatusBadRequest, TerminateResponse{Error: jsonErr.Error()})
		return
	}

	reason := jingle.ReasonSuccess
	if req.Reason != "" {
		if reason, err = jingle.ParseReason(req.Reason); err != nil {
			writeJSON(w, http.StatusBadRequest, TerminateResponse{Error: err.Error()})
			return
		}
	}

	log.WithFields(log.Fields{
		"session": s.ID(),
		"reason":  reason,
	}).Info("Terminating session by REST request")

	if err := s.Terminate(reason); err != nil {
		writeJSON(w, http.StatusConflict, TerminateResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, TerminateResponse{})
}

// handleJournal processes /journal GET requests, optionally filtered by the state and peer query parameters.
func (ra *RestAPI) handleJournal(w http.ResponseWriter, r *http.Request) {
	if ra.opts.Journal == nil {
		writeJSON(w, http.StatusNotFound, SessionsResponse{Error: "no journal is configured"})
		return
	}

	var (
		sis []storage.SessionItem
		err error

		stateName = r.URL.Query().Get("state")
		peer      = jingle.Address(r.URL.Query().Get("peer"))
	)

	switch {
	case stateName != "":
		state, parseErr := jingle.ParseSessionState(stateName)
		if parseErr != nil {
			writeJSON(w, http.StatusBadRequest, SessionsResponse{Error: parseErr.Error()})
			return
		}
		sis, err = ra.opts.Journal.QueryState(state)

	case peer != "":
		sis, err = ra.opts.Journal.QueryPeer(peer)

	default:
		sis, err = ra.opts.Journal.List()
	}

	if err != nil {
		writeJSON(w, http.StatusInternalServerError, SessionsResponse{Error: err.Error()})
		return
	}

	filtered := []storage.SessionItem{}
	for _, si := range sis {
		if peer == "" || si.Peer == peer {
			filtered = append(filtered, si)
		}
	}
	writeJSON(w, http.StatusOK, SessionsResponse{Sessions: filtered})
}

// handleJournalDelete processes /journal/{sid}?peer={peer} DELETE requests.
func (ra *RestAPI) handleJournalDelete(w http.ResponseWriter, r *http.Request) {
	if ra.opts.Journal == nil {
		writeJSON(w, http.StatusNotFound, DeleteResponse{Error: "no journal is configured"})
		return
	}

	vars := mux.Vars(r)
	peer, sid := jingle.Address(vars["peer"]), vars["sid"]

	if _, active := ra.manager.Session(peer, sid); active {
		writeJSON(w, http.StatusConflict, DeleteResponse{Error: fmt.Sprintf("session %s with %s is still active", sid, peer)})
		return
	}
	if !ra.opts.Journal.Knows(peer, sid) {
		writeJSON(w, http.StatusNotFound, DeleteResponse{Error: fmt.Sprintf("no journaled session %s with %s", sid, peer)})
		return
	}

	if err := ra.opts.Journal.Delete(peer, sid); err != nil {
		writeJSON(w, http.StatusInternalServerError, DeleteResponse{Error: err.Error()})
		return
	}

	log.WithFields(log.Fields{
		"session": sid,
		"peer":    peer,
	}).Info("Deleted journaled session by REST request")

	writeJSON(w, http.StatusOK, DeleteResponse{})
}

// handleOffer processes /offer POST requests, initiating a file transfer session.
func (ra *RestAPI) handleOffer(w http.ResponseWriter, r *http.Request) {
	var req OfferRequest

	if jsonErr := json.NewDecoder(r.Body).Decode(&req); jsonErr != nil {
		writeJSON(w, http.StatusBadRequest, OfferResponse{Error: jsonErr.Error()})
		return
	}

	d, err := filetransfer.NewFileOffer(req.Path, ra.opts.Offer)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, OfferResponse{Error: err.Error()})
		return
	}

	s, err := ra.manager.Initiate(jingle.Address(req.Peer), []jingle.ContentProposal{{
		Name:        filepath.Base(req.Path),
		Senders:     jingle.SendersInitiator,
		Description: d,
	}})
	if err != nil {
		writeJSON(w, http.StatusBadRequest, OfferResponse{Error: err.Error()})
		return
	}

	log.WithFields(log.Fields{
		"session": s.ID(),
		"file":    req.Path,
	}).Info("Offered file by REST request")

	writeJSON(w, http.StatusOK, OfferResponse{SID: s.ID().SID})
}
