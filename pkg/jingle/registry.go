// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package jingle

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

// DescriptionAdapter converts between a description Payload and a Description.
type DescriptionAdapter interface {
	DescriptionFromWire(p Payload) (Description, error)
	DescriptionToWire(d Description) (Payload, error)
}

// TransportAdapter converts between a transport Payload and a Transport.
type TransportAdapter interface {
	TransportFromWire(p Payload) (Transport, error)
	TransportToWire(t Transport) (Payload, error)
}

// SecurityAdapter converts between a security Payload and a Security.
type SecurityAdapter interface {
	SecurityFromWire(p Payload) (Security, error)
	SecurityToWire(s Security) (Payload, error)
}

// Registry maps namespaces to their adapters. One Registry is created for each connection and handed to its Manager;
// there are no process-wide registries.
type Registry struct {
	mutex sync.RWMutex

	descriptions map[string]DescriptionAdapter
	transports   map[string]TransportAdapter
	securities   map[string]SecurityAdapter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		descriptions: make(map[string]DescriptionAdapter),
		transports:   make(map[string]TransportAdapter),
		securities:   make(map[string]SecurityAdapter),
	}
}

// RegisterDescriptionAdapter for a namespace, replacing a previous one.
func (r *Registry) RegisterDescriptionAdapter(namespace string, a DescriptionAdapter) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	log.WithField("namespace", namespace).Debug("Registering description adapter")
	r.descriptions[namespace] = a
}

// RegisterTransportAdapter for a namespace, replacing a previous one.
func (r *Registry) RegisterTransportAdapter(namespace string, a TransportAdapter) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	log.WithField("namespace", namespace).Debug("Registering transport adapter")
	r.transports[namespace] = a
}

// RegisterSecurityAdapter for a namespace, replacing a previous one.
func (r *Registry) RegisterSecurityAdapter(namespace string, a SecurityAdapter) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	log.WithField("namespace", namespace).Debug("Registering security adapter")
	r.securities[namespace] = a
}

func (r *Registry) descriptionAdapter(namespace string) (DescriptionAdapter, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	a, ok := r.descriptions[namespace]
	return a, ok
}

func (r *Registry) transportAdapter(namespace string) (TransportAdapter, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	a, ok := r.transports[namespace]
	return a, ok
}

func (r *Registry) securityAdapter(namespace string) (SecurityAdapter, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	a, ok := r.securities[namespace]
	return a, ok
}

// HasTransport reports whether a transport adapter for this namespace is known.
func (r *Registry) HasTransport(namespace string) bool {
	_, ok := r.transportAdapter(namespace)
	return ok
}

// Description creates a Description from its Payload.
func (r *Registry) Description(p Payload) (Description, error) {
	a, ok := r.descriptionAdapter(p.Namespace)
	if !ok {
		return nil, fmt.Errorf("description %q: %w", p.Namespace, ErrNoAdapter)
	}
	return a.DescriptionFromWire(p)
}

// Transport creates a Transport from its Payload.
func (r *Registry) Transport(p Payload) (Transport, error) {
	a, ok := r.transportAdapter(p.Namespace)
	if !ok {
		return nil, fmt.Errorf("transport %q: %w", p.Namespace, ErrNoAdapter)
	}
	return a.TransportFromWire(p)
}

// Security creates a Security from its Payload.
func (r *Registry) Security(p Payload) (Security, error) {
	a, ok := r.securityAdapter(p.Namespace)
	if !ok {
		return nil, fmt.Errorf("security %q: %w", p.Namespace, ErrNoAdapter)
	}
	return a.SecurityFromWire(p)
}

// DescriptionPayload serializes a Description.
func (r *Registry) DescriptionPayload(d Description) (Payload, error) {
	a, ok := r.descriptionAdapter(d.Namespace())
	if !ok {
		return Payload{}, fmt.Errorf("description %q: %w", d.Namespace(), ErrNoAdapter)
	}
	return a.DescriptionToWire(d)
}

// TransportPayload serializes a Transport.
func (r *Registry) TransportPayload(t Transport) (Payload, error) {
	a, ok := r.transportAdapter(t.Namespace())
	if !ok {
		return Payload{}, fmt.Errorf("transport %q: %w", t.Namespace(), ErrNoAdapter)
	}
	return a.TransportToWire(t)
}

// SecurityPayload serializes a Security.
func (r *Registry) SecurityPayload(s Security) (Payload, error) {
	a, ok := r.securityAdapter(s.Namespace())
	if !ok {
		return Payload{}, fmt.Errorf("security %q: %w", s.Namespace(), ErrNoAdapter)
	}
	return a.SecurityToWire(s)
}
