// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package jingle

import (
	"context"
	"sort"
	"sync"
)

// Content is one negotiable unit of a Session: an application Description, a Transport and an optional Security.
// A Content is owned by its Session and refers back to it only by its SessionID.
type Content struct {
	mutex sync.RWMutex

	name        string
	creator     Role
	senders     Senders
	disposition string

	session SessionID

	description Description
	transport   Transport
	security    Security

	// blacklist contains every transport namespace which failed for this Content. It only grows.
	blacklist map[string]struct{}

	state ContentState

	// attempt counts bytestream establishments to identify outdated results.
	attempt uint64
	// attemptCancel cancels the context of the current attempt.
	attemptCancel context.CancelFunc
}

func newContent(name string, creator Role, senders Senders, disposition string) *Content {
	return &Content{
		name:        name,
		creator:     creator,
		senders:     senders,
		disposition: disposition,
		blacklist:   make(map[string]struct{}),
		state:       ContentPendingAccept,
	}
}

func (c *Content) Name() string {
	return c.name
}

func (c *Content) Creator() Role {
	return c.creator
}

func (c *Content) Senders() Senders {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.senders
}

func (c *Content) setSenders(s Senders) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.senders = s
}

// Disposition is a free-form tag, not used for the negotiation.
func (c *Content) Disposition() string {
	return c.disposition
}

// Ref is this Content's identifier, used as the components' back-reference.
func (c *Content) Ref() ContentRef {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return ContentRef{Session: c.session, Name: c.name}
}

func (c *Content) bind(session SessionID) {
	c.mutex.Lock()
	c.session = session
	ref := ContentRef{Session: session, Name: c.name}
	t, s := c.transport, c.security
	c.mutex.Unlock()

	if t != nil {
		t.Bind(ref)
	}
	if s != nil {
		s.Bind(ref)
	}
}

func (c *Content) Description() Description {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.description
}

func (c *Content) setDescription(d Description) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.description = d
}

func (c *Content) Transport() Transport {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.transport
}

// SetTransport installs a Transport and re-parents it to this Content. Setting nil or the current Transport is a
// no-op, reported by false.
func (c *Content) SetTransport(t Transport) bool {
	c.mutex.Lock()
	if t == nil || t == c.transport {
		c.mutex.Unlock()
		return false
	}
	c.transport = t
	ref := ContentRef{Session: c.session, Name: c.name}
	c.mutex.Unlock()

	t.Bind(ref)
	return true
}

func (c *Content) Security() Security {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.security
}

// SetSecurity installs a Security, analogous to SetTransport.
func (c *Content) SetSecurity(s Security) bool {
	c.mutex.Lock()
	if s == nil || s == c.security {
		c.mutex.Unlock()
		return false
	}
	c.security = s
	ref := ContentRef{Session: c.session, Name: c.name}
	c.mutex.Unlock()

	s.Bind(ref)
	return true
}

// Blacklist returns the sorted transport namespaces this Content must not propose again.
func (c *Content) Blacklist() []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	bl := make([]string, 0, len(c.blacklist))
	for ns := range c.blacklist {
		bl = append(bl, ns)
	}
	sort.Strings(bl)
	return bl
}

// IsBlacklisted reports whether a transport namespace has failed for this Content.
func (c *Content) IsBlacklisted(namespace string) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	_, ok := c.blacklist[namespace]
	return ok
}

func (c *Content) addToBlacklist(namespace string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.blacklist[namespace] = struct{}{}
}

// blacklistSet returns a copy of the blacklist, to be used as an exclusion set.
func (c *Content) blacklistSet() map[string]struct{} {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	set := make(map[string]struct{}, len(c.blacklist))
	for ns := range c.blacklist {
		set[ns] = struct{}{}
	}
	return set
}

func (c *Content) State() ContentState {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.state
}

// setState changes the state unless it is already terminal. It returns whether the state was changed.
func (c *Content) setState(s ContentState) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.state.Terminal() {
		return false
	}
	c.state = s
	return true
}

// nextAttempt starts a new bytestream establishment and returns its number and context. The previous attempt's
// context is cancelled.
func (c *Content) nextAttempt(parent context.Context) (uint64, context.Context) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.attemptCancel != nil {
		c.attemptCancel()
	}

	ctx, cancel := context.WithCancel(parent)
	c.attemptCancel = cancel
	c.attempt++
	return c.attempt, ctx
}

// abortAttempt cancels and outdates the current attempt.
func (c *Content) abortAttempt() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.attemptCancel != nil {
		c.attemptCancel()
		c.attemptCancel = nil
	}
	c.attempt++
}

// finishAttempt releases the current attempt's context after its transmission ended.
func (c *Content) finishAttempt() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.attemptCancel != nil {
		c.attemptCancel()
		c.attemptCancel = nil
	}
}

func (c *Content) isAttempt(attempt uint64) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.attempt == attempt
}

// IsSending reports whether the party in the given Role sends data over this Content.
func (c *Content) IsSending(role Role) bool {
	return c.Senders().Includes(role)
}

// IsReceiving reports whether the party in the given Role receives data over this Content.
func (c *Content) IsReceiving(role Role) bool {
	return c.Senders().Includes(role.Opposite())
}
