// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package jingle

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/dtn7/cboring"
)

// Candidate is one proposed endpoint of a transport method. Higher priorities are preferred.
type Candidate struct {
	ID       string
	Type     string
	Host     string
	Port     int
	Priority int

	// Content is the non-owning back-reference to the Content whose Transport holds this Candidate.
	Content ContentRef
}

// Address of this Candidate in a "host:port" form.
func (c *Candidate) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Equal compares two Candidates by value, ignoring their back-reference.
func (c *Candidate) Equal(o *Candidate) bool {
	if c == o {
		return true
	}
	if c == nil || o == nil {
		return false
	}
	return c.ID == o.ID && c.Type == o.Type && c.Host == o.Host && c.Port == o.Port && c.Priority == o.Priority
}

func (c *Candidate) String() string {
	return fmt.Sprintf("%s(%s %s, prio %d)", c.ID, c.Type, c.Address(), c.Priority)
}

func (c *Candidate) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(5, w); err != nil {
		return err
	}

	for _, s := range []string{c.ID, c.Type, c.Host} {
		if err := cboring.WriteTextString(s, w); err != nil {
			return err
		}
	}

	if err := cboring.WriteUInt(uint64(c.Port), w); err != nil {
		return err
	}
	return cboring.WriteUInt(uint64(c.Priority), w)
}

func (c *Candidate) UnmarshalCbor(r io.Reader) error {
	if n, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if n != 5 {
		return fmt.Errorf("candidate: expected array of five elements, got %d", n)
	}

	for _, s := range []*string{&c.ID, &c.Type, &c.Host} {
		if v, err := cboring.ReadTextString(r); err != nil {
			return err
		} else {
			*s = v
		}
	}

	if port, err := cboring.ReadUInt(r); err != nil {
		return err
	} else if port > 65535 {
		return fmt.Errorf("candidate: port %d is out of range", port)
	} else {
		c.Port = int(port)
	}

	if prio, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		c.Priority = int(prio)
	}

	return nil
}

// CandidateList is a sequence of Candidates, kept in non-increasing priority order.
type CandidateList struct {
	mutex sync.RWMutex
	items []*Candidate
}

// Add inserts a Candidate at its position. Candidates of equal priority keep their insertion order. An already known
// Candidate, by identity or by value, is not inserted again and false is returned.
//
// As an equal Candidate has an equal priority, it must precede the insertion point; the scan stops there.
func (cl *CandidateList) Add(c *Candidate) bool {
	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	pos := len(cl.items)
	for i, item := range cl.items {
		if item.Equal(c) {
			return false
		}

		if c.Priority > item.Priority {
			pos = i
			break
		}
	}

	cl.items = append(cl.items, nil)
	copy(cl.items[pos+1:], cl.items[pos:])
	cl.items[pos] = c
	return true
}

// Items returns a copy of the ordered Candidates.
func (cl *CandidateList) Items() []*Candidate {
	cl.mutex.RLock()
	defer cl.mutex.RUnlock()

	items := make([]*Candidate, len(cl.items))
	copy(items, cl.items)
	return items
}

// Len of this CandidateList.
func (cl *CandidateList) Len() int {
	cl.mutex.RLock()
	defer cl.mutex.RUnlock()

	return len(cl.items)
}

// MarshalCandidates writes Candidates as a CBOR array.
func MarshalCandidates(cs []*Candidate, w io.Writer) error {
	if err := cboring.WriteArrayLength(uint64(len(cs)), w); err != nil {
		return err
	}
	for _, c := range cs {
		if err := cboring.Marshal(c, w); err != nil {
			return err
		}
	}
	return nil
}

// UnmarshalCandidates reads a CBOR array of Candidates.
func UnmarshalCandidates(r io.Reader) (cs []*Candidate, err error) {
	n, err := cboring.ReadArrayLength(r)
	if err != nil {
		return nil, err
	}

	for i := uint64(0); i < n; i++ {
		c := new(Candidate)
		if err = cboring.Unmarshal(c, r); err != nil {
			return nil, err
		}
		cs = append(cs, c)
	}
	return
}
