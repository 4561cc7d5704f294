// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package jingle

import (
	"context"
	"testing"
)

func TestTransportManagersBest(t *testing.T) {
	ex := newMockExchange()
	tms := NewTransportManagers()

	if _, ok := tms.Best(nil); ok {
		t.Fatal("Empty registry returned a manager")
	}

	for ns, prio := range map[string]int{"a": 5, "b": 10, "c": 10, "d": 1} {
		tms.Register(newMockMethod(ns, prio, ex))
	}

	tests := []struct {
		excluding []string
		best      string
	}{
		{nil, "b"},
		{[]string{"b"}, "c"},
		{[]string{"b", "c"}, "a"},
		{[]string{"a", "b", "c"}, "d"},
		{[]string{"a", "b", "c", "d"}, ""},
	}

	for _, test := range tests {
		excluding := make(map[string]struct{})
		for _, ns := range test.excluding {
			excluding[ns] = struct{}{}
		}

		tm, ok := tms.Best(excluding)
		switch {
		case test.best == "" && ok:
			t.Fatalf("Excluding %v returned %s", test.excluding, tm.Namespace())
		case test.best != "" && (!ok || tm.Namespace() != test.best):
			t.Fatalf("Excluding %v did not return %s", test.excluding, test.best)
		}
	}

	tms.Unregister("b")
	if _, ok := tms.Get("b"); ok {
		t.Fatal("Unregistered manager is still known")
	}
}

func TestContentBlacklistGrows(t *testing.T) {
	c := newContent("file", Initiator, SendersBoth, "")

	var seen []string
	for _, ns := range []string{"z", "a", "z", "m"} {
		c.addToBlacklist(ns)
		if !c.IsBlacklisted(ns) {
			t.Fatalf("%s is not blacklisted", ns)
		}
		for _, old := range seen {
			if !c.IsBlacklisted(old) {
				t.Fatalf("%s vanished from the blacklist", old)
			}
		}
		seen = append(seen, ns)
	}

	if bl := c.Blacklist(); len(bl) != 3 || bl[0] != "a" || bl[2] != "z" {
		t.Fatalf("Blacklist is %v", bl)
	}

	if !c.setState(ContentTransmissionSuccessful) || c.setState(ContentPendingAccept) {
		t.Fatal("Terminal content state was left")
	}
}

func TestContentAttemptContexts(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newContent("file", Initiator, SendersInitiator, "")

	first, firstCtx := c.nextAttempt(parent)
	second, secondCtx := c.nextAttempt(parent)

	if first == second || c.isAttempt(first) || !c.isAttempt(second) {
		t.Fatalf("Attempts %d and %d were not distinguished", first, second)
	}
	if firstCtx.Err() == nil {
		t.Fatal("Outdated attempt's context is still alive")
	}
	if secondCtx.Err() != nil {
		t.Fatal("Current attempt's context was cancelled")
	}

	c.abortAttempt()
	if secondCtx.Err() == nil || c.isAttempt(second) {
		t.Fatal("Aborted attempt is still alive")
	}

	third, thirdCtx := c.nextAttempt(parent)
	c.finishAttempt()
	if thirdCtx.Err() == nil || !c.isAttempt(third) {
		t.Fatal("Finished attempt was not released or got outdated")
	}

	_, fourthCtx := c.nextAttempt(parent)
	cancel()
	if fourthCtx.Err() == nil {
		t.Fatal("Attempt outlived its session")
	}
}
