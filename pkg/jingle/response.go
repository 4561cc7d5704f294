// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package jingle

import "fmt"

// Condition is a stanza error condition.
type Condition string

const (
	ConditionBadRequest            Condition = "bad-request"
	ConditionItemNotFound          Condition = "item-not-found"
	ConditionUnexpectedRequest     Condition = "unexpected-request"
	ConditionFeatureNotImplemented Condition = "feature-not-implemented"
	ConditionConflict              Condition = "conflict"
)

// JingleCondition is a Jingle specific error condition, accompanying a Condition.
type JingleCondition string

const (
	NoJingleCondition      JingleCondition = ""
	JingleOutOfOrder       JingleCondition = "out-of-order"
	JingleUnknownSession   JingleCondition = "unknown-session"
	JingleUnsupportedInfo  JingleCondition = "unsupported-info"
	JingleTieBreak         JingleCondition = "tie-break"
	JingleSecurityRequired JingleCondition = "security-required"
)

// ProtocolError is an error response's payload.
type ProtocolError struct {
	Condition       Condition
	JingleCondition JingleCondition
	Text            string
}

func (pe *ProtocolError) Error() string {
	if pe.JingleCondition != NoJingleCondition {
		return fmt.Sprintf("%s/%s: %s", pe.Condition, pe.JingleCondition, pe.Text)
	}
	return fmt.Sprintf("%s: %s", pe.Condition, pe.Text)
}

func errOutOfOrder(format string, a ...interface{}) *ProtocolError {
	return &ProtocolError{ConditionUnexpectedRequest, JingleOutOfOrder, fmt.Sprintf(format, a...)}
}

func errUnknownSession(format string, a ...interface{}) *ProtocolError {
	return &ProtocolError{ConditionItemNotFound, JingleUnknownSession, fmt.Sprintf(format, a...)}
}

func errUnsupportedInfo(format string, a ...interface{}) *ProtocolError {
	return &ProtocolError{ConditionFeatureNotImplemented, JingleUnsupportedInfo, fmt.Sprintf(format, a...)}
}

func errBadRequest(format string, a ...interface{}) *ProtocolError {
	return &ProtocolError{ConditionBadRequest, NoJingleCondition, fmt.Sprintf(format, a...)}
}

func errItemNotFound(format string, a ...interface{}) *ProtocolError {
	return &ProtocolError{ConditionItemNotFound, NoJingleCondition, fmt.Sprintf(format, a...)}
}

// Response is produced for every inbound Request. It is either an acknowledgment or an error. Follow-up Requests
// are further outbound Requests caused by the inbound one, e.g., one transport-accept per content; each of them has
// to be sent on its own.
type Response struct {
	// Request is the inbound Request this Response answers.
	Request Request

	// Error is nil for an acknowledgment.
	Error *ProtocolError

	FollowUps []Request
}

// IsAck reports a positive acknowledgment.
func (resp Response) IsAck() bool {
	return resp.Error == nil
}

func (resp Response) String() string {
	if resp.Error != nil {
		return fmt.Sprintf("error to %v: %v", resp.Request, resp.Error)
	}
	return fmt.Sprintf("ack to %v, %d follow-ups", resp.Request, len(resp.FollowUps))
}

func ack(req Request, followUps ...Request) Response {
	return Response{Request: req, FollowUps: followUps}
}

func fail(req Request, err *ProtocolError) Response {
	return Response{Request: req, Error: err}
}
