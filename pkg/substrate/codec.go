// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package substrate

import (
	"fmt"
	"io"
	"reflect"

	"github.com/dtn7/cboring"

	"github.com/jingle-go/jingle-go/pkg/jingle"
)

// Frame is one message exchanged by a substrate.
type Frame interface {
	// typeCode is an unique identifier for each Frame type.
	typeCode() uint64

	// CborMarshaler must only be implemented for the type's logic. The type code is handled by MarshalFrame and
	// UnmarshalFrame.
	cboring.CborMarshaler
}

const (
	requestFrameCode  uint64 = 0
	responseFrameCode uint64 = 1
)

var frameMapping = map[uint64]reflect.Type{
	requestFrameCode:  reflect.TypeOf(RequestFrame{}),
	responseFrameCode: reflect.TypeOf(ResponseFrame{}),
}

// MarshalFrame writes a Frame wrapped with its type code as CBOR.
func MarshalFrame(f Frame, w io.Writer) error {
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(f.typeCode(), w); err != nil {
		return err
	}
	return cboring.Marshal(f, w)
}

// UnmarshalFrame reads a new Frame based on its type code from CBOR.
func UnmarshalFrame(r io.Reader) (f Frame, err error) {
	if n, arrErr := cboring.ReadArrayLength(r); arrErr != nil {
		err = arrErr
		return
	} else if n != 2 {
		err = fmt.Errorf("expected array of two elements, got %d", n)
		return
	}

	if n, typeErr := cboring.ReadUInt(r); typeErr != nil {
		err = typeErr
		return
	} else if t, ok := frameMapping[n]; !ok {
		err = fmt.Errorf("no known frame type code %d", n)
		return
	} else {
		f = reflect.New(t).Interface().(Frame)
	}

	err = cboring.Unmarshal(f, r)
	return
}

// RequestFrame carries a Jingle Request.
type RequestFrame struct {
	Request jingle.Request
}

func (rf *RequestFrame) typeCode() uint64 {
	return requestFrameCode
}

func (rf *RequestFrame) MarshalCbor(w io.Writer) error {
	req := rf.Request

	if err := cboring.WriteArrayLength(10, w); err != nil {
		return err
	}

	for _, s := range []string{req.ID, req.Action.String(), req.SessionID,
		string(req.Initiator), string(req.Responder), string(req.From), string(req.To)} {
		if err := cboring.WriteTextString(s, w); err != nil {
			return err
		}
	}

	if err := cboring.WriteArrayLength(uint64(len(req.Contents)), w); err != nil {
		return err
	}
	for _, cd := range req.Contents {
		if err := writeContent(cd, w); err != nil {
			return err
		}
	}

	if err := cboring.WriteUInt(uint64(req.Reason), w); err != nil {
		return err
	}

	return writeOptionalPayload(req.Info, w)
}

func (rf *RequestFrame) UnmarshalCbor(r io.Reader) error {
	if n, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if n != 10 {
		return fmt.Errorf("expected request array of ten elements, got %d", n)
	}

	var fields [7]string
	for i := range fields {
		s, err := cboring.ReadTextString(r)
		if err != nil {
			return err
		}
		fields[i] = s
	}

	action, err := jingle.ParseAction(fields[1])
	if err != nil {
		return err
	}

	req := jingle.Request{
		ID:        fields[0],
		Action:    action,
		SessionID: fields[2],
		Initiator: jingle.Address(fields[3]),
		Responder: jingle.Address(fields[4]),
		From:      jingle.Address(fields[5]),
		To:        jingle.Address(fields[6]),
	}

	n, err := cboring.ReadArrayLength(r)
	if err != nil {
		return err
	}
	for i := uint64(0); i < n; i++ {
		cd, err := readContent(r)
		if err != nil {
			return err
		}
		req.Contents = append(req.Contents, cd)
	}

	reason, err := cboring.ReadUInt(r)
	if err != nil {
		return err
	}
	req.Reason = jingle.Reason(reason)

	if req.Info, err = readOptionalPayload(r); err != nil {
		return err
	}

	rf.Request = req
	return nil
}

func writePayload(p jingle.Payload, w io.Writer) error {
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}
	if err := cboring.WriteTextString(p.Namespace, w); err != nil {
		return err
	}
	return cboring.WriteByteString(p.Data, w)
}

func readPayload(r io.Reader) (p jingle.Payload, err error) {
	if n, arrErr := cboring.ReadArrayLength(r); arrErr != nil {
		err = arrErr
		return
	} else if n != 2 {
		err = fmt.Errorf("expected payload array of two elements, got %d", n)
		return
	}
	return readPayloadFields(r)
}

func readPayloadFields(r io.Reader) (p jingle.Payload, err error) {
	if p.Namespace, err = cboring.ReadTextString(r); err != nil {
		return
	}
	if p.Data, err = cboring.ReadByteString(r); err != nil {
		return
	}
	if len(p.Data) == 0 {
		p.Data = nil
	}
	return
}

// writeOptionalPayload writes an absent Payload as an empty array.
func writeOptionalPayload(p *jingle.Payload, w io.Writer) error {
	if p == nil {
		return cboring.WriteArrayLength(0, w)
	}
	return writePayload(*p, w)
}

func readOptionalPayload(r io.Reader) (*jingle.Payload, error) {
	n, err := cboring.ReadArrayLength(r)
	if err != nil {
		return nil, err
	}

	switch n {
	case 0:
		return nil, nil
	case 2:
		p, err := readPayloadFields(r)
		if err != nil {
			return nil, err
		}
		return &p, nil
	default:
		return nil, fmt.Errorf("expected optional payload array of zero or two elements, got %d", n)
	}
}

func writeContent(cd jingle.ContentDescriptor, w io.Writer) error {
	if err := cboring.WriteArrayLength(7, w); err != nil {
		return err
	}

	if err := cboring.WriteTextString(cd.Name, w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(uint64(cd.Creator), w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(uint64(cd.Senders), w); err != nil {
		return err
	}
	if err := cboring.WriteTextString(cd.Disposition, w); err != nil {
		return err
	}
	if err := writePayload(cd.Description, w); err != nil {
		return err
	}
	if err := writePayload(cd.Transport, w); err != nil {
		return err
	}
	return writeOptionalPayload(cd.Security, w)
}

func readContent(r io.Reader) (cd jingle.ContentDescriptor, err error) {
	if n, arrErr := cboring.ReadArrayLength(r); arrErr != nil {
		err = arrErr
		return
	} else if n != 7 {
		err = fmt.Errorf("expected content array of seven elements, got %d", n)
		return
	}

	if cd.Name, err = cboring.ReadTextString(r); err != nil {
		return
	}

	if creator, uErr := cboring.ReadUInt(r); uErr != nil {
		err = uErr
		return
	} else {
		cd.Creator = jingle.Role(creator)
	}

	if senders, uErr := cboring.ReadUInt(r); uErr != nil {
		err = uErr
		return
	} else {
		cd.Senders = jingle.Senders(senders)
	}

	if cd.Disposition, err = cboring.ReadTextString(r); err != nil {
		return
	}
	if cd.Description, err = readPayload(r); err != nil {
		return
	}
	if cd.Transport, err = readPayload(r); err != nil {
		return
	}
	cd.Security, err = readOptionalPayload(r)
	return
}

// ResponseFrame answers a RequestFrame by the Request's ID. An empty Condition is an acknowledgment.
type ResponseFrame struct {
	ID              string
	Condition       jingle.Condition
	JingleCondition jingle.JingleCondition
	Text            string
}

// NewResponseFrame for a Response.
func NewResponseFrame(resp jingle.Response) *ResponseFrame {
	rf := &ResponseFrame{ID: resp.Request.ID}
	if resp.Error != nil {
		rf.Condition = resp.Error.Condition
		rf.JingleCondition = resp.Error.JingleCondition
		rf.Text = resp.Error.Text
	}
	return rf
}

// IsAck reports a positive acknowledgment.
func (rf *ResponseFrame) IsAck() bool {
	return rf.Condition == ""
}

// Error returns the carried ProtocolError, nil for an acknowledgment.
func (rf *ResponseFrame) Error() *jingle.ProtocolError {
	if rf.IsAck() {
		return nil
	}
	return &jingle.ProtocolError{Condition: rf.Condition, JingleCondition: rf.JingleCondition, Text: rf.Text}
}

func (rf *ResponseFrame) typeCode() uint64 {
	return responseFrameCode
}

func (rf *ResponseFrame) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(4, w); err != nil {
		return err
	}
	for _, s := range []string{rf.ID, string(rf.Condition), string(rf.JingleCondition), rf.Text} {
		if err := cboring.WriteTextString(s, w); err != nil {
			return err
		}
	}
	return nil
}

func (rf *ResponseFrame) UnmarshalCbor(r io.Reader) error {
	if n, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if n != 4 {
		return fmt.Errorf("expected response array of four elements, got %d", n)
	}

	var fields [4]string
	for i := range fields {
		s, err := cboring.ReadTextString(r)
		if err != nil {
			return err
		}
		fields[i] = s
	}

	rf.ID = fields[0]
	rf.Condition = jingle.Condition(fields[1])
	rf.JingleCondition = jingle.JingleCondition(fields[2])
	rf.Text = fields[3]
	return nil
}
